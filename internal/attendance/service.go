package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"SAMS-backend/internal/audit"
	"SAMS-backend/internal/directory"
	"SAMS-backend/internal/ethcal"
)

// ===== Error model (identity/conflict と同型) =====

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeConflict:
			return 409
		default:
			return 500
		}
	}
	return 500
}

// ===== インターフェース群 =====

type RecordStore interface {
	Get(ctx context.Context, k Key) (*Record, error)
	GetDay(ctx context.Context, personID, personRole string, calYear, calMonth, calDay int) (map[string]Record, error)
	ApplyEvent(ctx context.Context, k Key, at time.Time, checkInStatus string, halfDaySeconds int) (int64, error)
	InsertAbsent(ctx context.Context, k Key, markAt time.Time) (bool, error)
	List(ctx context.Context, q ListQuery) ([]Record, int64, error)
	Summary(ctx context.Context, personID, personRole string, calYear, calMonth int) (map[string]int64, error)
	DeleteByID(ctx context.Context, recordID uint64) (*Record, int64, error)
}

type PersonDirectory interface {
	GetByPersonID(ctx context.Context, personID, personRole string) (*directory.Person, error)
}

// ===== Service =====

type Service struct {
	store    RecordStore
	people   PersonDirectory
	audit    audit.Recorder
	settings Settings
}

func NewService(d *sql.DB, rec audit.Recorder, settings Settings) *Service {
	return &Service{
		store:    NewStore(d),
		people:   directory.NewStore(d),
		audit:    rec,
		settings: settings,
	}
}

// Apply: 解決済み打刻イベントをステートマシンに適用する。
// EMPTY → CHECKED_IN → CHECKED_OUT(終端)。終端後のイベントは no-op（ただし監査は残す）。
func (s *Service) Apply(ctx context.Context, ev ResolvedEvent) (ApplyResult, error) {
	if ev.PersonID == "" || ev.PersonRole == "" {
		return ApplyResult{}, ErrInvalid("person_id and person_role are required")
	}
	if ev.At.IsZero() {
		return ApplyResult{}, ErrInvalid("event time is required")
	}

	p, err := s.people.GetByPersonID(ctx, ev.PersonID, ev.PersonRole)
	if err != nil {
		return ApplyResult{}, ErrInternal("directory lookup failed")
	}
	if p == nil {
		return ApplyResult{}, ErrInvalid("mapped person not found in directory")
	}

	d := ethcal.ToLocal(ev.At)

	shift, err := s.shiftFor(ctx, *p, d)
	if err != nil {
		return ApplyResult{}, err
	}
	sh, ok := s.settings.Shifts[shift]
	if !ok {
		return ApplyResult{}, ErrInternal("no settings for shift " + shift)
	}

	k := Key{
		PersonID:   ev.PersonID,
		PersonRole: ev.PersonRole,
		CalYear:    d.Year,
		CalMonth:   d.Month,
		CalDay:     d.Day,
		Shift:      shift,
	}
	checkInStatus := classifyCheckIn(sh, s.settings.Grace, ev.At)

	aff, err := s.store.ApplyEvent(ctx, k, ev.At, checkInStatus, int(sh.HalfDay/time.Second))
	if err != nil {
		return ApplyResult{}, ErrInternal("ledger write failed")
	}

	var outcome string
	switch aff {
	case 1:
		outcome = OutcomeCheckedIn
	case 2:
		outcome = OutcomeCheckedOut
	default:
		outcome = OutcomeSkippedTerminal
	}

	// 確定行を読み直してステータスを返す
	rec, err := s.store.Get(ctx, k)
	if err != nil || rec == nil {
		return ApplyResult{}, ErrInternal("applied but record not found")
	}

	result := ApplyResult{
		Outcome:  outcome,
		CalYear:  d.Year,
		CalMonth: d.Month,
		CalDay:   d.Day,
		Shift:    shift,
		Status:   rec.Status,
	}

	op := audit.OpCheckIn
	switch outcome {
	case OutcomeCheckedOut:
		op = audit.OpCheckOut
	case OutcomeSkippedTerminal:
		op = audit.OpSkippedTerminal
	}
	s.audit.Record(ctx, audit.Entry{
		OperationType: op,
		SubjectID:     ev.PersonRole + "/" + ev.PersonID,
		ServiceName:   "attendance",
		Details: map[string]any{
			"date":           d.String(),
			"shift":          shift,
			"status":         rec.Status,
			"event_at":       ev.At.UTC(),
			"source":         ev.Source,
			"verify_mode":    ev.VerifyMode,
			"direction_hint": ev.DirectionHint, // 遷移には使わない。記録のみ
		},
	})
	return result, nil
}

// shiftFor: 担当シフトが1つならそれ。"both" は端末がシフトも方向も申告しないため、
// その日の既存レコードを固定順（shift1→shift2）で走査して推測する:
//  1. まだレコードが無い最初のシフト
//  2. なければ check_in のみ（未終端）の最初のシフト
//  3. 全て終端なら shift2（再送イベントを安全な no-op に落とすためのフォールバック）
//
// 変則的な打刻順では誤分類しうる既知の曖昧さ（端末仕様の限界）。
func (s *Service) shiftFor(ctx context.Context, p directory.Person, d ethcal.Date) (string, error) {
	shifts := p.AssignedShifts()
	if len(shifts) == 1 {
		return shifts[0], nil
	}

	existing, err := s.store.GetDay(ctx, p.PersonID, p.PersonRole, d.Year, d.Month, d.Day)
	if err != nil {
		return "", ErrInternal("ledger read failed")
	}
	return selectShift(existing, s.settings.ShiftOrder), nil
}

func selectShift(existing map[string]Record, order []string) string {
	for _, sh := range order {
		if _, ok := existing[sh]; !ok {
			return sh
		}
	}
	for _, sh := range order {
		if r := existing[sh]; !r.IsTerminal() {
			return sh
		}
	}
	return order[len(order)-1]
}

// MarkAbsent: 照合ジョブ用の欠席埋め草（既存行は一切上書きしない）。
// 戻り値は新規に挿入されたかどうか。
func (s *Service) MarkAbsent(ctx context.Context, personID, personRole string, d ethcal.Date, shift string) (bool, error) {
	sh, ok := s.settings.Shifts[shift]
	if !ok {
		return false, ErrInvalid("unknown shift " + shift)
	}
	g, err := ethcal.ToGregorian(d)
	if err != nil {
		return false, ErrInvalid(err.Error())
	}
	markAt := g.Add(time.Duration(sh.AbsentMinutes) * time.Minute)

	k := Key{
		PersonID:   personID,
		PersonRole: personRole,
		CalYear:    d.Year,
		CalMonth:   d.Month,
		CalDay:     d.Day,
		Shift:      shift,
	}
	inserted, err := s.store.InsertAbsent(ctx, k, markAt)
	if err != nil {
		return false, ErrInternal("absent insert failed")
	}
	return inserted, nil
}

// ===== 照会系 =====

func (s *Service) List(ctx context.Context, q ListQuery) ([]RecordResponse, int64, error) {
	if q.Sort == "" {
		q.Sort = DefaultSort
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}

	rows, total, err := s.store.List(ctx, q)
	if err != nil {
		return nil, 0, ErrInternal("failed to list attendance records")
	}
	out := make([]RecordResponse, 0, len(rows))
	for i := 0; i < len(rows); i++ {
		out = append(out, rows[i].toDTO())
	}
	return out, total, nil
}

func (s *Service) MonthlySummary(ctx context.Context, personID, personRole string, calYear, calMonth int) (*MonthlySummary, error) {
	if personID == "" || personRole == "" {
		return nil, ErrInvalid("person_id and person_role are required")
	}
	if calMonth < 1 || calMonth > ethcal.MonthsInYear {
		return nil, ErrInvalid("cal_month must be 1..13")
	}
	counts, err := s.store.Summary(ctx, personID, personRole, calYear, calMonth)
	if err != nil {
		return nil, ErrInternal("failed to build summary")
	}
	return &MonthlySummary{
		PersonID:   personID,
		PersonRole: personRole,
		CalYear:    calYear,
		CalMonth:   calMonth,
		Counts:     counts,
	}, nil
}

// DeleteRecord: 操作者の明示削除のみ。削除前の行を監査に残す。
func (s *Service) DeleteRecord(ctx context.Context, recordID uint64, actor string) error {
	rec, n, err := s.store.DeleteByID(ctx, recordID)
	if err != nil {
		return ErrInternal("delete failed")
	}
	if n == 0 {
		return ErrNotFound("record not found")
	}
	s.audit.Record(ctx, audit.Entry{
		OperationType: audit.OpRecordDeleted,
		SubjectID:     rec.PersonRole + "/" + rec.PersonID,
		PerformedBy:   actor,
		ServiceName:   "attendance",
		Details:       rec.toDTO(),
	})
	return nil
}
