package conflict

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"SAMS-backend/internal/audit"
	"SAMS-backend/internal/identity"
)

// ===== Error model =====

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

type ConflictStore interface {
	GetByID(ctx context.Context, conflictID uint64) (*Record, error)
	GetOpen(ctx context.Context, conflictType, subjectKey string) (*Record, error)
	Insert(ctx context.Context, conflictType, subjectKey string, evidence json.RawMessage, now time.Time) (uint64, error)
	MarkResolved(ctx context.Context, conflictID uint64, strategy, actor string, now time.Time) (int64, error)
	List(ctx context.Context, onlyOpen bool, limit, offset int) ([]Record, error)
}

type MappingSource interface {
	ListMappings(ctx context.Context) ([]identity.Mapping, error)
	GetByDeviceID(ctx context.Context, deviceID string) ([]identity.Mapping, error)
	DeleteMappingByID(ctx context.Context, mappingID uint64) (int64, error)
}

type BufferSource interface {
	LastSeenAt(ctx context.Context, deviceID string) (*time.Time, error)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ===== Service =====

type Service struct {
	store    ConflictStore
	mappings MappingSource
	buffer   BufferSource
	audit    audit.Recorder
	clock    Clock
}

func NewService(d *sql.DB, rec audit.Recorder) *Service {
	ist := identity.NewStore(d)
	return &Service{
		store:    NewStore(d),
		mappings: ist,
		buffer:   ist,
		audit:    rec,
		clock:    realClock{},
	}
}

func personKey(m identity.Mapping) string {
	return m.PersonRole + "/" + m.PersonID
}

// DetectAll: 全マッピングを走査して重複グループを未解決レコード化する。
// 同じ対象に未解決レコードが既にある間は新規に積まない（insert-once）。
// メンテナンスサイクル（リース下）と管理APIの双方から呼ばれる。
func (s *Service) DetectAll(ctx context.Context) (DetectSummary, error) {
	all, err := s.mappings.ListMappings(ctx)
	if err != nil {
		return DetectSummary{}, ErrInternal("mapping scan failed")
	}

	byDevice := map[string][]identity.Mapping{}
	byPerson := map[string][]identity.Mapping{}
	for _, m := range all {
		byDevice[m.DeviceID] = append(byDevice[m.DeviceID], m)
		byPerson[personKey(m)] = append(byPerson[personKey(m)], m)
	}

	var sum DetectSummary
	if err := s.openGroups(ctx, TypeDuplicateMachineID, byDevice, &sum); err != nil {
		return sum, err
	}
	if err := s.openGroups(ctx, TypeDuplicatePerson, byPerson, &sum); err != nil {
		return sum, err
	}
	return sum, nil
}

func (s *Service) openGroups(ctx context.Context, conflictType string, groups map[string][]identity.Mapping, sum *DetectSummary) error {
	// map走査順は不定なのでキーを揃えて決定的にする
	keys := make([]string, 0, len(groups))
	for k, ms := range groups {
		if len(ms) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		sum.Groups++
		open, err := s.store.GetOpen(ctx, conflictType, key)
		if err != nil {
			return ErrInternal("conflict lookup failed")
		}
		if open != nil {
			sum.AlreadyOpen++
			continue
		}

		evidence := make([]evidenceEntry, 0, len(groups[key]))
		for _, m := range groups[key] {
			evidence = append(evidence, evidenceEntry{
				MappingID:    m.MappingID,
				DeviceID:     m.DeviceID,
				PersonID:     m.PersonID,
				PersonRole:   m.PersonRole,
				RegisteredAt: m.RegisteredAt,
			})
		}
		raw, err := json.Marshal(evidence)
		if err != nil {
			return ErrInternal("evidence marshal failed")
		}

		id, err := s.store.Insert(ctx, conflictType, key, raw, s.clock.Now())
		if err != nil {
			return ErrInternal("conflict insert failed")
		}
		sum.Opened++

		s.audit.Record(ctx, audit.Entry{
			OperationType: audit.OpConflictDetected,
			SubjectID:     key,
			ServiceName:   "conflict",
			Details: map[string]any{
				"conflict_id":   id,
				"conflict_type": conflictType,
				"mappings":      len(groups[key]),
			},
		})
	}
	return nil
}

// Resolve は1レコードにつき厳密に1戦略を適用する。
//   - keep_first / keep_last: 登録順（mapping_id昇順）で最初/最後を残し他を削除
//   - merge: バッファの last_seen_at が最新の端末IDのマッピングを残す
//     （duplicate_person のみ。同一端末IDの重複では滞留情報が対象を区別できない）
//   - manual: マッピングは変更せず解決済みにするだけ（操作者が別途修正済みの前提）
func (s *Service) Resolve(ctx context.Context, conflictID uint64, strategy, actor string) (*Record, error) {
	if !validStrategy(strategy) {
		return nil, ErrInvalid("unknown strategy " + strategy)
	}
	rec, err := s.store.GetByID(ctx, conflictID)
	if err != nil {
		return nil, ErrInternal("conflict read failed")
	}
	if rec == nil {
		return nil, ErrNotFound("conflict not found")
	}
	if rec.Resolved {
		return nil, ErrConflict("conflict already resolved")
	}

	var kept, deleted []uint64
	if strategy != StrategyManual {
		kept, deleted, err = s.applyStrategy(ctx, rec, strategy)
		if err != nil {
			return nil, err
		}
	}

	n, err := s.store.MarkResolved(ctx, conflictID, strategy, actor, s.clock.Now())
	if err != nil {
		return nil, ErrInternal("conflict update failed")
	}
	if n == 0 {
		return nil, ErrConflict("conflict already resolved")
	}

	s.audit.Record(ctx, audit.Entry{
		OperationType: audit.OpConflictResolved,
		SubjectID:     rec.SubjectKey,
		PerformedBy:   actor,
		ServiceName:   "conflict",
		Details: map[string]any{
			"conflict_id":      conflictID,
			"conflict_type":    rec.ConflictType,
			"strategy":         strategy,
			"kept_mappings":    kept,
			"deleted_mappings": deleted,
		},
	})
	return s.store.GetByID(ctx, conflictID)
}

func (s *Service) applyStrategy(ctx context.Context, rec *Record, strategy string) (kept, deleted []uint64, err error) {
	group, err := s.currentGroup(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	if len(group) < 2 {
		// 検出後に手動で整理済み。消すものが無いのでそのまま解決扱い
		for _, m := range group {
			kept = append(kept, m.MappingID)
		}
		return kept, nil, nil
	}
	sort.Slice(group, func(i, j int) bool { return group[i].MappingID < group[j].MappingID })

	var keep identity.Mapping
	switch strategy {
	case StrategyKeepFirst:
		keep = group[0]
	case StrategyKeepLast:
		keep = group[len(group)-1]
	case StrategyMerge:
		keep, err = s.pickByLastSeen(ctx, rec, group)
		if err != nil {
			return nil, nil, err
		}
	}

	for _, m := range group {
		if m.MappingID == keep.MappingID {
			kept = append(kept, m.MappingID)
			continue
		}
		if _, err := s.mappings.DeleteMappingByID(ctx, m.MappingID); err != nil {
			return nil, nil, ErrInternal("mapping delete failed")
		}
		deleted = append(deleted, m.MappingID)
		s.audit.Record(ctx, audit.Entry{
			OperationType: audit.OpMappingDeleted,
			SubjectID:     m.DeviceID,
			ServiceName:   "conflict",
			Details:       m,
		})
	}
	return kept, deleted, nil
}

// currentGroup: evidence は検出時点のスナップショットなので、
// 解決時は必ず現在のマッピングを読み直す。
func (s *Service) currentGroup(ctx context.Context, rec *Record) ([]identity.Mapping, error) {
	if rec.ConflictType == TypeDuplicateMachineID {
		ms, err := s.mappings.GetByDeviceID(ctx, rec.SubjectKey)
		if err != nil {
			return nil, ErrInternal("mapping read failed")
		}
		return ms, nil
	}
	all, err := s.mappings.ListMappings(ctx)
	if err != nil {
		return nil, ErrInternal("mapping read failed")
	}
	var out []identity.Mapping
	for _, m := range all {
		if personKey(m) == rec.SubjectKey {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) pickByLastSeen(ctx context.Context, rec *Record, group []identity.Mapping) (identity.Mapping, error) {
	if rec.ConflictType != TypeDuplicatePerson {
		return identity.Mapping{}, ErrInvalid("merge strategy applies only to duplicate_person conflicts")
	}
	best := group[0]
	var bestSeen *time.Time
	for _, m := range group {
		seen, err := s.buffer.LastSeenAt(ctx, m.DeviceID)
		if err != nil {
			return identity.Mapping{}, ErrInternal("buffer read failed")
		}
		if seen == nil {
			continue
		}
		if bestSeen == nil || seen.After(*bestSeen) {
			best = m
			bestSeen = seen
		}
	}
	return best, nil
}

func (s *Service) List(ctx context.Context, onlyOpen bool, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	recs, err := s.store.List(ctx, onlyOpen, limit, offset)
	if err != nil {
		return nil, ErrInternal("conflict list failed")
	}
	return recs, nil
}
