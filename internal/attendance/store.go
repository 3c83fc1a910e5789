package attendance

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SAMS-backend/internal/platform/db"
)

type Store struct{ db db.DBTX }

func NewStore(d db.DBTX) *Store { return &Store{db: d} }

const recordColumns = `record_id, person_id, person_role, cal_year, cal_month, cal_day, shift,
	check_in, check_out, status, notes, updated_at`

func scanRecord(row interface{ Scan(dest ...any) error }) (Record, error) {
	var r recordRow
	err := row.Scan(&r.RecordID, &r.PersonID, &r.PersonRole, &r.CalYear, &r.CalMonth, &r.CalDay,
		&r.Shift, &r.CheckIn, &r.CheckOut, &r.Status, &r.Notes, &r.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	return r.toModel(), nil
}

// Get: キー一致の1行。無ければ (nil, nil)
func (s *Store) Get(ctx context.Context, k Key) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT `+recordColumns+`
	FROM attendance_records
	WHERE person_id = ? AND person_role = ? AND cal_year = ? AND cal_month = ? AND cal_day = ? AND shift = ?
	LIMIT 1`, k.PersonID, k.PersonRole, k.CalYear, k.CalMonth, k.CalDay, k.Shift)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetDay: その日の全シフト分（"both" のシフト選択が読む）
func (s *Store) GetDay(ctx context.Context, personID, personRole string, calYear, calMonth, calDay int) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+recordColumns+`
	FROM attendance_records
	WHERE person_id = ? AND person_role = ? AND cal_year = ? AND cal_month = ? AND cal_day = ?`,
		personID, personRole, calYear, calMonth, calDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[r.Shift] = r
	}
	return out, rows.Err()
}

// ApplyEvent: 状態遷移を1文のアトミックUPSERTで適用する。
//   - 新規: check_in = イベント時刻、checkInStatus（RowsAffected = 1）
//   - 既存でcheck_out未確定: check_out = イベント時刻、statusは実働から再計算（RowsAffected = 2）
//   - 終端（両方確定）: 何も変えない（RowsAffected = 0）
//
// SETの評価は左から右なので、status と updated_at は check_out 書き換えより前に置く。
// 同一イベントの再送は終端到達後は安全な no-op になる。
func (s *Store) ApplyEvent(ctx context.Context, k Key, at time.Time, checkInStatus string, halfDaySeconds int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO attendance_records
	(person_id, person_role, cal_year, cal_month, cal_day, shift, check_in, check_out, status, notes, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, NULL, UTC_TIMESTAMP(6))
	ON DUPLICATE KEY UPDATE
	status = IF(check_out IS NOT NULL, status,
		IF(TIMESTAMPDIFF(SECOND, check_in, VALUES(check_in)) < ?,
			IF(status LIKE 'LATE%', 'LATE+HALF_DAY', 'HALF_DAY'),
			IF(status LIKE 'LATE%', 'LATE', 'PRESENT'))),
	updated_at = IF(check_out IS NULL, UTC_TIMESTAMP(6), updated_at),
	check_out  = IF(check_out IS NULL, VALUES(check_in), check_out)`,
		k.PersonID, k.PersonRole, k.CalYear, k.CalMonth, k.CalDay, k.Shift,
		at.UTC(), checkInStatus, halfDaySeconds)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertAbsent: 自動欠席の埋め草。既存行は絶対に上書きしない（INSERT IGNORE）。
func (s *Store) InsertAbsent(ctx context.Context, k Key, markAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT IGNORE INTO attendance_records
	(person_id, person_role, cal_year, cal_month, cal_day, shift, check_in, check_out, status, notes, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 'ABSENT', 'auto-marked', UTC_TIMESTAMP(6))`,
		k.PersonID, k.PersonRole, k.CalYear, k.CalMonth, k.CalDay, k.Shift, markAt.UTC())
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

// List: 条件に応じて動的WHERE + ORDER + LIMIT/OFFSET
func (s *Store) List(ctx context.Context, q ListQuery) ([]Record, int64, error) {
	var (
		buf    bytes.Buffer
		args   []any
		wheres []string
	)

	buf.WriteString(`
	SELECT ` + recordColumns + `
	FROM attendance_records
	`)
	if q.PersonID != nil && *q.PersonID != "" {
		wheres = append(wheres, "person_id = ?")
		args = append(args, *q.PersonID)
	}
	if q.PersonRole != nil && *q.PersonRole != "" {
		wheres = append(wheres, "person_role = ?")
		args = append(args, *q.PersonRole)
	}
	if q.CalYear != nil {
		wheres = append(wheres, "cal_year = ?")
		args = append(args, *q.CalYear)
	}
	if q.CalMonth != nil {
		wheres = append(wheres, "cal_month = ?")
		args = append(args, *q.CalMonth)
	}
	if q.CalDay != nil {
		wheres = append(wheres, "cal_day = ?")
		args = append(args, *q.CalDay)
	}
	if q.Status != nil && *q.Status != "" {
		wheres = append(wheres, "status = ?")
		args = append(args, *q.Status)
	}
	if len(wheres) > 0 {
		buf.WriteString(" WHERE " + strings.Join(wheres, " AND "))
	}

	switch q.Sort {
	case SortDateAsc:
		buf.WriteString(" ORDER BY cal_year ASC, cal_month ASC, cal_day ASC, shift ASC, record_id ASC")
	default:
		buf.WriteString(" ORDER BY cal_year DESC, cal_month DESC, cal_day DESC, shift ASC, record_id DESC")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	buf.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, q.Offset))

	rows, err := s.db.QueryContext(ctx, buf.String(), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// COUNT（ORDER BY より前までを再構築）
	var cntBuf bytes.Buffer
	cntBuf.WriteString("SELECT COUNT(*) FROM attendance_records")
	if len(wheres) > 0 {
		cntBuf.WriteString(" WHERE " + strings.Join(wheres, " AND "))
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, cntBuf.String(), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Summary: ステータス別件数（月次）
func (s *Store) Summary(ctx context.Context, personID, personRole string, calYear, calMonth int) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT status, COUNT(*) AS cnt
	FROM attendance_records
	WHERE person_id = ? AND person_role = ? AND cal_year = ? AND cal_month = ?
	GROUP BY status`, personID, personRole, calYear, calMonth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

// DeleteByID: 同期経路からは絶対に呼ばない。操作者の明示削除専用。
func (s *Store) DeleteByID(ctx context.Context, recordID uint64) (*Record, int64, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT `+recordColumns+`
	FROM attendance_records WHERE record_id = ?`, recordID)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE record_id = ?`, recordID)
	if err != nil {
		return nil, 0, err
	}
	n, err := res.RowsAffected()
	return &r, n, err
}
