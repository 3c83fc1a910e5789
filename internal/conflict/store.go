package conflict

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store { return &Store{db: db} }

func scanRecord(row interface{ Scan(dest ...any) error }) (Record, error) {
	var r Record
	var resolved int
	err := row.Scan(&r.ConflictID, &r.ConflictType, &r.SubjectKey, &r.Evidence,
		&resolved, &r.ResolutionStrategy, &r.ResolvedAt, &r.ResolvedBy, &r.DetectedAt)
	r.Resolved = resolved != 0
	return r, err
}

const recordCols = `conflict_id, conflict_type, subject_key, evidence, resolved,
resolution_strategy, resolved_at, resolved_by, detected_at`

func (s *Store) GetByID(ctx context.Context, conflictID uint64) (*Record, error) {
	q := `SELECT ` + recordCols + ` FROM conflict_records WHERE conflict_id = ?`
	r, err := scanRecord(s.db.QueryRowContext(ctx, q, conflictID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetOpen: 同じ対象の未解決レコードが既にあるか（insert-once保証に使う）。
func (s *Store) GetOpen(ctx context.Context, conflictType, subjectKey string) (*Record, error) {
	q := `SELECT ` + recordCols + `
FROM conflict_records WHERE conflict_type = ? AND subject_key = ? AND resolved = 0`
	r, err := scanRecord(s.db.QueryRowContext(ctx, q, conflictType, subjectKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) Insert(ctx context.Context, conflictType, subjectKey string, evidence json.RawMessage, now time.Time) (uint64, error) {
	const q = `
INSERT INTO conflict_records (conflict_type, subject_key, evidence, resolved, detected_at)
VALUES (?, ?, ?, 0, ?)`
	res, err := s.db.ExecContext(ctx, q, conflictType, subjectKey, evidence, now.UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// MarkResolved: 未解決の行だけを対象にする。二重解決は 0 行更新で弾かれる。
func (s *Store) MarkResolved(ctx context.Context, conflictID uint64, strategy, actor string, now time.Time) (int64, error) {
	const q = `
UPDATE conflict_records
SET resolved = 1, resolution_strategy = ?, resolved_at = ?, resolved_by = ?
WHERE conflict_id = ? AND resolved = 0`
	res, err := s.db.ExecContext(ctx, q, strategy, now.UTC(), actor, conflictID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) List(ctx context.Context, onlyOpen bool, limit, offset int) ([]Record, error) {
	q := `SELECT ` + recordCols + ` FROM conflict_records`
	if onlyOpen {
		q += ` WHERE resolved = 0`
	}
	q += ` ORDER BY detected_at DESC, conflict_id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
