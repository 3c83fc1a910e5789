package audit

import (
	"context"
	"database/sql"
	"time"

	"SAMS-backend/internal/platform/db"
)

type Store struct{ db db.DBTX }

func NewStore(d db.DBTX) *Store { return &Store{db: d} }

// ===== audit_log（追記専用。UPDATE/DELETE は書かない） =====

func (s *Store) Insert(ctx context.Context, e Entry, details string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO audit_log (operation_type, subject_id, performed_by, service_name, details, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		e.OperationType, e.SubjectID, e.PerformedBy, e.ServiceName, details, at.UTC())
	return err
}

type LogFilter struct {
	OperationType string
	SubjectID     string
	ServiceName   string
	Limit         int
	Offset        int
}

func (s *Store) List(ctx context.Context, f LogFilter) ([]LogRow, error) {
	q := `
	SELECT audit_id, operation_type, subject_id, performed_by, service_name, details, created_at
	FROM audit_log`
	var wheres []string
	var args []any
	if f.OperationType != "" {
		wheres = append(wheres, "operation_type = ?")
		args = append(args, f.OperationType)
	}
	if f.SubjectID != "" {
		wheres = append(wheres, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.ServiceName != "" {
		wheres = append(wheres, "service_name = ?")
		args = append(args, f.ServiceName)
	}
	for i, w := range wheres {
		if i == 0 {
			q += " WHERE " + w
		} else {
			q += " AND " + w
		}
	}
	q += " ORDER BY audit_id DESC LIMIT ? OFFSET ?"
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogRow
	for rows.Next() {
		var r LogRow
		if err := rows.Scan(&r.AuditID, &r.OperationType, &r.SubjectID, &r.PerformedBy, &r.ServiceName, &r.Details, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ===== backup_snapshots / backup_items =====

func (s *Store) InsertSnapshot(ctx context.Context, tx db.DBTX, snap Snapshot) (uint64, error) {
	res, err := tx.ExecContext(ctx, `
	INSERT INTO backup_snapshots (snapshot_ulid, name, record_count, size_bytes, include_ledger, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		snap.SnapshotULID, snap.Name, snap.RecordCount, snap.SizeBytes, boolToInt(snap.IncludeLedger), snap.CreatedAt.UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

func (s *Store) InsertSnapshotItem(ctx context.Context, tx db.DBTX, snapshotID uint64, it SnapshotItem) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO backup_items (snapshot_id, item_type, payload) VALUES (?, ?, ?)`,
		snapshotID, it.ItemType, it.Payload)
	return err
}

func (s *Store) GetSnapshot(ctx context.Context, snapshotID uint64) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT snapshot_id, snapshot_ulid, name, record_count, size_bytes, include_ledger, created_at
	FROM backup_snapshots WHERE snapshot_id = ?`, snapshotID)
	var snap Snapshot
	var ledger int
	err := row.Scan(&snap.SnapshotID, &snap.SnapshotULID, &snap.Name, &snap.RecordCount, &snap.SizeBytes, &ledger, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.IncludeLedger = ledger != 0
	return &snap, nil
}

func (s *Store) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT snapshot_id, snapshot_ulid, name, record_count, size_bytes, include_ledger, created_at
	FROM backup_snapshots ORDER BY snapshot_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var ledger int
		if err := rows.Scan(&snap.SnapshotID, &snap.SnapshotULID, &snap.Name, &snap.RecordCount, &snap.SizeBytes, &ledger, &snap.CreatedAt); err != nil {
			return nil, err
		}
		snap.IncludeLedger = ledger != 0
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) ListSnapshotItems(ctx context.Context, tx db.DBTX, snapshotID uint64) ([]SnapshotItem, error) {
	rows, err := tx.QueryContext(ctx, `
	SELECT item_type, payload FROM backup_items WHERE snapshot_id = ? ORDER BY item_id ASC`, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotItem
	for rows.Next() {
		var it SnapshotItem
		if err := rows.Scan(&it.ItemType, &it.Payload); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// DeleteSnapshot: 操作者の明示操作のみが呼ぶ。
func (s *Store) DeleteSnapshot(ctx context.Context, tx db.DBTX, snapshotID uint64) (int64, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_items WHERE snapshot_id = ?`, snapshotID); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM backup_snapshots WHERE snapshot_id = ?`, snapshotID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// 古い世代の剪定（定期バックアップ有効時のみスケジューラが呼ぶ）
func (s *Store) ListSnapshotIDsBeyond(ctx context.Context, keep int) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT snapshot_id FROM backup_snapshots ORDER BY snapshot_id DESC LIMIT 1000 OFFSET ?`, keep)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
