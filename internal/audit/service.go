package audit

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"SAMS-backend/internal/platform/db"
)

// ===== Error model (attendance と同型) =====

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

// Recorder: 各サービスが監査ログを積むための最小窓口。
// 失敗しても業務処理は止めない（ログ+カウント）。
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ===== Service本体 =====

type Service struct {
	db      *sql.DB
	store   *Store
	clock   Clock
	id      IDGen
	dropped atomic.Int64 // 書き込めなかった監査エントリ数
}

func NewService(d *sql.DB) *Service {
	return &Service{db: d, store: NewStore(d), clock: realClock{}, id: ulidGen{}}
}

func (s *Service) Record(ctx context.Context, e Entry) {
	details := "{}"
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			details = fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
		} else {
			details = string(b)
		}
	}
	if e.PerformedBy == "" {
		e.PerformedBy = "system"
	}
	if err := s.store.Insert(ctx, e, details, s.clock.Now()); err != nil {
		s.dropped.Add(1)
		log.Printf("[ERROR] audit: append failed (op=%s subject=%s): %v", e.OperationType, e.SubjectID, err)
	}
}

func (s *Service) DroppedCount() int64 { return s.dropped.Load() }

func (s *Service) ListLog(ctx context.Context, f LogFilter) ([]LogRow, error) {
	rows, err := s.store.List(ctx, f)
	if err != nil {
		return nil, ErrInternal("failed to list audit log")
	}
	return rows, nil
}

// ===== Backup =====

type RestoreSummary struct {
	SnapshotID uint64 `json:"snapshot_id"`
	Restored   int    `json:"restored"`
	Skipped    int    `json:"skipped"` // overwrite=false で既存行があった分
	Overwrite  bool   `json:"overwrite"`
}

// CreateBackup: identity_mappings（と任意で出退勤台帳）を1スナップショットへ直列化する。
func (s *Service) CreateBackup(ctx context.Context, name string, includeLedger bool, actor string) (*Snapshot, error) {
	if name == "" {
		id, err := s.id.New()
		if err != nil {
			return nil, ErrInternal("failed to generate snapshot id")
		}
		name = "snapshot-" + id
	}
	su, err := s.id.New()
	if err != nil {
		return nil, ErrInternal("failed to generate snapshot id")
	}

	var snap Snapshot
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		items, err := s.dumpItems(ctx, tx, includeLedger)
		if err != nil {
			return err
		}
		var size int64
		for _, it := range items {
			size += int64(len(it.Payload))
		}
		snap = Snapshot{
			SnapshotULID:  su,
			Name:          name,
			RecordCount:   int64(len(items)),
			SizeBytes:     size,
			IncludeLedger: includeLedger,
			CreatedAt:     s.clock.Now().UTC(),
		}
		id, err := s.store.InsertSnapshot(ctx, tx, snap)
		if err != nil {
			return err
		}
		snap.SnapshotID = id
		for _, it := range items {
			if err := s.store.InsertSnapshotItem(ctx, tx, id, it); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, ErrInternal("backup failed: " + err.Error())
	}

	s.Record(ctx, Entry{
		OperationType: OpBackupCreated,
		SubjectID:     snap.SnapshotULID,
		PerformedBy:   actor,
		ServiceName:   "audit",
		Details:       snap,
	})
	return &snap, nil
}

func (s *Service) dumpItems(ctx context.Context, tx db.DBTX, includeLedger bool) ([]SnapshotItem, error) {
	var items []SnapshotItem

	rows, err := tx.QueryContext(ctx, `
	SELECT device_id, person_id, person_role, registered_at
	FROM identity_mappings ORDER BY mapping_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p MappingPayload
		if err := rows.Scan(&p.DeviceID, &p.PersonID, &p.PersonRole, &p.RegisteredAt); err != nil {
			return nil, err
		}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		items = append(items, SnapshotItem{ItemType: "mapping", Payload: string(b)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !includeLedger {
		return items, nil
	}

	lrows, err := tx.QueryContext(ctx, `
	SELECT person_id, person_role, cal_year, cal_month, cal_day, shift,
	       check_in, check_out, status, notes
	FROM attendance_records ORDER BY record_id ASC`)
	if err != nil {
		return nil, err
	}
	defer lrows.Close()
	for lrows.Next() {
		var p attendancePayload
		if err := lrows.Scan(&p.PersonID, &p.PersonRole, &p.CalYear, &p.CalMonth, &p.CalDay,
			&p.Shift, &p.CheckIn, &p.CheckOut, &p.Status, &p.Notes); err != nil {
			return nil, err
		}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		items = append(items, SnapshotItem{ItemType: "attendance", Payload: string(b)})
	}
	return items, lrows.Err()
}

type attendancePayload struct {
	PersonID   string     `json:"person_id"`
	PersonRole string     `json:"person_role"`
	CalYear    int        `json:"cal_year"`
	CalMonth   int        `json:"cal_month"`
	CalDay     int        `json:"cal_day"`
	Shift      string     `json:"shift"`
	CheckIn    *time.Time `json:"check_in"`
	CheckOut   *time.Time `json:"check_out"`
	Status     string     `json:"status"`
	Notes      *string    `json:"notes"`
}

// Restore: スナップショットを単一トランザクションで巻き戻す。
// overwrite=false（既定）では既存行を上書きしない。
func (s *Service) Restore(ctx context.Context, snapshotID uint64, overwrite bool, actor string) (*RestoreSummary, error) {
	snap, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, ErrInternal("failed to load snapshot")
	}
	if snap == nil {
		return nil, ErrNotFound("snapshot not found")
	}

	sum := &RestoreSummary{SnapshotID: snapshotID, Overwrite: overwrite}
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		items, err := s.store.ListSnapshotItems(ctx, tx, snapshotID)
		if err != nil {
			return err
		}
		for _, it := range items {
			var n int64
			switch it.ItemType {
			case "mapping":
				n, err = restoreMapping(ctx, tx, it.Payload, overwrite)
			case "attendance":
				n, err = restoreAttendance(ctx, tx, it.Payload, overwrite)
			default:
				err = fmt.Errorf("unknown item type %q", it.ItemType)
			}
			if err != nil {
				return err // 全量ロールバック
			}
			if n > 0 {
				sum.Restored++
			} else {
				sum.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return nil, ErrInternal("restore failed: " + err.Error())
	}

	s.Record(ctx, Entry{
		OperationType: OpBackupRestored,
		SubjectID:     snap.SnapshotULID,
		PerformedBy:   actor,
		ServiceName:   "audit",
		Details:       sum,
	})
	return sum, nil
}

func restoreMapping(ctx context.Context, tx db.DBTX, payload string, overwrite bool) (int64, error) {
	var p MappingPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return 0, err
	}
	q := `INSERT IGNORE INTO identity_mappings (device_id, person_id, person_role, registered_at) VALUES (?, ?, ?, ?)`
	if overwrite {
		q = `REPLACE INTO identity_mappings (device_id, person_id, person_role, registered_at) VALUES (?, ?, ?, ?)`
	}
	res, err := tx.ExecContext(ctx, q, p.DeviceID, p.PersonID, p.PersonRole, p.RegisteredAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func restoreAttendance(ctx context.Context, tx db.DBTX, payload string, overwrite bool) (int64, error) {
	var p attendancePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return 0, err
	}
	q := `INSERT IGNORE INTO attendance_records
	(person_id, person_role, cal_year, cal_month, cal_day, shift, check_in, check_out, status, notes, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, UTC_TIMESTAMP(6))`
	if overwrite {
		q = `REPLACE INTO attendance_records
	(person_id, person_role, cal_year, cal_month, cal_day, shift, check_in, check_out, status, notes, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, UTC_TIMESTAMP(6))`
	}
	res, err := tx.ExecContext(ctx, q, p.PersonID, p.PersonRole, p.CalYear, p.CalMonth, p.CalDay,
		p.Shift, p.CheckIn, p.CheckOut, p.Status, p.Notes)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Service) ListBackups(ctx context.Context) ([]Snapshot, error) {
	snaps, err := s.store.ListSnapshots(ctx)
	if err != nil {
		return nil, ErrInternal("failed to list snapshots")
	}
	return snaps, nil
}

// Export: スナップショット本体（メタ+全行）を返す。ダウンロード用。
// メタと行の読み取りは読み取り専用Txで一貫させる。
func (s *Service) Export(ctx context.Context, snapshotID uint64) (*Snapshot, []SnapshotItem, error) {
	snap, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, nil, ErrInternal("failed to load snapshot")
	}
	if snap == nil {
		return nil, nil, ErrNotFound("snapshot not found")
	}
	var items []SnapshotItem
	err = db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		items, err = s.store.ListSnapshotItems(ctx, tx, snapshotID)
		return err
	})
	if err != nil {
		return nil, nil, ErrInternal("failed to load snapshot items")
	}
	return snap, items, nil
}

// DeleteBackup: 明示的な操作者アクション専用。
func (s *Service) DeleteBackup(ctx context.Context, snapshotID uint64, actor string) error {
	snap, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return ErrInternal("failed to load snapshot")
	}
	if snap == nil {
		return ErrNotFound("snapshot not found")
	}
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		_, err := s.store.DeleteSnapshot(ctx, tx, snapshotID)
		return err
	})
	if err != nil {
		return ErrInternal("delete failed")
	}
	s.Record(ctx, Entry{
		OperationType: OpBackupDeleted,
		SubjectID:     snap.SnapshotULID,
		PerformedBy:   actor,
		ServiceName:   "audit",
	})
	return nil
}

// PruneSnapshots: 定期バックアップの世代管理（スケジューラ専用）。
func (s *Service) PruneSnapshots(ctx context.Context, keep int) (int, error) {
	ids, err := s.store.ListSnapshotIDsBeyond(ctx, keep)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, id := range ids {
		if err := s.DeleteBackup(ctx, id, "system"); err != nil {
			log.Printf("[WARN] audit: prune snapshot %d failed: %v", id, err)
			continue
		}
		pruned++
	}
	return pruned, nil
}
