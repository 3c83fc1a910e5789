package audit

import "time"

// 操作種別（追記専用ログのキー）。テキストログだけに残る判断を作らないこと。
const (
	OpIdentityResolved   = "identity_resolved"
	OpIdentityBuffered   = "identity_buffered"
	OpMappingCreated     = "mapping_created"
	OpMappingDeleted     = "mapping_deleted"
	OpBufferCleanup      = "buffer_cleanup"
	OpCheckIn            = "attendance_checkin"
	OpCheckOut           = "attendance_checkout"
	OpSkippedTerminal    = "attendance_skipped_terminal"
	OpRecordDeleted      = "attendance_deleted"
	OpReconcileSweep     = "reconcile_sweep"
	OpLockAcquired       = "lock_acquired"
	OpLockReleased       = "lock_released"
	OpConflictDetected   = "conflict_detected"
	OpConflictResolved   = "conflict_resolved"
	OpBackupCreated      = "backup_created"
	OpBackupRestored     = "backup_restored"
	OpBackupDeleted      = "backup_deleted"
)

type Entry struct {
	OperationType string
	SubjectID     string
	PerformedBy   string // 操作者（自動処理なら "system"）
	ServiceName   string
	Details       any // JSONスナップショットとして保存
}

type LogRow struct {
	AuditID       uint64    `json:"audit_id"`
	OperationType string    `json:"operation_type"`
	SubjectID     string    `json:"subject_id"`
	PerformedBy   string    `json:"performed_by"`
	ServiceName   string    `json:"service_name"`
	Details       string    `json:"details"`
	CreatedAt     time.Time `json:"created_at"`
}

type Snapshot struct {
	SnapshotID    uint64    `json:"snapshot_id"`
	SnapshotULID  string    `json:"snapshot_ulid"`
	Name          string    `json:"name"`
	RecordCount   int64     `json:"record_count"`
	SizeBytes     int64     `json:"size_bytes"`
	IncludeLedger bool      `json:"include_ledger"`
	CreatedAt     time.Time `json:"created_at"`
}

// スナップショット1行分のペイロード
type SnapshotItem struct {
	ItemType string `json:"item_type"` // mapping | attendance
	Payload  string `json:"payload"`   // 元行のJSON
}

type MappingPayload struct {
	DeviceID     string    `json:"device_id"`
	PersonID     string    `json:"person_id"`
	PersonRole   string    `json:"person_role"`
	RegisteredAt time.Time `json:"registered_at"`
}
