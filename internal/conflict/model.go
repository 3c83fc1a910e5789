package conflict

import (
	"encoding/json"
	"time"
)

const (
	TypeDuplicateMachineID = "duplicate_machine_id"
	TypeDuplicatePerson    = "duplicate_person"

	StrategyKeepFirst = "keep_first"
	StrategyKeepLast  = "keep_last"
	StrategyMerge     = "merge"
	StrategyManual    = "manual"
)

func validStrategy(s string) bool {
	switch s {
	case StrategyKeepFirst, StrategyKeepLast, StrategyMerge, StrategyManual:
		return true
	}
	return false
}

// Record は conflict_records の1行。subject_key は種別ごとのグループキー
// （duplicate_machine_id なら device_id、duplicate_person なら "role/person_id"）。
type Record struct {
	ConflictID         uint64          `json:"conflict_id"`
	ConflictType       string          `json:"conflict_type"`
	SubjectKey         string          `json:"subject_key"`
	Evidence           json.RawMessage `json:"evidence"`
	Resolved           bool            `json:"resolved"`
	ResolutionStrategy *string         `json:"resolution_strategy,omitempty"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy         *string         `json:"resolved_by,omitempty"`
	DetectedAt         time.Time       `json:"detected_at"`
}

// evidenceEntry は検出時点のマッピング行のスナップショット。
type evidenceEntry struct {
	MappingID    uint64    `json:"mapping_id"`
	DeviceID     string    `json:"device_id"`
	PersonID     string    `json:"person_id"`
	PersonRole   string    `json:"person_role"`
	RegisteredAt time.Time `json:"registered_at"`
}

// DetectSummary は1回の検出パスの結果。
type DetectSummary struct {
	Groups      int `json:"groups"`
	Opened      int `json:"opened"`
	AlreadyOpen int `json:"already_open"`
}
