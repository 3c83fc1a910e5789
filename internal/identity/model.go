package identity

import "time"

const (
	MappingStatusUnmapped = "unmapped"
	MappingStatusMapped   = "mapped"
)

// Mapping は identity_mappings の1行。device_id の一意性はスキーマでは強制しない：
// 重複はクラッシュではなく conflict として検出・解決する対象のため。
type Mapping struct {
	MappingID    uint64    `json:"mapping_id"`
	DeviceID     string    `json:"device_id"`
	PersonID     string    `json:"person_id"`
	PersonRole   string    `json:"person_role"` // staff | student
	RegisteredAt time.Time `json:"registered_at"`
}

// BufferedIdentity は未マッピング端末IDの滞留行。自動削除はしない。
type BufferedIdentity struct {
	BufferID         uint64    `json:"buffer_id"`
	DeviceID         string    `json:"device_id"`
	RawName          *string   `json:"raw_name,omitempty"`
	FirstSeenAt      time.Time `json:"first_seen_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	MappingStatus    string    `json:"mapping_status"` // unmapped | mapped
	MappedToPersonID *string   `json:"mapped_to_person_id,omitempty"`
}

// Resolution は Resolve の結果。Resolved=false はバッファ済みの番兵で、
// 出退勤ステートマシンを進めてはならない。
type Resolution struct {
	Resolved   bool
	DeviceID   string
	PersonID   string
	PersonRole string
}
