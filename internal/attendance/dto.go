package attendance

import "time"

const (
	StatusPresent     = "PRESENT"
	StatusLate        = "LATE"
	StatusHalfDay     = "HALF_DAY"
	StatusLateHalfDay = "LATE+HALF_DAY"
	StatusAbsent      = "ABSENT"

	Shift1 = "shift1"
	Shift2 = "shift2"

	SortDateDesc = "date_desc"
	SortDateAsc  = "date_asc"

	DefaultPageLimit = 50
	MaxPageLimit     = 200
	DefaultSort      = SortDateDesc
)

// 状態遷移の結果種別
const (
	OutcomeCheckedIn       = "checked_in"
	OutcomeCheckedOut      = "checked_out"
	OutcomeSkippedTerminal = "skipped_terminal"
)

// ResolvedEvent は Identity Resolver を通過済みの打刻イベント。
type ResolvedEvent struct {
	PersonID      string
	PersonRole    string
	At            time.Time
	Source        string // device-push | webhook | import | manual
	VerifyMode    string
	DirectionHint string // 端末の方向ヒント。監査に残すだけで遷移には使わない
}

type ApplyResult struct {
	Outcome  string `json:"outcome"`
	CalYear  int    `json:"cal_year"`
	CalMonth int    `json:"cal_month"`
	CalDay   int    `json:"cal_day"`
	Shift    string `json:"shift"`
	Status   string `json:"status"`
}

type RecordResponse struct {
	RecordID   uint64     `json:"record_id"`
	PersonID   string     `json:"person_id"`
	PersonRole string     `json:"person_role"`
	CalYear    int        `json:"cal_year"`
	CalMonth   int        `json:"cal_month"`
	CalDay     int        `json:"cal_day"`
	Shift      string     `json:"shift"`
	CheckIn    *time.Time `json:"check_in,omitempty"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
	Status     string     `json:"status"`
	Notes      *string    `json:"notes,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type ListQuery struct {
	PersonID   *string
	PersonRole *string
	CalYear    *int
	CalMonth   *int
	CalDay     *int
	Status     *string
	Limit      int
	Offset     int
	Sort       string
}

// 月次サマリ（台帳からの読み取り専用プロジェクション）
type MonthlySummary struct {
	PersonID   string           `json:"person_id"`
	PersonRole string           `json:"person_role"`
	CalYear    int              `json:"cal_year"`
	CalMonth   int              `json:"cal_month"`
	Counts     map[string]int64 `json:"counts"` // status -> 件数
}
