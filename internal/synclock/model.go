package synclock

import "time"

// よく使うロックキー。任意のキーも受け付ける。
const (
	KeyReconcile   = "reconcile"
	KeyMaintenance = "maintenance"
	KeyBackup      = "backup"
)

// Lock は sync_locks の1行。lock_key は UNIQUE で、
// 行の存在そのものがロック保持を意味する（リース方式）。
type Lock struct {
	LockKey     string    `json:"lock_key"`
	HolderToken string    `json:"holder_token"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (l Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

type Status struct {
	LockKey   string     `json:"lock_key"`
	Held      bool       `json:"held"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
