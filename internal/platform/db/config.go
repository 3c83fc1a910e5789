package db

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

// シフト単位の設定。空欄は attendance 直下のグローバル既定値にフォールバックする。
type ShiftConfig struct {
	Start          string  `yaml:"start"`            // "08:00"
	End            string  `yaml:"end"`              // "12:00"
	LateThreshold  string  `yaml:"late_threshold"`   // "08:15"（これを過ぎたら LATE）
	HalfDayHours   float64 `yaml:"half_day_hours"`   // 実働がこれ未満なら HALF_DAY
	AbsentMarkTime string  `yaml:"absent_mark_time"` // 自動欠席付与時に check_in に入れる時刻
}

type AttendanceConfig struct {
	// 週の曜日番号（time.Weekday 準拠: 日曜=0）
	WeekendDays    []int                  `yaml:"weekend_days"`
	SchoolDays     []int                  `yaml:"school_days"`
	LateThreshold  string                 `yaml:"late_threshold"`
	HalfDayHours   float64                `yaml:"half_day_hours"`
	GraceMinutes   int                    `yaml:"grace_minutes"`
	AbsentMarkTime string                 `yaml:"absent_mark_time"`
	Shifts         map[string]ShiftConfig `yaml:"shifts"`
}

type SyncConfig struct {
	LockTTLSeconds           int `yaml:"lock_ttl_seconds"`
	ReconcileIntervalMinutes int `yaml:"reconcile_interval_minutes"`
	CleanupIntervalHours     int `yaml:"cleanup_interval_hours"`
	BufferRetentionDays      int `yaml:"buffer_retention_days"`
	BackupIntervalHours      int `yaml:"backup_interval_hours"` // 0 なら定期バックアップ無効
	SnapshotRetention        int `yaml:"snapshot_retention"`    // 残す世代数
}

type DeviceConfig struct {
	ListenAddr         string `yaml:"listen_addr"` // 端末プッシュ用TCP（空なら無効）
	ReadTimeoutSeconds int    `yaml:"read_timeout_seconds"`
}

type Config struct {
	Version     string           `yaml:"version"`
	Mode        string           `yaml:"mode"`
	DB          DatabaseConfig   `yaml:"database"`
	Certificate Certs            `yaml:"certificate"`
	Auth        AuthConfig       `yaml:"auth"`
	Attendance  AttendanceConfig `yaml:"attendance"`
	Sync        SyncConfig       `yaml:"sync"`
	Device      DeviceConfig     `yaml:"device"`
}

func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// 未指定項目の既定値。外部供給が無くても動く状態にしておく。
func (c *Config) applyDefaults() {
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 24
	}
	if len(c.Attendance.WeekendDays) == 0 {
		c.Attendance.WeekendDays = []int{0} // 日曜
	}
	if len(c.Attendance.SchoolDays) == 0 {
		c.Attendance.SchoolDays = []int{1, 2, 3, 4, 5, 6}
	}
	if c.Attendance.LateThreshold == "" {
		c.Attendance.LateThreshold = "08:15"
	}
	if c.Attendance.HalfDayHours <= 0 {
		c.Attendance.HalfDayHours = 4.0
	}
	if c.Attendance.AbsentMarkTime == "" {
		c.Attendance.AbsentMarkTime = "23:00"
	}
	if len(c.Attendance.Shifts) == 0 {
		c.Attendance.Shifts = map[string]ShiftConfig{
			"shift1": {Start: "08:00", End: "12:00"},
			"shift2": {Start: "13:00", End: "17:00"},
		}
	}
	if c.Sync.LockTTLSeconds <= 0 {
		c.Sync.LockTTLSeconds = 600
	}
	if c.Sync.ReconcileIntervalMinutes <= 0 {
		c.Sync.ReconcileIntervalMinutes = 60
	}
	if c.Sync.CleanupIntervalHours <= 0 {
		c.Sync.CleanupIntervalHours = 24
	}
	if c.Sync.BufferRetentionDays <= 0 {
		c.Sync.BufferRetentionDays = 90
	}
	if c.Sync.SnapshotRetention <= 0 {
		c.Sync.SnapshotRetention = 30
	}
	if c.Device.ReadTimeoutSeconds <= 0 {
		c.Device.ReadTimeoutSeconds = 5
	}
}
