package attendance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"SAMS-backend/internal/platform/db"
)

// ===== しきい値設定 =====

// ShiftSettings は解決済み（グローバル既定値へのフォールバック適用後）のシフト設定。
type ShiftSettings struct {
	Name           string
	StartMinutes   int           // 0時からの分
	EndMinutes     int
	LateMinutes    int           // これを過ぎたら LATE（ちょうどは PRESENT）
	HalfDay        time.Duration // 実働がこれ未満なら HALF_DAY（ちょうどは該当しない）
	AbsentMinutes  int           // 自動欠席時に check_in に入れる時刻
}

type Settings struct {
	Shifts      map[string]ShiftSettings
	ShiftOrder  []string // 走査順は固定: shift1 → shift2
	WeekendDays map[time.Weekday]bool
	SchoolDays  map[time.Weekday]bool
	Grace       time.Duration
}

// SettingsFromConfig: YAML設定からしきい値を解決する。
// シフト個別値が無ければ attendance 直下のグローバル値へフォールバック。
func SettingsFromConfig(cfg db.AttendanceConfig) (Settings, error) {
	s := Settings{
		Shifts:      map[string]ShiftSettings{},
		ShiftOrder:  []string{Shift1, Shift2},
		WeekendDays: map[time.Weekday]bool{},
		SchoolDays:  map[time.Weekday]bool{},
		Grace:       time.Duration(cfg.GraceMinutes) * time.Minute,
	}
	for _, d := range cfg.WeekendDays {
		if d < 0 || d > 6 {
			return Settings{}, fmt.Errorf("invalid weekend day %d", d)
		}
		s.WeekendDays[time.Weekday(d)] = true
	}
	for _, d := range cfg.SchoolDays {
		if d < 0 || d > 6 {
			return Settings{}, fmt.Errorf("invalid school day %d", d)
		}
		s.SchoolDays[time.Weekday(d)] = true
	}

	for _, name := range s.ShiftOrder {
		sc := cfg.Shifts[name]
		late := sc.LateThreshold
		if late == "" {
			late = cfg.LateThreshold
		}
		half := sc.HalfDayHours
		if half <= 0 {
			half = cfg.HalfDayHours
		}
		absent := sc.AbsentMarkTime
		if absent == "" {
			absent = cfg.AbsentMarkTime
		}

		start, err := parseClock(sc.Start)
		if err != nil {
			return Settings{}, fmt.Errorf("shift %s start: %w", name, err)
		}
		end, err := parseClock(sc.End)
		if err != nil {
			return Settings{}, fmt.Errorf("shift %s end: %w", name, err)
		}
		lateM, err := parseClock(late)
		if err != nil {
			return Settings{}, fmt.Errorf("shift %s late_threshold: %w", name, err)
		}
		absentM, err := parseClock(absent)
		if err != nil {
			return Settings{}, fmt.Errorf("shift %s absent_mark_time: %w", name, err)
		}

		s.Shifts[name] = ShiftSettings{
			Name:          name,
			StartMinutes:  start,
			EndMinutes:    end,
			LateMinutes:   lateM,
			HalfDay:       time.Duration(half * float64(time.Hour)),
			AbsentMinutes: absentM,
		}
	}
	return s, nil
}

// "HH:MM" → 0時からの分
func parseClock(v string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(v), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock value %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value %q", v)
	}
	return h*60 + m, nil
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// IsSchoolDay: 授業日集合に入っていて、かつ週末集合に入っていない曜日。
func (s Settings) IsSchoolDay(w time.Weekday) bool {
	return s.SchoolDays[w] && !s.WeekendDays[w]
}

// ===== Status Classifier =====

// checkIn時: 遅刻しきい値ちょうどは PRESENT、1分でも過ぎたら LATE。
func classifyCheckIn(sh ShiftSettings, grace time.Duration, at time.Time) string {
	threshold := sh.LateMinutes + int(grace/time.Minute)
	if minutesOfDay(at) > threshold {
		return StatusLate
	}
	return StatusPresent
}

// checkOut時: 既存のcheckInと新しいcheckOutから実働を再計算する。
// 実働がしきい値ちょうどなら HALF_DAY ではない。LATEフラグは持ち越して合成する。
func classifyCheckOut(prevStatus string, checkIn, checkOut time.Time, sh ShiftSettings) string {
	working := checkOut.Sub(checkIn)
	halfDay := working < sh.HalfDay
	late := strings.HasPrefix(prevStatus, StatusLate)

	switch {
	case late && halfDay:
		return StatusLateHalfDay
	case halfDay:
		return StatusHalfDay
	case late:
		return StatusLate
	default:
		// どちらのしきい値にも掛からなければ PRESENT に戻す
		return StatusPresent
	}
}
