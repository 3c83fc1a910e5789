package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SAMS-backend/internal/platform/db"
)

func testShift() ShiftSettings {
	return ShiftSettings{
		Name:          Shift1,
		StartMinutes:  8 * 60,
		EndMinutes:    12 * 60,
		LateMinutes:   8*60 + 15,
		HalfDay:       4 * time.Hour,
		AbsentMinutes: 23 * 60,
	}
}

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC)
}

func TestClassifyCheckIn(t *testing.T) {
	sh := testShift()

	tests := []struct {
		name  string
		at    time.Time
		grace time.Duration
		want  string
	}{
		{"well before threshold", at(8, 0), 0, StatusPresent},
		{"exactly at threshold", at(8, 15), 0, StatusPresent},
		{"one minute past threshold", at(8, 16), 0, StatusLate},
		{"far past threshold", at(10, 30), 0, StatusLate},
		{"grace extends threshold", at(8, 20), 5 * time.Minute, StatusPresent},
		{"past grace", at(8, 21), 5 * time.Minute, StatusLate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyCheckIn(sh, tt.grace, tt.at))
		})
	}
}

func TestClassifyCheckOut(t *testing.T) {
	sh := testShift()

	tests := []struct {
		name     string
		prev     string
		checkIn  time.Time
		checkOut time.Time
		want     string
	}{
		{"full day on time", StatusPresent, at(8, 0), at(12, 30), StatusPresent},
		{"exactly half-day threshold is not half-day", StatusPresent, at(8, 0), at(12, 0), StatusPresent},
		{"one minute short is half-day", StatusPresent, at(8, 0), at(11, 59), StatusHalfDay},
		{"on-time check-in then early leave", StatusPresent, at(8, 10), at(12, 0), StatusHalfDay},
		{"late carries through full day", StatusLate, at(8, 30), at(13, 0), StatusLate},
		{"late and short compound", StatusLate, at(8, 30), at(11, 0), StatusLateHalfDay},
		{"compound carries late prefix", StatusLateHalfDay, at(8, 30), at(11, 0), StatusLateHalfDay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyCheckOut(tt.prev, tt.checkIn, tt.checkOut, sh))
		})
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := db.AttendanceConfig{
		WeekendDays:    []int{0, 6},
		SchoolDays:     []int{1, 2, 3, 4, 5},
		LateThreshold:  "08:15",
		HalfDayHours:   4,
		GraceMinutes:   0,
		AbsentMarkTime: "23:00",
		Shifts: map[string]db.ShiftConfig{
			Shift1: {Start: "08:00", End: "12:00"},
			Shift2: {Start: "13:00", End: "17:00", LateThreshold: "13:10", HalfDayHours: 3.5},
		},
	}
	s, err := SettingsFromConfig(cfg)
	require.NoError(t, err)

	// グローバル値へのフォールバック
	assert.Equal(t, 8*60+15, s.Shifts[Shift1].LateMinutes)
	assert.Equal(t, 4*time.Hour, s.Shifts[Shift1].HalfDay)
	// シフト個別値の優先
	assert.Equal(t, 13*60+10, s.Shifts[Shift2].LateMinutes)
	assert.Equal(t, 3*time.Hour+30*time.Minute, s.Shifts[Shift2].HalfDay)

	assert.True(t, s.IsSchoolDay(time.Monday))
	assert.False(t, s.IsSchoolDay(time.Sunday))
	assert.Equal(t, []string{Shift1, Shift2}, s.ShiftOrder)
}

func TestSettingsFromConfigRejectsBadClock(t *testing.T) {
	cfg := db.AttendanceConfig{
		LateThreshold:  "08:15",
		HalfDayHours:   4,
		AbsentMarkTime: "23:00",
		Shifts: map[string]db.ShiftConfig{
			Shift1: {Start: "8am", End: "12:00"},
			Shift2: {Start: "13:00", End: "17:00"},
		},
	}
	_, err := SettingsFromConfig(cfg)
	require.Error(t, err)
}

func TestIsSchoolDayRequiresBothSets(t *testing.T) {
	s := Settings{
		WeekendDays: map[time.Weekday]bool{time.Saturday: true},
		SchoolDays:  map[time.Weekday]bool{time.Monday: true, time.Saturday: true},
	}
	// 週末集合が授業日集合より優先される
	assert.False(t, s.IsSchoolDay(time.Saturday))
	assert.True(t, s.IsSchoolDay(time.Monday))
	assert.False(t, s.IsSchoolDay(time.Sunday))
}
