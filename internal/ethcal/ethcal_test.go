package ethcal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToLocal_KnownDates(t *testing.T) {
	tests := []struct {
		name      string
		gregorian time.Time
		want      Date
	}{
		{
			name:      "new year 2017",
			gregorian: time.Date(2024, 9, 11, 0, 0, 0, 0, time.UTC),
			want:      Date{Year: 2017, Month: 1, Day: 1, Weekday: time.Wednesday},
		},
		{
			name:      "last day of leap year (month 13, day 6)",
			gregorian: time.Date(2023, 9, 11, 0, 0, 0, 0, time.UTC),
			want:      Date{Year: 2015, Month: 13, Day: 6, Weekday: time.Monday},
		},
		{
			name:      "day after leap pagume",
			gregorian: time.Date(2023, 9, 12, 0, 0, 0, 0, time.UTC),
			want:      Date{Year: 2016, Month: 1, Day: 1, Weekday: time.Tuesday},
		},
		{
			name:      "time component is truncated",
			gregorian: time.Date(2024, 9, 11, 23, 59, 59, 0, time.UTC),
			want:      Date{Year: 2017, Month: 1, Day: 1, Weekday: time.Wednesday},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToLocal(tt.gregorian))
		})
	}
}

// 往復則: 有効な全ローカル日について ToLocal(ToGregorian(d)) == d
func TestRoundTrip(t *testing.T) {
	for year := 2010; year <= 2020; year++ {
		for month := 1; month <= MonthsInYear; month++ {
			for day := 1; day <= DaysInMonth(year, month); day++ {
				d, err := NewDate(year, month, day)
				require.NoError(t, err)
				g, err := ToGregorian(d)
				require.NoError(t, err)
				assert.Equal(t, d, ToLocal(g), "round trip for %s", d)
			}
		}
	}
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 30, DaysInMonth(2016, 1))
	assert.Equal(t, 30, DaysInMonth(2016, 12))
	assert.Equal(t, 5, DaysInMonth(2016, 13))
	assert.Equal(t, 6, DaysInMonth(2015, 13)) // 2015 % 4 == 3
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		year, month, day int
	}{
		{2016, 0, 1},
		{2016, 14, 1},
		{2016, 1, 0},
		{2016, 1, 31},
		{2016, 13, 6}, // 平年の13月は5日まで
		{0, 1, 1},
	}
	for _, tt := range tests {
		assert.Error(t, Validate(tt.year, tt.month, tt.day), "%d-%d-%d", tt.year, tt.month, tt.day)
	}
	assert.NoError(t, Validate(2015, 13, 6))
}

func TestNextDay_Boundaries(t *testing.T) {
	d, _ := NewDate(2016, 1, 30)
	assert.Equal(t, "2016-02-01", d.NextDay().String())

	d, _ = NewDate(2016, 13, 5) // 平年末
	assert.Equal(t, "2017-01-01", d.NextDay().String())

	d, _ = NewDate(2015, 13, 5) // 閏年は13月6日が存在する
	assert.Equal(t, "2015-13-06", d.NextDay().String())
}

func TestWeekOfMonth(t *testing.T) {
	assert.Equal(t, 1, WeekOfMonth(1))
	assert.Equal(t, 1, WeekOfMonth(7))
	assert.Equal(t, 2, WeekOfMonth(8))
	assert.Equal(t, 5, WeekOfMonth(30))
}

// 連続する日がグレゴリオ暦でも1日差になっていること（ずれ検知）
func TestContinuity(t *testing.T) {
	d := FirstOfYear(2015)
	g, err := ToGregorian(d)
	require.NoError(t, err)
	for i := 0; i < 800; i++ {
		next := d.NextDay()
		ng, err := ToGregorian(next)
		require.NoError(t, err)
		assert.Equal(t, g.AddDate(0, 0, 1), ng, "after %s", d)
		d, g = next, ng
	}
}
