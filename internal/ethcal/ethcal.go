// Package ethcal は13ヶ月ローカル暦（1〜12月は30日固定、13月は閏対応で5日または6日）の
// 純粋な日付計算を提供する。グレゴリオ暦との相互変換はユリウス通日(JDN)経由で行い、
// 曜日は必ずグレゴリオ暦に変換してから time.Weekday を読む（独自の剰余計算で曜日を
// 求めると年境界でずれるため）。
package ethcal

import (
	"fmt"
	"time"
)

const (
	// 紀元のJDNオフセット
	jdnOffset = 1723856
	// 1970-01-01 (グレゴリオ暦) のJDN
	unixEpochJDN = 2440588

	MonthsInYear = 13
)

type Date struct {
	Year    int
	Month   int // 1..13
	Day     int
	Weekday time.Weekday
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// 閏年: 4年周期の最終年（year % 4 == 3）。このとき13月が6日になる。
// 翌グレゴリオ年が閏年になる並びと一致する。
func IsLeapYear(year int) bool {
	return year%4 == 3
}

func DaysInMonth(year, month int) int {
	if month == 13 {
		if IsLeapYear(year) {
			return 6
		}
		return 5
	}
	return 30
}

// 第n週 = ceil(day / 7)
func WeekOfMonth(day int) int {
	return (day + 6) / 7
}

// 範囲外はエラー。丸めない。
func Validate(year, month, day int) error {
	if year < 1 {
		return fmt.Errorf("ethcal: invalid year %d", year)
	}
	if month < 1 || month > MonthsInYear {
		return fmt.Errorf("ethcal: invalid month %d", month)
	}
	if day < 1 || day > DaysInMonth(year, month) {
		return fmt.Errorf("ethcal: invalid day %d for %04d-%02d", day, year, month)
	}
	return nil
}

func toJDN(year, month, day int) int {
	return jdnOffset + 365 + 365*(year-1) + year/4 + 30*(month-1) + day - 1
}

// ToGregorian はローカル暦日をグレゴリオ暦（UTC 00:00）へ変換する。
func ToGregorian(d Date) (time.Time, error) {
	if err := Validate(d.Year, d.Month, d.Day); err != nil {
		return time.Time{}, err
	}
	days := toJDN(d.Year, d.Month, d.Day) - unixEpochJDN
	return time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days), nil
}

// ToLocal はグレゴリオ暦のタイムスタンプをローカル暦日へ変換する。
// 時刻成分は切り捨て、t 自身のロケーションでの暦日を使う。
func ToLocal(t time.Time) Date {
	g := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := int(g.Unix() / 86400)
	jdn := unixEpochJDN + days

	r := jdn - jdnOffset
	q := r / 1461
	rem := r % 1461
	year := 4*q + rem/365 - rem/1460
	n := rem%365 + 365*(rem/1460)
	return Date{
		Year:    year,
		Month:   n/30 + 1,
		Day:     n%30 + 1,
		Weekday: g.Weekday(),
	}
}

// NewDate は妥当性検証付きで Date を作る（曜日も補完する）。
func NewDate(year, month, day int) (Date, error) {
	if err := Validate(year, month, day); err != nil {
		return Date{}, err
	}
	d := Date{Year: year, Month: month, Day: day}
	g, _ := ToGregorian(d)
	d.Weekday = g.Weekday()
	return d, nil
}

func FirstOfYear(year int) Date {
	d, _ := NewDate(year, 1, 1)
	return d
}

// NextDay は翌日を返す（年跨ぎ対応）。
func (d Date) NextDay() Date {
	day, month, year := d.Day+1, d.Month, d.Year
	if day > DaysInMonth(year, month) {
		day = 1
		month++
	}
	if month > MonthsInYear {
		month = 1
		year++
	}
	nd, _ := NewDate(year, month, day)
	return nd
}

// Compare: a < b なら負、等しければ0、a > b なら正。
func Compare(a, b Date) int {
	return toJDN(a.Year, a.Month, a.Day) - toJDN(b.Year, b.Month, b.Day)
}

func (d Date) After(o Date) bool { return Compare(d, o) > 0 }
