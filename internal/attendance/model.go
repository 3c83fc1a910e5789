package attendance

import "time"

// Key は台帳の一意キー (person, ローカル暦日, shift)。
type Key struct {
	PersonID   string
	PersonRole string
	CalYear    int
	CalMonth   int
	CalDay     int
	Shift      string
}

// DB行に対応（スキャン用）
type recordRow struct {
	RecordID   uint64
	PersonID   string
	PersonRole string
	CalYear    int
	CalMonth   int
	CalDay     int
	Shift      string
	CheckIn    *time.Time
	CheckOut   *time.Time
	Status     string
	Notes      *string
	UpdatedAt  time.Time
}

// Service ↔ Store で使うモデル
type Record struct {
	RecordID   uint64
	PersonID   string
	PersonRole string
	CalYear    int
	CalMonth   int
	CalDay     int
	Shift      string
	CheckIn    *time.Time
	CheckOut   *time.Time
	Status     string
	Notes      *string
	UpdatedAt  time.Time
}

// 終端状態（checkIn/checkOut 両方確定）。以後は一切変更不可。
func (r Record) IsTerminal() bool {
	return r.CheckIn != nil && r.CheckOut != nil
}

func (r recordRow) toModel() Record {
	m := Record(r)
	if m.CheckIn != nil {
		t := m.CheckIn.UTC()
		m.CheckIn = &t
	}
	if m.CheckOut != nil {
		t := m.CheckOut.UTC()
		m.CheckOut = &t
	}
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m
}

func (r Record) toDTO() RecordResponse {
	return RecordResponse{
		RecordID:   r.RecordID,
		PersonID:   r.PersonID,
		PersonRole: r.PersonRole,
		CalYear:    r.CalYear,
		CalMonth:   r.CalMonth,
		CalDay:     r.CalDay,
		Shift:      r.Shift,
		CheckIn:    r.CheckIn,
		CheckOut:   r.CheckOut,
		Status:     r.Status,
		Notes:      r.Notes,
		UpdatedAt:  r.UpdatedAt,
	}
}
