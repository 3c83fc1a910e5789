package directory

// 在籍者名簿（読み取り専用）。同期経路からは一切変更しない。

const (
	RoleStaff   = "staff"
	RoleStudent = "student"
)

const (
	ShiftAssignShift1 = "shift1"
	ShiftAssignShift2 = "shift2"
	ShiftAssignBoth   = "both"
)

type Person struct {
	PersonID    string
	PersonRole  string // staff | student
	FullName    string
	DeviceID    *string // 端末に登録済みの数値ID（未登録なら nil）
	ShiftAssign string  // shift1 | shift2 | both
	ClassOrDept string
	Active      bool
}

// AssignedShifts は固定順（shift1 → shift2）で担当シフトを返す。
func (p Person) AssignedShifts() []string {
	switch p.ShiftAssign {
	case ShiftAssignBoth:
		return []string{ShiftAssignShift1, ShiftAssignShift2}
	case ShiftAssignShift2:
		return []string{ShiftAssignShift2}
	default:
		return []string{ShiftAssignShift1}
	}
}
