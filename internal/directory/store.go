package directory

import (
	"context"
	"database/sql"
	"errors"
)

type DBTX interface {
	ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, q string, args ...any) *sql.Row
}

type Store struct{ db DBTX }

func NewStore(db DBTX) *Store { return &Store{db: db} }

const personColumns = `person_id, person_role, full_name, device_id, shift_assign, class_or_dept, is_active`

func scanPerson(row interface{ Scan(dest ...any) error }) (Person, error) {
	var p Person
	var active int
	err := row.Scan(&p.PersonID, &p.PersonRole, &p.FullName, &p.DeviceID, &p.ShiftAssign, &p.ClassOrDept, &active)
	if err != nil {
		return Person{}, err
	}
	p.Active = active != 0
	return p, nil
}

// GetByPersonID: 見つからなければ (nil, nil)
func (s *Store) GetByPersonID(ctx context.Context, personID, personRole string) (*Person, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT `+personColumns+`
	FROM persons
	WHERE person_id = ? AND person_role = ?
	LIMIT 1`, personID, personRole)

	p, err := scanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListActiveWithDevice: 端末登録済みかつ在籍中の全員（照合ジョブの母集団）。
// person_id 昇順で順序を固定する。
func (s *Store) ListActiveWithDevice(ctx context.Context) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+personColumns+`
	FROM persons
	WHERE is_active = 1 AND device_id IS NOT NULL AND shift_assign <> ''
	ORDER BY person_role ASC, person_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons WHERE is_active = 1`).Scan(&n)
	return n, err
}
