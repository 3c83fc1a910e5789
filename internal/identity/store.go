package identity

import (
	"context"
	"database/sql"
	"time"

	"SAMS-backend/internal/platform/db"
)

type Store struct{ db db.DBTX }

func NewStore(d db.DBTX) *Store { return &Store{db: d} }

// ===== identity_mappings =====

const mappingColumns = `mapping_id, device_id, person_id, person_role, registered_at`

// GetByDeviceID: mapping_id 昇順の全件（重複=conflict もそのまま返す）
func (s *Store) GetByDeviceID(ctx context.Context, deviceID string) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+mappingColumns+`
	FROM identity_mappings
	WHERE device_id = ?
	ORDER BY mapping_id ASC`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMappings(rows)
}

func (s *Store) ListMappings(ctx context.Context) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+mappingColumns+`
	FROM identity_mappings
	ORDER BY mapping_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMappings(rows)
}

func scanMappings(rows *sql.Rows) ([]Mapping, error) {
	var out []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.MappingID, &m.DeviceID, &m.PersonID, &m.PersonRole, &m.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertMapping: 完全一致（device_id, person_id, person_role）のみUNIQUE。
func (s *Store) InsertMapping(ctx context.Context, m Mapping) (uint64, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO identity_mappings (device_id, person_id, person_role, registered_at)
	VALUES (?, ?, ?, ?)`,
		m.DeviceID, m.PersonID, m.PersonRole, m.RegisteredAt.UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

func (s *Store) DeleteMappingByID(ctx context.Context, mappingID uint64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identity_mappings WHERE mapping_id = ?`, mappingID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteMappingsByDeviceID(ctx context.Context, deviceID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identity_mappings WHERE device_id = ?`, deviceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ===== buffered_identities =====

// UpsertSeen: 新規なら first/last 共に now、既存なら last_seen_at だけ進める。
// raw_name は空でない値が来たときのみ更新する。
func (s *Store) UpsertSeen(ctx context.Context, deviceID string, rawName *string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO buffered_identities (device_id, raw_name, first_seen_at, last_seen_at, mapping_status)
	VALUES (?, ?, ?, ?, 'unmapped')
	ON DUPLICATE KEY UPDATE
	last_seen_at = VALUES(last_seen_at),
	raw_name     = COALESCE(VALUES(raw_name), raw_name)`,
		deviceID, rawName, now.UTC(), now.UTC())
	return err
}

func (s *Store) GetBuffered(ctx context.Context, deviceID string) (*BufferedIdentity, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT buffer_id, device_id, raw_name, first_seen_at, last_seen_at, mapping_status, mapped_to_person_id
	FROM buffered_identities
	WHERE device_id = ?`, deviceID)

	var b BufferedIdentity
	err := row.Scan(&b.BufferID, &b.DeviceID, &b.RawName, &b.FirstSeenAt, &b.LastSeenAt, &b.MappingStatus, &b.MappedToPersonID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListUnmapped(ctx context.Context, limit, offset int) ([]BufferedIdentity, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT buffer_id, device_id, raw_name, first_seen_at, last_seen_at, mapping_status, mapped_to_person_id
	FROM buffered_identities
	WHERE mapping_status = 'unmapped'
	ORDER BY last_seen_at DESC
	LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BufferedIdentity
	for rows.Next() {
		var b BufferedIdentity
		if err := rows.Scan(&b.BufferID, &b.DeviceID, &b.RawName, &b.FirstSeenAt, &b.LastSeenAt, &b.MappingStatus, &b.MappedToPersonID); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) MarkMapped(ctx context.Context, deviceID, personID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE buffered_identities
	SET mapping_status = 'mapped', mapped_to_person_id = ?
	WHERE device_id = ?`, personID, deviceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeUnmappedBefore: 保持期間を過ぎた未マッピング行の掃除（明示操作/定期タスク専用）。
func (s *Store) PurgeUnmappedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	DELETE FROM buffered_identities
	WHERE mapping_status = 'unmapped' AND last_seen_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// 端末同期活動の新しさ比較（conflict の merge 戦略が使う）
func (s *Store) LastSeenAt(ctx context.Context, deviceID string) (*time.Time, error) {
	b, err := s.GetBuffered(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	t := b.LastSeenAt
	return &t, nil
}
