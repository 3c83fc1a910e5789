package synclock

import (
	"context"
	"database/sql"
	"time"
)

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store { return &Store{db: db} }

// DeleteExpired: 期限切れリースの掃除。獲得試行の直前に呼ぶ。
func (s *Store) DeleteExpired(ctx context.Context, lockKey string, now time.Time) error {
	const q = `DELETE FROM sync_locks WHERE lock_key = ? AND expires_at <= ?`
	_, err := s.db.ExecContext(ctx, q, lockKey, now.UTC())
	return err
}

// Insert: lock_key の UNIQUE 制約が同時獲得を1つに絞る。
// 競合時は 1062 がそのまま呼び出し側へ返る。
func (s *Store) Insert(ctx context.Context, l Lock) error {
	const q = `
INSERT INTO sync_locks (lock_key, holder_token, acquired_at, expires_at)
VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, l.LockKey, l.HolderToken, l.AcquiredAt.UTC(), l.ExpiresAt.UTC())
	return err
}

// Renew: 自分のトークンの行だけ延長できる。
func (s *Store) Renew(ctx context.Context, lockKey, token string, expiresAt time.Time) (int64, error) {
	const q = `UPDATE sync_locks SET expires_at = ? WHERE lock_key = ? AND holder_token = ?`
	res, err := s.db.ExecContext(ctx, q, expiresAt.UTC(), lockKey, token)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete: 解放もトークン一致が条件。他人のロックは消せない。
func (s *Store) Delete(ctx context.Context, lockKey, token string) (int64, error) {
	const q = `DELETE FROM sync_locks WHERE lock_key = ? AND holder_token = ?`
	res, err := s.db.ExecContext(ctx, q, lockKey, token)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Get(ctx context.Context, lockKey string) (*Lock, error) {
	const q = `
SELECT lock_key, holder_token, acquired_at, expires_at
FROM sync_locks WHERE lock_key = ?`
	var l Lock
	err := s.db.QueryRowContext(ctx, q, lockKey).
		Scan(&l.LockKey, &l.HolderToken, &l.AcquiredAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
