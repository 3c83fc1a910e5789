package synclock

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/oklog/ulid/v2"

	"SAMS-backend/internal/audit"
)

// ===== Error model =====

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeLockHeld        Code = "LOCK_HELD"
	CodeNotHolder       Code = "NOT_HOLDER"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrLockHeld(msg string) *APIError { return &APIError{Code: CodeLockHeld, Message: msg} }
func ErrNotHolder(msg string) *APIError {
	return &APIError{Code: CodeNotHolder, Message: msg}
}
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

// ===== インターフェース群 =====

type LockStore interface {
	DeleteExpired(ctx context.Context, lockKey string, now time.Time) error
	Insert(ctx context.Context, l Lock) error
	Renew(ctx context.Context, lockKey, token string, expiresAt time.Time) (int64, error)
	Delete(ctx context.Context, lockKey, token string) (int64, error)
	Get(ctx context.Context, lockKey string) (*Lock, error)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	id, err := ulid.New(ulid.Timestamp(t), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ===== Service =====

type Service struct {
	store LockStore
	audit audit.Recorder
	clock Clock
	id    IDGen
	ttl   time.Duration
}

func NewService(store LockStore, rec audit.Recorder, ttlSeconds int) *Service {
	return &Service{
		store: store,
		audit: rec,
		clock: realClock{},
		id:    ulidGen{},
		ttl:   time.Duration(ttlSeconds) * time.Second,
	}
}

// Acquire: 期限切れリースを掃除してから INSERT を試みる。
// lock_key の UNIQUE 制約が唯一の調停者で、重複キー(1062)なら他者保持。
// 成功時はトークンを返し、以後の Renew/Release はトークン必須。
func (s *Service) Acquire(ctx context.Context, lockKey, holder string) (*Lock, error) {
	if lockKey == "" {
		return nil, ErrInvalid("lock_key is required")
	}
	now := s.clock.Now().UTC()

	if err := s.store.DeleteExpired(ctx, lockKey, now); err != nil {
		return nil, ErrInternal("lock cleanup failed")
	}

	token, err := s.id.New()
	if err != nil {
		return nil, ErrInternal("token generation failed")
	}
	l := Lock{
		LockKey:     lockKey,
		HolderToken: token,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.store.Insert(ctx, l); err != nil {
		if isDuplicateKey(err) {
			return nil, ErrLockHeld("lock " + lockKey + " is held by another process")
		}
		return nil, ErrInternal("lock insert failed")
	}

	s.audit.Record(ctx, audit.Entry{
		OperationType: audit.OpLockAcquired,
		SubjectID:     lockKey,
		PerformedBy:   holder,
		ServiceName:   "synclock",
		Details:       map[string]any{"expires_at": l.ExpiresAt},
	})
	return &l, nil
}

// Renew: 長時間バッチが途中でリースを失わないための延長。
// 期限切れや他者奪取後は行が一致せず NOT_HOLDER になる。
func (s *Service) Renew(ctx context.Context, lockKey, token string) error {
	if lockKey == "" || token == "" {
		return ErrInvalid("lock_key and token are required")
	}
	expiresAt := s.clock.Now().UTC().Add(s.ttl)
	n, err := s.store.Renew(ctx, lockKey, token, expiresAt)
	if err != nil {
		return ErrInternal("lock renew failed")
	}
	if n == 0 {
		return ErrNotHolder("lease lost for lock " + lockKey)
	}
	return nil
}

func (s *Service) Release(ctx context.Context, lockKey, token, holder string) error {
	if lockKey == "" || token == "" {
		return ErrInvalid("lock_key and token are required")
	}
	n, err := s.store.Delete(ctx, lockKey, token)
	if err != nil {
		return ErrInternal("lock release failed")
	}
	if n == 0 {
		return ErrNotHolder("not the holder of lock " + lockKey)
	}
	s.audit.Record(ctx, audit.Entry{
		OperationType: audit.OpLockReleased,
		SubjectID:     lockKey,
		PerformedBy:   holder,
		ServiceName:   "synclock",
	})
	return nil
}

// Status: 観測専用。期限切れの残骸は「未保持」として見せる。
func (s *Service) Status(ctx context.Context, lockKey string) (Status, error) {
	if lockKey == "" {
		return Status{}, ErrInvalid("lock_key is required")
	}
	l, err := s.store.Get(ctx, lockKey)
	if err != nil {
		return Status{}, ErrInternal("lock read failed")
	}
	if l == nil || l.Expired(s.clock.Now().UTC()) {
		return Status{LockKey: lockKey, Held: false}, nil
	}
	exp := l.ExpiresAt
	return Status{LockKey: lockKey, Held: true, ExpiresAt: &exp}, nil
}

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
