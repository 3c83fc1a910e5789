package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"SAMS-backend/internal/attendance"
	"SAMS-backend/internal/audit"
	"SAMS-backend/internal/directory"
	"SAMS-backend/internal/ethcal"
	"SAMS-backend/internal/synclock"
)

// ===== Error model =====

type Code string

const (
	CodeLockHeld Code = "LOCK_HELD"
	CodeInternal Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrLockHeld(msg string) *APIError { return &APIError{Code: CodeLockHeld, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

// ===== インターフェース群 =====

// Ledger: 勤怠台帳への欠席埋め草の書き込み窓口。
type Ledger interface {
	MarkAbsent(ctx context.Context, personID, personRole string, d ethcal.Date, shift string) (bool, error)
}

type People interface {
	ListActiveWithDevice(ctx context.Context) ([]directory.Person, error)
}

// Locker: リースの獲得・延長・解放。スイープは保持中しか書かない。
type Locker interface {
	Acquire(ctx context.Context, lockKey, holder string) (*synclock.Lock, error)
	Renew(ctx context.Context, lockKey, token string) error
	Release(ctx context.Context, lockKey, token, holder string) error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Summary は1回のスイープの集計。部分失敗はカウントに落ちて処理は続く。
type Summary struct {
	Days            int  `json:"days"`
	Candidates      int  `json:"candidates"`
	Inserted        int  `json:"inserted"`
	SkippedExisting int  `json:"skipped_existing"`
	Failed          int  `json:"failed"`
	Cancelled       bool `json:"cancelled"`
}

// ===== Service =====

type Service struct {
	ledger   Ledger
	people   People
	locks    Locker
	audit    audit.Recorder
	clock    Clock
	settings attendance.Settings
}

func NewService(ledger Ledger, people People, locks Locker, rec audit.Recorder, settings attendance.Settings) *Service {
	return &Service{
		ledger:   ledger,
		people:   people,
		locks:    locks,
		audit:    rec,
		clock:    realClock{},
		settings: settings,
	}
}

// RunSweep: 年初から今日（当日含む）までの授業日を時系列順に走査し、
// レコードの無い (人, 日, シフト) に ABSENT を埋める。リース必須。
// 日の間でリースを延長し、延長に失敗したらそれ以上書かずに打ち切る。
func (s *Service) RunSweep(ctx context.Context, holder string) (Summary, error) {
	lease, err := s.locks.Acquire(ctx, synclock.KeyReconcile, holder)
	if err != nil {
		var api *synclock.APIError
		if errors.As(err, &api) && api.Code == synclock.CodeLockHeld {
			return Summary{}, ErrLockHeld("reconciliation already running")
		}
		return Summary{}, ErrInternal("lease acquisition failed")
	}
	defer func() {
		if err := s.locks.Release(ctx, synclock.KeyReconcile, lease.HolderToken, holder); err != nil {
			log.Printf("[WARN] reconcile: lease release failed: %v", err)
		}
	}()

	sum, err := s.sweepLocked(ctx, lease.HolderToken)

	s.audit.Record(ctx, audit.Entry{
		OperationType: audit.OpReconcileSweep,
		SubjectID:     synclock.KeyReconcile,
		PerformedBy:   holder,
		ServiceName:   "reconcile",
		Details:       sum,
	})
	return sum, err
}

func (s *Service) sweepLocked(ctx context.Context, token string) (Summary, error) {
	var sum Summary

	people, err := s.people.ListActiveWithDevice(ctx)
	if err != nil {
		return sum, ErrInternal("directory scan failed")
	}
	if len(people) == 0 {
		return sum, nil
	}

	today := ethcal.ToLocal(s.clock.Now())
	d := ethcal.FirstOfYear(today.Year)

	for !d.After(today) {
		if ctx.Err() != nil {
			sum.Cancelled = true
			return sum, nil
		}
		if !s.settings.IsSchoolDay(d.Weekday) {
			d = d.NextDay()
			continue
		}
		sum.Days++

		for _, p := range people {
			for _, shift := range p.AssignedShifts() {
				sum.Candidates++
				inserted, err := s.ledger.MarkAbsent(ctx, p.PersonID, p.PersonRole, d, shift)
				if err != nil {
					sum.Failed++
					log.Printf("[WARN] reconcile: absent insert failed person=%s/%s date=%s shift=%s: %v",
						p.PersonRole, p.PersonID, d.String(), shift, err)
					continue
				}
				if inserted {
					sum.Inserted++
				} else {
					sum.SkippedExisting++
				}
			}
		}

		// 長時間スイープでリースが切れないよう、日の境界で延長する。
		// 延長できない＝リース喪失とみなし、以後の書き込みを止める。
		if err := s.locks.Renew(ctx, synclock.KeyReconcile, token); err != nil {
			sum.Cancelled = true
			log.Printf("[WARN] reconcile: lease lost, stopping sweep at %s", d.String())
			return sum, nil
		}
		d = d.NextDay()
	}
	return sum, nil
}
