package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"SAMS-backend/internal/audit"
	"SAMS-backend/internal/conflict"
	"SAMS-backend/internal/platform/db"
	"SAMS-backend/internal/reconcile"
	"SAMS-backend/internal/synclock"
)

const holderName = "scheduler"

// ===== ジョブの窓口 =====

type Sweeper interface {
	RunSweep(ctx context.Context, holder string) (reconcile.Summary, error)
}

type ConflictDetector interface {
	DetectAll(ctx context.Context) (conflict.DetectSummary, error)
}

type BufferCleaner interface {
	CleanupBuffer(ctx context.Context, retentionDays int, actor string) (int64, error)
}

type BackupRunner interface {
	CreateBackup(ctx context.Context, name string, includeLedger bool, actor string) (*audit.Snapshot, error)
	PruneSnapshots(ctx context.Context, keep int) (int, error)
}

type Locker interface {
	Acquire(ctx context.Context, lockKey, holder string) (*synclock.Lock, error)
	Release(ctx context.Context, lockKey, token, holder string) error
}

// Scheduler は固定間隔のバッチ群を回す。ジョブは全て状態を持たず、
// 毎tickストアを読み直す。確率的な分岐は無い。
type Scheduler struct {
	sweeper   Sweeper
	conflicts ConflictDetector
	cleaner   BufferCleaner
	backups   BackupRunner
	locks     Locker
	cfg       db.SyncConfig
}

func New(sweeper Sweeper, conflicts ConflictDetector, cleaner BufferCleaner, backups BackupRunner, locks Locker, cfg db.SyncConfig) *Scheduler {
	return &Scheduler{
		sweeper:   sweeper,
		conflicts: conflicts,
		cleaner:   cleaner,
		backups:   backups,
		locks:     locks,
		cfg:       cfg,
	}
}

// Run: ctx キャンセルまでブロックする。main から goroutine で呼ぶ。
func (s *Scheduler) Run(ctx context.Context) {
	maintenance := time.NewTicker(time.Duration(s.cfg.ReconcileIntervalMinutes) * time.Minute)
	defer maintenance.Stop()
	cleanup := time.NewTicker(time.Duration(s.cfg.CleanupIntervalHours) * time.Hour)
	defer cleanup.Stop()

	var backup <-chan time.Time
	if s.cfg.BackupIntervalHours > 0 {
		t := time.NewTicker(time.Duration(s.cfg.BackupIntervalHours) * time.Hour)
		defer t.Stop()
		backup = t.C
	}

	log.Printf("[INFO] scheduler started (maintenance every %dm, cleanup every %dh)",
		s.cfg.ReconcileIntervalMinutes, s.cfg.CleanupIntervalHours)

	for {
		select {
		case <-ctx.Done():
			log.Println("[INFO] scheduler stopped")
			return
		case <-maintenance.C:
			s.runMaintenance(ctx)
		case <-cleanup.C:
			s.runCleanup(ctx)
		case <-backup:
			s.runBackup(ctx)
		}
	}
}

// runMaintenance: スイープと競合検出を1サイクル・1リースで回す。
// リースが取れなければこのtickは飛ばす（他インスタンスが実行中）。
func (s *Scheduler) runMaintenance(ctx context.Context) {
	lease, err := s.locks.Acquire(ctx, synclock.KeyMaintenance, holderName)
	if err != nil {
		var api *synclock.APIError
		if errors.As(err, &api) && api.Code == synclock.CodeLockHeld {
			log.Println("[INFO] scheduler: maintenance already running elsewhere, skipping tick")
			return
		}
		log.Printf("[ERROR] scheduler: maintenance lease: %v", err)
		return
	}
	defer func() {
		if err := s.locks.Release(ctx, synclock.KeyMaintenance, lease.HolderToken, holderName); err != nil {
			log.Printf("[WARN] scheduler: maintenance lease release: %v", err)
		}
	}()

	sum, err := s.sweeper.RunSweep(ctx, holderName)
	if err != nil {
		log.Printf("[WARN] scheduler: reconcile sweep: %v", err)
	} else {
		log.Printf("[INFO] scheduler: sweep done days=%d inserted=%d skipped=%d failed=%d cancelled=%v",
			sum.Days, sum.Inserted, sum.SkippedExisting, sum.Failed, sum.Cancelled)
	}

	det, err := s.conflicts.DetectAll(ctx)
	if err != nil {
		log.Printf("[WARN] scheduler: conflict detection: %v", err)
		return
	}
	if det.Opened > 0 {
		log.Printf("[INFO] scheduler: opened %d new conflict record(s)", det.Opened)
	}
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	n, err := s.cleaner.CleanupBuffer(ctx, s.cfg.BufferRetentionDays, holderName)
	if err != nil {
		log.Printf("[WARN] scheduler: buffer cleanup: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[INFO] scheduler: purged %d stale unmapped identit(ies)", n)
	}
}

func (s *Scheduler) runBackup(ctx context.Context) {
	snap, err := s.backups.CreateBackup(ctx, "", false, holderName)
	if err != nil {
		log.Printf("[WARN] scheduler: interval backup: %v", err)
		return
	}
	log.Printf("[INFO] scheduler: snapshot %q created (%d records)", snap.Name, snap.RecordCount)
	if s.cfg.SnapshotRetention > 0 {
		if n, err := s.backups.PruneSnapshots(ctx, s.cfg.SnapshotRetention); err != nil {
			log.Printf("[WARN] scheduler: snapshot prune: %v", err)
		} else if n > 0 {
			log.Printf("[INFO] scheduler: pruned %d old snapshot(s)", n)
		}
	}
}
