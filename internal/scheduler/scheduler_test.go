package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SAMS-backend/internal/audit"
	"SAMS-backend/internal/conflict"
	"SAMS-backend/internal/platform/db"
	"SAMS-backend/internal/reconcile"
	"SAMS-backend/internal/synclock"
)

type fakeSweeper struct {
	runs int
	err  error
}

func (f *fakeSweeper) RunSweep(_ context.Context, _ string) (reconcile.Summary, error) {
	f.runs++
	return reconcile.Summary{Days: 1}, f.err
}

type fakeDetector struct {
	runs int
}

func (f *fakeDetector) DetectAll(_ context.Context) (conflict.DetectSummary, error) {
	f.runs++
	return conflict.DetectSummary{Opened: 1}, nil
}

type fakeCleaner struct {
	retention int
}

func (f *fakeCleaner) CleanupBuffer(_ context.Context, retentionDays int, _ string) (int64, error) {
	f.retention = retentionDays
	return 3, nil
}

type fakeBackups struct {
	created int
	pruned  int
	keep    int
}

func (f *fakeBackups) CreateBackup(_ context.Context, _ string, _ bool, _ string) (*audit.Snapshot, error) {
	f.created++
	return &audit.Snapshot{Name: "snapshot-test", RecordCount: 10}, nil
}

func (f *fakeBackups) PruneSnapshots(_ context.Context, keep int) (int, error) {
	f.keep = keep
	f.pruned++
	return 1, nil
}

type fakeLocker struct {
	held     bool
	acquires int
	releases int
}

func (f *fakeLocker) Acquire(_ context.Context, lockKey, _ string) (*synclock.Lock, error) {
	f.acquires++
	if f.held {
		return nil, synclock.ErrLockHeld("held")
	}
	return &synclock.Lock{LockKey: lockKey, HolderToken: "tok"}, nil
}

func (f *fakeLocker) Release(_ context.Context, _, _, _ string) error {
	f.releases++
	return nil
}

func newTestScheduler(locks *fakeLocker) (*Scheduler, *fakeSweeper, *fakeDetector, *fakeCleaner, *fakeBackups) {
	sw := &fakeSweeper{}
	det := &fakeDetector{}
	cl := &fakeCleaner{}
	bk := &fakeBackups{}
	cfg := db.SyncConfig{
		ReconcileIntervalMinutes: 15,
		CleanupIntervalHours:     24,
		BufferRetentionDays:      90,
		BackupIntervalHours:      24,
		SnapshotRetention:        7,
	}
	return New(sw, det, cl, bk, locks, cfg), sw, det, cl, bk
}

func TestMaintenanceRunsSweepAndDetection(t *testing.T) {
	locks := &fakeLocker{}
	s, sw, det, _, _ := newTestScheduler(locks)

	s.runMaintenance(context.Background())

	assert.Equal(t, 1, sw.runs)
	assert.Equal(t, 1, det.runs)
	assert.Equal(t, 1, locks.acquires)
	assert.Equal(t, 1, locks.releases, "lease must be released after the cycle")
}

func TestMaintenanceSkipsWhenLockHeld(t *testing.T) {
	locks := &fakeLocker{held: true}
	s, sw, det, _, _ := newTestScheduler(locks)

	s.runMaintenance(context.Background())

	assert.Equal(t, 0, sw.runs)
	assert.Equal(t, 0, det.runs)
	assert.Equal(t, 0, locks.releases)
}

func TestMaintenanceDetectionRunsEvenIfSweepFails(t *testing.T) {
	locks := &fakeLocker{}
	s, sw, det, _, _ := newTestScheduler(locks)
	sw.err = errors.New("sweep broke")

	s.runMaintenance(context.Background())

	require.Equal(t, 1, sw.runs)
	assert.Equal(t, 1, det.runs, "sweep failure must not block conflict detection")
	assert.Equal(t, 1, locks.releases)
}

func TestCleanupPassesRetention(t *testing.T) {
	s, _, _, cl, _ := newTestScheduler(&fakeLocker{})
	s.runCleanup(context.Background())
	assert.Equal(t, 90, cl.retention)
}

func TestBackupCreatesAndPrunes(t *testing.T) {
	s, _, _, _, bk := newTestScheduler(&fakeLocker{})
	s.runBackup(context.Background())
	assert.Equal(t, 1, bk.created)
	assert.Equal(t, 1, bk.pruned)
	assert.Equal(t, 7, bk.keep)
}
