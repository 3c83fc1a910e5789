package conflict

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SAMS-backend/internal/audit"
	"SAMS-backend/internal/identity"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

type fakeRecorder struct {
	entries []audit.Entry
}

func (f *fakeRecorder) Record(_ context.Context, e audit.Entry) { f.entries = append(f.entries, e) }

func (f *fakeRecorder) ops() []string {
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.OperationType)
	}
	return out
}

type fakeConflictStore struct {
	records map[uint64]*Record
	nextID  uint64
}

func newFakeConflictStore() *fakeConflictStore {
	return &fakeConflictStore{records: map[uint64]*Record{}, nextID: 1}
}

func (f *fakeConflictStore) GetByID(_ context.Context, id uint64) (*Record, error) {
	if r, ok := f.records[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeConflictStore) GetOpen(_ context.Context, conflictType, subjectKey string) (*Record, error) {
	for _, r := range f.records {
		if r.ConflictType == conflictType && r.SubjectKey == subjectKey && !r.Resolved {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeConflictStore) Insert(_ context.Context, conflictType, subjectKey string, evidence json.RawMessage, now time.Time) (uint64, error) {
	id := f.nextID
	f.nextID++
	f.records[id] = &Record{
		ConflictID:   id,
		ConflictType: conflictType,
		SubjectKey:   subjectKey,
		Evidence:     evidence,
		DetectedAt:   now,
	}
	return id, nil
}

func (f *fakeConflictStore) MarkResolved(_ context.Context, id uint64, strategy, actor string, now time.Time) (int64, error) {
	r, ok := f.records[id]
	if !ok || r.Resolved {
		return 0, nil
	}
	r.Resolved = true
	r.ResolutionStrategy = &strategy
	r.ResolvedAt = &now
	r.ResolvedBy = &actor
	return 1, nil
}

func (f *fakeConflictStore) List(_ context.Context, onlyOpen bool, _, _ int) ([]Record, error) {
	var out []Record
	for _, r := range f.records {
		if onlyOpen && r.Resolved {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

type fakeMappings struct {
	mappings []identity.Mapping
	lastSeen map[string]time.Time
}

func (f *fakeMappings) ListMappings(_ context.Context) ([]identity.Mapping, error) {
	return append([]identity.Mapping(nil), f.mappings...), nil
}

func (f *fakeMappings) GetByDeviceID(_ context.Context, deviceID string) ([]identity.Mapping, error) {
	var out []identity.Mapping
	for _, m := range f.mappings {
		if m.DeviceID == deviceID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMappings) DeleteMappingByID(_ context.Context, mappingID uint64) (int64, error) {
	for i, m := range f.mappings {
		if m.MappingID == mappingID {
			f.mappings = append(f.mappings[:i], f.mappings[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeMappings) LastSeenAt(_ context.Context, deviceID string) (*time.Time, error) {
	if t, ok := f.lastSeen[deviceID]; ok {
		cp := t
		return &cp, nil
	}
	return nil, nil
}

func mapping(id uint64, deviceID, personID, role string, day int) identity.Mapping {
	return identity.Mapping{
		MappingID:    id,
		DeviceID:     deviceID,
		PersonID:     personID,
		PersonRole:   role,
		RegisteredAt: time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC),
	}
}

func newTestService(maps *fakeMappings) (*Service, *fakeConflictStore, *fakeRecorder) {
	st := newFakeConflictStore()
	rec := &fakeRecorder{}
	svc := &Service{
		store:    st,
		mappings: maps,
		buffer:   maps,
		audit:    rec,
		clock:    &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
	}
	return svc, st, rec
}

func TestDetectAllFindsBothKinds(t *testing.T) {
	maps := &fakeMappings{mappings: []identity.Mapping{
		mapping(1, "17", "S-1", "student", 1),
		mapping(2, "17", "S-2", "student", 2), // 同一端末IDの重複
		mapping(3, "42", "T-1", "staff", 3),
		mapping(4, "43", "T-1", "staff", 4), // 同一人物に複数端末ID
	}}
	svc, st, rec := newTestService(maps)

	sum, err := svc.DetectAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Groups)
	assert.Equal(t, 2, sum.Opened)
	assert.Equal(t, 0, sum.AlreadyOpen)

	open, err := st.GetOpen(context.Background(), TypeDuplicateMachineID, "17")
	require.NoError(t, err)
	require.NotNil(t, open)
	var evidence []evidenceEntry
	require.NoError(t, json.Unmarshal(open.Evidence, &evidence))
	assert.Len(t, evidence, 2)

	open, err = st.GetOpen(context.Background(), TypeDuplicatePerson, "staff/T-1")
	require.NoError(t, err)
	require.NotNil(t, open)

	assert.Equal(t, []string{audit.OpConflictDetected, audit.OpConflictDetected}, rec.ops())
}

func TestDetectAllInsertOnce(t *testing.T) {
	maps := &fakeMappings{mappings: []identity.Mapping{
		mapping(1, "17", "S-1", "student", 1),
		mapping(2, "17", "S-2", "student", 2),
	}}
	svc, _, _ := newTestService(maps)
	ctx := context.Background()

	sum, err := svc.DetectAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Opened)

	// 2回目は既存の未解決レコードに吸収される
	sum, err = svc.DetectAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Opened)
	assert.Equal(t, 1, sum.AlreadyOpen)
}

func TestResolveKeepFirst(t *testing.T) {
	maps := &fakeMappings{mappings: []identity.Mapping{
		mapping(1, "17", "S-1", "student", 1),
		mapping(2, "17", "S-2", "student", 2),
	}}
	svc, _, rec := newTestService(maps)
	ctx := context.Background()

	_, err := svc.DetectAll(ctx)
	require.NoError(t, err)

	res, err := svc.Resolve(ctx, 1, StrategyKeepFirst, "admin")
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	require.NotNil(t, res.ResolutionStrategy)
	assert.Equal(t, StrategyKeepFirst, *res.ResolutionStrategy)

	// mapping_id=1 が残り 2 が消える
	require.Len(t, maps.mappings, 1)
	assert.Equal(t, uint64(1), maps.mappings[0].MappingID)
	assert.Contains(t, rec.ops(), audit.OpMappingDeleted)
	assert.Contains(t, rec.ops(), audit.OpConflictResolved)
}

func TestResolveKeepLast(t *testing.T) {
	maps := &fakeMappings{mappings: []identity.Mapping{
		mapping(1, "17", "S-1", "student", 1),
		mapping(2, "17", "S-2", "student", 2),
	}}
	svc, _, _ := newTestService(maps)
	ctx := context.Background()

	_, err := svc.DetectAll(ctx)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, 1, StrategyKeepLast, "admin")
	require.NoError(t, err)

	require.Len(t, maps.mappings, 1)
	assert.Equal(t, uint64(2), maps.mappings[0].MappingID)
}

func TestResolveMergePicksMostRecentlySeenDevice(t *testing.T) {
	maps := &fakeMappings{
		mappings: []identity.Mapping{
			mapping(1, "42", "T-1", "staff", 1),
			mapping(2, "43", "T-1", "staff", 2),
		},
		lastSeen: map[string]time.Time{
			"42": time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC),
			"43": time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC),
		},
	}
	svc, _, _ := newTestService(maps)
	ctx := context.Background()

	_, err := svc.DetectAll(ctx)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, 1, StrategyMerge, "admin")
	require.NoError(t, err)

	// 直近に打刻のあった端末 42 のマッピングが勝つ
	require.Len(t, maps.mappings, 1)
	assert.Equal(t, "42", maps.mappings[0].DeviceID)
}

func TestResolveMergeRejectedForMachineIDConflicts(t *testing.T) {
	maps := &fakeMappings{mappings: []identity.Mapping{
		mapping(1, "17", "S-1", "student", 1),
		mapping(2, "17", "S-2", "student", 2),
	}}
	svc, _, _ := newTestService(maps)
	ctx := context.Background()

	_, err := svc.DetectAll(ctx)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, 1, StrategyMerge, "admin")
	require.Error(t, err)
	api, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}

func TestResolveManualLeavesMappings(t *testing.T) {
	maps := &fakeMappings{mappings: []identity.Mapping{
		mapping(1, "17", "S-1", "student", 1),
		mapping(2, "17", "S-2", "student", 2),
	}}
	svc, _, _ := newTestService(maps)
	ctx := context.Background()

	_, err := svc.DetectAll(ctx)
	require.NoError(t, err)
	res, err := svc.Resolve(ctx, 1, StrategyManual, "admin")
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Len(t, maps.mappings, 2, "manual must not touch mappings")
}

func TestResolveTwiceFails(t *testing.T) {
	maps := &fakeMappings{mappings: []identity.Mapping{
		mapping(1, "17", "S-1", "student", 1),
		mapping(2, "17", "S-2", "student", 2),
	}}
	svc, _, _ := newTestService(maps)
	ctx := context.Background()

	_, err := svc.DetectAll(ctx)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, 1, StrategyManual, "admin")
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, 1, StrategyKeepFirst, "admin")
	require.Error(t, err)
	api, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, CodeConflict, api.Code)
}

func TestResolveUnknownStrategyAndID(t *testing.T) {
	svc, _, _ := newTestService(&fakeMappings{})
	ctx := context.Background()

	_, err := svc.Resolve(ctx, 1, "coin_flip", "admin")
	require.Error(t, err)

	_, err = svc.Resolve(ctx, 99, StrategyManual, "admin")
	require.Error(t, err)
	api, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, CodeNotFound, api.Code)
}
