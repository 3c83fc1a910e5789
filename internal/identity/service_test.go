package identity

import (
	"context"
	"testing"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SAMS-backend/internal/audit"
	"SAMS-backend/internal/directory"
)

// ===== fakes =====

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

type fakeRecorder struct{ entries []audit.Entry }

func (f *fakeRecorder) Record(_ context.Context, e audit.Entry) {
	f.entries = append(f.entries, e)
}

type fakeMappingStore struct {
	byDevice  map[string][]Mapping
	insertErr error
	inserted  []Mapping
	deleted   []string
}

func (f *fakeMappingStore) GetByDeviceID(_ context.Context, deviceID string) ([]Mapping, error) {
	return f.byDevice[deviceID], nil
}

func (f *fakeMappingStore) ListMappings(_ context.Context) ([]Mapping, error) {
	var out []Mapping
	for _, ms := range f.byDevice {
		out = append(out, ms...)
	}
	return out, nil
}

func (f *fakeMappingStore) InsertMapping(_ context.Context, m Mapping) (uint64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, m)
	return uint64(len(f.inserted)), nil
}

func (f *fakeMappingStore) DeleteMappingsByDeviceID(_ context.Context, deviceID string) (int64, error) {
	f.deleted = append(f.deleted, deviceID)
	return int64(len(f.byDevice[deviceID])), nil
}

type seenCall struct {
	deviceID string
	rawName  *string
	at       time.Time
}

type fakeBufferStore struct {
	seen   []seenCall
	mapped []string
	purged int64
}

func (f *fakeBufferStore) UpsertSeen(_ context.Context, deviceID string, rawName *string, now time.Time) error {
	f.seen = append(f.seen, seenCall{deviceID: deviceID, rawName: rawName, at: now})
	return nil
}

func (f *fakeBufferStore) ListUnmapped(_ context.Context, _, _ int) ([]BufferedIdentity, error) {
	return nil, nil
}

func (f *fakeBufferStore) MarkMapped(_ context.Context, deviceID, _ string) (int64, error) {
	f.mapped = append(f.mapped, deviceID)
	return 1, nil
}

func (f *fakeBufferStore) PurgeUnmappedBefore(_ context.Context, _ time.Time) (int64, error) {
	return f.purged, nil
}

type fakeDirectory struct{ people map[string]*directory.Person }

func (f *fakeDirectory) GetByPersonID(_ context.Context, personID, personRole string) (*directory.Person, error) {
	return f.people[personRole+"/"+personID], nil
}

func newTestService(ms *fakeMappingStore, bs *fakeBufferStore, dir *fakeDirectory, rec *fakeRecorder) *Service {
	return &Service{
		mappings: ms,
		buffer:   bs,
		people:   dir,
		audit:    rec,
		clock:    fakeClock{now: time.Date(2024, 9, 11, 8, 0, 0, 0, time.UTC)},
	}
}

// ===== tests =====

func TestNormalizeDeviceID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"17", "17"},
		{" 0017 ", "17"},
		{"１７", "17"}, // 全角
		{"000", "0"},
		{"A-12", "A-12"}, // 数字以外を含むならゼロ除去しない
		{"", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDeviceID(tt.in), "input %q", tt.in)
	}
}

func TestResolve_Mapped(t *testing.T) {
	ms := &fakeMappingStore{byDevice: map[string][]Mapping{
		"17": {{MappingID: 1, DeviceID: "17", PersonID: "S-100", PersonRole: "student"}},
	}}
	bs := &fakeBufferStore{}
	rec := &fakeRecorder{}
	svc := newTestService(ms, bs, &fakeDirectory{}, rec)

	res, err := svc.Resolve(context.Background(), "0017", nil)
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, "S-100", res.PersonID)
	assert.Equal(t, "student", res.PersonRole)
	assert.Empty(t, bs.seen, "resolved events must not touch the buffer")
	require.Len(t, rec.entries, 1)
	assert.Equal(t, audit.OpIdentityResolved, rec.entries[0].OperationType)
}

func TestResolve_Unmapped_Buffered(t *testing.T) {
	ms := &fakeMappingStore{byDevice: map[string][]Mapping{}}
	bs := &fakeBufferStore{}
	rec := &fakeRecorder{}
	svc := newTestService(ms, bs, &fakeDirectory{}, rec)

	name := "山田 太郎"
	res, err := svc.Resolve(context.Background(), "99", &name)
	require.NoError(t, err)
	assert.False(t, res.Resolved, "unmapped device must return the sentinel")
	assert.Equal(t, "99", res.DeviceID)

	// 取りこぼし禁止: 必ずバッファに入り、監査される
	require.Len(t, bs.seen, 1)
	assert.Equal(t, "99", bs.seen[0].deviceID)
	require.NotNil(t, bs.seen[0].rawName)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, audit.OpIdentityBuffered, rec.entries[0].OperationType)

	// 再出現でも同じ経路（last_seen_at の更新はストア側のUPSERTが担う）
	_, err = svc.Resolve(context.Background(), "99", nil)
	require.NoError(t, err)
	assert.Len(t, bs.seen, 2)
}

func TestResolve_DuplicateMappings_PicksOldest(t *testing.T) {
	ms := &fakeMappingStore{byDevice: map[string][]Mapping{
		"17": {
			{MappingID: 1, DeviceID: "17", PersonID: "S-100", PersonRole: "student"},
			{MappingID: 2, DeviceID: "17", PersonID: "T-001", PersonRole: "staff"},
		},
	}}
	rec := &fakeRecorder{}
	svc := newTestService(ms, &fakeBufferStore{}, &fakeDirectory{}, rec)

	res, err := svc.Resolve(context.Background(), "17", nil)
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, "S-100", res.PersonID, "oldest mapping wins until the conflict is resolved")
}

func TestResolve_EmptyDeviceID(t *testing.T) {
	svc := newTestService(&fakeMappingStore{}, &fakeBufferStore{}, &fakeDirectory{}, &fakeRecorder{})
	_, err := svc.Resolve(context.Background(), "   ", nil)
	require.Error(t, err)
	de, ok := err.(*DomainError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidArgument, de.Code)
}

func TestCreateMapping(t *testing.T) {
	dir := &fakeDirectory{people: map[string]*directory.Person{
		"student/S-100": {PersonID: "S-100", PersonRole: "student", Active: true},
		"staff/T-999":   {PersonID: "T-999", PersonRole: "staff", Active: false},
	}}

	t.Run("success promotes buffer", func(t *testing.T) {
		ms := &fakeMappingStore{byDevice: map[string][]Mapping{}}
		bs := &fakeBufferStore{}
		rec := &fakeRecorder{}
		svc := newTestService(ms, bs, dir, rec)

		m, err := svc.CreateMapping(context.Background(), "17", "S-100", "student", "admin1")
		require.NoError(t, err)
		assert.Equal(t, "17", m.DeviceID)
		assert.Equal(t, []string{"17"}, bs.mapped)
		require.Len(t, rec.entries, 1)
		assert.Equal(t, audit.OpMappingCreated, rec.entries[0].OperationType)
		assert.Equal(t, "admin1", rec.entries[0].PerformedBy)
	})

	t.Run("unknown person", func(t *testing.T) {
		svc := newTestService(&fakeMappingStore{}, &fakeBufferStore{}, dir, &fakeRecorder{})
		_, err := svc.CreateMapping(context.Background(), "17", "S-404", "student", "admin1")
		de, ok := err.(*DomainError)
		require.True(t, ok)
		assert.Equal(t, ErrCodeNotFound, de.Code)
	})

	t.Run("inactive person", func(t *testing.T) {
		svc := newTestService(&fakeMappingStore{}, &fakeBufferStore{}, dir, &fakeRecorder{})
		_, err := svc.CreateMapping(context.Background(), "17", "T-999", "staff", "admin1")
		de, ok := err.(*DomainError)
		require.True(t, ok)
		assert.Equal(t, ErrCodeInvalidArgument, de.Code)
	})

	t.Run("exact duplicate is a conflict", func(t *testing.T) {
		ms := &fakeMappingStore{insertErr: &mysql.MySQLError{Number: 1062}}
		svc := newTestService(ms, &fakeBufferStore{}, dir, &fakeRecorder{})
		_, err := svc.CreateMapping(context.Background(), "17", "S-100", "student", "admin1")
		de, ok := err.(*DomainError)
		require.True(t, ok)
		assert.Equal(t, ErrCodeConflict, de.Code)
	})

	t.Run("bad role", func(t *testing.T) {
		svc := newTestService(&fakeMappingStore{}, &fakeBufferStore{}, dir, &fakeRecorder{})
		_, err := svc.CreateMapping(context.Background(), "17", "S-100", "visitor", "admin1")
		de, ok := err.(*DomainError)
		require.True(t, ok)
		assert.Equal(t, ErrCodeInvalidArgument, de.Code)
	})
}

func TestCleanupBuffer(t *testing.T) {
	bs := &fakeBufferStore{purged: 3}
	rec := &fakeRecorder{}
	svc := newTestService(&fakeMappingStore{}, bs, &fakeDirectory{}, rec)

	n, err := svc.CleanupBuffer(context.Background(), 90, "admin1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, audit.OpBufferCleanup, rec.entries[0].OperationType)

	_, err = svc.CleanupBuffer(context.Background(), 0, "admin1")
	assert.Error(t, err)
}
