package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"golang.org/x/text/width"

	"SAMS-backend/internal/audit"
	"SAMS-backend/internal/directory"
)

// ===== インターフェース群 =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type MappingStore interface {
	GetByDeviceID(ctx context.Context, deviceID string) ([]Mapping, error)
	ListMappings(ctx context.Context) ([]Mapping, error)
	InsertMapping(ctx context.Context, m Mapping) (uint64, error)
	DeleteMappingsByDeviceID(ctx context.Context, deviceID string) (int64, error)
}

type BufferStore interface {
	UpsertSeen(ctx context.Context, deviceID string, rawName *string, now time.Time) error
	ListUnmapped(ctx context.Context, limit, offset int) ([]BufferedIdentity, error)
	MarkMapped(ctx context.Context, deviceID, personID string) (int64, error)
	PurgeUnmappedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PersonDirectory interface {
	GetByPersonID(ctx context.Context, personID, personRole string) (*directory.Person, error)
}

// ===== Service本体 =====

type Service struct {
	mappings MappingStore
	buffer   BufferStore
	people   PersonDirectory
	audit    audit.Recorder
	clock    Clock
}

func NewService(d *sql.DB, rec audit.Recorder) *Service {
	st := NewStore(d)
	return &Service{
		mappings: st,
		buffer:   st,
		people:   directory.NewStore(d),
		audit:    rec,
		clock:    realClock{},
	}
}

// NormalizeDeviceID: 端末からの生ID（全角数字・前空白・ゼロ埋め入り）を正規化する。
func NormalizeDeviceID(raw string) string {
	s := strings.TrimSpace(width.Narrow.String(raw))
	if s == "" {
		return ""
	}
	allDigits := true
	for _, r := range s {
		if r < '0' || r > '9' {
			allDigits = false
			break
		}
	}
	if allDigits {
		s = strings.TrimLeft(s, "0")
		if s == "" {
			s = "0"
		}
	}
	return s
}

// Resolve: 端末IDを (person, role) に解決する。未マッピングならバッファへ退避し、
// Resolved=false を返す（イベントは決して黙って捨てない）。
func (s *Service) Resolve(ctx context.Context, rawDeviceID string, rawName *string) (Resolution, error) {
	deviceID := NormalizeDeviceID(rawDeviceID)
	if deviceID == "" {
		return Resolution{}, NewInvalidArgumentError("device id is required")
	}

	maps, err := s.mappings.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return Resolution{}, NewInternalError("mapping lookup failed")
	}
	if len(maps) > 0 {
		// 重複マッピングが残っている間は最古(mapping_id最小)を暫定採用。
		// 重複の解消は conflict サービスの仕事で、ここでは取り込みを止めない。
		m := maps[0]
		res := Resolution{Resolved: true, DeviceID: deviceID, PersonID: m.PersonID, PersonRole: m.PersonRole}
		s.audit.Record(ctx, audit.Entry{
			OperationType: audit.OpIdentityResolved,
			SubjectID:     deviceID,
			ServiceName:   "identity",
			Details: map[string]any{
				"person_id":   m.PersonID,
				"person_role": m.PersonRole,
				"ambiguous":   len(maps) > 1,
			},
		})
		return res, nil
	}

	name := normalizeRawName(rawName)
	if err := s.buffer.UpsertSeen(ctx, deviceID, name, s.clock.Now()); err != nil {
		return Resolution{}, NewInternalError("buffer upsert failed")
	}
	s.audit.Record(ctx, audit.Entry{
		OperationType: audit.OpIdentityBuffered,
		SubjectID:     deviceID,
		ServiceName:   "identity",
		Details:       map[string]any{"raw_name": name},
	})
	return Resolution{Resolved: false, DeviceID: deviceID}, nil
}

func normalizeRawName(raw *string) *string {
	if raw == nil {
		return nil
	}
	n := strings.TrimSpace(width.Fold.String(*raw))
	if n == "" {
		return nil
	}
	return &n
}

// ===== 管理操作（管理画面が core の公開操作として叩く） =====

func (s *Service) CreateMapping(ctx context.Context, rawDeviceID, personID, personRole, actor string) (*Mapping, error) {
	deviceID := NormalizeDeviceID(rawDeviceID)
	if deviceID == "" {
		return nil, NewInvalidArgumentError("device_id is required")
	}
	if personID == "" {
		return nil, NewInvalidArgumentError("person_id is required")
	}
	if personRole != directory.RoleStaff && personRole != directory.RoleStudent {
		return nil, NewInvalidArgumentError("person_role must be staff or student")
	}

	p, err := s.people.GetByPersonID(ctx, personID, personRole)
	if err != nil {
		return nil, NewInternalError("directory lookup failed")
	}
	if p == nil {
		return nil, NewNotFoundError("person not found in directory")
	}
	if !p.Active {
		return nil, NewInvalidArgumentError("person is not active")
	}

	m := Mapping{
		DeviceID:     deviceID,
		PersonID:     personID,
		PersonRole:   personRole,
		RegisteredAt: s.clock.Now().UTC(),
	}
	id, err := s.mappings.InsertMapping(ctx, m)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, NewConflictError("identical mapping already exists")
		}
		return nil, NewInternalError("mapping insert failed")
	}
	m.MappingID = id

	// バッファに同じ端末IDが滞留していれば mapped へ昇格
	if _, err := s.buffer.MarkMapped(ctx, deviceID, personID); err != nil {
		return nil, NewInternalError("buffer promotion failed")
	}

	s.audit.Record(ctx, audit.Entry{
		OperationType: audit.OpMappingCreated,
		SubjectID:     deviceID,
		PerformedBy:   actor,
		ServiceName:   "identity",
		Details:       m,
	})
	return &m, nil
}

// DeleteMapping: 操作者の明示操作のみ。同期経路からは呼ばれない。
func (s *Service) DeleteMapping(ctx context.Context, rawDeviceID, actor string) (int64, error) {
	deviceID := NormalizeDeviceID(rawDeviceID)
	if deviceID == "" {
		return 0, NewInvalidArgumentError("device_id is required")
	}
	n, err := s.mappings.DeleteMappingsByDeviceID(ctx, deviceID)
	if err != nil {
		return 0, NewInternalError("mapping delete failed")
	}
	if n == 0 {
		return 0, NewNotFoundError("mapping not found")
	}
	s.audit.Record(ctx, audit.Entry{
		OperationType: audit.OpMappingDeleted,
		SubjectID:     deviceID,
		PerformedBy:   actor,
		ServiceName:   "identity",
		Details:       map[string]any{"deleted": n},
	})
	return n, nil
}

func (s *Service) ListMappings(ctx context.Context) ([]Mapping, error) {
	out, err := s.mappings.ListMappings(ctx)
	if err != nil {
		return nil, NewInternalError("failed to list mappings")
	}
	return out, nil
}

func (s *Service) ListUnmapped(ctx context.Context, limit, offset int) ([]BufferedIdentity, error) {
	out, err := s.buffer.ListUnmapped(ctx, limit, offset)
	if err != nil {
		return nil, NewInternalError("failed to list buffered identities")
	}
	return out, nil
}

// CleanupBuffer: 保持期間超過の未マッピング行を掃除する。
func (s *Service) CleanupBuffer(ctx context.Context, retentionDays int, actor string) (int64, error) {
	if retentionDays <= 0 {
		return 0, NewInvalidArgumentError("retention_days must be > 0")
	}
	cutoff := s.clock.Now().AddDate(0, 0, -retentionDays)
	n, err := s.buffer.PurgeUnmappedBefore(ctx, cutoff)
	if err != nil {
		return 0, NewInternalError("buffer cleanup failed")
	}
	s.audit.Record(ctx, audit.Entry{
		OperationType: audit.OpBufferCleanup,
		SubjectID:     "buffered_identities",
		PerformedBy:   actor,
		ServiceName:   "identity",
		Details:       map[string]any{"purged": n, "cutoff": cutoff.UTC()},
	})
	return n, nil
}

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return false
}
