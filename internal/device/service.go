package device

import (
	"context"
	"log"

	"SAMS-backend/internal/attendance"
	"SAMS-backend/internal/identity"
)

const (
	SourcePush    = "device-push"
	SourceWebhook = "webhook"
	SourceImport  = "import"
)

// Summary は1バッチの取り込み集計。行単位の失敗は数えるだけで
// バッチ全体を失敗させない。
type Summary struct {
	Processed     int `json:"processed"`
	Applied       int `json:"applied"`
	Buffered      int `json:"buffered"`
	Skipped       int `json:"skipped"`
	ParseFailures int `json:"parse_failures"`
	Failed        int `json:"failed"`
}

// ===== インターフェース群 =====

type Resolver interface {
	Resolve(ctx context.Context, rawDeviceID string, rawName *string) (identity.Resolution, error)
}

type Ledger interface {
	Apply(ctx context.Context, ev attendance.ResolvedEvent) (attendance.ApplyResult, error)
}

// ===== Service =====

// Service は端末イベントを Resolver → ステートマシンへ流す取り込み口。
// TCPリスナ・Webhook・一括取り込みの3チャネルが全てここを通る。
type Service struct {
	resolver Resolver
	ledger   Ledger
}

func NewService(resolver Resolver, ledger Ledger) *Service {
	return &Service{resolver: resolver, ledger: ledger}
}

// IngestBatch: 構文解析済みイベント列の適用。イベントは来た順に処理する
// （ステートマシン側が鍵単位で冪等なので順序の乱れには耐える）。
func (s *Service) IngestBatch(ctx context.Context, events []ParsedEvent, source string) Summary {
	var sum Summary
	for _, ev := range events {
		sum.Processed++
		s.ingestOne(ctx, ev, source, &sum)
	}
	return sum
}

func (s *Service) ingestOne(ctx context.Context, ev ParsedEvent, source string, sum *Summary) {
	res, err := s.resolver.Resolve(ctx, ev.DeviceID, ev.RawName)
	if err != nil {
		sum.Failed++
		log.Printf("[WARN] device: resolve failed device_id=%q: %v", ev.DeviceID, err)
		return
	}
	if !res.Resolved {
		// 未マッピング。滞留バッファに積まれており、イベントは捨てられていない
		sum.Buffered++
		return
	}

	result, err := s.ledger.Apply(ctx, attendance.ResolvedEvent{
		PersonID:      res.PersonID,
		PersonRole:    res.PersonRole,
		At:            ev.At,
		Source:        source,
		VerifyMode:    ev.VerifyMode,
		DirectionHint: ev.DirectionHint,
	})
	if err != nil {
		sum.Failed++
		log.Printf("[WARN] device: apply failed person=%s/%s: %v", res.PersonRole, res.PersonID, err)
		return
	}
	if result.Outcome == attendance.OutcomeSkippedTerminal {
		sum.Skipped++
		return
	}
	sum.Applied++
}
