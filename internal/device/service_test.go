package device

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SAMS-backend/internal/attendance"
	"SAMS-backend/internal/identity"
	"SAMS-backend/internal/platform/db"
)

type fakeResolver struct {
	mapped map[string]identity.Resolution // deviceID -> 解決結果
	failOn map[string]bool
}

func (f *fakeResolver) Resolve(_ context.Context, rawDeviceID string, _ *string) (identity.Resolution, error) {
	if f.failOn[rawDeviceID] {
		return identity.Resolution{}, errors.New("resolver down")
	}
	if res, ok := f.mapped[rawDeviceID]; ok {
		return res, nil
	}
	return identity.Resolution{Resolved: false, DeviceID: rawDeviceID}, nil
}

type fakeLedger struct {
	events   []attendance.ResolvedEvent
	terminal map[string]bool // personID -> 既に終端
	failOn   map[string]bool
}

func (f *fakeLedger) Apply(_ context.Context, ev attendance.ResolvedEvent) (attendance.ApplyResult, error) {
	if f.failOn[ev.PersonID] {
		return attendance.ApplyResult{}, errors.New("ledger down")
	}
	f.events = append(f.events, ev)
	if f.terminal[ev.PersonID] {
		return attendance.ApplyResult{Outcome: attendance.OutcomeSkippedTerminal}, nil
	}
	return attendance.ApplyResult{Outcome: attendance.OutcomeCheckedIn, Status: attendance.StatusPresent}, nil
}

func resolved(personID, role string) identity.Resolution {
	return identity.Resolution{Resolved: true, PersonID: personID, PersonRole: role}
}

func eventFor(deviceID string) ParsedEvent {
	return ParsedEvent{DeviceID: deviceID, At: time.Date(2024, 9, 11, 8, 10, 0, 0, time.UTC)}
}

func TestIngestBatchCounts(t *testing.T) {
	resolver := &fakeResolver{
		mapped: map[string]identity.Resolution{
			"17": resolved("S-1", "student"),
			"42": resolved("T-1", "staff"),
			"99": resolved("T-2", "staff"),
		},
		failOn: map[string]bool{"13": true},
	}
	ledger := &fakeLedger{
		terminal: map[string]bool{"T-1": true},
		failOn:   map[string]bool{"T-2": true},
	}
	svc := NewService(resolver, ledger)

	sum := svc.IngestBatch(context.Background(), []ParsedEvent{
		eventFor("17"), // 適用される
		eventFor("42"), // 終端スキップ
		eventFor("55"), // 未マッピング → バッファ
		eventFor("13"), // resolver障害
		eventFor("99"), // 台帳障害
	}, SourcePush)

	assert.Equal(t, 5, sum.Processed)
	assert.Equal(t, 1, sum.Applied)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Buffered)
	assert.Equal(t, 2, sum.Failed)
}

func TestIngestBatchPropagatesFields(t *testing.T) {
	resolver := &fakeResolver{mapped: map[string]identity.Resolution{"17": resolved("S-1", "student")}}
	ledger := &fakeLedger{}
	svc := NewService(resolver, ledger)

	ev := eventFor("17")
	ev.VerifyMode = "fingerprint"
	ev.DirectionHint = "in"
	svc.IngestBatch(context.Background(), []ParsedEvent{ev}, SourceImport)

	require.Len(t, ledger.events, 1)
	got := ledger.events[0]
	assert.Equal(t, "S-1", got.PersonID)
	assert.Equal(t, SourceImport, got.Source)
	assert.Equal(t, "fingerprint", got.VerifyMode)
	assert.Equal(t, "in", got.DirectionHint)
	assert.Equal(t, ev.At, got.At)
}

func TestListenerBatchAck(t *testing.T) {
	resolver := &fakeResolver{mapped: map[string]identity.Resolution{"17": resolved("S-1", "student")}}
	ledger := &fakeLedger{}
	l := NewListener(NewService(resolver, ledger), db.DeviceConfig{ReadTimeoutSeconds: 2})

	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.handleConn(context.Background(), server)
	}()

	_, err := client.Write([]byte(
		"ATTLOG\t17\t2024-09-11 08:10:00\tfingerprint\tin\n" +
			"ATTLOG\t55\t2024-09-11 08:11:00\n" +
			"garbage line\n" +
			"\n"))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	ack, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	// 適用1 + バッファ1、壊れた行は構文エラーとして読み飛ばし
	assert.Equal(t, "OK:1:1\n", ack)

	require.NoError(t, client.Close())
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not exit after connection close")
	}
	require.Len(t, ledger.events, 1)
}
