package device

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"SAMS-backend/internal/platform/db"
)

// Listener は実端末のプッシュ接続を受けるTCP口。
// 改行区切りのタグ付きレコードが流れ、空行（またはEOF）がバッチ境界。
// バッチごとに `OK:<accepted>:<buffered>` を返す。
type Listener struct {
	svc         *Service
	addr        string
	readTimeout time.Duration
}

func NewListener(svc *Service, cfg db.DeviceConfig) *Listener {
	timeout := time.Duration(cfg.ReadTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Listener{svc: svc, addr: cfg.ListenAddr, readTimeout: timeout}
}

// Run: ctx のキャンセルでリスナを閉じて抜ける。接続ごとに goroutine。
func (l *Listener) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("device listener: %w", err)
	}
	log.Printf("[INFO] device listener on %s", l.addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[WARN] device listener accept: %v", err)
			continue
		}
		go l.handleConn(ctx, conn)
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var (
		batch         []ParsedEvent
		parseFailures int
	)
	flush := func() {
		if len(batch) == 0 && parseFailures == 0 {
			return
		}
		sum := l.svc.IngestBatch(ctx, batch, SourcePush)
		sum.ParseFailures = parseFailures
		accepted := sum.Applied + sum.Skipped
		if _, err := fmt.Fprintf(conn, "OK:%d:%d\n", accepted, sum.Buffered); err != nil {
			log.Printf("[WARN] device listener ack: %v", err)
		}
		batch = batch[:0]
		parseFailures = 0
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), 256*1024)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
			return
		}
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			flush()
			continue
		}
		ev, err := parsePushLine(line)
		if err != nil {
			parseFailures++
			continue
		}
		batch = append(batch, ev)
	}
	// EOF・タイムアウトでもバッチは取りこぼさない
	flush()
}
