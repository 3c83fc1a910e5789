package device

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// ParsedEvent は端末行1件の構文解析結果。識別子の正規化や
// 人物解決はここでは行わない（Resolver の仕事）。
type ParsedEvent struct {
	DeviceID      string
	RawName       *string
	At            time.Time
	VerifyMode    string
	DirectionHint string
}

// 端末ソフトの世代ごとに時刻書式が違う。上から順に試す。
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
	"02-01-2006 15:04:05",
}

func parseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parsePushLine: TCPプッシュの1レコード。
// ATTLOG<TAB>deviceID<TAB>timestamp[<TAB>verifyMode[<TAB>directionHint]]
func parsePushLine(line string) (ParsedEvent, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) < 3 || fields[0] != "ATTLOG" {
		return ParsedEvent{}, fmt.Errorf("malformed push record %q", line)
	}
	deviceID := strings.TrimSpace(fields[1])
	if deviceID == "" {
		return ParsedEvent{}, fmt.Errorf("empty device id in %q", line)
	}
	at, ok := parseTimestamp(fields[2])
	if !ok {
		return ParsedEvent{}, fmt.Errorf("bad timestamp %q", fields[2])
	}
	ev := ParsedEvent{DeviceID: deviceID, At: at}
	if len(fields) > 3 {
		ev.VerifyMode = strings.TrimSpace(fields[3])
	}
	if len(fields) > 4 {
		ev.DirectionHint = strings.TrimSpace(fields[4])
	}
	return ev, nil
}

// splitColumns: 行単位の区切り文字推定。タブ > カンマ > 連続空白の順。
func splitColumns(line string) []string {
	switch {
	case strings.Contains(line, "\t"):
		return strings.Split(line, "\t")
	case strings.Contains(line, ","):
		return strings.Split(line, ",")
	default:
		return strings.Fields(line)
	}
}

// parseImportLine: USB/一括取り込みの1行。
// deviceID, timestamp[, verifyMode[, directionHint]][, name]
// 日付と時刻が別カラムに割れている書式（空白区切り起因）も連結して救済する。
func parseImportLine(line string) (ParsedEvent, error) {
	cols := splitColumns(strings.TrimSpace(line))
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	if len(cols) < 2 {
		return ParsedEvent{}, fmt.Errorf("too few columns in %q", line)
	}
	deviceID := cols[0]
	if deviceID == "" {
		return ParsedEvent{}, fmt.Errorf("empty device id in %q", line)
	}

	rest := cols[1:]
	at, ok := parseTimestamp(rest[0])
	if !ok && len(rest) >= 2 {
		at, ok = parseTimestamp(rest[0] + " " + rest[1])
		if ok {
			rest = rest[1:]
		}
	}
	if !ok {
		return ParsedEvent{}, fmt.Errorf("no parsable timestamp in %q", line)
	}
	rest = rest[1:]

	ev := ParsedEvent{DeviceID: deviceID, At: at}
	for _, col := range rest {
		if col == "" {
			continue
		}
		if isNumeric(col) {
			if ev.VerifyMode == "" {
				ev.VerifyMode = col
			} else if ev.DirectionHint == "" {
				ev.DirectionHint = col
			}
			continue
		}
		if ev.RawName == nil {
			name := col
			ev.RawName = &name
		}
	}
	return ev, nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ParseImport: フラットファイル全体。行ごとの失敗は数えて読み飛ばす。
// 端末ソフトのエクスポートは Shift_JIS のことがあるため、UTF-8 として
// 不正なバイト列を含む場合はデコードして読み直す。
func ParseImport(r io.Reader) ([]ParsedEvent, int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if !utf8.Valid(raw) {
		decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
		if err == nil {
			raw = decoded
		}
	}

	var (
		events       []ParsedEvent
		parseFailures int
	)
	sc := bufio.NewScanner(strings.NewReader(string(raw)))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ev, err := parseImportLine(line)
		if err != nil {
			parseFailures++
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return events, parseFailures, err
	}
	return events, parseFailures, nil
}
