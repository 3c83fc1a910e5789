package device

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

func TestParsePushLine(t *testing.T) {
	ev, err := parsePushLine("ATTLOG\t17\t2024-09-11 08:10:00\tfingerprint\tin")
	require.NoError(t, err)
	assert.Equal(t, "17", ev.DeviceID)
	assert.Equal(t, time.Date(2024, 9, 11, 8, 10, 0, 0, time.UTC), ev.At)
	assert.Equal(t, "fingerprint", ev.VerifyMode)
	assert.Equal(t, "in", ev.DirectionHint)
}

func TestParsePushLineOptionalFields(t *testing.T) {
	ev, err := parsePushLine("ATTLOG\t17\t2024-09-11 08:10:00")
	require.NoError(t, err)
	assert.Empty(t, ev.VerifyMode)
	assert.Empty(t, ev.DirectionHint)
}

func TestParsePushLineMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"OPLOG\t17\t2024-09-11 08:10:00",
		"ATTLOG\t17",
		"ATTLOG\t\t2024-09-11 08:10:00",
		"ATTLOG\t17\tyesterday",
	} {
		_, err := parsePushLine(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestParseImportLineDelimiters(t *testing.T) {
	want := time.Date(2024, 9, 11, 8, 10, 0, 0, time.UTC)

	tests := []struct {
		name string
		line string
	}{
		{"tab", "17\t2024-09-11 08:10:00"},
		{"comma", "17,2024-09-11 08:10:00"},
		{"whitespace splits date and time", "17 2024-09-11 08:10:00"},
		{"slash date", "17\t2024/09/11 08:10:00"},
		{"iso", "17,2024-09-11T08:10:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := parseImportLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, "17", ev.DeviceID)
			assert.Equal(t, want, ev.At)
		})
	}
}

func TestParseImportLineExtras(t *testing.T) {
	ev, err := parseImportLine("17\t2024-09-11 08:10:00\t1\t0\tAbebe Bikila")
	require.NoError(t, err)
	assert.Equal(t, "1", ev.VerifyMode)
	assert.Equal(t, "0", ev.DirectionHint)
	require.NotNil(t, ev.RawName)
	assert.Equal(t, "Abebe Bikila", *ev.RawName)
}

func TestParseImportSkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		"# exported 2024-09-11",
		"17\t2024-09-11 08:10:00",
		"not a record at all",
		"",
		"42\t2024-09-11 08:12:00",
	}, "\n")

	events, parseFailures, err := ParseImport(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, 1, parseFailures)
}

func TestParseImportShiftJIS(t *testing.T) {
	// Shift_JIS の氏名カラムを含む行をエンコードして食わせる
	utf8Line := "17\t2024-09-11 08:10:00\t1\t0\t山田太郎\n"
	encoded, _, err := transform.String(japanese.ShiftJIS.NewEncoder(), utf8Line)
	require.NoError(t, err)

	events, parseFailures, err := ParseImport(strings.NewReader(encoded))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 0, parseFailures)
	require.NotNil(t, events[0].RawName)
	assert.Equal(t, "山田太郎", *events[0].RawName)
}
