package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("Invalid log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}
	for name, want := range cases {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf}).DataSourceLogger("clip.mp4")

	l.LogOperation("load_schema", 3*time.Millisecond, 4, nil)
	l.LogOperation("push", time.Millisecond, 0, errors.New("disk full"))

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(lines))
	}
	ok, failed := lines[0], lines[1]
	if ok["level"] != "debug" || ok["operation"] != "load_schema" || ok["record_count"] != float64(4) {
		t.Errorf("Unexpected success line: %v", ok)
	}
	if ok["component"] != "datasource" || ok["file"] != "clip.mp4" || ok["service"] != "metastream" {
		t.Errorf("Missing context fields: %v", ok)
	}
	if failed["level"] != "error" || failed["error"] != "disk full" {
		t.Errorf("Unexpected failure line: %v", failed)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.Info().Msg("hidden")
	l.LogOperation("save_schema", time.Millisecond, 1, nil)
	l.Warn().Msg("shown")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "shown" {
		t.Errorf("Expected only the warning, got %v", lines)
	}
}

func TestComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Output: &buf}).EnvelopeLogger().WithFields(map[string]interface{}{"layer": 2})
	l.Info().Msg("unwrapped")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if lines[0]["component"] != "envelope" || lines[0]["layer"] != float64(2) {
		t.Errorf("Unexpected fields: %v", lines[0])
	}
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	if l == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	// must not panic
	l.Component("x").LogOperation("open", 0, 0, errors.New("ignored"))

	configured := NewLogger(Config{Output: &bytes.Buffer{}})
	if OrNop(configured) != configured {
		t.Error("OrNop replaced a non-nil logger")
	}
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	InitGlobalLogger(Config{Level: "info", Output: &buf})
	GetGlobalLogger().LogServerShutdown()

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["event"] != "server_shutdown" {
		t.Errorf("Unexpected global output: %v", lines)
	}
}
