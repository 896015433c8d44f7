package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestPrintf_JSONLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := Printf{L: New(Config{Level: "info", Format: "json", Output: &buf})}

	p.Printf("stage=ddl ok run_id=%s", "r1")
	p.Printf("stage=file status=error path=%s err=%v\n", "/x.json", "boom")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d, want 2: %q", len(lines), buf.String())
	}

	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("line 1: %v", err)
	}
	if first["level"] != "info" || first["message"] != "stage=ddl ok run_id=r1" {
		t.Fatalf("first=%v", first)
	}
	if second["level"] != "error" || second["message"] != "stage=file status=error path=/x.json err=boom" {
		t.Fatalf("second=%v", second)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := Printf{L: New(Config{Level: "error", Format: "json", Output: &buf})}
	p.Printf("stage=ddl ok")
	if buf.Len() != 0 {
		t.Fatalf("info message should be filtered at error level: %q", buf.String())
	}
	p.Printf("status=error x")
	if buf.Len() == 0 {
		t.Fatalf("error message should pass")
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := Printf{L: New(Config{Format: "console", Output: &buf})}
	p.Printf("stage=song_data ok files=%d", 3)

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Fatalf("console output should not be JSON: %q", out)
	}
	if !strings.Contains(out, "stage=song_data ok files=3") || !strings.Contains(out, "INF") {
		t.Fatalf("out=%q", out)
	}
}
