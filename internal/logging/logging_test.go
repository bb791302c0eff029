package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"chatty":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPionFactory_ScopesAndDemotesInfo(t *testing.T) {
	var buf bytes.Buffer
	f := PionFactory{Logger: zerolog.New(&buf).Level(zerolog.TraceLevel)}

	l := f.NewLogger("ice")
	l.Infof("gathering %d candidates", 3)
	l.Warn("slow")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first["level"] != "debug" || first["scope"] != "ice" || first["module"] != "pion" {
		t.Errorf("unexpected fields %v", first)
	}
	if first["message"] != "gathering 3 candidates" {
		t.Errorf("unexpected message %v", first["message"])
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if second["level"] != "warn" {
		t.Errorf("expected warn, got %v", second["level"])
	}
}
