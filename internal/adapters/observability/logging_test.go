package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLogger_JSONInProd(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "prod", "info")
	l.Info().Str("k", "v").Msg("hello")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if m["message"] != "hello" || m["k"] != "v" || m["app"] != "padu" {
		t.Fatalf("unexpected fields: %+v", m)
	}
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "prod", "warn")
	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	l.Warn().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn should pass, got %q", buf.String())
	}
}

func TestNewLogger_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "dev", "loud")
	l.Debug().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at default level, got %q", buf.String())
	}
}
