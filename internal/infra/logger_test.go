package infra

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		env, level string
		want       zerolog.Level
	}{
		{"production", "", zerolog.InfoLevel},
		{"development", "", zerolog.DebugLevel},
		{"production", "WARN", zerolog.WarnLevel},
		{"production", "loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		l := newLogger(&bytes.Buffer{}, tt.env, tt.level)
		if got := l.GetLevel(); got != tt.want {
			t.Fatalf("level(%q, %q) = %s, want %s", tt.env, tt.level, got, tt.want)
		}
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "production", "")
	l.Info().Str("task_id", "T1").Msg("orchestrator: task accepted")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry["service"] != "genstudio" || entry["task_id"] != "T1" {
		t.Fatalf("entry = %v", entry)
	}
}
