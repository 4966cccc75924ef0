package infra

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerOrNopFallsBackToDiscard(t *testing.T) {
	l := LoggerOrNop(nil)
	if l == nil {
		t.Fatal("expected a logger for nil input")
	}
	if l.GetLevel() != zerolog.Disabled {
		t.Fatalf("level = %s, want disabled", l.GetLevel())
	}
	if LoggerOrNop(nil) != NopLogger() {
		t.Fatal("nil input should share the discarding logger")
	}
}

func TestLoggerOrNopKeepsCallerLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	got := LoggerOrNop(&logger)
	if got != &logger {
		t.Fatal("caller logger was replaced")
	}
	got.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"message":"hello"`) {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}
