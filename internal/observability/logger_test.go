package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromFallsBackToNop(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected non-nil fallback logger")
	}

	l := zap.NewExample()
	ctx := ToContext(context.Background(), l)
	if From(ctx) != l {
		t.Fatalf("expected logger from context")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	l := NewLogger(LogConfig{Env: "prod", Level: "warn", Service: "portal"})
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !l.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("error should be enabled at warn level")
	}
}
