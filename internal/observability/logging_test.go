package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "text", Output: &buf})

	logger.Info(context.Background(), "auth", "value", "api_key=abcdef0123456789abcdef")
	out := buf.String()
	if strings.Contains(out, "abcdef0123456789abcdef") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in output: %s", out)
	}
}

func TestLogger_ContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "text", Output: &buf})

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithChatID(ctx, "chat-7")
	ctx = WithUserID(ctx, "user-9")
	logger.Info(ctx, "processing")

	out := buf.String()
	for _, want := range []string{"request_id=req-1", "chat_id=chat-7", "user_id=user-9"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output: %s", want, out)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Debug(context.Background(), "invisible")
	logger.Info(context.Background(), "also invisible")
	logger.Warn(context.Background(), "visible warning")

	out := buf.String()
	if strings.Contains(out, "invisible") {
		t.Errorf("below-threshold records leaked: %s", out)
	}
	if !strings.Contains(out, "visible warning") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestLogger_SensitiveMapKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	logger.Info(context.Background(), "settings", "payload", map[string]any{
		"static_token": "super-secret-value",
		"username":     "alice",
	})
	out := buf.String()
	if strings.Contains(out, "super-secret-value") {
		t.Errorf("sensitive map value leaked: %s", out)
	}
	if !strings.Contains(out, "alice") {
		t.Errorf("benign value dropped: %s", out)
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" || ChatID(ctx) != "" || UserID(ctx) != "" {
		t.Error("empty context should yield empty IDs")
	}
}
