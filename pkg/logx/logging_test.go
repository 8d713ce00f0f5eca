package logx

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"nonsense", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
				t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"error","time":"x","message":"delivery failed","task":"alice_news","err":"boom"}`)
	got := formatTelegramJSON(line)
	want := "[ERROR] delivery failed\n- err=boom\n- task=alice_news"
	if got != want {
		t.Fatalf("formatTelegramJSON = %q, want %q", got, want)
	}

	if got := formatTelegramJSON([]byte("  not json \n")); got != "not json" {
		t.Fatalf("raw fallback = %q", got)
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("é", 20)
	got := truncate(s, 12)
	if got != strings.Repeat("é", 9)+"..." {
		t.Fatalf("truncate = %q", got)
	}
	if truncate("short", 12) != "short" {
		t.Fatalf("short string changed")
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "scheduler"))
	l.Info("fired", String("task", "alice_x"), Err(errors.New("late")))

	out := buf.String()
	for _, want := range []string{`"comp":"scheduler"`, `"task":"alice_x"`, `"err":"late"`, `"message":"fired"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line %q missing %s", out, want)
		}
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	if Nop().IsZero() {
		t.Fatalf("Nop logger is not zero")
	}
}

func TestCronLoggerPairs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Cron(NewWriter(&buf, "debug")).Error(errors.New("panic"), "job failed", "task", "a_b", "dangling")
	out := buf.String()
	if !strings.Contains(out, `"task":"a_b"`) || !strings.Contains(out, `"extra":"dangling"`) {
		t.Fatalf("unexpected output %q", out)
	}
}
