package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/schedule"
	"github.com/utestwalter/Mila/internal/transport"
)

func TestPreviewSchedule(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	err := previewSchedule(&buf, `{"type":"daily","hour":8,"minute":0,"timezone":"UTC"}`, "UTC", 2, now)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "08:00 UTC daily", lines[0])
	assert.Equal(t, "2026-10-17 08:00 UTC (Sat)", strings.TrimSpace(lines[1]))
	assert.Equal(t, "2026-10-18 08:00 UTC (Sun)", strings.TrimSpace(lines[2]))
}

func TestPreviewScheduleRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		tz   string
	}{
		{name: "not json", raw: "daily at 8", tz: "UTC"},
		{name: "unknown type", raw: `{"type":"hourly"}`, tz: "UTC"},
		{name: "bad fallback zone", raw: `{"type":"daily","hour":8,"minute":0}`, tz: "Mars/Olympus"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			if err := previewSchedule(&buf, tt.raw, tt.tz, 3, time.Now()); err == nil {
				t.Fatalf("expected error, got output %q", buf.String())
			}
		})
	}
}

func TestPrintTaskReminder(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	def := storage.TaskDefinition{
		ID:           "alice_water",
		Owner:        "alice",
		Instructions: "Water the plants",
		Schedule:     schedule.Daily{Hour: 9, Timezone: "UTC"},
		Recipient:    transport.ChatTarget{ChatID: 42},
	}

	var buf bytes.Buffer
	printTask(&buf, def, time.UTC, now)
	out := buf.String()
	assert.Contains(t, out, "id:        alice_water")
	assert.Contains(t, out, "query:     (reminder)")
	assert.Contains(t, out, "schedule:  09:00 UTC daily")
	assert.Contains(t, out, "next run:  2026-10-17T09:00:00Z")
	assert.Contains(t, out, "Water the plants")
	assert.NotContains(t, out, "created:")
}
