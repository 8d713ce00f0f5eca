package schedule

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func mustCompile(t *testing.T, s Spec) Trigger {
	t.Helper()
	tr, err := Compile(s, time.UTC)
	require.NoError(t, err)
	return tr
}

func TestNextRecurring(t *testing.T) {
	t.Parallel()

	utc := time.UTC
	tests := []struct {
		name  string
		spec  Spec
		after time.Time
		want  time.Time
	}{
		{
			name:  "daily later today",
			spec:  Daily{Hour: 18, Minute: 0, Timezone: "UTC"},
			after: time.Date(2026, 10, 16, 9, 0, 0, 0, utc),
			want:  time.Date(2026, 10, 16, 18, 0, 0, 0, utc),
		},
		{
			name:  "daily already passed rolls to tomorrow",
			spec:  Daily{Hour: 8, Minute: 30, Timezone: "UTC"},
			after: time.Date(2026, 10, 16, 9, 0, 0, 0, utc),
			want:  time.Date(2026, 10, 17, 8, 30, 0, 0, utc),
		},
		{
			name:  "daily exactly now is not returned",
			spec:  Daily{Hour: 9, Minute: 0, Timezone: "UTC"},
			after: time.Date(2026, 10, 16, 9, 0, 0, 0, utc),
			want:  time.Date(2026, 10, 17, 9, 0, 0, 0, utc),
		},
		{
			name:  "weekly same weekday after the time goes to next week",
			spec:  Weekly{Weekday: time.Wednesday, Hour: 9, Minute: 0, Timezone: "UTC"},
			after: time.Date(2026, 10, 14, 10, 0, 0, 0, utc), // Wednesday
			want:  time.Date(2026, 10, 21, 9, 0, 0, 0, utc),
		},
		{
			name:  "weekly same weekday before the time fires today",
			spec:  Weekly{Weekday: time.Wednesday, Hour: 11, Minute: 15, Timezone: "UTC"},
			after: time.Date(2026, 10, 14, 10, 0, 0, 0, utc),
			want:  time.Date(2026, 10, 14, 11, 15, 0, 0, utc),
		},
		{
			name:  "monthly day 31 skips a 30 day month",
			spec:  Monthly{Day: 31, Hour: 9, Minute: 0, Timezone: "UTC"},
			after: time.Date(2026, 4, 10, 0, 0, 0, 0, utc),
			want:  time.Date(2026, 5, 31, 9, 0, 0, 0, utc),
		},
		{
			name:  "monthly day 31 skips february",
			spec:  Monthly{Day: 31, Hour: 9, Minute: 0, Timezone: "UTC"},
			after: time.Date(2026, 1, 31, 10, 0, 0, 0, utc),
			want:  time.Date(2026, 3, 31, 9, 0, 0, 0, utc),
		},
		{
			name:  "monthly day 29 in a common year",
			spec:  Monthly{Day: 29, Hour: 7, Minute: 0, Timezone: "UTC"},
			after: time.Date(2027, 2, 1, 0, 0, 0, 0, utc),
			want:  time.Date(2027, 3, 29, 7, 0, 0, 0, utc),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := mustCompile(t, tt.spec).Next(tt.after)
			assert.True(t, got.Equal(tt.want), "Next = %v, want %v", got, tt.want)
			assert.True(t, got.After(tt.after))
		})
	}
}

func TestNextUsesDeclaredZone(t *testing.T) {
	t.Parallel()

	tokyo := mustLoc(t, "Asia/Tokyo")
	tr := mustCompile(t, Daily{Hour: 8, Minute: 0, Timezone: "Asia/Tokyo"})

	// 2026-10-16 00:00 UTC is 09:00 in Tokyo, so 08:00 local already passed.
	got := tr.Next(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))
	want := time.Date(2026, 10, 17, 8, 0, 0, 0, tokyo)
	assert.True(t, got.Equal(want), "Next = %v, want %v", got, want)
	assert.Equal(t, tokyo.String(), tr.Location().String())
}

func TestDSTGapShiftsToTransition(t *testing.T) {
	t.Parallel()

	ny := mustLoc(t, "America/New_York")
	tr := mustCompile(t, Daily{Hour: 2, Minute: 30, Timezone: "America/New_York"})

	// 2026-03-08: clocks jump from 02:00 EST to 03:00 EDT.
	got := tr.Next(time.Date(2026, 3, 8, 0, 0, 0, 0, ny))
	assert.True(t, got.Equal(time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC)), "got %v", got)
	assert.Equal(t, 3, got.In(ny).Hour())
	assert.Equal(t, 0, got.In(ny).Minute())

	// The next day is back to the regular 02:30.
	next := tr.Next(got)
	assert.True(t, next.Equal(time.Date(2026, 3, 9, 6, 30, 0, 0, time.UTC)), "got %v", next)
}

func TestDSTAmbiguousTakesEarlierInstant(t *testing.T) {
	t.Parallel()

	ny := mustLoc(t, "America/New_York")
	tr := mustCompile(t, Daily{Hour: 1, Minute: 30, Timezone: "America/New_York"})

	// 2026-11-01: 01:30 happens twice (EDT, then EST).
	got := tr.Next(time.Date(2026, 11, 1, 0, 0, 0, 0, ny))
	assert.True(t, got.Equal(time.Date(2026, 11, 1, 5, 30, 0, 0, time.UTC)), "got %v", got)

	// The repeated hour does not fire a second time.
	next := tr.Next(got)
	assert.True(t, next.Equal(time.Date(2026, 11, 2, 6, 30, 0, 0, time.UTC)), "got %v", next)
}

func TestOnceTrigger(t *testing.T) {
	t.Parallel()

	berlin := mustLoc(t, "Europe/Berlin")
	tr := mustCompile(t, Once{At: LocalTime{Year: 2025, Month: time.July, Day: 29, Hour: 8}, Timezone: "Europe/Berlin"})
	once, ok := tr.(*OnceTrigger)
	require.True(t, ok)
	assert.False(t, tr.Recurring())

	want := time.Date(2025, 7, 29, 8, 0, 0, 0, berlin)
	assert.True(t, once.At().Equal(want))

	before := want.Add(-time.Hour)
	assert.True(t, tr.Next(before).Equal(want))
	assert.False(t, once.Missed(before))

	assert.True(t, tr.Next(want).IsZero())
	assert.True(t, once.Missed(want.Add(time.Minute)))
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	n := func(v int) *int { return &v }
	tests := []struct {
		name string
		wire Wire
		want error
	}{
		{"hour 24", Wire{Type: "daily", Hour: n(24), Minute: n(0)}, ErrOutOfRange},
		{"minute 60", Wire{Type: "daily", Hour: n(8), Minute: n(60)}, ErrOutOfRange},
		{"negative hour", Wire{Type: "weekly", DayOfWeek: "monday", Hour: n(-1), Minute: n(0)}, ErrOutOfRange},
		{"day 0", Wire{Type: "monthly", Day: n(0), Hour: n(8), Minute: n(0)}, ErrOutOfRange},
		{"day 32", Wire{Type: "monthly", Day: n(32), Hour: n(8), Minute: n(0)}, ErrOutOfRange},
		{"bad weekday", Wire{Type: "weekly", DayOfWeek: "funday", Hour: n(8), Minute: n(0)}, ErrInvalidDayOfWeek},
		{"missing weekday", Wire{Type: "weekly", Hour: n(8), Minute: n(0)}, ErrMissingField},
		{"missing hour", Wire{Type: "daily", Minute: n(0)}, ErrMissingField},
		{"missing day", Wire{Type: "monthly", Hour: n(8), Minute: n(0)}, ErrMissingField},
		{"missing datetime", Wire{Type: "once"}, ErrMissingField},
		{"impossible date", Wire{Type: "once", Datetime: "2025-02-30T10:00:00"}, ErrOutOfRange},
		{"unknown kind", Wire{Type: "yearly"}, ErrUnknownKind},
		{"no kind", Wire{}, ErrMissingField},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.wire.Decode()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var ce *ConstructionError
			assert.True(t, errors.As(err, &ce))
		})
	}
}

func TestCompileRejectsUnknownZone(t *testing.T) {
	t.Parallel()

	_, err := Compile(Daily{Hour: 8, Timezone: "Mars/Olympus"}, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidTimezone)

	// Out-of-range values built directly (not decoded) are caught too.
	_, err = Compile(Monthly{Day: 40, Hour: 8}, time.UTC)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDecodeWeekdayNames(t *testing.T) {
	t.Parallel()

	n := func(v int) *int { return &v }
	for _, name := range []string{"tuesday", "Tuesday", "TUE", " tues "} {
		s, err := Wire{Type: "weekly", DayOfWeek: name, Hour: n(8), Minute: n(30), Timezone: "US/Eastern"}.Decode()
		require.NoError(t, err, name)
		assert.Equal(t, time.Tuesday, s.(Weekly).Weekday)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	specs := []Spec{
		Once{At: LocalTime{Year: 2025, Month: time.July, Day: 29, Hour: 8}, Timezone: "Europe/Berlin"},
		Weekly{Weekday: time.Sunday, Hour: 23, Minute: 59, Timezone: "UTC"},
		Monthly{Day: 31, Hour: 0, Minute: 0},
	}
	for _, s := range specs {
		got, err := Encode(s).Decode()
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	assert.Equal(t, "2025-07-29T08:00:00", Encode(specs[0]).Datetime)
	assert.Equal(t, "sunday", Encode(specs[1]).DayOfWeek)
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2025-07-29T08:00:00 Europe/Berlin",
		Describe(Once{At: LocalTime{Year: 2025, Month: time.July, Day: 29, Hour: 8}, Timezone: "Europe/Berlin"}))
	assert.Equal(t, "08:30 US/Eastern daily", Describe(Daily{Hour: 8, Minute: 30, Timezone: "US/Eastern"}))
	assert.Equal(t, "09:05 UTC weekly (friday)", Describe(Weekly{Weekday: time.Friday, Hour: 9, Minute: 5}))
	assert.Equal(t, "07:00 UTC monthly (day 1)", Describe(Monthly{Day: 1, Hour: 7}))
}

func TestPreview(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	runs := Preview(mustCompile(t, Daily{Hour: 6}), now, 3)
	require.Len(t, runs, 3)
	for i, r := range runs {
		assert.True(t, r.Equal(time.Date(2026, 10, 17+i, 6, 0, 0, 0, time.UTC)))
	}

	once := mustCompile(t, Once{At: LocalTime{Year: 2026, Month: time.December, Day: 1, Hour: 6}})
	assert.Len(t, Preview(once, now, 5), 1)
}
