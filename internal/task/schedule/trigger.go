package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger computes firing instants for a compiled Spec. It satisfies
// cron.Schedule: Next returns the first instant strictly after t, or the
// zero time when nothing is left to fire.
type Trigger interface {
	cron.Schedule
	Spec() Spec
	Location() *time.Location
	Recurring() bool
}

// OnceTrigger is the compiled form of Once. At may lie in the past.
type OnceTrigger struct {
	spec Spec
	loc  *time.Location
	at   time.Time
}

func (t *OnceTrigger) Spec() Spec               { return t.spec }
func (t *OnceTrigger) Location() *time.Location { return t.loc }
func (t *OnceTrigger) Recurring() bool          { return false }
func (t *OnceTrigger) At() time.Time            { return t.at }

// Missed reports whether the single instant is not after now.
func (t *OnceTrigger) Missed(now time.Time) bool { return !t.at.After(now) }

func (t *OnceTrigger) Next(after time.Time) time.Time {
	if t.at.After(after) {
		return t.at
	}
	return time.Time{}
}

type recurringTrigger struct {
	spec Spec
	loc  *time.Location
	next func(after time.Time) time.Time
}

func (t *recurringTrigger) Spec() Spec                     { return t.spec }
func (t *recurringTrigger) Location() *time.Location       { return t.loc }
func (t *recurringTrigger) Recurring() bool                { return true }
func (t *recurringTrigger) Next(after time.Time) time.Time { return t.next(after) }

var (
	_ cron.Schedule = (*OnceTrigger)(nil)
	_ cron.Schedule = (*recurringTrigger)(nil)
)

// LoadLocation resolves an IANA zone name. Empty names resolve to fallback
// (UTC when fallback is nil).
func LoadLocation(name string, fallback *time.Location) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if fallback == nil {
			return time.UTC, nil
		}
		return fallback, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &ConstructionError{Field: "timezone", Value: name, Reason: ErrInvalidTimezone}
	}
	return loc, nil
}

// Compile validates spec and builds its trigger. Specs without a timezone use
// fallback. A Once in the past compiles fine; callers decide what missing it means.
func Compile(spec Spec, fallback *time.Location) (Trigger, error) {
	if spec == nil {
		return nil, &ConstructionError{Field: "schedule", Reason: ErrMissingField}
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	loc, err := LoadLocation(spec.Zone(), fallback)
	if err != nil {
		return nil, err
	}

	switch s := spec.(type) {
	case Once:
		at := resolveLocal(s.At.Year, s.At.Month, s.At.Day, s.At.Hour, s.At.Minute, s.At.Second, loc)
		return &OnceTrigger{spec: s, loc: loc, at: at}, nil
	case Daily:
		return &recurringTrigger{spec: s, loc: loc, next: func(after time.Time) time.Time {
			return nextDaily(after.In(loc), s.Hour, s.Minute, nil)
		}}, nil
	case Weekly:
		return &recurringTrigger{spec: s, loc: loc, next: func(after time.Time) time.Time {
			wd := s.Weekday
			return nextDaily(after.In(loc), s.Hour, s.Minute, &wd)
		}}, nil
	case Monthly:
		return &recurringTrigger{spec: s, loc: loc, next: func(after time.Time) time.Time {
			return nextMonthly(after.In(loc), s.Day, s.Hour, s.Minute)
		}}, nil
	default:
		return nil, &ConstructionError{Field: "type", Value: fmt.Sprintf("%T", spec), Reason: ErrUnknownKind}
	}
}

// nextDaily scans forward day by day from the local date of after. When
// weekday is set, other days are skipped.
func nextDaily(after time.Time, hour, minute int, weekday *time.Weekday) time.Time {
	loc := after.Location()
	y, m, d := after.Date()
	for i := 0; i <= 8; i++ {
		day := time.Date(y, m, d+i, 12, 0, 0, 0, time.UTC)
		if weekday != nil && day.Weekday() != *weekday {
			continue
		}
		c := resolveLocal(day.Year(), day.Month(), day.Day(), hour, minute, 0, loc)
		if c.After(after) {
			return c
		}
	}
	return time.Time{}
}

// monthlyHorizon bounds the search; every day 1..31 occurs within two months.
const monthlyHorizon = 48

func nextMonthly(after time.Time, dom, hour, minute int) time.Time {
	loc := after.Location()
	y, m, _ := after.Date()
	for i := 0; i < monthlyHorizon; i++ {
		first := time.Date(y, m+time.Month(i), 1, 12, 0, 0, 0, time.UTC)
		if daysIn(first.Year(), first.Month()) < dom {
			continue
		}
		c := resolveLocal(first.Year(), first.Month(), dom, hour, minute, 0, loc)
		if c.After(after) {
			return c
		}
	}
	return time.Time{}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 12, 0, 0, 0, time.UTC).Day()
}

// resolveLocal maps a wall-clock time in loc to an instant.
//
// Ambiguous wall times (clocks set back) resolve to the earlier instant.
// Wall times inside a gap (clocks set forward) resolve to the transition
// instant, the first valid moment after the gap.
func resolveLocal(year int, month time.Month, day, hour, minute, sec int, loc *time.Location) time.Time {
	wall := time.Date(year, month, day, hour, minute, sec, 0, time.UTC).Unix()

	// Zone offsets never exceed ±14h, so any offset that could apply to this
	// wall time is in effect somewhere within a day of it.
	var offsets []int
	for _, step := range []int64{-86400, -43200, 0, 43200, 86400} {
		_, off := time.Unix(wall+step, 0).In(loc).Zone()
		if !containsInt(offsets, off) {
			offsets = append(offsets, off)
		}
	}

	var best int64
	found := false
	for _, off := range offsets {
		u := wall - int64(off)
		if _, actual := time.Unix(u, 0).In(loc).Zone(); actual != off {
			continue
		}
		if !found || u < best {
			best, found = u, true
		}
	}
	if found {
		return time.Unix(best, 0).In(loc)
	}

	// Gap: the candidates bracket the transition. Search for the first
	// second whose offset differs from the one in effect at lo.
	lo, hi := wall-int64(offsets[0]), wall-int64(offsets[0])
	for _, off := range offsets[1:] {
		u := wall - int64(off)
		lo, hi = min(lo, u), max(hi, u)
	}
	_, loOff := time.Unix(lo, 0).In(loc).Zone()
	if _, hiOff := time.Unix(hi, 0).In(loc).Zone(); hiOff == loOff {
		return time.Date(year, month, day, hour, minute, sec, 0, loc)
	}
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if _, off := time.Unix(mid, 0).In(loc).Zone(); off == loOff {
			lo = mid
		} else {
			hi = mid
		}
	}
	return time.Unix(hi, 0).In(loc)
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Preview lists up to n upcoming firings strictly after now.
func Preview(t Trigger, now time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	cur := now
	for len(out) < n {
		next := t.Next(cur)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}
