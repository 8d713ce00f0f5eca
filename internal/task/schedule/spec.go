// Package schedule turns declarative schedule specs (once, daily, weekly,
// monthly) into triggers that compute the next firing instant in the
// spec's own time zone.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindOnce    Kind = "once"
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

// Spec is one of Once, Daily, Weekly or Monthly.
type Spec interface {
	Kind() Kind
	Zone() string
	validate() error
}

// LocalTime is a wall-clock date-time without a zone.
type LocalTime struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

const localLayout = "2006-01-02T15:04:05"

var localLayouts = []string{
	localLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseLocalTime accepts ISO-8601 local date-times with or without seconds.
// A trailing offset or "Z" is rejected: the zone comes from the spec.
func ParseLocalTime(s string) (LocalTime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LocalTime{}, &ConstructionError{Field: "datetime", Reason: ErrMissingField}
	}
	for _, layout := range localLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return LocalTime{
				Year: t.Year(), Month: t.Month(), Day: t.Day(),
				Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(),
			}, nil
		}
	}
	return LocalTime{}, &ConstructionError{Field: "datetime", Value: s, Reason: ErrOutOfRange}
}

func (l LocalTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", l.Year, int(l.Month), l.Day, l.Hour, l.Minute, l.Second)
}

func (l LocalTime) IsZero() bool { return l == LocalTime{} }

// Once fires a single time at At in Timezone.
type Once struct {
	At       LocalTime
	Timezone string
}

// Daily fires every day at Hour:Minute.
type Daily struct {
	Hour     int
	Minute   int
	Timezone string
}

// Weekly fires on Weekday at Hour:Minute.
type Weekly struct {
	Weekday  time.Weekday
	Hour     int
	Minute   int
	Timezone string
}

// Monthly fires on Day of every month that has that day. Months without it
// are skipped, never clamped to the last day.
type Monthly struct {
	Day      int
	Hour     int
	Minute   int
	Timezone string
}

func (Once) Kind() Kind    { return KindOnce }
func (Daily) Kind() Kind   { return KindDaily }
func (Weekly) Kind() Kind  { return KindWeekly }
func (Monthly) Kind() Kind { return KindMonthly }

func (s Once) Zone() string    { return s.Timezone }
func (s Daily) Zone() string   { return s.Timezone }
func (s Weekly) Zone() string  { return s.Timezone }
func (s Monthly) Zone() string { return s.Timezone }

func (s Once) validate() error {
	if s.At.IsZero() {
		return &ConstructionError{Field: "datetime", Reason: ErrMissingField}
	}
	// time.Date normalizes, so a round trip exposes impossible dates (Feb 30).
	t := time.Date(s.At.Year, s.At.Month, s.At.Day, s.At.Hour, s.At.Minute, s.At.Second, 0, time.UTC)
	if t.Year() != s.At.Year || t.Month() != s.At.Month || t.Day() != s.At.Day ||
		t.Hour() != s.At.Hour || t.Minute() != s.At.Minute || t.Second() != s.At.Second {
		return &ConstructionError{Field: "datetime", Value: s.At.String(), Reason: ErrOutOfRange}
	}
	return nil
}

func (s Daily) validate() error { return checkClock(s.Hour, s.Minute) }

func (s Weekly) validate() error {
	if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
		return &ConstructionError{Field: "day_of_week", Value: int(s.Weekday), Reason: ErrInvalidDayOfWeek}
	}
	return checkClock(s.Hour, s.Minute)
}

func (s Monthly) validate() error {
	if s.Day < 1 || s.Day > 31 {
		return &ConstructionError{Field: "day", Value: s.Day, Reason: ErrOutOfRange}
	}
	return checkClock(s.Hour, s.Minute)
}

func checkClock(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return &ConstructionError{Field: "hour", Value: hour, Reason: ErrOutOfRange}
	}
	if minute < 0 || minute > 59 {
		return &ConstructionError{Field: "minute", Value: minute, Reason: ErrOutOfRange}
	}
	return nil
}

// ---- errors ----

var (
	ErrOutOfRange       = errors.New("out of range")
	ErrInvalidDayOfWeek = errors.New("invalid day of week")
	ErrMissingField     = errors.New("missing field")
	ErrUnknownKind      = errors.New("unknown schedule type")
	ErrInvalidTimezone  = errors.New("invalid timezone")
)

// ConstructionError reports why a spec cannot produce a trigger.
// Reason is one of the Err* sentinels above, so errors.Is works on it.
type ConstructionError struct {
	Field  string
	Value  any
	Reason error
}

func (e *ConstructionError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("schedule: %s: %v", e.Field, e.Reason)
	}
	return fmt.Sprintf("schedule: %s: %v (got %v)", e.Field, e.Reason, e.Value)
}

func (e *ConstructionError) Unwrap() error { return e.Reason }

// ---- weekdays ----

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or abbreviated English day names, any case.
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return 0, &ConstructionError{Field: "day_of_week", Reason: ErrMissingField}
	}
	wd, ok := weekdayNames[key]
	if !ok {
		return 0, &ConstructionError{Field: "day_of_week", Value: s, Reason: ErrInvalidDayOfWeek}
	}
	return wd, nil
}

func weekdayName(wd time.Weekday) string { return strings.ToLower(wd.String()) }
