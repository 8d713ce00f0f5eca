package schedule

import (
	"strings"
)

// Wire is the persisted and model-facing JSON shape of a schedule:
//
//	{"type":"weekly","day_of_week":"tuesday","hour":8,"minute":30,"timezone":"US/Eastern"}
//
// Pointer fields distinguish "absent" from zero.
type Wire struct {
	Type      string `json:"type"`
	Hour      *int   `json:"hour,omitempty"`
	Minute    *int   `json:"minute,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty"`
	Day       *int   `json:"day,omitempty"`
	Datetime  string `json:"datetime,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

// Decode validates w and returns the matching Spec.
func (w Wire) Decode() (Spec, error) {
	var s Spec
	switch Kind(strings.ToLower(strings.TrimSpace(w.Type))) {
	case KindOnce:
		at, err := ParseLocalTime(w.Datetime)
		if err != nil {
			return nil, err
		}
		s = Once{At: at, Timezone: w.Timezone}
	case KindDaily:
		h, m, err := w.clock()
		if err != nil {
			return nil, err
		}
		s = Daily{Hour: h, Minute: m, Timezone: w.Timezone}
	case KindWeekly:
		wd, err := ParseWeekday(w.DayOfWeek)
		if err != nil {
			return nil, err
		}
		h, m, err := w.clock()
		if err != nil {
			return nil, err
		}
		s = Weekly{Weekday: wd, Hour: h, Minute: m, Timezone: w.Timezone}
	case KindMonthly:
		if w.Day == nil {
			return nil, &ConstructionError{Field: "day", Reason: ErrMissingField}
		}
		h, m, err := w.clock()
		if err != nil {
			return nil, err
		}
		s = Monthly{Day: *w.Day, Hour: h, Minute: m, Timezone: w.Timezone}
	case "":
		return nil, &ConstructionError{Field: "type", Reason: ErrMissingField}
	default:
		return nil, &ConstructionError{Field: "type", Value: w.Type, Reason: ErrUnknownKind}
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (w Wire) clock() (int, int, error) {
	if w.Hour == nil {
		return 0, 0, &ConstructionError{Field: "hour", Reason: ErrMissingField}
	}
	if w.Minute == nil {
		return 0, 0, &ConstructionError{Field: "minute", Reason: ErrMissingField}
	}
	return *w.Hour, *w.Minute, nil
}

// Encode is the inverse of Decode.
func Encode(s Spec) Wire {
	w := Wire{Type: string(s.Kind()), Timezone: s.Zone()}
	switch v := s.(type) {
	case Once:
		w.Datetime = v.At.String()
	case Daily:
		w.Hour, w.Minute = intp(v.Hour), intp(v.Minute)
	case Weekly:
		w.DayOfWeek = weekdayName(v.Weekday)
		w.Hour, w.Minute = intp(v.Hour), intp(v.Minute)
	case Monthly:
		w.Day = intp(v.Day)
		w.Hour, w.Minute = intp(v.Hour), intp(v.Minute)
	}
	return w
}

func intp(v int) *int { return &v }
