package schedule

import (
	"fmt"
	"strings"
)

// Describe renders spec for chat replies: "2025-07-29T08:00:00 Europe/Berlin"
// for once, "08:30 Europe/Berlin daily" for the recurring kinds. Weekly and
// monthly specs also name their day.
func Describe(spec Spec) string {
	zone := spec.Zone()
	if zone == "" {
		zone = "UTC"
	}
	switch s := spec.(type) {
	case Once:
		return s.At.String() + " " + zone
	case Daily:
		return fmt.Sprintf("%02d:%02d %s daily", s.Hour, s.Minute, zone)
	case Weekly:
		return fmt.Sprintf("%02d:%02d %s weekly (%s)", s.Hour, s.Minute, zone, weekdayName(s.Weekday))
	case Monthly:
		return fmt.Sprintf("%02d:%02d %s monthly (day %d)", s.Hour, s.Minute, zone, s.Day)
	default:
		return strings.TrimSpace(fmt.Sprint(spec))
	}
}
