// Package timefmt parses the timestamp shapes the API returns and renders
// them for terminal output.
package timefmt

import (
	"strings"
	"time"
)

const (
	InvalidDate = "Invalid date"
	InvalidTime = "Invalid time"
)

// Layouts without a zone are read as UTC.
var layouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Parse reads an RFC 3339 timestamp or one of the zone-less layouts the
// API uses for job times.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// FormatDate renders s as MM/DD/YYYY in loc. A nil loc means time.Local.
func FormatDate(s string, loc *time.Location) string {
	t, ok := Parse(s)
	if !ok {
		return InvalidDate
	}

	return t.In(orLocal(loc)).Format("01/02/2006")
}

// FormatTime renders the clock time of s in loc, as "15:04" or, with
// hour12 set, "03:04 PM".
func FormatTime(s string, loc *time.Location, hour12 bool) string {
	t, ok := Parse(s)
	if !ok {
		return InvalidTime
	}

	layout := "15:04"
	if hour12 {
		layout = "03:04 PM"
	}

	return t.In(orLocal(loc)).Format(layout)
}

func orLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}

	return loc
}
