package parse

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var clockRe = regexp.MustCompile(`^(\d{1,2})[:hH](\d{2})$`)

// Layouts accepted for appointment dates that carry no offset. They are read in
// the caller's location.
var localLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// Appointment resolves an appointment instant from a date and an optional
// separate time of day. date may be a full RFC 3339 timestamp, a local
// date-time ("2025-05-01T14:00") or a bare date ("2025-05-01") combined with
// clock ("14:00", "9h30"). Values without an offset are interpreted in loc.
func Appointment(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		return time.Time{}, fmt.Errorf("appointment date is empty")
	}

	if clock != "" {
		m := clockRe.FindStringSubmatch(clock)
		if m == nil {
			return time.Time{}, fmt.Errorf("unable to parse appointment time %q", clock)
		}
		hh := m[1]
		if len(hh) == 1 {
			hh = "0" + hh
		}
		date = fmt.Sprintf("%sT%s:%s", date, hh, m[2])
	}

	if t, err := time.Parse(time.RFC3339, date); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, date, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse appointment date %q", date)
}

// Location loads a time zone by name, falling back to UTC for an empty name.
func Location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", name, err)
	}
	return loc, nil
}
