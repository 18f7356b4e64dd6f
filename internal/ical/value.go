package ical

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind tells how a date or date-time value is anchored.
type Kind int

// Supported value kinds.
const (
	// Date is a calendar date with no time of day.
	Date Kind = iota
	// Floating is a wall-clock time with no zone attached.
	Floating
	// UTC is an absolute time written with the Z suffix.
	UTC
	// Zoned is a wall-clock time in an explicit TZID.
	Zoned
)

func (k Kind) String() string {
	switch k {
	case Date:
		return "date"
	case Floating:
		return "floating"
	case UTC:
		return "utc"
	case Zoned:
		return "zoned"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is an unparsed DATE or DATE-TIME property value.
type Value struct {
	Raw      string
	TZID     string
	DateOnly bool
}

// Time is a parsed Value.
//
// For Date and Floating values the wall clock is stored in time.UTC and
// carries no meaning as an instant until localized.
type Time struct {
	Time time.Time
	Kind Kind
}

const (
	layoutDate     = "20060102"
	layoutDateTime = "20060102T150405"
	layoutUTC      = "20060102T150405Z"
)

// Parse interprets the raw value.
func (v Value) Parse() (Time, error) {
	raw := strings.TrimSpace(v.Raw)
	if raw == "" {
		return Time{}, errors.New("empty date value")
	}

	if v.DateOnly || !strings.Contains(raw, "T") {
		// Some producers put VALUE=DATE on a date-time; keep the date part.
		if len(raw) > len(layoutDate) && strings.Contains(raw, "T") {
			raw = raw[:len(layoutDate)]
		}
		t, err := time.ParseInLocation(layoutDate, raw, time.UTC)
		if err != nil {
			return Time{}, fmt.Errorf("parse date %q: %w", raw, err)
		}
		return Time{Time: t, Kind: Date}, nil
	}

	if strings.HasSuffix(raw, "Z") {
		t, err := time.Parse(layoutUTC, raw)
		if err != nil {
			return Time{}, fmt.Errorf("parse utc time %q: %w", raw, err)
		}
		return Time{Time: t, Kind: UTC}, nil
	}

	if v.TZID != "" {
		loc, err := time.LoadLocation(v.TZID)
		if err == nil {
			t, err := time.ParseInLocation(layoutDateTime, raw, loc)
			if err != nil {
				return Time{}, fmt.Errorf("parse time %q: %w", raw, err)
			}
			return Time{Time: t, Kind: Zoned}, nil
		}
		// Non-IANA TZIDs (Outlook names and the like) fall back to the
		// calendar zone.
	}

	t, err := time.ParseInLocation(layoutDateTime, raw, time.UTC)
	if err != nil {
		return Time{}, fmt.Errorf("parse time %q: %w", raw, err)
	}
	return Time{Time: t, Kind: Floating}, nil
}

// In resolves the value to an instant, using loc for floating times.
// Dates are returned as midnight in loc.
func (t Time) In(loc *time.Location) time.Time {
	switch t.Kind {
	case Date, Floating:
		w := t.Time
		return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), 0, loc)
	case UTC:
		return t.Time.In(loc)
	default:
		return t.Time
	}
}
