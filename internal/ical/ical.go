// Package ical reads iCalendar feeds into raw occurrence records.
//
// Records are kept close to the wire: start values, exclusions and
// recurrence identities are returned as unparsed Values so that a single
// malformed event can be rejected later without failing the whole feed.
package ical

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goical "github.com/arran4/golang-ical"
)

// Calendar is the content of one feed read.
type Calendar struct {
	Name        string
	Description string
	// Timezone is the IANA zone name the feed declares, empty if none.
	Timezone string
	Records  []Record
}

// Record is one VEVENT as found in the feed.
type Record struct {
	UID         string
	Summary     Text
	Location    Text
	Description Text

	Start        Value
	RRule        string
	ExDates      []Value
	RecurrenceID *Value
}

// IsOverride reports whether the record replaces one instance of a series.
func (r Record) IsOverride() bool {
	return r.RecurrenceID != nil
}

// Text is an optional free-text property.
type Text struct {
	Value string
	Valid bool
}

func textOf(p *goical.IANAProperty) Text {
	if p == nil {
		return Text{}
	}
	return Text{Value: p.Value, Valid: true}
}

// Parse reads an iCalendar payload.
func Parse(body []byte, log *slog.Logger) (*Calendar, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty calendar")
	}
	if !bytes.Contains(bytes.ToUpper(body), []byte("BEGIN:VCALENDAR")) {
		return nil, errors.New("not an iCalendar document")
	}

	vcal, err := goical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	cal := &Calendar{}
	for _, p := range vcal.CalendarProperties {
		switch strings.ToUpper(p.IANAToken) {
		case "X-WR-CALNAME":
			cal.Name = p.Value
		case "X-WR-CALDESC":
			cal.Description = p.Value
		case "X-WR-TIMEZONE":
			cal.Timezone = strings.TrimSpace(p.Value)
		}
	}

	for _, comp := range vcal.Components {
		switch c := comp.(type) {
		case *goical.VTimezone:
			p := c.GetProperty(goical.ComponentProperty("TZID"))
			if p == nil {
				continue
			}
			tzid := strings.Trim(strings.TrimSpace(p.Value), `"`)
			if _, err := time.LoadLocation(tzid); err != nil {
				log.Warn("unknown calendar timezone", "tzid", tzid, "error", err)
				continue
			}
			cal.Timezone = tzid
		case *goical.VEvent:
			rec, err := readEvent(c)
			if err != nil {
				log.Warn("skip calendar event", "error", err)
				continue
			}
			cal.Records = append(cal.Records, rec)
		}
	}

	return cal, nil
}

func readEvent(ve *goical.VEvent) (Record, error) {
	var rec Record

	uid := ve.GetProperty(goical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return rec, errors.New("missing UID")
	}
	rec.UID = uid.Value

	rec.Summary = textOf(ve.GetProperty(goical.ComponentPropertySummary))
	rec.Location = textOf(ve.GetProperty(goical.ComponentPropertyLocation))
	rec.Description = textOf(ve.GetProperty(goical.ComponentPropertyDescription))

	if p := ve.GetProperty(goical.ComponentPropertyDtStart); p != nil {
		rec.Start = valueOf(p)
	}

	if p := ve.GetProperty(goical.ComponentPropertyRrule); p != nil {
		rec.RRule = strings.TrimSpace(p.Value)
	}

	for _, p := range ve.GetProperties(goical.ComponentPropertyExdate) {
		v := valueOf(p)
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			rec.ExDates = append(rec.ExDates, Value{Raw: part, TZID: v.TZID, DateOnly: v.DateOnly})
		}
	}

	if p := ve.GetProperty(goical.ComponentProperty("RECURRENCE-ID")); p != nil {
		v := valueOf(p)
		rec.RecurrenceID = &v
	}

	return rec, nil
}

func valueOf(p *goical.IANAProperty) Value {
	v := Value{Raw: strings.TrimSpace(p.Value)}
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			v.DateOnly = true
		}
		if tz, ok := params["TZID"]; ok && len(tz) > 0 {
			v.TZID = strings.Trim(tz[0], `"`)
		}
	}
	return v
}
