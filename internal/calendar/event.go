// Package calendar turns raw feed records into concrete event occurrences
// and decides which of them are due for notification.
package calendar

import (
	"fmt"
	"log/slog"
	"time"

	"calbot/internal/ical"
	"calbot/internal/model"
)

const isoDateTime = "2006-01-02T15:04:05-07:00"

// Event is one occurrence of a calendar event.
type Event struct {
	// ID identifies the occurrence across feed reads.
	ID string
	// SeriesID is the UID shared by all occurrences of a series.
	SeriesID string

	// NotifyAt is the instant lead times are counted back from.
	NotifyAt time.Time
	// Start is the start instant, or the bare date (midnight UTC) when
	// AllDay is set.
	Start  time.Time
	AllDay bool

	Title       ical.Text
	Location    ical.Text
	Description ical.Text

	// NotifiedFor is the lead time in hours this occurrence is due for.
	// It is set by Due.
	NotifiedFor int

	Rule         string
	ExDates      []time.Time
	RecurrenceID *time.Time
}

// IsOverride reports whether the occurrence replaces a generated instance.
func (e Event) IsOverride() bool {
	return e.RecurrenceID != nil
}

// OccurrenceID builds the identity of an instance of series uid starting at t.
// Timed instants are rendered in loc so the same instant always yields the
// same identity, whichever zone it was written in.
func OccurrenceID(uid string, t time.Time, allDay bool, loc *time.Location) string {
	if allDay {
		return uid + "_" + t.Format(time.DateOnly)
	}
	return uid + "_" + t.In(loc).Format(isoDateTime)
}

// Reader materializes and expands records of one feed.
type Reader struct {
	loc      *time.Location
	dayStart model.TimeOfDay
	log      *slog.Logger
}

// NewReader creates a Reader for a feed in loc whose date-only events are
// notified at dayStart.
func NewReader(loc *time.Location, dayStart model.TimeOfDay, log *slog.Logger) *Reader {
	if loc == nil {
		loc = time.UTC
	}
	return &Reader{loc: loc, dayStart: dayStart, log: log}
}

// Location is the feed timezone.
func (r *Reader) Location() *time.Location {
	return r.loc
}

// ResolveLocation loads the zone a feed declares, falling back to UTC.
func ResolveLocation(name string, log *slog.Logger) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn("unknown feed timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

// Materialize turns a raw record into an Event.
func (r *Reader) Materialize(rec ical.Record) (Event, error) {
	ev := Event{
		ID:          rec.UID,
		SeriesID:    rec.UID,
		Title:       rec.Summary,
		Location:    rec.Location,
		Description: rec.Description,
		Rule:        rec.RRule,
	}

	start, err := rec.Start.Parse()
	if err != nil {
		return Event{}, fmt.Errorf("start: %w", err)
	}
	if start.Kind == ical.Date {
		ev.AllDay = true
		ev.Start = start.Time
		ev.NotifyAt = r.dayStart.On(start.Time, r.loc)
	} else {
		ev.Start = r.instant(start)
		ev.NotifyAt = ev.Start
	}

	for _, v := range rec.ExDates {
		ex, err := v.Parse()
		if err != nil {
			r.log.Warn("ignore malformed exclusion", "uid", rec.UID, "value", v.Raw, "error", err)
			continue
		}
		ev.ExDates = append(ev.ExDates, r.align(ex, ev.AllDay))
	}

	if rec.IsOverride() {
		rid, err := rec.RecurrenceID.Parse()
		if err != nil {
			return Event{}, fmt.Errorf("recurrence id: %w", err)
		}
		t := r.align(rid, rid.Kind == ical.Date)
		ev.RecurrenceID = &t
		ev.ID = OccurrenceID(rec.UID, t, rid.Kind == ical.Date, r.loc)
	}

	return ev, nil
}

func (r *Reader) instant(t ical.Time) time.Time {
	if t.Kind == ical.Zoned {
		return t.Time
	}
	return t.In(r.loc)
}

// align converts a value to the form instants of a series take: bare dates
// for all-day series, absolute instants otherwise.
func (r *Reader) align(t ical.Time, allDay bool) time.Time {
	if !allDay {
		return r.instant(t)
	}
	if t.Kind == ical.Date {
		return t.Time
	}
	return bareDate(r.instant(t).In(r.loc))
}

func bareDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
