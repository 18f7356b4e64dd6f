package calendar

import (
	"calbot/internal/ical"
)

// Report is the outcome of reading one feed.
type Report struct {
	Events  []Event
	Skipped []Skipped
}

// Skipped describes a record or series left out of a read.
type Skipped struct {
	UID    string
	Reason string
}

// Read materializes records and expands their repeats into the occurrences
// whose notify instant lies in w. Identities in the result are unique.
// Problems with single records or series are reported, not returned.
func (r *Reader) Read(records []ical.Record, w Window) Report {
	var rep Report
	skip := func(uid, reason string, err error) {
		r.log.Warn(reason, "uid", uid, "error", err)
		rep.Skipped = append(rep.Skipped, Skipped{UID: uid, Reason: reason + ": " + err.Error()})
	}

	events := make([]Event, 0, len(records))
	overrides := make(map[string]map[string]bool)
	for _, rec := range records {
		ev, err := r.Materialize(rec)
		if err != nil {
			skip(rec.UID, "skip malformed event", err)
			continue
		}
		if ev.IsOverride() {
			if overrides[ev.SeriesID] == nil {
				overrides[ev.SeriesID] = make(map[string]bool)
			}
			overrides[ev.SeriesID][ev.ID] = true
		}
		events = append(events, ev)
	}

	seen := make(map[string]bool)
	add := func(ev Event) {
		if seen[ev.ID] {
			r.log.Warn("skip duplicate occurrence", "uid", ev.SeriesID, "occurrence_id", ev.ID)
			rep.Skipped = append(rep.Skipped, Skipped{UID: ev.SeriesID, Reason: "duplicate occurrence " + ev.ID})
			return
		}
		seen[ev.ID] = true
		rep.Events = append(rep.Events, ev)
	}

	for _, ev := range events {
		if w.Contains(ev.NotifyAt) && !r.replaced(ev, overrides[ev.SeriesID]) {
			add(ev)
		}
		if ev.IsOverride() {
			continue
		}
		repeats, err := r.Expand(ev, w, overrides[ev.SeriesID])
		if err != nil {
			skip(ev.SeriesID, "skip recurrence", err)
			continue
		}
		for occ := range repeats {
			add(occ)
		}
	}

	return rep
}

// replaced reports whether the first instance of a series is excluded or
// superseded by an override of the same instant.
func (r *Reader) replaced(base Event, overrides map[string]bool) bool {
	if base.IsOverride() {
		return false
	}
	if overrides[OccurrenceID(base.SeriesID, base.Start, base.AllDay, r.loc)] {
		return true
	}
	for _, ex := range base.ExDates {
		if ex.Equal(base.Start) {
			return true
		}
	}
	return false
}
