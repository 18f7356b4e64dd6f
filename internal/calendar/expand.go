package calendar

import (
	"fmt"
	"iter"
	"time"

	"github.com/teambition/rrule-go"
)

// maxRepeats caps the instances one series can produce in a single window.
const maxRepeats = 5000

// maxScan caps the instants walked through to fill one window.
const maxScan = 200000

// Window is the (After, Before] range of notify instants a read covers.
type Window struct {
	After  time.Time
	Before time.Time
}

// WindowFor is the window of a poll at now for lead times up to maxAdvance.
func WindowFor(now time.Time, maxAdvance time.Duration) Window {
	return Window{After: now, Before: now.Add(maxAdvance)}
}

// Contains reports whether t lies in the window.
func (w Window) Contains(t time.Time) bool {
	return t.After(w.After) && !t.After(w.Before)
}

// Expand yields the repeats of base whose notify instant falls in w.
//
// The base occurrence itself is never yielded, neither are excluded
// instants nor instants whose identity is in overrides.
func (r *Reader) Expand(base Event, w Window, overrides map[string]bool) (iter.Seq[Event], error) {
	if base.Rule == "" {
		return func(func(Event) bool) {}, nil
	}

	opt, err := rrule.StrToROption(base.Rule)
	if err != nil {
		return nil, fmt.Errorf("parse rule %q: %w", base.Rule, err)
	}
	opt.Dtstart = seek(*opt, base.Start, w.After)
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("parse rule %q: %w", base.Rule, err)
	}

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range base.ExDates {
		set.ExDate(ex)
	}

	// Bare dates are compared against a window widened by a day on each
	// side, then filtered on their notify instant.
	hi := w.Before
	if base.AllDay {
		hi = bareDate(w.Before.In(r.loc)).AddDate(0, 0, 1)
	}

	return func(yield func(Event) bool) {
		next := set.Iterator()
		produced := 0
		for scanned := 0; ; scanned++ {
			t, ok := next()
			if !ok || t.After(hi) {
				return
			}
			if scanned == maxScan {
				r.log.Warn("stop scanning repeats", "uid", base.SeriesID, "cap", maxScan)
				return
			}
			if t.Equal(base.Start) {
				continue
			}

			rep := r.repeat(base, t)
			if !w.Contains(rep.NotifyAt) || overrides[rep.ID] {
				continue
			}

			if produced == maxRepeats {
				r.log.Warn("truncate repeats", "uid", base.SeriesID, "cap", maxRepeats)
				return
			}
			produced++

			if !yield(rep) {
				return
			}
		}
	}, nil
}

// seek moves the start of a sub-daily rule forward by whole periods to just
// before after, so a long running series is not walked from its first
// instant. Rules bounded by COUNT keep their start.
func seek(opt rrule.ROption, start, after time.Time) time.Time {
	if opt.Count > 0 {
		return start
	}
	var unit time.Duration
	switch opt.Freq {
	case rrule.HOURLY:
		unit = time.Hour
	case rrule.MINUTELY:
		unit = time.Minute
	case rrule.SECONDLY:
		unit = time.Second
	default:
		return start
	}
	period := unit * time.Duration(max(opt.Interval, 1))
	// Instants step in wall time, so a period that does not divide an
	// hour would drift across offset changes.
	if time.Hour%period != 0 {
		return start
	}
	skip := after.Sub(start)/period - 1
	if skip <= 0 {
		return start
	}
	return start.Add(skip * period)
}

func (r *Reader) repeat(base Event, t time.Time) Event {
	rep := Event{
		SeriesID:    base.SeriesID,
		AllDay:      base.AllDay,
		Title:       base.Title,
		Location:    base.Location,
		Description: base.Description,
	}
	if base.AllDay {
		rep.Start = t
		rep.NotifyAt = r.dayStart.On(t, r.loc)
	} else {
		rep.Start = t
		rep.NotifyAt = t
	}
	rep.ID = OccurrenceID(base.SeriesID, t, base.AllDay, r.loc)
	return rep
}
