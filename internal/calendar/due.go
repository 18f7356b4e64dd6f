package calendar

import (
	"slices"
	"time"

	"calbot/internal/model"
)

// Due selects the occurrences to notify at now.
//
// Lead times are tried from the largest down. A lead time already covered
// by an equal or smaller recorded notification is skipped; the first one
// whose window has opened makes the occurrence due, and no smaller lead is
// considered in the same pass. The result is ordered by notify instant.
func Due(events []Event, advance []int, now time.Time, states map[string]model.EventState) []Event {
	leads := slices.Clone(advance)
	slices.Sort(leads)
	slices.Reverse(leads)

	var due []Event
	for _, ev := range events {
		state, notified := states[ev.ID]
		for _, lead := range leads {
			if notified && state.LastNotifiedHours <= lead {
				continue
			}
			if !ev.NotifyAt.After(now.Add(time.Duration(lead) * time.Hour)) {
				ev.NotifiedFor = lead
				due = append(due, ev)
				break
			}
		}
	}

	slices.SortStableFunc(due, func(a, b Event) int {
		return a.NotifyAt.Compare(b.NotifyAt)
	})
	return due
}
