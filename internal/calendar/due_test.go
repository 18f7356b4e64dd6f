package calendar

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"calbot/internal/model"
)

type dueResult struct {
	ID   string
	Lead int
}

func dueResults(events []Event) []dueResult {
	out := []dueResult{}
	for _, e := range events {
		out = append(out, dueResult{ID: e.ID, Lead: e.NotifiedFor})
	}
	return out
}

func TestDue(t *testing.T) {
	now := utc(2024, 5, 1, 0)
	at := func(id string, d time.Duration) Event {
		return Event{ID: id, SeriesID: id, NotifyAt: now.Add(d), Start: now.Add(d)}
	}
	state := func(id string, lead int) map[string]model.EventState {
		return map[string]model.EventState{id: {OccurrenceID: id, LastNotifiedHours: lead}}
	}

	tests := []struct {
		name    string
		events  []Event
		advance []int
		states  map[string]model.EventState
		want    []dueResult
	}{
		{
			name:    "largest open lead fires",
			events:  []Event{at("a", 30*time.Hour)},
			advance: []int{24, 48},
			want:    []dueResult{{ID: "a", Lead: 48}},
		},
		{
			name:    "smaller lead after larger was sent",
			events:  []Event{at("a", 23*time.Hour)},
			advance: []int{24, 48},
			states:  state("a", 48),
			want:    []dueResult{{ID: "a", Lead: 24}},
		},
		{
			name:    "nothing left after smallest was sent",
			events:  []Event{at("a", 22*time.Hour)},
			advance: []int{24, 48},
			states:  state("a", 24),
			want:    []dueResult{},
		},
		{
			name:    "larger lead not repeated before smaller opens",
			events:  []Event{at("a", 30*time.Hour)},
			advance: []int{48, 24},
			states:  state("a", 48),
			want:    []dueResult{},
		},
		{
			name:    "no lead open yet",
			events:  []Event{at("a", 50*time.Hour)},
			advance: []int{48, 24},
			want:    []dueResult{},
		},
		{
			name:    "late first sight fires largest open lead",
			events:  []Event{at("a", 5*time.Hour)},
			advance: []int{48, 24},
			want:    []dueResult{{ID: "a", Lead: 48}},
		},
		{
			name:    "boundary is inclusive",
			events:  []Event{at("a", 24*time.Hour)},
			advance: []int{24},
			want:    []dueResult{{ID: "a", Lead: 24}},
		},
		{
			name:    "zero lead fires at the event",
			events:  []Event{at("a", 0), at("b", time.Minute)},
			advance: []int{0},
			want:    []dueResult{{ID: "a", Lead: 0}},
		},
		{
			name:    "state of other occurrences ignored",
			events:  []Event{at("a", 10*time.Hour)},
			advance: []int{24},
			states:  state("b", 24),
			want:    []dueResult{{ID: "a", Lead: 24}},
		},
		{
			name:    "ordered by notify instant",
			events:  []Event{at("late", 20*time.Hour), at("early", 2*time.Hour), at("mid", 10*time.Hour)},
			advance: []int{24},
			want: []dueResult{
				{ID: "early", Lead: 24},
				{ID: "mid", Lead: 24},
				{ID: "late", Lead: 24},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dueResults(Due(tt.events, tt.advance, now, tt.states))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("due mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDueAtMostOncePerLead(t *testing.T) {
	start := utc(2024, 5, 3, 6)
	ev := Event{ID: "a", SeriesID: "a", NotifyAt: start, Start: start}
	advance := []int{48, 24}
	states := map[string]model.EventState{}

	var fired []int
	for now := start.Add(-72 * time.Hour); now.Before(start); now = now.Add(time.Hour) {
		for _, d := range Due([]Event{ev}, advance, now, states) {
			fired = append(fired, d.NotifiedFor)
			states[d.ID] = model.EventState{OccurrenceID: d.ID, LastNotifiedHours: d.NotifiedFor}
		}
	}

	if diff := cmp.Diff([]int{48, 24}, fired); diff != "" {
		t.Errorf("fired leads mismatch (-want +got):\n%s", diff)
	}
}

func TestDueDoesNotModifyAdvance(t *testing.T) {
	advance := []int{24, 48}
	Due(nil, advance, time.Now(), nil)
	if diff := cmp.Diff([]int{24, 48}, advance); diff != "" {
		t.Errorf("advance modified (-want +got):\n%s", diff)
	}
}
