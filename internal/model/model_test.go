package model

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseAdvance(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []int
		wantErr bool
	}{
		{name: "sorted descending", in: "24 48", want: []int{48, 24}},
		{name: "commas and duplicates", in: "6,24, 24 1", want: []int{24, 6, 1}},
		{name: "zero rejected", in: "24 0", wantErr: true},
		{name: "empty", in: "  ", wantErr: true},
		{name: "not a number", in: "24 soon", wantErr: true},
		{name: "negative", in: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAdvance(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseAdvance() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(FormatAdvance(tt.want), FormatAdvance(got)); diff != "" {
				t.Errorf("FormatAdvance() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff("09:30", tod.String()); diff != "" {
		t.Errorf("String() mismatch (-want +got):\n%s", diff)
	}

	loc := time.FixedZone("Z", 6*3600)
	got := tod.On(time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC), loc)
	want := time.Date(2024, 3, 1, 9, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("On() = %v, want %v", got, want)
	}

	if _, err := ParseTimeOfDay("25:00"); err == nil {
		t.Error("expected error for 25:00")
	}
}

func TestFeedFailureCounting(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	t.Run("consecutive failures disable", func(t *testing.T) {
		f := &Feed{Enabled: true, Verified: true, FailureThreshold: 3}
		var disabled []bool
		for range 3 {
			disabled = append(disabled, f.RecordFailure(now, boom))
		}
		if diff := cmp.Diff([]bool{false, false, true}, disabled); diff != "" {
			t.Errorf("disable transitions mismatch (-want +got):\n%s", diff)
		}
		if f.Enabled {
			t.Error("expected feed to be disabled")
		}
		if diff := cmp.Diff("boom", f.LastError); diff != "" {
			t.Errorf("LastError mismatch (-want +got):\n%s", diff)
		}
		if f.RecordFailure(now, boom) {
			t.Error("disable notice must fire only once")
		}
	})

	t.Run("success in between resets", func(t *testing.T) {
		f := &Feed{Enabled: true, Verified: true, FailureThreshold: 3}
		f.RecordFailure(now, boom)
		f.RecordFailure(now, boom)
		f.RecordSuccess(now)
		if f.RecordFailure(now, boom) {
			t.Error("non-consecutive failures must not disable")
		}
		if !f.Enabled {
			t.Error("feed should still be enabled")
		}
		if diff := cmp.Diff(1, f.FailureCount); diff != "" {
			t.Errorf("FailureCount mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("verification happens once", func(t *testing.T) {
		f := &Feed{Enabled: true}
		if !f.RecordSuccess(now) {
			t.Error("first success should verify")
		}
		if f.RecordSuccess(now) {
			t.Error("second success should not verify again")
		}
	})

	t.Run("enable resets counter", func(t *testing.T) {
		f := &Feed{Enabled: false, FailureCount: 7}
		f.Enable()
		if !f.Enabled || f.FailureCount != 0 {
			t.Errorf("Enable() left feed %+v", f)
		}
	})
}

func TestFeedApply(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		feed     Feed
		outcome  Outcome
		want     Feed
		wantFlag bool
	}{
		{
			name:     "first success takes calendar name",
			feed:     Feed{Name: "https://example.com/a.ics", Enabled: true},
			outcome:  Outcome{At: now, Name: "Team"},
			want:     Feed{Name: "Team", Enabled: true, Verified: true, LastProcessAt: &now},
			wantFlag: true,
		},
		{
			name:    "later success keeps name",
			feed:    Feed{Name: "Team", Enabled: true, Verified: true, FailureCount: 2, LastError: "x"},
			outcome: Outcome{At: now, Name: "Renamed"},
			want:    Feed{Name: "Team", Enabled: true, Verified: true, LastProcessAt: &now},
		},
		{
			name:     "failure reaching threshold disables",
			feed:     Feed{Name: "Team", Enabled: true, FailureCount: 1, FailureThreshold: 2},
			outcome:  Outcome{At: now, Err: errors.New("fetch: timeout")},
			want:     Feed{Name: "Team", FailureCount: 2, FailureThreshold: 2, LastError: "fetch: timeout", LastProcessAt: &now},
			wantFlag: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.feed
			got := f.Apply(tt.outcome)
			if got != tt.wantFlag {
				t.Errorf("Apply() = %v, want %v", got, tt.wantFlag)
			}
			if diff := cmp.Diff(tt.want, f); diff != "" {
				t.Errorf("feed mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMaxAdvance(t *testing.T) {
	f := &Feed{AdvanceHours: []int{24, 48, 6}}
	if diff := cmp.Diff(48*time.Hour, f.MaxAdvance()); diff != "" {
		t.Errorf("MaxAdvance() mismatch (-want +got):\n%s", diff)
	}
	if (&Feed{}).MaxAdvance() != 0 {
		t.Error("empty advance should give zero")
	}
}
