// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DefaultAdvance is the lead-time list new users start with, in hours.
var DefaultAdvance = []int{48, 24}

// DefaultDayStart is the notification time for events without a time of day.
var DefaultDayStart = TimeOfDay{Hour: 10}

// DefaultFormat is the notification template new users start with.
const DefaultFormat = "{title}\n{date} {time}\n{location}\n{description}"

// Feed is a calendar subscription owned by a user and announced to a channel.
type Feed struct {
	ID               int64
	UserID           int64
	URL              string
	Name             string
	ChannelID        string
	AdvanceHours     []int
	DayStart         TimeOfDay
	IntervalMinutes  int
	Verified         bool
	Enabled          bool
	FailureCount     int
	FailureThreshold int
	LastProcessAt    *time.Time
	LastError        string
	CreatedAt        time.Time
}

// MaxAdvance returns the largest configured lead time.
func (f *Feed) MaxAdvance() time.Duration {
	if len(f.AdvanceHours) == 0 {
		return 0
	}
	return time.Duration(slices.Max(f.AdvanceHours)) * time.Hour
}

// RecordSuccess resets the failure counter after a completed cycle.
// It reports whether the feed has just become verified.
func (f *Feed) RecordSuccess(now time.Time) bool {
	f.FailureCount = 0
	f.LastError = ""
	f.LastProcessAt = &now
	if f.Verified {
		return false
	}
	f.Verified = true
	return true
}

// RecordFailure counts a failed cycle and disables the feed once the
// threshold is reached. It reports whether the feed has just been disabled.
func (f *Feed) RecordFailure(now time.Time, cause error) bool {
	f.FailureCount++
	f.LastError = cause.Error()
	f.LastProcessAt = &now
	if !f.Enabled || f.FailureThreshold <= 0 || f.FailureCount < f.FailureThreshold {
		return false
	}
	f.Enabled = false
	return true
}

// Outcome is the result of one processing cycle.
type Outcome struct {
	At  time.Time
	Err error
	// Name is the calendar name read by a successful cycle.
	Name string
}

// Apply records a cycle outcome. On success it reports whether the feed has
// just become verified, taking the calendar name when it has; on failure,
// whether the feed has just been disabled.
func (f *Feed) Apply(o Outcome) bool {
	if o.Err != nil {
		return f.RecordFailure(o.At, o.Err)
	}
	verified := f.RecordSuccess(o.At)
	if verified && o.Name != "" {
		f.Name = o.Name
	}
	return verified
}

// Enable puts a disabled feed back into rotation with a clean counter.
func (f *Feed) Enable() {
	f.Enabled = true
	f.FailureCount = 0
}

// UserSettings holds per-user notification preferences.
type UserSettings struct {
	UserID       int64
	Format       string
	AdvanceHours []int
}

// NewUserSettings returns the settings a user has before changing anything.
func NewUserSettings(userID int64) *UserSettings {
	return &UserSettings{
		UserID:       userID,
		Format:       DefaultFormat,
		AdvanceHours: slices.Clone(DefaultAdvance),
	}
}

// EventState is the persisted notification state of one occurrence of a feed.
type EventState struct {
	OccurrenceID      string
	LastNotifiedHours int
}

// Stats is a snapshot of how much the bot is tracking.
type Stats struct {
	Users     int
	Calendars int
	Events    int
	TakenAt   time.Time
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q, use HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On returns the instant at this time of day on the date of d, in loc.
func (t TimeOfDay) On(d time.Time, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, loc)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseAdvance parses lead times in hours, separated by spaces or commas.
// A lead of zero is rejected: the read window (now, now+lead] would be empty.
// The result is deduplicated and sorted from the largest to the smallest.
func ParseAdvance(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("at least one advance hour is required")
	}
	hours := make([]int, 0, len(fields))
	for _, f := range fields {
		h, err := strconv.Atoi(f)
		if err != nil || h < 1 || h > 24*366 {
			return nil, fmt.Errorf("invalid advance hours %q", f)
		}
		if !slices.Contains(hours, h) {
			hours = append(hours, h)
		}
	}
	slices.Sort(hours)
	slices.Reverse(hours)
	return hours, nil
}

// FormatAdvance renders lead times the way ParseAdvance reads them.
func FormatAdvance(hours []int) string {
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, " ")
}
