package bot

import (
	"fmt"
	"strings"

	"calbot/internal/model"
)

const (
	statusPending  = "pending"
	statusActive   = "active"
	statusDisabled = "disabled"
)

func feedStatus(f *model.Feed) string {
	switch {
	case !f.Enabled:
		return statusDisabled
	case !f.Verified:
		return statusPending
	default:
		return statusActive
	}
}

// FormatFeedList formats a list of calendars for display.
func FormatFeedList(feeds []model.Feed) string {
	if len(feeds) == 0 {
		return "You have no calendars yet. Use /add ical_url @channel to add one."
	}
	var b strings.Builder
	b.WriteString("Your calendars:\n")
	for _, f := range feeds {
		fmt.Fprintf(&b, "\n%d %s -> %s [%s]\n", f.ID, f.Name, f.ChannelID, feedStatus(&f))
	}
	return b.String()
}

// FormatFeedInfo formats detailed information about a single calendar.
func FormatFeedInfo(feed *model.Feed) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Calendar %d %s [%s]\n", feed.ID, feed.Name, feedStatus(feed))
	fmt.Fprintf(&b, "URL: %s\n", feed.URL)
	fmt.Fprintf(&b, "Channel: %s\n", feed.ChannelID)
	fmt.Fprintf(&b, "Advance: %s hours\n", FormatAdvance(feed.AdvanceHours))
	fmt.Fprintf(&b, "Day start: %s\n", feed.DayStart)
	fmt.Fprintf(&b, "Interval: every %d min\n", feed.IntervalMinutes)
	fmt.Fprintf(&b, "Failures: %d of %d\n", feed.FailureCount, feed.FailureThreshold)
	if feed.LastProcessAt != nil {
		fmt.Fprintf(&b, "Last check: %s\n", feed.LastProcessAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	if feed.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", feed.LastError)
	}
	return b.String()
}

// FormatAdvance renders lead times for a reply.
func FormatAdvance(hours []int) string {
	return strings.ReplaceAll(model.FormatAdvance(hours), " ", ", ")
}
