// Package message renders occurrences and feed notices as chat text.
package message

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"calbot/internal/calendar"
	"calbot/internal/ical"
	"calbot/internal/model"
)

const (
	dateLayout = "Monday, 02 January 2006"
	timeLayout = "15:04 MST"
)

var placeholder = regexp.MustCompile(`\{(\w+)(?::([^}]*))?\}`)

var fields = map[string]bool{
	"title":       true,
	"date":        true,
	"time":        true,
	"location":    true,
	"description": true,
}

// Validate checks that a template only uses known placeholders.
func Validate(format string) error {
	if strings.TrimSpace(format) == "" {
		return fmt.Errorf("format cannot be empty")
	}
	for _, m := range placeholder.FindAllStringSubmatch(format, -1) {
		if !fields[m[1]] {
			return fmt.Errorf("unknown placeholder {%s}, use {title}, {date}, {time}, {location} or {description}", m[1])
		}
	}
	return nil
}

// Event renders an occurrence with a user template.
//
// Placeholders are {title}, {date}, {time}, {location} and {description}.
// Date and time accept a Go layout after a colon, e.g. {date:02.01.2006}.
// Missing fields render blank, and a line left blank only by substitution
// is dropped.
func Event(format string, ev calendar.Event, loc *time.Location) string {
	var start time.Time
	if ev.AllDay {
		start = ev.Start
	} else {
		start = ev.Start.In(loc)
	}

	lines := strings.Split(format, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		rendered := placeholder.ReplaceAllStringFunc(line, func(s string) string {
			m := placeholder.FindStringSubmatch(s)
			return field(m[1], m[2], ev, start, s)
		})
		rendered = strings.TrimRight(rendered, " \t")
		if rendered == "" && strings.TrimSpace(line) != "" {
			continue
		}
		out = append(out, rendered)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func field(name, layout string, ev calendar.Event, start time.Time, orig string) string {
	switch name {
	case "title":
		return text(ev.Title)
	case "location":
		return text(ev.Location)
	case "description":
		return text(ev.Description)
	case "date":
		if layout == "" {
			layout = dateLayout
		}
		return start.Format(layout)
	case "time":
		if ev.AllDay {
			return ""
		}
		if layout == "" {
			layout = timeLayout
		}
		return start.Format(layout)
	}
	return orig
}

func text(t ical.Text) string {
	if !t.Valid {
		return ""
	}
	return strings.TrimSpace(t.Value)
}

// Sample is the occurrence shown when a user previews a template.
func Sample(now time.Time) calendar.Event {
	return calendar.Event{
		ID:          "SAMPLE EVENT",
		SeriesID:    "SAMPLE EVENT",
		Start:       now,
		NotifyAt:    now,
		Title:       ical.Text{Value: "This is sample event", Valid: true},
		Location:    ical.Text{Value: "It happens in Milky Way", Valid: true},
		Description: ical.Text{Value: "The sample event is to demonstrate how the event can be formatted", Valid: true},
	}
}

// ChannelVerified is posted to the channel when a feed is read for the first time.
func ChannelVerified(name string) string {
	return fmt.Sprintf("Events from %s will be notified here", name)
}

// OwnerVerified tells the owner the feed is set up.
func OwnerVerified(feed *model.Feed) string {
	return fmt.Sprintf("Added calendar %d\nName: %s\nURL: %s\nChannel: %s",
		feed.ID, feed.Name, feed.URL, feed.ChannelID)
}

// OwnerFailed reports a failed cycle of a feed that is not verified yet.
func OwnerFailed(feed *model.Feed, err error) string {
	return fmt.Sprintf("Failed to process calendar %d:\n%v", feed.ID, err)
}

// OwnerDisabled tells the owner a feed was switched off.
func OwnerDisabled(feed *model.Feed) string {
	return fmt.Sprintf("Calendar %d \"%s\" was disabled after %d failures in a row.\nLast error: %s\nUse /enable %d to turn it back on.",
		feed.ID, feed.Name, feed.FailureCount, feed.LastError, feed.ID)
}

// Stats renders a statistics snapshot.
func Stats(st model.Stats) string {
	return fmt.Sprintf("Active users: %d\nActive calendars: %d\nNotified events: %d",
		st.Users, st.Calendars, st.Events)
}
