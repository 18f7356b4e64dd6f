package bot

import (
	"fmt"
	"strconv"
	"strings"

	"calbot/internal/fetcher"
	"calbot/internal/model"
)

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("calendar ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid calendar ID %q", s)
	}
	return id, nil
}

// ParseAddArgs extracts the feed URL and the target channel of /add.
// The channel is an @username or a numeric chat ID.
func ParseAddArgs(args string) (string, string, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("usage: /add <ical_url> <@channel>")
	}

	url, err := fetcher.NormalizeURL(parts[0])
	if err != nil {
		return "", "", err
	}

	channel := parts[1]
	if !strings.HasPrefix(channel, "@") {
		if _, err := strconv.ParseInt(channel, 10, 64); err != nil {
			return "", "", fmt.Errorf("invalid channel %q, use @channel or a chat ID", channel)
		}
	} else if len(channel) < 2 {
		return "", "", fmt.Errorf("invalid channel %q, use @channel or a chat ID", channel)
	}
	return url, channel, nil
}

// ParseDayStartArgs extracts a calendar ID and a time of day for /daystart.
func ParseDayStartArgs(args string) (int64, model.TimeOfDay, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return 0, model.TimeOfDay{}, fmt.Errorf("usage: /daystart <id> <HH:MM>")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, model.TimeOfDay{}, fmt.Errorf("invalid calendar ID %q", parts[0])
	}
	tod, err := model.ParseTimeOfDay(parts[1])
	if err != nil {
		return 0, model.TimeOfDay{}, err
	}
	return id, tod, nil
}
