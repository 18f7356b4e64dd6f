package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/urfave/cli/v2"

	"calbot/internal/fetcher"
	"calbot/internal/message"
	"calbot/internal/model"
	"calbot/internal/processing"
)

func main() {
	app := &cli.App{
		Name:      "preview",
		Usage:     "Show which events of a calendar would be notified, without sending anything.",
		UsageText: "preview (--file cal.ics | --url https://...) [--advance \"48 24\"] [--now 2024-06-01T12:00:00Z]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "read the calendar from a local .ics file"},
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "download the calendar from an http(s) or webcal URL"},
			&cli.StringFlag{Name: "advance", Value: model.FormatAdvance(model.DefaultAdvance), Usage: "lead times in hours"},
			&cli.StringFlag{Name: "day-start", Value: model.DefaultDayStart.String(), Usage: "notification time of all-day events, HH:MM"},
			&cli.TimestampFlag{Name: "now", Layout: time.RFC3339, Usage: "pretend the current time is this RFC 3339 instant"},
			&cli.StringFlag{Name: "format", Value: model.DefaultFormat, Usage: "notification template"},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "download timeout"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log skipped records and fetch details"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("preview failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := slog.LevelError
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts, err := parseOptions(c)
	if err != nil {
		return err
	}

	body, err := load(c.Context, c.String("file"), c.String("url"), c.Duration("timeout"), log)
	if err != nil {
		return err
	}
	return preview(c.App.Writer, body, opts, log)
}

type options struct {
	feed   *model.Feed
	format string
	now    time.Time
}

func parseOptions(c *cli.Context) (options, error) {
	advance, err := model.ParseAdvance(c.String("advance"))
	if err != nil {
		return options{}, err
	}
	dayStart, err := model.ParseTimeOfDay(c.String("day-start"))
	if err != nil {
		return options{}, err
	}
	if err := message.Validate(c.String("format")); err != nil {
		return options{}, err
	}

	now := time.Now()
	if ts := c.Timestamp("now"); ts != nil {
		now = *ts
	}

	return options{
		feed:   &model.Feed{AdvanceHours: advance, DayStart: dayStart},
		format: c.String("format"),
		now:    now.UTC(),
	}, nil
}

func load(ctx context.Context, file, url string, timeout time.Duration, log *slog.Logger) ([]byte, error) {
	switch {
	case file != "" && url != "":
		return nil, fmt.Errorf("use either --file or --url, not both")
	case file != "":
		return os.ReadFile(file)
	case url != "":
		target, err := fetcher.NormalizeURL(url)
		if err != nil {
			return nil, err
		}
		return fetcher.New(http.DefaultClient, timeout, log).Fetch(ctx, target)
	default:
		return nil, fmt.Errorf("one of --file or --url is required")
	}
}

// preview prints every occurrence in the read window and the notifications
// a first cycle at opts.now would send.
func preview(w io.Writer, body []byte, opts options, log *slog.Logger) error {
	plan, err := processing.BuildPlan(opts.feed, body, nil, opts.now, log)
	if err != nil {
		return err
	}

	name := plan.Calendar.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(w, "Calendar: %s\n", name)
	fmt.Fprintf(w, "Timezone: %s\n", plan.Location)
	fmt.Fprintf(w, "Window: %s .. %s\n",
		opts.now.In(plan.Location).Format(time.RFC3339),
		opts.now.Add(opts.feed.MaxAdvance()).In(plan.Location).Format(time.RFC3339))

	fmt.Fprintf(w, "\nOccurrences (%d):\n", len(plan.Report.Events))
	for _, ev := range plan.Report.Events {
		fmt.Fprintf(w, "  %s  %s  %s\n", ev.NotifyAt.In(plan.Location).Format(time.RFC3339), ev.ID, ev.Title.Value)
	}

	if len(plan.Report.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped (%d):\n", len(plan.Report.Skipped))
		for _, s := range plan.Report.Skipped {
			fmt.Fprintf(w, "  %s: %s\n", s.UID, s.Reason)
		}
	}

	fmt.Fprintf(w, "\nDue now (%d):\n", len(plan.Due))
	for _, ev := range plan.Due {
		fmt.Fprintf(w, "--- %s, %dh lead\n%s\n", ev.ID, ev.NotifiedFor, message.Event(opts.format, ev, plan.Location))
	}
	return nil
}
