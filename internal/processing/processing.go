// Package processing runs the per-feed cycle: fetch, read, select due
// occurrences, notify, and record the outcome on the feed.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"calbot/internal/calendar"
	"calbot/internal/ical"
	"calbot/internal/message"
	"calbot/internal/model"
)

// Stage names the step of a cycle that failed.
type Stage string

// Cycle stages.
const (
	StageFetch   Stage = "fetch"
	StageParse   Stage = "parse"
	StageState   Stage = "state"
	StageSend    Stage = "send"
	StagePersist Stage = "persist"
)

// StageError is a cycle failure tagged with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func fail(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Fetcher downloads feed bodies.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Notifier delivers text to a chat, either a numeric ID or an @channel.
type Notifier interface {
	Notify(ctx context.Context, chatID string, text string) error
}

// Store is the persistence the cycle needs.
type Store interface {
	GetUserSettings(ctx context.Context, userID int64) (*model.UserSettings, error)
	RecordOutcome(ctx context.Context, feedID int64, out model.Outcome) (*model.Feed, bool, error)
	LoadStates(ctx context.Context, feedID int64) (map[string]model.EventState, error)
	SaveState(ctx context.Context, feedID int64, state model.EventState) error
	PruneStates(ctx context.Context, feedID int64, before time.Time) (int64, error)
}

// Plan is the outcome of reading one feed body at one instant.
type Plan struct {
	Calendar *ical.Calendar
	Location *time.Location
	Report   calendar.Report
	Due      []calendar.Event
}

// BuildPlan parses body and selects the occurrences due at now. It has no
// side effects besides logging.
func BuildPlan(feed *model.Feed, body []byte, states map[string]model.EventState, now time.Time, log *slog.Logger) (*Plan, error) {
	cal, err := ical.Parse(body, log)
	if err != nil {
		return nil, err
	}

	loc := calendar.ResolveLocation(cal.Timezone, log)
	reader := calendar.NewReader(loc, feed.DayStart, log)
	rep := reader.Read(cal.Records, calendar.WindowFor(now, feed.MaxAdvance()))

	return &Plan{
		Calendar: cal,
		Location: loc,
		Report:   rep,
		Due:      calendar.Due(rep.Events, feed.AdvanceHours, now, states),
	}, nil
}

// Result summarizes a completed or interrupted cycle.
type Result struct {
	Read    int
	Skipped int
	Due     int
	Sent    int
	// Verified is set when this cycle verified the feed.
	Verified bool
	// Disabled is set when this cycle disabled the feed.
	Disabled bool
}

// Processor runs feed cycles.
type Processor struct {
	fetcher     Fetcher
	store       Store
	notifier    Notifier
	sendTimeout time.Duration
	log         *slog.Logger
}

// New creates a Processor. A non-positive sendTimeout defaults to 10 seconds.
func New(fetcher Fetcher, store Store, notifier Notifier, sendTimeout time.Duration, log *slog.Logger) *Processor {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Processor{
		fetcher:     fetcher,
		store:       store,
		notifier:    notifier,
		sendTimeout: sendTimeout,
		log:         log,
	}
}

// Run performs one cycle for feed at now and records the outcome on the
// stored feed, which feed is then refreshed from.
//
// Every notification is committed to the state store right after it is
// sent, so a failure midway keeps what was already delivered. Only status
// columns are written back, so settings changed while the cycle ran are
// kept. The returned error, if any, is a *StageError; a failure to record a
// successful cycle counts as a failed one.
func (p *Processor) Run(ctx context.Context, feed *model.Feed, now time.Time) (Result, error) {
	log := p.log.With("feed_id", feed.ID)

	res, plan, err := p.cycle(ctx, feed, now, log)
	if err == nil {
		stored, verified, perr := p.store.RecordOutcome(ctx, feed.ID, model.Outcome{At: now, Name: plan.Calendar.Name})
		if perr == nil {
			*feed = *stored
			res.Verified = verified
			if verified {
				log.Info("calendar verified", "name", feed.Name)
				p.notify(ctx, feed.ChannelID, message.ChannelVerified(feed.Name), log)
				p.notifyOwner(ctx, feed, message.OwnerVerified(feed), log)
			}
			log.Debug("calendar processed",
				"read", res.Read, "skipped", res.Skipped, "due", res.Due, "sent", res.Sent)
			return res, nil
		}
		err = fail(StagePersist, fmt.Errorf("record outcome: %w", perr))
	}

	log.Error("calendar cycle failed", "error", err)
	out := model.Outcome{At: now, Err: err}
	stored, disabled, perr := p.store.RecordOutcome(ctx, feed.ID, out)
	if perr != nil {
		log.Error("persist failed calendar", "error", perr)
		disabled = feed.Apply(out)
	} else {
		*feed = *stored
	}
	res.Disabled = disabled

	if !feed.Verified {
		p.notifyOwner(ctx, feed, message.OwnerFailed(feed, err), log)
	}
	if disabled {
		log.Warn("calendar disabled", "failures", feed.FailureCount)
		p.notifyOwner(ctx, feed, message.OwnerDisabled(feed), log)
	}
	return res, err
}

func (p *Processor) cycle(ctx context.Context, feed *model.Feed, now time.Time, log *slog.Logger) (Result, *Plan, error) {
	var res Result

	body, err := p.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		return res, nil, fail(StageFetch, err)
	}

	states, err := p.store.LoadStates(ctx, feed.ID)
	if err != nil {
		return res, nil, fail(StageState, err)
	}

	plan, err := BuildPlan(feed, body, states, now, log)
	if err != nil {
		return res, nil, fail(StageParse, err)
	}
	res.Read = len(plan.Report.Events)
	res.Skipped = len(plan.Report.Skipped)
	res.Due = len(plan.Due)

	if len(plan.Due) > 0 {
		settings, err := p.store.GetUserSettings(ctx, feed.UserID)
		if err != nil {
			return res, plan, fail(StageState, err)
		}

		for _, ev := range plan.Due {
			text := message.Event(settings.Format, ev, plan.Location)
			if err := p.send(ctx, feed.ChannelID, text); err != nil {
				return res, plan, fail(StageSend, fmt.Errorf("occurrence %s: %w", ev.ID, err))
			}
			log.Info("event notified",
				"occurrence_id", ev.ID, "title", ev.Title.Value, "lead_hours", ev.NotifiedFor, "channel", feed.ChannelID)

			st := model.EventState{OccurrenceID: ev.ID, LastNotifiedHours: ev.NotifiedFor}
			if err := p.store.SaveState(ctx, feed.ID, st); err != nil {
				return res, plan, fail(StagePersist, fmt.Errorf("occurrence %s: %w", ev.ID, err))
			}
			res.Sent++
		}
	}

	// Anything last written before the oldest instant the window can still
	// reach belongs to an occurrence that has passed.
	cutoff := now.Add(-feed.MaxAdvance() - 24*time.Hour)
	if n, err := p.store.PruneStates(ctx, feed.ID, cutoff); err != nil {
		log.Warn("prune event states", "error", err)
	} else if n > 0 {
		log.Debug("pruned event states", "count", n)
	}

	return res, plan, nil
}

func (p *Processor) send(ctx context.Context, chatID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	return p.notifier.Notify(ctx, chatID, text)
}

func (p *Processor) notify(ctx context.Context, chatID, text string, log *slog.Logger) {
	if err := p.send(ctx, chatID, text); err != nil {
		log.Warn("send notice", "chat_id", chatID, "error", err)
	}
}

func (p *Processor) notifyOwner(ctx context.Context, feed *model.Feed, text string, log *slog.Logger) {
	p.notify(ctx, strconv.FormatInt(feed.UserID, 10), text, log)
}
