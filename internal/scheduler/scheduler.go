// Package scheduler periodically runs processing cycles for due feeds.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"calbot/internal/lease"
	"calbot/internal/model"
	"calbot/internal/processing"
)

// ErrBusy is returned by RunFeed when a cycle of the feed is already running.
var ErrBusy = errors.New("calendar is being processed")

// Runner performs one processing cycle of a feed.
type Runner interface {
	Run(ctx context.Context, feed *model.Feed, now time.Time) (processing.Result, error)
}

// FeedStore lists feeds to process.
type FeedStore interface {
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	ListDueFeeds(ctx context.Context, now time.Time) ([]model.Feed, error)
}

// Scheduler periodically processes due feeds, several at a time, never
// running two cycles of the same feed at once.
type Scheduler struct {
	store    FeedStore
	runner   Runner
	locker   lease.Locker
	log      *slog.Logger
	tick     time.Duration
	stagger  time.Duration
	parallel int
	now      func() time.Time
}

// New creates a Scheduler with a one minute tick, four feeds in parallel
// and one second between feed starts.
func New(store FeedStore, runner Runner, locker lease.Locker, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		runner:   runner,
		locker:   locker,
		log:      log,
		tick:     1 * time.Minute,
		stagger:  1 * time.Second,
		parallel: 4,
		now:      time.Now,
	}
}

// SetTickInterval overrides the default 1-minute check interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// SetStagger sets the delay between starting two feed cycles in one tick.
func (s *Scheduler) SetStagger(d time.Duration) {
	s.stagger = d
}

// SetParallel limits how many feed cycles run at once.
func (s *Scheduler) SetParallel(n int) {
	if n < 1 {
		n = 1
	}
	s.parallel = n
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.checkAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

// RunFeed processes one feed right away, outside the schedule.
func (s *Scheduler) RunFeed(ctx context.Context, feedID int64) (processing.Result, error) {
	release, ok, err := s.locker.Acquire(ctx, leaseKey(feedID))
	if err != nil {
		return processing.Result{}, err
	}
	if !ok {
		return processing.Result{}, ErrBusy
	}
	defer release()

	// Read under the lease so counters written by a cycle that just ended
	// are not overwritten.
	feed, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		return processing.Result{}, err
	}
	return s.runner.Run(ctx, feed, s.now().UTC())
}

func (s *Scheduler) checkAll(ctx context.Context) {
	feeds, err := s.store.ListDueFeeds(ctx, s.now().UTC())
	if err != nil {
		s.log.Error("list due feeds", "error", err)
		return
	}
	if len(feeds) == 0 {
		return
	}
	s.log.Debug("processing due calendars", "count", len(feeds))

	var g errgroup.Group
	g.SetLimit(s.parallel)

	for i, feed := range feeds {
		if i > 0 && s.stagger > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.stagger):
			}
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.processFeed(ctx, feed.ID)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) processFeed(ctx context.Context, feedID int64) {
	release, ok, err := s.locker.Acquire(ctx, leaseKey(feedID))
	if err != nil {
		s.log.Error("acquire lease", "feed_id", feedID, "error", err)
		return
	}
	if !ok {
		s.log.Debug("calendar already being processed", "feed_id", feedID)
		return
	}
	defer release()

	feed, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		s.log.Error("get feed", "feed_id", feedID, "error", err)
		return
	}
	if !feed.Enabled {
		return
	}

	s.log.Debug("checking calendar", "feed_id", feed.ID, "name", feed.Name)
	// Failures are logged and recorded on the feed by the runner.
	_, _ = s.runner.Run(ctx, feed, s.now().UTC())
}

func leaseKey(feedID int64) string {
	return fmt.Sprintf("feed:%d", feedID)
}
