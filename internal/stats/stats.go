// Package stats keeps a periodically refreshed snapshot of bot usage.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calbot/internal/model"
)

// Source computes fresh statistics.
type Source interface {
	Stats(ctx context.Context) (model.Stats, error)
}

// Collector refreshes statistics on a cron schedule and serves the last
// snapshot in between.
type Collector struct {
	source  Source
	cron    *cron.Cron
	timeout time.Duration
	log     *slog.Logger

	mu   sync.RWMutex
	last model.Stats
	ok   bool
}

// New creates a Collector refreshing on schedule, a standard five-field cron
// expression or a descriptor such as "@every 1h".
func New(source Source, schedule string, log *slog.Logger) (*Collector, error) {
	c := &Collector{
		source:  source,
		cron:    cron.New(),
		timeout: 30 * time.Second,
		log:     log,
	}
	if _, err := c.cron.AddFunc(schedule, c.tick); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", schedule, err)
	}
	return c, nil
}

// Start takes a first snapshot and starts the schedule in the background.
func (c *Collector) Start(ctx context.Context) {
	if _, err := c.Refresh(ctx); err != nil {
		c.log.Warn("refresh stats", "error", err)
	}
	c.cron.Start()
}

// Stop stops the schedule and waits for a running refresh to finish.
func (c *Collector) Stop() {
	<-c.cron.Stop().Done()
}

func (c *Collector) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if _, err := c.Refresh(ctx); err != nil {
		c.log.Warn("refresh stats", "error", err)
	}
}

// Refresh recomputes the snapshot.
func (c *Collector) Refresh(ctx context.Context) (model.Stats, error) {
	st, err := c.source.Stats(ctx)
	if err != nil {
		return model.Stats{}, err
	}

	c.mu.Lock()
	c.last = st
	c.ok = true
	c.mu.Unlock()

	c.log.Debug("stats refreshed", "users", st.Users, "calendars", st.Calendars, "events", st.Events)
	return st, nil
}

// Snapshot returns the last snapshot, taking one if none exists yet.
func (c *Collector) Snapshot(ctx context.Context) (model.Stats, error) {
	c.mu.RLock()
	st, ok := c.last, c.ok
	c.mu.RUnlock()
	if ok {
		return st, nil
	}
	return c.Refresh(ctx)
}
