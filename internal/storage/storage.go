// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"calbot/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	// GetUserSettings returns the settings of a user, creating the user with
	// defaults on first contact.
	GetUserSettings(ctx context.Context, userID int64) (*model.UserSettings, error)
	SaveUserSettings(ctx context.Context, settings *model.UserSettings) error
	// SetUserAdvance stores new lead times for the user and all of the
	// user's feeds.
	SetUserAdvance(ctx context.Context, userID int64, hours []int) error

	CreateFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	ListFeeds(ctx context.Context, userID int64) ([]model.Feed, error)
	ListDueFeeds(ctx context.Context, now time.Time) ([]model.Feed, error)
	// UpdateFeed writes the user settings of a feed.
	UpdateFeed(ctx context.Context, feed *model.Feed) error
	// RecordOutcome applies a cycle outcome to the stored feed atomically.
	RecordOutcome(ctx context.Context, feedID int64, out model.Outcome) (*model.Feed, bool, error)
	SetFeedEnabled(ctx context.Context, feedID int64, enabled bool) error
	DeleteFeed(ctx context.Context, id int64) error

	LoadStates(ctx context.Context, feedID int64) (map[string]model.EventState, error)
	SaveState(ctx context.Context, feedID int64, state model.EventState) error
	// PruneStates drops states last written before the given time.
	PruneStates(ctx context.Context, feedID int64, before time.Time) (int64, error)

	Stats(ctx context.Context) (model.Stats, error)

	Close() error
}
