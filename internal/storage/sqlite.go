package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"calbot/internal/model"
	"calbot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const feedColumns = `id, user_id, url, name, channel_id, advance, day_start, interval_minutes,
	verified, enabled, failure_count, failure_threshold, last_process_at, last_error, created_at`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetUserSettings returns the user's settings, inserting defaults if the
// user is new.
func (s *SQLite) GetUserSettings(ctx context.Context, userID int64) (*model.UserSettings, error) {
	def := model.NewUserSettings(userID)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (chat_id, format, advance, created_at) VALUES (?, ?, ?, ?)`,
		userID, def.Format, model.FormatAdvance(def.AdvanceHours), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	var format, advance string
	err = s.db.QueryRowContext(ctx,
		`SELECT format, advance FROM users WHERE chat_id = ?`, userID,
	).Scan(&format, &advance)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	hours, err := model.ParseAdvance(advance)
	if err != nil {
		return nil, fmt.Errorf("user %d advance: %w", userID, err)
	}
	return &model.UserSettings{UserID: userID, Format: format, AdvanceHours: hours}, nil
}

// SaveUserSettings persists the settings of an existing or new user.
func (s *SQLite) SaveUserSettings(ctx context.Context, us *model.UserSettings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (chat_id, format, advance, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (chat_id) DO UPDATE SET format = excluded.format, advance = excluded.advance`,
		us.UserID, us.Format, model.FormatAdvance(us.AdvanceHours), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// SetUserAdvance updates lead times of the user and every feed they own.
func (s *SQLite) SetUserAdvance(ctx context.Context, userID int64, hours []int) error {
	advance := model.FormatAdvance(hours)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE users SET advance = ? WHERE chat_id = ?`, advance, userID)
	if err != nil {
		return fmt.Errorf("update user advance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE feeds SET advance = ? WHERE user_id = ?`, advance, userID); err != nil {
		return fmt.Errorf("update feeds advance: %w", err)
	}
	return tx.Commit()
}

// CreateFeed inserts a new feed and populates its ID and CreatedAt.
func (s *SQLite) CreateFeed(ctx context.Context, feed *model.Feed) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds (user_id, url, name, channel_id, advance, day_start, interval_minutes,
		                    verified, enabled, failure_count, failure_threshold, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feed.UserID, feed.URL, feed.Name, feed.ChannelID, model.FormatAdvance(feed.AdvanceHours),
		feed.DayStart.String(), feed.IntervalMinutes, boolToInt(feed.Verified), boolToInt(feed.Enabled),
		feed.FailureCount, feed.FailureThreshold, feed.LastError, now,
	)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	feed.ID = id
	feed.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetFeed returns a single feed by its ID.
func (s *SQLite) GetFeed(ctx context.Context, id int64) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return f, err
}

// ListFeeds returns all feeds owned by the given user.
func (s *SQLite) ListFeeds(ctx context.Context, userID int64) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE user_id = ? ORDER BY id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// ListDueFeeds returns all enabled feeds whose polling interval has elapsed
// at now.
func (s *SQLite) ListDueFeeds(ctx context.Context, now time.Time) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedColumns+`
		 FROM feeds
		 WHERE enabled = 1
		   AND (last_process_at IS NULL
		        OR datetime(last_process_at, '+' || interval_minutes || ' minutes') <= datetime(?))
		 ORDER BY id`,
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query due feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// UpdateFeed persists the settings of a feed. Status columns written by
// processing cycles are left as stored.
func (s *SQLite) UpdateFeed(ctx context.Context, feed *model.Feed) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET url = ?, channel_id = ?, advance = ?, day_start = ?,
		        interval_minutes = ?, failure_threshold = ?
		 WHERE id = ?`,
		feed.URL, feed.ChannelID, model.FormatAdvance(feed.AdvanceHours), feed.DayStart.String(),
		feed.IntervalMinutes, feed.FailureThreshold, feed.ID,
	)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("feed %d: %w", feed.ID, ErrNotFound)
	}
	return nil
}

// RecordOutcome applies the result of a processing cycle to the stored feed
// and returns the feed as written. The flag is the one reported by
// model.Feed.Apply.
func (s *SQLite) RecordOutcome(ctx context.Context, feedID int64, out model.Outcome) (*model.Feed, bool, error) {
	var changed bool
	feed, err := s.updateStatus(ctx, feedID, func(f *model.Feed) {
		changed = f.Apply(out)
	})
	if err != nil {
		return nil, false, err
	}
	return feed, changed, nil
}

// SetFeedEnabled turns a feed on or off. Enabling clears the failure counter.
func (s *SQLite) SetFeedEnabled(ctx context.Context, feedID int64, enabled bool) error {
	_, err := s.updateStatus(ctx, feedID, func(f *model.Feed) {
		if enabled {
			f.Enable()
		} else {
			f.Enabled = false
		}
	})
	return err
}

// updateStatus reads a feed and writes back its status columns after fn
// changed them, in one transaction.
func (s *SQLite) updateStatus(ctx context.Context, feedID int64, fn func(*model.Feed)) (*model.Feed, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	feed, err := scanFeed(tx.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, feedID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %d: %w", feedID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	fn(feed)

	var lastProcess *string
	if feed.LastProcessAt != nil {
		v := feed.LastProcessAt.UTC().Format(timeLayout)
		lastProcess = &v
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE feeds SET name = ?, verified = ?, enabled = ?, failure_count = ?,
		        last_process_at = ?, last_error = ?
		 WHERE id = ?`,
		feed.Name, boolToInt(feed.Verified), boolToInt(feed.Enabled), feed.FailureCount,
		lastProcess, feed.LastError, feedID,
	)
	if err != nil {
		return nil, fmt.Errorf("update feed status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit feed status: %w", err)
	}
	return feed, nil
}

// DeleteFeed removes a feed together with its occurrence states.
func (s *SQLite) DeleteFeed(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_states WHERE feed_id = ?`, id); err != nil {
		return fmt.Errorf("delete event_states: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	return tx.Commit()
}

// LoadStates returns the notification states of a feed keyed by occurrence.
func (s *SQLite) LoadStates(ctx context.Context, feedID int64) (map[string]model.EventState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT occurrence_id, last_notified_hours FROM event_states WHERE feed_id = ?`, feedID,
	)
	if err != nil {
		return nil, fmt.Errorf("query event states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	states := make(map[string]model.EventState)
	for rows.Next() {
		var st model.EventState
		if err := rows.Scan(&st.OccurrenceID, &st.LastNotifiedHours); err != nil {
			return nil, fmt.Errorf("scan event state: %w", err)
		}
		states[st.OccurrenceID] = st
	}
	return states, rows.Err()
}

// SaveState inserts or replaces the state of one occurrence.
func (s *SQLite) SaveState(ctx context.Context, feedID int64, st model.EventState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_states (feed_id, occurrence_id, last_notified_hours, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (feed_id, occurrence_id)
		 DO UPDATE SET last_notified_hours = excluded.last_notified_hours, updated_at = excluded.updated_at`,
		feedID, st.OccurrenceID, st.LastNotifiedHours, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save event state: %w", err)
	}
	return nil
}

// PruneStates removes states of a feed written before the given time and
// returns how many were removed.
func (s *SQLite) PruneStates(ctx context.Context, feedID int64, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM event_states WHERE feed_id = ? AND updated_at < ?`,
		feedID, before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune event states: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats counts users, feeds and tracked occurrences.
func (s *SQLite) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM users),
		        (SELECT COUNT(*) FROM feeds),
		        (SELECT COUNT(*) FROM event_states)`,
	).Scan(&st.Users, &st.Calendars, &st.Events)
	if err != nil {
		return model.Stats{}, fmt.Errorf("query stats: %w", err)
	}
	st.TakenAt = time.Now().UTC()
	return st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var advance, dayStart string
	var verified, enabled int
	var lastProcess, created sql.NullString
	err := row.Scan(&f.ID, &f.UserID, &f.URL, &f.Name, &f.ChannelID, &advance, &dayStart,
		&f.IntervalMinutes, &verified, &enabled, &f.FailureCount, &f.FailureThreshold,
		&lastProcess, &f.LastError, &created)
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.Verified = verified == 1
	f.Enabled = enabled == 1

	if f.AdvanceHours, err = model.ParseAdvance(advance); err != nil {
		return nil, fmt.Errorf("feed %d advance: %w", f.ID, err)
	}
	if f.DayStart, err = model.ParseTimeOfDay(dayStart); err != nil {
		return nil, fmt.Errorf("feed %d day start: %w", f.ID, err)
	}
	if lastProcess.Valid {
		t, _ := time.Parse(timeLayout, lastProcess.String)
		f.LastProcessAt = &t
	}
	if created.Valid {
		f.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &f, nil
}

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}
