// Package config handles application configuration from environment variables
// and an optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64

	// CheckInterval is how often each calendar is re-read.
	CheckInterval    time.Duration
	TickInterval     time.Duration
	FailureThreshold int
	FetchTimeout     time.Duration
	SendTimeout      time.Duration
	MaxParallelFeeds int
	FeedStagger      time.Duration
	StatsSchedule    string

	// RedisAddr switches feed leases to Redis when non-empty.
	RedisAddr string
	LeaseTTL  time.Duration
}

// fileConfig is the YAML layout read from CONFIG_FILE.
type fileConfig struct {
	TelegramBotToken string  `yaml:"telegram_bot_token"`
	DatabasePath     string  `yaml:"database_path"`
	LogLevel         string  `yaml:"log_level"`
	AllowedUsers     []int64 `yaml:"allowed_users"`
	CheckInterval    string  `yaml:"check_interval"`
	TickInterval     string  `yaml:"tick_interval"`
	FailureThreshold int     `yaml:"failure_threshold"`
	FetchTimeout     string  `yaml:"fetch_timeout"`
	SendTimeout      string  `yaml:"send_timeout"`
	MaxParallelFeeds int     `yaml:"max_parallel_feeds"`
	FeedStagger      string  `yaml:"feed_stagger"`
	StatsSchedule    string  `yaml:"stats_schedule"`
	RedisAddr        string  `yaml:"redis_addr"`
	LeaseTTL         string  `yaml:"lease_ttl"`
}

var defaults = map[string]string{
	"DATABASE_PATH":      "./data/calbot.db",
	"LOG_LEVEL":          "info",
	"CHECK_INTERVAL":     "1h",
	"TICK_INTERVAL":      "1m",
	"FAILURE_THRESHOLD":  "5",
	"FETCH_TIMEOUT":      "30s",
	"SEND_TIMEOUT":       "10s",
	"MAX_PARALLEL_FEEDS": "4",
	"FEED_STAGGER":       "1s",
	"STATS_SCHEDULE":     "@every 1h",
	"LEASE_TTL":          "5m",
}

// Load reads configuration. Values come from the YAML file named by
// CONFIG_FILE, if set, and environment variables override them.
func Load() (*Config, error) {
	raw := make(map[string]string, len(defaults))
	for k, v := range defaults {
		raw[k] = v
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fc, err := readFile(path)
		if err != nil {
			return nil, err
		}
		fc.merge(raw)
	}

	for _, key := range Keys() {
		if v := os.Getenv(key); v != "" {
			raw[key] = v
		}
	}

	return parse(raw)
}

// Keys lists the environment variables Load consults, besides CONFIG_FILE.
func Keys() []string {
	return []string{
		"TELEGRAM_BOT_TOKEN", "DATABASE_PATH", "LOG_LEVEL", "ALLOWED_USERS",
		"CHECK_INTERVAL", "TICK_INTERVAL", "FAILURE_THRESHOLD", "FETCH_TIMEOUT",
		"SEND_TIMEOUT", "MAX_PARALLEL_FEEDS", "FEED_STAGGER", "STATS_SCHEDULE",
		"REDIS_ADDR", "LEASE_TTL",
	}
}

func readFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func (fc *fileConfig) merge(raw map[string]string) {
	set := func(key, v string) {
		if v != "" {
			raw[key] = v
		}
	}
	set("TELEGRAM_BOT_TOKEN", fc.TelegramBotToken)
	set("DATABASE_PATH", fc.DatabasePath)
	set("LOG_LEVEL", fc.LogLevel)
	set("CHECK_INTERVAL", fc.CheckInterval)
	set("TICK_INTERVAL", fc.TickInterval)
	set("FETCH_TIMEOUT", fc.FetchTimeout)
	set("SEND_TIMEOUT", fc.SendTimeout)
	set("FEED_STAGGER", fc.FeedStagger)
	set("STATS_SCHEDULE", fc.StatsSchedule)
	set("REDIS_ADDR", fc.RedisAddr)
	set("LEASE_TTL", fc.LeaseTTL)
	if fc.FailureThreshold != 0 {
		raw["FAILURE_THRESHOLD"] = strconv.Itoa(fc.FailureThreshold)
	}
	if fc.MaxParallelFeeds != 0 {
		raw["MAX_PARALLEL_FEEDS"] = strconv.Itoa(fc.MaxParallelFeeds)
	}
	if len(fc.AllowedUsers) > 0 {
		ids := make([]string, len(fc.AllowedUsers))
		for i, id := range fc.AllowedUsers {
			ids[i] = strconv.FormatInt(id, 10)
		}
		raw["ALLOWED_USERS"] = strings.Join(ids, ",")
	}
}

func parse(raw map[string]string) (*Config, error) {
	token := raw["TELEGRAM_BOT_TOKEN"]
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	var allowedUsers []int64
	if v := raw["ALLOWED_USERS"]; v != "" {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
	}

	cfg := &Config{
		TelegramBotToken: token,
		DatabasePath:     raw["DATABASE_PATH"],
		LogLevel:         raw["LOG_LEVEL"],
		AllowedUsers:     allowedUsers,
		StatsSchedule:    raw["STATS_SCHEDULE"],
		RedisAddr:        raw["REDIS_ADDR"],
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CHECK_INTERVAL", &cfg.CheckInterval},
		{"TICK_INTERVAL", &cfg.TickInterval},
		{"FETCH_TIMEOUT", &cfg.FetchTimeout},
		{"SEND_TIMEOUT", &cfg.SendTimeout},
		{"FEED_STAGGER", &cfg.FeedStagger},
		{"LEASE_TTL", &cfg.LeaseTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(raw[d.key])
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v < 0 || (v == 0 && d.key != "FEED_STAGGER") {
			return nil, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = v
	}
	if cfg.CheckInterval < time.Minute {
		return nil, fmt.Errorf("invalid CHECK_INTERVAL: must be at least 1m")
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"FAILURE_THRESHOLD", &cfg.FailureThreshold},
		{"MAX_PARALLEL_FEEDS", &cfg.MaxParallelFeeds},
	}
	for _, n := range ints {
		v, err := strconv.Atoi(raw[n.key])
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", n.key, err)
		}
		if v < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1", n.key)
		}
		*n.dst = v
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// CheckIntervalMinutes is the re-read interval assigned to new calendars.
func (c *Config) CheckIntervalMinutes() int {
	return int(c.CheckInterval / time.Minute)
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
