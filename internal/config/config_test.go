package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// withDefaults returns the default configuration with the given token.
func withDefaults(token string) *Config {
	return &Config{
		TelegramBotToken: token,
		DatabasePath:     "./data/calbot.db",
		LogLevel:         "info",
		CheckInterval:    time.Hour,
		TickInterval:     time.Minute,
		FailureThreshold: 5,
		FetchTimeout:     30 * time.Second,
		SendTimeout:      10 * time.Second,
		MaxParallelFeeds: 4,
		FeedStagger:      time.Second,
		StatsSchedule:    "@every 1h",
		LeaseTTL:         5 * time.Minute,
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range append(Keys(), "CONFIG_FILE") {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    func() *Config
		wantErr bool
	}{
		{
			name:    "missing token",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "token only, defaults applied",
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "test-token"},
			want: func() *Config { return withDefaults("test-token") },
		},
		{
			name: "all values set",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"DATABASE_PATH":      "/tmp/bot.db",
				"LOG_LEVEL":          "debug",
				"ALLOWED_USERS":      "111,222,333",
				"CHECK_INTERVAL":     "30m",
				"TICK_INTERVAL":      "10s",
				"FAILURE_THRESHOLD":  "3",
				"FETCH_TIMEOUT":      "5s",
				"SEND_TIMEOUT":       "2s",
				"MAX_PARALLEL_FEEDS": "8",
				"FEED_STAGGER":       "0s",
				"STATS_SCHEDULE":     "*/5 * * * *",
				"REDIS_ADDR":         "localhost:6379",
				"LEASE_TTL":          "1m",
			},
			want: func() *Config {
				return &Config{
					TelegramBotToken: "tok",
					DatabasePath:     "/tmp/bot.db",
					LogLevel:         "debug",
					AllowedUsers:     []int64{111, 222, 333},
					CheckInterval:    30 * time.Minute,
					TickInterval:     10 * time.Second,
					FailureThreshold: 3,
					FetchTimeout:     5 * time.Second,
					SendTimeout:      2 * time.Second,
					MaxParallelFeeds: 8,
					FeedStagger:      0,
					StatsSchedule:    "*/5 * * * *",
					RedisAddr:        "localhost:6379",
					LeaseTTL:         time.Minute,
				}
			},
		},
		{
			name: "allowed users with spaces",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"ALLOWED_USERS":      " 10 , 20 , ",
			},
			want: func() *Config {
				cfg := withDefaults("tok")
				cfg.AllowedUsers = []int64{10, 20}
				return cfg
			},
		},
		{
			name: "invalid user id",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"ALLOWED_USERS":      "123,abc",
			},
			wantErr: true,
		},
		{
			name: "invalid duration",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"FETCH_TIMEOUT":      "soon",
			},
			wantErr: true,
		},
		{
			name: "zero timeout",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"SEND_TIMEOUT":       "0s",
			},
			wantErr: true,
		},
		{
			name: "check interval below a minute",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"CHECK_INTERVAL":     "30s",
			},
			wantErr: true,
		},
		{
			name: "zero threshold",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"FAILURE_THRESHOLD":  "0",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want(), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "calbot.yaml")
	data := []byte(`telegram_bot_token: from-file
database_path: /var/lib/calbot.db
allowed_users: [7, 8]
check_interval: 2h
failure_threshold: 10
redis_addr: redis:6379
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("FAILURE_THRESHOLD", "2")

	got, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := withDefaults("from-file")
	want.DatabasePath = "/var/lib/calbot.db"
	want.AllowedUsers = []int64{7, 8}
	want.CheckInterval = 2 * time.Hour
	want.FailureThreshold = 2
	want.RedisAddr = "redis:6379"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing file"},
		{name: "malformed yaml", content: "telegram_bot_token: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "calbot.yaml")
			if tt.content != "" {
				if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
					t.Fatalf("write config: %v", err)
				}
			}
			t.Setenv("CONFIG_FILE", path)
			t.Setenv("TELEGRAM_BOT_TOKEN", "tok")

			if _, err := Load(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedUsers []int64
		userID       int64
		want         bool
	}{
		{
			name:         "empty list allows everyone",
			allowedUsers: nil,
			userID:       42,
			want:         true,
		},
		{
			name:         "user in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       20,
			want:         true,
		},
		{
			name:         "user not in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       99,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AllowedUsers: tt.allowedUsers}
			got := cfg.IsUserAllowed(tt.userID)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("IsUserAllowed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "WARN", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "chatty", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.in}
			if diff := cmp.Diff(tt.want, cfg.SlogLevel()); diff != "" {
				t.Errorf("SlogLevel() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
