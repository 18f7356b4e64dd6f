package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"calbot/internal/bot"
	"calbot/internal/config"
	"calbot/internal/fetcher"
	"calbot/internal/lease"
	"calbot/internal/processing"
	"calbot/internal/scheduler"
	"calbot/internal/stats"
	"calbot/internal/storage"
)

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	b, err := bot.New(cfg.TelegramBotToken, store, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	locker, closeLocker, err := newLocker(ctx, cfg, log)
	if err != nil {
		log.Error("connect redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer closeLocker()

	httpClient := &http.Client{Timeout: cfg.FetchTimeout + 5*time.Second}
	proc := processing.New(fetcher.New(httpClient, cfg.FetchTimeout, log), store, b, cfg.SendTimeout, log)

	sched := scheduler.New(store, proc, locker, log)
	sched.SetTickInterval(cfg.TickInterval)
	sched.SetStagger(cfg.FeedStagger)
	sched.SetParallel(cfg.MaxParallelFeeds)
	b.SetChecker(sched)

	collector, err := stats.New(store, cfg.StatsSchedule, log)
	if err != nil {
		log.Error("create stats collector", "error", err)
		os.Exit(1)
	}
	collector.Start(ctx)
	defer collector.Stop()
	b.SetStats(collector)

	log.Info("starting bot",
		"tick", cfg.TickInterval, "parallel", cfg.MaxParallelFeeds, "redis", cfg.RedisAddr != "")

	go sched.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
}

// newLocker picks Redis leases when an address is configured, so several
// bot instances can share one database, and in-process leases otherwise.
func newLocker(ctx context.Context, cfg *config.Config, log *slog.Logger) (lease.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lease.NewLocal(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return lease.NewRedis(client, "calbot:lease:", cfg.LeaseTTL, log), func() { _ = client.Close() }, nil
}
