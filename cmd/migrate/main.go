package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/urfave/cli/v2"
	_ "modernc.org/sqlite"

	"calbot/migrations"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "migrate",
		Usage: "Manage the calbot database schema.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Value:   "./data/calbot.db",
				Usage:   "path to sqlite database",
				EnvVars: []string{"DATABASE_PATH"},
			},
		},
		Commands: []*cli.Command{
			gooseCommand("up", "Migrate to the latest version", goose.Up),
			gooseCommand("up-one", "Migrate one version up", goose.UpByOne),
			gooseCommand("down", "Roll back one version", goose.Down),
			gooseCommand("status", "Show migration status", goose.Status),
			gooseCommand("version", "Show current version", goose.Version),
			gooseCommand("reset", "Roll back all migrations", goose.Reset),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

type gooseFunc func(db *sql.DB, dir string, opts ...goose.OptionsFunc) error

func gooseCommand(name, usage string, run gooseFunc) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			db, err := sql.Open("sqlite", c.String("db"))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			goose.SetBaseFS(migrations.FS)
			if err := goose.SetDialect("sqlite3"); err != nil {
				return fmt.Errorf("set dialect: %w", err)
			}
			if err := run(db, "."); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		},
	}
}
