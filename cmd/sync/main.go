// Copyright (c) 2026 Arka Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Arka mail-sync — One-Shot Sync Command
//
// Standalone CLI tool that runs a single settlement-mail sync over a
// date window. Intended for cron-driven scheduling and manual re-runs.
//
// Usage:
//
//	go run ./cmd/sync/ [--start 2026-08-01] [--end 2026-08-31]
//
// Defaults to yesterday through today in the ledger's time zone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/arkaerp/mailsync/internal/config"
	"github.com/arkaerp/mailsync/internal/gmail"
	"github.com/arkaerp/mailsync/internal/ledger"
	"github.com/arkaerp/mailsync/internal/parse"
	"github.com/arkaerp/mailsync/internal/pipeline"
	"github.com/arkaerp/mailsync/internal/runlock"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	startFlag := flag.String("start", "", "Window start date, inclusive (YYYY-MM-DD)")
	endFlag := flag.String("end", "", "Window end date, inclusive (YYYY-MM-DD)")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	start, end, err := resolveWindow(*startFlag, *endFlag, cfg.Location)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.Ledger.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	store, err := ledger.NewStore(ctx, pgPool, cfg.Ledger.OrgID)
	if err != nil {
		slog.Error("failed to initialise ledger store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis and take the run lock ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	lock := runlock.NewLock(rdb)
	release, err := lock.Acquire(ctx, cfg.Mailbox.Address)
	if errors.Is(err, runlock.ErrHeld) {
		slog.Error("another sync run is in progress", "mailbox", cfg.Mailbox.Address)
		os.Exit(1)
	}
	if err != nil {
		slog.Error("failed to acquire run lock", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			slog.Warn("failed to release run lock", "error", err)
		}
	}()

	// --- Build and run the pipeline ---
	amounts, err := parse.NewAmountMatcher(cfg.Ledger.Currency)
	if err != nil {
		slog.Error("invalid ledger currency", "error", err)
		os.Exit(1)
	}

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Source:   gmail.NewClient(ctx, cfg.Mailbox, gmail.DefaultBaseURL),
		Ledger:   store,
		Amounts:  amounts,
		Location: cfg.Location,
		Currency: amounts.Currency(),
	})

	settings, err := store.GetConnectionSettings(ctx, cfg.Mailbox.Address)
	if err != nil {
		slog.Error("failed to load connection settings", "error", err)
		os.Exit(1)
	}

	summary, err := runner.Run(ctx, start, end, settings)
	if err != nil {
		slog.Error("sync run failed", "error", err)
		os.Exit(1)
	}

	if err := store.SaveConnectionSettings(ctx, summary.Settings); err != nil {
		slog.Error("failed to persist last-synced marker", "error", err)
	}

	// --- Summary ---
	slog.Info("sync run finished",
		"run_id", summary.RunID,
		"success", summary.Success,
		"scanned", summary.Scanned,
		"imported", summary.Imported,
		"skipped", summary.Skipped,
		"elapsed", summary.Elapsed,
	)
	for cat, n := range summary.PerCategory {
		slog.Info("category result", "category", cat, "imported", n)
	}
	for _, me := range summary.Errors {
		slog.Warn("message error", "message_id", me.MessageID, "error", me.Error)
	}

	if !summary.Success {
		os.Exit(1)
	}
}

// resolveWindow parses the flags, defaulting to yesterday..today in the
// ledger's zone so a nightly cron picks up mail that straddled midnight.
func resolveWindow(startStr, endStr string, loc *time.Location) (start, end time.Time, err error) {
	now := time.Now().In(loc)
	end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start = end.AddDate(0, 0, -1)

	if startStr != "" {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return start, end, fmt.Errorf("invalid --start %q: expected YYYY-MM-DD", startStr)
		}
	}
	if endStr != "" {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return start, end, fmt.Errorf("invalid --end %q: expected YYYY-MM-DD", endStr)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("--end precedes --start")
	}
	return start, end, nil
}
