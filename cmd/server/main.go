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

// Arka mail-sync — Settlement Notification Ingestion Service
//
// Entry point for the long-running service. It:
//  1. Loads mailbox, ledger and server configuration
//  2. Connects to PostgreSQL (ledger) and Redis (run lock)
//  3. Builds the OAuth-authenticated Gmail client
//  4. Serves POST /sync (shared-secret authenticated) and GET /health
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/arkaerp/mailsync/internal/config"
	"github.com/arkaerp/mailsync/internal/gmail"
	"github.com/arkaerp/mailsync/internal/ledger"
	"github.com/arkaerp/mailsync/internal/parse"
	"github.com/arkaerp/mailsync/internal/pipeline"
	"github.com/arkaerp/mailsync/internal/runlock"
	"github.com/arkaerp/mailsync/internal/server"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mail-sync service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"mailbox", cfg.Mailbox.Address,
		"org_id", cfg.Ledger.OrgID,
		"currency", cfg.Ledger.Currency,
		"timezone", cfg.Ledger.Timezone,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.Ledger.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	lock := runlock.NewLock(rdb)
	if err := lock.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Ledger Store ---
	store, err := ledger.NewStore(ctx, pgPool, cfg.Ledger.OrgID)
	if err != nil {
		slog.Error("failed to initialise ledger store", "error", err)
		os.Exit(1)
	}

	// --- Gmail Client ---
	mail := gmail.NewClient(ctx, cfg.Mailbox, gmail.DefaultBaseURL)

	// --- Amount Matcher ---
	amounts, err := parse.NewAmountMatcher(cfg.Ledger.Currency)
	if err != nil {
		slog.Error("invalid ledger currency", "error", err)
		os.Exit(1)
	}

	// --- Pipeline Runner ---
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Source:   mail,
		Ledger:   store,
		Amounts:  amounts,
		Location: cfg.Location,
		Currency: amounts.Currency(),
	})

	// --- HTTP Server ---
	handler := server.NewHandler(runner, store, lock, cfg.Mailbox.Address, cfg.SyncSecret)

	health := func(w http.ResponseWriter, r *http.Request) {
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := lock.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	}

	ready, err := server.Serve(ctx, cfg.Port, handler, health)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	slog.Info("mail-sync service stopped")
}
