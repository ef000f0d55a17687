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

// Package server exposes the sync trigger and health endpoints. The
// trigger is authenticated by a shared-secret header, separate from any
// end-user authentication in the surrounding application.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/arkaerp/mailsync/internal/ledger"
	"github.com/arkaerp/mailsync/internal/models"
	"github.com/arkaerp/mailsync/internal/pipeline"
	"github.com/arkaerp/mailsync/internal/runlock"
)

// SecretHeader carries the shared secret on sync requests.
const SecretHeader = "X-Sync-Secret"

// runTimeout bounds a whole sync run. Cancellation leaves already-parsed
// messages intact; only in-flight work is abandoned.
const runTimeout = 10 * time.Minute

// SyncRequest is the POST /sync body: an inclusive calendar-date window.
type SyncRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// SyncResponse is the run summary returned to the caller. Per-message
// failures come back inside a 200 response with success=false; only
// configuration and invocation errors fail the call itself.
type SyncResponse struct {
	Success      bool                    `json:"success"`
	RunID        string                  `json:"run_id,omitempty"`
	Scanned      int                     `json:"scanned"`
	Imported     int                     `json:"imported"`
	Skipped      int                     `json:"skipped"`
	PerCategory  map[models.Category]int `json:"per_category_totals,omitempty"`
	Errors       []pipeline.MessageError `json:"errors,omitempty"`
	LastSyncedAt *time.Time              `json:"last_synced_at,omitempty"`
	Error        string                  `json:"error,omitempty"`
}

// SettingsStore is the subset of ledger procedures the handler needs for
// the read-modify-write of the mailbox connection record.
type SettingsStore interface {
	GetConnectionSettings(ctx context.Context, mailbox string) (ledger.ConnectionSettings, error)
	SaveConnectionSettings(ctx context.Context, cs ledger.ConnectionSettings) error
}

// Locker is the mutual-exclusion guard for per-mailbox runs.
type Locker interface {
	Acquire(ctx context.Context, mailbox string) (release func(context.Context) error, err error)
}

// Handler serves sync trigger requests.
type Handler struct {
	runner   *pipeline.Runner
	settings SettingsStore
	lock     Locker
	mailbox  string
	secret   string
}

// NewHandler creates the sync trigger handler.
func NewHandler(runner *pipeline.Runner, settings SettingsStore, lock Locker, mailbox, secret string) *Handler {
	return &Handler{
		runner:   runner,
		settings: settings,
		lock:     lock,
		mailbox:  mailbox,
		secret:   secret,
	}
}

// ServeSync handles POST /sync.
func (h *Handler) ServeSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, SyncResponse{Error: "method not allowed"})
		return
	}
	if r.Header.Get(SecretHeader) != h.secret {
		writeJSON(w, http.StatusUnauthorized, SyncResponse{Error: "invalid sync secret"})
		return
	}

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SyncResponse{Error: "invalid request body"})
		return
	}

	start, end, err := parseWindow(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, SyncResponse{Error: err.Error()})
		return
	}

	// One run per mailbox at a time: concurrent runs over the same window
	// would race on create-or-get plus the later status transition.
	release, err := h.lock.Acquire(r.Context(), h.mailbox)
	if errors.Is(err, runlock.ErrHeld) {
		writeJSON(w, http.StatusConflict, SyncResponse{Error: "sync already running for mailbox"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, SyncResponse{Error: err.Error()})
		return
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			slog.Warn("failed to release run lock", "mailbox", h.mailbox, "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()

	settings, err := h.settings.GetConnectionSettings(ctx, h.mailbox)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, SyncResponse{Error: err.Error()})
		return
	}

	summary, err := h.runner.Run(ctx, start, end, settings)
	if err != nil {
		// The run never got past enumeration; no summary to report.
		writeJSON(w, http.StatusBadGateway, SyncResponse{Error: err.Error()})
		return
	}

	if err := h.settings.SaveConnectionSettings(ctx, summary.Settings); err != nil {
		slog.Error("failed to persist last-synced marker",
			"mailbox", h.mailbox,
			"error", err,
		)
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		Success:      summary.Success,
		RunID:        summary.RunID,
		Scanned:      summary.Scanned,
		Imported:     summary.Imported,
		Skipped:      summary.Skipped,
		PerCategory:  summary.PerCategory,
		Errors:       summary.Errors,
		LastSyncedAt: &summary.LastSyncedAt,
	})
}

// parseWindow validates the request's calendar dates.
func parseWindow(req SyncRequest) (start, end time.Time, err error) {
	if req.StartDate == "" || req.EndDate == "" {
		return start, end, fmt.Errorf("start_date and end_date are required")
	}
	start, err = time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return start, end, fmt.Errorf("invalid start_date %q: expected YYYY-MM-DD", req.StartDate)
	}
	end, err = time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return start, end, fmt.Errorf("invalid end_date %q: expected YYYY-MM-DD", req.EndDate)
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("end_date precedes start_date")
	}
	return start, end, nil
}

func writeJSON(w http.ResponseWriter, status int, body SyncResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Serve starts the HTTP server on the given port. It binds immediately and
// signals readiness via the returned channel before accepting connections.
func Serve(ctx context.Context, port int, handler *Handler, health http.HandlerFunc) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", handler.ServeSync)
	mux.HandleFunc("/health", health)

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: runTimeout + 30*time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("sync server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("sync server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("sync server error", "error", err)
		}
	}()

	return ready, nil
}
