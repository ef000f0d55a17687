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

// Package pipeline orchestrates one settlement-mail sync run: plan the
// category queries, deduplicate the result sets, then fetch, extract,
// parse, classify and persist each message in order, continuing past
// per-message failures.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arkaerp/mailsync/internal/classify"
	"github.com/arkaerp/mailsync/internal/gmail"
	"github.com/arkaerp/mailsync/internal/ledger"
	"github.com/arkaerp/mailsync/internal/models"
	"github.com/arkaerp/mailsync/internal/parse"
	"github.com/arkaerp/mailsync/internal/search"
)

// Skip reasons recorded on terminal ingestion batches.
const (
	ReasonNoAmount       = "unable to parse amount"
	ReasonNoTimestamp    = "missing delivery timestamp"
	ReasonDuplicateEvent = "duplicate settlement event"
)

// sourceRefPrefix namespaces provider message ids in settlement rows.
const sourceRefPrefix = "gmail:"

// MessageSource is the mail provider surface the runner consumes.
type MessageSource interface {
	Search(ctx context.Context, query string) ([]string, error)
	Get(ctx context.Context, messageID string) (*gmail.Message, error)
}

// Ledger is the subset of ledger store procedures the runner calls.
type Ledger interface {
	CreateOrGetBatch(ctx context.Context, messageID string) (*ledger.Batch, error)
	RecordMessageMeta(ctx context.Context, batchID int64, meta ledger.MessageMeta) error
	MarkParsed(ctx context.Context, batchID, settlementBatchID int64, parsedEvents int) error
	MarkSkipped(ctx context.Context, batchID int64, reason string, settlementBatchID *int64) error
	MarkError(ctx context.Context, batchID int64, failure string) error
	CreateSettlementBatch(ctx context.Context, sourceRef string, receivedAt time.Time, payload models.RawPayload) (int64, error)
	InsertEvent(ctx context.Context, e ledger.Event) (int64, error)
}

// MessageError pairs a failed message with its error text in the summary.
type MessageError struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// Summary reports one completed run. Not persisted; the HTTP handler and
// CLI render it for the operator.
type Summary struct {
	RunID        string                  `json:"run_id"`
	Success      bool                    `json:"success"`
	Scanned      int                     `json:"scanned"`
	Imported     int                     `json:"imported"`
	Skipped      int                     `json:"skipped"`
	PerCategory  map[models.Category]int `json:"per_category"`
	Errors       []MessageError          `json:"errors"`
	LastSyncedAt time.Time               `json:"last_synced_at"`
	Elapsed      time.Duration           `json:"-"`

	// Settings is the connection record with LastSyncedAt advanced; the
	// caller owns persisting it.
	Settings ledger.ConnectionSettings `json:"-"`
}

// Runner executes sync runs. Messages are processed strictly one at a time
// in deduplicated order: the provider rate-limits aggressively and audit
// wants deterministic summaries, so there is no worker pool.
type Runner struct {
	source   MessageSource
	ledger   Ledger
	amounts  *parse.AmountMatcher
	location *time.Location
	currency string
}

// RunnerConfig holds dependencies for the sync runner.
type RunnerConfig struct {
	Source   MessageSource
	Ledger   Ledger
	Amounts  *parse.AmountMatcher
	Location *time.Location
	Currency string
}

// NewRunner creates a sync runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		source:   cfg.Source,
		ledger:   cfg.Ledger,
		amounts:  cfg.Amounts,
		location: cfg.Location,
		currency: cfg.Currency,
	}
}

// Run syncs the inclusive [start, end] calendar-date window. It returns an
// error only when the run cannot enumerate messages at all (search failure
// or cancellation); per-message failures land in the summary's error list
// and the run continues. LastSyncedAt is advanced on the returned settings
// regardless of per-message outcomes.
func (r *Runner) Run(ctx context.Context, start, end time.Time, settings ledger.ConnectionSettings) (*Summary, error) {
	began := time.Now()
	summary := &Summary{
		RunID:       uuid.New().String(),
		PerCategory: make(map[models.Category]int),
	}

	slog.Info("starting settlement mail sync",
		"run_id", summary.RunID,
		"mailbox", settings.Mailbox,
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"),
	)

	var sets []search.ResultSet
	for _, q := range search.BuildQueries(start, end) {
		ids, err := r.source.Search(ctx, q.Q)
		if err != nil {
			return nil, fmt.Errorf("search category %s: %w", q.Category, err)
		}
		sets = append(sets, search.ResultSet{Category: q.Category, IDs: ids})
	}

	hits := search.Merge(sets)
	summary.Scanned = len(hits)

	for _, hit := range hits {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-batch: already-terminal messages stay intact,
			// in-flight work is abandoned.
			return nil, err
		}
		r.processMessage(ctx, hit, summary)
	}

	now := time.Now().UTC()
	settings.LastSyncedAt = &now
	summary.LastSyncedAt = now
	summary.Settings = settings
	summary.Success = len(summary.Errors) == 0
	summary.Elapsed = time.Since(began)

	slog.Info("settlement mail sync complete",
		"run_id", summary.RunID,
		"scanned", summary.Scanned,
		"imported", summary.Imported,
		"skipped", summary.Skipped,
		"errors", len(summary.Errors),
		"elapsed", summary.Elapsed,
	)

	return summary, nil
}

// processMessage runs the fetch → extract → parse → classify → persist
// sequence for one message. All failure paths are absorbed into the
// summary so one bad message never aborts the batch.
func (r *Runner) processMessage(ctx context.Context, hit search.Hit, summary *Summary) {
	batch, err := r.ledger.CreateOrGetBatch(ctx, hit.MessageID)
	if err != nil {
		r.recordError(summary, nil, hit.MessageID, fmt.Errorf("create-or-get batch: %w", err))
		return
	}

	// Terminal statuses short-circuit: the message was fully handled by a
	// previous run and must not be re-fetched or re-parsed.
	if ledger.IsTerminal(batch.Status) {
		slog.Debug("skipping already-handled message",
			"message_id", hit.MessageID,
			"status", batch.Status,
		)
		summary.Skipped++
		return
	}

	msg, err := r.source.Get(ctx, hit.MessageID)
	if err != nil {
		r.recordError(summary, batch, hit.MessageID, fmt.Errorf("fetch: %w", err))
		return
	}

	content := gmail.Extract(msg)
	deliveredAt, hasDelivery := msg.DeliveredAt()

	meta := ledger.MessageMeta{
		ThreadID:        msg.ThreadID,
		Subject:         msg.Header("Subject"),
		Sender:          msg.Header("From"),
		Headers:         msg.HeaderMap(),
		AttachmentNames: attachmentNames(content.Attachments),
	}
	if hasDelivery {
		meta.DeliveredAt = &deliveredAt
	}
	if err := r.ledger.RecordMessageMeta(ctx, batch.ID, meta); err != nil {
		r.recordError(summary, batch, hit.MessageID, err)
		return
	}

	if !hasDelivery {
		r.skip(ctx, summary, batch, hit.MessageID, ReasonNoTimestamp, nil)
		return
	}

	parseText := gmail.ParseText(content)
	amount, ok := r.amounts.Find(parseText)
	if !ok {
		r.skip(ctx, summary, batch, hit.MessageID, ReasonNoAmount, nil)
		return
	}

	bodyText, bodyHTML := gmail.ArchiveBody(content, hit.Category)
	payload := models.RawPayload{
		Subject:         meta.Subject,
		BodyText:        bodyText,
		BodyHTML:        bodyHTML,
		Category:        hit.Category,
		AttachmentNames: meta.AttachmentNames,
		Headers:         meta.Headers,
	}

	sourceRef := sourceRefPrefix + hit.MessageID
	settlementBatchID, err := r.ledger.CreateSettlementBatch(ctx, sourceRef, deliveredAt, payload)
	if err != nil {
		r.recordError(summary, batch, hit.MessageID, fmt.Errorf("create settlement batch: %w", err))
		return
	}

	cls := classify.Classify(hit.Category, parseText)
	_, err = r.ledger.InsertEvent(ctx, ledger.Event{
		BatchID:      settlementBatchID,
		Platform:     cls.Platform,
		EventType:    cls.EventType,
		EventDate:    parse.EventDate(deliveredAt, r.location),
		Amount:       amount,
		Currency:     r.currency,
		Counterparty: cls.Counterparty,
		SourceRef:    sourceRef,
		Payload:      payload,
	})
	if errors.Is(err, ledger.ErrDuplicateEvent) {
		// The uniqueness backstop fired: the event already exists from an
		// earlier run whose batch bookkeeping did not survive. Expected,
		// recoverable, not an error.
		r.skip(ctx, summary, batch, hit.MessageID, ReasonDuplicateEvent, &settlementBatchID)
		return
	}
	if err != nil {
		r.recordError(summary, batch, hit.MessageID, err)
		return
	}

	if err := r.ledger.MarkParsed(ctx, batch.ID, settlementBatchID, 1); err != nil {
		r.recordError(summary, batch, hit.MessageID, err)
		return
	}

	summary.Imported++
	summary.PerCategory[hit.Category]++

	slog.Info("settlement event imported",
		"message_id", hit.MessageID,
		"category", hit.Category,
		"event_type", cls.EventType,
		"amount", amount,
	)
}

func (r *Runner) skip(ctx context.Context, summary *Summary, batch *ledger.Batch, messageID, reason string, settlementBatchID *int64) {
	if err := r.ledger.MarkSkipped(ctx, batch.ID, reason, settlementBatchID); err != nil {
		r.recordError(summary, batch, messageID, err)
		return
	}
	summary.Skipped++
	slog.Info("message skipped",
		"message_id", messageID,
		"reason", reason,
	)
}

// recordError adds a per-message failure to the summary and, when a batch
// row exists, leaves it in the re-attemptable error state.
func (r *Runner) recordError(summary *Summary, batch *ledger.Batch, messageID string, err error) {
	slog.Warn("message processing failed",
		"message_id", messageID,
		"error", err,
	)
	summary.Errors = append(summary.Errors, MessageError{
		MessageID: messageID,
		Error:     err.Error(),
	})
	if batch != nil {
		// Fresh context: the failure may be the step context dying, and the
		// error state should still be recorded.
		if markErr := r.ledger.MarkError(context.Background(), batch.ID, err.Error()); markErr != nil {
			slog.Warn("failed to mark batch error",
				"message_id", messageID,
				"error", markErr,
			)
		}
	}
}

func attachmentNames(refs []models.AttachmentRef) []string {
	names := make([]string, 0, len(refs))
	for _, a := range refs {
		names = append(names, a.Filename)
	}
	return names
}
