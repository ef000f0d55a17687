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

// Package ledger provides the Postgres-backed store for ingestion batches,
// settlement batches, settlement events and mailbox connection settings.
//
// Two layers of idempotence protect re-runs: the ingestion batch row is a
// fast-path cache keyed by provider message id (terminal statuses stop all
// reprocessing), and the settlement event's unique source_ref constraint is
// the backstop that holds even if the batch bookkeeping were lost.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/arkaerp/mailsync/internal/models"
)

// Ingestion batch statuses. Parsed and skipped are terminal.
const (
	StatusPending = "pending"
	StatusParsed  = "parsed"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// SourceMailSync tags every settlement batch this pipeline creates.
const SourceMailSync = "mail-sync"

// ErrDuplicateEvent is returned when the settlement event's unique
// constraint rejects an insert. Callers treat it as an expected skip
// outcome, not a fault.
var ErrDuplicateEvent = errors.New("settlement event already exists")

// IsTerminal reports whether a batch status stops all future processing of
// its message id.
func IsTerminal(status string) bool {
	return status == StatusParsed || status == StatusSkipped
}

// Batch is the durable idempotence-tracking record for one physical
// provider message.
type Batch struct {
	ID                int64
	OrgID             string
	MessageID         string
	ThreadID          string
	Subject           string
	Sender            string
	DeliveredAt       *time.Time
	Headers           map[string]string
	AttachmentNames   []string
	Status            string
	LastError         string
	ParsedEvents      int
	SettlementBatchID *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MessageMeta carries the message attributes recorded on a batch after a
// successful fetch and extraction.
type MessageMeta struct {
	ThreadID        string
	Subject         string
	Sender          string
	DeliveredAt     *time.Time
	Headers         map[string]string
	AttachmentNames []string
}

// Event is a normalized settlement fact to insert.
type Event struct {
	BatchID      int64
	Platform     models.Platform
	EventType    models.EventType
	EventDate    string // calendar date, ledger time zone
	Amount       decimal.Decimal
	Currency     string
	Counterparty models.Counterparty
	SourceRef    string
	Payload      models.RawPayload
}

// ConnectionSettings is the per-mailbox settings record. The orchestrator
// mutates LastSyncedAt on the value handed to it; the caller owns reading
// and persisting the row.
type ConnectionSettings struct {
	OrgID        string
	Mailbox      string
	LastSyncedAt *time.Time
}

// Store provides the ledger's remote procedures over a Postgres pool.
type Store struct {
	pool  *pgxpool.Pool
	orgID string
}

// NewStore creates a ledger store scoped to one organization. It ensures
// the pipeline's tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool, orgID string) (*Store, error) {
	s := &Store{pool: pool, orgID: orgID}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	slog.Info("ledger store initialised", "org_id", orgID)
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ingestion_batches (
			id                  BIGSERIAL PRIMARY KEY,
			org_id              TEXT NOT NULL,
			message_id          TEXT NOT NULL,
			thread_id           TEXT DEFAULT '',
			subject             TEXT DEFAULT '',
			sender              TEXT DEFAULT '',
			delivered_at        TIMESTAMPTZ,
			headers             JSONB NOT NULL DEFAULT '{}',
			attachment_names    TEXT[] NOT NULL DEFAULT '{}',
			status              TEXT NOT NULL DEFAULT 'pending',
			last_error          TEXT DEFAULT '',
			parsed_events       INT NOT NULL DEFAULT 0,
			settlement_batch_id BIGINT,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (org_id, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_ingestion_batches_status ON ingestion_batches(org_id, status);

		CREATE TABLE IF NOT EXISTS settlement_batches (
			id          BIGSERIAL PRIMARY KEY,
			org_id      TEXT NOT NULL,
			source      TEXT NOT NULL,
			source_ref  TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			payload     JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_settlement_batches_ref ON settlement_batches(org_id, source_ref);

		CREATE TABLE IF NOT EXISTS settlement_events (
			id           BIGSERIAL PRIMARY KEY,
			org_id       TEXT NOT NULL,
			batch_id     BIGINT NOT NULL REFERENCES settlement_batches(id),
			platform     TEXT NOT NULL,
			event_type   TEXT NOT NULL,
			event_date   DATE NOT NULL,
			amount       NUMERIC(14,2) NOT NULL,
			currency     TEXT NOT NULL,
			counterparty TEXT NOT NULL,
			source_ref   TEXT NOT NULL,
			payload      JSONB NOT NULL DEFAULT '{}',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (org_id, source_ref)
		);

		CREATE TABLE IF NOT EXISTS mailbox_connections (
			id             BIGSERIAL PRIMARY KEY,
			org_id         TEXT NOT NULL,
			mailbox        TEXT NOT NULL,
			last_synced_at TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (org_id, mailbox)
		);
	`)
	return err
}

// CreateOrGetBatch returns the ingestion batch for a provider message id,
// creating a pending row on first sight. The returned status lets the
// caller short-circuit messages that already reached a terminal state
// without re-fetching them.
func (s *Store) CreateOrGetBatch(ctx context.Context, messageID string) (*Batch, error) {
	// Insert-or-noop, then read back. ON CONFLICT DO NOTHING returns no row
	// for the existing-batch case, so a second query picks it up.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ingestion_batches (org_id, message_id)
		VALUES ($1, $2)
		ON CONFLICT (org_id, message_id) DO NOTHING
		RETURNING id, status, parsed_events, last_error, settlement_batch_id, created_at, updated_at
	`, s.orgID, messageID)

	b := &Batch{OrgID: s.orgID, MessageID: messageID}
	err := row.Scan(&b.ID, &b.Status, &b.ParsedEvents, &b.LastError, &b.SettlementBatchID, &b.CreatedAt, &b.UpdatedAt)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("create ingestion batch: %w", err)
	}

	row = s.pool.QueryRow(ctx, `
		SELECT id, status, parsed_events, last_error, settlement_batch_id, created_at, updated_at
		FROM ingestion_batches
		WHERE org_id = $1 AND message_id = $2
	`, s.orgID, messageID)
	if err := row.Scan(&b.ID, &b.Status, &b.ParsedEvents, &b.LastError, &b.SettlementBatchID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get ingestion batch: %w", err)
	}
	return b, nil
}

// RecordMessageMeta fills in the message attributes on a batch once the
// full message has been fetched and extracted.
func (s *Store) RecordMessageMeta(ctx context.Context, batchID int64, meta MessageMeta) error {
	headers, err := json.Marshal(meta.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE ingestion_batches
		SET thread_id = $1, subject = $2, sender = $3, delivered_at = $4,
		    headers = $5, attachment_names = $6, updated_at = NOW()
		WHERE id = $7
	`, meta.ThreadID, meta.Subject, meta.Sender, meta.DeliveredAt,
		headers, meta.AttachmentNames, batchID)
	if err != nil {
		return fmt.Errorf("record message meta: %w", err)
	}
	return nil
}

// MarkParsed transitions a batch to the terminal parsed state, linking its
// settlement batch and recording the event count.
func (s *Store) MarkParsed(ctx context.Context, batchID, settlementBatchID int64, parsedEvents int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_batches
		SET status = $1, settlement_batch_id = $2, parsed_events = $3,
		    last_error = '', updated_at = NOW()
		WHERE id = $4
	`, StatusParsed, settlementBatchID, parsedEvents, batchID)
	if err != nil {
		return fmt.Errorf("mark batch parsed: %w", err)
	}
	return nil
}

// MarkSkipped transitions a batch to the terminal skipped state with a
// reason. settlementBatchID is non-nil for the duplicate-event case, where
// the raw batch was created before the duplicate was detected.
func (s *Store) MarkSkipped(ctx context.Context, batchID int64, reason string, settlementBatchID *int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_batches
		SET status = $1, last_error = $2,
		    settlement_batch_id = COALESCE($3, settlement_batch_id),
		    updated_at = NOW()
		WHERE id = $4
	`, StatusSkipped, reason, settlementBatchID, batchID)
	if err != nil {
		return fmt.Errorf("mark batch skipped: %w", err)
	}
	return nil
}

// MarkError records a failure on a batch. The status is non-terminal: a
// later run observes it via CreateOrGetBatch and re-attempts the message.
func (s *Store) MarkError(ctx context.Context, batchID int64, failure string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_batches
		SET status = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`, StatusError, failure, batchID)
	if err != nil {
		return fmt.Errorf("mark batch error: %w", err)
	}
	return nil
}

// CreateSettlementBatch inserts the raw evidence row for a parsed message
// and returns its id. Settlement batches are immutable after creation.
func (s *Store) CreateSettlementBatch(ctx context.Context, sourceRef string, receivedAt time.Time, payload models.RawPayload) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal batch payload: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO settlement_batches (org_id, source, source_ref, received_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, s.orgID, SourceMailSync, sourceRef, receivedAt, raw).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create settlement batch: %w", err)
	}
	return id, nil
}

// InsertEvent inserts a settlement event. A unique-constraint rejection on
// (org_id, source_ref) comes back as ErrDuplicateEvent; any other failure
// is a hard error.
func (s *Store) InsertEvent(ctx context.Context, e Event) (int64, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO settlement_events
			(org_id, batch_id, platform, event_type, event_date, amount, currency, counterparty, source_ref, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, s.orgID, e.BatchID, e.Platform, e.EventType, e.EventDate,
		e.Amount, e.Currency, e.Counterparty, e.SourceRef, raw).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateEvent
		}
		return 0, fmt.Errorf("insert settlement event: %w", err)
	}
	return id, nil
}

// GetConnectionSettings reads (or initialises) the settings record for a
// mailbox.
func (s *Store) GetConnectionSettings(ctx context.Context, mailbox string) (ConnectionSettings, error) {
	cs := ConnectionSettings{OrgID: s.orgID, Mailbox: mailbox}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO mailbox_connections (org_id, mailbox)
		VALUES ($1, $2)
		ON CONFLICT (org_id, mailbox) DO UPDATE SET updated_at = NOW()
		RETURNING last_synced_at
	`, s.orgID, mailbox)
	if err := row.Scan(&cs.LastSyncedAt); err != nil {
		return cs, fmt.Errorf("get connection settings: %w", err)
	}
	return cs, nil
}

// SaveConnectionSettings persists the settings record after a run.
func (s *Store) SaveConnectionSettings(ctx context.Context, cs ConnectionSettings) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE mailbox_connections
		SET last_synced_at = $1, updated_at = NOW()
		WHERE org_id = $2 AND mailbox = $3
	`, cs.LastSyncedAt, cs.OrgID, cs.Mailbox)
	if err != nil {
		return fmt.Errorf("save connection settings: %w", err)
	}
	return nil
}
