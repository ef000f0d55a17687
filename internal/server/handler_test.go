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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arkaerp/mailsync/internal/gmail"
	"github.com/arkaerp/mailsync/internal/ledger"
	"github.com/arkaerp/mailsync/internal/models"
	"github.com/arkaerp/mailsync/internal/parse"
	"github.com/arkaerp/mailsync/internal/pipeline"
	"github.com/arkaerp/mailsync/internal/runlock"
)

const testSecret = "swordfish"

// --- Fakes ---

type fakeSettings struct {
	saved *ledger.ConnectionSettings
}

func (f *fakeSettings) GetConnectionSettings(_ context.Context, mailbox string) (ledger.ConnectionSettings, error) {
	return ledger.ConnectionSettings{OrgID: "org-1", Mailbox: mailbox}, nil
}

func (f *fakeSettings) SaveConnectionSettings(_ context.Context, cs ledger.ConnectionSettings) error {
	f.saved = &cs
	return nil
}

type fakeLock struct {
	held     bool
	released bool
}

func (f *fakeLock) Acquire(_ context.Context, _ string) (func(context.Context) error, error) {
	if f.held {
		return nil, runlock.ErrHeld
	}
	return func(context.Context) error {
		f.released = true
		return nil
	}, nil
}

type noopSource struct{}

func (noopSource) Search(context.Context, string) ([]string, error) { return nil, nil }
func (noopSource) Get(context.Context, string) (*gmail.Message, error) {
	panic("not reached: search returns no ids")
}

// emptyLedger satisfies pipeline.Ledger; the empty-mailbox tests never
// reach it.
type emptyLedger struct{}

func (emptyLedger) CreateOrGetBatch(context.Context, string) (*ledger.Batch, error) {
	panic("not reached")
}
func (emptyLedger) RecordMessageMeta(context.Context, int64, ledger.MessageMeta) error {
	panic("not reached")
}
func (emptyLedger) MarkParsed(context.Context, int64, int64, int) error { panic("not reached") }
func (emptyLedger) MarkSkipped(context.Context, int64, string, *int64) error {
	panic("not reached")
}
func (emptyLedger) MarkError(context.Context, int64, string) error { panic("not reached") }
func (emptyLedger) CreateSettlementBatch(context.Context, string, time.Time, models.RawPayload) (int64, error) {
	panic("not reached")
}
func (emptyLedger) InsertEvent(context.Context, ledger.Event) (int64, error) {
	panic("not reached")
}

func newTestHandler(t *testing.T, lock *fakeLock) (*Handler, *fakeSettings) {
	t.Helper()
	amounts, err := parse.NewAmountMatcher("INR")
	if err != nil {
		t.Fatalf("NewAmountMatcher: %v", err)
	}
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Source:   noopSource{},
		Ledger:   emptyLedger{},
		Amounts:  amounts,
		Location: time.UTC,
		Currency: "INR",
	})
	settings := &fakeSettings{}
	return NewHandler(runner, settings, lock, "settlements@arka.example", testSecret), settings
}

func doSync(h *Handler, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/sync", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	h.ServeSync(rec, req)
	return rec
}

// --- Tests ---

func TestServeSync_RejectsBadSecret(t *testing.T) {
	h, _ := newTestHandler(t, &fakeLock{})

	for _, secret := range []string{"", "wrong"} {
		rec := doSync(h, secret, `{"start_date":"2026-08-01","end_date":"2026-08-31"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("secret %q: status = %d, want 401", secret, rec.Code)
		}
	}
}

func TestServeSync_ValidatesWindow(t *testing.T) {
	h, _ := newTestHandler(t, &fakeLock{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"missing dates", `{}`},
		{"bad format", `{"start_date":"01-08-2026","end_date":"2026-08-31"}`},
		{"inverted window", `{"start_date":"2026-08-31","end_date":"2026-08-01"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := doSync(h, testSecret, tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestServeSync_ConflictWhenLocked(t *testing.T) {
	h, _ := newTestHandler(t, &fakeLock{held: true})

	rec := doSync(h, testSecret, `{"start_date":"2026-08-01","end_date":"2026-08-31"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestServeSync_EmptyWindowSucceeds(t *testing.T) {
	lock := &fakeLock{}
	h, settings := newTestHandler(t, lock)

	rec := doSync(h, testSecret, `{"start_date":"2026-08-01","end_date":"2026-08-31"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp SyncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Scanned != 0 || resp.Imported != 0 {
		t.Errorf("response = %+v", resp)
	}
	if resp.LastSyncedAt == nil {
		t.Error("last_synced_at missing from response")
	}

	if settings.saved == nil || settings.saved.LastSyncedAt == nil {
		t.Error("settings record not persisted after run")
	}
	if !lock.released {
		t.Error("run lock not released")
	}
}

func TestServeSync_MethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, &fakeLock{})
	req := httptest.NewRequest(http.MethodGet, "/sync", nil)
	rec := httptest.NewRecorder()
	h.ServeSync(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
