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

package gmail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestSearch_FollowsPagination verifies that Search walks all pages of the
// list response and returns ids in provider order.
func TestSearch_FollowsPagination(t *testing.T) {
	var queries []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")

		page := map[string]interface{}{}
		switch r.URL.Query().Get("pageToken") {
		case "":
			page["messages"] = []map[string]string{{"id": "m1"}, {"id": "m2"}}
			page["nextPageToken"] = "page-2"
		case "page-2":
			page["messages"] = []map[string]string{{"id": "m3"}}
		default:
			t.Errorf("unexpected pageToken %q", r.URL.Query().Get("pageToken"))
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := NewClientWithHTTP(srv.Client(), srv.URL, "settlements@arka.example")
	ids, err := c.Search(context.Background(), `subject:"Payment release advice" after:2026/08/01 before:2026/08/02`)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	want := []string{"m1", "m2", "m3"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
	for _, q := range queries {
		if q == "" {
			t.Error("request was missing the q parameter")
		}
	}
}

// TestSearch_EmptyResult verifies a query with no matches returns no ids
// and no error — Gmail omits the messages field entirely.
func TestSearch_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"resultSizeEstimate": 0}`))
	}))
	defer srv.Close()

	c := NewClientWithHTTP(srv.Client(), srv.URL, "settlements@arka.example")
	ids, err := c.Search(context.Background(), "subject:none")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("got %v, want empty", ids)
	}
}

func TestGet_FullMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "full" {
			t.Errorf("format = %q, want full", r.URL.Query().Get("format"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":           "msg-1",
			"threadId":     "thread-1",
			"snippet":      "INR 500.00 credited",
			"internalDate": "1767182400000",
			"payload": map[string]interface{}{
				"mimeType": "text/plain",
				"headers": []map[string]string{
					{"name": "Subject", "value": "Payment release advice"},
					{"name": "From", "value": "noreply@intermediary.example"},
				},
				"body": map[string]interface{}{"size": 19, "data": b64("INR 500.00 credited")},
			},
		})
	}))
	defer srv.Close()

	c := NewClientWithHTTP(srv.Client(), srv.URL, "settlements@arka.example")
	msg, err := c.Get(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if msg.ID != "msg-1" || msg.ThreadID != "thread-1" {
		t.Errorf("identity = (%q, %q)", msg.ID, msg.ThreadID)
	}
	if got := msg.Header("subject"); got != "Payment release advice" {
		t.Errorf("Header(subject) = %q (header lookup must be case-insensitive)", got)
	}
	if got := msg.HeaderMap()["From"]; got != "noreply@intermediary.example" {
		t.Errorf("HeaderMap From = %q", got)
	}

	deliveredAt, ok := msg.DeliveredAt()
	if !ok {
		t.Fatal("DeliveredAt: no timestamp")
	}
	want := time.UnixMilli(1767182400000).UTC()
	if !deliveredAt.Equal(want) {
		t.Errorf("DeliveredAt = %v, want %v", deliveredAt, want)
	}
}

func TestGet_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClientWithHTTP(srv.Client(), srv.URL, "settlements@arka.example")
	if _, err := c.Get(context.Background(), "msg-1"); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestDeliveredAt_Malformed(t *testing.T) {
	for _, raw := range []string{"", "not-a-number", "-5", "0"} {
		msg := &Message{InternalDate: raw}
		if _, ok := msg.DeliveredAt(); ok {
			t.Errorf("DeliveredAt(%q) unexpectedly ok", raw)
		}
	}
}
