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

// Package gmail provides a message client for the Gmail REST API: query
// search, full-message fetch, and MIME part-tree extraction.
package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/arkaerp/mailsync/internal/config"
)

// DefaultBaseURL is the production Gmail API endpoint.
const DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

const pageSize = 100

// Client talks to the Gmail API for a single mailbox.
type Client struct {
	httpClient *http.Client
	baseURL    string
	mailbox    string
}

// NewClient creates a Gmail client authenticated by the mailbox's stored
// refresh token. The underlying HTTP client refreshes access tokens
// transparently.
func NewClient(ctx context.Context, mc config.MailboxConfig, baseURL string) *Client {
	oc := &oauth2.Config{
		ClientID:     mc.ClientID,
		ClientSecret: mc.ClientSecret,
		RedirectURL:  mc.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"https://www.googleapis.com/auth/gmail.readonly"},
	}
	ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: mc.RefreshToken})

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: oauth2.NewClient(ctx, ts),
		baseURL:    baseURL,
		mailbox:    mc.Address,
	}
}

// NewClientWithHTTP creates a client over a caller-supplied HTTP client.
// Used by tests and by callers that manage their own token source.
func NewClientWithHTTP(httpClient *http.Client, baseURL, mailbox string) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL, mailbox: mailbox}
}

// idPage represents one page of the messages.list response.
type idPage struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// Search runs a query against the mailbox and returns the matching message
// ids in the provider's result order, following pagination to the end.
func (c *Client) Search(ctx context.Context, query string) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("q", query)
		params.Set("maxResults", strconv.Itoa(pageSize))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		listURL := fmt.Sprintf("%s/users/%s/messages?%s", c.baseURL, url.PathEscape(c.mailbox), params.Encode())

		var page idPage
		if err := c.getJSON(ctx, listURL, &page); err != nil {
			return nil, fmt.Errorf("search messages: %w", err)
		}

		for _, m := range page.Messages {
			ids = append(ids, m.ID)
		}

		if page.NextPageToken == "" {
			return ids, nil
		}
		pageToken = page.NextPageToken
	}
}

// Get retrieves the full message (headers and MIME tree) for one id.
// Failures here are transient fetch errors, distinct from content errors
// found later during extraction.
func (c *Client) Get(ctx context.Context, messageID string) (*Message, error) {
	getURL := fmt.Sprintf("%s/users/%s/messages/%s?format=full",
		c.baseURL, url.PathEscape(c.mailbox), url.PathEscape(messageID))

	var msg Message
	if err := c.getJSON(ctx, getURL, &msg); err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	return &msg, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Warn("gmail API error",
			"status", resp.StatusCode,
			"body", string(body),
		)
		return fmt.Errorf("gmail API returned HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Message is a full Gmail message: identity, snippet, delivery instant and
// the root of the MIME part tree.
type Message struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadId"`
	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"` // epoch milliseconds, as a string
	Payload      Part   `json:"payload"`
}

// Header is one name/value header pair on a message or part.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PartBody holds a leaf part's payload: inline base64url data or an
// attachment reference.
type PartBody struct {
	Size         int    `json:"size"`
	Data         string `json:"data"`
	AttachmentID string `json:"attachmentId"`
}

// Part is one node of the MIME tree. Leaf body data is base64url-encoded;
// parts that declare a filename are attachments.
type Part struct {
	PartID   string   `json:"partId"`
	MimeType string   `json:"mimeType"`
	Filename string   `json:"filename"`
	Headers  []Header `json:"headers"`
	Body     PartBody `json:"body"`
	Parts    []Part   `json:"parts"`
}

// DeliveredAt converts the provider's epoch-millisecond delivery stamp into
// an instant. The zero time and false are returned when the field is absent
// or malformed.
func (m *Message) DeliveredAt() (time.Time, bool) {
	if m.InternalDate == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m.InternalDate, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// Header returns the first value of the named top-level header, matching
// case-insensitively the way mail headers require.
func (m *Message) Header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HeaderMap flattens the top-level headers into a map. Later duplicates of
// a header keep the first value.
func (m *Message) HeaderMap() map[string]string {
	headers := make(map[string]string, len(m.Payload.Headers))
	for _, h := range m.Payload.Headers {
		if _, ok := headers[h.Name]; !ok {
			headers[h.Name] = h.Value
		}
	}
	return headers
}
