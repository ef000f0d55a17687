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

// Package models defines the domain types shared across the mail-sync
// settlement ingestion pipeline.
package models

// Category identifies one of the three settlement notification kinds,
// distinguished by subject-line phrase. The declaration order is the
// deduplication priority order.
type Category string

const (
	CategoryMarketplace    Category = "marketplace-payout"
	CategoryVirtualAccount Category = "virtual-account-credit"
	CategoryPaymentRelease Category = "payment-release"
)

// Platform identifies which external system a settlement event belongs to.
type Platform string

const (
	PlatformMarketplace  Platform = "marketplace"
	PlatformIntermediary Platform = "intermediary"
)

// Counterparty identifies the party on the other side of a settlement event.
type Counterparty string

const (
	CounterpartyMarketplace  Counterparty = "marketplace"
	CounterpartyIntermediary Counterparty = "intermediary"
)

// EventType is the fixed enumeration of settlement event types.
type EventType string

const (
	EventMarketplaceSettlement EventType = "marketplace-settlement"
	EventVirtualAccountCredit  EventType = "va-credit"
	EventReleaseToIntermediary EventType = "release-to-intermediary"
	EventReleaseToBank         EventType = "release-to-bank"
)

// AttachmentRef describes a declared attachment on a message. The body is
// never downloaded by this pipeline; AttachmentID is the provider handle a
// later consumer could resolve.
type AttachmentRef struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	AttachmentID string `json:"attachment_id,omitempty"`
	Size         int    `json:"size,omitempty"`
}

// Content is the result of extracting a message's MIME tree: the candidate
// bodies and the declared attachments.
type Content struct {
	Text        string
	HTML        string
	Snippet     string
	Attachments []AttachmentRef
}

// RawPayload is the archival payload stored on a settlement batch. A typed
// record rather than an open map so the store-write boundary stays
// type-checked; only the header map tolerates provider schema drift.
type RawPayload struct {
	Subject         string            `json:"subject"`
	BodyText        string            `json:"body_text,omitempty"`
	BodyHTML        string            `json:"body_html,omitempty"`
	Category        Category          `json:"category"`
	AttachmentNames []string          `json:"attachment_names,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}
