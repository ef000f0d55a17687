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

package parse

import (
	"testing"
	"time"
)

func TestAmountMatcher_Find(t *testing.T) {
	m, err := NewAmountMatcher("INR")
	if err != nil {
		t.Fatalf("NewAmountMatcher: %v", err)
	}

	tests := []struct {
		name    string
		text    string
		want    string
		wantHit bool
	}{
		{
			name:    "western grouping",
			text:    "An amount of INR 12,345.67 has been settled to your account.",
			want:    "12345.67",
			wantHit: true,
		},
		{
			name:    "indian grouping",
			text:    "Payout of INR 12,34,567.89 processed",
			want:    "1234567.89",
			wantHit: true,
		},
		{
			name:    "no separators",
			text:    "INR 980.00 credited",
			want:    "980",
			wantHit: true,
		},
		{
			name:    "large plain number",
			text:    "total INR 1234567.89 released",
			want:    "1234567.89",
			wantHit: true,
		},
		{
			name:    "first match wins",
			text:    "INR 100.00 of INR 250.00 released",
			want:    "100",
			wantHit: true,
		},
		{
			name: "no currency token",
			text: "You received 12,345.67 today",
		},
		{
			name: "wrong currency",
			text: "USD 12,345.67 settled",
		},
		{
			name: "missing fraction digits",
			text: "INR 12345 settled",
		},
		{
			name: "three fraction digits",
			text: "ref INR 1.234 code",
		},
		{
			name: "empty body",
			text: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, ok := m.Find(tt.text)
			if ok != tt.wantHit {
				t.Fatalf("Find(%q) hit = %v, want %v", tt.text, ok, tt.wantHit)
			}
			if !tt.wantHit {
				return
			}
			if amount.String() != tt.want {
				t.Errorf("Find(%q) = %s, want %s", tt.text, amount, tt.want)
			}
		})
	}
}

func TestNewAmountMatcher_RejectsBadCurrency(t *testing.T) {
	for _, code := range []string{"", "IN", "RUPEE", "12"} {
		if _, err := NewAmountMatcher(code); err == nil {
			t.Errorf("expected error for currency %q", code)
		}
	}
}

// TestEventDate_LedgerZone verifies event dates are computed in the
// ledger's zone. A message arriving late evening UTC is already the next
// business day in Kolkata.
func TestEventDate_LedgerZone(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	tests := []struct {
		name        string
		deliveredAt time.Time
		want        string
	}{
		{
			name:        "late UTC evening rolls to next IST day",
			deliveredAt: time.Date(2026, 8, 14, 20, 0, 0, 0, time.UTC), // 01:30 IST Aug 15
			want:        "2026-08-15",
		},
		{
			name:        "midday stays on the same day",
			deliveredAt: time.Date(2026, 8, 14, 9, 0, 0, 0, time.UTC),
			want:        "2026-08-14",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EventDate(tt.deliveredAt, kolkata); got != tt.want {
				t.Errorf("EventDate = %s, want %s", got, tt.want)
			}
		})
	}
}
