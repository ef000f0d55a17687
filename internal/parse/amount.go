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

// Package parse extracts the monetary amount from notification body text
// and computes the event date in the ledger's time zone.
package parse

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountMatcher finds the first home-currency amount in body text.
//
// The notifications quote amounts as the currency code, whitespace, and a
// decimal number with exactly two fraction digits and optional thousands
// separators in either Indian (12,34,567.89) or Western (1,234,567.89)
// grouping. Only the configured home currency is matched; multi-currency
// bodies are out of scope and yield whichever home-currency amount appears
// first.
type AmountMatcher struct {
	currency string
	re       *regexp.Regexp
}

// NewAmountMatcher builds a matcher for a three-letter currency code.
func NewAmountMatcher(currency string) (*AmountMatcher, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, fmt.Errorf("currency code must be three letters, got %q", currency)
	}
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(currency) + `\s+((?:\d{1,3}(?:,\d{2,3})+|\d+)\.\d{2})\b`)
	if err != nil {
		return nil, fmt.Errorf("compile amount pattern: %w", err)
	}
	return &AmountMatcher{currency: currency, re: re}, nil
}

// Currency returns the matcher's currency code.
func (m *AmountMatcher) Currency() string { return m.currency }

// Find returns the first matching amount in the text. The second return is
// false when no amount is present or the matched number does not convert;
// both cases are the caller's "unable to parse amount" skip condition, not
// an error.
func (m *AmountMatcher) Find(text string) (decimal.Decimal, bool) {
	match := m.re.FindStringSubmatch(text)
	if match == nil {
		return decimal.Decimal{}, false
	}

	cleaned := strings.ReplaceAll(match[1], ",", "")
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return amount, true
}

// EventDate formats a delivery instant as a calendar date in the ledger's
// zone. A payout notice landing at 23:30 IST must post on the business day
// the owning organization perceives, not on the UTC or server-local day.
func EventDate(deliveredAt time.Time, loc *time.Location) string {
	return deliveredAt.In(loc).Format("2006-01-02")
}
