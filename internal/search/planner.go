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

// Package search plans the per-category mailbox queries for a date window
// and merges their overlapping result sets into a single deduplicated,
// category-tagged processing list.
package search

import (
	"fmt"
	"time"

	"github.com/arkaerp/mailsync/internal/models"
)

// CategoryFilter pairs a settlement category with the subject phrase that
// identifies its notification mails.
type CategoryFilter struct {
	Category models.Category
	Phrase   string
}

// Filters is the fixed category table in priority order. When a message
// matches more than one category's search, the earlier entry wins.
var Filters = []CategoryFilter{
	{models.CategoryMarketplace, "Marketplace payout processed"},
	{models.CategoryVirtualAccount, "credited to your virtual account"},
	{models.CategoryPaymentRelease, "Payment release advice"},
}

// Query is one provider search to execute, tagged with its category.
type Query struct {
	Category models.Category
	Q        string
}

// BuildQueries returns the three provider queries for an inclusive calendar
// date window. Gmail's date operators are day-granular and `before:` is
// exclusive, so the upper bound is end plus one day; formatting end itself
// would silently drop the final day's mail.
func BuildQueries(start, end time.Time) []Query {
	after := start.Format("2006/01/02")
	before := end.AddDate(0, 0, 1).Format("2006/01/02")

	queries := make([]Query, 0, len(Filters))
	for _, f := range Filters {
		queries = append(queries, Query{
			Category: f.Category,
			Q:        fmt.Sprintf("subject:%q after:%s before:%s", f.Phrase, after, before),
		})
	}
	return queries
}
