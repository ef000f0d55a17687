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

package search

import "github.com/arkaerp/mailsync/internal/models"

// Hit is one deduplicated message to process.
type Hit struct {
	MessageID string
	Category  models.Category
}

// ResultSet is the ordered id list one category query returned.
type ResultSet struct {
	Category models.Category
	IDs      []string
}

// Merge combines per-category result sets into a single ordered list of
// unique message ids, first-seen-wins: a message matched by more than one
// category's phrase search (forwarded and quoted mails do this) is tagged
// with the category of the earliest set containing it and appears once.
// The sets must be passed in priority order.
func Merge(sets []ResultSet) []Hit {
	seen := make(map[string]struct{})
	var hits []Hit

	for _, set := range sets {
		for _, id := range set.IDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			hits = append(hits, Hit{MessageID: id, Category: set.Category})
		}
	}
	return hits
}
