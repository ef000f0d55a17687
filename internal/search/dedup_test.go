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

import (
	"testing"

	"github.com/arkaerp/mailsync/internal/models"
)

// TestMerge_FirstSeenWins verifies that a message matched by two categories
// is tagged with the earlier category and appears exactly once.
func TestMerge_FirstSeenWins(t *testing.T) {
	sets := []ResultSet{
		{Category: models.CategoryMarketplace, IDs: []string{"m1", "m2"}},
		{Category: models.CategoryVirtualAccount, IDs: []string{"m2", "m3"}},
		{Category: models.CategoryPaymentRelease, IDs: []string{"m3", "m1", "m4"}},
	}

	hits := Merge(sets)

	want := []Hit{
		{"m1", models.CategoryMarketplace},
		{"m2", models.CategoryMarketplace},
		{"m3", models.CategoryVirtualAccount},
		{"m4", models.CategoryPaymentRelease},
	}
	if len(hits) != len(want) {
		t.Fatalf("got %d hits, want %d: %v", len(hits), len(want), hits)
	}
	for i, h := range hits {
		if h != want[i] {
			t.Errorf("hit %d = %v, want %v", i, h, want[i])
		}
	}
}

// TestMerge_Properties checks the structural guarantees: output length is
// bounded by the input total, no id repeats, and every input id keeps the
// category of the earliest set containing it.
func TestMerge_Properties(t *testing.T) {
	sets := []ResultSet{
		{Category: models.CategoryMarketplace, IDs: []string{"a", "b", "c", "a"}},
		{Category: models.CategoryVirtualAccount, IDs: []string{"c", "d"}},
		{Category: models.CategoryPaymentRelease, IDs: []string{"d", "e", "b"}},
	}

	hits := Merge(sets)

	total := 0
	for _, s := range sets {
		total += len(s.IDs)
	}
	if len(hits) > total {
		t.Errorf("output length %d exceeds input total %d", len(hits), total)
	}

	seen := make(map[string]models.Category)
	for _, h := range hits {
		if _, dup := seen[h.MessageID]; dup {
			t.Errorf("duplicate message id %q in output", h.MessageID)
		}
		seen[h.MessageID] = h.Category
	}

	for _, s := range sets {
		for _, id := range s.IDs {
			cat, ok := seen[id]
			if !ok {
				t.Errorf("input id %q missing from output", id)
				continue
			}
			// The recorded category must be the earliest set containing the id.
			for _, earlier := range sets {
				if earlier.Category == cat {
					break
				}
				for _, eid := range earlier.IDs {
					if eid == id {
						t.Errorf("id %q tagged %s but earlier set %s contains it", id, cat, earlier.Category)
					}
				}
			}
		}
	}
}

// TestMerge_Empty verifies empty input produces no hits.
func TestMerge_Empty(t *testing.T) {
	if hits := Merge(nil); len(hits) != 0 {
		t.Errorf("expected no hits, got %v", hits)
	}
	if hits := Merge([]ResultSet{{Category: models.CategoryMarketplace}}); len(hits) != 0 {
		t.Errorf("expected no hits, got %v", hits)
	}
}
