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

// Package classify maps a notification's category and body to a settlement
// event type and counterparty.
package classify

import (
	"strings"

	"github.com/arkaerp/mailsync/internal/models"
)

// ownCapitalPhrase marks a payment-release notice that moves funds into the
// intermediary's own capital entity rather than out to the bank.
const ownCapitalPhrase = "released to your capital account"

// Result is the classification outcome for one message.
type Result struct {
	EventType    models.EventType
	Platform     models.Platform
	Counterparty models.Counterparty
}

// Classify maps (category, plain-text body) to an event type. Marketplace
// and virtual-account notices have fixed types; payment-release notices are
// split by a case-insensitive body phrase test, with platform and
// counterparty staying "intermediary" for both sub-types.
func Classify(category models.Category, bodyText string) Result {
	switch category {
	case models.CategoryMarketplace:
		return Result{
			EventType:    models.EventMarketplaceSettlement,
			Platform:     models.PlatformMarketplace,
			Counterparty: models.CounterpartyMarketplace,
		}
	case models.CategoryVirtualAccount:
		return Result{
			EventType:    models.EventVirtualAccountCredit,
			Platform:     models.PlatformIntermediary,
			Counterparty: models.CounterpartyIntermediary,
		}
	default: // models.CategoryPaymentRelease
		eventType := models.EventReleaseToBank
		if strings.Contains(strings.ToLower(bodyText), ownCapitalPhrase) {
			eventType = models.EventReleaseToIntermediary
		}
		return Result{
			EventType:    eventType,
			Platform:     models.PlatformIntermediary,
			Counterparty: models.CounterpartyIntermediary,
		}
	}
}
