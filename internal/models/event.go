package models

import (
	"encoding/json"
	"time"
)

// Типы событий эскроу-журнала.
const (
	EventOfferCreated       = "created"
	EventOfferAccepted      = "accepted"
	EventOfferRefused       = "refused"
	EventCounterPriceSet    = "counter_price_set"
	EventAutoCancelByBundle = "auto_cancel_by_bundle"
	EventAutoCancelExpired  = "auto_cancel_expired"
)

// EscrowEvent - запись append-only журнала действий, затрагивающих
// эскроу: создание/принятие/отклонение офферов и автоотмены.
// Используется для аудита и сверки балансов.
type EscrowEvent struct {
	ID             int64           `db:"id" json:"id"`
	OfferID        *int64          `db:"offer_id" json:"offer_id,omitempty"`
	BundleOfferID  *int64          `db:"bundle_offer_id" json:"bundle_offer_id,omitempty"`
	GiftID         *int64          `db:"gift_id" json:"gift_id,omitempty"`
	ActorID        int64           `db:"actor_id" json:"actor_id"`
	CounterpartyID int64           `db:"counterparty_id" json:"counterparty_id"`
	EventType      string          `db:"event_type" json:"event_type"`
	Amount         int64           `db:"amount" json:"amount"`
	Meta           json.RawMessage `db:"meta" json:"meta,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
