package models

import "time"

// Auction - активный аукцион по одному подарку.
// LastBid всегда равен сумме единственной живой ставки (или nil,
// если ставок ещё не было). StepPercent - минимальный шаг в процентах
// от предыдущей ставки.
type Auction struct {
	ID          int64     `db:"id" json:"id"`
	GiftID      int64     `db:"gift_id" json:"gift_id"`
	OwnerID     int64     `db:"owner_id" json:"owner_id"`
	StartBid    int64     `db:"start_bid" json:"start_bid"`
	StepPercent int       `db:"step_percent" json:"step_percent"`
	LastBid     *int64    `db:"last_bid" json:"last_bid,omitempty"`
	ExpiresAt   time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Expired сообщает, истёк ли аукцион к моменту now.
func (a *Auction) Expired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}

// Bid - ставка на аукцион. Инвариант: на аукцион существует не более
// одной живой ставки; новая проходная ставка атомарно возвращает и
// удаляет предыдущую.
type Bid struct {
	ID        int64     `db:"id" json:"id"`
	AuctionID int64     `db:"auction_id" json:"auction_id"`
	BidderID  int64     `db:"bidder_id" json:"bidder_id"`
	Amount    int64     `db:"amount" json:"amount"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
