package models

import "time"

// Offer - предложение цены по выставленному подарку. Price всегда
// заморожен с баланса автора на всё время жизни оффера. CounterPrice -
// встречная цена владельца подарка (без движения средств до принятия).
// На пару (gift, bidder) существует не более одного оффера.
type Offer struct {
	ID           int64     `db:"id" json:"id"`
	GiftID       int64     `db:"gift_id" json:"gift_id"`
	BidderID     int64     `db:"bidder_id" json:"bidder_id"`
	Price        int64     `db:"price" json:"price"`
	CounterPrice *int64    `db:"counter_price" json:"counter_price,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
