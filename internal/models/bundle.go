package models

import "time"

// Статусы бандла.
const (
	BundleStatusActive    = "active"
	BundleStatusCancelled = "cancelled"
	BundleStatusSold      = "sold"
)

// Bundle - атомарный лот из двух и более подарков, продаваемый по
// единой цене. Пока status = active, у всех входящих подарков
// ActiveBundleID равен ID бандла; при любом терминальном переходе
// привязка снимается.
type Bundle struct {
	ID          int64      `db:"id" json:"id"`
	SellerID    int64      `db:"seller_id" json:"seller_id"`
	Price       int64      `db:"price" json:"price"`
	Status      string     `db:"status" json:"status"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// BundleItem - членство подарка в бандле.
type BundleItem struct {
	BundleID int64 `db:"bundle_id" json:"bundle_id"`
	GiftID   int64 `db:"gift_id" json:"gift_id"`
}

// BundleOffer - предложение цены по бандлу целиком. Та же дисциплина
// заморозки, что и у Offer: не более одного оффера на пару
// (bundle, bidder), сумма заморожена до принятия или отказа.
type BundleOffer struct {
	ID        int64     `db:"id" json:"id"`
	BundleID  int64     `db:"bundle_id" json:"bundle_id"`
	BidderID  int64     `db:"bidder_id" json:"bidder_id"`
	Price     int64     `db:"price" json:"price"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
