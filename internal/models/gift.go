package models

import "time"

// Gift - уникальный пронумерованный подарок (торгуемая единица).
// Price == nil означает что подарок не выставлен на прямую продажу.
// ActiveBundleID != nil означает что подарок заблокирован в бандле
// и не может продаваться отдельно.
// AccountID != nil - подарок привязан к внешнему кастодиальному
// аккаунту и не может попасть в бандл.
type Gift struct {
	ID             int64     `db:"id" json:"id"`
	OwnerID        int64     `db:"owner_id" json:"owner_id"`
	Collection     string    `db:"collection" json:"collection"`
	Number         int       `db:"number" json:"number"`
	Price          *int64    `db:"price" json:"price,omitempty"`
	ActiveBundleID *int64    `db:"active_bundle_id" json:"active_bundle_id,omitempty"`
	AccountID      *int64    `db:"account_id" json:"account_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
