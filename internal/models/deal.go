package models

import "time"

// Deal - неизменяемая запись о завершённой продаже: подтверждение
// того, что владение и средства переместились вместе. Пишется только
// внутри расчётной транзакции, никогда не обновляется.
type Deal struct {
	ID        int64     `db:"id" json:"id"`
	GiftID    int64     `db:"gift_id" json:"gift_id"`
	SellerID  int64     `db:"seller_id" json:"seller_id"`
	BuyerID   int64     `db:"buyer_id" json:"buyer_id"`
	Price     int64     `db:"price" json:"price"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
