package models

import "time"

// User - участник маркета с двумя полями баланса в нанотонах.
// Available - доступные средства, Frozen - средства, зарезервированные
// под активные ставки и офферы. Менять поля напрямую нельзя - только
// через ledger.Freeze/Unfreeze/Settle внутри транзакции.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Available int64     `db:"available" json:"available"`
	Frozen    int64     `db:"frozen" json:"frozen"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
