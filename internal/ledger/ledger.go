// Package ledger содержит единственные мутаторы балансовых полей
// пользователя: заморозку, разморозку и расчёт. Пакет не делает I/O -
// он меняет загруженные строки в памяти, а вызывающий движок обязан
// держать блокировку ресурса и сохранить изменения в той же
// транзакции, в которой строки были прочитаны с FOR UPDATE.
package ledger

import (
	"github.com/sirupsen/logrus"

	"github.com/tonmarket/gifts-backend/internal/logger"
	"github.com/tonmarket/gifts-backend/internal/models"
	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
)

// Ledger выполняет движения средств между available и frozen
// и общий расчёт с удержанием комиссии.
type Ledger struct{}

func New() *Ledger {
	return &Ledger{}
}

// Freeze резервирует amount с доступного баланса пользователя.
// Возвращает InsufficientBalance, если доступных средств не хватает.
// Сумма available+frozen не меняется.
func (l *Ledger) Freeze(user *models.User, amount int64) error {
	if user.Available < amount {
		return apperror.InsufficientBalance(amount, user.Available)
	}
	user.Available -= amount
	user.Frozen += amount

	logger.L().WithFields(logrus.Fields{
		"user_id":       user.ID,
		"amount":        amount,
		"new_available": user.Available,
		"new_frozen":    user.Frozen,
	}).Info("Balance frozen")

	return nil
}

// Unfreeze возвращает amount из замороженных средств в доступные
// (возврат ставки, отклонение оффера). Сумма available+frozen не меняется.
func (l *Ledger) Unfreeze(user *models.User, amount int64) {
	user.Frozen -= amount
	user.Available += amount

	logger.L().WithFields(logrus.Fields{
		"user_id":       user.ID,
		"amount":        amount,
		"new_available": user.Available,
		"new_frozen":    user.Frozen,
	}).Info("Balance unfrozen")
}

// Settle завершает расчёт: списывает price из замороженных средств
// покупателя и начисляет продавцу цену за вычетом комиссии.
// Комиссия остаётся у площадки и никому не начисляется.
//
// Предусловия (на ответственности вызывающего движка): price уже
// заморожен у покупателя, блокировка ресурса удерживается. Никаких
// собственных проверок Settle не делает.
func (l *Ledger) Settle(buyer, seller *models.User, price int64, ratePercent int) (sellerAmount, commission int64) {
	commission = Commission(price, ratePercent)
	sellerAmount = price - commission

	buyer.Frozen -= price
	seller.Available += sellerAmount

	logger.L().WithFields(logrus.Fields{
		"buyer_id":          buyer.ID,
		"seller_id":         seller.ID,
		"price":             price,
		"commission":        commission,
		"seller_amount":     sellerAmount,
		"buyer_new_frozen":  buyer.Frozen,
		"seller_new_avail":  seller.Available,
	}).Info("Settlement completed")

	return sellerAmount, commission
}

// Commission считает комиссию площадки: floor(price * rate / 100).
// Округление всегда вниз, чтобы продавец не терял больше заявленного
// процента ни на одном нанотоне.
func Commission(price int64, ratePercent int) int64 {
	return price * int64(ratePercent) / 100
}
