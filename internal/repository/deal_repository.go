package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tonmarket/gifts-backend/internal/models"
)

type DealRepository struct {
	db *sqlx.DB
}

func NewDealRepository(db *sqlx.DB) *DealRepository {
	return &DealRepository{db: db}
}

// Create пишет запись о сделке. Вызывается только внутри расчётной
// транзакции - сделка видна тогда и только тогда, когда зафиксированы
// переход владения и движение средств.
func (r *DealRepository) Create(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error {
	err := tx.GetContext(ctx, deal, `
		INSERT INTO deals (gift_id, seller_id, buyer_id, price)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, deal.GiftID, deal.SellerID, deal.BuyerID, deal.Price)
	if err != nil {
		return fmt.Errorf("deal repository: create: %w", err)
	}
	return nil
}

// ListByUser возвращает сделки, где пользователь - покупатель или
// продавец, с пагинацией.
func (r *DealRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Deal, int, error) {
	var deals []models.Deal
	err := r.db.SelectContext(ctx, &deals, `
		SELECT * FROM deals WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("deal repository: list by user: %w", err)
	}

	var total int
	err = r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM deals WHERE buyer_id = $1 OR seller_id = $1`, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("deal repository: count by user: %w", err)
	}
	return deals, total, nil
}
