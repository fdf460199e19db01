package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tonmarket/gifts-backend/internal/models"
	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
)

type OfferRepository struct {
	db *sqlx.DB
}

func NewOfferRepository(db *sqlx.DB) *OfferRepository {
	return &OfferRepository{db: db}
}

// GetForUpdate читает оффер с блокировкой строки.
func (r *OfferRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Offer, error) {
	var offer models.Offer
	err := tx.GetContext(ctx, &offer,
		`SELECT * FROM offers WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrOfferNotFound
		}
		return nil, fmt.Errorf("offer repository: get for update: %w", err)
	}
	return &offer, nil
}

// GetGiftID возвращает gift_id оффера без блокировки - чтобы взять
// правильные блокировки ресурсов до открытия транзакции.
func (r *OfferRepository) GetGiftID(ctx context.Context, offerID int64) (int64, error) {
	var giftID int64
	err := r.db.GetContext(ctx, &giftID,
		`SELECT gift_id FROM offers WHERE id = $1`, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperror.ErrOfferNotFound
		}
		return 0, fmt.Errorf("offer repository: get gift id: %w", err)
	}
	return giftID, nil
}

// Exists сообщает, есть ли уже оффер от пользователя по подарку.
func (r *OfferRepository) Exists(ctx context.Context, tx *sqlx.Tx, giftID, bidderID int64) (bool, error) {
	var count int
	err := tx.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM offers WHERE gift_id = $1 AND bidder_id = $2`, giftID, bidderID)
	if err != nil {
		return false, fmt.Errorf("offer repository: exists: %w", err)
	}
	return count > 0, nil
}

// Create вставляет новый оффер и возвращает его с присвоенным id.
func (r *OfferRepository) Create(ctx context.Context, tx *sqlx.Tx, offer *models.Offer) error {
	err := tx.GetContext(ctx, offer, `
		INSERT INTO offers (gift_id, bidder_id, price)
		VALUES ($1, $2, $3)
		RETURNING *
	`, offer.GiftID, offer.BidderID, offer.Price)
	if err != nil {
		return fmt.Errorf("offer repository: create: %w", err)
	}
	return nil
}

// SetCounterPrice устанавливает встречную цену владельца подарка.
func (r *OfferRepository) SetCounterPrice(ctx context.Context, tx *sqlx.Tx, id int64, price int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE offers SET counter_price = $2, updated_at = NOW() WHERE id = $1`, id, price)
	if err != nil {
		return fmt.Errorf("offer repository: set counter price: %w", err)
	}
	return nil
}

// Delete удаляет оффер. Разморозка средств автора - обязанность
// вызывающего кода в той же транзакции.
func (r *OfferRepository) Delete(ctx context.Context, tx *sqlx.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM offers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("offer repository: delete: %w", err)
	}
	return nil
}

// ListForGiftsForUpdate читает офферы по набору подарков с блокировкой
// строк (автоотмена при создании бандла).
func (r *OfferRepository) ListForGiftsForUpdate(ctx context.Context, tx *sqlx.Tx, giftIDs []int64) ([]models.Offer, error) {
	var offers []models.Offer
	err := tx.SelectContext(ctx, &offers,
		`SELECT * FROM offers WHERE gift_id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(giftIDs))
	if err != nil {
		return nil, fmt.Errorf("offer repository: list for gifts: %w", err)
	}
	return offers, nil
}

// ListOlderThanForUpdate читает офферы, не обновлявшиеся с cutoff,
// с блокировкой строк (зачистка с возвратом средств).
func (r *OfferRepository) ListOlderThanForUpdate(ctx context.Context, tx *sqlx.Tx, cutoff time.Time) ([]models.Offer, error) {
	var offers []models.Offer
	err := tx.SelectContext(ctx, &offers,
		`SELECT * FROM offers WHERE updated_at < $1 ORDER BY id FOR UPDATE`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("offer repository: list older than: %w", err)
	}
	return offers, nil
}

// ListByUser возвращает офферы, где пользователь - автор или владелец
// подарка, с пагинацией.
func (r *OfferRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Offer, int, error) {
	var offers []models.Offer
	err := r.db.SelectContext(ctx, &offers, `
		SELECT o.* FROM offers o
		JOIN gifts g ON g.id = o.gift_id
		WHERE o.bidder_id = $1 OR g.owner_id = $1
		ORDER BY o.updated_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("offer repository: list by user: %w", err)
	}

	var total int
	err = r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM offers o
		JOIN gifts g ON g.id = o.gift_id
		WHERE o.bidder_id = $1 OR g.owner_id = $1
	`, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("offer repository: count by user: %w", err)
	}
	return offers, total, nil
}
