package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tonmarket/gifts-backend/internal/models"
	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
	"github.com/tonmarket/gifts-backend/internal/repository/common"
)

type GiftRepository struct {
	db *sqlx.DB
}

func NewGiftRepository(db *sqlx.DB) *GiftRepository {
	return &GiftRepository{db: db}
}

// GetByID возвращает подарок без блокировки строки.
func (r *GiftRepository) GetByID(ctx context.Context, id int64) (*models.Gift, error) {
	return common.GetByID[models.Gift](ctx, r.db, "gifts", id, apperror.ErrGiftNotFound)
}

// GetForUpdate читает подарок с блокировкой строки.
func (r *GiftRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Gift, error) {
	var gift models.Gift
	err := tx.GetContext(ctx, &gift,
		`SELECT * FROM gifts WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrGiftNotFound
		}
		return nil, fmt.Errorf("gift repository: get for update: %w", err)
	}
	return &gift, nil
}

// ListForUpdate читает несколько подарков с блокировкой строк,
// упорядоченно по id, чтобы порядок блокировок был детерминированным.
func (r *GiftRepository) ListForUpdate(ctx context.Context, tx *sqlx.Tx, ids []int64) ([]models.Gift, error) {
	var gifts []models.Gift
	err := tx.SelectContext(ctx, &gifts,
		`SELECT * FROM gifts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("gift repository: list for update: %w", err)
	}
	return gifts, nil
}

// Save сохраняет изменяемые поля подарка: владельца, цену продажи
// и привязку к бандлу.
func (r *GiftRepository) Save(ctx context.Context, tx *sqlx.Tx, gift *models.Gift) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE gifts SET owner_id = $2, price = $3, active_bundle_id = $4
		WHERE id = $1
	`, gift.ID, gift.OwnerID, gift.Price, gift.ActiveBundleID)
	if err != nil {
		return fmt.Errorf("gift repository: save: %w", err)
	}
	return nil
}
