package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tonmarket/gifts-backend/internal/models"
	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
)

type BundleRepository struct {
	db *sqlx.DB
}

func NewBundleRepository(db *sqlx.DB) *BundleRepository {
	return &BundleRepository{db: db}
}

// GetForUpdate читает бандл с блокировкой строки.
func (r *BundleRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Bundle, error) {
	var bundle models.Bundle
	err := tx.GetContext(ctx, &bundle,
		`SELECT * FROM bundles WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrBundleNotFound
		}
		return nil, fmt.Errorf("bundle repository: get for update: %w", err)
	}
	return &bundle, nil
}

// Create вставляет бандл со статусом active.
func (r *BundleRepository) Create(ctx context.Context, tx *sqlx.Tx, bundle *models.Bundle) error {
	err := tx.GetContext(ctx, bundle, `
		INSERT INTO bundles (seller_id, price, status)
		VALUES ($1, $2, 'active')
		RETURNING *
	`, bundle.SellerID, bundle.Price)
	if err != nil {
		return fmt.Errorf("bundle repository: create: %w", err)
	}
	return nil
}

// AddItems привязывает подарки к бандлу.
func (r *BundleRepository) AddItems(ctx context.Context, tx *sqlx.Tx, bundleID int64, giftIDs []int64) error {
	for _, giftID := range giftIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bundle_items (bundle_id, gift_id) VALUES ($1, $2)`, bundleID, giftID)
		if err != nil {
			return fmt.Errorf("bundle repository: add item %d: %w", giftID, err)
		}
	}
	return nil
}

// ItemIDs возвращает id подарков бандла в порядке добавления.
func (r *BundleRepository) ItemIDs(ctx context.Context, tx *sqlx.Tx, bundleID int64) ([]int64, error) {
	var ids []int64
	err := tx.SelectContext(ctx, &ids,
		`SELECT gift_id FROM bundle_items WHERE bundle_id = $1 ORDER BY gift_id`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("bundle repository: item ids: %w", err)
	}
	return ids, nil
}

// SetStatus переводит бандл в терминальный статус.
func (r *BundleRepository) SetStatus(ctx context.Context, tx *sqlx.Tx, id int64, status string, cancelledAt *time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE bundles SET status = $2, cancelled_at = $3 WHERE id = $1`, id, status, cancelledAt)
	if err != nil {
		return fmt.Errorf("bundle repository: set status: %w", err)
	}
	return nil
}

// GetOfferForUpdate читает оффер на бандл с блокировкой строки.
func (r *BundleRepository) GetOfferForUpdate(ctx context.Context, tx *sqlx.Tx, offerID int64) (*models.BundleOffer, error) {
	var offer models.BundleOffer
	err := tx.GetContext(ctx, &offer,
		`SELECT * FROM bundle_offers WHERE id = $1 FOR UPDATE`, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrBundleOfferNotFound
		}
		return nil, fmt.Errorf("bundle repository: get offer for update: %w", err)
	}
	return &offer, nil
}

// GetOfferBundleID возвращает bundle_id оффера без блокировки - чтобы
// взять блокировку бандла до открытия транзакции.
func (r *BundleRepository) GetOfferBundleID(ctx context.Context, offerID int64) (int64, error) {
	var bundleID int64
	err := r.db.GetContext(ctx, &bundleID,
		`SELECT bundle_id FROM bundle_offers WHERE id = $1`, offerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperror.ErrBundleOfferNotFound
		}
		return 0, fmt.Errorf("bundle repository: get offer bundle id: %w", err)
	}
	return bundleID, nil
}

// OfferExists сообщает, есть ли уже оффер пользователя на бандл.
func (r *BundleRepository) OfferExists(ctx context.Context, tx *sqlx.Tx, bundleID, bidderID int64) (bool, error) {
	var count int
	err := tx.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM bundle_offers WHERE bundle_id = $1 AND bidder_id = $2`, bundleID, bidderID)
	if err != nil {
		return false, fmt.Errorf("bundle repository: offer exists: %w", err)
	}
	return count > 0, nil
}

// CreateOffer вставляет оффер на бандл.
func (r *BundleRepository) CreateOffer(ctx context.Context, tx *sqlx.Tx, offer *models.BundleOffer) error {
	err := tx.GetContext(ctx, offer, `
		INSERT INTO bundle_offers (bundle_id, bidder_id, price)
		VALUES ($1, $2, $3)
		RETURNING *
	`, offer.BundleID, offer.BidderID, offer.Price)
	if err != nil {
		return fmt.Errorf("bundle repository: create offer: %w", err)
	}
	return nil
}

// DeleteOffer удаляет оффер на бандл. Разморозка средств автора -
// обязанность вызывающего кода в той же транзакции.
func (r *BundleRepository) DeleteOffer(ctx context.Context, tx *sqlx.Tx, offerID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM bundle_offers WHERE id = $1`, offerID)
	if err != nil {
		return fmt.Errorf("bundle repository: delete offer: %w", err)
	}
	return nil
}

// ListOffersForUpdate читает все офферы бандла с блокировкой строк
// (автоотмена при покупке и отмене бандла).
func (r *BundleRepository) ListOffersForUpdate(ctx context.Context, tx *sqlx.Tx, bundleID int64) ([]models.BundleOffer, error) {
	var offers []models.BundleOffer
	err := tx.SelectContext(ctx, &offers,
		`SELECT * FROM bundle_offers WHERE bundle_id = $1 ORDER BY id FOR UPDATE`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("bundle repository: list offers for update: %w", err)
	}
	return offers, nil
}

// ListActive возвращает активные бандлы с фильтром по цене и пагинацией.
func (r *BundleRepository) ListActive(ctx context.Context, minPrice, maxPrice *int64, limit, offset int) ([]models.Bundle, int, error) {
	var bundles []models.Bundle
	err := r.db.SelectContext(ctx, &bundles, `
		SELECT * FROM bundles
		WHERE status = 'active'
		  AND ($1::bigint IS NULL OR price >= $1)
		  AND ($2::bigint IS NULL OR price <= $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, minPrice, maxPrice, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("bundle repository: list active: %w", err)
	}

	var total int
	err = r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM bundles
		WHERE status = 'active'
		  AND ($1::bigint IS NULL OR price >= $1)
		  AND ($2::bigint IS NULL OR price <= $2)
	`, minPrice, maxPrice)
	if err != nil {
		return nil, 0, fmt.Errorf("bundle repository: count active: %w", err)
	}
	return bundles, total, nil
}

// ListBySeller возвращает бандлы продавца с пагинацией.
func (r *BundleRepository) ListBySeller(ctx context.Context, sellerID int64, limit, offset int) ([]models.Bundle, int, error) {
	var bundles []models.Bundle
	err := r.db.SelectContext(ctx, &bundles, `
		SELECT * FROM bundles WHERE seller_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, sellerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("bundle repository: list by seller: %w", err)
	}

	var total int
	err = r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM bundles WHERE seller_id = $1`, sellerID)
	if err != nil {
		return nil, 0, fmt.Errorf("bundle repository: count by seller: %w", err)
	}
	return bundles, total, nil
}
