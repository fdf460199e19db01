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

type AuctionRepository struct {
	db *sqlx.DB
}

func NewAuctionRepository(db *sqlx.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

// GetForUpdate читает аукцион с блокировкой строки.
func (r *AuctionRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Auction, error) {
	var auction models.Auction
	err := tx.GetContext(ctx, &auction,
		`SELECT * FROM auctions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("auction repository: get for update: %w", err)
	}
	return &auction, nil
}

// ExistsForGift сообщает, идёт ли уже аукцион по подарку.
func (r *AuctionRepository) ExistsForGift(ctx context.Context, tx *sqlx.Tx, giftID int64) (bool, error) {
	var count int
	err := tx.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM auctions WHERE gift_id = $1`, giftID)
	if err != nil {
		return false, fmt.Errorf("auction repository: exists for gift: %w", err)
	}
	return count > 0, nil
}

// Create вставляет новый аукцион и возвращает его с присвоенным id.
func (r *AuctionRepository) Create(ctx context.Context, tx *sqlx.Tx, auction *models.Auction) error {
	err := tx.GetContext(ctx, auction, `
		INSERT INTO auctions (gift_id, owner_id, start_bid, step_percent, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, auction.GiftID, auction.OwnerID, auction.StartBid, auction.StepPercent, auction.ExpiresAt)
	if err != nil {
		return fmt.Errorf("auction repository: create: %w", err)
	}
	return nil
}

// Delete удаляет аукцион. Ставки должны быть удалены (и возвращены)
// вызывающим кодом в той же транзакции.
func (r *AuctionRepository) Delete(ctx context.Context, tx *sqlx.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM auctions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("auction repository: delete: %w", err)
	}
	return nil
}

// SetLastBid обновляет сумму текущей (единственной) ставки аукциона.
func (r *AuctionRepository) SetLastBid(ctx context.Context, tx *sqlx.Tx, id int64, amount int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE auctions SET last_bid = $2 WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("auction repository: set last bid: %w", err)
	}
	return nil
}

// ListBidsForUpdate читает живые ставки аукциона с блокировкой строк.
// По инварианту их не больше одной, но возврат делается списком,
// чтобы отмена корректно обработала и аномальное состояние.
func (r *AuctionRepository) ListBidsForUpdate(ctx context.Context, tx *sqlx.Tx, auctionID int64) ([]models.Bid, error) {
	var bids []models.Bid
	err := tx.SelectContext(ctx, &bids,
		`SELECT * FROM auction_bids WHERE auction_id = $1 ORDER BY id FOR UPDATE`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("auction repository: list bids for update: %w", err)
	}
	return bids, nil
}

// InsertBid вставляет новую ставку.
func (r *AuctionRepository) InsertBid(ctx context.Context, tx *sqlx.Tx, bid *models.Bid) error {
	err := tx.GetContext(ctx, bid, `
		INSERT INTO auction_bids (auction_id, bidder_id, amount)
		VALUES ($1, $2, $3)
		RETURNING *
	`, bid.AuctionID, bid.BidderID, bid.Amount)
	if err != nil {
		return fmt.Errorf("auction repository: insert bid: %w", err)
	}
	return nil
}

// DeleteBid удаляет ставку (после возврата средств её автору).
func (r *AuctionRepository) DeleteBid(ctx context.Context, tx *sqlx.Tx, bidID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM auction_bids WHERE id = $1`, bidID)
	if err != nil {
		return fmt.Errorf("auction repository: delete bid: %w", err)
	}
	return nil
}

// ListExpired возвращает id аукционов, истёкших к moment, для
// фоновой зачистки.
func (r *AuctionRepository) ListExpired(ctx context.Context, moment time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM auctions WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2
	`, moment, limit)
	if err != nil {
		return nil, fmt.Errorf("auction repository: list expired: %w", err)
	}
	return ids, nil
}

// ListActive возвращает неистёкшие аукционы с пагинацией.
func (r *AuctionRepository) ListActive(ctx context.Context, limit, offset int) ([]models.Auction, int, error) {
	var auctions []models.Auction
	err := r.db.SelectContext(ctx, &auctions, `
		SELECT * FROM auctions WHERE expires_at > NOW()
		ORDER BY expires_at LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("auction repository: list active: %w", err)
	}

	var total int
	err = r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM auctions WHERE expires_at > NOW()`)
	if err != nil {
		return nil, 0, fmt.Errorf("auction repository: count active: %w", err)
	}
	return auctions, total, nil
}

// ListByOwner возвращает аукционы пользователя с пагинацией.
func (r *AuctionRepository) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]models.Auction, int, error) {
	var auctions []models.Auction
	err := r.db.SelectContext(ctx, &auctions, `
		SELECT * FROM auctions WHERE owner_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("auction repository: list by owner: %w", err)
	}

	var total int
	err = r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM auctions WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, 0, fmt.Errorf("auction repository: count by owner: %w", err)
	}
	return auctions, total, nil
}
