package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tonmarket/gifts-backend/internal/models"
)

type EventRepository struct {
	db *sqlx.DB
}

func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append добавляет запись в эскроу-журнал. Журнал append-only:
// обновлений и удалений у этой таблицы нет.
func (r *EventRepository) Append(ctx context.Context, tx *sqlx.Tx, event *models.EscrowEvent) error {
	err := tx.GetContext(ctx, event, `
		INSERT INTO escrow_events
			(offer_id, bundle_offer_id, gift_id, actor_id, counterparty_id, event_type, amount, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, event.OfferID, event.BundleOfferID, event.GiftID, event.ActorID,
		event.CounterpartyID, event.EventType, event.Amount, event.Meta)
	if err != nil {
		return fmt.Errorf("event repository: append: %w", err)
	}
	return nil
}

// ListByOffer возвращает события по офферу (для сверки).
func (r *EventRepository) ListByOffer(ctx context.Context, offerID int64) ([]models.EscrowEvent, error) {
	var events []models.EscrowEvent
	err := r.db.SelectContext(ctx, &events,
		`SELECT * FROM escrow_events WHERE offer_id = $1 ORDER BY id`, offerID)
	if err != nil {
		return nil, fmt.Errorf("event repository: list by offer: %w", err)
	}
	return events, nil
}
