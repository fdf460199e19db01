package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tonmarket/gifts-backend/internal/locks"
	"github.com/tonmarket/gifts-backend/internal/metrics"
	"github.com/tonmarket/gifts-backend/internal/models"
)

// Минимальный процент от цены лота для оффера.
const MinOfferPercent = 50

// Settings - параметры движков: комиссии и тайминги блокировок.
type Settings struct {
	MarketCommissionPercent  int
	AuctionCommissionPercent int
	LockTTL                  time.Duration
	LockWait                 time.Duration
	OfferMaxAge              time.Duration
}

// DefaultSettings - значения для тестов и локальной разработки.
func DefaultSettings() Settings {
	return Settings{
		MarketCommissionPercent:  1,
		AuctionCommissionPercent: 5,
		LockTTL:                  10 * time.Second,
		LockWait:                 15 * time.Second,
		OfferMaxAge:              24 * time.Hour,
	}
}

// Общие интерфейсы хранилищ. Сервисы зависят от интерфейсов, чтобы в
// тестах подменять репозитории моками.

type UserStore interface {
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.User, error)
	SaveBalances(ctx context.Context, tx *sqlx.Tx, user *models.User) error
}

type GiftStore interface {
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Gift, error)
	ListForUpdate(ctx context.Context, tx *sqlx.Tx, ids []int64) ([]models.Gift, error)
	Save(ctx context.Context, tx *sqlx.Tx, gift *models.Gift) error
}

type DealStore interface {
	Create(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Deal, int, error)
}

type EventStore interface {
	Append(ctx context.Context, tx *sqlx.Tx, event *models.EscrowEvent) error
}

// EventPublisher - пост-коммитная публикация эскроу-событий во
// внешний поток. Реализация best-effort, nil-безопасная через guard
// вызывающего.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.EscrowEvent)
}

// acquireLock берёт блокировку ресурса с учётом метрик задержки и
// таймаутов.
func acquireLock(ctx context.Context, locker locks.Locker, key string, ttl, wait time.Duration) (locks.Lease, error) {
	start := time.Now()
	lease, err := locker.Acquire(ctx, key, ttl, wait)
	metrics.LockAcquireLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LockTimeoutsTotal.Inc()
		return nil, err
	}
	return lease, nil
}

// normalizeLimit приводит лимит пагинации к разумным границам.
func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
