// Package worker содержит фоновые зачистки: завершение истёкших
// аукционов и удаление протухших офферов с возвратом средств. Обе
// операции идемпотентны, поэтому одновременная работа нескольких
// экземпляров сервиса безопасна - блокировки ресурсов разведут их.
package worker

import (
	"context"
	"time"

	"github.com/tonmarket/gifts-backend/internal/goroutine"
	"github.com/tonmarket/gifts-backend/internal/logger"
	"github.com/tonmarket/gifts-backend/internal/service"
)

// OfferSweeper - часть офферного движка, нужная зачистке.
type OfferSweeper interface {
	CleanupOld(ctx context.Context) (int, error)
}

// AuctionSweeper - часть аукционного движка, нужная зачистке.
type AuctionSweeper interface {
	FinalizeExpired(ctx context.Context, limit int) ([]service.FinalizeOutcome, error)
}

// Sweeper периодически завершает истёкшие аукционы и чистит старые
// офферы. Останавливается по отмене контекста.
type Sweeper struct {
	auctions      AuctionSweeper
	offers        OfferSweeper
	interval      time.Duration
	offerInterval time.Duration
	limit         int
}

func NewSweeper(auctions AuctionSweeper, offers OfferSweeper, interval time.Duration, limit int) *Sweeper {
	return &Sweeper{
		auctions:      auctions,
		offers:        offers,
		interval:      interval,
		offerInterval: time.Hour,
		limit:         limit,
	}
}

// Start запускает оба цикла зачистки в фоновых горутинах.
func (s *Sweeper) Start(ctx context.Context) {
	goroutine.SafeGoWithContext(ctx, s.runAuctions)
	goroutine.SafeGoWithContext(ctx, s.runOffers)
}

func (s *Sweeper) runAuctions(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAuctions(ctx)
		}
	}
}

func (s *Sweeper) sweepAuctions(ctx context.Context) {
	outcomes, err := s.auctions.FinalizeExpired(ctx, s.limit)
	if err != nil {
		logger.L().WithError(err).Error("Expired auction sweep failed")
		return
	}
	if len(outcomes) > 0 {
		logger.L().WithField("processed", len(outcomes)).Info("Expired auctions swept")
	}
}

func (s *Sweeper) runOffers(ctx context.Context) {
	ticker := time.NewTicker(s.offerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.offers.CleanupOld(ctx); err != nil {
				logger.L().WithError(err).Error("Stale offer sweep failed")
			}
		}
	}
}
