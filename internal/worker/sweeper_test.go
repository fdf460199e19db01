package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonmarket/gifts-backend/internal/service"
)

type countingAuctions struct {
	calls atomic.Int32
}

func (c *countingAuctions) FinalizeExpired(ctx context.Context, limit int) ([]service.FinalizeOutcome, error) {
	c.calls.Add(1)
	return nil, nil
}

type countingOffers struct {
	calls atomic.Int32
}

func (c *countingOffers) CleanupOld(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestSweeper_RunsAndStops(t *testing.T) {
	auctions := &countingAuctions{}
	offers := &countingOffers{}

	s := NewSweeper(auctions, offers, 10*time.Millisecond, 100)
	s.offerInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	assert.Eventually(t, func() bool {
		return auctions.calls.Load() >= 2 && offers.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)
	stopped := auctions.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.InDelta(t, stopped, auctions.calls.Load(), 1)
}
