package broker

import (
	"context"
	"fmt"

	"github.com/tonmarket/gifts-backend/internal/logger"
	"github.com/tonmarket/gifts-backend/internal/models"
)

// EscrowEventPublisher дублирует записи эскроу-журнала в Kafka для
// внешних потребителей (сверка, аналитика). Публикация best-effort:
// источником истины остаётся таблица escrow_events, ошибки публикации
// логируются и не откатывают расчёт.
type EscrowEventPublisher struct {
	producer *Producer
}

// NewEscrowEventPublisher создаёт publisher; producer == nil отключает
// публикацию полностью.
func NewEscrowEventPublisher(producer *Producer) *EscrowEventPublisher {
	return &EscrowEventPublisher{producer: producer}
}

// Publish отправляет событие после фиксации транзакции.
func (p *EscrowEventPublisher) Publish(ctx context.Context, event *models.EscrowEvent) {
	if p == nil || p.producer == nil {
		return
	}

	key := fmt.Sprintf("escrow-%d", event.ID)
	if err := p.producer.PublishEvent(ctx, key, event); err != nil {
		logger.L().WithError(err).WithField("event_id", event.ID).
			Warn("Failed to publish escrow event to kafka")
	}
}
