package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/tonmarket/gifts-backend/internal/ledger"
	"github.com/tonmarket/gifts-backend/internal/locks"
	"github.com/tonmarket/gifts-backend/internal/logger"
	"github.com/tonmarket/gifts-backend/internal/metrics"
	"github.com/tonmarket/gifts-backend/internal/models"
	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
	"github.com/tonmarket/gifts-backend/internal/repository/common"
)

// OfferStore - операции хранилища, нужные офферному движку.
type OfferStore interface {
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Offer, error)
	GetGiftID(ctx context.Context, offerID int64) (int64, error)
	Exists(ctx context.Context, tx *sqlx.Tx, giftID, bidderID int64) (bool, error)
	Create(ctx context.Context, tx *sqlx.Tx, offer *models.Offer) error
	SetCounterPrice(ctx context.Context, tx *sqlx.Tx, id int64, price int64) error
	Delete(ctx context.Context, tx *sqlx.Tx, id int64) error
	ListOlderThanForUpdate(ctx context.Context, tx *sqlx.Tx, cutoff time.Time) ([]models.Offer, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Offer, int, error)
}

// OfferService - движок офферов с эскроу: цена оффера заморожена
// с баланса автора на всё время его жизни. Каждое действие с оффером
// пишется в append-only журнал и best-effort публикуется во внешний
// поток после фиксации транзакции.
type OfferService struct {
	tx        common.TxManager
	locker    locks.Locker
	ledger    *ledger.Ledger
	offers    OfferStore
	users     UserStore
	gifts     GiftStore
	deals     DealStore
	events    EventStore
	publisher EventPublisher
	settings  Settings
}

func NewOfferService(
	tx common.TxManager,
	locker locks.Locker,
	ldg *ledger.Ledger,
	offers OfferStore,
	users UserStore,
	gifts GiftStore,
	deals DealStore,
	events EventStore,
	publisher EventPublisher,
	settings Settings,
) *OfferService {
	return &OfferService{
		tx:        tx,
		locker:    locker,
		ledger:    ldg,
		offers:    offers,
		users:     users,
		gifts:     gifts,
		deals:     deals,
		events:    events,
		publisher: publisher,
		settings:  settings,
	}
}

func (s *OfferService) publish(ctx context.Context, events []*models.EscrowEvent) {
	if s.publisher == nil {
		return
	}
	for _, event := range events {
		s.publisher.Publish(ctx, event)
	}
}

// Create делает оффер по выставленному на продажу подарку, замораживая
// его цену с баланса автора. Цена не может быть ниже половины цены лота.
func (s *OfferService) Create(ctx context.Context, giftID, bidderID, price int64) (*models.Offer, error) {
	if price <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "цена оффера должна быть положительной")
	}

	lease, err := acquireLock(ctx, s.locker, locks.OfferCreateKey(giftID, bidderID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	var (
		offer     *models.Offer
		committed []*models.EscrowEvent
	)
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		gift, err := s.gifts.GetForUpdate(ctx, tx, giftID)
		if err != nil {
			return err
		}
		if gift.Price == nil {
			return apperror.ErrGiftNotOnSale
		}
		if gift.ActiveBundleID != nil {
			return apperror.ErrGiftInBundle
		}
		if gift.OwnerID == bidderID {
			return apperror.ErrCannotOfferOwnGift
		}

		exists, err := s.offers.Exists(ctx, tx, giftID, bidderID)
		if err != nil {
			return err
		}
		if exists {
			return apperror.ErrOfferAlreadyExists
		}

		minPrice := *gift.Price * int64(MinOfferPercent) / 100
		if price < minPrice {
			return apperror.OfferPriceTooLow(price, minPrice, MinOfferPercent)
		}

		bidder, err := s.users.GetForUpdate(ctx, tx, bidderID)
		if err != nil {
			return err
		}
		if err := s.ledger.Freeze(bidder, price); err != nil {
			return err
		}
		if err := s.users.SaveBalances(ctx, tx, bidder); err != nil {
			return err
		}

		offer = &models.Offer{GiftID: giftID, BidderID: bidderID, Price: price}
		if err := s.offers.Create(ctx, tx, offer); err != nil {
			return err
		}

		event := &models.EscrowEvent{
			OfferID:        &offer.ID,
			GiftID:         &giftID,
			ActorID:        bidderID,
			CounterpartyID: gift.OwnerID,
			EventType:      models.EventOfferCreated,
			Amount:         price,
		}
		if err := s.events.Append(ctx, tx, event); err != nil {
			return err
		}
		committed = append(committed, event)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, committed)
	metrics.OffersCreatedTotal.Inc()
	logger.L().WithFields(logrus.Fields{
		"offer_id":  offer.ID,
		"gift_id":   giftID,
		"bidder_id": bidderID,
		"price":     price,
	}).Info("Offer created")
	return offer, nil
}

// SetCounterPrice устанавливает встречную цену владельца подарка.
// Средства не двигаются - это только предложение автору оффера.
func (s *OfferService) SetCounterPrice(ctx context.Context, offerID, ownerID, counterPrice int64) error {
	if counterPrice <= 0 {
		return apperror.New(apperror.ErrCodeValidation, "встречная цена должна быть положительной")
	}

	lease, err := acquireLock(ctx, s.locker, locks.OfferAcceptKey(offerID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	var committed []*models.EscrowEvent
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		offer, err := s.offers.GetForUpdate(ctx, tx, offerID)
		if err != nil {
			return err
		}
		gift, err := s.gifts.GetForUpdate(ctx, tx, offer.GiftID)
		if err != nil {
			return err
		}
		if gift.OwnerID != ownerID {
			return apperror.ErrNotGiftOwner
		}
		if err := s.offers.SetCounterPrice(ctx, tx, offerID, counterPrice); err != nil {
			return err
		}

		event := &models.EscrowEvent{
			OfferID:        &offer.ID,
			GiftID:         &offer.GiftID,
			ActorID:        ownerID,
			CounterpartyID: offer.BidderID,
			EventType:      models.EventCounterPriceSet,
			Amount:         counterPrice,
		}
		if err := s.events.Append(ctx, tx, event); err != nil {
			return err
		}
		committed = append(committed, event)
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, committed)
	logger.L().WithFields(logrus.Fields{
		"offer_id":      offerID,
		"counter_price": counterPrice,
	}).Info("Counter price set")
	return nil
}

// Refuse отклоняет оффер. Разрешено и автору оффера, и владельцу
// подарка; замороженная цена возвращается автору.
func (s *OfferService) Refuse(ctx context.Context, offerID, callerID int64) error {
	lease, err := acquireLock(ctx, s.locker, locks.OfferRefuseKey(offerID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	var committed []*models.EscrowEvent
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		offer, err := s.offers.GetForUpdate(ctx, tx, offerID)
		if err != nil {
			return err
		}
		gift, err := s.gifts.GetForUpdate(ctx, tx, offer.GiftID)
		if err != nil {
			return err
		}
		if callerID != offer.BidderID && callerID != gift.OwnerID {
			return apperror.ErrOfferPermission
		}

		bidder, err := s.users.GetForUpdate(ctx, tx, offer.BidderID)
		if err != nil {
			return err
		}
		s.ledger.Unfreeze(bidder, offer.Price)
		if err := s.users.SaveBalances(ctx, tx, bidder); err != nil {
			return err
		}
		if err := s.offers.Delete(ctx, tx, offerID); err != nil {
			return err
		}

		counterparty := gift.OwnerID
		if callerID == gift.OwnerID {
			counterparty = offer.BidderID
		}
		event := &models.EscrowEvent{
			OfferID:        &offer.ID,
			GiftID:         &offer.GiftID,
			ActorID:        callerID,
			CounterpartyID: counterparty,
			EventType:      models.EventOfferRefused,
			Amount:         offer.Price,
		}
		if err := s.events.Append(ctx, tx, event); err != nil {
			return err
		}
		committed = append(committed, event)
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, committed)
	metrics.OffersRefusedTotal.Inc()
	logger.L().WithFields(logrus.Fields{
		"offer_id":  offerID,
		"caller_id": callerID,
	}).Info("Offer refused")
	return nil
}

// Accept принимает оффер одним из двух путей: владелец подарка
// принимает базовую цену, либо автор оффера принимает выставленную
// встречную цену. Во втором случае замороженная сумма сначала
// доводится до расчётной цены (дозаморозка недостатка или возврат
// излишка), и только затем выполняется расчёт.
func (s *OfferService) Accept(ctx context.Context, offerID, callerID int64) (*models.Deal, error) {
	giftID, err := s.offers.GetGiftID(ctx, offerID)
	if err != nil {
		return nil, err
	}

	// Состояние подарка и оффера блокируются вместе, в фиксированном
	// порядке, чтобы конкурентные accept/создание бандла не пересеклись.
	leases, err := locks.AcquireAll(ctx, s.locker, s.settings.LockTTL, s.settings.LockWait,
		locks.GiftStateKey(giftID), locks.OfferAcceptKey(offerID))
	if err != nil {
		metrics.LockTimeoutsTotal.Inc()
		return nil, err
	}
	defer locks.ReleaseAll(ctx, leases)

	var (
		deal      *models.Deal
		committed []*models.EscrowEvent
	)
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		offer, err := s.offers.GetForUpdate(ctx, tx, offerID)
		if err != nil {
			return err
		}
		gift, err := s.gifts.GetForUpdate(ctx, tx, offer.GiftID)
		if err != nil {
			return err
		}
		if gift.ActiveBundleID != nil {
			return apperror.ErrGiftInBundle
		}

		var settlePrice int64
		switch {
		case callerID == gift.OwnerID:
			settlePrice = offer.Price
		case callerID == offer.BidderID && offer.CounterPrice != nil:
			settlePrice = *offer.CounterPrice
		default:
			return apperror.ErrOfferPermission
		}

		buyer, err := s.users.GetForUpdate(ctx, tx, offer.BidderID)
		if err != nil {
			return err
		}
		seller, err := s.users.GetForUpdate(ctx, tx, gift.OwnerID)
		if err != nil {
			return err
		}

		// Доводим замороженную сумму до расчётной цены.
		switch diff := settlePrice - offer.Price; {
		case diff > 0:
			if err := s.ledger.Freeze(buyer, diff); err != nil {
				return err
			}
		case diff < 0:
			s.ledger.Unfreeze(buyer, -diff)
		}

		_, commission := s.ledger.Settle(buyer, seller, settlePrice, s.settings.MarketCommissionPercent)
		if err := s.users.SaveBalances(ctx, tx, buyer); err != nil {
			return err
		}
		if err := s.users.SaveBalances(ctx, tx, seller); err != nil {
			return err
		}

		gift.OwnerID = buyer.ID
		gift.Price = nil
		if err := s.gifts.Save(ctx, tx, gift); err != nil {
			return err
		}

		deal = &models.Deal{
			GiftID:   gift.ID,
			SellerID: seller.ID,
			BuyerID:  buyer.ID,
			Price:    settlePrice,
		}
		if err := s.deals.Create(ctx, tx, deal); err != nil {
			return err
		}
		if err := s.offers.Delete(ctx, tx, offerID); err != nil {
			return err
		}

		counterparty := seller.ID
		if callerID == seller.ID {
			counterparty = buyer.ID
		}
		event := &models.EscrowEvent{
			OfferID:        &offer.ID,
			GiftID:         &gift.ID,
			ActorID:        callerID,
			CounterpartyID: counterparty,
			EventType:      models.EventOfferAccepted,
			Amount:         settlePrice,
		}
		if err := s.events.Append(ctx, tx, event); err != nil {
			return err
		}
		committed = append(committed, event)

		metrics.CommissionNanotonsTotal.Add(float64(commission))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, committed)
	metrics.OffersAcceptedTotal.Inc()
	logger.L().WithFields(logrus.Fields{
		"offer_id": offerID,
		"deal_id":  deal.ID,
		"price":    deal.Price,
	}).Info("Offer accepted")
	return deal, nil
}

// CleanupOld удаляет офферы старше заданного возраста с возвратом
// замороженных средств авторам. Возвращает число удалённых офферов.
func (s *OfferService) CleanupOld(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.settings.OfferMaxAge)

	var (
		removed   int
		committed []*models.EscrowEvent
	)
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		stale, err := s.offers.ListOlderThanForUpdate(ctx, tx, cutoff)
		if err != nil {
			return err
		}

		// У одного автора может быть несколько протухших офферов -
		// строка пользователя читается и сохраняется один раз.
		bidders := make(map[int64]*models.User)
		for _, offer := range stale {
			bidder, ok := bidders[offer.BidderID]
			if !ok {
				bidder, err = s.users.GetForUpdate(ctx, tx, offer.BidderID)
				if err != nil {
					return err
				}
				bidders[offer.BidderID] = bidder
			}
			s.ledger.Unfreeze(bidder, offer.Price)
			if err := s.offers.Delete(ctx, tx, offer.ID); err != nil {
				return err
			}

			event := &models.EscrowEvent{
				OfferID:        &offer.ID,
				GiftID:         &offer.GiftID,
				ActorID:        offer.BidderID,
				CounterpartyID: offer.BidderID,
				EventType:      models.EventAutoCancelExpired,
				Amount:         offer.Price,
			}
			if err := s.events.Append(ctx, tx, event); err != nil {
				return err
			}
			committed = append(committed, event)
			removed++
		}

		for _, bidder := range bidders {
			if err := s.users.SaveBalances(ctx, tx, bidder); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.publish(ctx, committed)
	if removed > 0 {
		metrics.SweepProcessedTotal.WithLabelValues("cleanup_offers", "removed").Add(float64(removed))
		logger.L().WithField("removed", removed).Info("Stale offers cleaned up")
	}
	return removed, nil
}

// ListMine возвращает офферы, где пользователь - автор или владелец
// подарка. Перед выдачей выполняется зачистка протухших офферов, чтобы
// пользователь не видел уже невалидные записи.
func (s *OfferService) ListMine(ctx context.Context, userID int64, limit, offset int) ([]models.Offer, int, error) {
	if _, err := s.CleanupOld(ctx); err != nil {
		logger.L().WithError(err).Warn("Offer cleanup before listing failed")
	}
	return s.offers.ListByUser(ctx, userID, normalizeLimit(limit), offset)
}
