package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
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

// BundleStore - операции хранилища, нужные движку бандлов.
type BundleStore interface {
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Bundle, error)
	Create(ctx context.Context, tx *sqlx.Tx, bundle *models.Bundle) error
	AddItems(ctx context.Context, tx *sqlx.Tx, bundleID int64, giftIDs []int64) error
	ItemIDs(ctx context.Context, tx *sqlx.Tx, bundleID int64) ([]int64, error)
	SetStatus(ctx context.Context, tx *sqlx.Tx, id int64, status string, cancelledAt *time.Time) error
	GetOfferForUpdate(ctx context.Context, tx *sqlx.Tx, offerID int64) (*models.BundleOffer, error)
	GetOfferBundleID(ctx context.Context, offerID int64) (int64, error)
	OfferExists(ctx context.Context, tx *sqlx.Tx, bundleID, bidderID int64) (bool, error)
	CreateOffer(ctx context.Context, tx *sqlx.Tx, offer *models.BundleOffer) error
	DeleteOffer(ctx context.Context, tx *sqlx.Tx, offerID int64) error
	ListOffersForUpdate(ctx context.Context, tx *sqlx.Tx, bundleID int64) ([]models.BundleOffer, error)
	ListActive(ctx context.Context, minPrice, maxPrice *int64, limit, offset int) ([]models.Bundle, int, error)
	ListBySeller(ctx context.Context, sellerID int64, limit, offset int) ([]models.Bundle, int, error)
}

// BundleOfferStore - офферы по отдельным подаркам, автоотменяемые
// при создании бандла.
type BundleOfferStore interface {
	ListForGiftsForUpdate(ctx context.Context, tx *sqlx.Tx, giftIDs []int64) ([]models.Offer, error)
	Delete(ctx context.Context, tx *sqlx.Tx, id int64) error
}

// BundleService - движок бандлов: атомарный лот из двух и более
// подарков с единой ценой. Продажа бандла порождает по одной сделке
// на каждый подарок, сумма цен сделок в точности равна цене бандла.
type BundleService struct {
	tx        common.TxManager
	locker    locks.Locker
	ledger    *ledger.Ledger
	bundles   BundleStore
	offers    BundleOfferStore
	users     UserStore
	gifts     GiftStore
	deals     DealStore
	events    EventStore
	publisher EventPublisher
	settings  Settings
}

func NewBundleService(
	tx common.TxManager,
	locker locks.Locker,
	ldg *ledger.Ledger,
	bundles BundleStore,
	offers BundleOfferStore,
	users UserStore,
	gifts GiftStore,
	deals DealStore,
	events EventStore,
	publisher EventPublisher,
	settings Settings,
) *BundleService {
	return &BundleService{
		tx:        tx,
		locker:    locker,
		ledger:    ldg,
		bundles:   bundles,
		offers:    offers,
		users:     users,
		gifts:     gifts,
		deals:     deals,
		events:    events,
		publisher: publisher,
		settings:  settings,
	}
}

func (s *BundleService) publish(ctx context.Context, events []*models.EscrowEvent) {
	if s.publisher == nil {
		return
	}
	for _, event := range events {
		s.publisher.Publish(ctx, event)
	}
}

// bundleSignature - детерминированная подпись состава бандла для
// ключа блокировки создания: два конкурентных запроса с одним и тем же
// набором подарков сериализуются даже до появления id бандла.
func bundleSignature(sortedIDs []int64) string {
	parts := make([]string, 0, len(sortedIDs))
	for _, id := range sortedIDs {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])[:16]
}

// Create собирает бандл из подарков продавца. Все подарки блокируются
// в порядке возрастания id, существующие офферы по ним автоматически
// отменяются с возвратом средств авторам.
func (s *BundleService) Create(ctx context.Context, sellerID int64, giftIDs []int64, price int64) (*models.Bundle, error) {
	if price <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "цена бандла должна быть положительной")
	}
	if len(giftIDs) < 2 {
		return nil, apperror.InvalidBundleItems("в бандле должно быть не меньше двух подарков")
	}

	sorted := make([]int64, len(giftIDs))
	copy(sorted, giftIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return nil, apperror.InvalidBundleItems("подарки в бандле не должны повторяться")
		}
	}

	keys := make([]string, 0, len(sorted)+1)
	keys = append(keys, locks.BundleCreateKey(sellerID, bundleSignature(sorted)))
	for _, id := range sorted {
		keys = append(keys, locks.GiftStateKey(id))
	}
	leases, err := locks.AcquireAll(ctx, s.locker, s.settings.LockTTL, s.settings.LockWait, keys...)
	if err != nil {
		metrics.LockTimeoutsTotal.Inc()
		return nil, err
	}
	defer locks.ReleaseAll(ctx, leases)

	var (
		bundle    *models.Bundle
		committed []*models.EscrowEvent
	)
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		gifts, err := s.gifts.ListForUpdate(ctx, tx, sorted)
		if err != nil {
			return err
		}
		if len(gifts) != len(sorted) {
			return apperror.ErrGiftNotFound
		}
		for i := range gifts {
			gift := &gifts[i]
			if gift.OwnerID != sellerID {
				return apperror.ErrNotGiftOwner
			}
			if gift.ActiveBundleID != nil {
				return apperror.ErrGiftInBundle
			}
			if gift.AccountID != nil {
				return apperror.InvalidBundleItems(
					fmt.Sprintf("подарок %d привязан к внешнему аккаунту", gift.ID))
			}
		}

		bundle = &models.Bundle{SellerID: sellerID, Price: price}
		if err := s.bundles.Create(ctx, tx, bundle); err != nil {
			return err
		}
		if err := s.bundles.AddItems(ctx, tx, bundle.ID, sorted); err != nil {
			return err
		}

		// Автоотмена офферов по каждому из подарков.
		staleOffers, err := s.offers.ListForGiftsForUpdate(ctx, tx, sorted)
		if err != nil {
			return err
		}
		bidders := make(map[int64]*models.User)
		for _, offer := range staleOffers {
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
				ActorID:        sellerID,
				CounterpartyID: offer.BidderID,
				EventType:      models.EventAutoCancelByBundle,
				Amount:         offer.Price,
			}
			if err := s.events.Append(ctx, tx, event); err != nil {
				return err
			}
			committed = append(committed, event)
		}
		for _, bidder := range bidders {
			if err := s.users.SaveBalances(ctx, tx, bidder); err != nil {
				return err
			}
		}

		for i := range gifts {
			gift := &gifts[i]
			gift.Price = nil
			gift.ActiveBundleID = &bundle.ID
			if err := s.gifts.Save(ctx, tx, gift); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, committed)
	logger.L().WithFields(logrus.Fields{
		"bundle_id": bundle.ID,
		"seller_id": sellerID,
		"items":     len(sorted),
		"price":     price,
	}).Info("Bundle created")
	return bundle, nil
}

// Cancel снимает бандл с продажи: возвращает все офферы на бандл,
// освобождает подарки и переводит бандл в статус cancelled.
func (s *BundleService) Cancel(ctx context.Context, bundleID, sellerID int64) error {
	lease, err := acquireLock(ctx, s.locker, locks.BundleStateKey(bundleID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	var committed []*models.EscrowEvent
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		bundle, err := s.bundles.GetForUpdate(ctx, tx, bundleID)
		if err != nil {
			return err
		}
		if bundle.Status != models.BundleStatusActive {
			return apperror.ErrBundleNotActive
		}
		if bundle.SellerID != sellerID {
			return apperror.ErrBundlePermission
		}

		refunded, err := s.refundBundleOffers(ctx, tx, bundle, 0, &committed)
		if err != nil {
			return err
		}
		if err := s.clearItems(ctx, tx, bundleID, nil); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := s.bundles.SetStatus(ctx, tx, bundleID, models.BundleStatusCancelled, &now); err != nil {
			return err
		}

		logger.L().WithFields(logrus.Fields{
			"bundle_id":       bundleID,
			"offers_refunded": refunded,
		}).Info("Bundle cancelled")
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, committed)
	return nil
}

// refundBundleOffers возвращает средства по всем офферам бандла,
// кроме оффера с id = skipOfferID (0 - вернуть все), и удаляет их.
func (s *BundleService) refundBundleOffers(ctx context.Context, tx *sqlx.Tx, bundle *models.Bundle, skipOfferID int64, committed *[]*models.EscrowEvent) (int, error) {
	offers, err := s.bundles.ListOffersForUpdate(ctx, tx, bundle.ID)
	if err != nil {
		return 0, err
	}

	refunded := 0
	bidders := make(map[int64]*models.User)
	for _, offer := range offers {
		if offer.ID == skipOfferID {
			continue
		}
		bidder, ok := bidders[offer.BidderID]
		if !ok {
			bidder, err = s.users.GetForUpdate(ctx, tx, offer.BidderID)
			if err != nil {
				return 0, err
			}
			bidders[offer.BidderID] = bidder
		}
		s.ledger.Unfreeze(bidder, offer.Price)
		if err := s.bundles.DeleteOffer(ctx, tx, offer.ID); err != nil {
			return 0, err
		}

		event := &models.EscrowEvent{
			BundleOfferID:  &offer.ID,
			ActorID:        bundle.SellerID,
			CounterpartyID: offer.BidderID,
			EventType:      models.EventOfferRefused,
			Amount:         offer.Price,
		}
		if err := s.events.Append(ctx, tx, event); err != nil {
			return 0, err
		}
		*committed = append(*committed, event)
		refunded++
	}
	for _, bidder := range bidders {
		if err := s.users.SaveBalances(ctx, tx, bidder); err != nil {
			return 0, err
		}
	}
	return refunded, nil
}

// clearItems снимает привязку всех подарков бандла и, если newOwnerID
// не nil, передаёт владение.
func (s *BundleService) clearItems(ctx context.Context, tx *sqlx.Tx, bundleID int64, newOwnerID *int64) error {
	itemIDs, err := s.bundles.ItemIDs(ctx, tx, bundleID)
	if err != nil {
		return err
	}
	gifts, err := s.gifts.ListForUpdate(ctx, tx, itemIDs)
	if err != nil {
		return err
	}
	for i := range gifts {
		gift := &gifts[i]
		gift.ActiveBundleID = nil
		gift.Price = nil
		if newOwnerID != nil {
			gift.OwnerID = *newOwnerID
		}
		if err := s.gifts.Save(ctx, tx, gift); err != nil {
			return err
		}
	}
	return nil
}

// splitPrice делит цену бандла на n сделок. Остаток целочисленного
// деления достаётся первой сделке, так что сумма долей в точности
// равна цене.
func splitPrice(price int64, n int) []int64 {
	base := price / int64(n)
	parts := make([]int64, n)
	for i := range parts {
		parts[i] = base
	}
	parts[0] += price - base*int64(n)
	return parts
}

// settleBundle выполняет общий для покупки и принятия оффера расчёт:
// списывает замороженную цену покупателя, начисляет продавцу цену за
// вычетом комиссии, передаёт подарки и пишет по сделке на каждый.
// Цена уже должна быть заморожена у покупателя.
func (s *BundleService) settleBundle(ctx context.Context, tx *sqlx.Tx, bundle *models.Bundle, buyer, seller *models.User, price int64) ([]models.Deal, error) {
	_, commission := s.ledger.Settle(buyer, seller, price, s.settings.MarketCommissionPercent)
	if err := s.users.SaveBalances(ctx, tx, buyer); err != nil {
		return nil, err
	}
	if err := s.users.SaveBalances(ctx, tx, seller); err != nil {
		return nil, err
	}

	itemIDs, err := s.bundles.ItemIDs(ctx, tx, bundle.ID)
	if err != nil {
		return nil, err
	}
	gifts, err := s.gifts.ListForUpdate(ctx, tx, itemIDs)
	if err != nil {
		return nil, err
	}

	parts := splitPrice(price, len(gifts))
	deals := make([]models.Deal, 0, len(gifts))
	for i := range gifts {
		gift := &gifts[i]
		gift.OwnerID = buyer.ID
		gift.Price = nil
		gift.ActiveBundleID = nil
		if err := s.gifts.Save(ctx, tx, gift); err != nil {
			return nil, err
		}

		deal := models.Deal{
			GiftID:   gift.ID,
			SellerID: seller.ID,
			BuyerID:  buyer.ID,
			Price:    parts[i],
		}
		if err := s.deals.Create(ctx, tx, &deal); err != nil {
			return nil, err
		}
		deals = append(deals, deal)
	}

	if err := s.bundles.SetStatus(ctx, tx, bundle.ID, models.BundleStatusSold, nil); err != nil {
		return nil, err
	}

	metrics.BundlesSoldTotal.Inc()
	metrics.CommissionNanotonsTotal.Add(float64(commission))
	return deals, nil
}

// Buy покупает бандл целиком по его цене. Все невостребованные офферы
// на бандл возвращаются авторам до расчёта.
func (s *BundleService) Buy(ctx context.Context, bundleID, buyerID int64) ([]models.Deal, error) {
	lease, err := acquireLock(ctx, s.locker, locks.BundleStateKey(bundleID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	var (
		deals     []models.Deal
		committed []*models.EscrowEvent
	)
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		bundle, err := s.bundles.GetForUpdate(ctx, tx, bundleID)
		if err != nil {
			return err
		}
		if bundle.Status != models.BundleStatusActive {
			return apperror.ErrBundleNotActive
		}
		if bundle.SellerID == buyerID {
			return apperror.ErrCannotBuyOwnBundle
		}

		// Сначала возвраты по офферам: покупатель мог сам иметь
		// оффер на этот бандл, его строка читается уже после возврата.
		if _, err := s.refundBundleOffers(ctx, tx, bundle, 0, &committed); err != nil {
			return err
		}

		buyer, err := s.users.GetForUpdate(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		seller, err := s.users.GetForUpdate(ctx, tx, bundle.SellerID)
		if err != nil {
			return err
		}
		if err := s.ledger.Freeze(buyer, bundle.Price); err != nil {
			return err
		}

		deals, err = s.settleBundle(ctx, tx, bundle, buyer, seller, bundle.Price)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, committed)
	logger.L().WithFields(logrus.Fields{
		"bundle_id": bundleID,
		"buyer_id":  buyerID,
		"deals":     len(deals),
	}).Info("Bundle sold")
	return deals, nil
}

// MakeOffer делает оффер на бандл целиком: та же дисциплина минимальной
// цены и заморозки, что и у офферов по одиночным подаркам.
func (s *BundleService) MakeOffer(ctx context.Context, bundleID, bidderID, price int64) (*models.BundleOffer, error) {
	if price <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "цена оффера должна быть положительной")
	}

	lease, err := acquireLock(ctx, s.locker, locks.BundleStateKey(bundleID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	var (
		offer     *models.BundleOffer
		committed []*models.EscrowEvent
	)
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		bundle, err := s.bundles.GetForUpdate(ctx, tx, bundleID)
		if err != nil {
			return err
		}
		if bundle.Status != models.BundleStatusActive {
			return apperror.ErrBundleNotActive
		}
		if bundle.SellerID == bidderID {
			return apperror.ErrCannotBuyOwnBundle
		}

		exists, err := s.bundles.OfferExists(ctx, tx, bundleID, bidderID)
		if err != nil {
			return err
		}
		if exists {
			return apperror.ErrBundleOfferExists
		}

		minPrice := bundle.Price * int64(MinOfferPercent) / 100
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

		offer = &models.BundleOffer{BundleID: bundleID, BidderID: bidderID, Price: price}
		if err := s.bundles.CreateOffer(ctx, tx, offer); err != nil {
			return err
		}

		event := &models.EscrowEvent{
			BundleOfferID:  &offer.ID,
			ActorID:        bidderID,
			CounterpartyID: bundle.SellerID,
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
		"bundle_offer_id": offer.ID,
		"bundle_id":       bundleID,
		"bidder_id":       bidderID,
		"price":           price,
	}).Info("Bundle offer created")
	return offer, nil
}

// AcceptOffer принимает оффер на бандл: расчёт по цене оффера,
// остальные офферы возвращаются авторам.
func (s *BundleService) AcceptOffer(ctx context.Context, offerID, sellerID int64) ([]models.Deal, error) {
	bundleID, err := s.bundles.GetOfferBundleID(ctx, offerID)
	if err != nil {
		return nil, err
	}

	lease, err := acquireLock(ctx, s.locker, locks.BundleStateKey(bundleID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	var (
		deals     []models.Deal
		committed []*models.EscrowEvent
	)
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		bundle, err := s.bundles.GetForUpdate(ctx, tx, bundleID)
		if err != nil {
			return err
		}
		if bundle.Status != models.BundleStatusActive {
			return apperror.ErrBundleNotActive
		}
		if bundle.SellerID != sellerID {
			return apperror.ErrBundlePermission
		}

		offer, err := s.bundles.GetOfferForUpdate(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if _, err := s.refundBundleOffers(ctx, tx, bundle, offer.ID, &committed); err != nil {
			return err
		}

		buyer, err := s.users.GetForUpdate(ctx, tx, offer.BidderID)
		if err != nil {
			return err
		}
		seller, err := s.users.GetForUpdate(ctx, tx, sellerID)
		if err != nil {
			return err
		}

		// Цена оффера уже заморожена у автора при создании.
		deals, err = s.settleBundle(ctx, tx, bundle, buyer, seller, offer.Price)
		if err != nil {
			return err
		}
		if err := s.bundles.DeleteOffer(ctx, tx, offer.ID); err != nil {
			return err
		}

		event := &models.EscrowEvent{
			BundleOfferID:  &offer.ID,
			ActorID:        sellerID,
			CounterpartyID: offer.BidderID,
			EventType:      models.EventOfferAccepted,
			Amount:         offer.Price,
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
	metrics.OffersAcceptedTotal.Inc()
	logger.L().WithFields(logrus.Fields{
		"bundle_offer_id": offerID,
		"bundle_id":       bundleID,
		"deals":           len(deals),
	}).Info("Bundle offer accepted")
	return deals, nil
}

// RefuseOffer отклоняет оффер на бандл. Разрешено автору оффера
// и продавцу бандла.
func (s *BundleService) RefuseOffer(ctx context.Context, offerID, callerID int64) error {
	bundleID, err := s.bundles.GetOfferBundleID(ctx, offerID)
	if err != nil {
		return err
	}

	lease, err := acquireLock(ctx, s.locker, locks.BundleStateKey(bundleID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	var committed []*models.EscrowEvent
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		bundle, err := s.bundles.GetForUpdate(ctx, tx, bundleID)
		if err != nil {
			return err
		}
		offer, err := s.bundles.GetOfferForUpdate(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if callerID != offer.BidderID && callerID != bundle.SellerID {
			return apperror.ErrBundlePermission
		}

		bidder, err := s.users.GetForUpdate(ctx, tx, offer.BidderID)
		if err != nil {
			return err
		}
		s.ledger.Unfreeze(bidder, offer.Price)
		if err := s.users.SaveBalances(ctx, tx, bidder); err != nil {
			return err
		}
		if err := s.bundles.DeleteOffer(ctx, tx, offer.ID); err != nil {
			return err
		}

		counterparty := bundle.SellerID
		if callerID == bundle.SellerID {
			counterparty = offer.BidderID
		}
		event := &models.EscrowEvent{
			BundleOfferID:  &offer.ID,
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
		"bundle_offer_id": offerID,
		"caller_id":       callerID,
	}).Info("Bundle offer refused")
	return nil
}

// ListActive возвращает активные бандлы с фильтром по цене.
func (s *BundleService) ListActive(ctx context.Context, minPrice, maxPrice *int64, limit, offset int) ([]models.Bundle, int, error) {
	return s.bundles.ListActive(ctx, minPrice, maxPrice, normalizeLimit(limit), offset)
}

// ListMine возвращает бандлы продавца.
func (s *BundleService) ListMine(ctx context.Context, sellerID int64, limit, offset int) ([]models.Bundle, int, error) {
	return s.bundles.ListBySeller(ctx, sellerID, normalizeLimit(limit), offset)
}
