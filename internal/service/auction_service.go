package service

import (
	"context"
	"errors"
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

// AuctionStore - операции хранилища, нужные аукционному движку.
type AuctionStore interface {
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Auction, error)
	ExistsForGift(ctx context.Context, tx *sqlx.Tx, giftID int64) (bool, error)
	Create(ctx context.Context, tx *sqlx.Tx, auction *models.Auction) error
	Delete(ctx context.Context, tx *sqlx.Tx, id int64) error
	SetLastBid(ctx context.Context, tx *sqlx.Tx, id int64, amount int64) error
	ListBidsForUpdate(ctx context.Context, tx *sqlx.Tx, auctionID int64) ([]models.Bid, error)
	InsertBid(ctx context.Context, tx *sqlx.Tx, bid *models.Bid) error
	DeleteBid(ctx context.Context, tx *sqlx.Tx, bidID int64) error
	ListExpired(ctx context.Context, moment time.Time, limit int) ([]int64, error)
	ListActive(ctx context.Context, limit, offset int) ([]models.Auction, int, error)
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]models.Auction, int, error)
}

// AuctionService - аукционный движок: таймированные торги по одному
// подарку с единственной живой ставкой. Все изменяющие операции
// сериализуются блокировкой ресурса и выполняются в одной транзакции.
type AuctionService struct {
	tx       common.TxManager
	locker   locks.Locker
	ledger   *ledger.Ledger
	auctions AuctionStore
	users    UserStore
	gifts    GiftStore
	deals    DealStore
	settings Settings
}

func NewAuctionService(
	tx common.TxManager,
	locker locks.Locker,
	ldg *ledger.Ledger,
	auctions AuctionStore,
	users UserStore,
	gifts GiftStore,
	deals DealStore,
	settings Settings,
) *AuctionService {
	return &AuctionService{
		tx:       tx,
		locker:   locker,
		ledger:   ldg,
		auctions: auctions,
		users:    users,
		gifts:    gifts,
		deals:    deals,
		settings: settings,
	}
}

// Create выставляет подарок на аукцион. Подарок не должен быть
// в прямой продаже, в бандле или на другом активном аукционе.
func (s *AuctionService) Create(ctx context.Context, ownerID, giftID, startBid int64, stepPercent int, term time.Duration) (*models.Auction, error) {
	if startBid <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "стартовая ставка должна быть положительной")
	}
	if stepPercent <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "шаг аукциона должен быть положительным")
	}
	if term <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "срок аукциона должен быть положительным")
	}

	lease, err := acquireLock(ctx, s.locker, locks.GiftStateKey(giftID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	var auction *models.Auction
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		gift, err := s.gifts.GetForUpdate(ctx, tx, giftID)
		if err != nil {
			return err
		}
		if gift.OwnerID != ownerID {
			return apperror.ErrNotGiftOwner
		}
		if gift.ActiveBundleID != nil {
			return apperror.ErrGiftInBundle
		}
		if gift.Price != nil {
			return apperror.ErrGiftNotAvailable
		}
		exists, err := s.auctions.ExistsForGift(ctx, tx, giftID)
		if err != nil {
			return err
		}
		if exists {
			return apperror.ErrAuctionAlreadyExists
		}

		auction = &models.Auction{
			GiftID:      giftID,
			OwnerID:     ownerID,
			StartBid:    startBid,
			StepPercent: stepPercent,
			ExpiresAt:   time.Now().UTC().Add(term),
		}
		return s.auctions.Create(ctx, tx, auction)
	})
	if err != nil {
		return nil, err
	}

	logger.L().WithFields(logrus.Fields{
		"auction_id": auction.ID,
		"gift_id":    giftID,
		"owner_id":   ownerID,
		"start_bid":  startBid,
	}).Info("Auction created")
	return auction, nil
}

// minNextBid считает минимальную проходную ставку: стартовую, если
// ставок ещё не было, иначе предыдущую плюс шаг в процентах от неё
// (целочисленно, с округлением приращения вниз).
func minNextBid(auction *models.Auction) int64 {
	if auction.LastBid == nil {
		return auction.StartBid
	}
	last := *auction.LastBid
	return last + last*int64(auction.StepPercent)/100
}

// PlaceBid ставит на аукцион. Новая проходная ставка в одной
// транзакции возвращает средства предыдущему участнику, удаляет его
// ставку, замораживает сумму нового участника и обновляет last_bid.
func (s *AuctionService) PlaceBid(ctx context.Context, auctionID, bidderID, amount int64) (*models.Bid, error) {
	lease, err := acquireLock(ctx, s.locker, locks.AuctionBidKey(auctionID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	var bid *models.Bid
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		auction, err := s.auctions.GetForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		if auction.Expired(time.Now().UTC()) {
			metrics.BidsRejectedTotal.WithLabelValues("expired").Inc()
			return apperror.ErrAuctionExpired
		}
		if auction.OwnerID == bidderID {
			metrics.BidsRejectedTotal.WithLabelValues("own_auction").Inc()
			return apperror.ErrCannotBidOwnAuction
		}
		if minBid := minNextBid(auction); amount < minBid {
			metrics.BidsRejectedTotal.WithLabelValues("too_low").Inc()
			return apperror.BidTooLow(amount, minBid)
		}

		bidder, err := s.users.GetForUpdate(ctx, tx, bidderID)
		if err != nil {
			return err
		}
		if bidder.Available < amount {
			metrics.BidsRejectedTotal.WithLabelValues("insufficient_funds").Inc()
			return apperror.InsufficientBalance(amount, bidder.Available)
		}

		prevBids, err := s.auctions.ListBidsForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		for _, prev := range prevBids {
			// Перебивающий собственную ставку участник - тот же
			// объект пользователя, иначе возникнут две копии строки.
			loser := bidder
			if prev.BidderID != bidderID {
				loser, err = s.users.GetForUpdate(ctx, tx, prev.BidderID)
				if err != nil {
					return err
				}
			}
			s.ledger.Unfreeze(loser, prev.Amount)
			if err := s.users.SaveBalances(ctx, tx, loser); err != nil {
				return err
			}
			if err := s.auctions.DeleteBid(ctx, tx, prev.ID); err != nil {
				return err
			}
		}

		if err := s.ledger.Freeze(bidder, amount); err != nil {
			return err
		}
		if err := s.users.SaveBalances(ctx, tx, bidder); err != nil {
			return err
		}

		bid = &models.Bid{AuctionID: auctionID, BidderID: bidderID, Amount: amount}
		if err := s.auctions.InsertBid(ctx, tx, bid); err != nil {
			return err
		}
		return s.auctions.SetLastBid(ctx, tx, auctionID, amount)
	})
	if err != nil {
		return nil, err
	}

	metrics.BidsPlacedTotal.Inc()
	logger.L().WithFields(logrus.Fields{
		"auction_id": auctionID,
		"bidder_id":  bidderID,
		"amount":     amount,
	}).Info("Bid placed")
	return bid, nil
}

// Cancel отменяет аукцион владельцем в любой момент: возвращает все
// живые ставки и удаляет аукцион.
func (s *AuctionService) Cancel(ctx context.Context, auctionID, callerID int64) error {
	lease, err := acquireLock(ctx, s.locker, locks.AuctionCancelKey(auctionID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		auction, err := s.auctions.GetForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		if auction.OwnerID != callerID {
			return apperror.ErrNotAuctionOwner
		}

		bids, err := s.auctions.ListBidsForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		for _, bid := range bids {
			bidder, err := s.users.GetForUpdate(ctx, tx, bid.BidderID)
			if err != nil {
				return err
			}
			s.ledger.Unfreeze(bidder, bid.Amount)
			if err := s.users.SaveBalances(ctx, tx, bidder); err != nil {
				return err
			}
			if err := s.auctions.DeleteBid(ctx, tx, bid.ID); err != nil {
				return err
			}
		}
		return s.auctions.Delete(ctx, tx, auctionID)
	})
	if err != nil {
		return err
	}

	logger.L().WithFields(logrus.Fields{
		"auction_id": auctionID,
		"owner_id":   callerID,
	}).Info("Auction cancelled")
	return nil
}

// Delete удаляет аукцион без ставок. При наличии ставок операция
// отклоняется - владелец должен использовать Cancel.
func (s *AuctionService) Delete(ctx context.Context, auctionID, callerID int64) error {
	lease, err := acquireLock(ctx, s.locker, locks.AuctionCancelKey(auctionID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		auction, err := s.auctions.GetForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		if auction.OwnerID != callerID {
			return apperror.ErrNotAuctionOwner
		}
		bids, err := s.auctions.ListBidsForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		if len(bids) > 0 {
			return apperror.ErrAuctionHasBids
		}
		return s.auctions.Delete(ctx, tx, auctionID)
	})
	if err != nil {
		return err
	}

	logger.L().WithField("auction_id", auctionID).Info("Auction deleted")
	return nil
}

// FinalizeOutcome - результат завершения одного аукциона.
type FinalizeOutcome struct {
	AuctionID int64  `json:"auction_id"`
	Outcome   string `json:"outcome"` // sold | no_bids | already_finalized | error
	DealID    *int64 `json:"deal_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Finalize завершает истёкший аукцион. Вызвать может кто угодно.
// При наличии ставки: расчёт по аукционной комиссии, переход владения,
// запись сделки, удаление ставки и аукциона. Без ставки аукцион просто
// удаляется. Повторный вызов по уже завершённому аукциону возвращает
// not-found, что трактуется как "уже завершён".
func (s *AuctionService) Finalize(ctx context.Context, auctionID int64) (*FinalizeOutcome, error) {
	lease, err := acquireLock(ctx, s.locker, locks.AuctionFinalizeKey(auctionID), s.settings.LockTTL, s.settings.LockWait)
	if err != nil {
		return nil, err
	}
	defer lease.Release(ctx)

	outcome := &FinalizeOutcome{AuctionID: auctionID}
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		auction, err := s.auctions.GetForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		if !auction.Expired(time.Now().UTC()) {
			return apperror.ErrAuctionNotExpired
		}

		bids, err := s.auctions.ListBidsForUpdate(ctx, tx, auctionID)
		if err != nil {
			return err
		}
		if len(bids) == 0 {
			outcome.Outcome = "no_bids"
			return s.auctions.Delete(ctx, tx, auctionID)
		}

		winning := bids[0]
		buyer, err := s.users.GetForUpdate(ctx, tx, winning.BidderID)
		if err != nil {
			return err
		}
		seller, err := s.users.GetForUpdate(ctx, tx, auction.OwnerID)
		if err != nil {
			return err
		}
		gift, err := s.gifts.GetForUpdate(ctx, tx, auction.GiftID)
		if err != nil {
			return err
		}

		_, commission := s.ledger.Settle(buyer, seller, winning.Amount, s.settings.AuctionCommissionPercent)
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

		deal := &models.Deal{
			GiftID:   gift.ID,
			SellerID: seller.ID,
			BuyerID:  buyer.ID,
			Price:    winning.Amount,
		}
		if err := s.deals.Create(ctx, tx, deal); err != nil {
			return err
		}
		if err := s.auctions.DeleteBid(ctx, tx, winning.ID); err != nil {
			return err
		}
		if err := s.auctions.Delete(ctx, tx, auctionID); err != nil {
			return err
		}

		metrics.CommissionNanotonsTotal.Add(float64(commission))
		outcome.Outcome = "sold"
		outcome.DealID = &deal.ID
		return nil
	})
	if err != nil {
		// "Уже завершён" - это именно отсутствие аукциона. Пропажа
		// пользователя или подарка при живом аукционе - порча данных,
		// её нельзя глотать как успех.
		if errors.Is(err, apperror.ErrAuctionNotFound) {
			outcome.Outcome = "already_finalized"
			return outcome, nil
		}
		return nil, err
	}

	metrics.AuctionsFinalizedTotal.WithLabelValues(outcome.Outcome).Inc()
	logger.L().WithFields(logrus.Fields{
		"auction_id": auctionID,
		"outcome":    outcome.Outcome,
	}).Info("Auction finalized")
	return outcome, nil
}

// FinalizeExpired завершает до limit истёкших аукционов. Сбой одного
// аукциона не прерывает пакет: ошибка фиксируется в его результате.
func (s *AuctionService) FinalizeExpired(ctx context.Context, limit int) ([]FinalizeOutcome, error) {
	ids, err := s.auctions.ListExpired(ctx, time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}

	outcomes := make([]FinalizeOutcome, 0, len(ids))
	for _, id := range ids {
		outcome, err := s.Finalize(ctx, id)
		if err != nil {
			metrics.SweepProcessedTotal.WithLabelValues("finalize_expired", "error").Inc()
			logger.L().WithField("auction_id", id).WithError(err).Warn("Failed to finalize expired auction")
			outcomes = append(outcomes, FinalizeOutcome{AuctionID: id, Outcome: "error", Error: err.Error()})
			continue
		}
		metrics.SweepProcessedTotal.WithLabelValues("finalize_expired", outcome.Outcome).Inc()
		outcomes = append(outcomes, *outcome)
	}
	return outcomes, nil
}

// ListDeals возвращает сделки пользователя с признаком стороны.
func (s *AuctionService) ListDeals(ctx context.Context, userID int64, limit, offset int) ([]DealView, int, error) {
	limit = normalizeLimit(limit)
	deals, total, err := s.deals.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	views := make([]DealView, 0, len(deals))
	for _, deal := range deals {
		views = append(views, DealView{Deal: deal, IsBuy: deal.BuyerID == userID})
	}
	return views, total, nil
}

// DealView - сделка с точки зрения конкретного пользователя.
type DealView struct {
	models.Deal
	IsBuy bool `json:"is_buy"`
}

// ListActive возвращает неистёкшие аукционы с пагинацией.
func (s *AuctionService) ListActive(ctx context.Context, limit, offset int) ([]models.Auction, int, error) {
	return s.auctions.ListActive(ctx, normalizeLimit(limit), offset)
}

// ListMine возвращает аукционы пользователя с пагинацией.
func (s *AuctionService) ListMine(ctx context.Context, ownerID int64, limit, offset int) ([]models.Auction, int, error) {
	return s.auctions.ListByOwner(ctx, ownerID, normalizeLimit(limit), offset)
}
