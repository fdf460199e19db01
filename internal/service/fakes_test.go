package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tonmarket/gifts-backend/internal/models"
	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
)

// Фейки хранилищ для тестов движков. Состояние держится в памяти;
// менеджер транзакций перед fn(nil) снимает снимки зарегистрированных
// хранилищ и откатывает их при ошибке, моделируя rollback настоящей
// транзакции.

// txSnapshotter - хранилище, умеющее откатиться к снимку состояния.
type txSnapshotter interface {
	snapshot() func()
}

type fakeTxManager struct {
	stores []txSnapshotter
}

func newFakeTxManager(stores ...txSnapshotter) *fakeTxManager {
	return &fakeTxManager{stores: stores}
}

func (m *fakeTxManager) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	restores := make([]func(), 0, len(m.stores))
	for _, s := range m.stores {
		restores = append(restores, s.snapshot())
	}
	if err := fn(nil); err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		return err
	}
	return nil
}

type fakeUserStore struct {
	users map[int64]*models.User
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[int64]*models.User)}
	for _, u := range users {
		copied := *u
		s.users[u.ID] = &copied
	}
	return s
}

func (s *fakeUserStore) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, apperror.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *fakeUserStore) SaveBalances(ctx context.Context, tx *sqlx.Tx, user *models.User) error {
	stored, ok := s.users[user.ID]
	if !ok {
		return apperror.ErrUserNotFound
	}
	stored.Available = user.Available
	stored.Frozen = user.Frozen
	return nil
}

func (s *fakeUserStore) snapshot() func() {
	saved := make(map[int64]*models.User, len(s.users))
	for id, u := range s.users {
		copied := *u
		saved[id] = &copied
	}
	return func() { s.users = saved }
}

// totalFunds - сумма available+frozen по всем пользователям, для
// проверки сохранения баланса.
func (s *fakeUserStore) totalFunds() int64 {
	var total int64
	for _, u := range s.users {
		total += u.Available + u.Frozen
	}
	return total
}

type fakeGiftStore struct {
	gifts map[int64]*models.Gift
}

func newFakeGiftStore(gifts ...*models.Gift) *fakeGiftStore {
	s := &fakeGiftStore{gifts: make(map[int64]*models.Gift)}
	for _, g := range gifts {
		copied := *g
		s.gifts[g.ID] = &copied
	}
	return s
}

func (s *fakeGiftStore) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Gift, error) {
	gift, ok := s.gifts[id]
	if !ok {
		return nil, apperror.ErrGiftNotFound
	}
	copied := *gift
	return &copied, nil
}

func (s *fakeGiftStore) ListForUpdate(ctx context.Context, tx *sqlx.Tx, ids []int64) ([]models.Gift, error) {
	gifts := make([]models.Gift, 0, len(ids))
	for _, id := range ids {
		if gift, ok := s.gifts[id]; ok {
			gifts = append(gifts, *gift)
		}
	}
	return gifts, nil
}

func (s *fakeGiftStore) Save(ctx context.Context, tx *sqlx.Tx, gift *models.Gift) error {
	copied := *gift
	s.gifts[gift.ID] = &copied
	return nil
}

func (s *fakeGiftStore) snapshot() func() {
	saved := make(map[int64]*models.Gift, len(s.gifts))
	for id, g := range s.gifts {
		copied := *g
		saved[id] = &copied
	}
	return func() { s.gifts = saved }
}

type fakeAuctionStore struct {
	auctions map[int64]*models.Auction
	bids     map[int64]*models.Bid
	nextID   int64
}

func newFakeAuctionStore(auctions ...*models.Auction) *fakeAuctionStore {
	s := &fakeAuctionStore{
		auctions: make(map[int64]*models.Auction),
		bids:     make(map[int64]*models.Bid),
		nextID:   1000,
	}
	for _, a := range auctions {
		copied := *a
		s.auctions[a.ID] = &copied
	}
	return s
}

func (s *fakeAuctionStore) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Auction, error) {
	auction, ok := s.auctions[id]
	if !ok {
		return nil, apperror.ErrAuctionNotFound
	}
	copied := *auction
	return &copied, nil
}

func (s *fakeAuctionStore) ExistsForGift(ctx context.Context, tx *sqlx.Tx, giftID int64) (bool, error) {
	for _, a := range s.auctions {
		if a.GiftID == giftID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeAuctionStore) Create(ctx context.Context, tx *sqlx.Tx, auction *models.Auction) error {
	s.nextID++
	auction.ID = s.nextID
	auction.CreatedAt = time.Now()
	copied := *auction
	s.auctions[auction.ID] = &copied
	return nil
}

func (s *fakeAuctionStore) Delete(ctx context.Context, tx *sqlx.Tx, id int64) error {
	delete(s.auctions, id)
	return nil
}

func (s *fakeAuctionStore) SetLastBid(ctx context.Context, tx *sqlx.Tx, id int64, amount int64) error {
	if auction, ok := s.auctions[id]; ok {
		auction.LastBid = &amount
	}
	return nil
}

func (s *fakeAuctionStore) ListBidsForUpdate(ctx context.Context, tx *sqlx.Tx, auctionID int64) ([]models.Bid, error) {
	var bids []models.Bid
	for _, b := range s.bids {
		if b.AuctionID == auctionID {
			bids = append(bids, *b)
		}
	}
	return bids, nil
}

func (s *fakeAuctionStore) InsertBid(ctx context.Context, tx *sqlx.Tx, bid *models.Bid) error {
	s.nextID++
	bid.ID = s.nextID
	bid.CreatedAt = time.Now()
	copied := *bid
	s.bids[bid.ID] = &copied
	return nil
}

func (s *fakeAuctionStore) DeleteBid(ctx context.Context, tx *sqlx.Tx, bidID int64) error {
	delete(s.bids, bidID)
	return nil
}

func (s *fakeAuctionStore) ListExpired(ctx context.Context, moment time.Time, limit int) ([]int64, error) {
	var ids []int64
	for _, a := range s.auctions {
		if !a.ExpiresAt.After(moment) && len(ids) < limit {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (s *fakeAuctionStore) ListActive(ctx context.Context, limit, offset int) ([]models.Auction, int, error) {
	var auctions []models.Auction
	now := time.Now()
	for _, a := range s.auctions {
		if a.ExpiresAt.After(now) {
			auctions = append(auctions, *a)
		}
	}
	return auctions, len(auctions), nil
}

func (s *fakeAuctionStore) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]models.Auction, int, error) {
	var auctions []models.Auction
	for _, a := range s.auctions {
		if a.OwnerID == ownerID {
			auctions = append(auctions, *a)
		}
	}
	return auctions, len(auctions), nil
}

func (s *fakeAuctionStore) snapshot() func() {
	savedAuctions := make(map[int64]*models.Auction, len(s.auctions))
	for id, a := range s.auctions {
		copied := *a
		savedAuctions[id] = &copied
	}
	savedBids := make(map[int64]*models.Bid, len(s.bids))
	for id, b := range s.bids {
		copied := *b
		savedBids[id] = &copied
	}
	savedNextID := s.nextID
	return func() {
		s.auctions = savedAuctions
		s.bids = savedBids
		s.nextID = savedNextID
	}
}

type fakeDealStore struct {
	deals  []models.Deal
	nextID int64

	// failCreate моделирует сбой записи сделки посреди расчёта.
	failCreate error
}

func (s *fakeDealStore) Create(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error {
	if s.failCreate != nil {
		return s.failCreate
	}
	s.nextID++
	deal.ID = s.nextID
	deal.CreatedAt = time.Now()
	s.deals = append(s.deals, *deal)
	return nil
}

func (s *fakeDealStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Deal, int, error) {
	var deals []models.Deal
	for _, d := range s.deals {
		if d.BuyerID == userID || d.SellerID == userID {
			deals = append(deals, d)
		}
	}
	return deals, len(deals), nil
}

func (s *fakeDealStore) snapshot() func() {
	saved := append([]models.Deal(nil), s.deals...)
	savedNextID := s.nextID
	return func() {
		s.deals = saved
		s.nextID = savedNextID
	}
}

type fakeEventStore struct {
	events []models.EscrowEvent
	nextID int64
}

func (s *fakeEventStore) Append(ctx context.Context, tx *sqlx.Tx, event *models.EscrowEvent) error {
	s.nextID++
	event.ID = s.nextID
	event.CreatedAt = time.Now()
	s.events = append(s.events, *event)
	return nil
}

func (s *fakeEventStore) snapshot() func() {
	saved := append([]models.EscrowEvent(nil), s.events...)
	savedNextID := s.nextID
	return func() {
		s.events = saved
		s.nextID = savedNextID
	}
}

func (s *fakeEventStore) typesSeen() []string {
	types := make([]string, 0, len(s.events))
	for _, e := range s.events {
		types = append(types, e.EventType)
	}
	return types
}

type fakeOfferStore struct {
	offers map[int64]*models.Offer
	nextID int64
}

func newFakeOfferStore(offers ...*models.Offer) *fakeOfferStore {
	s := &fakeOfferStore{offers: make(map[int64]*models.Offer), nextID: 5000}
	for _, o := range offers {
		copied := *o
		s.offers[o.ID] = &copied
	}
	return s
}

func (s *fakeOfferStore) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Offer, error) {
	offer, ok := s.offers[id]
	if !ok {
		return nil, apperror.ErrOfferNotFound
	}
	copied := *offer
	return &copied, nil
}

func (s *fakeOfferStore) GetGiftID(ctx context.Context, offerID int64) (int64, error) {
	offer, ok := s.offers[offerID]
	if !ok {
		return 0, apperror.ErrOfferNotFound
	}
	return offer.GiftID, nil
}

func (s *fakeOfferStore) Exists(ctx context.Context, tx *sqlx.Tx, giftID, bidderID int64) (bool, error) {
	for _, o := range s.offers {
		if o.GiftID == giftID && o.BidderID == bidderID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeOfferStore) Create(ctx context.Context, tx *sqlx.Tx, offer *models.Offer) error {
	s.nextID++
	offer.ID = s.nextID
	offer.CreatedAt = time.Now()
	offer.UpdatedAt = offer.CreatedAt
	copied := *offer
	s.offers[offer.ID] = &copied
	return nil
}

func (s *fakeOfferStore) SetCounterPrice(ctx context.Context, tx *sqlx.Tx, id int64, price int64) error {
	offer, ok := s.offers[id]
	if !ok {
		return apperror.ErrOfferNotFound
	}
	offer.CounterPrice = &price
	offer.UpdatedAt = time.Now()
	return nil
}

func (s *fakeOfferStore) Delete(ctx context.Context, tx *sqlx.Tx, id int64) error {
	delete(s.offers, id)
	return nil
}

func (s *fakeOfferStore) ListForGiftsForUpdate(ctx context.Context, tx *sqlx.Tx, giftIDs []int64) ([]models.Offer, error) {
	var offers []models.Offer
	for _, o := range s.offers {
		for _, id := range giftIDs {
			if o.GiftID == id {
				offers = append(offers, *o)
				break
			}
		}
	}
	return offers, nil
}

func (s *fakeOfferStore) ListOlderThanForUpdate(ctx context.Context, tx *sqlx.Tx, cutoff time.Time) ([]models.Offer, error) {
	var offers []models.Offer
	for _, o := range s.offers {
		if o.UpdatedAt.Before(cutoff) {
			offers = append(offers, *o)
		}
	}
	return offers, nil
}

func (s *fakeOfferStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Offer, int, error) {
	var offers []models.Offer
	for _, o := range s.offers {
		if o.BidderID == userID {
			offers = append(offers, *o)
		}
	}
	return offers, len(offers), nil
}

func (s *fakeOfferStore) snapshot() func() {
	saved := make(map[int64]*models.Offer, len(s.offers))
	for id, o := range s.offers {
		copied := *o
		saved[id] = &copied
	}
	savedNextID := s.nextID
	return func() {
		s.offers = saved
		s.nextID = savedNextID
	}
}

type fakeBundleStore struct {
	bundles map[int64]*models.Bundle
	items   map[int64][]int64
	offers  map[int64]*models.BundleOffer
	nextID  int64
}

func newFakeBundleStore(bundles ...*models.Bundle) *fakeBundleStore {
	s := &fakeBundleStore{
		bundles: make(map[int64]*models.Bundle),
		items:   make(map[int64][]int64),
		offers:  make(map[int64]*models.BundleOffer),
		nextID:  7000,
	}
	for _, b := range bundles {
		copied := *b
		s.bundles[b.ID] = &copied
	}
	return s
}

func (s *fakeBundleStore) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Bundle, error) {
	bundle, ok := s.bundles[id]
	if !ok {
		return nil, apperror.ErrBundleNotFound
	}
	copied := *bundle
	return &copied, nil
}

func (s *fakeBundleStore) Create(ctx context.Context, tx *sqlx.Tx, bundle *models.Bundle) error {
	s.nextID++
	bundle.ID = s.nextID
	bundle.Status = models.BundleStatusActive
	bundle.CreatedAt = time.Now()
	copied := *bundle
	s.bundles[bundle.ID] = &copied
	return nil
}

func (s *fakeBundleStore) AddItems(ctx context.Context, tx *sqlx.Tx, bundleID int64, giftIDs []int64) error {
	s.items[bundleID] = append(s.items[bundleID], giftIDs...)
	return nil
}

func (s *fakeBundleStore) ItemIDs(ctx context.Context, tx *sqlx.Tx, bundleID int64) ([]int64, error) {
	return s.items[bundleID], nil
}

func (s *fakeBundleStore) SetStatus(ctx context.Context, tx *sqlx.Tx, id int64, status string, cancelledAt *time.Time) error {
	bundle, ok := s.bundles[id]
	if !ok {
		return apperror.ErrBundleNotFound
	}
	bundle.Status = status
	bundle.CancelledAt = cancelledAt
	return nil
}

func (s *fakeBundleStore) GetOfferForUpdate(ctx context.Context, tx *sqlx.Tx, offerID int64) (*models.BundleOffer, error) {
	offer, ok := s.offers[offerID]
	if !ok {
		return nil, apperror.ErrBundleOfferNotFound
	}
	copied := *offer
	return &copied, nil
}

func (s *fakeBundleStore) GetOfferBundleID(ctx context.Context, offerID int64) (int64, error) {
	offer, ok := s.offers[offerID]
	if !ok {
		return 0, apperror.ErrBundleOfferNotFound
	}
	return offer.BundleID, nil
}

func (s *fakeBundleStore) OfferExists(ctx context.Context, tx *sqlx.Tx, bundleID, bidderID int64) (bool, error) {
	for _, o := range s.offers {
		if o.BundleID == bundleID && o.BidderID == bidderID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeBundleStore) CreateOffer(ctx context.Context, tx *sqlx.Tx, offer *models.BundleOffer) error {
	s.nextID++
	offer.ID = s.nextID
	offer.CreatedAt = time.Now()
	copied := *offer
	s.offers[offer.ID] = &copied
	return nil
}

func (s *fakeBundleStore) DeleteOffer(ctx context.Context, tx *sqlx.Tx, offerID int64) error {
	delete(s.offers, offerID)
	return nil
}

func (s *fakeBundleStore) ListOffersForUpdate(ctx context.Context, tx *sqlx.Tx, bundleID int64) ([]models.BundleOffer, error) {
	var offers []models.BundleOffer
	for _, o := range s.offers {
		if o.BundleID == bundleID {
			offers = append(offers, *o)
		}
	}
	return offers, nil
}

func (s *fakeBundleStore) ListActive(ctx context.Context, minPrice, maxPrice *int64, limit, offset int) ([]models.Bundle, int, error) {
	var bundles []models.Bundle
	for _, b := range s.bundles {
		if b.Status != models.BundleStatusActive {
			continue
		}
		if minPrice != nil && b.Price < *minPrice {
			continue
		}
		if maxPrice != nil && b.Price > *maxPrice {
			continue
		}
		bundles = append(bundles, *b)
	}
	return bundles, len(bundles), nil
}

func (s *fakeBundleStore) ListBySeller(ctx context.Context, sellerID int64, limit, offset int) ([]models.Bundle, int, error) {
	var bundles []models.Bundle
	for _, b := range s.bundles {
		if b.SellerID == sellerID {
			bundles = append(bundles, *b)
		}
	}
	return bundles, len(bundles), nil
}

func (s *fakeBundleStore) snapshot() func() {
	savedBundles := make(map[int64]*models.Bundle, len(s.bundles))
	for id, b := range s.bundles {
		copied := *b
		savedBundles[id] = &copied
	}
	savedItems := make(map[int64][]int64, len(s.items))
	for id, ids := range s.items {
		savedItems[id] = append([]int64(nil), ids...)
	}
	savedOffers := make(map[int64]*models.BundleOffer, len(s.offers))
	for id, o := range s.offers {
		copied := *o
		savedOffers[id] = &copied
	}
	savedNextID := s.nextID
	return func() {
		s.bundles = savedBundles
		s.items = savedItems
		s.offers = savedOffers
		s.nextID = savedNextID
	}
}

type capturedEvents struct {
	published []models.EscrowEvent
}

func (c *capturedEvents) Publish(ctx context.Context, event *models.EscrowEvent) {
	c.published = append(c.published, *event)
}
