package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonmarket/gifts-backend/internal/ledger"
	"github.com/tonmarket/gifts-backend/internal/locks"
	"github.com/tonmarket/gifts-backend/internal/models"
	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
)

type offerFixture struct {
	svc       *OfferService
	users     *fakeUserStore
	gifts     *fakeGiftStore
	offers    *fakeOfferStore
	deals     *fakeDealStore
	events    *fakeEventStore
	publisher *capturedEvents
}

func newOfferFixture(users []*models.User, gifts []*models.Gift, offers []*models.Offer) *offerFixture {
	f := &offerFixture{
		users:     newFakeUserStore(users...),
		gifts:     newFakeGiftStore(gifts...),
		offers:    newFakeOfferStore(offers...),
		deals:     &fakeDealStore{},
		events:    &fakeEventStore{},
		publisher: &capturedEvents{},
	}
	settings := DefaultSettings()
	settings.LockWait = time.Second
	f.svc = NewOfferService(
		newFakeTxManager(f.users, f.gifts, f.offers, f.deals, f.events),
		locks.NewMemoryLocker(), ledger.New(),
		f.offers, f.users, f.gifts, f.deals, f.events, f.publisher, settings,
	)
	return f
}

func listedGift(id, ownerID, price int64) *models.Gift {
	return &models.Gift{ID: id, OwnerID: ownerID, Price: &price}
}

func TestOfferService_Create_Success(t *testing.T) {
	f := newOfferFixture(
		[]*models.User{{ID: 1}, {ID: 2, Available: 1000}},
		[]*models.Gift{listedGift(10, 1, 100)},
		nil,
	)

	offer, err := f.svc.Create(context.Background(), 10, 2, 60)
	require.NoError(t, err)
	assert.NotZero(t, offer.ID)

	bidder := f.users.users[2]
	assert.Equal(t, int64(940), bidder.Available)
	assert.Equal(t, int64(60), bidder.Frozen)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.EventOfferCreated, f.events.events[0].EventType)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, int64(60), f.publisher.published[0].Amount)
}

// Сценарий из жизни лота с ценой 100: оффер 49 отклоняется (порог 50),
// оффер 60 принимается в эскроу.
func TestOfferService_Create_FloorFiftyPercent(t *testing.T) {
	f := newOfferFixture(
		[]*models.User{{ID: 1}, {ID: 2, Available: 1000}},
		[]*models.Gift{listedGift(10, 1, 100)},
		nil,
	)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 10, 2, 49)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeValidation, err.(*apperror.AppError).Code)
	assert.Zero(t, f.users.users[2].Frozen)

	_, err = f.svc.Create(ctx, 10, 2, 50)
	require.NoError(t, err)
}

func TestOfferService_Create_Rejections(t *testing.T) {
	bundleID := int64(77)
	bundled := listedGift(11, 1, 100)
	bundled.ActiveBundleID = &bundleID
	f := newOfferFixture(
		[]*models.User{{ID: 1}, {ID: 2, Available: 40}},
		[]*models.Gift{
			listedGift(10, 1, 100),
			bundled,
			{ID: 12, OwnerID: 1},
		},
		nil,
	)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 12, 2, 60)
	assert.ErrorIs(t, err, apperror.ErrGiftNotOnSale)

	_, err = f.svc.Create(ctx, 11, 2, 60)
	assert.ErrorIs(t, err, apperror.ErrGiftInBundle)

	_, err = f.svc.Create(ctx, 10, 1, 60)
	assert.ErrorIs(t, err, apperror.ErrCannotOfferOwnGift)

	_, err = f.svc.Create(ctx, 10, 2, 60)
	assert.Equal(t, apperror.ErrCodeInsufficientFunds, err.(*apperror.AppError).Code)
}

func TestOfferService_Create_Duplicate(t *testing.T) {
	f := newOfferFixture(
		[]*models.User{{ID: 1}, {ID: 2, Available: 1000}},
		[]*models.Gift{listedGift(10, 1, 100)},
		nil,
	)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 10, 2, 60)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, 10, 2, 70)
	assert.ErrorIs(t, err, apperror.ErrOfferAlreadyExists)
}

func TestOfferService_Refuse(t *testing.T) {
	f := newOfferFixture(
		[]*models.User{{ID: 1}, {ID: 2, Available: 940, Frozen: 60}, {ID: 3}},
		[]*models.Gift{listedGift(10, 1, 100)},
		[]*models.Offer{{ID: 500, GiftID: 10, BidderID: 2, Price: 60}},
	)
	ctx := context.Background()

	err := f.svc.Refuse(ctx, 500, 3)
	assert.ErrorIs(t, err, apperror.ErrOfferPermission)

	require.NoError(t, f.svc.Refuse(ctx, 500, 1))
	assert.Equal(t, int64(1000), f.users.users[2].Available)
	assert.Zero(t, f.users.users[2].Frozen)
	assert.Empty(t, f.offers.offers)
	assert.Equal(t, []string{models.EventOfferRefused}, f.events.typesSeen())
}

func TestOfferService_Accept_BasePrice(t *testing.T) {
	f := newOfferFixture(
		[]*models.User{{ID: 1, Available: 0}, {ID: 2, Available: 940, Frozen: 60}},
		[]*models.Gift{listedGift(10, 1, 100)},
		[]*models.Offer{{ID: 500, GiftID: 10, BidderID: 2, Price: 60}},
	)
	ctx := context.Background()
	before := f.users.totalFunds()

	deal, err := f.svc.Accept(ctx, 500, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(60), deal.Price)

	// Комиссия маркета 1%: floor(60/100) = 0, продавцу вся цена.
	assert.Equal(t, int64(60), f.users.users[1].Available)
	assert.Zero(t, f.users.users[2].Frozen)
	assert.Equal(t, before, f.users.totalFunds())

	gift := f.gifts.gifts[10]
	assert.Equal(t, int64(2), gift.OwnerID)
	assert.Nil(t, gift.Price)
	assert.Empty(t, f.offers.offers)
}

// Сценарий встречной цены: оффер 60 по лоту за 100, владелец ставит
// counter_price 80, автор принимает - дозамораживается 20 и расчёт
// идёт по 80.
func TestOfferService_Accept_CounterPrice(t *testing.T) {
	f := newOfferFixture(
		[]*models.User{{ID: 1, Available: 0}, {ID: 2, Available: 940, Frozen: 60}},
		[]*models.Gift{listedGift(10, 1, 100)},
		[]*models.Offer{{ID: 500, GiftID: 10, BidderID: 2, Price: 60}},
	)
	ctx := context.Background()

	require.NoError(t, f.svc.SetCounterPrice(ctx, 500, 1, 80))

	deal, err := f.svc.Accept(ctx, 500, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(80), deal.Price)

	// Дозаморозили 20, списали 80; продавцу 80 (комиссия 1% = 0).
	assert.Equal(t, int64(80), f.users.users[1].Available)
	assert.Equal(t, int64(920), f.users.users[2].Available)
	assert.Zero(t, f.users.users[2].Frozen)
}

func TestOfferService_Accept_CounterBelowPrice(t *testing.T) {
	f := newOfferFixture(
		[]*models.User{{ID: 1, Available: 0}, {ID: 2, Available: 940, Frozen: 60}},
		[]*models.Gift{listedGift(10, 1, 100)},
		[]*models.Offer{{ID: 500, GiftID: 10, BidderID: 2, Price: 60}},
	)
	ctx := context.Background()

	require.NoError(t, f.svc.SetCounterPrice(ctx, 500, 1, 55))

	deal, err := f.svc.Accept(ctx, 500, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(55), deal.Price)

	// Излишек 5 вернулся автору до расчёта.
	assert.Equal(t, int64(945), f.users.users[2].Available)
	assert.Zero(t, f.users.users[2].Frozen)
}

func TestOfferService_Accept_Permissions(t *testing.T) {
	f := newOfferFixture(
		[]*models.User{{ID: 1}, {ID: 2, Frozen: 60}, {ID: 3}},
		[]*models.Gift{listedGift(10, 1, 100)},
		[]*models.Offer{{ID: 500, GiftID: 10, BidderID: 2, Price: 60}},
	)
	ctx := context.Background()

	// Посторонний не может принять.
	_, err := f.svc.Accept(ctx, 500, 3)
	assert.ErrorIs(t, err, apperror.ErrOfferPermission)

	// Автор без выставленной встречной цены - тоже.
	_, err = f.svc.Accept(ctx, 500, 2)
	assert.ErrorIs(t, err, apperror.ErrOfferPermission)
}

func TestOfferService_SetCounterPrice_OnlyOwner(t *testing.T) {
	f := newOfferFixture(
		[]*models.User{{ID: 1}, {ID: 2, Frozen: 60}},
		[]*models.Gift{listedGift(10, 1, 100)},
		[]*models.Offer{{ID: 500, GiftID: 10, BidderID: 2, Price: 60}},
	)

	err := f.svc.SetCounterPrice(context.Background(), 500, 2, 80)
	assert.ErrorIs(t, err, apperror.ErrNotGiftOwner)
}

func TestOfferService_CleanupOld(t *testing.T) {
	stale := time.Now().Add(-25 * time.Hour)
	f := newOfferFixture(
		[]*models.User{{ID: 1}, {ID: 2, Available: 900, Frozen: 100}},
		[]*models.Gift{listedGift(10, 1, 100), listedGift(11, 1, 100)},
		[]*models.Offer{
			{ID: 500, GiftID: 10, BidderID: 2, Price: 60, UpdatedAt: stale},
			{ID: 501, GiftID: 11, BidderID: 2, Price: 40, UpdatedAt: stale},
		},
	)

	removed, err := f.svc.CleanupOld(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// Оба возврата одному автору учтены без потери обновлений.
	assert.Equal(t, int64(1000), f.users.users[2].Available)
	assert.Zero(t, f.users.users[2].Frozen)
	assert.Empty(t, f.offers.offers)
	assert.ElementsMatch(t,
		[]string{models.EventAutoCancelExpired, models.EventAutoCancelExpired},
		f.events.typesSeen())
}

func TestOfferService_CleanupOld_KeepsFresh(t *testing.T) {
	f := newOfferFixture(
		[]*models.User{{ID: 1}, {ID: 2, Frozen: 60}},
		[]*models.Gift{listedGift(10, 1, 100)},
		[]*models.Offer{{ID: 500, GiftID: 10, BidderID: 2, Price: 60, UpdatedAt: time.Now()}},
	)

	removed, err := f.svc.CleanupOld(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Len(t, f.offers.offers, 1)
}
