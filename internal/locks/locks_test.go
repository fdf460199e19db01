package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "auction:bid:1", time.Second, 10*time.Millisecond)
	require.NoError(t, err)

	// Второй захват того же ключа должен упереться в таймаут ожидания.
	_, err = locker.Acquire(ctx, "auction:bid:1", time.Second, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperror.IsLockTimeout(err))

	// Другой ключ свободен.
	other, err := locker.Acquire(ctx, "auction:bid:2", time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	other.Release(ctx)

	lease.Release(ctx)

	// После освобождения ключ снова доступен.
	again, err := locker.Acquire(ctx, "auction:bid:1", time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	again.Release(ctx)
}

func TestMemoryLocker_WaitsForRelease(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "bundle:state:7", time.Second, 10*time.Millisecond)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		second, err := locker.Acquire(ctx, "bundle:state:7", time.Second, 2*time.Second)
		assert.NoError(t, err)
		if second != nil {
			second.Release(ctx)
		}
	}()

	time.Sleep(30 * time.Millisecond)
	lease.Release(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ожидающий захват не получил блокировку после освобождения")
	}
}

func TestMemoryLocker_ExpiredHolderIsEvicted(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "auction:finalize:9", 20*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)

	// Пока TTL держателя не истёк, ключ занят.
	_, err = locker.Acquire(ctx, "auction:finalize:9", time.Second, 5*time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperror.IsLockTimeout(err))

	// После истечения TTL претендент вытесняет просроченного держателя.
	fresh, err := locker.Acquire(ctx, "auction:finalize:9", time.Second, time.Second)
	require.NoError(t, err)

	// Release просроченного lease не должен снять чужую блокировку.
	stale.Release(ctx)
	_, err = locker.Acquire(ctx, "auction:finalize:9", time.Second, 5*time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperror.IsLockTimeout(err))

	fresh.Release(ctx)
}

func TestMemoryLocker_SerializesConcurrentSections(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	var inSection int
	var maxInSection int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := locker.Acquire(ctx, "nft:state:42", time.Second, 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			defer lease.Release(ctx)

			mu.Lock()
			inSection++
			if inSection > maxInSection {
				maxInSection = inSection
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inSection--
			mu.Unlock()
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, maxInSection, "в критической секции одновременно был больше одного захвата")
}

func TestAcquireAll_ReleasesOnFailure(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	// Занимаем третий ключ, чтобы пакетный захват провалился на нём.
	blocker, err := locker.Acquire(ctx, "nft:state:3", time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	defer blocker.Release(ctx)

	_, err = AcquireAll(ctx, locker, time.Second, 20*time.Millisecond,
		"nft:state:1", "nft:state:2", "nft:state:3")
	require.Error(t, err)
	assert.True(t, apperror.IsLockTimeout(err))

	// Первые два ключа должны быть освобождены после провала.
	l1, err := locker.Acquire(ctx, "nft:state:1", time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	l1.Release(ctx)
	l2, err := locker.Acquire(ctx, "nft:state:2", time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	l2.Release(ctx)
}

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "auction:bid:5", AuctionBidKey(5))
	assert.Equal(t, "offer:create:7:9", OfferCreateKey(7, 9))
	assert.Equal(t, "bundle:create:3:abc", BundleCreateKey(3, "abc"))
	assert.Equal(t, "nft:state:11", GiftStateKey(11))
}
