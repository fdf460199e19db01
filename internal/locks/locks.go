// Package locks реализует именованные блокировки ресурсов с арендой
// по времени. Блокировка сериализует все изменяющие операции над
// одним ресурсом (аукционом, подарком, бандлом) между конкурентными
// запросами и процессами. Блокировка берётся ДО открытия транзакции и
// держится до её фиксации; внутри транзакции строки дополнительно
// перечитываются с FOR UPDATE - оба механизма обязательны.
package locks

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/tonmarket/gifts-backend/internal/logger"
	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

// Lease - удерживаемая аренда блокировки.
type Lease interface {
	// Release освобождает блокировку. Безопасно вызывать после
	// истечения аренды - чужая блокировка не будет снята.
	Release(ctx context.Context)
}

// Locker выдаёт эксклюзивные аренды по ключу ресурса.
type Locker interface {
	// Acquire ждёт блокировку не дольше wait и возвращает аренду с
	// временем жизни ttl. При невозможности получить блокировку за
	// wait возвращает ошибку с кодом LOCK_TIMEOUT.
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error)
}

// RedisLocker - распределённая блокировка на Redis: SET NX с TTL
// и уникальным токеном владельца, освобождение через Lua скрипт
// сравнения токена.
type RedisLocker struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	retryInterval time.Duration
}

// NewRedisLocker создаёт locker поверх существующего клиента Redis.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		retryInterval: 50 * time.Millisecond,
	}
}

// NewRedisClient создаёт и проверяет подключение к Redis.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	lockKey := "lock:" + key
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "ошибка сервиса блокировок")
		}
		if ok {
			logger.L().WithField("lock_key", lockKey).Debug("Lock acquired")
			return &redisLease{locker: l, key: lockKey, token: token}, nil
		}

		if time.Now().After(deadline) {
			return nil, apperror.LockTimeout(key)
		}

		select {
		case <-ctx.Done():
			return nil, apperror.Wrap(ctx.Err(), apperror.ErrCodeLockTimeout, "ожидание блокировки прервано")
		case <-time.After(l.retryInterval):
		}
	}
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) {
	// Сравнение токена в Lua: истёкшую и перехваченную другим
	// процессом блокировку снимать нельзя.
	released, err := l.locker.releaseScript.Run(ctx, l.locker.rdb, []string{l.key}, l.token).Result()
	if err != nil {
		logger.L().WithField("lock_key", l.key).WithError(err).Warn("Failed to release lock")
		return
	}
	if n, ok := released.(int64); ok && n == 0 {
		logger.L().WithField("lock_key", l.key).Debug("Lock already expired or taken over")
		return
	}
	logger.L().WithField("lock_key", l.key).Debug("Lock released")
}

// AcquireAll берёт несколько блокировок в переданном порядке.
// Вызывающий обязан передавать ключи в детерминированном (отсортированном)
// порядке, иначе возможен deadlock между конкурентами. При любой ошибке
// уже взятые блокировки освобождаются.
func AcquireAll(ctx context.Context, locker Locker, ttl, wait time.Duration, keys ...string) ([]Lease, error) {
	leases := make([]Lease, 0, len(keys))
	for _, key := range keys {
		lease, err := locker.Acquire(ctx, key, ttl, wait)
		if err != nil {
			ReleaseAll(ctx, leases)
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

// ReleaseAll освобождает аренды в обратном порядке взятия.
func ReleaseAll(ctx context.Context, leases []Lease) {
	for i := len(leases) - 1; i >= 0; i-- {
		leases[i].Release(ctx)
	}
}

// Ключи блокировок. Одно и то же имя ресурса используется и как
// идентификатор хранения, и как ключ блокировки.
func AuctionBidKey(auctionID int64) string      { return fmt.Sprintf("auction:bid:%d", auctionID) }
func AuctionCancelKey(auctionID int64) string   { return fmt.Sprintf("auction:cancel:%d", auctionID) }
func AuctionFinalizeKey(auctionID int64) string { return fmt.Sprintf("auction:finalize:%d", auctionID) }
func GiftStateKey(giftID int64) string          { return fmt.Sprintf("nft:state:%d", giftID) }
func OfferCreateKey(giftID, userID int64) string {
	return fmt.Sprintf("offer:create:%d:%d", giftID, userID)
}
func OfferRefuseKey(offerID int64) string  { return fmt.Sprintf("offer:refuse:%d", offerID) }
func OfferAcceptKey(offerID int64) string  { return fmt.Sprintf("offer:accept:%d", offerID) }
func BundleStateKey(bundleID int64) string { return fmt.Sprintf("bundle:state:%d", bundleID) }
func BundleCreateKey(sellerID int64, signature string) string {
	return fmt.Sprintf("bundle:create:%d:%s", sellerID, signature)
}
