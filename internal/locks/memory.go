package locks

import (
	"context"
	"sync"
	"time"

	"github.com/tonmarket/gifts-backend/internal/pkg/apperror"
)

// MemoryLocker - блокировки внутри одного процесса. Для тестов и
// локальной разработки без Redis; в production с несколькими
// инстансами не защищает. TTL соблюдается так же, как в Redis:
// просроченный держатель вытесняется следующим претендентом, а его
// Release ничего не снимает.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]*memoryEntry
}

type memoryEntry struct {
	released chan struct{}
	expires  time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]*memoryEntry)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	deadline := time.Now().Add(wait)

	for {
		l.mu.Lock()
		entry, busy := l.held[key]
		if busy && !entry.expires.After(time.Now()) {
			// Держатель просрочен: вытесняем, его Release станет no-op.
			delete(l.held, key)
			close(entry.released)
			busy = false
		}
		if !busy {
			entry = &memoryEntry{
				released: make(chan struct{}),
				expires:  time.Now().Add(ttl),
			}
			l.held[key] = entry
			l.mu.Unlock()
			return &memoryLease{locker: l, key: key, entry: entry}, nil
		}
		waitCh := entry.released
		ttlLeft := time.Until(entry.expires)
		l.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, apperror.LockTimeout(key)
		}
		if ttlLeft < remaining {
			remaining = ttlLeft
		}

		select {
		case <-ctx.Done():
			return nil, apperror.Wrap(ctx.Err(), apperror.ErrCodeLockTimeout, "ожидание блокировки прервано")
		case <-waitCh:
			// Блокировка освобождена, пробуем снова.
		case <-time.After(remaining):
			// Либо истёк TTL держателя - тогда следующая итерация его
			// вытеснит, либо вышло время ожидания.
		}
	}
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	entry  *memoryEntry
	once   sync.Once
}

// Release снимает блокировку, только если её всё ещё держит этот
// lease: вытесненный по TTL держатель не трогает чужую блокировку.
func (l *memoryLease) Release(_ context.Context) {
	l.once.Do(func() {
		l.locker.mu.Lock()
		defer l.locker.mu.Unlock()
		if current, ok := l.locker.held[l.key]; ok && current == l.entry {
			delete(l.locker.held, l.key)
			close(current.released)
		}
	})
}
