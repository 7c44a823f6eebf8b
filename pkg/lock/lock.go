package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLockTimeout 在 ctx 到期前没能拿到锁
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Locker 提供按 key 的互斥。Acquire 阻塞到拿到锁或 ctx 结束，返回的
// release 必须调用且只调用一次。
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func timeoutError(key string, cause error) error {
	return fmt.Errorf("%w: %s (%v)", ErrLockTimeout, key, cause)
}

// MemoryLocker 进程内实现，每个 key 一个容量为 1 的 channel
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, timeoutError(key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
