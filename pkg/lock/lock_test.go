package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "project:1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestMemoryLocker_Timeout(t *testing.T) {
	l := NewMemoryLocker()
	release, err := l.Acquire(context.Background(), "project:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "project:1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	// 其他 key 不受影响
	other, err := l.Acquire(context.Background(), "project:2")
	require.NoError(t, err)
	other()

	release()
	release() // 重复释放无副作用
	again, err := l.Acquire(context.Background(), "project:1")
	require.NoError(t, err)
	again()
}
