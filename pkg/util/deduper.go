package util

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OnceClaimer 记录某个 key 是否已经处理过
type OnceClaimer interface {
	// AcquireOnce returns true the first time scope+key is seen within the TTL.
	AcquireOnce(ctx context.Context, scope, key string) bool
	// Forget 释放 key，用于处理失败后允许客户端重试
	Forget(ctx context.Context, scope, key string)
}

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewDeduperWithLogger creates a deduper with logger support
func NewDeduperWithLogger(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func dedupKey(scope, key string) string {
	return fmt.Sprintf("dedup:%s:%s", scope, key)
}

// AcquireOnce tries to acquire a dedup lock for scope + key.
// returns true if this is the FIRST time processing
// returns false if it's a duplicate
func (d *Deduper) AcquireOnce(ctx context.Context, scope, key string) bool {
	k := dedupKey(scope, key)

	ok, err := d.rdb.SetNX(ctx, k, 1, d.ttl).Result()
	if err != nil {
		// Redis 挂了？当 redis 不可用时，不阻止处理，返回 true
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("scope", scope),
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return true
	}

	// 去重命中：记录日志
	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated request",
			zap.String("scope", scope),
			zap.String("dedup_key", k),
		)
	}

	return ok
}

func (d *Deduper) Forget(ctx context.Context, scope, key string) {
	if err := d.rdb.Del(ctx, dedupKey(scope, key)).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("scope", scope),
			zap.Error(err),
		)
	}
}

// MemoryDeduper 进程内实现，用于 memory 存储驱动和测试
type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

func (d *MemoryDeduper) AcquireOnce(ctx context.Context, scope, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	k := dedupKey(scope, key)
	if exp, ok := d.seen[k]; ok && now.Before(exp) {
		return false
	}
	d.seen[k] = now.Add(d.ttl)

	// 顺手清理过期 key
	for key, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, key)
		}
	}
	return true
}

func (d *MemoryDeduper) Forget(ctx context.Context, scope, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, dedupKey(scope, key))
}
