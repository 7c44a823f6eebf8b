package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 只有持有者（token 相同）才能删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁，多个 scheduler 实例共享
type RedisLocker struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	poll   time.Duration
	logger *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:    rdb,
		ttl:    ttl,
		prefix: "lock:",
		poll:   20 * time.Millisecond,
		logger: logger,
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate lock token: %w", err)
	}
	k := l.prefix + key

	wait := l.poll
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, timeoutError(key, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, timeoutError(key, ctx.Err())
		case <-time.After(wait):
		}
		// 退避，最多 200ms
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 使用独立 ctx：调用方的 ctx 此时可能已经超时
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.rdb, []string{k}, token).Err(); err != nil {
				l.logger.Warn("Failed to release lock, it will expire by ttl",
					zap.String("key", k),
					zap.Duration("ttl", l.ttl),
					zap.Error(err),
				)
			}
		})
	}, nil
}
