package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ApprovalLock serializes approval attempts for one product model while its
// transaction is in flight.
type ApprovalLock interface {
	// Acquire returns a release func, or ErrConflict when another approval
	// holds the product.
	Acquire(ctx context.Context, productModelID string) (func(), error)
}

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisApprovalLock implements ApprovalLock with SET NX and a TTL.
type RedisApprovalLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisApprovalLock creates a RedisApprovalLock. The TTL must cover the
// mining timeout.
func NewRedisApprovalLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisApprovalLock {
	return &RedisApprovalLock{client: client, ttl: ttl, logger: logger}
}

func approvalLockKey(productModelID string) string {
	return "workflow:approval-lock:" + productModelID
}

func (l *RedisApprovalLock) Acquire(ctx context.Context, productModelID string) (func(), error) {
	key := approvalLockKey(productModelID)
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire approval lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: an approval for product model %s is already in flight", ErrConflict, productModelID)
	}

	release := func() {
		// The caller's context may already be cancelled once mining finishes.
		if err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("⚠️ [APPROVAL LOCK] failed to release", zap.String("key", key), zap.Error(err))
		}
	}
	return release, nil
}
