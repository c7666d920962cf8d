package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CustomerLock is a lease lock serializing profile updates for a customer
// across engine instances. The lease expires after ttl so a crashed holder
// cannot block the customer forever.
type CustomerLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCustomerLock creates a lock with the given lease
func NewCustomerLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) *CustomerLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &CustomerLock{client: client, ttl: ttl, logger: logger}
}

// Acquire blocks until the lease for customerID is held or ctx ends. The
// returned func releases it.
func (l *CustomerLock) Acquire(ctx context.Context, customerID string) (func(), error) {
	key := LockPrefix + customerID
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("acquiring lock %s: %w", key, err))
		}
		if !ok {
			return fmt.Errorf("lock %s is held", key)
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}

	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("releasing customer lock failed",
				zap.String("customer_id", customerID),
				zap.Error(err))
		}
	}
	return release, nil
}
