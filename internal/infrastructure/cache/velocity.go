package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

const (
	velocityHour = time.Hour
	velocityDay  = 24 * time.Hour
)

// VelocityTracker counts each customer's transactions in sliding windows.
// Every customer has one sorted set scored by transaction time in
// milliseconds with the transaction id as member, so a redelivered
// transaction is counted once.
type VelocityTracker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewVelocityTracker creates a Redis backed velocity tracker
func NewVelocityTracker(client *redis.Client, logger *zap.Logger) *VelocityTracker {
	return &VelocityTracker{client: client, logger: logger}
}

// Record adds the transaction to the customer's window and returns how many
// earlier transactions fall within the last hour and day of at.
func (v *VelocityTracker) Record(ctx context.Context, customerID, transactionID string, at time.Time) (risk.VelocitySnapshot, error) {
	key := VelocityPrefix + customerID
	now := at.UnixMilli()
	// exclusive upper bound leaves the current transaction out of its own count
	upper := "(" + strconv.FormatInt(now, 10)

	pipe := v.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(at.Add(-velocityDay).UnixMilli(), 10))
	hourCmd := pipe.ZCount(ctx, key, strconv.FormatInt(at.Add(-velocityHour).UnixMilli(), 10), upper)
	dayCmd := pipe.ZCount(ctx, key, strconv.FormatInt(at.Add(-velocityDay).UnixMilli(), 10), upper)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: transactionID})
	pipe.Expire(ctx, key, velocityDay+time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		v.logger.Error("velocity tracker pipeline failed",
			zap.String("customer_id", customerID),
			zap.Error(err))
		return risk.VelocitySnapshot{}, fmt.Errorf("velocity tracker pipeline failed: %w", err)
	}

	snap := risk.VelocitySnapshot{
		TransactionsInLastHour: int(hourCmd.Val()),
		TransactionsInLastDay:  int(dayCmd.Val()),
	}

	v.logger.Debug("velocity recorded",
		zap.String("customer_id", customerID),
		zap.Int("last_hour", snap.TransactionsInLastHour),
		zap.Int("last_day", snap.TransactionsInLastDay))

	return snap, nil
}

// Reset clears the customer's window
func (v *VelocityTracker) Reset(ctx context.Context, customerID string) error {
	if err := v.client.Del(ctx, VelocityPrefix+customerID).Err(); err != nil {
		return fmt.Errorf("velocity reset failed: %w", err)
	}
	return nil
}
