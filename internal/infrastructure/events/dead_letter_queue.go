package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FailedMessage is a dead lettered message with its failure context
type FailedMessage struct {
	EntryID  string
	Message  Message
	SourceID string
	Reason   string
	Error    string
	Attempts int64
	FailedAt time.Time
}

// DeadLetterQueue parks messages that cannot be processed on a dedicated
// stream for inspection and manual replay.
type DeadLetterQueue struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewDeadLetterQueue creates a dead letter queue on stream
func NewDeadLetterQueue(client *redis.Client, stream string, logger *zap.Logger) *DeadLetterQueue {
	return &DeadLetterQueue{client: client, stream: stream, logger: logger}
}

// Add records a failed message
func (q *DeadLetterQueue) Add(ctx context.Context, f FailedMessage) error {
	values := f.Message.values()
	values["source_stream"] = f.Message.Topic
	values["source_id"] = f.SourceID
	values["reason"] = f.Reason
	values["error"] = f.Error
	values["attempts"] = f.Attempts
	values["failed_at"] = f.FailedAt.UTC().Format(time.RFC3339Nano)

	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("dead letter append failed: %w", err)
	}

	q.logger.Warn("message dead lettered",
		zap.String("source_stream", f.Message.Topic),
		zap.String("source_id", f.SourceID),
		zap.String("reason", f.Reason),
		zap.Int64("attempts", f.Attempts),
		zap.String("error", f.Error))
	return nil
}

// List returns up to limit dead lettered messages, oldest first
func (q *DeadLetterQueue) List(ctx context.Context, limit int64) ([]FailedMessage, error) {
	entries, err := q.client.XRangeN(ctx, q.stream, "-", "+", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("dead letter range failed: %w", err)
	}

	out := make([]FailedMessage, 0, len(entries))
	for _, x := range entries {
		str := func(field string) string {
			s, _ := x.Values[field].(string)
			return s
		}

		msg := fieldsOf(str("source_stream"), x)
		attempts, _ := strconv.ParseInt(str("attempts"), 10, 64)
		failedAt, _ := time.Parse(time.RFC3339Nano, str("failed_at"))

		out = append(out, FailedMessage{
			EntryID:  x.ID,
			Message:  msg,
			SourceID: str("source_id"),
			Reason:   str("reason"),
			Error:    str("error"),
			Attempts: attempts,
			FailedAt: failedAt,
		})
	}
	return out, nil
}

// Remove deletes a dead letter once it has been handled
func (q *DeadLetterQueue) Remove(ctx context.Context, entryID string) error {
	if err := q.client.XDel(ctx, q.stream, entryID).Err(); err != nil {
		return fmt.Errorf("dead letter delete failed: %w", err)
	}
	return nil
}
