package events

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PublishedPrefix keys the de-duplication markers of published messages
const PublishedPrefix = "risk:published:"

const dedupeTTL = 24 * time.Hour

// publishScript appends the entry and sets its marker in one step, so a
// marker exists only for an entry that is on the stream.
//
// KEYS[1] stream, KEYS[2] marker
// ARGV[1] marker ttl seconds, ARGV[2] max length (0 keeps all), ARGV[3..] fields
var publishScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return false
end
local id
if tonumber(ARGV[2]) > 0 then
	id = redis.call("XADD", KEYS[1], "MAXLEN", "~", ARGV[2], "*", unpack(ARGV, 3))
else
	id = redis.call("XADD", KEYS[1], "*", unpack(ARGV, 3))
end
redis.call("SET", KEYS[2], "1", "EX", ARGV[1])
return id
`)

// Publisher sends messages to the bus. Publishing the same message ID to the
// same topic twice delivers it once.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// StreamPublisher publishes to Redis streams
type StreamPublisher struct {
	client *redis.Client
	maxLen int64
	logger *zap.Logger
	now    func() time.Time
}

// NewStreamPublisher creates a publisher trimming each stream to about
// maxLen entries. maxLen of 0 disables trimming.
func NewStreamPublisher(client *redis.Client, maxLen int64, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		maxLen: maxLen,
		logger: logger,
		now:    time.Now,
	}
}

func (p *StreamPublisher) Publish(ctx context.Context, msg Message) error {
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = p.now()
	}

	var (
		entryID string
		err     error
	)
	if msg.ID == "" {
		args := &redis.XAddArgs{Stream: msg.Topic, Values: msg.fields()}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		entryID, err = p.client.XAdd(ctx, args).Result()
	} else {
		marker := PublishedPrefix + msg.Topic + ":" + msg.ID
		argv := append([]any{int64(dedupeTTL / time.Second), p.maxLen}, msg.fields()...)
		entryID, err = publishScript.Run(ctx, p.client, []string{msg.Topic, marker}, argv...).Text()
		if stderrors.Is(err, redis.Nil) {
			p.logger.Debug("message already published",
				zap.String("topic", msg.Topic),
				zap.String("message_id", msg.ID))
			return nil
		}
	}
	if err != nil {
		p.logger.Error("stream publish failed",
			zap.String("topic", msg.Topic),
			zap.String("key", msg.Key),
			zap.Error(err))
		return fmt.Errorf("stream publish failed: %w", err)
	}

	p.logger.Debug("message published",
		zap.String("topic", msg.Topic),
		zap.String("key", msg.Key),
		zap.String("entry_id", entryID))
	return nil
}

// MemoryBus is an in-process Publisher that keeps every message. It backs
// the engine when no Redis bus is configured.
type MemoryBus struct {
	mu       sync.Mutex
	messages []Message
	seen     map[string]struct{}
	logger   *zap.Logger
}

// NewMemoryBus creates an empty in-process bus
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{seen: make(map[string]struct{}), logger: logger}
}

func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.ID != "" {
		key := msg.Topic + ":" + msg.ID
		if _, ok := b.seen[key]; ok {
			return nil
		}
		b.seen[key] = struct{}{}
	}
	b.messages = append(b.messages, msg)

	b.logger.Debug("message published",
		zap.String("topic", msg.Topic),
		zap.String("key", msg.Key))
	return nil
}

// Messages returns the messages published to topic, oldest first. An empty
// topic returns every message.
func (b *MemoryBus) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Message, 0, len(b.messages))
	for _, m := range b.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
