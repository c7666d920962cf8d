package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
)

// Stream field names
const (
	fieldID          = "id"
	fieldKey         = "key"
	fieldType        = "type"
	fieldPayload     = "payload"
	fieldPublishedAt = "published_at"
)

// Message is one record on a stream. Key is the partition key consumers
// order by; ID identifies the message for de-duplication.
type Message struct {
	ID          string
	Topic       string
	Key         string
	Type        string
	Payload     json.RawMessage
	PublishedAt time.Time
}

// NewMessage serializes v as the payload of a message
func NewMessage(topic, key, id, eventType string, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, errors.NewInternalError("failed to serialize event").WithCause(err)
	}
	return Message{
		ID:      id,
		Topic:   topic,
		Key:     key,
		Type:    eventType,
		Payload: data,
	}, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return errors.NewValidationError("INVALID_PAYLOAD",
			fmt.Sprintf("message %s on %s has an invalid payload", m.ID, m.Topic)).WithCause(err)
	}
	return nil
}

func (m Message) values() map[string]any {
	return map[string]any{
		fieldID:          m.ID,
		fieldKey:         m.Key,
		fieldType:        m.Type,
		fieldPayload:     string(m.Payload),
		fieldPublishedAt: m.PublishedAt.UTC().Format(time.RFC3339Nano),
	}
}

// fields flattens the message into stream field/value pairs in a fixed order
func (m Message) fields() []any {
	return []any{
		fieldID, m.ID,
		fieldKey, m.Key,
		fieldType, m.Type,
		fieldPayload, string(m.Payload),
		fieldPublishedAt, m.PublishedAt.UTC().Format(time.RFC3339Nano),
	}
}

// fromStream rebuilds a message from a stream entry. Producers that only
// write a payload field are accepted; the stream entry id stands in for the
// message id.
func fromStream(topic string, x redis.XMessage) (Message, error) {
	m := fieldsOf(topic, x)
	if len(m.Payload) == 0 {
		return Message{}, errors.NewValidationError("MISSING_PAYLOAD",
			fmt.Sprintf("stream entry %s on %s has no payload", x.ID, topic))
	}
	return m, nil
}

func fieldsOf(topic string, x redis.XMessage) Message {
	str := func(field string) string {
		if v, ok := x.Values[field].(string); ok {
			return v
		}
		return ""
	}

	m := Message{
		ID:    str(fieldID),
		Topic: topic,
		Key:   str(fieldKey),
		Type:  str(fieldType),
	}
	if payload := str(fieldPayload); payload != "" {
		m.Payload = json.RawMessage(payload)
	}
	if m.ID == "" {
		m.ID = x.ID
	}
	if ts := str(fieldPublishedAt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.PublishedAt = t
		}
	}
	return m
}
