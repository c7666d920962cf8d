// Package memstore holds in-memory implementations of the engine's stores.
// They back the memory storage driver and the service tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/anomaly"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/profile"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
	"github.com/davidleathers/risk-scoring-engine/internal/domain/riskevent"
)

// ProfileStore keeps one profile per customer with version checks
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*profile.Profile
}

// NewProfileStore creates an empty profile store
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]*profile.Profile)}
}

func (s *ProfileStore) Get(ctx context.Context, customerID string) (*profile.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[customerID]
	if !ok {
		return nil, errors.NewNotFoundError("customer risk profile")
	}
	return p.Clone(), nil
}

func (s *ProfileStore) Save(ctx context.Context, p *profile.Profile, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if cur, ok := s.profiles[p.CustomerID]; ok {
		stored = cur.Version
	}
	if stored != expectedVersion {
		return errors.NewConflictError(errors.CodeVersionConflict,
			fmt.Sprintf("profile %s is at version %d, expected %d", p.CustomerID, stored, expectedVersion))
	}

	s.profiles[p.CustomerID] = p.Clone()
	return nil
}

func (s *ProfileStore) Advance(ctx context.Context, customerID string, version, eventVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.profiles[customerID]
	if !ok || cur.Version != version {
		return nil
	}
	s.profiles[customerID] = cur.Advance(eventVersion)
	return nil
}

// Len returns the number of stored profiles
func (s *ProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// EventStore is an append-only log with one stream per customer
type EventStore struct {
	mu      sync.RWMutex
	streams map[string][]riskevent.Entry
	byTxn   map[string]int64
}

// NewEventStore creates an empty event store
func NewEventStore() *EventStore {
	return &EventStore{
		streams: make(map[string][]riskevent.Entry),
		byTxn:   make(map[string]int64),
	}
}

func txnKey(customerID, transactionID string) string {
	return customerID + "\x00" + transactionID
}

func (s *EventStore) Append(ctx context.Context, e *riskevent.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byTxn[txnKey(e.AggregateID, e.TransactionID)]; ok {
		return errors.NewConflictError(errors.CodeDuplicateEvent,
			fmt.Sprintf("transaction %s already recorded", e.TransactionID))
	}

	stream := s.streams[e.AggregateID]
	if head := int64(len(stream)); e.EventVersion != head+1 {
		return errors.NewConflictError(errors.CodeVersionConflict,
			fmt.Sprintf("stream %s is at version %d, cannot append %d", e.AggregateID, head, e.EventVersion))
	}

	s.streams[e.AggregateID] = append(stream, *e)
	s.byTxn[txnKey(e.AggregateID, e.TransactionID)] = e.EventVersion
	return nil
}

func (s *EventStore) Head(ctx context.Context, customerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.streams[customerID])), nil
}

func (s *EventStore) GetByTransaction(ctx context.Context, customerID, transactionID string) (*riskevent.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.byTxn[txnKey(customerID, transactionID)]
	if !ok {
		return nil, errors.NewNotFoundError("risk event")
	}
	e := s.streams[customerID][v-1]
	return &e, nil
}

func (s *EventStore) ListSince(ctx context.Context, customerID string, afterVersion int64) ([]riskevent.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[customerID]
	if afterVersion < 0 {
		afterVersion = 0
	}
	if afterVersion >= int64(len(stream)) {
		return []riskevent.Entry{}, nil
	}
	return append([]riskevent.Entry(nil), stream[afterVersion:]...), nil
}

func (s *EventStore) Recent(ctx context.Context, customerID string, limit int) ([]riskevent.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[customerID]
	if limit <= 0 || limit > len(stream) {
		limit = len(stream)
	}
	out := make([]riskevent.Entry, 0, limit)
	for i := len(stream) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, stream[i])
	}
	return out, nil
}

// AnomalyStore keeps anomalies keyed by their deterministic id
type AnomalyStore struct {
	mu        sync.RWMutex
	anomalies map[string]anomaly.Anomaly
}

// NewAnomalyStore creates an empty anomaly store
func NewAnomalyStore() *AnomalyStore {
	return &AnomalyStore{anomalies: make(map[string]anomaly.Anomaly)}
}

// SaveBatch stores anomalies, ignoring ids that are already present
func (s *AnomalyStore) SaveBatch(ctx context.Context, batch []anomaly.Anomaly) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range batch {
		if _, ok := s.anomalies[a.ID]; ok {
			continue
		}
		s.anomalies[a.ID] = a
	}
	return nil
}

// Query returns matching anomalies, newest first
func (s *AnomalyStore) Query(ctx context.Context, q anomaly.Query) ([]anomaly.Anomaly, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]anomaly.Anomaly, 0)
	for _, a := range s.anomalies {
		if q.Matches(a) {
			out = append(out, a)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MerchantRegistry resolves merchant identifiers to registered profiles
type MerchantRegistry struct {
	mu        sync.RWMutex
	merchants map[string]risk.MerchantProfile
}

// NewMerchantRegistry creates a registry seeded with merchants
func NewMerchantRegistry(merchants ...risk.MerchantProfile) *MerchantRegistry {
	r := &MerchantRegistry{merchants: make(map[string]risk.MerchantProfile)}
	for _, m := range merchants {
		r.merchants[strings.ToLower(m.ID)] = m
	}
	return r
}

// Register adds or replaces a merchant
func (r *MerchantRegistry) Register(m risk.MerchantProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merchants[strings.ToLower(m.ID)] = m
}

func (r *MerchantRegistry) Lookup(ctx context.Context, merchantID string) (*risk.MerchantProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.merchants[strings.ToLower(strings.TrimSpace(merchantID))]
	if !ok {
		return nil, errors.NewNotFoundError("merchant")
	}
	return &m, nil
}
