package audit

import (
	"context"
	"errors"
	"sync"
)

// ErrEventNotFound is returned for unknown event ids or sequences
var ErrEventNotFound = errors.New("audit event not found")

// Store persists audit events in sequence order. Stores only append; they
// never rewrite or delete events.
type Store interface {
	Append(ctx context.Context, e *Event) error
	// Last returns the event with the highest sequence, or nil when empty
	Last(ctx context.Context) (*Event, error)
	Get(ctx context.Context, id string) (*Event, error)
	GetBySequence(ctx context.Context, seq uint64) (*Event, error)
	// Query returns matching events ascending by sequence and the total
	// number of matches before paging
	Query(ctx context.Context, f Filter) ([]*Event, int, error)
	// Iterate visits every event ascending by sequence until fn errors
	Iterate(ctx context.Context, fn func(*Event) error) error
	Close() error
}

// MemoryStore keeps events in a slice
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
	byID   map[string]int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

// Append implements Store
func (s *MemoryStore) Append(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[e.ID]; dup {
		return errors.New("duplicate audit event id")
	}
	s.byID[e.ID] = len(s.events)
	s.events = append(s.events, e.clone())
	return nil
}

// Last implements Store
func (s *MemoryStore) Last(_ context.Context) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return nil, nil
	}
	return s.events[len(s.events)-1].clone(), nil
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return s.events[i].clone(), nil
}

// GetBySequence implements Store
func (s *MemoryStore) GetBySequence(_ context.Context, seq uint64) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.Sequence == seq {
			return e.clone(), nil
		}
	}
	return nil, ErrEventNotFound
}

// Query implements Store
func (s *MemoryStore) Query(_ context.Context, f Filter) ([]*Event, int, error) {
	f.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	total := 0
	for _, e := range s.events {
		if !f.Matches(e) {
			continue
		}
		total++
		if total <= f.Offset || len(out) >= f.Limit {
			continue
		}
		out = append(out, e.clone())
	}
	return out, total, nil
}

// Iterate implements Store
func (s *MemoryStore) Iterate(ctx context.Context, fn func(*Event) error) error {
	s.mu.RLock()
	events := append([]*Event(nil), s.events...)
	s.mu.RUnlock()
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.clone()); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Store
func (s *MemoryStore) Close() error { return nil }

func (e *Event) clone() *Event {
	cp := *e
	cp.Details, _ = normalizeDetails(e.Details)
	return &cp
}
