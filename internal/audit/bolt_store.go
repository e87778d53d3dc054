package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/storage"
)

// BoltStore keeps events in the audit_events bucket keyed by zero-padded
// sequence, with an id index in audit_ids
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewBoltStore creates a store on db
func NewBoltStore(db *bbolt.DB, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{storage.AuditBucket, storage.AuditIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db, logger: logger}, nil
}

func sequenceKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

// Append implements Store
func (s *BoltStore) Append(_ context.Context, e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		events := tx.Bucket([]byte(storage.AuditBucket))
		ids := tx.Bucket([]byte(storage.AuditIndexBucket))
		key := sequenceKey(e.Sequence)
		if events.Get(key) != nil {
			return fmt.Errorf("audit sequence %d already written", e.Sequence)
		}
		if ids.Get([]byte(e.ID)) != nil {
			return fmt.Errorf("duplicate audit event id %s", e.ID)
		}
		if err := events.Put(key, data); err != nil {
			return fmt.Errorf("store audit event: %w", err)
		}
		return ids.Put([]byte(e.ID), key)
	})
}

func decodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal audit event: %w", err)
	}
	return &e, nil
}

// Last implements Store
func (s *BoltStore) Last(_ context.Context) (*Event, error) {
	var e *Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket([]byte(storage.AuditBucket)).Cursor().Last()
		if v == nil {
			return nil
		}
		var err error
		e, err = decodeEvent(v)
		return err
	})
	return e, err
}

// Get implements Store
func (s *BoltStore) Get(_ context.Context, id string) (*Event, error) {
	var e *Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(storage.AuditIndexBucket)).Get([]byte(id))
		if key == nil {
			return ErrEventNotFound
		}
		v := tx.Bucket([]byte(storage.AuditBucket)).Get(key)
		if v == nil {
			return ErrEventNotFound
		}
		var err error
		e, err = decodeEvent(v)
		return err
	})
	return e, err
}

// GetBySequence implements Store
func (s *BoltStore) GetBySequence(_ context.Context, seq uint64) (*Event, error) {
	var e *Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(storage.AuditBucket)).Get(sequenceKey(seq))
		if v == nil {
			return ErrEventNotFound
		}
		var err error
		e, err = decodeEvent(v)
		return err
	})
	return e, err
}

// Query implements Store
func (s *BoltStore) Query(_ context.Context, f Filter) ([]*Event, int, error) {
	f.Normalize()
	var out []*Event
	total := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(storage.AuditBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			e, err := decodeEvent(v)
			if err != nil {
				s.logger.Warn("Skipping unreadable audit event", zap.ByteString("key", k), zap.Error(err))
				continue
			}
			if !f.Matches(e) {
				continue
			}
			total++
			if total <= f.Offset || len(out) >= f.Limit {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	return out, total, err
}

// Iterate implements Store. Unreadable entries are reported as events
// carrying only their sequence so verification flags them.
func (s *BoltStore) Iterate(ctx context.Context, fn func(*Event) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(storage.AuditBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			e, err := decodeEvent(v)
			if err != nil {
				seq, _ := strconv.ParseUint(string(k), 10, 64)
				e = &Event{Sequence: seq, ID: "unreadable:" + string(k)}
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close is a no-op; the storage manager owns the database
func (s *BoltStore) Close() error { return nil }
