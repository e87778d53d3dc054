package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/grcgate/grcgate/internal/storage"
)

// RuleStore holds at most one AccessRule per tenant
type RuleStore interface {
	Get(ctx context.Context, tenantID string) (*AccessRule, error)
	Put(ctx context.Context, rule *AccessRule) error
	Delete(ctx context.Context, tenantID string) error
	List(ctx context.Context) ([]*AccessRule, error)
}

// MemoryRuleStore keeps rules in a map
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]AccessRule
}

// NewMemoryRuleStore creates an empty store
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]AccessRule)}
}

// Get implements RuleStore
func (s *MemoryRuleStore) Get(_ context.Context, tenantID string) (*AccessRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[tenantID]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return cloneRule(rule), nil
}

// Put implements RuleStore
func (s *MemoryRuleStore) Put(_ context.Context, rule *AccessRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.TenantID] = *cloneRule(*rule)
	return nil
}

// Delete implements RuleStore
func (s *MemoryRuleStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[tenantID]; !ok {
		return ErrRuleNotFound
	}
	delete(s.rules, tenantID)
	return nil
}

// List implements RuleStore
func (s *MemoryRuleStore) List(_ context.Context) ([]*AccessRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AccessRule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, cloneRule(rule))
	}
	slices.SortFunc(out, func(a, b *AccessRule) int { return strings.Compare(a.TenantID, b.TenantID) })
	return out, nil
}

func cloneRule(r AccessRule) *AccessRule {
	r.AllowedUserIDs = slices.Clone(r.AllowedUserIDs)
	r.RequiredRoles = slices.Clone(r.RequiredRoles)
	return &r
}

// BoltRuleStore keeps rules in the access_rules bucket keyed by tenant id
type BoltRuleStore struct {
	db *bbolt.DB
}

// NewBoltRuleStore creates a rule store on db
func NewBoltRuleStore(db *bbolt.DB) (*BoltRuleStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(storage.AccessRulesBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create access rules bucket: %w", err)
	}
	return &BoltRuleStore{db: db}, nil
}

// Get implements RuleStore
func (s *BoltRuleStore) Get(_ context.Context, tenantID string) (*AccessRule, error) {
	var rule *AccessRule
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(storage.AccessRulesBucket)).Get([]byte(tenantID))
		if data == nil {
			return ErrRuleNotFound
		}
		rule = &AccessRule{}
		return json.Unmarshal(data, rule)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Put implements RuleStore
func (s *BoltRuleStore) Put(_ context.Context, rule *AccessRule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal access rule: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(storage.AccessRulesBucket)).Put([]byte(rule.TenantID), data)
	})
}

// Delete implements RuleStore
func (s *BoltRuleStore) Delete(_ context.Context, tenantID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(storage.AccessRulesBucket))
		if bucket.Get([]byte(tenantID)) == nil {
			return ErrRuleNotFound
		}
		return bucket.Delete([]byte(tenantID))
	})
}

// List implements RuleStore. bbolt iterates keys in order, so rules come
// back sorted by tenant id.
func (s *BoltRuleStore) List(_ context.Context) ([]*AccessRule, error) {
	var out []*AccessRule
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(storage.AccessRulesBucket)).ForEach(func(k, v []byte) error {
			var rule AccessRule
			if err := json.Unmarshal(v, &rule); err != nil {
				return fmt.Errorf("unmarshal access rule %s: %w", k, err)
			}
			out = append(out, &rule)
			return nil
		})
	})
	return out, err
}
