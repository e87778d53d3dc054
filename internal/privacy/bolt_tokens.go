package privacy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/storage"
)

// BoltTokenStore keeps tokens in the privacy_tokens bucket so they survive
// restarts within their max age
type BoltTokenStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewBoltTokenStore creates a token store on db
func NewBoltTokenStore(db *bbolt.DB, logger *zap.Logger) (*BoltTokenStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(storage.TokensBucket)); err != nil {
			return fmt.Errorf("create tokens bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltTokenStore{db: db, logger: logger}, nil
}

// Put implements TokenStore
func (s *BoltTokenStore) Put(_ context.Context, entry TokenEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(storage.TokensBucket))
		if data := bucket.Get([]byte(entry.Token)); data != nil {
			var existing TokenEntry
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("unmarshal token entry: %w", err)
			}
			if existing.OriginalValue != entry.OriginalValue {
				return ErrTokenCollision
			}
			existing.Timestamp = entry.Timestamp
			entry = existing
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal token entry: %w", err)
		}
		if err := bucket.Put([]byte(entry.Token), data); err != nil {
			return fmt.Errorf("store token entry: %w", err)
		}
		return nil
	})
}

// Get implements TokenStore
func (s *BoltTokenStore) Get(_ context.Context, token string) (TokenEntry, error) {
	var entry TokenEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(storage.TokensBucket)).Get([]byte(token))
		if data == nil {
			return ErrTokenNotFound
		}
		return json.Unmarshal(data, &entry)
	})
	return entry, err
}

// Delete implements TokenStore
func (s *BoltTokenStore) Delete(_ context.Context, token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(storage.TokensBucket)).Delete([]byte(token))
	})
}

// PurgeBefore implements TokenStore
func (s *BoltTokenStore) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	var expired [][]byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(storage.TokensBucket))
		err := bucket.ForEach(func(k, v []byte) error {
			var entry TokenEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				s.logger.Warn("Dropping unreadable token entry", zap.ByteString("token", k), zap.Error(err))
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			if entry.Timestamp.Before(cutoff) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return len(expired), err
}

// Len implements TokenStore
func (s *BoltTokenStore) Len(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(storage.TokensBucket)).Stats().KeyN
		return nil
	})
	return n, err
}
