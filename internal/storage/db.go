// Package storage owns the single bbolt file holding the audit chain, the
// privacy token vault and the access rules. Each store creates and manages
// its own buckets on the shared handle.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

const openTimeout = 10 * time.Second

// ErrClosed is returned by operations on a closed DB
var ErrClosed = errors.New("database is closed")

// DB is the process-wide database handle
type DB struct {
	mu     sync.RWMutex
	bolt   *bbolt.DB
	path   string
	logger *zap.SugaredLogger
}

// Stats summarizes the database for operators
type Stats struct {
	Path          string         `json:"path"`
	SchemaVersion uint64         `json:"schema_version"`
	SizeBytes     int64          `json:"size_bytes"`
	Buckets       map[string]int `json:"buckets"`
}

// Open opens or creates DatabaseFileName inside dataDir. A lock held by
// another process surfaces as bolterrors.ErrTimeout; the file is never
// recreated because the audit chain lives in it.
func Open(dataDir string, logger *zap.SugaredLogger) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dataDir, DatabaseFileName)
	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if errors.Is(err, bolterrors.ErrTimeout) {
		return nil, fmt.Errorf("database %s is locked by another process: %w", path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(MetaBucket))
		if err != nil {
			return err
		}
		if stored := meta.Get([]byte(SchemaVersionKey)); stored != nil {
			if v := binary.BigEndian.Uint64(stored); v > CurrentSchemaVersion {
				return fmt.Errorf("schema version %d is newer than supported %d", v, CurrentSchemaVersion)
			}
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], CurrentSchemaVersion)
		return meta.Put([]byte(SchemaVersionKey), buf[:])
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("initialize %s: %w", path, err)
	}

	logger.Debugw("Opened database", "path", path)
	return &DB{bolt: bdb, path: path, logger: logger}, nil
}

// Bolt returns the bbolt handle, or nil once closed
func (d *DB) Bolt() *bbolt.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bolt
}

// Close is idempotent
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bolt == nil {
		return nil
	}
	err := d.bolt.Close()
	d.bolt = nil
	return err
}

func (d *DB) view(fn func(*bbolt.Tx) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.bolt == nil {
		return ErrClosed
	}
	return d.bolt.View(fn)
}

// Backup streams a consistent snapshot to w. Audit exports for evidence
// retention use it while the server keeps appending.
func (d *DB) Backup(w io.Writer) (int64, error) {
	var n int64
	err := d.view(func(tx *bbolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	return n, err
}

// Stats reports key counts per bucket
func (d *DB) Stats() (Stats, error) {
	st := Stats{Path: d.path, Buckets: make(map[string]int)}
	err := d.view(func(tx *bbolt.Tx) error {
		st.SizeBytes = tx.Size()
		if v := tx.Bucket([]byte(MetaBucket)).Get([]byte(SchemaVersionKey)); v != nil {
			st.SchemaVersion = binary.BigEndian.Uint64(v)
		}
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if string(name) != MetaBucket {
				st.Buckets[string(name)] = b.Stats().KeyN
			}
			return nil
		})
	})
	return st, err
}
