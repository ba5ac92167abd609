package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var fingerprintBucket = []byte("fingerprints")

// StateStore persists per-location fingerprints so an unchanged location is
// skipped on incremental refresh, including across process restarts.
type StateStore interface {
	Fingerprint(location string) (string, bool)
	SetFingerprint(location, fp string) error
	Close() error
}

type boltState struct {
	db *bolt.DB
}

// OpenState opens (or creates) the fingerprint database at path.
func OpenState(path string) (StateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open state file %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(fingerprintBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state buckets: %w", err)
	}
	return &boltState{db: db}, nil
}

func (s *boltState) Fingerprint(location string) (string, bool) {
	var fp string
	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(fingerprintBucket).Get([]byte(location)); v != nil {
			fp = string(v)
		}
		return nil
	})
	return fp, fp != ""
}

func (s *boltState) SetFingerprint(location, fp string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fingerprintBucket).Put([]byte(location), []byte(fp))
	})
}

func (s *boltState) Close() error { return s.db.Close() }

type memoryState struct {
	mu           sync.Mutex
	fingerprints map[string]string
}

// NewMemoryState keeps fingerprints in process memory. Used when no state
// file is configured, and in tests.
func NewMemoryState() StateStore {
	return &memoryState{fingerprints: make(map[string]string)}
}

func (s *memoryState) Fingerprint(location string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.fingerprints[location]
	return fp, ok
}

func (s *memoryState) SetFingerprint(location, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints[location] = fp
	return nil
}

func (s *memoryState) Close() error { return nil }
