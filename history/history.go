package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/ipfs/go-log/v2"
	"github.com/tidepool-labs/tidepool/blob"
)

const (
	// MaxEntries is the number of most recent uploads kept.
	MaxEntries = 10
	// Key is the key under which the serialized history list is stored.
	Key = "walrus-upload-history"

	bucket = "tidepool"
)

var logger = log.Logger("tidepool/history")

var _ Store = (*BoltStore)(nil)

type (
	// Store keeps the most recent uploads, newest first.
	Store interface {
		Record(blob.HistoryEntry) error
		List() ([]blob.HistoryEntry, error)
	}
	// BoltStore is a Store that persists the history as a single JSON list in a BoltDB file.
	BoltStore struct {
		// mu serializes Record so that concurrent uploads never lose entries.
		mu sync.Mutex
		db *bolt.DB
	}
)

// Open opens, or creates, the history database at path.
func Open(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debugw("Opened upload history", "path", path)
	return &BoltStore{db: db}, nil
}

// Record prepends entry to the history and drops all but the MaxEntries newest entries.
// The whole list is rewritten.
func (s *BoltStore) Record(entry blob.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return errors.New("history bucket not found")
		}
		entries := decode(b.Get([]byte(Key)))
		entries = append([]blob.HistoryEntry{entry}, entries...)
		if len(entries) > MaxEntries {
			entries = entries[:MaxEntries]
		}
		v, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		return b.Put([]byte(Key), v)
	})
}

// List returns the recorded uploads, newest first.
// A history that cannot be parsed is treated as empty.
func (s *BoltStore) List() ([]blob.HistoryEntry, error) {
	var entries []blob.HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return errors.New("history bucket not found")
		}
		entries = decode(b.Get([]byte(Key)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []blob.HistoryEntry{}
	}
	return entries, nil
}

// Clear removes every recorded upload.
func (s *BoltStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return errors.New("history bucket not found")
		}
		return b.Delete([]byte(Key))
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func decode(v []byte) []blob.HistoryEntry {
	if v == nil {
		return nil
	}
	var entries []blob.HistoryEntry
	if err := json.Unmarshal(v, &entries); err != nil {
		logger.Errorw("Failed to parse upload history", "err", err)
		return nil
	}
	return entries
}
