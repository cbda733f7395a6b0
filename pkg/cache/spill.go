package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrCacheIO is returned when the disk spill store fails. Regular cache
// operations never surface it — they degrade to memory-only and log — but
// explicit spill management (Close, Delete on disk) wraps failures with it.
var ErrCacheIO = errors.New("cache i/o error")

// spillStore persists evicted cache entries in BadgerDB. Each value is
// prefixed with its expiry (unix nanoseconds, 0 = never) so TTLs survive the
// round trip to disk.
type spillStore struct {
	db *badger.DB
}

func openSpill(dir string) (*spillStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open spill store: %w: %v", ErrCacheIO, err)
	}
	return &spillStore{db: db}, nil
}

func (s *spillStore) put(key string, value []byte, expiresAt time.Time) error {
	buf := make([]byte, 8+len(value))
	var nanos int64
	if !expiresAt.IsZero() {
		nanos = expiresAt.UnixNano()
	}
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	copy(buf[8:], value)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf)
	})
	if err != nil {
		return fmt.Errorf("spill put: %w: %v", ErrCacheIO, err)
	}
	return nil
}

func (s *spillStore) get(key string) ([]byte, time.Time, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, fmt.Errorf("spill get: %w: %v", ErrCacheIO, err)
	}
	if len(value) < 8 {
		return nil, time.Time{}, fmt.Errorf("spill get: truncated entry: %w", ErrCacheIO)
	}

	nanos := int64(binary.BigEndian.Uint64(value))
	var expiresAt time.Time
	if nanos != 0 {
		expiresAt = time.Unix(0, nanos)
	}
	return value[8:], expiresAt, nil
}

func (s *spillStore) delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("spill delete: %w: %v", ErrCacheIO, err)
	}
	return nil
}

func (s *spillStore) clear() error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("spill clear: %w: %v", ErrCacheIO, err)
	}
	return nil
}

func (s *spillStore) close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close spill store: %w: %v", ErrCacheIO, err)
	}
	return nil
}
