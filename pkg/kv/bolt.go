package kv

import (
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketKV = []byte("kv")

// BoltStore implements Store on a bbolt database file.
type BoltStore struct {
	db  *bolt.DB
	now Clock
}

// BoltOption configures a BoltStore.
type BoltOption func(*BoltStore)

// WithClock overrides the clock used for expiry.
func WithClock(c Clock) BoltOption {
	return func(s *BoltStore) { s.now = c }
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, opts ...BoltOption) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *BoltStore) Get(key string) ([]byte, error) {
	var (
		e         entry
		found     bool
		decodeErr error
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketKV).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		decodeErr = json.Unmarshal(data, &e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		slog.Warn("kv: dropping malformed entry", "key", key, "error", decodeErr)
		_ = s.Delete(key)
		return nil, ErrNotFound
	}
	if !found {
		return nil, ErrNotFound
	}
	if e.expired(s.now()) {
		_ = s.Delete(key)
		return nil, ErrNotFound
	}
	return e.Value, nil
}

// Set implements Store.
func (s *BoltStore) Set(key string, value []byte, ttl time.Duration) error {
	data, err := json.Marshal(newEntry(value, ttl, s.now()))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), data)
	})
}

// Delete implements Store.
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Delete([]byte(key))
	})
}

// Keys implements Store.
func (s *BoltStore) Keys(prefix string) ([]string, error) {
	now := s.now()
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketKV).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil || e.expired(now) {
				continue
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	slices.Sort(keys)
	return keys, err
}

// Prune implements Store.
func (s *BoltStore) Prune() (int, error) {
	now := s.now()
	return s.deleteWhere(func(k, v []byte) bool {
		var e entry
		if err := json.Unmarshal(v, &e); err != nil {
			slog.Warn("kv: pruning malformed entry", "key", string(k), "error", err)
			return true
		}
		return e.expired(now)
	})
}

// Clear implements Store.
func (s *BoltStore) Clear() (int, error) {
	return s.deleteWhere(func(_, _ []byte) bool { return true })
}

// deleteWhere collects matching keys in a read transaction, then removes
// them in a single write transaction.
func (s *BoltStore) deleteWhere(match func(k, v []byte) bool) (int, error) {
	var toDelete [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).ForEach(func(k, v []byte) error {
			if match(k, v) {
				toDelete = append(toDelete, slices.Clone(k))
			}
			return nil
		})
	})
	if err != nil || len(toDelete) == 0 {
		return 0, err
	}

	var n int
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
