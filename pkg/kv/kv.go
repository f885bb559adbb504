// Package kv provides the small key/value persistence layer used for
// dashboard context and session history. Entries may carry a time-to-live;
// expired entries are purged on read and by Prune.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key is missing or has expired.
var ErrNotFound = errors.New("not found")

// Store is a string-keyed byte store with optional per-entry expiry.
type Store interface {
	// Get returns the value for key. Expired entries are deleted and reported
	// as ErrNotFound.
	Get(key string) ([]byte, error)
	// Set writes value under key. A ttl <= 0 means the entry never expires.
	Set(key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys lists live keys with the given prefix, sorted.
	Keys(prefix string) ([]string, error)
	// Prune removes expired entries and returns how many were removed.
	Prune() (int, error)
	// Clear removes every entry.
	Clear() (int, error)
	Close() error
}

// Clock returns the current time. Stores take one so expiry can be tested.
type Clock func() time.Time

// entry is the persisted envelope around a value.
type entry struct {
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func (e entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func newEntry(value []byte, ttl time.Duration, now time.Time) entry {
	e := entry{Value: append([]byte(nil), value...), CreatedAt: now}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

// GetJSON decodes the value stored under key into v.
func GetJSON(s Store, key string, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, data, ttl)
}
