package kv

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func setupBolt(t *testing.T, clock *fakeClock) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "kv.db"), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stores runs fn against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store, clock *fakeClock)) {
	t.Run("memory", func(t *testing.T) {
		clock := newClock()
		fn(t, NewMemoryStore(clock.Now), clock)
	})
	t.Run("bolt", func(t *testing.T) {
		clock := newClock()
		fn(t, setupBolt(t, clock), clock)
	})
}

func TestSetGetDelete(t *testing.T) {
	stores(t, func(t *testing.T, s Store, _ *fakeClock) {
		if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := s.Set("a", []byte("one"), 0); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, err := s.Get("a")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got) != "one" {
			t.Errorf("got %q, want one", got)
		}
		if err := s.Delete("a"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.Delete("a"); err != nil {
			t.Errorf("deleting missing key: %v", err)
		}
		if _, err := s.Get("a"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestExpiry(t *testing.T) {
	stores(t, func(t *testing.T, s Store, clock *fakeClock) {
		if err := s.Set("ctx", []byte("x"), time.Hour); err != nil {
			t.Fatal(err)
		}
		if err := s.Set("forever", []byte("y"), 0); err != nil {
			t.Fatal(err)
		}

		clock.Advance(59 * time.Minute)
		if _, err := s.Get("ctx"); err != nil {
			t.Fatalf("entry expired early: %v", err)
		}

		clock.Advance(time.Minute)
		if _, err := s.Get("ctx"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected expired entry to be gone, got %v", err)
		}
		if _, err := s.Get("forever"); err != nil {
			t.Errorf("entry without ttl expired: %v", err)
		}
	})
}

func TestPruneAndClear(t *testing.T) {
	stores(t, func(t *testing.T, s Store, clock *fakeClock) {
		_ = s.Set("a", []byte("1"), time.Minute)
		_ = s.Set("b", []byte("2"), time.Minute)
		_ = s.Set("c", []byte("3"), time.Hour)

		clock.Advance(2 * time.Minute)
		n, err := s.Prune()
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("pruned %d, want 2", n)
		}

		n, err = s.Clear()
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("cleared %d, want 1", n)
		}
		keys, _ := s.Keys("")
		if len(keys) != 0 {
			t.Errorf("keys after clear = %v", keys)
		}
	})
}

func TestKeysPrefix(t *testing.T) {
	stores(t, func(t *testing.T, s Store, clock *fakeClock) {
		_ = s.Set("session/b", nil, 0)
		_ = s.Set("session/a", nil, 0)
		_ = s.Set("session/old", nil, time.Second)
		_ = s.Set("other", nil, 0)
		clock.Advance(time.Minute)

		keys, err := s.Keys("session/")
		if err != nil {
			t.Fatal(err)
		}
		if len(keys) != 2 || keys[0] != "session/a" || keys[1] != "session/b" {
			t.Errorf("keys = %v", keys)
		}
	})
}

func TestJSONHelpers(t *testing.T) {
	stores(t, func(t *testing.T, s Store, _ *fakeClock) {
		type payload struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		}
		if err := SetJSON(s, "p", payload{Name: "x", Count: 3}, 0); err != nil {
			t.Fatal(err)
		}
		var got payload
		if err := GetJSON(s, "p", &got); err != nil {
			t.Fatal(err)
		}
		if got.Name != "x" || got.Count != 3 {
			t.Errorf("got %+v", got)
		}

		_ = s.Set("bad", []byte("{not json"), 0)
		if err := GetJSON(s, "bad", &got); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("expected decode error, got %v", err)
		}
	})
}

func TestBoltMalformedEnvelopeDropped(t *testing.T) {
	clock := newClock()
	s := setupBolt(t, clock)

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte("junk"), []byte("garbage"))
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get("junk"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed entry, got %v", err)
	}
	keys, _ := s.Keys("")
	if len(keys) != 0 {
		t.Errorf("malformed entry still listed: %v", keys)
	}
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get("k")
	if err != nil || string(got) != "v" {
		t.Errorf("got %q, %v", got, err)
	}
}
