package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketCarts = []byte("carts")

// BoltStore keeps carts as JSON values in a single bbolt bucket.
type BoltStore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cart store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCarts)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Load(_ context.Context, id string) (Cart, error) {
	var c Cart
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCarts).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &c)
	})
	return c, err
}

func (b *BoltStore) Save(_ context.Context, c Cart) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCarts).Put([]byte(c.ID), raw)
	})
}

func (b *BoltStore) Delete(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCarts).Delete([]byte(id))
	})
}

// PruneBefore removes carts not updated since cutoff and returns how many
// were removed.
func (b *BoltStore) PruneBefore(cutoff time.Time) (int, error) {
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketCarts)
		var stale [][]byte
		if err := bkt.ForEach(func(k, v []byte) error {
			var c Cart
			if err := json.Unmarshal(v, &c); err != nil || c.UpdatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

// MemoryStore is the fallback when no cart file is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string]Cart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]Cart)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.carts[id]
	if !ok {
		return Cart{}, ErrNotFound
	}
	c.Items = append([]Item{}, c.Items...)
	return c, nil
}

func (m *MemoryStore) Save(_ context.Context, c Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Items = append([]Item{}, c.Items...)
	m.carts[c.ID] = c
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, id)
	return nil
}
