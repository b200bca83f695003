package store

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ==================== KV Methods (BadgerDB) ====================

// SetKV stores a key-value pair. A zero ttl keeps it forever.
func (s *Store) SetKV(key string, value []byte, ttl time.Duration) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte("kv:"+key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// GetKV retrieves a value by key, nil when absent or expired
func (s *Store) GetKV(key string) ([]byte, error) {
	return s.get("kv:" + key)
}

// DeleteKV removes a key
func (s *Store) DeleteKV(key string) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte("kv:" + key))
	})
}

func (s *Store) get(key string) ([]byte, error) {
	var val []byte
	err := s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = append([]byte{}, v...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return val, err
}

// ==================== Session Storage (BadgerDB) ====================

// SessionStorage adapts the badger store to the fiber session storage
// interface.
type SessionStorage struct {
	store *Store
}

// Sessions returns session storage backed by this store
func (s *Store) Sessions() *SessionStorage {
	return &SessionStorage{store: s}
}

const sessionPrefix = "session:"

func (ss *SessionStorage) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	return ss.store.get(sessionPrefix + key)
}

func (ss *SessionStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	return ss.store.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(sessionPrefix+key), val)
		if exp > 0 {
			e = e.WithTTL(exp)
		}
		return txn.SetEntry(e)
	})
}

func (ss *SessionStorage) Delete(key string) error {
	if key == "" {
		return nil
	}
	return ss.store.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionPrefix + key))
	})
}

// Reset drops every session
func (ss *SessionStorage) Reset() error {
	return ss.store.badger.DropPrefix([]byte(sessionPrefix))
}

// Close is a no-op; the store owns the badger handle
func (ss *SessionStorage) Close() error {
	return nil
}
