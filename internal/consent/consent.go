// Package consent persists whether the user agreed to on-device speech input.
package consent

import (
	"errors"
	"fmt"
	"os"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// Key is the storage key of the consent flag
const Key = "mathe-safari:speech-consent"

// Store reads and writes the consent flag
type Store interface {
	Granted() (bool, error)
	SetGranted(granted bool) error
	Close() error
}

// BadgerStore keeps the flag in a badger database so it survives restarts
type BadgerStore struct {
	db *badger.DB
}

// Open opens (or creates) the consent database in dir. An empty dir keeps
// the flag in memory only.
func Open(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create consent dir: %w", err)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open consent store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Granted implements Store. A missing key means consent was never given.
func (s *BadgerStore) Granted() (bool, error) {
	var granted bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		granted = string(val) == "true"
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("read consent: %w", err)
	}
	return granted, nil
}

// SetGranted implements Store
func (s *BadgerStore) SetGranted(granted bool) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if !granted {
			return txn.Delete([]byte(Key))
		}
		return txn.Set([]byte(Key), []byte("true"))
	})
	if err != nil {
		return fmt.Errorf("write consent: %w", err)
	}
	return nil
}

// Close implements Store
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Memory is a process-local Store
type Memory struct {
	mu      sync.Mutex
	granted bool

	// Err fails every operation when set
	Err error
}

// Granted implements Store
func (m *Memory) Granted() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	return m.granted, nil
}

// SetGranted implements Store
func (m *Memory) SetGranted(granted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.granted = granted
	return nil
}

// Close implements Store
func (m *Memory) Close() error { return nil }
