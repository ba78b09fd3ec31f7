package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Key prefix for auth state inside the badger db, so the session keys don't
// collide with anything else an embedding application stores there.
const badgerKeyPrefix = "auth:"

// BadgerTier is the durable storage tier: values survive process restarts,
// mirroring the browser's localStorage. It wraps an already-open badger
// instance so the embedding application controls the db location and
// lifecycle.
type BadgerTier struct {
	db *badger.DB
}

func NewBadgerTier(db *badger.DB) *BadgerTier {
	return &BadgerTier{db: db}
}

// Open opens a badger db at path with logging silenced and returns a tier
// backed by it. The caller owns closing the db.
func Open(path string) (*BadgerTier, *badger.DB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("error while opening session db at %q. Err: %w", path, err)
	}

	return NewBadgerTier(db), db, nil
}

func (b *BadgerTier) Get(key string) (string, bool) {
	var value string
	found := false

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			value = string(val)
			found = true
			return nil
		})
	})
	if err != nil {
		// Read failures degrade to "key absent"; the session layer treats
		// a missing token and an unreadable token identically.
		return "", false
	}

	return value, found
}

func (b *BadgerTier) Set(key string, value string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("error while writing %q to session db. Err: %w", key, err)
	}
	return nil
}

func (b *BadgerTier) Remove(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("error while removing %q from session db. Err: %w", key, err)
	}
	return nil
}
