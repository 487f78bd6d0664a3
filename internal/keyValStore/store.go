package keyValStore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxStructuralRetries bounds how often an operation is repeated after the
// store switched to its compatible name.
const maxStructuralRetries = 1

// Store is one logical namespace of a KeyValStore.
type Store struct {
	name           string
	compatibleName string

	mu     sync.RWMutex
	active string
	kv     *KeyValStore
}

// Result is the outcome of a Lookup. Found is false when the key is absent.
type Result struct {
	Value []byte
	Found bool
}

func (s *Store) bind(kv *KeyValStore) {
	s.mu.Lock()
	s.kv = kv
	s.mu.Unlock()
}

func (s *Store) setActive(name string) {
	s.mu.Lock()
	s.active = name
	s.mu.Unlock()
}

func (s *Store) state() (string, *KeyValStore) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.kv
}

// switchToCompatible moves the store from name to its compatible name. It
// reports false if there is nothing to switch to. A concurrent call that
// already switched counts as switched.
func (s *Store) switchToCompatible(from string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != from {
		return true
	}
	if s.compatibleName == "" || s.compatibleName == from {
		return false
	}
	s.active = s.compatibleName
	return true
}

// Name returns the name the store currently operates under.
func (s *Store) Name() string {
	name, _ := s.state()
	return name
}

// PrimaryName returns the name the store was registered with.
func (s *Store) PrimaryName() string {
	return s.name
}

// CompatibleName returns the legacy name of the store, "" if there is none.
func (s *Store) CompatibleName() string {
	return s.compatibleName
}

// do runs op in its own session against the active store. If the active
// store does not exist and a compatible name is configured the store
// switches to it for good and op is tried once more.
func (s *Store) do(update bool, op func(kv *KeyValStore, txn *badger.Txn, storeName string) error) error {
	var structuralErr error

	for attempt := 0; attempt <= maxStructuralRetries; attempt++ {
		name, kv := s.state()
		if kv == nil {
			return ErrUnbound
		}

		err := kv.session(update, func(txn *badger.Txn) error {
			exists, err := storeExists(txn, name)
			if err != nil {
				return err
			}
			if !exists {
				return errors.Wrapf(ErrStoreNotFound, "store %q", name)
			}
			return op(kv, txn, name)
		})

		if structuralErr != nil {
			if err != nil {
				kv.log.WithFields(logrus.Fields{
					"store": name,
					"error": err,
				}).Debug("Retry on compatible store failed")
				return structuralErr
			}
			return nil
		}

		if err == nil || !errors.Is(err, ErrStoreNotFound) {
			return err
		}

		structuralErr = err
		if !s.switchToCompatible(name) {
			return err
		}

		kv.log.WithFields(logrus.Fields{
			"store":      name,
			"compatible": s.compatibleName,
		}).Debug("Store not found, retrying with compatible store")
	}

	return structuralErr
}

// Lookup reads key. A missing key is reported through Result.Found, not as an error.
func (s *Store) Lookup(ctx context.Context, key string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	err := s.do(false, func(kv *KeyValStore, txn *badger.Txn, storeName string) error {
		res = Result{}
		atomic.AddUint64(&kv.readCounter, 1)

		item, err := txn.Get(dataKey(storeName, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "error reading key %q from store %s", key, storeName)
		}

		raw, err := item.ValueCopy(nil)
		if err != nil {
			return errors.Wrapf(err, "error reading key %q from store %s", key, storeName)
		}

		value, err := decodeValue(raw)
		if err != nil {
			return errors.Wrapf(err, "key %q in store %s", key, storeName)
		}

		res = Result{Value: value, Found: true}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Get reads key and fails with ErrNotFound if it is absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := s.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, errors.Wrapf(ErrNotFound, "key %q in store %s", key, s.Name())
	}
	return res.Value, nil
}

// Put stores value under key, overwriting any existing value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.do(true, func(kv *KeyValStore, txn *badger.Txn, storeName string) error {
		atomic.AddUint64(&kv.writeCounter, 1)

		encoded, err := encodeValue(value, kv.config.Compression)
		if err != nil {
			return errors.Wrapf(err, "error encoding key %q for store %s", key, storeName)
		}

		if err := txn.Set(dataKey(storeName, key), encoded); err != nil {
			return errors.Wrapf(err, "error writing key %q to store %s", key, storeName)
		}
		return nil
	})
}

// Count returns the number of keys in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int
	err := s.do(false, func(_ *KeyValStore, txn *badger.Txn, storeName string) error {
		count = 0
		prefix := storePrefix(storeName)

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
