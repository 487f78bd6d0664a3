package keyValStore

import (
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// KeyValStore is the storage engine behind all logical stores of a Registry.
// It holds the badger database; every store operation runs in its own
// short-lived transaction.
type KeyValStore struct {
	config   StoreConfig
	log      *logrus.Logger
	badgerDB *badger.DB
	registry *Registry

	closeMu sync.RWMutex
	closed  bool

	readCounter  uint64
	writeCounter uint64
	openSessions int64
}

// NewKeyValStore opens the engine, upgrades the schema over every store in
// registry if config.SchemaVersion is newer than the stored version and binds
// the stores to the engine. A registry detached by Close may be handed to a
// new engine.
func NewKeyValStore(config StoreConfig, registry *Registry) (*KeyValStore, error) {
	config.applyDefaults()
	log := config.Logger

	if registry == nil {
		return nil, errors.New("no registry provided for KeyValStore")
	}

	err := config.checkConfig()
	if err != nil {
		return nil, errors.Wrap(err, "error checking config for KeyValStore")
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Paths[0])
		opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	}
	opts.Logger = nil
	opts.SyncWrites = config.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "error opening badger")
	}

	k := &KeyValStore{
		config:   config,
		log:      log,
		badgerDB: db,
		registry: registry,
	}

	if err := k.upgrade(registry.Stores()); err != nil {
		db.Close()
		return nil, err
	}

	if err := registry.attach(k); err != nil {
		db.Close()
		return nil, err
	}

	if !config.InMemory {
		if err := displayDiskUsage(log, config.Paths); err != nil {
			log.Warnf("Could not display disk usage: %v", err)
		}
	}

	return k, nil
}

// upgrade binds every store to its primary name, or to its compatible name
// if only that one exists, and creates missing stores when config.SchemaVersion
// is newer than the stored version. It runs in a single transaction and the
// names are applied only after it committed.
func (k *KeyValStore) upgrade(stores []*Store) error {
	target := k.config.SchemaVersion
	rebinds := map[*Store]string{}

	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		current, err := readSchemaVersion(txn)
		if err != nil {
			return err
		}

		if current > target {
			return errors.Wrapf(ErrSchemaVersion, "stored %d, configured %d", current, target)
		}
		upgrading := current < target
		if upgrading {
			k.log.WithFields(logrus.Fields{
				"from": current,
				"to":   target,
			}).Info("Upgrading schema")
		} else {
			k.log.WithField("version", current).Debug("Schema is up to date")
		}

		for _, s := range stores {
			exists, err := storeExists(txn, s.name)
			if err != nil {
				return err
			}
			if exists {
				continue
			}

			if s.compatibleName != "" {
				compatible, err := storeExists(txn, s.compatibleName)
				if err != nil {
					return err
				}
				if compatible {
					rebinds[s] = s.compatibleName
					k.log.WithFields(logrus.Fields{
						"store":      s.name,
						"compatible": s.compatibleName,
					}).Debug("Using compatible store")
					continue
				}
			}

			if !upgrading {
				continue
			}
			k.log.WithField("store", s.name).Debug("Creating store")
			if err := txn.Set(storeMarkerKey(s.name), []byte{1}); err != nil {
				return errors.Wrapf(err, "error creating store %s", s.name)
			}
		}

		if !upgrading {
			return nil
		}
		return txn.Set(schemaVersionKey, encodeVersion(target))
	})
	if err != nil {
		return errors.Wrap(err, "error upgrading schema")
	}

	// names chosen for an earlier engine do not carry over
	for _, s := range stores {
		name, ok := rebinds[s]
		if !ok {
			name = s.name
		}
		s.setActive(name)
	}

	return nil
}

func readSchemaVersion(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(schemaVersionKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "error reading schema version")
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, errors.Wrap(err, "error reading schema version")
	}
	return decodeVersion(raw)
}

func storeExists(txn *badger.Txn, storeName string) (bool, error) {
	_, err := txn.Get(storeMarkerKey(storeName))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "error checking store %s", storeName)
	}
	return true, nil
}

// SchemaVersion returns the version stored in the engine.
func (k *KeyValStore) SchemaVersion() (uint64, error) {
	var version uint64
	err := k.session(false, func(txn *badger.Txn) error {
		var err error
		version, err = readSchemaVersion(txn)
		return err
	})
	return version, err
}

// session runs fn inside one transaction and always releases it.
func (k *KeyValStore) session(update bool, fn func(txn *badger.Txn) error) error {
	k.closeMu.RLock()
	defer k.closeMu.RUnlock()

	if k.closed {
		return ErrClosed
	}

	atomic.AddInt64(&k.openSessions, 1)
	txn := k.badgerDB.NewTransaction(update)
	defer func() {
		txn.Discard()
		atomic.AddInt64(&k.openSessions, -1)
	}()

	if err := fn(txn); err != nil {
		return err
	}

	if update {
		if err := txn.Commit(); err != nil {
			return errors.Wrap(err, "error committing transaction")
		}
	}
	return nil
}

// OpenSessions returns the number of transactions currently in flight.
func (k *KeyValStore) OpenSessions() int64 {
	return atomic.LoadInt64(&k.openSessions)
}

// OperationCounts returns the number of store reads and writes since open.
func (k *KeyValStore) OperationCounts() (reads, writes uint64) {
	return atomic.LoadUint64(&k.readCounter), atomic.LoadUint64(&k.writeCounter)
}

// Clean syncs the database and runs the badger value log garbage collection.
func (k *KeyValStore) Clean() error {
	k.closeMu.RLock()
	defer k.closeMu.RUnlock()

	if k.closed {
		return ErrClosed
	}

	if !k.config.InMemory {
		if err := k.badgerDB.Sync(); err != nil {
			return errors.Wrap(err, "error syncing db")
		}
	}

	err := k.badgerDB.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		return errors.Wrap(err, "error cleaning db")
	}

	return nil
}

// Close closes the engine. Stores of the registry fail with ErrClosed afterwards.
func (k *KeyValStore) Close() error {
	k.closeMu.Lock()
	defer k.closeMu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	k.registry.detach(k)

	if err := k.badgerDB.Close(); err != nil {
		return errors.Wrap(err, "error closing badger")
	}
	return nil
}
