package keyValStore

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned by Store.Get when the key is absent from the active store.
	ErrNotFound = errors.New("keyValStore: key not found")
	// ErrStoreNotFound means the active store name is not a structural store of the engine.
	ErrStoreNotFound = errors.New("keyValStore: store does not exist")
	// ErrSchemaVersion is returned when the configured schema version is older than the stored one.
	ErrSchemaVersion = errors.New("keyValStore: schema version is lower than the stored version")
	ErrClosed        = errors.New("keyValStore: closed")
	ErrUnbound       = errors.New("keyValStore: store is not attached to an open KeyValStore")
	ErrCorruptValue  = errors.New("keyValStore: corrupt value")
)
