package keyValStore

import (
	"sync"

	"github.com/pkg/errors"
)

// Registry collects the logical stores of one database. It is created once,
// filled with Register and handed to NewKeyValStore, which upgrades the schema
// for every registered store and binds them to the engine.
type Registry struct {
	mu     sync.Mutex
	stores []*Store
	kv     *KeyValStore
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register declares a logical store. compatibleName is a legacy name that is
// used instead of name when a store under name does not exist but one under
// compatibleName does. Pass "" when there is no legacy name.
//
// Stores registered after the registry is attached are bound right away but
// are not part of any schema upgrade.
func (r *Registry) Register(name, compatibleName string) *Store {
	s := &Store{
		name:           name,
		compatibleName: compatibleName,
		active:         name,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stores = append(r.stores, s)
	if r.kv != nil {
		s.bind(r.kv)
	}

	return s
}

// Stores returns the registered stores in registration order.
func (r *Registry) Stores() []*Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Store, len(r.stores))
	copy(out, r.stores)
	return out
}

func (r *Registry) attach(kv *KeyValStore) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.kv != nil {
		return errors.New("registry is already attached to a KeyValStore")
	}

	r.kv = kv
	for _, s := range r.stores {
		s.bind(kv)
	}
	return nil
}

func (r *Registry) detach(kv *KeyValStore) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.kv == kv {
		r.kv = nil
	}
}
