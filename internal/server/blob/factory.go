package blob

import (
	"encoding/json"
	"sync"
)

// Factory constructs backends from stored configuration. The last-built
// backend is cached by configuration identity so that stateful backends
// (notably the in-memory one) survive across GC sweeps and requests that
// each fetch the stored config independently.
type Factory struct {
	mu    sync.Mutex
	key   string
	store Store
}

func NewFactory() *Factory {
	return &Factory{}
}

// Get returns a backend for cfg, reusing the cached one when the
// configuration has not changed.
func (f *Factory) Get(cfg Config) (Store, error) {
	key, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.store != nil && f.key == string(key) {
		return f.store, nil
	}

	store, err := New(cfg)
	if err != nil {
		return nil, err
	}
	f.key = string(key)
	f.store = store
	return store, nil
}
