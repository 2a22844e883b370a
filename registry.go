package jitload

import (
	"sort"
	"sync"
)

// Registry maps module names to their configuration.
//
// Registration must happen before the first import of a name. Registering a
// name again replaces the previous configuration; entries are never removed.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{configs: make(map[string]*Config)}
}

// Register validates opts for name and stores the resulting Config.
func (r *Registry) Register(name string, opts Options) error {
	cfg, err := NewConfig(name, opts)
	if err != nil {
		return err
	}
	r.RegisterConfig(cfg)
	return nil
}

// RegisterConfig stores an already validated Config under its module name.
func (r *Registry) RegisterConfig(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.ModuleName()] = cfg
}

// Lookup returns the Config registered for name.
func (r *Registry) Lookup(name string) (*Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Names returns the registered module names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
