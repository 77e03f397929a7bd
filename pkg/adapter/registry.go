package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds all judge adapters and dispatches by name, URL, or
// capability. It is a process-global singleton created at startup with an
// explicit registration list.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter and initializes it. Initialization failure
// keeps the adapter registered with its operations failing fast, so a
// broken judge does not take down the whole service.
func (r *Registry) Register(a Adapter, cc *Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %q already registered", name)
	}
	r.adapters[name] = a

	if err := a.Initialize(cc); err != nil {
		slog.Warn("Adapter initialization failed, operations will fail fast",
			"adapter", name, "error", err)
	} else {
		slog.Info("Adapter registered", "adapter", name, "capabilities", a.Capabilities())
	}
	return nil
}

// Get returns an adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns all registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindByURL returns the adapter whose fetcher supports the URL. Ties are
// broken by priority (higher wins), then name for determinism.
func (r *Registry) FindByURL(url string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Adapter
	for _, a := range r.sortedLocked() {
		f, ok := a.(Fetcher)
		if !ok {
			continue
		}
		if f.SupportsURL(url) {
			best = a
			break
		}
	}
	return best, best != nil
}

// FindByCapability picks the highest-priority adapter declaring cap and,
// when url is non-empty, whose fetcher also supports the URL.
func (r *Registry) FindByCapability(cap Capability, url string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.sortedLocked() {
		if !HasCapability(a, cap) {
			continue
		}
		if url != "" {
			f, ok := a.(Fetcher)
			if !ok || !f.SupportsURL(url) {
				continue
			}
		}
		return a, true
	}
	return nil, false
}

// Shutdown shuts down every adapter. Errors are logged, not returned;
// shutdown is best-effort.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, a := range r.adapters {
		if err := a.Shutdown(); err != nil {
			slog.Warn("Adapter shutdown failed", "adapter", name, "error", err)
		}
	}
}

// sortedLocked returns adapters ordered by priority desc, then name.
// Callers must hold at least the read lock.
func (r *Registry) sortedLocked() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}
