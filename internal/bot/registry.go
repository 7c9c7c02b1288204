package bot

import (
	"sync"

	"github.com/keepmind9/chatbridge/internal/logger"
	"github.com/sirupsen/logrus"
)

// Registry maps platform names to adapter instances, one per platform.
// Construct a private instance for test isolation or multi-tenant use;
// DefaultRegistry is the process-wide instance used at the composition point.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// DefaultRegistry is the process-wide registry the façade falls back to.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register inserts an adapter for a platform. Re-registering a platform is
// allowed and the last registration wins; the overwrite is logged rather
// than silently ignored.
func (r *Registry) Register(platform string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[platform]; exists {
		logger.WithFields(logrus.Fields{
			"platform": platform,
		}).Warn("adapter-already-registered-overwriting")
	}
	r.adapters[platform] = a
}

// Get returns the adapter registered for a platform.
func (r *Registry) Get(platform string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	return a, ok
}

// Has reports whether a platform has a registered adapter.
func (r *Registry) Has(platform string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[platform]
	return ok
}

// Clear removes all entries. Used to reset state between independent bot
// lifecycles or test runs.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = make(map[string]Adapter)
}
