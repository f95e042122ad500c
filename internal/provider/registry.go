package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Chapsvision-dev/spare/internal/config"
)

// Factory creates a destination for one profile.
type Factory func(cfg config.Config) (Destination, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register binds a provider name to its factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// New returns a destination by provider name.
func New(name string, cfg config.Config) (Destination, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider not found: %s (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(cfg)
}

// Names lists registered providers in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
