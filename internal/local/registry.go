package local

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Factory opens a backend rooted at baseDir.
type Factory func(baseDir string, log logrus.FieldLogger) (Store, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// Register makes a backend available under name.
func Register(name string, factory Factory) {
	name = normalizeName(name)
	if name == "" || factory == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[name] = factory
}

// Open opens the backend registered under name. An empty name selects sqlite.
func Open(name, baseDir string, log logrus.FieldLogger) (Store, error) {
	name = normalizeName(name)
	if name == "" {
		name = "sqlite"
	}
	registry.mu.RLock()
	factory, ok := registry.factories[name]
	registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown local store %q (available: %s)", name, strings.Join(Backends(), ", "))
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return factory(baseDir, log)
}

// Backends lists the registered backend names.
func Backends() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
