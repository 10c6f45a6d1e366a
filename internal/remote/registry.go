package remote

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Factory opens a store for a DSN whose scheme it was registered under.
type Factory func(dsn string, log logrus.FieldLogger) (Store, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// Register makes a backend available for DSNs with the given scheme.
func Register(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[scheme] = factory
}

// Open returns the store for dsn, chosen by its URL scheme.
func Open(dsn string, log logrus.FieldLogger) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("remote store DSN is empty")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid remote store DSN: %w", err)
	}
	scheme := normalizeScheme(u.Scheme)
	registry.mu.RLock()
	factory, ok := registry.factories[scheme]
	registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported remote store scheme %q", scheme)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return factory(dsn, log.WithField("remote_store", scheme))
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
