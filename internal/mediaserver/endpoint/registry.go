package endpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrNotFound is returned when no endpoint has the requested name.
	ErrNotFound = errors.New("endpoint not found")

	// ErrDuplicate is returned when registering a name twice.
	ErrDuplicate = errors.New("endpoint already registered")
)

// Registry indexes endpoints by name.
type Registry struct {
	endpoints *xsync.MapOf[string, *Endpoint]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: xsync.NewMapOf[string, *Endpoint]()}
}

// Register adds an endpoint.
func (r *Registry) Register(e *Endpoint) error {
	if _, loaded := r.endpoints.LoadOrStore(e.Name(), e); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicate, e.Name())
	}
	return nil
}

// Get returns an endpoint by name.
func (r *Registry) Get(name string) (*Endpoint, error) {
	e, ok := r.endpoints.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.endpoints.Size())
	r.endpoints.Range(func(name string, _ *Endpoint) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	return r.endpoints.Size()
}

// Close releases every endpoint and empties the registry.
func (r *Registry) Close() {
	for _, name := range r.Names() {
		if e, ok := r.endpoints.LoadAndDelete(name); ok {
			e.Close()
		}
	}
	slog.Info("[Endpoint] Registry closed")
}
