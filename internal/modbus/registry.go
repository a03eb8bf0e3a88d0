// internal/modbus/registry.go
package modbus

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"vehicle-gateway/internal/errs"
)

// PortID identifies a registered port.
type PortID int

// Port is one physical bus known to the gateway.
type Port struct {
	ID     PortID
	Name   string
	Path   string
	Client *Client

	closer io.Closer
}

// Registry holds the ports the Manager arbitrates.
type Registry struct {
	mu     sync.RWMutex
	ports  map[PortID]*Port
	nextID PortID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ports: make(map[PortID]*Port)}
}

// Add registers a bus reachable through tx. closer may be nil.
func (r *Registry) Add(name, path string, tx Transactor, closer io.Closer, timeout time.Duration) PortID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.ports[id] = &Port{
		ID:     id,
		Name:   name,
		Path:   path,
		Client: NewClient(tx, timeout),
		closer: closer,
	}
	return id
}

// Get returns the port registered under id.
func (r *Registry) Get(id PortID) (*Port, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.ports[id]
	if !ok {
		return nil, fmt.Errorf("port %d: %w", id, errs.ErrNotFound)
	}
	return p, nil
}

// Resolve finds a port by name or device path.
func (r *Registry) Resolve(nameOrPath string) (*Port, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.ports {
		if p.Name == nameOrPath || p.Path == nameOrPath {
			return p, nil
		}
	}
	return nil, fmt.Errorf("port %q: %w", nameOrPath, errs.ErrNotFound)
}

// Ports returns all ports ordered by id.
func (r *Registry) Ports() []*Port {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Port, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close closes every port that carries a closer.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for _, p := range r.ports {
		if p.closer != nil {
			err = multierr.Append(err, p.closer.Close())
		}
	}
	return err
}
