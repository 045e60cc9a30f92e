package state

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/psniff/internal/core"
)

// Registry is the set of known interfaces. Interfaces are only ever added;
// the registry lock guards the map, never the counters.
type Registry struct {
	mu         sync.RWMutex
	interfaces map[string]*Interface
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{interfaces: make(map[string]*Interface)}
}

// Register adds an interface by name and returns its shared handle.
// A second registration of the same name fails with core.ErrInterfaceExists.
func (r *Registry) Register(name string) (*Interface, error) {
	if name == "" {
		return nil, core.ErrNoInterface
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.interfaces[name]; exists {
		return nil, fmt.Errorf("%w: %s", core.ErrInterfaceExists, name)
	}
	iface := newInterface(name)
	r.interfaces[name] = iface
	return iface, nil
}

// Lookup returns the handle registered under name.
func (r *Registry) Lookup(name string) (*Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iface, ok := r.interfaces[name]
	return iface, ok
}

// CountersFor returns the driver counters of one interface.
func (r *Registry) CountersFor(name string) (core.PacketCounters, error) {
	iface, ok := r.Lookup(name)
	if !ok {
		return core.PacketCounters{}, fmt.Errorf("%w: %s", core.ErrInterfaceUnknown, name)
	}
	return iface.Counters(), nil
}

// UpdateCounts stores driver statistics for one interface.
func (r *Registry) UpdateCounts(name string, total, osDropped, ifDropped uint64) error {
	iface, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrInterfaceUnknown, name)
	}
	iface.UpdateCounts(total, osDropped, ifDropped)
	return nil
}

// SnapshotAll returns every interface's counters, sorted by name.
func (r *Registry) SnapshotAll() []InterfaceStatus {
	r.mu.RLock()
	ifaces := make([]*Interface, 0, len(r.interfaces))
	for _, iface := range r.interfaces {
		ifaces = append(ifaces, iface)
	}
	r.mu.RUnlock()

	out := make([]InterfaceStatus, 0, len(ifaces))
	for _, iface := range ifaces {
		out = append(out, iface.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered interfaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.interfaces)
}
