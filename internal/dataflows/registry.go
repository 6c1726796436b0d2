package dataflows

import (
	"slices"
	"sync"
)

// Registry holds vendors in registration order, which is also the priority
// order used after the configured fallbacks are exhausted.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	vendors map[string]Vendor
}

func NewRegistry() *Registry {
	return &Registry{vendors: make(map[string]Vendor)}
}

// Register adds v, replacing any vendor with the same name in place.
func (r *Registry) Register(v Vendor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vendors[v.Name()]; !ok {
		r.order = append(r.order, v.Name())
	}
	r.vendors[v.Name()] = v
}

func (r *Registry) Get(name string) (Vendor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vendors[name]
	return v, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Supports reports whether the named vendor is registered and serves tool.
func (r *Registry) Supports(name, tool string) bool {
	v, ok := r.Get(name)
	return ok && slices.Contains(v.Tools(), tool)
}

// ForTool lists the vendors serving tool in registration order.
func (r *Registry) ForTool(tool string) []Vendor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Vendor
	for _, name := range r.order {
		v := r.vendors[name]
		if slices.Contains(v.Tools(), tool) {
			out = append(out, v)
		}
	}
	return out
}
