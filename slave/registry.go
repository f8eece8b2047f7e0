package slave

import (
	"fmt"
	"sort"
	"sync"
)

// Handle identifies an engine within a registry.
type Handle uint32

// Registry tracks engines and exclusive claims on shared hardware
// resources. The zero value is not usable, see NewRegistry.
type Registry struct {
	mx      sync.Mutex
	next    Handle
	engines map[Handle]*Engine
	byID    map[string]Handle
	claims  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		next:    1,
		engines: make(map[Handle]*Engine),
		byID:    make(map[string]Handle),
		claims:  make(map[string]string),
	}
}

// Register creates an uninitialized engine bound to ctrl.
func (r *Registry) Register(ctrl Controller, opts ...Option) (*Engine, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if h, ok := r.byID[ctrl.ID()]; ok {
		return nil, fmt.Errorf("controller %s already registered as handle %d: %w", ctrl.ID(), h, ErrResourceBusy)
	}
	h := r.next
	r.next++
	e := newEngine(r, h, ctrl, opts...)
	r.engines[h] = e
	r.byID[ctrl.ID()] = h
	return e, nil
}

// Unregister uninitializes the engine and forgets it.
func (r *Registry) Unregister(h Handle) {
	r.mx.Lock()
	e, ok := r.engines[h]
	if ok {
		delete(r.engines, h)
		delete(r.byID, e.ctrl.ID())
	}
	r.mx.Unlock()
	if ok {
		e.Uninit()
	}
}

func (r *Registry) Lookup(h Handle) (*Engine, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	e, ok := r.engines[h]
	return e, ok
}

// Engines returns registered engines ordered by handle.
func (r *Registry) Engines() []*Engine {
	r.mx.Lock()
	defer r.mx.Unlock()
	res := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].handle < res[j].handle })
	return res
}

// Claim takes resource for owner. Claiming a resource already held by the
// same owner is a no-op.
func (r *Registry) Claim(resource, owner string) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if cur, ok := r.claims[resource]; ok && cur != owner {
		return fmt.Errorf("resource %s held by %s: %w", resource, cur, ErrResourceBusy)
	}
	r.claims[resource] = owner
	return nil
}

// Release drops the claim if owner holds it.
func (r *Registry) Release(resource, owner string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.claims[resource] == owner {
		delete(r.claims, resource)
	}
}

// Owner returns the current holder of resource.
func (r *Registry) Owner(resource string) (string, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	o, ok := r.claims[resource]
	return o, ok
}
