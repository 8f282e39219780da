// Package registry holds named component definitions and resolves them
// lazily. Singletons are constructed at most once per process.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	errspkg "github.com/asafsemo/semo/internal/runtime/errors"
)

// Lifetime controls instance caching.
type Lifetime int

const (
	// LifetimeSingleton components are built once and cached.
	LifetimeSingleton Lifetime = iota
	// LifetimeTransient components are built on every resolution and never
	// take part in lifecycle orchestration.
	LifetimeTransient
)

func (l Lifetime) String() string {
	if l == LifetimeTransient {
		return "transient"
	}
	return "singleton"
}

// PriorityDisabled excludes a singleton from start/stop orchestration.
const PriorityDisabled = -1

// Resolver looks up components by name.
type Resolver interface {
	Resolve(name string) (any, error)
}

// Factory builds a component. Dependencies are resolved through r.
type Factory func(r Resolver) (any, error)

// Definition describes how to build one named component.
type Definition struct {
	Lifetime Lifetime
	// Priority is the start tier. Zero is the default tier.
	Priority int
	Factory  Factory
}

// Registration is the public view of a definition.
type Registration struct {
	Name     string
	Lifetime Lifetime
	Priority int
}

// Module contributes definitions during bootstrap.
type Module func(r *Registry) error

// Singleton is a shorthand for an orchestrated singleton at priority.
func Singleton(priority int, factory Factory) Definition {
	return Definition{Lifetime: LifetimeSingleton, Priority: priority, Factory: factory}
}

// Transient is a shorthand for a component built on every resolution.
func Transient(factory Factory) Definition {
	return Definition{Lifetime: LifetimeTransient, Priority: PriorityDisabled, Factory: factory}
}

// Value registers a prebuilt value outside lifecycle orchestration.
func Value(v any) Definition {
	return Definition{
		Lifetime: LifetimeSingleton,
		Priority: PriorityDisabled,
		Factory:  func(Resolver) (any, error) { return v, nil },
	}
}

type entry struct {
	def Definition

	mu       sync.Mutex
	built    bool
	instance any
}

func (e *entry) isBuilt() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.built
}

// Registry stores definitions. Registration is expected during bootstrap;
// resolution is safe for concurrent use afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds definitions. A name registered twice keeps the latest
// definition, unless its singleton has already been built: that instance may
// be held by other components, so the whole call is rejected. Names are
// recorded in sorted order within one call.
func (r *Registry) Register(defs map[string]Definition) error {
	names := make([]string, 0, len(defs))
	for name, def := range defs {
		if strings.TrimSpace(name) == "" {
			return errspkg.ErrNameRequired
		}
		if def.Factory == nil {
			return fmt.Errorf("%w: %s", errspkg.ErrFactoryRequired, name)
		}
		if def.Priority < PriorityDisabled {
			return fmt.Errorf("%w: %s has priority %d", errspkg.ErrInvalidPriority, name, def.Priority)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if e, exists := r.entries[name]; exists && e.isBuilt() {
			return fmt.Errorf("%w: %s", errspkg.ErrComponentBuilt, name)
		}
	}
	for _, name := range names {
		if _, exists := r.entries[name]; !exists {
			r.order = append(r.order, name)
		}
		r.entries[name] = &entry{def: defs[name]}
	}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Registrations lists every definition in registration order.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, Registration{Name: name, Lifetime: e.def.Lifetime, Priority: e.def.Priority})
	}
	return out
}

// Resolve returns the instance for name, building it on first use.
func (r *Registry) Resolve(name string) (any, error) {
	return r.resolve(name, nil)
}

func (r *Registry) resolve(name string, path []string) (any, error) {
	for _, seen := range path {
		if seen == name {
			return nil, fmt.Errorf("%w: %s -> %s", errspkg.ErrComponentCycle, strings.Join(path, " -> "), name)
		}
	}

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrComponentNotFound, name)
	}

	scope := &scopedResolver{registry: r, path: append(append([]string(nil), path...), name)}
	if e.def.Lifetime == LifetimeTransient {
		return build(name, e.def.Factory, scope)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.built {
		return e.instance, nil
	}
	instance, err := build(name, e.def.Factory, scope)
	if err != nil {
		return nil, err
	}
	e.instance = instance
	e.built = true
	return instance, nil
}

func build(name string, factory Factory, r Resolver) (instance any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("semo: component %s factory panicked: %v", name, rec)
		}
	}()
	instance, err = factory(r)
	if err != nil {
		return nil, fmt.Errorf("semo: build component %s: %w", name, err)
	}
	return instance, nil
}

// scopedResolver tracks the resolution path so cycles surface as errors.
type scopedResolver struct {
	registry *Registry
	path     []string
}

func (s *scopedResolver) Resolve(name string) (any, error) {
	return s.registry.resolve(name, s.path)
}

// ResolveAs resolves name and asserts its type.
func ResolveAs[T any](r Resolver, name string) (T, error) {
	var zero T
	v, err := r.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("semo: component %s is %T, not %T", name, v, zero)
	}
	return typed, nil
}
