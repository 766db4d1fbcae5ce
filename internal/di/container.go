// Package di implements the three-lifetime dependency injection container
// described in spec.md §3/§4.1: service registration, resolution with
// Singleton/Scoped/Transient caching, generic-keyed service types
// (Base[Key]), multi-registration per interface, list-of-T resolution, and
// constructor/handler parameter injection by declared type only — never by
// name.
//
// Grounded on the pack's generics-based container
// (other_examples/370cb6e6_mwantia-fabric__pkg-container-container.go.go):
// Register[T]/Resolve[T] as top-level generic functions (Go methods cannot
// themselves be generic), a reflect.Type-keyed descriptor table, and a
// singleton cache guarded by a RWMutex.
package di

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/dispatchkit/dispatch/internal/apperr"
)

// FactoryFunc constructs a service instance given the resolving container.
type FactoryFunc func(c *Container) (any, error)

type descriptor struct {
	serviceType reflect.Type
	lifetime    Lifetime
	factory     FactoryFunc
}

// cacheKey identifies one cached instance: a base service type, the index of
// the descriptor among same-type registrations (distinguishing
// multi-registered services from one another), and the ordered tuple of
// generic keys used to resolve it (spec.md §3: "The cache key is (base_type,
// ordered_tuple_of_keys)").
type cacheKey struct {
	t    reflect.Type
	idx  int
	keys string
}

func makeCacheKey(t reflect.Type, idx int, keys []string) cacheKey {
	joined := ""
	for i, k := range keys {
		if i > 0 {
			joined += "\x00"
		}
		joined += k
	}
	return cacheKey{t: t, idx: idx, keys: joined}
}

// Closer is implemented by scoped services that own a releasable resource.
// DisposeScope closes every cached instance recognizing this capability.
type Closer interface {
	Close() error
}

// Container is a ServiceProvider: the descriptor table, the singleton cache,
// and (for a scope) its own scoped cache and a parent pointer. A Container
// value is never copied while registrations may race it; it is always
// handed around by pointer, and its locks are themselves pointers so that
// withStack (used internally for circular-dependency tracking) can take a
// shallow, lock-safe copy.
type Container struct {
	mu *sync.RWMutex

	// descriptors and singletons are shared (the same map) across an entire
	// root+scopes tree: every Container in the tree points at root's maps.
	descriptors map[reflect.Type][]*descriptor
	singletons  map[cacheKey]any

	scopedMu *sync.Mutex
	scoped   map[cacheKey]any

	parent *Container
	root   *Container

	// stack is the chain of cacheKeys currently under construction on this
	// resolution call, used for circular-dependency detection. Never
	// mutated in place — extended via withStack when descending into a
	// factory call.
	stack []cacheKey
}

// New creates a root container.
func New() *Container {
	c := &Container{
		mu:          &sync.RWMutex{},
		descriptors: make(map[reflect.Type][]*descriptor),
		singletons:  make(map[cacheKey]any),
		scopedMu:    &sync.Mutex{},
		scoped:      make(map[cacheKey]any),
	}
	c.root = c
	return c
}

// CreateScope creates a child container sharing this tree's descriptors and
// singleton cache, with its own empty scoped cache. Intended to be created
// once per inbound message and disposed when the handler returns.
func (c *Container) CreateScope() *Container {
	return &Container{
		mu:          c.root.mu,
		descriptors: c.root.descriptors,
		singletons:  c.root.singletons,
		scopedMu:    &sync.Mutex{},
		scoped:      make(map[cacheKey]any),
		parent:      c,
		root:        c.root,
	}
}

// withStack returns a shallow copy of c with its resolution stack extended
// by key. Sharing maps/mutexes by pointer keeps scoped-cache identity intact
// while letting nested resolve calls made from inside a factory see the
// in-progress chain.
func (c *Container) withStack(key cacheKey) *Container {
	clone := *c
	clone.stack = append(append([]cacheKey(nil), c.stack...), key)
	return &clone
}

// DisposeScope releases this scope's cached instances, closing any that
// implement Closer. Safe to call on the root container at shutdown.
func (c *Container) DisposeScope() {
	c.scopedMu.Lock()
	instances := c.scoped
	c.scoped = make(map[cacheKey]any)
	c.scopedMu.Unlock()

	for _, inst := range instances {
		if closer, ok := inst.(Closer); ok {
			_ = closer.Close()
		}
	}
}

// register appends a descriptor for t. Multiple descriptors may share a
// service type; insertion order is preserved and significant (first wins on
// single resolution, all are returned in order for list-of-T resolution).
func (c *Container) register(t reflect.Type, lifetime Lifetime, factory FactoryFunc) {
	root := c.root
	root.mu.Lock()
	defer root.mu.Unlock()
	root.descriptors[t] = append(root.descriptors[t], &descriptor{
		serviceType: t,
		lifetime:    lifetime,
		factory:     factory,
	})
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Register adds a factory-backed service descriptor for T with the given
// lifetime.
func Register[T any](c *Container, lifetime Lifetime, factory func(c *Container) (T, error)) {
	t := typeOf[T]()
	c.register(t, lifetime, func(cc *Container) (any, error) {
		return factory(cc)
	})
}

// RegisterInstance registers a fixed, already-constructed instance as a
// Singleton. Equivalent to spec.md's Instance(v) provider.
func RegisterInstance[T any](c *Container, instance T) {
	Register[T](c, Singleton, func(*Container) (T, error) {
		return instance, nil
	})
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// RegisterConstructor registers ctor — a func(...) T or func(...) (T, error)
// — as the ImplementationClass provider for T. Every parameter's declared
// type is resolved from the container at construction time (never by
// parameter name); a []E parameter receives every registered E in
// registration order (the "list of T" rule). This mirrors the spec's
// startup-time scan of a constructor's parameter list, generalized to Go's
// static typing: a declared parameter type IS the annotation.
func RegisterConstructor[T any](c *Container, lifetime Lifetime, ctor any) error {
	ctorVal := reflect.ValueOf(ctor)
	ctorType := ctorVal.Type()
	if ctorType.Kind() != reflect.Func {
		return fmt.Errorf("di: RegisterConstructor: ctor must be a function, got %s", ctorType.Kind())
	}
	numOut := ctorType.NumOut()
	if numOut != 1 && numOut != 2 {
		return fmt.Errorf("di: RegisterConstructor: ctor must return (T) or (T, error)")
	}
	want := typeOf[T]()
	if !ctorType.Out(0).AssignableTo(want) {
		return fmt.Errorf("di: RegisterConstructor: ctor returns %s, want assignable to %s", ctorType.Out(0), want)
	}
	if numOut == 2 && !ctorType.Out(1).Implements(errType) {
		return fmt.Errorf("di: RegisterConstructor: second return value must be error")
	}

	factory := func(cc *Container) (any, error) {
		args, err := cc.buildArgs(ctorType)
		if err != nil {
			return nil, err
		}
		results := ctorVal.Call(args)
		if numOut == 2 {
			if errVal := results[1].Interface(); errVal != nil {
				return nil, errVal.(error)
			}
		}
		return results[0].Interface(), nil
	}
	c.register(want, lifetime, factory)
	return nil
}

// buildArgs resolves every parameter of fnType from the container, applying
// the list-of-T rule for slice parameters.
func (c *Container) buildArgs(fnType reflect.Type) ([]reflect.Value, error) {
	args := make([]reflect.Value, fnType.NumIn())
	for i := 0; i < fnType.NumIn(); i++ {
		paramType := fnType.In(i)
		if paramType.Kind() == reflect.Slice {
			vals, err := c.resolveAllRaw(paramType.Elem())
			if err != nil {
				return nil, err
			}
			slice := reflect.MakeSlice(paramType, len(vals), len(vals))
			for j, v := range vals {
				slice.Index(j).Set(reflect.ValueOf(v))
			}
			args[i] = slice
			continue
		}
		v, err := c.resolveRaw(paramType, nil)
		if err != nil {
			return nil, err
		}
		args[i] = reflect.ValueOf(v)
	}
	return args, nil
}

// Resolve resolves a single instance of T, optionally keyed (Base[K1,K2,...]
// per spec.md §3). Returns DependencyUnresolvedError (via apperr) if no
// descriptor is registered for T.
func Resolve[T any](c *Container, keys ...string) (T, error) {
	var zero T
	t := typeOf[T]()
	v, err := c.resolveRaw(t, keys)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, apperr.Unresolved(t.String())
	}
	return out, nil
}

// ResolveAll resolves every descriptor registered for T, in registration
// order. Returns an empty (non-nil) slice, never an error, if none are
// registered — list-of-T parameters are optional by nature.
func ResolveAll[T any](c *Container) ([]T, error) {
	t := typeOf[T]()
	raw, err := c.resolveAllRaw(t)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		tv, ok := v.(T)
		if !ok {
			return nil, apperr.Unresolved(t.String())
		}
		out = append(out, tv)
	}
	return out, nil
}

func (c *Container) resolveAllRaw(t reflect.Type) ([]any, error) {
	c.root.mu.RLock()
	descs := append([]*descriptor(nil), c.root.descriptors[t]...)
	c.root.mu.RUnlock()

	out := make([]any, 0, len(descs))
	for idx, d := range descs {
		v, err := c.construct(t, d, idx, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Container) resolveRaw(t reflect.Type, keys []string) (any, error) {
	c.root.mu.RLock()
	descs := c.root.descriptors[t]
	c.root.mu.RUnlock()
	if len(descs) == 0 {
		return nil, apperr.Unresolved(t.String())
	}
	return c.construct(t, descs[0], 0, keys)
}

func (c *Container) construct(t reflect.Type, d *descriptor, idx int, keys []string) (any, error) {
	key := makeCacheKey(t, idx, keys)

	for _, seen := range c.stack {
		if seen == key {
			chain := make([]string, 0, len(c.stack)+1)
			for _, s := range c.stack {
				chain = append(chain, s.t.String())
			}
			chain = append(chain, t.String())
			return nil, apperr.Circular(chain)
		}
	}
	factoryContainer := c.withStack(key)

	switch d.lifetime {
	case Singleton:
		c.root.mu.RLock()
		if v, ok := c.root.singletons[key]; ok {
			c.root.mu.RUnlock()
			return v, nil
		}
		c.root.mu.RUnlock()

		v, err := d.factory(factoryContainer)
		if err != nil {
			return nil, err
		}

		c.root.mu.Lock()
		if existing, ok := c.root.singletons[key]; ok {
			c.root.mu.Unlock()
			return existing, nil
		}
		c.root.singletons[key] = v
		c.root.mu.Unlock()
		return v, nil

	case Scoped:
		c.scopedMu.Lock()
		if v, ok := c.scoped[key]; ok {
			c.scopedMu.Unlock()
			return v, nil
		}
		c.scopedMu.Unlock()

		v, err := d.factory(factoryContainer)
		if err != nil {
			return nil, err
		}

		c.scopedMu.Lock()
		if existing, ok := c.scoped[key]; ok {
			c.scopedMu.Unlock()
			return existing, nil
		}
		c.scoped[key] = v
		c.scopedMu.Unlock()
		return v, nil

	default: // Transient
		return d.factory(factoryContainer)
	}
}

// Unregister removes every descriptor registered for T. Used by the spec.md
// §8 "register → resolve → unregister → resolve" law: after unregister the
// service is gone; re-registering yields a fresh Singleton instance (the old
// cache entry is purged too).
func Unregister[T any](c *Container) {
	t := typeOf[T]()
	root := c.root
	root.mu.Lock()
	delete(root.descriptors, t)
	for k := range root.singletons {
		if k.t == t {
			delete(root.singletons, k)
		}
	}
	root.mu.Unlock()
}

// RegisteredTypes returns the names of the service types with at least one
// descriptor, sorted. Exposed for diagnostics/tests.
func (c *Container) RegisteredTypes() []string {
	c.root.mu.RLock()
	defer c.root.mu.RUnlock()
	names := make([]string, 0, len(c.root.descriptors))
	for t := range c.root.descriptors {
		names = append(names, t.String())
	}
	sort.Strings(names)
	return names
}
