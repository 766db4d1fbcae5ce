// Package options implements the generic-keyed configuration view described
// in spec.md §4.1/§8 scenario 3: an Options[T] service, registered once as a
// DI Singleton, that reads a typed view of the config tree keyed by an
// opaque string tag (e.g. Options[DatabaseConfig]("db"),
// Options[DatabaseConfig]("cache") — distinct keys, distinct cached
// instances, same underlying factory).
package options

import (
	"fmt"
	"sync"

	"github.com/dispatchkit/dispatch/internal/config"
)

// Options is a typed, keyed configuration view. It is registered with the DI
// container as a generic-keyed Singleton (see internal/di's Base[Key]
// resolution rule): the same *Options[T] factory is reused across keys, but
// each key gets its own decoded instance, cached after first read.
type Options[T any] struct {
	tree *config.Tree

	mu    sync.Mutex
	cache map[string]*T
}

// New creates an Options view rooted at the given config tree. Each tag
// passed to Get is resolved as a sub-path of this tree.
func New[T any](tree *config.Tree) *Options[T] {
	return &Options[T]{tree: tree, cache: make(map[string]*T)}
}

// Get decodes and returns the configuration for the given tag, caching the
// result. Distinct tags never share state; a dispatcher-level generic-keyed
// Singleton registration of Options[T] relies on exactly this: one
// *Options[T] instance per base type, internally keyed by tag.
func (o *Options[T]) Get(tag string) (*T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cached, ok := o.cache[tag]; ok {
		return cached, nil
	}

	sub, ok := o.tree.Sub(tag)
	if !ok {
		return nil, fmt.Errorf("options: no configuration found at key %q", tag)
	}

	var value T
	if err := sub.Decode(&value); err != nil {
		return nil, fmt.Errorf("options: decode %q: %w", tag, err)
	}

	o.cache[tag] = &value
	return &value, nil
}

// MustGet panics if the tag cannot be resolved. Reserved for startup-time
// wiring where a missing key is a configuration bug, not a runtime
// condition.
func (o *Options[T]) MustGet(tag string) *T {
	v, err := o.Get(tag)
	if err != nil {
		panic(err)
	}
	return v
}
