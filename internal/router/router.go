// Package router implements the predicate-based handler table described in
// SPEC_FULL.md §4.2: handlers are registered under a ContextKind with zero
// or more Predicates, and an auto-built classifier maps an inbound URL to a
// ContextKind whenever more than one kind is registered.
package router

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/dispatchkit/dispatch/internal/apperr"
)

// ContextKind identifies the family of context a handler was registered
// under (e.g. "restful", "web", "websocket", "socket", "amqp").
type ContextKind string

// ClassifierFunc maps an inbound URL to the ContextKind whose handler table
// should be searched.
type ClassifierFunc func(url string) ContextKind

// HandlerEntry is one registered (predicates, handler) pair. Handler is
// opaque to the router: the Dispatcher invokes it through the DI container,
// so the router never needs to know its signature.
type HandlerEntry struct {
	Predicates []Predicate
	Handler    any
}

// Router holds the handler table and, once built, the URL classifier used
// to pick which table to search.
type Router struct {
	mu sync.RWMutex

	table        map[ContextKind][]*HandlerEntry
	contextOrder []ContextKind

	classifier ClassifierFunc
	manual     bool
	dirty      bool
}

// New returns a Router whose classifier is rebuilt automatically whenever
// the handler table changes.
func New() *Router {
	return &Router{table: make(map[ContextKind][]*HandlerEntry)}
}

// NewManual returns a Router that always uses classifier, regardless of how
// the handler table evolves. Use this when the auto-built single-pattern-set
// classifier isn't expressive enough for the deployment's routing needs.
func NewManual(classifier ClassifierFunc) *Router {
	r := New()
	r.classifier = classifier
	r.manual = true
	return r
}

// Register adds handler to kind's table, gated by predicates (all of which
// must evaluate true for the handler to be selected). Registration order is
// preserved and is the tie-break order when multiple entries could match.
func (r *Router) Register(kind ContextKind, handler any, predicates ...Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.table[kind]; !ok {
		r.contextOrder = append(r.contextOrder, kind)
	}
	r.table[kind] = append(r.table[kind], &HandlerEntry{Predicates: predicates, Handler: handler})
	if !r.manual {
		r.dirty = true
	}
}

// Unregister removes every entry under kind whose handler is the same
// function (compared by pointer identity) or value as handler.
func (r *Router) Unregister(kind ContextKind, handler any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.table[kind]
	kept := entries[:0]
	for _, e := range entries {
		if sameHandler(e.Handler, handler) {
			continue
		}
		kept = append(kept, e)
	}
	r.table[kind] = kept
	if !r.manual {
		r.dirty = true
	}
}

// EnsureReady forces a classifier rebuild if the table has changed since the
// last build (or since the last EnsureReady call). It is idempotent: calling
// it repeatedly with no intervening Register/Unregister is a no-op.
func (r *Router) EnsureReady() {
	r.ensureBuilt()
}

// Classify runs the (lazily rebuilt) classifier against url directly,
// without requiring a full Context. Listeners that must decide which
// concrete Context type to build before dispatch (e.g. the HTTP listener
// choosing RESTfulContext vs WebContext) call this ahead of Match.
func (r *Router) Classify(url string) ContextKind {
	r.ensureBuilt()
	r.mu.RLock()
	classifier := r.classifier
	r.mu.RUnlock()
	if classifier == nil {
		return ""
	}
	return classifier(url)
}

// Match classifies ctx's URL, then returns the first entry in that kind's
// table whose predicates all evaluate true. It returns apperr.HandlerNotFound
// if nothing matches.
func (r *Router) Match(ctx Context) (*HandlerEntry, ContextKind, error) {
	r.ensureBuilt()

	r.mu.RLock()
	classifier := r.classifier
	r.mu.RUnlock()

	var kind ContextKind
	if classifier != nil {
		kind = classifier(ctx.URL())
	}

	r.mu.RLock()
	entries := append([]*HandlerEntry(nil), r.table[kind]...)
	r.mu.RUnlock()

	for _, entry := range entries {
		if evaluateAll(entry.Predicates, ctx) {
			return entry, kind, nil
		}
	}
	return nil, kind, apperr.HandlerNotFound(ctx.URL())
}

func evaluateAll(predicates []Predicate, ctx Context) bool {
	for _, p := range predicates {
		if !p.Evaluate(ctx) {
			return false
		}
	}
	return true
}

// ensureBuilt rebuilds r.classifier from the current table when: the router
// isn't in manual mode, and the table changed since the last build.
//
//   - Zero context kinds registered: classifier always returns "".
//   - One context kind registered: classifier is a constant function — no
//     pattern matching needed, since there's nothing to disambiguate.
//   - More than one: classifier tries every Url predicate found across the
//     table, in context-registration then handler-registration then
//     predicate order, and falls back to the first-registered context kind
//     if nothing matches.
func (r *Router) ensureBuilt() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.manual || !r.dirty {
		return
	}

	switch len(r.contextOrder) {
	case 0:
		r.classifier = func(string) ContextKind { return "" }
	case 1:
		only := r.contextOrder[0]
		r.classifier = func(string) ContextKind { return only }
	default:
		type patternRoute struct {
			kind  ContextKind
			regex *regexp.Regexp
		}
		var routes []patternRoute
		for _, kind := range r.contextOrder {
			for _, entry := range r.table[kind] {
				for _, p := range entry.Predicates {
					if up, ok := p.(*urlPredicate); ok {
						routes = append(routes, patternRoute{kind: kind, regex: up.regex})
					}
				}
			}
		}
		fallback := r.contextOrder[0]
		r.classifier = func(url string) ContextKind {
			trimmed := strings.Trim(url, "/")
			for _, route := range routes {
				if route.regex.MatchString(trimmed) {
					return route.kind
				}
			}
			return fallback
		}
	}
	r.dirty = false
}

func sameHandler(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.IsValid() && vb.IsValid() && va.Kind() == reflect.Func && vb.Kind() == reflect.Func {
		return va.Pointer() == vb.Pointer()
	}
	return a == b
}
