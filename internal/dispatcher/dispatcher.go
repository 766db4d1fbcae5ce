// Package dispatcher implements the Dispatcher described in SPEC_FULL.md
// §4.3: it owns the DI container, Router, and WebSocket session manager,
// holds the list of Listeners, and runs the per-message pipeline that turns
// a transport-agnostic Message into a handler invocation and a translated
// response.
package dispatcher

import (
	"context"
	"sync"

	"github.com/dispatchkit/dispatch/internal/di"
	"github.com/dispatchkit/dispatch/internal/logging"
	"github.com/dispatchkit/dispatch/internal/router"
	"github.com/dispatchkit/dispatch/internal/wsmanager"
	"github.com/rs/zerolog"
)

// Listener is an independent accept loop that produces Messages for the
// Dispatcher to process. Initialize is called once, from Run, before the
// listener is expected to produce any messages; Shutdown must stop accepting
// new work and return once in-flight work has drained or ctx expires.
type Listener interface {
	Initialize(d *Dispatcher) error
	Shutdown(ctx context.Context) error
}

// Dispatcher is the runtime composition root: one DI root container, one
// Router, one WebSocketSessionManager, and a list of Listeners.
type Dispatcher struct {
	root     *di.Container
	router   *router.Router
	sessions *wsmanager.SessionManager
	log      *zerolog.Logger

	mu        sync.Mutex
	listeners []Listener

	backgroundWG sync.WaitGroup
	runCtx       context.Context
	cancelRun    context.CancelFunc
}

// New builds a Dispatcher around an existing DI root container, Router, and
// SessionManager. Callers typically build these via di.New(), router.New(),
// wsmanager.NewSessionManager() and pass them here.
func New(root *di.Container, r *router.Router, sessions *wsmanager.SessionManager) *Dispatcher {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		root:      root,
		router:    r,
		sessions:  sessions,
		log:       logging.Component("dispatcher"),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
}

// RegisterHandler adds handler under kind, gated by predicates. It
// invalidates the Router (marks it dirty for rebuild before the next
// dispatch).
func (d *Dispatcher) RegisterHandler(kind router.ContextKind, handler any, predicates ...router.Predicate) {
	d.router.Register(kind, handler, predicates...)
}

// UnregisterHandler removes handler from kind's table.
func (d *Dispatcher) UnregisterHandler(kind router.ContextKind, handler any) {
	d.router.Unregister(kind, handler)
}

// EnsureRouterReady forces a classifier rebuild; mostly useful in tests that
// want to inspect routing decisions without going through a dispatch.
func (d *Dispatcher) EnsureRouterReady() {
	d.router.EnsureReady()
}

// AddListener appends l to the listener list, idempotent on identity: adding
// the same listener instance twice is a no-op.
func (d *Dispatcher) AddListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.listeners {
		if existing == l {
			return
		}
	}
	d.listeners = append(d.listeners, l)
}

// ConfigureServices hands fn the DI root container for service registration.
// May be called multiple times, before or interleaved with AddListener.
func (d *Dispatcher) ConfigureServices(fn func(c *di.Container)) {
	fn(d.root)
}

// Services returns the DI root container.
func (d *Dispatcher) Services() *di.Container { return d.root }

// Router returns the handler table.
func (d *Dispatcher) Router() *router.Router { return d.router }

// Sessions returns the WebSocket session manager.
func (d *Dispatcher) Sessions() *wsmanager.SessionManager { return d.sessions }

// Run initializes every registered listener, then blocks until ctx is
// cancelled (the process's shutdown signal), at which point it shuts every
// listener down and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.Unlock()

	for _, l := range listeners {
		if err := l.Initialize(d); err != nil {
			return err
		}
	}
	d.log.Info().Int("listeners", len(listeners)).Msg("dispatcher running")

	<-ctx.Done()
	d.log.Info().Msg("dispatcher shutting down")
	return d.shutdown(listeners)
}

func (d *Dispatcher) shutdown(listeners []Listener) error {
	d.cancelRun()
	d.sessions.Shutdown()

	shutdownCtx := context.Background()
	var firstErr error
	for _, l := range listeners {
		if err := l.Shutdown(shutdownCtx); err != nil {
			d.log.Error().Err(err).Msg("listener shutdown failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	d.backgroundWG.Wait()
	return firstErr
}

// AddBackgroundTask schedules fn to run for the lifetime of the process. A
// returned error or panic is logged and the task is abandoned; per
// SPEC_FULL.md §9 Open Question 3, a failed background task never crashes
// the dispatcher.
func (d *Dispatcher) AddBackgroundTask(fn func(ctx context.Context) error) {
	d.backgroundWG.Add(1)
	go func() {
		defer d.backgroundWG.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error().Interface("panic", r).Msg("background task panicked")
			}
		}()
		if err := fn(d.runCtx); err != nil {
			d.log.Error().Err(err).Msg("background task failed")
		}
	}()
}
