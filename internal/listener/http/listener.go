// Package http implements the HTTP/HTTPS Listener described in
// SPEC_FULL.md §4.4.1: a gin-backed accept loop that builds RESTfulContext
// or WebContext messages for the Dispatcher, bypasses to static-file
// serving when configured, and detects+promotes WebSocket upgrades.
package http

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dispatchkit/dispatch/internal/apperr"
	"github.com/dispatchkit/dispatch/internal/di"
	"github.com/dispatchkit/dispatch/internal/dispatcher"
	"github.com/dispatchkit/dispatch/internal/logging"
	"github.com/dispatchkit/dispatch/internal/middleware"
	"github.com/dispatchkit/dispatch/internal/reqcontext"
	"github.com/dispatchkit/dispatch/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StaticFileHandler is the external collaborator named in spec.md §1
// (Non-goals: static-file serving). The Listener calls TryServe before
// handing a request to the Dispatcher; a true return means the request was
// fully handled and the Dispatcher is bypassed.
type StaticFileHandler interface {
	TryServe(w http.ResponseWriter, r *http.Request) bool
}

// Config configures bind address, optional TLS material, optional static
// file bypass, and the WebSocket/CORS origin allowlist.
type Config struct {
	Addr           string
	TLSCertFile    string
	TLSKeyFile     string
	StaticFiles    StaticFileHandler
	AllowedOrigins []string // empty allows every WebSocket upgrade origin

	// RateLimitPerSecond, when > 0, caps requests per client IP (see
	// middleware.RateLimiter). 0 disables rate limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int

	// DisableInputValidation skips the path/query injection checks and
	// bluemonday-based JSON body sanitization (middleware.InputValidator).
	// Validation is on by default; a deployment fronted by its own WAF or
	// serving only trusted internal traffic may opt out.
	DisableInputValidation bool
}

// Listener is the HTTP/HTTPS + WebSocket-upgrade accept loop.
type Listener struct {
	cfg      Config
	d        *dispatcher.Dispatcher
	engine   *gin.Engine
	srv      *http.Server
	upgrader websocket.Upgrader
	log      *zerolog.Logger
}

// New returns a Listener not yet bound to a Dispatcher; call
// dispatcher.AddListener to wire it in.
func New(cfg Config) *Listener {
	l := &Listener{cfg: cfg, log: logging.Component("listener.http")}
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     l.checkOrigin,
	}
	return l
}

func (l *Listener) checkOrigin(r *http.Request) bool {
	if len(l.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range l.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	l.log.Warn().Str("origin", origin).Msg("websocket upgrade rejected: origin not allowed")
	return false
}

// Initialize loads TLS material (failing hard if requested and unreadable,
// per spec.md §4.4.1), builds the gin engine, and starts the accept loop in
// a background goroutine.
func (l *Listener) Initialize(d *dispatcher.Dispatcher) error {
	l.d = d

	var tlsConfig *tls.Config
	if l.cfg.TLSCertFile != "" || l.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(l.cfg.TLSCertFile, l.cfg.TLSKeyFile)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "listener/http: load TLS material", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	gin.SetMode(gin.ReleaseMode)
	l.engine = gin.New()
	l.engine.Use(gin.Recovery())
	l.engine.Use(middleware.RequestID())
	l.engine.Use(middleware.SecurityHeaders())
	l.engine.Use(middleware.StructuredLogger())
	l.engine.Use(middleware.CORS(l.cfg.AllowedOrigins))
	if !l.cfg.DisableInputValidation {
		validator := middleware.NewInputValidator()
		l.engine.Use(validator.Middleware())
		l.engine.Use(validator.SanitizeJSONMiddleware())
	}
	if l.cfg.RateLimitPerSecond > 0 {
		l.engine.Use(middleware.NewRateLimiter(l.cfg.RateLimitPerSecond, l.cfg.RateLimitBurst).Middleware())
	}
	l.engine.NoRoute(l.handle)

	l.srv = &http.Server{
		Addr:              l.cfg.Addr,
		Handler:           l.engine,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		TLSConfig:         tlsConfig,
	}

	go func() {
		var err error
		if tlsConfig != nil {
			err = l.srv.ListenAndServeTLS(l.cfg.TLSCertFile, l.cfg.TLSKeyFile)
		} else {
			err = l.srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			l.log.Error().Err(err).Msg("http listener stopped unexpectedly")
		}
	}()

	l.log.Info().Str("addr", l.cfg.Addr).Bool("tls", tlsConfig != nil).Msg("http listener initialized")
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight ones to
// drain or ctx to expire.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.srv.Shutdown(ctx)
}

func (l *Listener) handle(c *gin.Context) {
	if l.cfg.StaticFiles != nil && l.cfg.StaticFiles.TryServe(c.Writer, c.Request) {
		return
	}
	if websocket.IsWebSocketUpgrade(c.Request) {
		l.handleUpgrade(c)
		return
	}
	l.handleDispatch(c)
}

func (l *Listener) handleDispatch(c *gin.Context) {
	path := strings.TrimPrefix(c.Request.URL.Path, "/")
	kind := l.d.Router().Classify(path)
	sessionID := c.GetHeader("X-Session-Id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, _ := l.d.OnMessage(dispatcher.Message{
		SessionID: sessionID,
		Kind:      kind,
		Factory:   l.buildFactory(c.Request, path, sessionID, kind),
	})
	l.flush(c, ctx)
}

// buildFactory closes over the inbound *http.Request and defers body
// reading until the handler actually asks for it (RequestView's lazy-body
// contract, per SPEC_FULL.md §3).
func (l *Listener) buildFactory(req *http.Request, path, sessionID string, kind router.ContextKind) dispatcher.ContextFactory {
	headers := map[string][]string(req.Header)
	method := req.Method
	query := req.URL.Query()
	reqCtx := req.Context()

	return func(scope *di.Container) (dispatcher.Context, error) {
		view := reqcontext.NewRequestView(method, path, query, headers, func() ([]byte, error) {
			return io.ReadAll(req.Body)
		})
		resp := reqcontext.NewResponseView()

		if kind == "web" {
			return reqcontext.NewWebContext(reqCtx, sessionID, path, scope, view, resp), nil
		}
		return reqcontext.NewRESTfulContext(reqCtx, sessionID, path, scope, view, resp), nil
	}
}

func (l *Listener) flush(c *gin.Context, ctx dispatcher.Context) {
	if ctx == nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	resp := ctx.Response()
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if resp.ContentType != "" {
		c.Writer.Header().Set("Content-Type", resp.ContentType)
	}
	c.Writer.WriteHeader(status)
	_, _ = c.Writer.Write(resp.Raw)
}
