// Command dispatchd is the dispatcher's process entry point: it reads the
// configuration document described in SPEC_FULL.md §6, wires every
// recognized top-level key to its Listener/Connector, and runs until an
// interrupt or unrecoverable error, following the teacher cmd/main.go's
// env-driven wiring order and graceful-shutdown idiom.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dispatchkit/dispatch/internal/config"
	connamqp "github.com/dispatchkit/dispatch/internal/connector/amqp"
	"github.com/dispatchkit/dispatch/internal/connector/httpclient"
	"github.com/dispatchkit/dispatch/internal/connector/mongo"
	"github.com/dispatchkit/dispatch/internal/connector/sessionstore"
	"github.com/dispatchkit/dispatch/internal/di"
	"github.com/dispatchkit/dispatch/internal/dispatcher"
	listeneramqp "github.com/dispatchkit/dispatch/internal/listener/amqp"
	listenerhttp "github.com/dispatchkit/dispatch/internal/listener/http"
	listenertcp "github.com/dispatchkit/dispatch/internal/listener/tcp"
	"github.com/dispatchkit/dispatch/internal/logging"
	"github.com/dispatchkit/dispatch/internal/options"
	"github.com/dispatchkit/dispatch/internal/router"
	"github.com/dispatchkit/dispatch/internal/wsmanager"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// knownTopLevelKeys are the config keys the core reads directly (spec.md
// §6); every other top-level key is either a flat REST-client tag or
// reserved for Options/user code.
var knownTopLevelKeys = map[string]bool{
	"server":   true,
	"receiver": true,
	"sender":   true,
	"endpoint": true,
	"rabbit":   true,
	"rabbitmq": true,
	"database": true,
	"router":   true,
	"cache":    true,
}

func main() {
	os.Exit(run())
}

func run() int {
	instance := flag.String("n", "dispatch", "instance name, used for log scoping")
	configPath := flag.String("config", config.Env("DISPATCH_CONFIG", ""), "path to the configuration document")
	logLevel := flag.String("log-level", config.Env("LOG_LEVEL", "info"), "zerolog log level")
	logPretty := flag.Bool("log-pretty", config.EnvBool("LOG_PRETTY", false), "console-format logs instead of JSON")
	flag.Parse()

	_ = godotenv.Load() // dev-mode convenience; a missing .env is not an error

	logging.Initialize(*logLevel, *logPretty, *instance)
	log := logging.Component("main")

	tree, err := loadConfig(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("startup failed: config invalid")
		return 1
	}

	store := buildSessionStore(tree)
	defer func() { _ = store.Close() }()

	d, err := buildDispatcher(tree, store, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed: wiring")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
		if err := <-runErr; err != nil {
			log.Error().Err(err).Msg("listener shutdown reported an error")
			return 2
		}
		return 0
	case err := <-runErr:
		// Before a shutdown signal, Run only returns when a listener's
		// Initialize fails (e.g. a bind error): a startup failure.
		if err != nil {
			log.Error().Err(err).Msg("startup failed: listener initialize")
			return 1
		}
		return 0
	}
}

func loadConfig(path string) (*config.Tree, error) {
	if path == "" {
		return config.Empty(), nil
	}
	return config.Load(path)
}

// buildDispatcher wires every recognized top-level config key (spec.md §6)
// into its Listener/Connector and returns a Dispatcher ready for Run.
func buildDispatcher(tree *config.Tree, store *sessionstore.Store, log *zerolog.Logger) (*dispatcher.Dispatcher, error) {
	root := di.New()

	rt, err := buildRouter(tree)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	sessions := wsmanager.NewSessionManagerWithStore(store)
	di.RegisterInstance(root, sessions)

	d := dispatcher.New(root, rt, sessions)

	if httpListener, ok, err := buildHTTPListener(tree); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	} else if ok {
		d.AddListener(httpListener)
	}

	for _, l := range buildTCPListeners(tree) {
		d.AddListener(l)
	}

	amqpListeners, err := buildAMQPListeners(tree)
	if err != nil {
		return nil, fmt.Errorf("rabbit: %w", err)
	}
	for _, l := range amqpListeners {
		d.AddListener(l)
	}

	producers, err := buildAMQPProducers(root, tree)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: %w", err)
	}
	if producers != nil {
		di.RegisterInstance(root, producers)
	}

	mongoConnectors, err := buildMongoConnectors(root, tree)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if mongoConnectors != nil {
		di.RegisterInstance(root, mongoConnectors)
	}

	restClients, err := buildRESTClients(root, tree)
	if err != nil {
		return nil, fmt.Errorf("restclient: %w", err)
	}
	if restClients != nil {
		di.RegisterInstance(root, restClients)
	}

	log.Info().Msg("dispatcher wired")
	return d, nil
}

// cacheWire decodes the "cache" config key (SPEC_FULL.md §3.1
// SessionSnapshot): a Redis connection, disabled by default so the session
// manager degrades to in-memory-only exactly as the teacher's cache
// package does when Redis isn't configured.
type cacheWire struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func buildSessionStore(tree *config.Tree) *sessionstore.Store {
	sub, ok := tree.Sub("cache")
	if !ok {
		return sessionstore.New(sessionstore.Config{})
	}
	var w cacheWire
	if err := sub.Decode(&w); err != nil {
		return sessionstore.New(sessionstore.Config{})
	}
	return sessionstore.New(sessionstore.Config{
		Enabled:  w.Enabled,
		Host:     w.Host,
		Port:     w.Port,
		Password: w.Password,
		DB:       w.DB,
	})
}

// buildRouter honors the "router" config key (manual {context_name: [url
// patterns]} map, per spec.md §6) when present; otherwise returns an
// auto-building Router.
func buildRouter(tree *config.Tree) (*router.Router, error) {
	sub, ok := tree.Sub("router")
	if !ok {
		return router.New(), nil
	}
	var raw map[string][]string
	if err := sub.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode manual router map: %w", err)
	}
	patterns := make(map[router.ContextKind][]string, len(raw))
	for kind, pats := range raw {
		patterns[router.ContextKind(kind)] = pats
	}
	classifier, err := router.ClassifierFromPatterns(patterns, "restful")
	if err != nil {
		return nil, err
	}
	return router.NewManual(classifier), nil
}

// serverWire decodes the "server" key's object form; spec.md §6 also allows
// a bare "host:port" string, handled separately before falling back to this.
type serverWire struct {
	URL                    string   `json:"url"`
	Port                   int      `json:"port"`
	SSLCert                string   `json:"ssl_cert"`
	SSLKey                 string   `json:"ssl_key"`
	AllowedOrigins         []string `json:"allowed_origins"`
	RateLimitPerSecond     float64  `json:"rate_limit_per_second"`
	RateLimitBurst         int      `json:"rate_limit_burst"`
	DisableInputValidation bool     `json:"disable_input_validation"`
}

func buildHTTPListener(tree *config.Tree) (*listenerhttp.Listener, bool, error) {
	raw, ok := tree.Get("server")
	if !ok {
		return nil, false, nil
	}

	cfg := listenerhttp.Config{}
	switch v := raw.(type) {
	case string:
		cfg.Addr = v
	case map[string]any:
		sub, _ := tree.Sub("server")
		var w serverWire
		if err := sub.Decode(&w); err != nil {
			return nil, false, fmt.Errorf("decode server config: %w", err)
		}
		host := w.URL
		if w.Port != 0 {
			cfg.Addr = fmt.Sprintf("%s:%d", host, w.Port)
		} else {
			cfg.Addr = host
		}
		cfg.TLSCertFile = w.SSLCert
		cfg.TLSKeyFile = w.SSLKey
		cfg.AllowedOrigins = w.AllowedOrigins
		cfg.RateLimitPerSecond = w.RateLimitPerSecond
		cfg.RateLimitBurst = w.RateLimitBurst
		cfg.DisableInputValidation = w.DisableInputValidation
	default:
		return nil, false, fmt.Errorf("server: unsupported config shape %T", v)
	}

	return listenerhttp.New(cfg), true, nil
}

func buildTCPListeners(tree *config.Tree) []*listenertcp.Listener {
	var out []*listenertcp.Listener

	receiver := tree.GetString("receiver", "")
	sender := tree.GetString("sender", "")
	if receiver != "" || sender != "" {
		out = append(out, listenertcp.New(listenertcp.Config{ReceiverAddr: receiver, SenderAddr: sender}))
	}

	if endpoint := tree.GetString("endpoint", ""); endpoint != "" {
		out = append(out, listenertcp.New(listenertcp.Config{Addr: endpoint}))
	}

	return out
}

// amqpListenerWire decodes one entry of the "rabbit" list (spec.md §6: list
// of AMQP listener configurations).
type amqpListenerWire struct {
	URL              string `json:"url"`
	Queue            string `json:"queue"`
	Exchange         string `json:"exchange"`
	ExchangeType     string `json:"exchange_type"`
	RoutingKey       string `json:"routing_key"`
	Durable          bool   `json:"durable"`
	AutoDelete       bool   `json:"auto_delete"`
	Exclusive        bool   `json:"exclusive"`
	Prefetch         int    `json:"prefetch"`
	RetryDelaySecond int    `json:"retry_delay_seconds"`
}

func (w amqpListenerWire) toConnConfig() connamqp.Config {
	return connamqp.Config{
		URL:          w.URL,
		Queue:        w.Queue,
		Exchange:     w.Exchange,
		ExchangeType: w.ExchangeType,
		RoutingKey:   w.RoutingKey,
		Durable:      w.Durable,
		AutoDelete:   w.AutoDelete,
		Exclusive:    w.Exclusive,
		Prefetch:     w.Prefetch,
		RetryDelay:   time.Duration(w.RetryDelaySecond) * time.Second,
	}
}

func buildAMQPListeners(tree *config.Tree) ([]*listeneramqp.Listener, error) {
	raw, ok := tree.Get("rabbit")
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("rabbit: expected a list, got %T", raw)
	}

	var out []*listeneramqp.Listener
	for i, item := range items {
		sub, err := subTreeFromValue(item)
		if err != nil {
			return nil, fmt.Errorf("rabbit[%d]: %w", i, err)
		}
		var w amqpListenerWire
		if err := sub.Decode(&w); err != nil {
			return nil, fmt.Errorf("rabbit[%d]: decode: %w", i, err)
		}
		l, err := listeneramqp.New(listeneramqp.Config{Connection: w.toConnConfig()})
		if err != nil {
			return nil, fmt.Errorf("rabbit[%d]: %w", i, err)
		}
		out = append(out, l)
	}
	return out, nil
}

// buildAMQPProducers decodes each "rabbitmq.<tag>" entry through a
// generic-keyed options.Options[amqpListenerWire], registered once in root as
// a DI singleton: Options.Get(tag) decodes-and-caches per tag internally, so
// every tag shares one Options instance rather than one ad hoc decode call
// each (see internal/options's doc comment for the wiring this mirrors).
func buildAMQPProducers(root *di.Container, tree *config.Tree) (*connamqp.ProducerRegistry, error) {
	tags, sub := subTags(tree, "rabbitmq")
	if sub == nil {
		return nil, nil
	}
	opts := options.New[amqpListenerWire](sub)
	di.RegisterInstance(root, opts)

	byTag := make(map[string]*connamqp.Producer, len(tags))
	for _, tag := range tags {
		w, err := opts.Get(tag)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq.%s: decode: %w", tag, err)
		}
		conn, err := connamqp.NewConnection(w.toConnConfig())
		if err != nil {
			return nil, fmt.Errorf("rabbitmq.%s: %w", tag, err)
		}
		byTag[tag] = connamqp.NewProducer(conn, w.toConnConfig())
	}
	return connamqp.NewProducerRegistry(byTag), nil
}

// mongoWire decodes one "database.<tag>" entry (spec.md §3 Mongo
// connection data).
type mongoWire struct {
	URL                           string `json:"url"`
	Database                      string `json:"database"`
	PoolMin                       uint64 `json:"pool_min"`
	PoolMax                       uint64 `json:"pool_max"`
	ConnectTimeoutSeconds         int    `json:"connect_timeout_seconds"`
	ServerSelectionTimeoutSeconds int    `json:"server_selection_timeout_seconds"`
}

func buildMongoConnectors(root *di.Container, tree *config.Tree) (*mongo.Registry, error) {
	tags, sub := subTags(tree, "database")
	if sub == nil {
		return nil, nil
	}
	opts := options.New[mongoWire](sub)
	di.RegisterInstance(root, opts)

	byTag := make(map[string]*mongo.Connector, len(tags))
	for _, tag := range tags {
		w, err := opts.Get(tag)
		if err != nil {
			return nil, fmt.Errorf("database.%s: decode: %w", tag, err)
		}
		byTag[tag] = mongo.New(mongo.Config{
			URL:                    w.URL,
			Database:               w.Database,
			PoolMin:                w.PoolMin,
			PoolMax:                w.PoolMax,
			ConnectTimeout:         time.Duration(w.ConnectTimeoutSeconds) * time.Second,
			ServerSelectionTimeout: time.Duration(w.ServerSelectionTimeoutSeconds) * time.Second,
		})
	}
	return mongo.NewRegistry(byTag), nil
}

// restClientWire decodes a flat REST-client tag entry (spec.md §3: base_url,
// timeout, default_headers, tls_verify, ca_bundle_path). base_url is the
// discriminator that tells a flat user key apart from an opaque Options key.
type restClientWire struct {
	BaseURL        string            `json:"base_url"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	DefaultHeaders map[string]string `json:"default_headers"`
	TLSVerify      *bool             `json:"tls_verify"`
	CABundlePath   string            `json:"ca_bundle_path"`
	RaiseOnError   *bool             `json:"raise_on_error"`
}

func buildRESTClients(root *di.Container, tree *config.Tree) (*httpclient.Registry, error) {
	opts := options.New[restClientWire](tree)
	di.RegisterInstance(root, opts)

	byTag := make(map[string]*httpclient.Client)
	for _, key := range tree.Keys() {
		if knownTopLevelKeys[key] {
			continue
		}
		sub, ok := tree.Sub(key)
		if !ok {
			continue
		}
		baseURL := sub.GetString("base_url", "")
		if baseURL == "" {
			continue // not a REST-client entry; reserved for Options/user code
		}
		w, err := opts.Get(key)
		if err != nil {
			return nil, fmt.Errorf("%s: decode: %w", key, err)
		}
		client, err := httpclient.New(httpclient.Config{
			BaseURL:        w.BaseURL,
			Timeout:        time.Duration(w.TimeoutSeconds) * time.Second,
			DefaultHeaders: w.DefaultHeaders,
			TLSVerify:      w.TLSVerify,
			CABundlePath:   w.CABundlePath,
			RaiseOnError:   w.RaiseOnError,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		byTag[key] = client
	}
	if len(byTag) == 0 {
		return nil, nil
	}
	return httpclient.NewRegistry(byTag), nil
}

// subTags returns the tag names under a "<key>.<tag>" namespace and the
// sub-tree rooted at key, or (nil, nil) if key is absent.
func subTags(tree *config.Tree, key string) ([]string, *config.Tree) {
	sub, ok := tree.Sub(key)
	if !ok {
		return nil, nil
	}
	return sub.Keys(), sub
}

// subTreeFromValue wraps one element of a decoded JSON list as a *config.Tree
// so it can reuse Tree.Decode.
func subTreeFromValue(v any) (*config.Tree, error) {
	if _, ok := v.(map[string]any); !ok {
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
	return config.FromValue(v), nil
}
