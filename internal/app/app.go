// Package app wires the chat server together in a samber/do container.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"

	"github.com/nfrund/chaats/internal/chat"
	"github.com/nfrund/chaats/internal/config"
	"github.com/nfrund/chaats/internal/database"
	"github.com/nfrund/chaats/internal/handlers"
	"github.com/nfrund/chaats/internal/hub"
	"github.com/nfrund/chaats/internal/identity"
	"github.com/nfrund/chaats/internal/logging"
	"github.com/nfrund/chaats/internal/metrics"
	"github.com/nfrund/chaats/internal/presence"
	"github.com/nfrund/chaats/internal/pubsub"
	"github.com/nfrund/chaats/internal/server"
	"github.com/nfrund/chaats/internal/session"
	"github.com/nfrund/chaats/internal/websocket"
)

// App is a fully wired chat server.
type App struct {
	Injector do.Injector
	Config   *config.Config
	Logger   *slog.Logger
	Server   *server.Server

	cancel    context.CancelFunc
	lifecycle *lifecycle
}

// lifecycle collects the release functions of the services that were
// actually built.
type lifecycle struct {
	mu      sync.Mutex
	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

func (l *lifecycle) add(name string, fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closers = append(l.closers, namedCloser{name: name, fn: fn})
}

// close runs the release functions in reverse order of construction.
func (l *lifecycle) close() error {
	l.mu.Lock()
	closers := l.closers
	l.closers = nil
	l.mu.Unlock()

	var errs []error
	for _, c := range slices.Backward(closers) {
		if err := c.fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// Option configures New.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger uses l instead of building a logger from LOG_FORMAT/LOG_LEVEL.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds every service for cfg. Background work (bus subscriptions,
// the store health monitor) runs until Close.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc := &lifecycle{}
	i := do.New()
	do.ProvideValue(i, cfg)
	do.Provide(i, provideLogger(o.logger))
	do.Provide(i, providePrometheus)
	do.Provide(i, provideMetrics)
	do.Provide(i, provideBus(lc))
	do.Provide(i, provideStores(ctx, lc))
	do.Provide(i, provideRegistry)
	do.Provide(i, provideTracker(ctx, lc))
	do.Provide(i, provideIdentity)
	do.Provide(i, provideChat)
	do.Provide(i, provideWebSocket)
	do.Provide(i, provideServer)

	srv, err := do.Invoke[*server.Server](i)
	if err != nil {
		cancel()
		if cerr := lc.close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, fmt.Errorf("wire application: %w", err)
	}

	return &App{
		Injector:  i,
		Config:    cfg,
		Logger:    do.MustInvoke[*slog.Logger](i),
		Server:    srv,
		cancel:    cancel,
		lifecycle: lc,
	}, nil
}

// Run serves until ctx is cancelled and then releases every service.
func (a *App) Run(ctx context.Context) error {
	err := a.Server.Run(ctx)
	if cerr := a.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// Close stops background work and releases the tracker, the bus and the
// stores. It is safe to call more than once.
func (a *App) Close() error {
	a.cancel()
	return a.lifecycle.close()
}

func provideLogger(l *slog.Logger) do.Provider[*slog.Logger] {
	return func(i do.Injector) (*slog.Logger, error) {
		if l != nil {
			return l, nil
		}
		cfg := do.MustInvoke[*config.Config](i)
		return logging.New(cfg.LogFormat, cfg.LogLevel), nil
	}
}

func providePrometheus(i do.Injector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, nil
}

func provideMetrics(i do.Injector) (*metrics.Metrics, error) {
	return metrics.New(do.MustInvoke[*prometheus.Registry](i)), nil
}

func provideBus(lc *lifecycle) do.Provider[pubsub.Bus] {
	return func(i do.Injector) (pubsub.Bus, error) {
		bus := pubsub.NewWatermillBridge(pubsub.WithLogger(do.MustInvoke[*slog.Logger](i)))
		lc.add("bus", bus.Close)
		return bus, nil
	}
}

func provideStores(ctx context.Context, lc *lifecycle) do.Provider[*database.Stores] {
	return func(i do.Injector) (*database.Stores, error) {
		cfg := do.MustInvoke[*config.Config](i)
		stores, err := database.Open(ctx, cfg, do.MustInvoke[*slog.Logger](i))
		if err != nil {
			return nil, err
		}
		lc.add("store", stores.Close)
		return stores, nil
	}
}

func provideRegistry(i do.Injector) (*hub.Registry, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return hub.New(
		hub.WithShards(cfg.RegistryShards),
		hub.WithLogger(do.MustInvoke[*slog.Logger](i)),
	), nil
}

func provideTracker(ctx context.Context, lc *lifecycle) do.Provider[*presence.Tracker] {
	return func(i do.Injector) (*presence.Tracker, error) {
		cfg := do.MustInvoke[*config.Config](i)
		bus := do.MustInvoke[pubsub.Bus](i)
		t := presence.NewTracker(bus,
			presence.WithOfflineDebounce(cfg.PresenceOfflineDebounce),
			presence.WithLogger(do.MustInvoke[*slog.Logger](i)),
		)
		if err := t.Start(ctx, bus); err != nil {
			return nil, fmt.Errorf("start presence tracker: %w", err)
		}
		lc.add("presence tracker", func() error {
			t.Shutdown()
			return nil
		})
		return t, nil
	}
}

func provideIdentity(i do.Injector) (*identity.JWTProvider, error) {
	cfg := do.MustInvoke[*config.Config](i)
	stores, err := do.Invoke[*database.Stores](i)
	if err != nil {
		return nil, err
	}
	opts := []identity.Option{identity.WithLogger(do.MustInvoke[*slog.Logger](i))}
	if cfg.JWTIssuer != "" {
		opts = append(opts, identity.WithIssuer(cfg.JWTIssuer))
	}
	return identity.NewJWTProvider(cfg.JWTSecret, stores, opts...), nil
}

func provideChat(i do.Injector) (*chat.Service, error) {
	stores, err := do.Invoke[*database.Stores](i)
	if err != nil {
		return nil, err
	}
	tracker, err := do.Invoke[*presence.Tracker](i)
	if err != nil {
		return nil, err
	}
	return chat.New(chat.Dependencies{
		Messages: stores,
		Profiles: stores,
		Fanout:   do.MustInvoke[*hub.Registry](i),
		Online:   tracker,
		Status:   chat.BusStatusHook{Publisher: do.MustInvoke[pubsub.Bus](i)},
		Logger:   do.MustInvoke[*slog.Logger](i),
		Metrics:  do.MustInvoke[*metrics.Metrics](i),
	}), nil
}

func provideWebSocket(i do.Injector) (*websocket.Handler, error) {
	cfg := do.MustInvoke[*config.Config](i)
	provider, err := do.Invoke[*identity.JWTProvider](i)
	if err != nil {
		return nil, err
	}
	svc, err := do.Invoke[*chat.Service](i)
	if err != nil {
		return nil, err
	}
	return websocket.NewHandler(session.Dependencies{
		Provider:   provider,
		Registry:   do.MustInvoke[*hub.Registry](i),
		Dispatcher: svc,
		Logger:     do.MustInvoke[*slog.Logger](i),
		Metrics:    do.MustInvoke[*metrics.Metrics](i),
	}, do.MustInvoke[pubsub.Bus](i), websocket.Config{
		SendBuffer:   cfg.SendBufferSize,
		WriteTimeout: cfg.WriteTimeout,
		ReadLimit:    int64(cfg.ReadLimit),
		FrameRate:    cfg.FrameRate,
		FrameBurst:   cfg.FrameBurst,
		Origins:      cfg.Origins(),
	}), nil
}

func provideServer(i do.Injector) (*server.Server, error) {
	cfg := do.MustInvoke[*config.Config](i)
	ws, err := do.Invoke[*websocket.Handler](i)
	if err != nil {
		return nil, err
	}
	stores := do.MustInvoke[*database.Stores](i)
	srv := server.New(server.Config{
		Addr:             cfg.HTTPAddr,
		UpgradeRateLimit: cfg.UpgradeRateLimit,
	}, ws, stores, do.MustInvoke[*prometheus.Registry](i), do.MustInvoke[*slog.Logger](i))

	handlers.NewPresenceHandler(do.MustInvoke[*presence.Tracker](i)).Register(srv.E.Group("/presence"))
	return srv, nil
}
