// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the scraper.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/api"
	"github.com/JakeFAU/site-scraper/internal/config"
	"github.com/JakeFAU/site-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/site-scraper/internal/metrics"
	"github.com/JakeFAU/site-scraper/internal/progress"
	"github.com/JakeFAU/site-scraper/internal/progress/broker"
	"github.com/JakeFAU/site-scraper/internal/scheduler"
	"github.com/JakeFAU/site-scraper/internal/scrape"
	"github.com/JakeFAU/site-scraper/internal/storage/postgres"
)

// Option customises dependency construction, mostly for tests.
type Option func(*App)

// WithRegisterer registers event metrics somewhere other than the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// WithRedisClient reuses an existing client instead of dialling redis.addr.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(a *App) {
		a.redis = client
		a.ownsRedis = false
	}
}

// WithPubSubClient reuses an existing Pub/Sub client.
func WithPubSubClient(client *pubsub.Client) Option {
	return func(a *App) {
		a.pubsub = client
		a.ownsPubSub = false
	}
}

// WithFetcher replaces the colly and headless fetch chain.
func WithFetcher(f scrape.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithJobStore replaces the configured job store.
func WithJobStore(store scrape.JobStore) Option {
	return func(a *App) { a.store = store }
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registerer prometheus.Registerer
	store      scrape.JobStore
	pg         *postgres.JobStore
	redis      redis.UniversalClient
	ownsRedis  bool
	pubsub     *pubsub.Client
	ownsPubSub bool
	gcs        *storage.Client
	renderer   *headless.Fetcher
	fetcher    scrape.Fetcher

	hub       *progress.Hub
	broker    *broker.Broker
	scheduler *scheduler.Manager
	server    *api.Server
}

// New creates and initializes every service described by cfg. It fails fast
// and releases whatever it already opened when a dependency cannot be built.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:        cfg,
		logger:     logger,
		registerer: prometheus.DefaultRegisterer,
		ownsRedis:  true,
		ownsPubSub: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.Background())
			a.Close()
		}
	}()

	logger.Info("initializing application services")
	metrics.Init()

	if a.store == nil {
		if a.store, err = a.buildStore(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.UsesRedis() && a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	archive, err := a.buildArchive(ctx)
	if err != nil {
		return nil, err
	}
	sinks, err := a.buildSinks(ctx)
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:  cfg.Events.BufferSize,
		SinkTimeout: cfg.Events.SinkTimeout,
		Logger:      logger,
	}, sinks...)

	discoverer, extractor, err := a.buildPipeline()
	if err != nil {
		return nil, err
	}
	var schedOpts []scheduler.Option
	if archive != nil {
		schedOpts = append(schedOpts, scheduler.WithArchive(archive))
	}
	a.scheduler, err = scheduler.New(cfg.SchedulerOptions(), a.store, discoverer, extractor, a.hub, logger, schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	var stream http.Handler
	if a.broker != nil {
		stream = a.broker
	}
	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	a.server = api.NewServer(a.scheduler, stream, api.Options{
		APIKey:         apiKey,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger)

	logger.Info("application services initialized",
		zap.String("store", cfg.Storage.Provider),
		zap.String("cache", cfg.Cache.Provider),
		zap.String("archive", cfg.Storage.Archive),
		zap.Int("sinks", len(sinks)),
	)
	return a, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Scheduler exposes the job manager.
func (a *App) Scheduler() *scheduler.Manager {
	return a.scheduler
}

// Start recovers pending jobs and begins dispatching.
func (a *App) Start(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	return nil
}

// Run starts the scheduler and serves HTTP on ln until ctx ends, then shuts
// everything down within the configured timeout.
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	a.logger.Info("shutdown complete")
	return runErr
}

// Shutdown stops the scheduler and drains pending events.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("event hub close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases external connections. It is safe to call after Shutdown.
func (a *App) Close() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.redis != nil && a.ownsRedis {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.pubsub != nil && a.ownsPubSub {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("close pubsub", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("close gcs", zap.Error(err))
		}
	}
}
