// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/alert"
	"github.com/JakeFAU/quantum-catalog/internal/api"
	"github.com/JakeFAU/quantum-catalog/internal/browser"
	chromedpbrowser "github.com/JakeFAU/quantum-catalog/internal/browser/chromedp"
	rodbrowser "github.com/JakeFAU/quantum-catalog/internal/browser/rod"
	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/clock/system"
	"github.com/JakeFAU/quantum-catalog/internal/config"
	"github.com/JakeFAU/quantum-catalog/internal/credentials"
	"github.com/JakeFAU/quantum-catalog/internal/dispatcher"
	"github.com/JakeFAU/quantum-catalog/internal/extractor"
	"github.com/JakeFAU/quantum-catalog/internal/extractor/braket"
	"github.com/JakeFAU/quantum-catalog/internal/extractor/ibm"
	"github.com/JakeFAU/quantum-catalog/internal/extractor/ionq"
	"github.com/JakeFAU/quantum-catalog/internal/extractor/rigetti"
	collyfetcher "github.com/JakeFAU/quantum-catalog/internal/fetcher/colly"
	"github.com/JakeFAU/quantum-catalog/internal/gateway"
	"github.com/JakeFAU/quantum-catalog/internal/hash/sha256"
	"github.com/JakeFAU/quantum-catalog/internal/id/uuid"
	"github.com/JakeFAU/quantum-catalog/internal/logging"
	"github.com/JakeFAU/quantum-catalog/internal/metrics"
	"github.com/JakeFAU/quantum-catalog/internal/normalize"
	"github.com/JakeFAU/quantum-catalog/internal/policy/ratelimit"
	"github.com/JakeFAU/quantum-catalog/internal/pricing"
	gcppublisher "github.com/JakeFAU/quantum-catalog/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/quantum-catalog/internal/queue/memory"
	"github.com/JakeFAU/quantum-catalog/internal/reconcile"
	"github.com/JakeFAU/quantum-catalog/internal/scheduler"
	gcsstorage "github.com/JakeFAU/quantum-catalog/internal/storage/gcs"
	localstorage "github.com/JakeFAU/quantum-catalog/internal/storage/local"
	memorystorage "github.com/JakeFAU/quantum-catalog/internal/storage/memory"
	pgstore "github.com/JakeFAU/quantum-catalog/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/quantum-catalog/internal/storage/sqlite"
	"github.com/JakeFAU/quantum-catalog/internal/strategy"
	"github.com/JakeFAU/quantum-catalog/internal/telemetry"
	"github.com/JakeFAU/quantum-catalog/internal/worker"
)

// RefreshedTopic is the logical topic of the per-refresh catalog event.
const RefreshedTopic = "catalog.refreshed"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	// Store is the configured document store.
	Store catalog.Store
	// Reconciler refreshes providers synchronously; the CLI uses it directly.
	Reconciler *reconcile.Reconciler
	// Credentials stores and resolves the operator's encrypted secrets.
	Credentials *credentials.Resolver

	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	scheduler *scheduler.Scheduler
	queue     *queuememory.Queue

	// closers run in reverse order on Close.
	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func(context.Context) error
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the application was built from.
func (a *App) Config() config.Config { return a.cfg }

// Build creates the application's dependencies. On failure every component
// built so far is closed.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	app.onClose("telemetry", shutdownTelemetry)
	metrics.Init()

	logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Driver),
		zap.String("browser", cfg.Browser.Driver),
		zap.String("archive", cfg.Archive.Backend),
		zap.Int("workers", cfg.Workers.Count),
	)

	clock := system.New()
	ids := uuid.NewUUIDGenerator()

	if app.Store, err = openStore(ctx, cfg.Store, ids); err != nil {
		return nil, err
	}
	app.onClose("store", func(context.Context) error { return app.Store.Close() })

	notifier := setupNotifier(cfg, clock, logger)

	cipher, err := setupCipher(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.Credentials = credentials.NewResolver(app.Store, cipher, cfg.Operator.Email, clock)

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RatePerSecond, Burst: cfg.HTTP.Burst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	}, limiter)

	launcher, err := setupBrowser(cfg.Browser)
	if err != nil {
		return nil, err
	}
	app.onClose("browser", func(context.Context) error { return launcher.Close() })

	registry, err := setupRegistry(fetcher, app.Store, app.logger)
	if err != nil {
		return nil, err
	}

	archive, err := setupArchive(ctx, app, cfg.Archive)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(
		gateway.Config{Archive: archive, ArchivePrefix: cfg.Archive.Prefix, Hasher: sha256.New()},
		normalize.New(clock),
		clock,
		logger,
		strategy.NewAPI(registry, app.Credentials, cfg.StrategyTimeout(string(catalog.FetchAPI)), logger),
		strategy.NewSDK(registry, app.Credentials, cfg.StrategyTimeout(string(catalog.FetchSDK)), logger),
		strategy.NewScraping(registry, launcher, notifier, cfg.StrategyTimeout(string(catalog.FetchScraping)), logger),
	)
	if err != nil {
		return nil, fmt.Errorf("gateway init failed: %w", err)
	}

	prices := pricing.NewCache(pricing.NewScraper(fetcher, cfg.Pricing.URL), cfg.PricingTTL(), clock, notifier)

	opts := []reconcile.Option{
		reconcile.WithPrices(prices),
		reconcile.WithDiscovery(braket.Discover(app.Credentials, braket.NewClient)),
	}
	publisher, err := setupPublisher(ctx, app, cfg.PubSub)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		opts = append(opts, reconcile.WithPublisher(publisher))
	}
	app.Reconciler = reconcile.New(
		reconcile.Config{Limit: cfg.Workers.RefreshLimit, Topic: RefreshedTopic},
		app.Store, gw, clock, logger, opts...,
	)

	jobStore := memorystorage.NewJobStore()
	app.queue = queuememory.NewQueue(cfg.Workers.QueueDepth)
	app.onClose("queue", func(context.Context) error {
		app.queue.Close()
		return nil
	})
	workers := make([]*worker.Worker, 0, cfg.Workers.Count)
	for i := 0; i < cfg.Workers.Count; i++ {
		workers = append(workers, worker.New(
			app.queue, jobStore, app.Reconciler, clock,
			logger.With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, jobStore, ids, clock, workers, logger)

	if cfg.Schedule.Enabled {
		app.scheduler, err = scheduler.New(scheduler.Config{
			OnStartup:   cfg.Schedule.OnStartup,
			Nightly:     cfg.Schedule.Nightly,
			WeeklyReset: cfg.Schedule.Weekly,
		}, app.dispatch, logger)
		if err != nil {
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	app.apiServer = api.NewServer(app.Store, jobStore, app.dispatch, clock, cfg, logger)
	return app, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, ids catalog.IDGenerator) (catalog.Store, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := pgstore.NewStore(ctx, pgstore.Config{
			DSN:         cfg.DSN,
			TablePrefix: cfg.TablePrefix,
			MaxConns:    int32(cfg.MaxOpenConns), // #nosec G115 -- small configured value
			MinConns:    int32(cfg.MaxIdleConns), // #nosec G115 -- small configured value
		}, ids)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := sqlitestore.NewStore(ctx, cfg.DSN, ids)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		return store, nil
	default:
		return memorystorage.NewStore(ids), nil
	}
}

func setupNotifier(cfg config.Config, clock catalog.Clock, logger *zap.Logger) catalog.Notifier {
	notifiers := alert.Multi{alert.NewLog(logger)}
	if cfg.Alert.WebhookURL != "" {
		timeout := time.Duration(cfg.Alert.TimeoutSeconds) * time.Second
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alert.WebhookURL, timeout, clock, logger))
	}
	return notifiers
}

func setupCipher(cfg config.Config, logger *zap.Logger) (*credentials.Cipher, error) {
	key := cfg.CredentialKey()
	if key == nil {
		logger.Warn("credentials.key not set, stored provider secrets are unavailable")
		return nil, nil
	}
	cipher, err := credentials.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials cipher init failed: %w", err)
	}
	return cipher, nil
}

func setupBrowser(cfg config.BrowserConfig) (browser.Launcher, error) {
	navTimeout := time.Duration(cfg.NavTimeoutSec) * time.Second
	switch cfg.Driver {
	case "rod":
		l, err := rodbrowser.New(rodbrowser.Config{
			MaxParallel:       cfg.MaxParallel,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: navTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("rod launcher init failed: %w", err)
		}
		return l, nil
	default:
		l, err := chromedpbrowser.New(chromedpbrowser.Config{
			MaxParallel:       cfg.MaxParallel,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: navTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("chromedp launcher init failed: %w", err)
		}
		return l, nil
	}
}

func setupRegistry(fetcher *collyfetcher.Fetcher, providers braket.ProviderLookup, logger *zap.Logger) (*extractor.Registry, error) {
	registry := extractor.NewRegistry()
	for name, e := range map[string]extractor.Extractor{
		ionq.Name:    ionq.New(fetcher),
		ibm.Name:     ibm.New(fetcher),
		rigetti.Name: rigetti.New(),
		braket.Name:  braket.New(braket.NewClient, providers, logger.Named("braket")),
	} {
		if err := registry.Register(name, e); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func setupArchive(ctx context.Context, app *App, cfg config.ArchiveConfig) (catalog.BlobStore, error) {
	switch cfg.Backend {
	case "gcs":
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		app.onClose("gcs", func(context.Context) error { return store.Close() })
		app.logger.Info("archiving raw payloads to gcs", zap.String("bucket", cfg.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		app.logger.Info("archiving raw payloads locally", zap.String("path", cfg.BaseDir))
		return store, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App, cfg config.PubSubConfig) (catalog.Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		app.logger.Info("no Pub/Sub topic configured, refresh events are not published")
		return nil, nil
	}
	pub, err := gcppublisher.Dial(ctx, cfg.ProjectID, cfg.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.onClose("pubsub", func(context.Context) error { return pub.Close() })
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return pub, nil
}

// Run starts the workers, the scheduler and the HTTP server, and blocks until
// the context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Workers.Count))
		a.dispatch.Run(ctx)
	}()

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	return a.Close(shutdownCtx)
}

// Close releases every component in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
