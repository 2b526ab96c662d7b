// Package server builds the crawl service's dependency graph and owns its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/fxnews-crawler/internal/api"
	"github.com/JakeFAU/fxnews-crawler/internal/backend"
	"github.com/JakeFAU/fxnews-crawler/internal/clock"
	"github.com/JakeFAU/fxnews-crawler/internal/config"
	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/enrich"
	collyfetcher "github.com/JakeFAU/fxnews-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/fxnews-crawler/internal/httpclient"
	"github.com/JakeFAU/fxnews-crawler/internal/id/uuid"
	"github.com/JakeFAU/fxnews-crawler/internal/logging"
	"github.com/JakeFAU/fxnews-crawler/internal/metrics"
	"github.com/JakeFAU/fxnews-crawler/internal/pipeline"
	"github.com/JakeFAU/fxnews-crawler/internal/policy/hostlimit"
	memorypublisher "github.com/JakeFAU/fxnews-crawler/internal/publisher/memory"
	"github.com/JakeFAU/fxnews-crawler/internal/respcache"
	memorystore "github.com/JakeFAU/fxnews-crawler/internal/storage/memory"
	redisstore "github.com/JakeFAU/fxnews-crawler/internal/storage/redis"
)

// App contains the application's dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	apiServer   *api.Server
	pipeline    *pipeline.Service
	catalog     *crawler.Catalog
	validators  *memorystore.ValidatorStore
	memoryMeta  *memorystore.MetaStore
	redis       *goredis.Client
	// notifications is set when crawl events are recorded in memory.
	notifications *memorypublisher.Publisher
	readyChecks []api.ReadyCheck
	closers     []namedCloser
	closeOnce   sync.Once
}

type namedCloser struct {
	name  string
	close func() error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("fetch_workers", cfg.Crawler.FetchWorkers),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.String("storage", cfg.Storage.Backend),
	)

	sysClock := clock.System{}
	ids := uuid.NewUUIDGenerator()

	orchestrator := app.buildCrawler(sysClock, ids)
	enricher := app.buildEnricher()

	sink, err := app.setupSinks(ctx)
	if err != nil {
		app.closeAll()
		return nil, err
	}

	metaStore, err := app.setupMetaStore(ctx)
	if err != nil {
		app.closeAll()
		return nil, err
	}
	cache := respcache.New(metaStore, cfg.Cache.MetaTTL(), time.Now, logger.Named("respcache"))

	var predictor pipeline.Predictor
	if cfg.Backends.PredictURL != "" {
		predictor = backend.NewPredictClient(cfg.Backends.PredictURL, httpclient.NewBackendClient(cfg.Backends.PredictTimeout))
	}
	app.pipeline = pipeline.New(
		pipeline.Config{PredictTimeout: cfg.Backends.PredictTimeout},
		orchestrator,
		enricher,
		sink,
		predictor,
		sysClock,
		ids,
		logger.Named("pipeline"),
	)

	app.apiServer = api.NewServer(api.Options{
		Pipeline:           app.pipeline,
		Catalog:            app.catalog,
		Cache:              cache,
		Clock:              sysClock,
		Logger:             logger,
		AllowedOrigins:     cfg.Server.CORSAllowedOrigins,
		RequestTimeout:     cfg.Server.RequestTimeout,
		DefaultWindowHours: cfg.Crawler.WindowHoursDefault,
		DefaultLimit:       cfg.Crawler.LimitDefault,
		ReadyChecks:        app.readyChecks,
	})
	return app, nil
}

func (a *App) buildCrawler(clk crawler.Clock, ids crawler.IDGenerator) *crawler.Orchestrator {
	cfg := a.cfg
	a.validators = memorystore.NewValidatorStore()
	transport := httpclient.NewFeedTransport(
		httpclient.TransportConfig{
			ConnectTimeout: cfg.Crawler.ConnectTimeout,
			ReadTimeout:    cfg.Crawler.ReadTimeout,
		},
		httpclient.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BackoffInitial,
			MaxDelay:    cfg.Retry.BackoffMax,
			Statuses:    cfg.Retry.Statuses,
		},
	)
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.FetchTimeout,
		Transport: transport,
	}, a.validators)

	var groups map[string][]string
	if len(cfg.Crawler.Groups) > 0 {
		groups = cfg.Crawler.Groups
	}
	a.catalog = crawler.NewCatalog(groups, cfg.Crawler.DefaultGroups, cfg.Crawler.FeedURLs)
	if len(cfg.Crawler.FeedURLs) > 0 {
		a.logger.Info("feed url override active", zap.Int("feeds", len(cfg.Crawler.FeedURLs)))
	}

	return crawler.New(
		crawler.Config{Workers: cfg.Crawler.FetchWorkers, Deadline: cfg.Crawler.CrawlDeadline},
		a.catalog,
		fetcher,
		hostlimit.New(hostConfig(cfg.Hosts)),
		clk,
		ids,
		a.logger.Named("crawler"),
	)
}

// hostConfig layers configured overrides over the built-in host table.
func hostConfig(hc config.HostsConfig) hostlimit.Config {
	out := hostlimit.DefaultConfig()
	if hc.DefaultLimit > 0 {
		out.DefaultLimit = hc.DefaultLimit
	}
	if hc.DefaultSpacing > 0 {
		out.DefaultSpacing = hc.DefaultSpacing
	}
	out.PreJitter = hc.PreJitter
	out.PostJitter = hc.PostJitter
	for _, o := range hc.Overrides {
		if o.Limit > 0 {
			out.Limits[o.Host] = o.Limit
		}
		if o.Spacing > 0 {
			out.Spacing[o.Host] = o.Spacing
		}
	}
	return out
}

func (a *App) buildEnricher() *enrich.Enricher {
	cfg := a.cfg
	client := httpclient.NewBackendClient(cfg.Backends.EnrichTimeout)
	var (
		nlp       enrich.NLPBackend
		sentiment enrich.SentimentBackend
	)
	if cfg.Backends.NLPURL != "" {
		nlp = backend.NewNLPClient(cfg.Backends.NLPURL, client)
	}
	if cfg.Backends.SentimentURL != "" {
		sentiment = backend.NewSentimentClient(cfg.Backends.SentimentURL, client)
	}
	return enrich.New(
		enrich.Config{NLPBatch: cfg.Enrich.NLPBatch, SentimentBatch: cfg.Enrich.SentimentBatch},
		nlp,
		sentiment,
		a.logger.Named("enrich"),
	)
}

func (a *App) setupMetaStore(ctx context.Context) (respcache.MetaStore, error) {
	if !a.cfg.Redis.Enabled {
		a.memoryMeta = memorystore.NewMetaStore(time.Now)
		return a.memoryMeta, nil
	}
	client, err := redisstore.Connect(ctx, a.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("redis init failed: %w", err)
	}
	a.redis = client
	a.addCloser("redis", client.Close)
	a.readyChecks = append(a.readyChecks, api.ReadyCheck{
		Name:  "redis",
		Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
	})
	a.logger.Info("using redis response meta store")
	return redisstore.NewMetaStore(client, a.cfg.Redis.KeyPrefix, time.Now), nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Pipeline exposes the crawl pipeline for one-shot runs.
func (a *App) Pipeline() *pipeline.Service {
	return a.pipeline
}

// Catalog exposes the configured feed catalog.
func (a *App) Catalog() *crawler.Catalog {
	return a.catalog
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and blocks until the context is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.memoryMeta != nil {
		go a.sweepMeta(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// sweepMeta drops expired response metadata until ctx ends.
func (a *App) sweepMeta(ctx context.Context) {
	interval := a.cfg.Cache.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.memoryMeta.Sweep(); n > 0 {
				a.logger.Debug("swept response metadata", zap.Int("expired", n))
			}
		}
	}
}

// Crawl runs the pipeline once.
func (a *App) Crawl(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	res, err := a.pipeline.Run(ctx, req)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("run pipeline: %w", err)
	}
	return res, nil
}

// Close waits for background predict calls and releases external clients. It is idempotent.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.pipeline != nil {
			a.pipeline.Wait()
		}
		a.closeAll()
		fields := []zap.Field{zap.Int("feed_validators", a.validators.Len())}
		if a.notifications != nil {
			fields = append(fields, zap.Int("notifications_retained", len(a.notifications.Messages())))
		}
		a.logger.Info("shutdown complete", fields...)
		_ = a.logger.Sync()
	})
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
