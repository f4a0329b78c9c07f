package cmd

import (
	"context"
	"fmt"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/config"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/database"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/jobs"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/metrics"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/reconciliation"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/registry"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/repository"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/scraper"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/selector"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the components shared by the serve, agent and scrape commands.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	db       *database.DB
	fields   repository.FieldRepository
	products repository.ProductRepository
	registry *registry.Registry

	engine     *selector.Engine
	source     scraper.Source     // listing pages, browser-rendered when scraper.browser is set
	pageFetch  scraper.HTTPSource // detail pages
	collection *scraper.CollectionScraper
	detail     *scraper.DetailScraper
	reconciler *reconciliation.Reconciler
	enricher   *reconciliation.Enricher
	rescanner  *reconciliation.Rescanner

	redis *redis.Client
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	m := metrics.New()

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	fields := repository.NewFieldRepository(db, logger, m)
	products := repository.NewProductRepository(db, logger, m)
	reg := registry.New(fields, logger, m)
	if err := reg.Load(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load field registry: %w", err)
	}

	engine := selector.NewEngine(logger)
	fetchCfg := scraper.DefaultFetcherConfig()
	fetchCfg.Timeout = cfg.Scraper.FetchTimeout
	fetchCfg.MaxRetries = cfg.Scraper.MaxRetries
	if cfg.Scraper.UserAgent != "" {
		fetchCfg.UserAgent = cfg.Scraper.UserAgent
	}
	pageFetch := scraper.HTTPSource{Fetcher: scraper.NewFetcher(fetchCfg, logger, m)}
	var source scraper.Source = pageFetch
	if cfg.Scraper.Browser {
		source = scraper.BrowserSource{Timeout: cfg.Scraper.FetchTimeout}
	}

	detail := scraper.NewDetailScraper(reg, pageFetch, engine, logger, m)
	reconciler := reconciliation.NewReconciler(reg, products, logger, m)
	enricher := reconciliation.NewEnricher(detail, reconciler, cfg.Scraper.Concurrency, logger)

	a := &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		db:         db,
		fields:     fields,
		products:   products,
		registry:   reg,
		engine:     engine,
		source:     source,
		pageFetch:  pageFetch,
		collection: scraper.NewCollectionScraper(engine, cfg.Scraper.ItemSelector, logger, m),
		detail:     detail,
		reconciler: reconciler,
		enricher:   enricher,
		rescanner:  reconciliation.NewRescanner(reg, products, enricher, 0, logger),
	}
	return a, nil
}

// jobStore returns a Redis backed store when redis.url is set, otherwise an
// in-memory one.
func (a *app) jobStore() (jobs.Store, error) {
	if a.cfg.Redis.URL == "" {
		a.logger.Info("Keeping job state in memory")
		return jobs.NewMemoryStore(a.cfg.Jobs.ResultTTL), nil
	}
	client, err := jobs.NewRedisClient(a.cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.logger.Info("Keeping job state in Redis")
	return jobs.NewRedisStore(client, a.cfg.Jobs.ResultTTL), nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
}
