package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/document-ingestion/internal/adapter/chromedp_render"
	"github.com/user/document-ingestion/internal/adapter/httpfetch"
	"github.com/user/document-ingestion/internal/adapter/parser"
	"github.com/user/document-ingestion/internal/adapter/postgres"
	redis_adapter "github.com/user/document-ingestion/internal/adapter/redis"
	"github.com/user/document-ingestion/internal/adapter/s3store"
	"github.com/user/document-ingestion/internal/catalog"
	"github.com/user/document-ingestion/internal/usecase"
	"github.com/user/document-ingestion/pkg/config"
	"github.com/user/document-ingestion/pkg/logger"
	"github.com/user/document-ingestion/pkg/metrics"
	"github.com/user/document-ingestion/pkg/ratelimit"
)

// app owns the process-wide connections. Each command opens only what it needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	db       *pgxpool.Pool
	rdb      *redis.Client
	store    *s3store.Store
	renderer *chromedp_render.Renderer
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &app{
		cfg:      cfg,
		logger:   log,
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

func (a *app) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := pgxpool.New(ctx, a.cfg.Postgres.URL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	a.logger.Info("PostgreSQL connection pool established")
	a.db = db
	return db, nil
}

func (a *app) redis(ctx context.Context) (*redis.Client, error) {
	if a.rdb != nil {
		return a.rdb, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "connect to redis")
	}
	a.logger.Info("Redis connection established")
	a.rdb = rdb
	return rdb, nil
}

func (a *app) objectStore(ctx context.Context) (*s3store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := s3store.New(ctx, a.cfg.S3, a.logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

// fetcher builds the rate-limited fetcher. Hosts flagged for rendering go
// through a shared headless Chrome.
func (a *app) fetcher() *httpfetch.Fetcher {
	def := ratelimit.Limit{
		Capacity:       a.cfg.RateLimit.Default.Capacity,
		RefillInterval: a.cfg.RateLimit.Default.RefillInterval,
	}
	perHost := make(map[string]ratelimit.Limit, len(a.cfg.RateLimit.Hosts))
	renderHosts := make(map[string]bool)
	for _, h := range a.cfg.RateLimit.Hosts {
		perHost[h.Host] = ratelimit.Limit{Capacity: h.Capacity, RefillInterval: h.RefillInterval}
		if h.Render {
			renderHosts[strings.ToLower(h.Host)] = true
		}
	}

	var renderer httpfetch.Renderer
	if len(renderHosts) > 0 {
		a.renderer = chromedp_render.NewRenderer(a.cfg.Fetch.UserAgent, a.cfg.Fetch.RenderTimeout, a.logger)
		renderer = a.renderer
	}

	return httpfetch.NewFetcher(
		&http.Client{Timeout: a.cfg.Fetch.Timeout},
		ratelimit.New(def, perHost).WithGlobal(ratelimit.Limit{
			Capacity:       a.cfg.RateLimit.Global.Capacity,
			RefillInterval: a.cfg.RateLimit.Global.RefillInterval,
		}),
		httpfetch.NewBreakers(a.cfg.CircuitBreaker.FailureThreshold, a.cfg.CircuitBreaker.Cooldown),
		renderer,
		httpfetch.Options{
			UserAgent:   a.cfg.Fetch.UserAgent,
			Timeout:     a.cfg.Fetch.Timeout,
			RenderHosts: renderHosts,
		},
		a.metrics,
		a.logger,
	)
}

// pipeline wires every adapter into a coordinator and the operator use case.
func (a *app) pipeline(ctx context.Context, opts usecase.Options) (*usecase.Coordinator, usecase.ReferenceManager, error) {
	db, err := a.postgres(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.ApplySchema(ctx, db); err != nil {
		return nil, nil, err
	}
	rdb, err := a.redis(ctx)
	if err != nil {
		return nil, nil, err
	}
	store, err := a.objectStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	p := a.cfg.Pipeline
	attempts := redis_adapter.NewAttemptRepo(rdb, p.CheckpointTTL)
	documents := postgres.NewDocumentRepo(db)
	failures := postgres.NewFailureRepo(db)
	runs := postgres.NewRunRepo(db)

	opts.Workers = p.Workers
	opts.Retry = usecase.RetryPolicy{
		MaxAttempts: p.MaxAttempts,
		BaseDelay:   p.BaseDelay,
		MaxDelay:    p.MaxDelay,
		Multiplier:  p.Multiplier,
		Jitter:      0.5,
	}

	coord := usecase.NewCoordinator(usecase.Dependencies{
		Catalog:   catalog.New(p.QueueCapacity, redis_adapter.NewFrontierRepo(rdb), a.logger),
		Fetcher:   a.fetcher(),
		Parser:    parser.New(),
		Uploader:  usecase.NewUploader(store, a.cfg.S3.Prefix, p.UploadTimeout, a.metrics, a.logger),
		Committer: usecase.NewCommitter(documents, p.ConflictRetries, p.CommitTimeout, a.logger),
		Attempts:  attempts,
		Failures:  failures,
		Documents: documents,
		Runs:      runs,
		Metrics:   a.metrics,
		Logger:    a.logger,
	}, opts)

	manager := usecase.NewReferenceManager(coord, attempts, documents, failures, runs)
	return coord, manager, nil
}

// operator builds the read-side use case without the fetch stack.
func (a *app) operator(ctx context.Context) (usecase.ReferenceManager, error) {
	db, err := a.postgres(ctx)
	if err != nil {
		return nil, err
	}
	rdb, err := a.redis(ctx)
	if err != nil {
		return nil, err
	}
	return usecase.NewReferenceManager(
		nil,
		redis_adapter.NewAttemptRepo(rdb, a.cfg.Pipeline.CheckpointTTL),
		postgres.NewDocumentRepo(db),
		postgres.NewFailureRepo(db),
		postgres.NewRunRepo(db),
	), nil
}

func (a *app) close() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	_ = a.logger.Sync()
}
