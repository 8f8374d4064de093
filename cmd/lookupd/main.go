package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/lookup"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/lookup/dataset"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/server/cache"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/server/handler"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/server/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (defaults and ML_* env vars apply without one)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)

	if err := run(cfg); err != nil {
		slog.Error("lookup service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("lookup service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting lookup service",
		"port", cfg.Server.Port,
		"dataset_source", cfg.Datasets.Source,
	)
	m := metrics.New(prometheus.DefaultRegisterer)

	var pg *postgres.Client
	if cfg.Postgres.Enabled {
		var err error
		pg, err = postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pg.Close()
	}

	loader, err := newLoader(ctx, cfg, pg)
	if err != nil {
		return err
	}
	engine := lookup.New(lookup.Options{
		MaxResults:  cfg.Search.MaxResults,
		MaxExamples: cfg.Search.MaxExamples,
	})
	err = resilience.WithTimeout(ctx, cfg.Datasets.InitTimeout, "engine init", func(ctx context.Context) error {
		return engine.Init(ctx, loader)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		return err
	}
	recordIndexStats(m, engine.Stats())

	checker := health.NewChecker()
	checker.Register("lookup_engine", func(context.Context) error {
		if !engine.Ready() {
			return apperrors.ErrNotReady
		}
		return nil
	})

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, lookup caching disabled", "error", err)
		} else {
			defer rc.Close()
			queryCache = cache.New(rc, cfg.Redis.CacheTTL, m)
			if err := queryCache.Invalidate(ctx); err != nil {
				slog.Warn("stale cache entries not cleared", "error", err)
			}
			checker.RegisterOptional("redis", rc.Ping)
			slog.Info("lookup cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// With a broker, events go to Kafka and lookup-analytics aggregates them
	// across replicas; otherwise this process aggregates its own traffic.
	var (
		pub collector.Publisher
		agg *analytics.Aggregator
	)
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.LookupEvents)
		defer producer.Close()
		pub = producer
		slog.Info("lookup events routed through kafka", "topic", cfg.Kafka.Topics.LookupEvents)
	} else {
		agg = analytics.NewAggregator()
		pub = agg
	}
	events := collector.NewBatchCollector(pub, collector.Options{
		BatchSize:     100,
		FlushInterval: time.Second,
		MaxBuffered:   cfg.Analytics.BufferSize,
		Dropped:       m.EventsDropped,
	})
	g.Go(func() error {
		events.Run(gctx)
		return nil
	})

	if pg != nil {
		checker.RegisterOptional("postgres", pg.Ping)
		if agg != nil {
			store := aggregator.NewStore(pg.DB)
			if err := store.Resume(ctx, agg); err != nil {
				slog.Warn("analytics snapshot not restored", "error", err)
			}
			g.Go(func() error {
				store.Run(gctx, agg, cfg.Analytics.SnapshotInterval)
				return nil
			})
		}
	}

	limiter := ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateWindow)
	g.Go(func() error {
		limiter.Run(gctx, time.Minute)
		return nil
	})

	api := http.NewServeMux()
	handler.New(engine, queryCache, events, m).Register(api)
	if agg != nil {
		handler.NewAnalytics(agg).Register(api)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", limiter.Middleware(api))
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler(prometheus.DefaultGatherer))

	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(sctx)
		}()
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Timeout(cfg.Server.WriteTimeout),
			middleware.Metrics(m),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("lookup service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// newLoader picks the dataset loader for the configured source.
func newLoader(ctx context.Context, cfg *config.Config, pg *postgres.Client) (lookup.Loader, error) {
	ds := cfg.Datasets
	retry := resilience.RetryConfig{
		MaxAttempts:  ds.Retry.MaxAttempts,
		InitialDelay: ds.Retry.InitialDelay,
		MaxDelay:     ds.Retry.MaxDelay,
	}
	names := dataset.Names{Global: ds.Global, Diagnoses: ds.Diagnoses, Procedures: ds.Procedures}
	switch ds.Source {
	case config.SourceS3:
		src, err := dataset.NewS3Source(ctx, ds.S3)
		if err != nil {
			return nil, err
		}
		return dataset.NewJSONLoader(src, names, retry), nil
	case config.SourcePostgres:
		if pg == nil {
			return nil, errors.New("postgres dataset source requires postgres.enabled")
		}
		return dataset.NewPostgresLoader(pg.DB, ds.Tables, retry), nil
	default:
		return dataset.NewJSONLoader(dataset.FileSource{Dir: ds.Dir}, names, retry), nil
	}
}

func recordIndexStats(m *metrics.Metrics, st lookup.Stats) {
	m.IndexRecords.WithLabelValues("global").Set(float64(st.GlobalCodes))
	m.IndexRecords.WithLabelValues("us_diagnoses").Set(float64(st.Diagnoses))
	m.IndexRecords.WithLabelValues("us_procedures").Set(float64(st.Procedures))
	m.IndexTerms.WithLabelValues("global").Set(float64(st.GlobalTerms))
	m.IndexTerms.WithLabelValues("procedures").Set(float64(st.ProcedureTerms))
	m.IndexTerms.WithLabelValues("diagnosis_buckets").Set(float64(st.DiagnosisBuckets))
	m.IndexPostings.WithLabelValues("global").Set(float64(st.GlobalPostings))
	m.IndexPostings.WithLabelValues("procedures").Set(float64(st.ProcedurePostings))
	m.IndexBuildTime.Set(float64(st.BuildMs) / 1000)
	if st.Ready {
		m.Ready.Set(1)
	}
}
