// Command lookup-analytics aggregates lookup events published by lookupd
// replicas to Kafka, snapshots the aggregates to PostgreSQL when enabled and
// serves them at GET /api/v1/analytics.
//
// Usage:
//
//	go run ./cmd/lookup-analytics [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/server/handler"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)

	if err := run(cfg); err != nil {
		slog.Error("analytics service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}

func run(cfg *config.Config) error {
	if !cfg.Kafka.Enabled {
		return errors.New("lookup-analytics consumes from kafka; set kafka.enabled")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	slog.Info("starting analytics service", "port", cfg.Server.Port, "topic", cfg.Kafka.Topics.LookupEvents)

	m := metrics.New(prometheus.DefaultRegisterer)
	agg := analytics.NewAggregator()
	checker := health.NewChecker()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Postgres.Enabled {
		pg, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pg.Close()
		store := aggregator.NewStore(pg.DB)
		if err := store.Resume(ctx, agg); err != nil {
			return err
		}
		checker.RegisterOptional("postgres", pg.Ping)
		g.Go(func() error {
			store.Run(gctx, agg, cfg.Analytics.SnapshotInterval)
			return nil
		})
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.LookupEvents, agg.HandleMessage)
	g.Go(func() error { return consumer.Run(gctx) })

	mux := http.NewServeMux()
	handler.NewAnalytics(agg).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler(prometheus.DefaultGatherer))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middleware.RequestID, middleware.Metrics(m)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("analytics service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

