// Package aggregator persists analytics snapshots to PostgreSQL.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/logger"
)

// Schema creates the snapshot table.
const Schema = `CREATE TABLE IF NOT EXISTS lookup_analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// DB is satisfied by *sql.DB.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store saves and loads aggregated stats snapshots.
type Store struct {
	db     DB
	logger *slog.Logger
}

func NewStore(db DB) *Store {
	return &Store{
		db:     db,
		logger: logger.WithComponent("analytics-store"),
	}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating snapshot table: %w", err)
	}
	return nil
}

// SaveSnapshot writes one snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lookup_analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
		data, stats.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Debug("analytics snapshot saved", "total_lookups", stats.TotalLookups)
	return nil
}

// LatestSnapshot loads the newest snapshot, or nil when none exists.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM lookup_analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}
	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &stats, nil
}

// Resume prepares the table and seeds agg from the newest snapshot. A
// missing snapshot is not an error.
func (s *Store) Resume(ctx context.Context, agg *analytics.Aggregator) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	last, err := s.LatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if last != nil {
		agg.Restore(*last)
		s.logger.Info("analytics restored", "total_lookups", last.TotalLookups, "captured_at", last.CapturedAt)
	}
	return nil
}

// Run snapshots agg every interval until ctx is cancelled, then writes a
// final snapshot.
func (s *Store) Run(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("periodic snapshot started", "interval", interval)
	for {
		select {
		case <-ticker.C:
			if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			cancel()
			return
		}
	}
}
