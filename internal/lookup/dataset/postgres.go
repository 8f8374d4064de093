package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/lookup"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/resilience"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PostgresLoader reads the classifications from three tables. Rows are read
// in position order so the indexes see records in their published order.
//
//	CREATE TABLE icd10_int (position BIGINT PRIMARY KEY, code TEXT NOT NULL, title TEXT);
//	CREATE TABLE icd10_cm  (position BIGINT PRIMARY KEY, code TEXT NOT NULL, long_description TEXT);
//	CREATE TABLE icd10_pcs (position BIGINT PRIMARY KEY, code TEXT NOT NULL, long_description TEXT);
type PostgresLoader struct {
	db     Querier
	tables config.TablesConfig
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// NewPostgresLoader returns a lookup.Loader reading tables through db.
func NewPostgresLoader(db Querier, tables config.TablesConfig, retry resilience.RetryConfig) *PostgresLoader {
	return &PostgresLoader{
		db:     db,
		tables: tables,
		retry:  retry,
		logger: logger.WithComponent("dataset-postgres"),
	}
}

var _ lookup.Loader = (*PostgresLoader)(nil)

func (l *PostgresLoader) Load(ctx context.Context) (*lookup.RawDatasets, error) {
	var raw lookup.RawDatasets
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		raw.Global, err = resilience.Do(gctx, "load "+l.tables.Global, l.retry, func(ctx context.Context) ([]lookup.RawGlobalCode, error) {
			return l.readGlobal(ctx)
		})
		return err
	})
	g.Go(func() (err error) {
		raw.Diagnoses, err = resilience.Do(gctx, "load "+l.tables.Diagnoses, l.retry, func(ctx context.Context) ([]lookup.RawUSCode, error) {
			return l.readUS(ctx, l.tables.Diagnoses)
		})
		return err
	})
	g.Go(func() (err error) {
		raw.Procedures, err = resilience.Do(gctx, "load "+l.tables.Procedures, l.retry, func(ctx context.Context) ([]lookup.RawUSCode, error) {
			return l.readUS(ctx, l.tables.Procedures)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &raw, nil
}

func (l *PostgresLoader) readGlobal(ctx context.Context) ([]lookup.RawGlobalCode, error) {
	rows, err := l.db.QueryContext(ctx, globalQuery(l.tables.Global))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", l.tables.Global, err)
	}
	defer rows.Close()

	var out []lookup.RawGlobalCode
	for rows.Next() {
		var (
			code  string
			title sql.NullString
		)
		if err := rows.Scan(&code, &title); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", l.tables.Global, err)
		}
		out = append(out, lookup.RawGlobalCode{Code: code, Title: lookup.Title(title.String)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", l.tables.Global, err)
	}
	l.logger.Info("table loaded", "table", l.tables.Global, "rows", len(out))
	return out, nil
}

func (l *PostgresLoader) readUS(ctx context.Context, table string) ([]lookup.RawUSCode, error) {
	rows, err := l.db.QueryContext(ctx, usQuery(table))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	var out []lookup.RawUSCode
	for rows.Next() {
		var (
			code string
			desc sql.NullString
		)
		if err := rows.Scan(&code, &desc); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		out = append(out, lookup.RawUSCode{Code: code, LongDescription: desc.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}
	l.logger.Info("table loaded", "table", table, "rows", len(out))
	return out, nil
}

func globalQuery(table string) string {
	return "SELECT code, title FROM " + pq.QuoteIdentifier(table) + " ORDER BY position"
}

func usQuery(table string) string {
	return "SELECT code, long_description FROM " + pq.QuoteIdentifier(table) + " ORDER BY position"
}
