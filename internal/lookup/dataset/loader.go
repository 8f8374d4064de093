package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/lookup"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/resilience"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

// Names locates the three documents within a Source.
type Names struct {
	Global     string
	Diagnoses  string
	Procedures string
}

// JSONLoader reads three JSON arrays from a Source. The documents are
// fetched and decoded concurrently; each fetch is retried independently and
// the first permanent failure cancels the others.
type JSONLoader struct {
	src    Source
	names  Names
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// NewJSONLoader returns a lookup.Loader over src.
func NewJSONLoader(src Source, names Names, retry resilience.RetryConfig) *JSONLoader {
	return &JSONLoader{
		src:    src,
		names:  names,
		retry:  retry,
		logger: logger.WithComponent("dataset-loader"),
	}
}

var _ lookup.Loader = (*JSONLoader)(nil)

func (l *JSONLoader) Load(ctx context.Context) (*lookup.RawDatasets, error) {
	var raw lookup.RawDatasets
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		raw.Global, err = fetch[lookup.RawGlobalCode](gctx, l, l.names.Global)
		return err
	})
	g.Go(func() (err error) {
		raw.Diagnoses, err = fetch[lookup.RawUSCode](gctx, l, l.names.Diagnoses)
		return err
	})
	g.Go(func() (err error) {
		raw.Procedures, err = fetch[lookup.RawUSCode](gctx, l, l.names.Procedures)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &raw, nil
}

func fetch[T any](ctx context.Context, l *JSONLoader, name string) ([]T, error) {
	return resilience.Do(ctx, "load "+name, l.retry, func(ctx context.Context) ([]T, error) {
		start := time.Now()
		rc, err := l.src.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		h := xxhash.New()
		records, err := decodeArray[T](io.TeeReader(rc, h))
		if err != nil {
			// A truncated stream may be transient; malformed content is not.
			if ctx.Err() != nil || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}
			return nil, resilience.Permanent(fmt.Errorf("decoding %s: %w", name, err))
		}
		l.logger.Info("dataset fetched",
			"name", name,
			"records", len(records),
			"checksum", fmt.Sprintf("%016x", h.Sum64()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return records, nil
	})
}

// decodeArray requires the document to be a single JSON array.
func decodeArray[T any](r io.Reader) ([]T, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("expected a JSON array, got %v", tok)
	}
	records := make([]T, 0, 1024)
	for dec.More() {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return records, nil
}
