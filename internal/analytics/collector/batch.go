// Package collector buffers lookup events off the request path and
// publishes them in batches.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// Publisher sends a batch of events. *kafka.Producer and
// *analytics.Aggregator both satisfy it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Options sizes the collector.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxBuffered   int
	// Dropped counts events discarded because the buffer was full. Optional.
	Dropped prometheus.Counter
}

// BatchCollector accumulates events and flushes them when BatchSize is
// reached or FlushInterval elapses. Track never blocks: once MaxBuffered
// events are waiting, new ones are dropped.
type BatchCollector struct {
	pub    Publisher
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	buffer []kafka.Event

	kick chan struct{}
	done chan struct{}
}

func NewBatchCollector(pub Publisher, opts Options) *BatchCollector {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.MaxBuffered < opts.BatchSize {
		opts.MaxBuffered = opts.BatchSize * 10
	}
	return &BatchCollector{
		pub:    pub,
		opts:   opts,
		logger: logger.WithComponent("batch-collector"),
		buffer: make([]kafka.Event, 0, opts.BatchSize),
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Run flushes until ctx is cancelled, then makes a final flush bounded by
// five seconds.
func (bc *BatchCollector) Run(ctx context.Context) {
	defer close(bc.done)
	ticker := time.NewTicker(bc.opts.FlushInterval)
	defer ticker.Stop()
	bc.logger.Info("batch collector started",
		"batch_size", bc.opts.BatchSize,
		"flush_interval", bc.opts.FlushInterval,
	)
	for {
		select {
		case <-ticker.C:
			bc.flush(ctx)
		case <-bc.kick:
			bc.flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			bc.flush(flushCtx)
			cancel()
			return
		}
	}
}

// Wait blocks until Run has returned.
func (bc *BatchCollector) Wait() {
	<-bc.done
}

// Track queues ev for publishing.
func (bc *BatchCollector) Track(ev analytics.LookupEvent) {
	bc.mu.Lock()
	if len(bc.buffer) >= bc.opts.MaxBuffered {
		bc.mu.Unlock()
		if bc.opts.Dropped != nil {
			bc.opts.Dropped.Inc()
		}
		return
	}
	bc.buffer = append(bc.buffer, kafka.Event{Key: string(ev.Operation), Value: ev})
	full := len(bc.buffer) >= bc.opts.BatchSize
	bc.mu.Unlock()

	if full {
		select {
		case bc.kick <- struct{}{}:
		default:
		}
	}
}

// Buffered returns the number of events waiting to be published.
func (bc *BatchCollector) Buffered() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

func (bc *BatchCollector) flush(ctx context.Context) {
	bc.mu.Lock()
	if len(bc.buffer) == 0 {
		bc.mu.Unlock()
		return
	}
	batch := bc.buffer
	bc.buffer = make([]kafka.Event, 0, bc.opts.BatchSize)
	bc.mu.Unlock()

	if err := bc.pub.PublishBatch(ctx, batch); err != nil {
		bc.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		bc.requeue(batch)
		return
	}
	bc.logger.Debug("batch flushed", "events", len(batch))
}

// requeue puts a failed batch back in front, keeping at most MaxBuffered
// events and dropping the newest beyond that.
func (bc *BatchCollector) requeue(batch []kafka.Event) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	merged := append(batch, bc.buffer...)
	if over := len(merged) - bc.opts.MaxBuffered; over > 0 {
		merged = merged[:bc.opts.MaxBuffered]
		if bc.opts.Dropped != nil {
			bc.opts.Dropped.Add(float64(over))
		}
		bc.logger.Warn("buffer overflow, events dropped", "dropped", over)
	}
	bc.buffer = merged
}
