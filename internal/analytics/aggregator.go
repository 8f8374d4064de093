package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/logger"
)

const (
	latencyWindow = 10000
	topQueries    = 10
)

// AggregatedStats is the analytics view served over HTTP and snapshotted to
// Postgres.
type AggregatedStats struct {
	TotalLookups      int64               `json:"total_lookups"`
	ByOperation       map[Operation]int64 `json:"by_operation"`
	CacheHits         int64               `json:"cache_hits"`
	CacheMisses       int64               `json:"cache_misses"`
	ZeroResultCount   int64               `json:"zero_result_count"`
	AvgLatencyUs      float64             `json:"avg_latency_us"`
	P50LatencyUs      int64               `json:"p50_latency_us"`
	P95LatencyUs      int64               `json:"p95_latency_us"`
	P99LatencyUs      int64               `json:"p99_latency_us"`
	TopQueries        []QueryCount        `json:"top_queries"`
	ZeroResultQueries []QueryCount        `json:"zero_result_queries"`
	LookupsPerMinute  float64             `json:"lookups_per_minute"`
	CapturedAt        time.Time           `json:"captured_at"`
}

// QueryCount is a query and how often it was asked. Queries are keyed by
// operation so "A00" as a report and "a00" as a search stay apart.
type QueryCount struct {
	Operation Operation `json:"operation"`
	Query     string    `json:"query"`
	Count     int64     `json:"count"`
}

type queryKey struct {
	op    Operation
	query string
}

// Aggregator folds LookupEvents into running totals. Latency percentiles
// cover the most recent latencyWindow events.
type Aggregator struct {
	mu          sync.Mutex
	total       int64
	byOperation map[Operation]int64
	cacheHits   int64
	cacheMisses int64
	zeroResults int64
	latencies   []int64
	next        int
	queries     map[queryKey]int64
	zeroQueries map[queryKey]int64
	recorded    int64
	startTime   time.Time
	now         func() time.Time
	logger      *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byOperation: make(map[Operation]int64),
		latencies:   make([]int64, 0, latencyWindow),
		queries:     make(map[queryKey]int64),
		zeroQueries: make(map[queryKey]int64),
		startTime:   time.Now(),
		now:         time.Now,
		logger:      logger.WithComponent("analytics-aggregator"),
	}
}

// Record adds one event.
func (a *Aggregator) Record(ev LookupEvent) {
	k := queryKey{op: ev.Operation, query: normalizeQuery(ev.Operation, ev.Query)}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.total++
	a.recorded++
	a.byOperation[ev.Operation]++
	if ev.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, ev.LatencyUs)
	} else {
		a.latencies[a.next] = ev.LatencyUs
		a.next = (a.next + 1) % latencyWindow
	}
	a.queries[k]++
	if ev.Results == 0 {
		a.zeroResults++
		a.zeroQueries[k]++
	}
}

// HandleMessage is the Kafka consumer callback. Undecodable messages are
// logged and acknowledged so a poison message cannot stall the partition.
func (a *Aggregator) HandleMessage(_ context.Context, _, value []byte) error {
	ev, err := kafka.DecodeJSON[LookupEvent](value)
	if err != nil {
		a.logger.Warn("skipping undecodable lookup event", "error", err)
		return nil
	}
	a.Record(ev)
	return nil
}

// PublishBatch lets a collector publish straight into the aggregator when
// no broker is configured.
func (a *Aggregator) PublishBatch(_ context.Context, events []kafka.Event) error {
	for _, e := range events {
		ev, ok := e.Value.(LookupEvent)
		if !ok {
			return fmt.Errorf("unexpected event payload %T", e.Value)
		}
		a.Record(ev)
	}
	return nil
}

// Restore seeds the counters from a persisted snapshot so totals survive a
// restart. Latencies are not restored, and the lookup rate only counts
// events recorded by this process.
func (a *Aggregator) Restore(s AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total += s.TotalLookups
	for op, n := range s.ByOperation {
		a.byOperation[op] += n
	}
	a.cacheHits += s.CacheHits
	a.cacheMisses += s.CacheMisses
	a.zeroResults += s.ZeroResultCount
	for _, q := range s.TopQueries {
		a.queries[queryKey{op: q.Operation, query: q.Query}] += q.Count
	}
	for _, q := range s.ZeroResultQueries {
		a.zeroQueries[queryKey{op: q.Operation, query: q.Query}] += q.Count
	}
}

// Stats returns a consistent snapshot of the aggregates.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	stats := AggregatedStats{
		TotalLookups:    a.total,
		ByOperation:     make(map[Operation]int64, len(a.byOperation)),
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ZeroResultCount: a.zeroResults,
		CapturedAt:      now.UTC(),
	}
	for op, n := range a.byOperation {
		stats.ByOperation[op] = n
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyUs = float64(sum) / float64(len(sorted))
		stats.P50LatencyUs = percentile(sorted, 50)
		stats.P95LatencyUs = percentile(sorted, 95)
		stats.P99LatencyUs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queries, topQueries)
	stats.ZeroResultQueries = topN(a.zeroQueries, topQueries)
	if elapsed := now.Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.LookupsPerMinute = float64(a.recorded) / elapsed
	}
	return stats
}

// normalizeQuery folds case and spacing for searches; report codes are kept
// verbatim because code matching is exact.
func normalizeQuery(op Operation, q string) string {
	if op == OpReport {
		return strings.TrimSpace(q)
	}
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count, then operation and query so ties are stable.
func topN(counts map[queryKey]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for k, c := range counts {
		result = append(result, QueryCount{Operation: k.op, Query: k.query, Count: c})
	}
	slices.SortFunc(result, func(x, y QueryCount) int {
		if x.Count != y.Count {
			if x.Count > y.Count {
				return -1
			}
			return 1
		}
		if c := strings.Compare(string(x.Operation), string(y.Operation)); c != 0 {
			return c
		}
		return strings.Compare(x.Query, y.Query)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
