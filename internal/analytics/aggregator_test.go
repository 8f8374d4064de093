package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(op Operation, q string, results int, latencyUs int64, hit bool) LookupEvent {
	return LookupEvent{Operation: op, Query: q, Results: results, LatencyUs: latencyUs, CacheHit: hit, Timestamp: time.Now()}
}

func TestAggregator_Stats(t *testing.T) {
	a := NewAggregator()
	start := a.startTime
	a.now = func() time.Time { return start.Add(2 * time.Minute) }

	a.Record(event(OpCondition, "Cholera", 2, 100, false))
	a.Record(event(OpCondition, "  cholera ", 2, 300, true))
	a.Record(event(OpProcedure, "xyzzy", 0, 200, false))
	a.Record(event(OpReport, "ZZZ.99", 0, 50, false))

	s := a.Stats()
	assert.EqualValues(t, 4, s.TotalLookups)
	assert.EqualValues(t, 2, s.ByOperation[OpCondition])
	assert.EqualValues(t, 1, s.CacheHits)
	assert.EqualValues(t, 3, s.CacheMisses)
	assert.EqualValues(t, 2, s.ZeroResultCount)
	assert.InDelta(t, 162.5, s.AvgLatencyUs, 0.001)
	assert.EqualValues(t, 200, s.P50LatencyUs)
	assert.EqualValues(t, 300, s.P99LatencyUs)
	assert.InDelta(t, 2.0, s.LookupsPerMinute, 0.001)

	require.NotEmpty(t, s.TopQueries)
	assert.Equal(t, QueryCount{Operation: OpCondition, Query: "cholera", Count: 2}, s.TopQueries[0])
	assert.Equal(t, []QueryCount{
		{Operation: OpProcedure, Query: "xyzzy", Count: 1},
		{Operation: OpReport, Query: "ZZZ.99", Count: 1},
	}, s.ZeroResultQueries)
}

func TestAggregator_LatencyWindowIsBounded(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < latencyWindow+10; i++ {
		a.Record(event(OpCondition, "q", 1, int64(i), false))
	}
	assert.Len(t, a.latencies, latencyWindow)
	assert.EqualValues(t, latencyWindow+10, a.Stats().TotalLookups)
}

func TestAggregator_TopQueriesCapped(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < 25; i++ {
		a.Record(event(OpProcedure, string(rune('a'+i)), 1, 1, false))
	}
	assert.Len(t, a.Stats().TopQueries, topQueries)
}

func TestAggregator_HandleMessage(t *testing.T) {
	a := NewAggregator()
	value, err := json.Marshal(event(OpReport, "A00", 1, 5, true))
	require.NoError(t, err)

	require.NoError(t, a.HandleMessage(context.Background(), nil, value))
	require.NoError(t, a.HandleMessage(context.Background(), nil, []byte("not json")))
	assert.EqualValues(t, 1, a.Stats().TotalLookups)
}

func TestAggregator_PublishBatch(t *testing.T) {
	a := NewAggregator()
	err := a.PublishBatch(context.Background(), []kafka.Event{
		{Key: "condition", Value: event(OpCondition, "cholera", 1, 1, false)},
		{Key: "report", Value: event(OpReport, "A00", 1, 1, false)},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, a.Stats().TotalLookups)

	err = a.PublishBatch(context.Background(), []kafka.Event{{Key: "x", Value: 42}})
	assert.ErrorContains(t, err, "unexpected event payload int")
}

func TestAggregator_Restore(t *testing.T) {
	a := NewAggregator()
	a.Restore(AggregatedStats{
		TotalLookups: 10,
		ByOperation:  map[Operation]int64{OpCondition: 10},
		CacheHits:    4,
		TopQueries:   []QueryCount{{Operation: OpCondition, Query: "cholera", Count: 10}},
	})
	a.Record(event(OpCondition, "cholera", 1, 1, true))

	s := a.Stats()
	assert.EqualValues(t, 11, s.TotalLookups)
	assert.EqualValues(t, 5, s.CacheHits)
	assert.EqualValues(t, 11, s.TopQueries[0].Count)
}

func TestAggregator_RestoreDoesNotInflateRate(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := start
	a := NewAggregator()
	a.startTime = start
	a.now = func() time.Time { return now }

	a.Restore(AggregatedStats{TotalLookups: 100000, ByOperation: map[Operation]int64{OpCondition: 100000}})
	for i := 0; i < 6; i++ {
		a.Record(event(OpProcedure, "appendix", 2, 10, false))
	}
	now = start.Add(2 * time.Minute)

	s := a.Stats()
	assert.EqualValues(t, 100006, s.TotalLookups)
	assert.InDelta(t, 3.0, s.LookupsPerMinute, 1e-9)
}
