package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (p *recordingPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, events)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func lookupEvent(q string) analytics.LookupEvent {
	return analytics.LookupEvent{Operation: analytics.OpCondition, Query: q}
}

func TestBatchCollector_FlushesOnBatchSize(t *testing.T) {
	pub := &recordingPublisher{}
	bc := NewBatchCollector(pub, Options{BatchSize: 2, FlushInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go bc.Run(ctx)

	bc.Track(lookupEvent("a"))
	bc.Track(lookupEvent("b"))

	assert.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	bc.Wait()

	require.Len(t, pub.batches, 1)
	assert.Equal(t, "condition", pub.batches[0][0].Key)
}

func TestBatchCollector_FinalFlushOnShutdown(t *testing.T) {
	pub := &recordingPublisher{}
	bc := NewBatchCollector(pub, Options{BatchSize: 100, FlushInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go bc.Run(ctx)

	bc.Track(lookupEvent("a"))
	cancel()
	bc.Wait()
	assert.Equal(t, 1, pub.count())
	assert.Zero(t, bc.Buffered())
}

func TestBatchCollector_DropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{}
	bc := NewBatchCollector(pub, Options{BatchSize: 2, MaxBuffered: 3})
	for i := 0; i < 5; i++ {
		bc.Track(lookupEvent("x"))
	}
	assert.Equal(t, 3, bc.Buffered())
}

func TestBatchCollector_RequeuesOnFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	bc := NewBatchCollector(pub, Options{BatchSize: 2, MaxBuffered: 3})
	bc.Track(lookupEvent("a"))
	bc.Track(lookupEvent("b"))

	bc.flush(context.Background())
	assert.Equal(t, 2, bc.Buffered())

	bc.Track(lookupEvent("c"))
	bc.Track(lookupEvent("d"))
	assert.Equal(t, 3, bc.Buffered())

	pub.err = nil
	bc.flush(context.Background())
	assert.Equal(t, 3, pub.count())
	assert.Equal(t, "a", pub.batches[0][0].Value.(analytics.LookupEvent).Query)
}

func TestBatchCollector_FeedsAggregator(t *testing.T) {
	agg := analytics.NewAggregator()
	bc := NewBatchCollector(agg, Options{BatchSize: 10})
	bc.Track(lookupEvent("cholera"))
	bc.flush(context.Background())
	assert.EqualValues(t, 1, agg.Stats().TotalLookups)
}
