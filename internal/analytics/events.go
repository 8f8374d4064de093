// Package analytics aggregates lookup traffic: which queries are asked, how
// often they find nothing, how often the cache answers, and how long they
// take. Events travel collector -> Kafka -> aggregator; without Kafka the
// collector publishes straight into a local aggregator.
package analytics

import "time"

// Operation names the lookup that produced an event.
type Operation string

const (
	OpCondition Operation = "condition"
	OpProcedure Operation = "procedure"
	OpReport    Operation = "report"
)

// LookupEvent describes one served lookup. For reports Results is 1 when the
// code mapped and 0 otherwise.
type LookupEvent struct {
	Operation Operation `json:"operation"`
	Query     string    `json:"query"`
	Results   int       `json:"results"`
	LatencyUs int64     `json:"latency_us"`
	CacheHit  bool      `json:"cache_hit"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
