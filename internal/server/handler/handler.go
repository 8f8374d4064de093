// Package handler exposes the lookup engine over HTTP as JSON.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/lookup"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/server/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/middleware"
)

// Engine is the lookup surface the handlers serve; *lookup.Engine
// satisfies it.
type Engine interface {
	Ready() bool
	SearchCondition(query string) []lookup.ConditionResult
	SearchProcedure(query string) []lookup.ProcedureResult
	ConvertBillToReport(usCode string) lookup.ReportResult
	Stats() lookup.Stats
}

// Tracker receives one event per served lookup.
type Tracker interface {
	Track(ev analytics.LookupEvent)
}

type Handler struct {
	engine  Engine
	cache   *cache.QueryCache
	tracker Tracker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds the handlers. The cache, tracker and metrics are optional.
func New(engine Engine, queryCache *cache.QueryCache, tracker Tracker, m *metrics.Metrics) *Handler {
	return &Handler{
		engine:  engine,
		cache:   queryCache,
		tracker: tracker,
		metrics: m,
		logger:  logger.WithComponent("lookup-handler"),
	}
}

// Register mounts the lookup routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/conditions", h.Conditions)
	mux.HandleFunc("GET /api/v1/procedures", h.Procedures)
	mux.HandleFunc("GET /api/v1/reports/{code}", h.Report)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
}

// Conditions serves GET /api/v1/conditions?q=.
func (h *Handler) Conditions(w http.ResponseWriter, r *http.Request) {
	query, ok := h.searchQuery(w, r)
	if !ok {
		return
	}
	start := time.Now()
	results, hit := cache.Fetch(r.Context(), h.cache, string(analytics.OpCondition), cacheKey(query),
		func() []lookup.ConditionResult { return h.engine.SearchCondition(query) })
	h.observe(r, analytics.OpCondition, query, len(results), hit, start)
	h.writeJSON(w, http.StatusOK, results)
}

// Procedures serves GET /api/v1/procedures?q=.
func (h *Handler) Procedures(w http.ResponseWriter, r *http.Request) {
	query, ok := h.searchQuery(w, r)
	if !ok {
		return
	}
	start := time.Now()
	results, hit := cache.Fetch(r.Context(), h.cache, string(analytics.OpProcedure), cacheKey(query),
		func() []lookup.ProcedureResult { return h.engine.SearchProcedure(query) })
	h.observe(r, analytics.OpProcedure, query, len(results), hit, start)
	h.writeJSON(w, http.StatusOK, results)
}

// Report serves GET /api/v1/reports/{code}. An unmapped code is a normal
// 200 response with mapped=false.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Ready() {
		h.writeError(w, r, apperrors.ErrNotReady)
		return
	}
	code := strings.TrimSpace(r.PathValue("code"))
	if code == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "code is required"))
		return
	}
	start := time.Now()
	result, hit := cache.Fetch(r.Context(), h.cache, string(analytics.OpReport), code,
		func() lookup.ReportResult { return h.engine.ConvertBillToReport(code) })
	n := 0
	if result.Mapped {
		n = 1
	}
	h.observe(r, analytics.OpReport, code, n, hit, start)
	h.writeJSON(w, http.StatusOK, result)
}

// Stats serves GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *Handler) searchQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !h.engine.Ready() {
		h.writeError(w, r, apperrors.ErrNotReady)
		return "", false
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'q' is required"))
		return "", false
	}
	return query, true
}

// cacheKey reduces a query to the token sequence the engine acts on, so
// "Cholera!" and "cholera" share an entry while word order stays
// significant.
func cacheKey(query string) string {
	return strings.Join(tokenizer.Tokenize(query), " ")
}

func (h *Handler) observe(r *http.Request, op analytics.Operation, query string, results int, hit bool, start time.Time) {
	elapsed := time.Since(start)
	if h.metrics != nil {
		h.metrics.LookupsTotal.WithLabelValues(string(op), outcome(op, results)).Inc()
		h.metrics.LookupLatency.WithLabelValues(string(op)).Observe(elapsed.Seconds())
		if op != analytics.OpReport {
			h.metrics.LookupResults.WithLabelValues(string(op)).Observe(float64(results))
		}
	}
	logger.FromContext(r.Context()).Debug("lookup served",
		"operation", op,
		"query", query,
		"results", results,
		"cache_hit", hit,
		"latency_us", elapsed.Microseconds(),
	)
	if h.tracker != nil {
		h.tracker.Track(analytics.LookupEvent{
			Operation: op,
			Query:     query,
			Results:   results,
			LatencyUs: elapsed.Microseconds(),
			CacheHit:  hit,
			RequestID: middleware.GetRequestID(r.Context()),
			Timestamp: time.Now().UTC(),
		})
	}
}

func outcome(op analytics.Operation, results int) string {
	switch {
	case op == analytics.OpReport && results > 0:
		return "mapped"
	case op == analytics.OpReport:
		return "unmapped"
	case results > 0:
		return "hit"
	default:
		return "empty"
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(h.logger, w, status, data)
}

func writeJSON(l *slog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		l.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Warn("lookup request failed", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
