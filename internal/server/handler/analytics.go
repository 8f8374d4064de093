package handler

import (
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/logger"
)

// AnalyticsSource is satisfied by *analytics.Aggregator.
type AnalyticsSource interface {
	Stats() analytics.AggregatedStats
}

// Analytics serves aggregated lookup analytics.
type Analytics struct {
	source AnalyticsSource
	logger *slog.Logger
}

func NewAnalytics(source AnalyticsSource) *Analytics {
	return &Analytics{
		source: source,
		logger: logger.WithComponent("analytics-handler"),
	}
}

// Register mounts GET /api/v1/analytics on mux.
func (a *Analytics) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/analytics", a.Stats)
}

func (a *Analytics) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(a.logger, w, http.StatusOK, a.source.Stats())
}
