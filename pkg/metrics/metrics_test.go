package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	srv := httptest.NewServer(metrics.Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNew_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.LookupsTotal.WithLabelValues("condition", "hit").Inc()
	m.IndexRecords.WithLabelValues("global").Set(3)
	m.IndexPostings.WithLabelValues("procedures").Set(12)
	m.Ready.Set(1)

	out := scrape(t, reg)
	assert.Contains(t, out, `lookup_queries_total{kind="condition",outcome="hit"} 1`)
	assert.Contains(t, out, `index_records{dataset="global"} 3`)
	assert.Contains(t, out, `index_postings{index="procedures"} 12`)
	assert.Contains(t, out, "lookup_ready 1")

	assert.Panics(t, func() { metrics.New(reg) }, "double registration must fail loudly")
}

func TestNew_SeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.New(prometheus.NewRegistry())
		metrics.New(prometheus.NewRegistry())
	})
}
