package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveScrape("mouser", true, time.Second)
		m.JobProcessed("scraping", "daily-scrape", false)
		m.JobEnqueued("scraping", "daily-scrape")
		m.AlertRaised("stock-alert")
	})
	assert.Nil(t, m.Registry())
}

func TestObserveScrape(t *testing.T) {
	m := New()
	m.ObserveScrape("mouser", true, 1500*time.Millisecond)
	m.ObserveScrape("mouser", false, time.Second)
	m.ObserveScrape("mouser", false, time.Second)

	body := scrapeBody(t, m)
	assert.Contains(t, body, `pricewatch_scrape_attempts_total{result="success",vendor="mouser"} 1`)
	assert.Contains(t, body, `pricewatch_scrape_attempts_total{result="failure",vendor="mouser"} 2`)
	assert.Contains(t, body, `pricewatch_scrape_duration_seconds_count{vendor="mouser"} 3`)
}

func scrapeBody(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.AlertRaised("price-increase")

	assert.Contains(t, scrapeBody(t, m), `pricewatch_alerts_raised_total{kind="price-increase"} 1`)
}
