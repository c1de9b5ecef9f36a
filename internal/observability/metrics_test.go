package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.BidsPlaced.WithLabelValues("accepted").Inc()
	m.ActiveRooms.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[f.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, float64(1), values["test_bids_placed_total"])
	assert.Equal(t, float64(3), values["test_active_bid_rooms"])
}

func TestNewMetricsPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics("dup", reg)
	assert.Panics(t, func() { NewMetrics("dup", reg) })
}

func TestMetricsHandlerServes(t *testing.T) {
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
