package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObserveRequestExposesMetric(t *testing.T) {
	reg := NewRegistry()
	reg.ObserveRequest("api", "get", 200, 0.05)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "avalon_requests_total")
}

func TestSetCircuitStateExposesGauge(t *testing.T) {
	reg := NewRegistry()
	reg.SetCircuitState("backend-1", 1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	require.Contains(t, rec.Body.String(), "avalon_circuit_breaker_state")
}
