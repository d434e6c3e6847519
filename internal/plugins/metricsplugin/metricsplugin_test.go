package metricsplugin

import (
	"net/http/httptest"
	"testing"

	"github.com/avalonproxy/avalon/internal/metrics"
	"github.com/avalonproxy/avalon/internal/pipeline"
	"github.com/avalonproxy/avalon/internal/router"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObservesRequestWithRouteName(t *testing.T) {
	reg := metrics.NewRegistry()
	h := &hook{cfg: DefaultConfig(), metrics: reg}

	ctx := pipeline.New(httptest.NewRequest("GET", "/x", nil))
	ctx.Route = &router.Route{Name: "api"}
	ctx.ResponseStatus = 200

	_, err := h.run(ctx)
	require.NoError(t, err)

	counter, err := reg.RequestsTotal.GetMetricWithLabelValues("api", "GET", "200")
	require.NoError(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(counter))
}

func TestObservesRequestWithUnroutedLabel(t *testing.T) {
	reg := metrics.NewRegistry()
	h := &hook{cfg: DefaultConfig(), metrics: reg}

	ctx := pipeline.New(httptest.NewRequest("GET", "/missing", nil))
	ctx.ResponseStatus = 404

	_, err := h.run(ctx)
	require.NoError(t, err)

	counter, err := reg.RequestsTotal.GetMetricWithLabelValues("unmatched", "GET", "404")
	require.NoError(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(counter))
}
