package adminplugin

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avalonproxy/avalon/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func TestRecordRequestAccumulatesTotals(t *testing.T) {
	s := NewStats()
	s.recordRequest(10 * time.Millisecond)
	s.recordRequest(30 * time.Millisecond)

	snap := s.Get()
	require.Equal(t, int64(2), snap.TotalRequests)
	require.InDelta(t, 20.0, snap.AvgResponseTimeMs, 0.001)
}

func TestConnectionCounterTracksOpenAndClose(t *testing.T) {
	s := NewStats()
	s.IncrementConnections()
	s.IncrementConnections()
	s.DecrementConnections()

	require.Equal(t, int64(1), s.Get().ActiveConnections)
}

func TestRegisterWiresConnectAndCompleteHooks(t *testing.T) {
	registry := pipeline.NewRegistry()
	s := NewStats()
	Register(registry, s)

	ctx := pipeline.New(httptest.NewRequest("GET", "/", nil))
	for _, hook := range registry.Hooks(pipeline.EarlyRequest) {
		_, err := hook.Run(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), s.Get().ActiveConnections)

	for _, hook := range registry.Hooks(pipeline.Logging) {
		_, err := hook.Run(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, int64(0), s.Get().ActiveConnections)
	require.Equal(t, int64(1), s.Get().TotalRequests)
}
