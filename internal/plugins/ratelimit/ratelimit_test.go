package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avalonproxy/avalon/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func TestAllowsUpToBurstThenLimits(t *testing.T) {
	l := New(Config{MaxRequests: 1, WindowSecs: 60, Burst: 0, StatusCode: http.StatusTooManyRequests})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	ctx := pipeline.New(req)
	sig, err := l.hook(ctx)
	require.NoError(t, err)
	require.Equal(t, pipeline.Continue, sig)

	ctx2 := pipeline.New(req)
	sig2, err := l.hook(ctx2)
	require.NoError(t, err)
	require.Equal(t, pipeline.ShortCircuit, sig2)
	require.Equal(t, http.StatusTooManyRequests, ctx2.ResponseStatus)
}

func TestExemptPrivateRangeSkipsLimiting(t *testing.T) {
	l := New(Config{MaxRequests: 1, WindowSecs: 60, Burst: 0, ExemptPrivateRanges: true})

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	for i := 0; i < 5; i++ {
		sig, err := l.hook(pipeline.New(req))
		require.NoError(t, err)
		require.Equal(t, pipeline.Continue, sig)
	}
}

func TestDifferentIPsHaveIndependentBuckets(t *testing.T) {
	l := New(Config{MaxRequests: 1, WindowSecs: 60, Burst: 0})

	req1 := httptest.NewRequest("GET", "/", nil)
	req1.RemoteAddr = "10.0.0.1:1234"
	req2 := httptest.NewRequest("GET", "/", nil)
	req2.RemoteAddr = "10.0.0.2:1234"

	sig1, _ := l.hook(pipeline.New(req1))
	sig2, _ := l.hook(pipeline.New(req2))
	require.Equal(t, pipeline.Continue, sig1)
	require.Equal(t, pipeline.Continue, sig2)
}
