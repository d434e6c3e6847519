package requestid

import (
	"net/http/httptest"
	"testing"

	"github.com/avalonproxy/avalon/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func TestGeneratesIDWhenAbsent(t *testing.T) {
	cfg := DefaultConfig()
	ctx := pipeline.New(httptest.NewRequest("GET", "/", nil))
	_, err := cfg.earlyHook(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, ctx.RequestID)
}

func TestTrustsIncomingHeader(t *testing.T) {
	cfg := DefaultConfig()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "incoming-123")
	ctx := pipeline.New(req)
	_, err := cfg.earlyHook(ctx)
	require.NoError(t, err)
	require.Equal(t, "incoming-123", ctx.RequestID)
}

func TestResponseHookEchoesID(t *testing.T) {
	cfg := DefaultConfig()
	ctx := pipeline.New(httptest.NewRequest("GET", "/", nil))
	ctx.RequestID = "abc"
	_, err := cfg.responseHook(ctx)
	require.NoError(t, err)
	require.Equal(t, "abc", ctx.ResponseHeader.Get("X-Request-ID"))
}
