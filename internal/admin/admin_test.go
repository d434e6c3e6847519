package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avalonproxy/avalon/internal"
	"github.com/avalonproxy/avalon/internal/acme"
	"github.com/avalonproxy/avalon/internal/breaker"
	"github.com/avalonproxy/avalon/internal/cache"
	"github.com/avalonproxy/avalon/internal/matcher"
	"github.com/avalonproxy/avalon/internal/plugins/adminplugin"
	"github.com/avalonproxy/avalon/internal/router"
	"github.com/avalonproxy/avalon/internal/upstream"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newTestDeps() Dependencies {
	table := router.NewTable([]*router.Route{
		{Name: "api", Matcher: matcher.Compile(matcher.Config{PathPrefixes: []string{"/api"}}), Kind: router.HandlerReverseProxy, UpstreamPoolName: "backend"},
	})
	server := upstream.NewServer("127.0.0.1:9000", "backend-1", false, "", nil)
	pool := upstream.NewPool([]*upstream.Server{server}, "round_robin")
	challenges := acme.NewChallengeStore()

	return Dependencies{
		Table:      table,
		Pools:      map[string]*upstream.Pool{"backend": pool},
		Breakers:   map[string]*breaker.Breaker{"backend-1": breaker.New("backend-1", breaker.DefaultConfig())},
		Challenges: challenges,
		Ready:      func() bool { return true },
	}
}

func TestHealthEndpoint(t *testing.T) {
	r := NewRouter(newTestDeps())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyEndpointReflectsReadyFunc(t *testing.T) {
	deps := newTestDeps()
	deps.Ready = func() bool { return false }
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAcmeChallengeResponds(t *testing.T) {
	deps := newTestDeps()
	deps.Challenges.Put("tok123", "key-auth-value")
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, acme.ChallengeBasePath+"tok123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "key-auth-value", rec.Body.String())
}

func TestAcmeChallengeMissingTokenIs404(t *testing.T) {
	r := NewRouter(newTestDeps())
	req := httptest.NewRequest(http.MethodGet, acme.ChallengeBasePath+"missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRoutes(t *testing.T) {
	r := NewRouter(newTestDeps())
	req := httptest.NewRequest(http.MethodGet, "/admin/routes", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"api"`)
}

func TestListUpstreams(t *testing.T) {
	r := NewRouter(newTestDeps())
	req := httptest.NewRequest(http.MethodGet, "/admin/upstreams", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "backend-1")
}

func TestStatusEndpointReflectsStats(t *testing.T) {
	deps := newTestDeps()
	deps.Stats = adminplugin.NewStats()
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total_requests":0`)
}

func TestCacheEndpointReportsHumanReadableSize(t *testing.T) {
	deps := newTestDeps()
	deps.Cache = cache.New(cache.DefaultConfig())
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/admin/cache", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"entries":0`)
}

func TestLogsEndpointReturnsBufferedEntries(t *testing.T) {
	deps := newTestDeps()
	buffer := internal.NewLogBufferCore(zapcore.InfoLevel, 10)
	buffer.Write(zapcore.Entry{Level: zapcore.InfoLevel, Message: "hello"}, nil)
	deps.LogBuffer = buffer
	r := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/admin/logs", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hello")
}
