package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avalonproxy/avalon/internal/breaker"
	"github.com/avalonproxy/avalon/internal/cache"
	"github.com/avalonproxy/avalon/internal/matcher"
	"github.com/avalonproxy/avalon/internal/router"
	"github.com/avalonproxy/avalon/internal/upstream"
	"github.com/stretchr/testify/require"
)

func newUpstreamServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func addrOf(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return srv.Listener.Addr().String()
}

func newHandlerWithRoute(t *testing.T, route *router.Route, pool *upstream.Pool) *Handler {
	t.Helper()
	table := router.NewTable([]*router.Route{route})
	pools := map[string]*upstream.Pool{route.UpstreamPoolName: pool}
	breakers := map[string]*breaker.Breaker{}
	for _, s := range pool.Servers() {
		breakers[s.Display] = breaker.New(s.Display, breaker.DefaultConfig())
	}
	return New(DefaultConfig(), table, pools, breakers, cache.New(cache.DefaultConfig()), nil)
}

func TestStaticResponseRoute(t *testing.T) {
	route := &router.Route{
		Name:         "static",
		Matcher:      matcher.Compile(matcher.Config{PathPrefixes: []string{"/"}}),
		Kind:         router.HandlerStaticResponse,
		StaticStatus: http.StatusOK,
		StaticBody:   "hello",
	}
	h := newHandlerWithRoute(t, route, upstream.NewPool(nil, "round_robin"))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
}

func TestRedirectRoute(t *testing.T) {
	route := &router.Route{
		Name:             "redirect",
		Matcher:          matcher.Compile(matcher.Config{PathPrefixes: []string{"/old"}}),
		Kind:             router.HandlerRedirect,
		RedirectLocation: "/new",
		RedirectStatus:   http.StatusMovedPermanently,
	}
	h := newHandlerWithRoute(t, route, upstream.NewPool(nil, "round_robin"))

	req := httptest.NewRequest(http.MethodGet, "/old/page", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMovedPermanently, rec.Code)
	require.Equal(t, "/new", rec.Header().Get("Location"))
}

func TestNoMatchingRouteIs404(t *testing.T) {
	table := router.NewTable(nil)
	h := New(DefaultConfig(), table, map[string]*upstream.Pool{}, map[string]*breaker.Breaker{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReverseProxyRoundTrip(t *testing.T) {
	backend := newUpstreamServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-From", "backend")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("backend response"))
	})

	server := upstream.NewServer(addrOf(t, backend), "backend", false, "", nil)
	pool := upstream.NewPool([]*upstream.Server{server}, "round_robin")

	route := &router.Route{
		Name:             "proxy",
		Matcher:          matcher.Compile(matcher.Config{PathPrefixes: []string{"/"}}),
		Kind:             router.HandlerReverseProxy,
		UpstreamPoolName: "backend-pool",
	}
	h := newHandlerWithRoute(t, route, pool)
	h.Pools["backend-pool"] = pool

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "backend response", rec.Body.String())
	require.Equal(t, "backend", rec.Header().Get("X-From"))
}

func TestReverseProxyNoHealthyUpstreamIsBadGateway(t *testing.T) {
	server := upstream.NewServer("127.0.0.1:1", "down", false, "", nil)
	server.SetHealthy(false)
	pool := upstream.NewPool([]*upstream.Server{server}, "round_robin")

	route := &router.Route{
		Name:             "proxy",
		Matcher:          matcher.Compile(matcher.Config{PathPrefixes: []string{"/"}}),
		Kind:             router.HandlerReverseProxy,
		UpstreamPoolName: "pool",
	}
	h := newHandlerWithRoute(t, route, pool)
	h.Pools["pool"] = pool

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStripHopByHopHeaders(t *testing.T) {
	header := http.Header{
		"Connection":       []string{"X-Custom"},
		"X-Custom":         []string{"drop-me"},
		"Transfer-Encoding": []string{"chunked"},
		"Content-Type":     []string{"text/plain"},
	}
	StripHopByHop(header)

	require.Empty(t, header.Get("Connection"))
	require.Empty(t, header.Get("X-Custom"))
	require.Empty(t, header.Get("Transfer-Encoding"))
	require.Equal(t, "text/plain", header.Get("Content-Type"))
}

func TestAppendForwardedForChain(t *testing.T) {
	h := http.Header{"X-Forwarded-For": []string{"10.0.0.1"}}
	AppendForwardedFor(h, "203.0.113.5")
	require.Equal(t, "10.0.0.1, 203.0.113.5", h.Get("X-Forwarded-For"))
}

func TestIsWebSocketUpgrade(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	require.True(t, IsWebSocketUpgrade(req))

	plain := httptest.NewRequest(http.MethodGet, "/x", nil)
	require.False(t, IsWebSocketUpgrade(plain))
}

func TestCircuitBreakerSkipsOpenServer(t *testing.T) {
	backendUp := newUpstreamServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("up"))
	})

	serverDown := upstream.NewServer("127.0.0.1:1", "down", false, "", nil)
	serverUp := upstream.NewServer(addrOf(t, backendUp), "up", false, "", nil)
	pool := upstream.NewPool([]*upstream.Server{serverDown, serverUp}, "first")

	route := &router.Route{
		Name:             "proxy",
		Matcher:          matcher.Compile(matcher.Config{PathPrefixes: []string{"/"}}),
		Kind:             router.HandlerReverseProxy,
		UpstreamPoolName: "pool",
	}
	h := newHandlerWithRoute(t, route, pool)
	h.Pools["pool"] = pool
	h.Breakers["down"].RecordFailure()
	for i := 0; i < int(breaker.DefaultConfig().FailureThreshold)-1; i++ {
		h.Breakers["down"].RecordFailure()
	}
	require.Equal(t, breaker.Open, h.Breakers["down"].State())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	h.cfg.TryDuration = 2 * time.Second
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "up", rec.Body.String())
}
