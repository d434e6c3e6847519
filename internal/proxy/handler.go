// Package proxy wires the matcher, router, rewrite, pipeline, upstream
// pool, circuit breaker, cache, and compression packages into a single
// per-request flow: accept, run the early and request-filter hook
// phases, match a route, dispatch the handler, run the response-filter
// and response-body phases, then log.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avalonproxy/avalon/internal/breaker"
	"github.com/avalonproxy/avalon/internal/cache"
	"github.com/avalonproxy/avalon/internal/compress"
	"github.com/avalonproxy/avalon/internal/pipeline"
	"github.com/avalonproxy/avalon/internal/rewrite"
	"github.com/avalonproxy/avalon/internal/router"
	"github.com/avalonproxy/avalon/internal/staticfiles"
	"github.com/avalonproxy/avalon/internal/upstream"
	"go.uber.org/zap"
)

// Config parameterizes a Handler's built-in behavior.
type Config struct {
	ConnectTimeout time.Duration
	TryDuration    time.Duration
	TryInterval    time.Duration
	ServerName     string // sent as the Server response header, e.g. "avalon"
}

// DefaultConfig returns sane defaults for the built-in retry loop.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		TryDuration:    10 * time.Second,
		TryInterval:    250 * time.Millisecond,
		ServerName:     "avalon",
	}
}

// Handler is the top-level http.Handler: it matches a route, then runs
// the nine-phase pipeline, with built-in hooks doing the actual
// routing/upstream-selection/proxying/caching/compression work at
// pipeline.PriorityNormal so plugins can still hook in earlier or later.
type Handler struct {
	cfg Config

	Table    *router.Table
	Pools    map[string]*upstream.Pool
	Breakers map[string]*breaker.Breaker
	Cache    *cache.Cache

	registry *pipeline.Registry
	executor *pipeline.Executor
	log      *zap.Logger

	transport http.RoundTripper

	// ScriptEngine backs HandlerScript routes; nil disables them.
	ScriptEngine *rewrite.Engine

	fileServersMu sync.RWMutex
	fileServers   map[string]*staticfiles.Server
}

// New builds a Handler and registers its built-in hooks. Callers may
// continue calling Registry().Register(...) to add plugin hooks before
// the first request is served; the registry finalizes lazily on first use.
func New(cfg Config, table *router.Table, pools map[string]*upstream.Pool, breakers map[string]*breaker.Breaker, respCache *cache.Cache, log *zap.Logger) *Handler {
	h := &Handler{
		cfg:         cfg,
		Table:       table,
		Pools:       pools,
		Breakers:    breakers,
		Cache:       respCache,
		registry:    pipeline.NewRegistry(),
		log:         log,
		transport:   http.DefaultTransport,
		fileServers: make(map[string]*staticfiles.Server),
	}
	h.executor = pipeline.NewExecutor(h.registry)
	h.registerBuiltins()
	return h
}

// Registry exposes the hook registry so plugins can add their own
// hooks before requests start flowing.
func (h *Handler) Registry() *pipeline.Registry { return h.registry }

func (h *Handler) registerBuiltins() {
	h.registry.Register(pipeline.Route, pipeline.PriorityNormal, pipeline.HookFunc{
		HookName: "builtin.route",
		Fn:       h.hookRoute,
	})
	h.registry.Register(pipeline.UpstreamSelect, pipeline.PriorityNormal, pipeline.HookFunc{
		HookName: "builtin.upstream_select",
		Fn:       h.hookUpstreamSelect,
	})
	h.registry.Register(pipeline.UpstreamRequest, pipeline.PriorityNormal, pipeline.HookFunc{
		HookName: "builtin.upstream_request",
		Fn:       h.hookUpstreamRequest,
	})
	h.registry.Register(pipeline.ResponseFilter, pipeline.PriorityNormal, pipeline.HookFunc{
		HookName: "builtin.response_filter",
		Fn:       h.hookResponseFilter,
	})
	h.registry.Register(pipeline.ResponseBody, pipeline.PriorityNormal, pipeline.HookFunc{
		HookName: "builtin.response_body",
		Fn:       h.hookResponseBody,
	})
	h.registry.Register(pipeline.Logging, pipeline.PriorityNormal, pipeline.HookFunc{
		HookName: "builtin.logging",
		Fn:       h.hookLogging,
	})
}

// ServeHTTP is the http.Handler entry point.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if IsWebSocketUpgrade(r) {
		h.serveWebSocketRequest(w, r)
		return
	}

	ctx := pipeline.New(r)

	if cached, ok := h.lookupCache(r); ok {
		writeCachedResponse(w, cached)
		return
	}

	shortCircuited, err := h.executor.Run(ctx)
	if err != nil {
		if h.log != nil {
			h.log.Error("pipeline error", zap.Error(err))
		}
		http.Error(w, "internal server error", http.StatusBadGateway)
		return
	}

	if ctx.ResponseStatus == 0 {
		if shortCircuited {
			ctx.ResponseStatus = http.StatusForbidden
		} else {
			ctx.ResponseStatus = http.StatusNotFound
		}
	}

	h.writeResponse(w, ctx)
}

func (h *Handler) lookupCache(r *http.Request) (cache.Entry, bool) {
	if h.Cache == nil || r.Method != http.MethodGet {
		return cache.Entry{}, false
	}
	key := cache.Key{Method: r.Method, Host: r.Host, Path: r.URL.Path, Query: r.URL.RawQuery}
	return h.Cache.Get(key.String())
}

func writeCachedResponse(w http.ResponseWriter, e cache.Entry) {
	for k, values := range e.Headers {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

func (h *Handler) writeResponse(w http.ResponseWriter, ctx *pipeline.Context) {
	header := w.Header()
	for k, values := range ctx.ResponseHeader {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	if h.cfg.ServerName != "" {
		header.Set("Server", h.cfg.ServerName)
	}
	w.WriteHeader(ctx.ResponseStatus)
	_, _ = w.Write(ctx.ResponseBody)
}

// serveWebSocketRequest routes and selects an upstream exactly like
// the normal path, then hands the connection off to serveWebSocket
// instead of running it through the response-side pipeline phases.
func (h *Handler) serveWebSocketRequest(w http.ResponseWriter, r *http.Request) {
	route := h.Table.Match(r)
	if route == nil || route.Kind != router.HandlerReverseProxy {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	pool, ok := h.Pools[route.UpstreamPoolName]
	if !ok {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	server, err := pool.Select(clientIP(r))
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	if err := h.serveWebSocket(w, r, server.Addr); err != nil && h.log != nil {
		h.log.Warn("websocket passthrough ended", zap.Error(err))
	}
}

// hookRoute performs first-match-wins route matching against the
// live table and short-circuits with 404 if nothing matches.
func (h *Handler) hookRoute(ctx *pipeline.Context) (pipeline.Signal, error) {
	route := h.Table.Match(ctx.Std)
	if route == nil {
		ctx.ResponseStatus = http.StatusNotFound
		return pipeline.ShortCircuit, nil
	}
	ctx.Route = route
	ctx.Vars["route_name"] = route.Name
	return pipeline.Continue, nil
}

// hookUpstreamSelect resolves the route's pool and picks a healthy
// server whose circuit breaker currently allows requests.
func (h *Handler) hookUpstreamSelect(ctx *pipeline.Context) (pipeline.Signal, error) {
	if ctx.Route == nil || ctx.Route.Kind != router.HandlerReverseProxy {
		return pipeline.Continue, nil
	}

	pool, ok := h.Pools[ctx.Route.UpstreamPoolName]
	if !ok {
		ctx.ResponseStatus = http.StatusBadGateway
		return pipeline.ShortCircuit, fmt.Errorf("proxy: unknown upstream pool %q", ctx.Route.UpstreamPoolName)
	}
	ctx.SelectedPool = pool

	affinityKey := clientIP(ctx.Std)
	for {
		s, err := pool.SelectExcluding(affinityKey, ctx.TriedServers)
		if err != nil {
			ctx.ResponseStatus = http.StatusBadGateway
			return pipeline.ShortCircuit, nil
		}
		if b, ok := h.Breakers[s.Display]; ok && !b.AllowRequest() {
			ctx.TriedServers = append(ctx.TriedServers, s)
			continue
		}
		ctx.SelectedServer = s
		return pipeline.Continue, nil
	}
}

// hookUpstreamRequest dispatches the matched route to its handler kind.
// Reverse-proxy routes retry against a different server on connect
// failure until TryDuration elapses, per the teacher's keepRetrying
// loop. Once a handler has filled in the response without error, the
// pipeline continues so the response-filter, response-body and logging
// phases run over it.
func (h *Handler) hookUpstreamRequest(ctx *pipeline.Context) (pipeline.Signal, error) {
	route := ctx.Route
	if route == nil {
		return pipeline.Continue, nil
	}

	var sig pipeline.Signal
	var err error
	switch route.Kind {
	case router.HandlerStaticResponse:
		sig, err = h.serveStaticResponse(ctx)
	case router.HandlerRedirect:
		sig, err = h.serveRedirect(ctx)
	case router.HandlerReverseProxy:
		sig, err = h.serveReverseProxy(ctx)
	case router.HandlerFileServer:
		sig, err = h.serveFile(ctx)
	case router.HandlerScript:
		sig, err = h.serveScript(ctx)
	default:
		return pipeline.Continue, nil
	}
	if err != nil {
		return sig, err
	}
	return pipeline.Continue, nil
}

// serveFile dispatches to a per-route file server, built lazily and
// cached by FileRoot so repeated requests don't re-jail http.Dir.
func (h *Handler) serveFile(ctx *pipeline.Context) (pipeline.Signal, error) {
	route := ctx.Route
	fs := h.fileServerFor(route.FileRoot)

	rec := &responseRecorder{header: make(http.Header)}
	fs.ServeHTTP(rec, ctx.Std)

	ctx.ResponseStatus = rec.status
	for k, values := range rec.header {
		for _, v := range values {
			ctx.ResponseHeader.Add(k, v)
		}
	}
	ctx.ResponseBody = rec.body
	return pipeline.ShortCircuit, nil
}

func (h *Handler) fileServerFor(root string) *staticfiles.Server {
	h.fileServersMu.RLock()
	fs, ok := h.fileServers[root]
	h.fileServersMu.RUnlock()
	if ok {
		return fs
	}

	h.fileServersMu.Lock()
	defer h.fileServersMu.Unlock()
	if fs, ok := h.fileServers[root]; ok {
		return fs
	}
	fs = staticfiles.New(staticfiles.Config{Root: root})
	h.fileServers[root] = fs
	return fs
}

// serveScript evaluates the route's compiled CEL script against the
// request and applies its continue/redirect/reject verdict.
func (h *Handler) serveScript(ctx *pipeline.Context) (pipeline.Signal, error) {
	route := ctx.Route
	if h.ScriptEngine == nil || route.ScriptSource == "" {
		return pipeline.Continue, nil
	}

	script, err := h.ScriptEngine.Compile(route.ScriptSource)
	if err != nil {
		ctx.ResponseStatus = http.StatusInternalServerError
		return pipeline.ShortCircuit, err
	}

	rc := rewrite.RequestContext{
		Method:   ctx.Std.Method,
		Path:     ctx.Std.URL.Path,
		Query:    ctx.Std.URL.RawQuery,
		Host:     ctx.Std.Host,
		ClientIP: clientIP(ctx.Std),
		Headers:  flattenHeader(ctx.Std.Header),
	}

	result, err := script.Eval(rc)
	if err != nil {
		ctx.ResponseStatus = http.StatusInternalServerError
		return pipeline.ShortCircuit, err
	}

	result.Apply(ctx.Std.Header)

	switch result.Action {
	case "redirect":
		ctx.ResponseHeader.Set("Location", result.RedirectLoc)
		ctx.ResponseStatus = result.RedirectStatus
		return pipeline.ShortCircuit, nil
	case "reject":
		ctx.ResponseStatus = result.RejectStatus
		ctx.ResponseBody = []byte(result.RejectBody)
		return pipeline.ShortCircuit, nil
	default:
		ctx.Std.URL.Path = result.Path
		ctx.Std.URL.RawQuery = result.Query
		return pipeline.Continue, nil
	}
}

func flattenHeader(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for k := range header {
		out[strings.ToLower(k)] = header.Get(k)
	}
	return out
}

// responseRecorder is a minimal http.ResponseWriter sink used to run
// standard-library handlers (http.ServeContent) inside the pipeline's
// buffered Context instead of streaming straight to the client.
type responseRecorder struct {
	header http.Header
	status int
	body   []byte
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) { r.status = status }

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body = append(r.body, b...)
	return len(b), nil
}

func (h *Handler) serveStaticResponse(ctx *pipeline.Context) (pipeline.Signal, error) {
	route := ctx.Route
	ctx.ResponseStatus = route.StaticStatus
	if ctx.ResponseStatus == 0 {
		ctx.ResponseStatus = http.StatusOK
	}
	for k, v := range route.StaticHeaders {
		ctx.ResponseHeader.Set(k, v)
	}
	ctx.ResponseBody = []byte(route.StaticBody)
	return pipeline.ShortCircuit, nil
}

func (h *Handler) serveRedirect(ctx *pipeline.Context) (pipeline.Signal, error) {
	route := ctx.Route
	status := route.RedirectStatus
	if status == 0 {
		status = http.StatusFound
	}
	ctx.ResponseHeader.Set("Location", route.RedirectLocation)
	ctx.ResponseStatus = status
	return pipeline.ShortCircuit, nil
}

func (h *Handler) serveReverseProxy(ctx *pipeline.Context) (pipeline.Signal, error) {
	if ctx.SelectedServer == nil {
		ctx.ResponseStatus = http.StatusBadGateway
		return pipeline.ShortCircuit, nil
	}

	start := time.Now()
	var lastErr error

	for {
		server := ctx.SelectedServer
		status, header, body, err := h.doRoundTrip(ctx, server)
		if err == nil {
			ctx.ResponseStatus = status
			for k, values := range header {
				for _, v := range values {
					ctx.ResponseHeader.Add(k, v)
				}
			}
			ctx.ResponseBody = body
			if b, ok := h.Breakers[server.Display]; ok {
				b.RecordSuccess()
			}
			return pipeline.ShortCircuit, nil
		}

		lastErr = err
		if b, ok := h.Breakers[server.Display]; ok {
			b.RecordFailure()
		}
		ctx.TriedServers = append(ctx.TriedServers, server)

		if errors.Is(err, context.Canceled) || time.Since(start) >= h.cfg.TryDuration {
			break
		}
		time.Sleep(h.cfg.TryInterval)

		next, selErr := ctx.SelectedPool.SelectExcluding(clientIP(ctx.Std), ctx.TriedServers)
		if selErr != nil {
			break
		}
		ctx.SelectedServer = next
	}

	if h.executor != nil {
		_ = h.executor.RunConnectionFailure(ctx, lastErr)
	}
	ctx.ResponseStatus = http.StatusBadGateway
	return pipeline.ShortCircuit, lastErr
}

func (h *Handler) doRoundTrip(ctx *pipeline.Context, server *upstream.Server) (int, http.Header, []byte, error) {
	server.IncrementConnections()
	defer server.DecrementConnections()

	outreq, cancel := h.buildUpstreamRequest(ctx, server)
	defer cancel()

	resp, err := h.transport.RoundTrip(outreq)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("proxy: round trip to %s: %w", server.Display, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("proxy: reading upstream body: %w", err)
	}

	header := resp.Header.Clone()
	StripHopByHop(header)

	return resp.StatusCode, header, body, nil
}

func (h *Handler) buildUpstreamRequest(ctx *pipeline.Context, server *upstream.Server) (*http.Request, context.CancelFunc) {
	r := ctx.Std
	dialCtx, cancel := context.WithTimeout(r.Context(), h.cfg.ConnectTimeout)

	scheme := "http"
	if server.UseTLS {
		scheme = "https"
	}

	path := r.URL.Path
	if ctx.Route != nil && ctx.Route.Rewrite != nil {
		path = ctx.Route.Rewrite.ApplyRequest(path, r.Header)
	}

	url := fmt.Sprintf("%s://%s%s", scheme, server.Addr, path)
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	outreq, err := http.NewRequestWithContext(dialCtx, r.Method, url, bodyReader(r))
	if err != nil {
		cancel()
		return nil, func() {}
	}
	outreq.Header = r.Header.Clone()
	StripHopByHop(outreq.Header)
	SetForwardedHeaders(outreq.Header, schemeOf(r), r.Host, clientIP(r))
	outreq.Host = r.Host

	return outreq, cancel
}

func bodyReader(r *http.Request) io.Reader {
	if r.ContentLength == 0 {
		return nil
	}
	return r.Body
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// hookResponseFilter applies the route's static response-header
// rewrite rules and caches the response if it qualifies.
func (h *Handler) hookResponseFilter(ctx *pipeline.Context) (pipeline.Signal, error) {
	if ctx.Route != nil && ctx.Route.Rewrite != nil {
		ctx.Route.Rewrite.ApplyResponse(ctx.ResponseHeader)
	}

	if h.Cache != nil && ctx.Route != nil && ctx.Route.CacheEnabled && ctx.Std.Method == http.MethodGet {
		if h.Cache.IsCacheable(ctx.Std.Method, ctx.ResponseStatus, ctx.ResponseHeader) {
			key := cache.Key{Method: ctx.Std.Method, Host: ctx.Std.Host, Path: ctx.Std.URL.Path, Query: ctx.Std.URL.RawQuery}
			ttl := h.Cache.ParseTTL(ctx.ResponseHeader)
			h.Cache.Put(key.String(), cache.Entry{
				Status:   ctx.ResponseStatus,
				Headers:  cache.StripHopByHop(ctx.ResponseHeader),
				Body:     append([]byte(nil), ctx.ResponseBody...),
				StoredAt: time.Now(),
				TTL:      ttl,
			})
		}
	}

	return pipeline.Continue, nil
}

// hookResponseBody negotiates and applies response compression.
func (h *Handler) hookResponseBody(ctx *pipeline.Context) (pipeline.Signal, error) {
	if len(ctx.ResponseBody) == 0 {
		return pipeline.Continue, nil
	}
	if skip, _ := ctx.Vars["compression_skip"].(bool); skip {
		return pipeline.Continue, nil
	}
	accept := ctx.Std.Header.Get("Accept-Encoding")
	encoding := compress.Negotiate(accept, []compress.Encoding{compress.Brotli, compress.Gzip})
	if encoding == "" || encoding == compress.Identity {
		return pipeline.Continue, nil
	}

	encoded, err := compress.Encode(encoding, ctx.ResponseBody)
	if err != nil {
		return pipeline.Continue, nil
	}
	ctx.ResponseBody = encoded
	ctx.ResponseHeader.Set("Content-Encoding", string(encoding))
	ctx.ResponseHeader.Del("Content-Length")
	ctx.ResponseHeader.Add("Vary", "Accept-Encoding")
	return pipeline.Continue, nil
}

// hookLogging emits a structured access-log line for the completed request.
func (h *Handler) hookLogging(ctx *pipeline.Context) (pipeline.Signal, error) {
	if h.log == nil {
		return pipeline.Continue, nil
	}
	h.log.Info("request",
		zap.String("method", ctx.Std.Method),
		zap.String("path", ctx.Std.URL.Path),
		zap.Int("status", ctx.ResponseStatus),
		zap.Duration("duration", time.Since(ctx.StartedAt)),
		zap.String("route", routeNameOf(ctx)),
	)
	return pipeline.Continue, nil
}

func routeNameOf(ctx *pipeline.Context) string {
	if ctx.Route == nil {
		return ""
	}
	return ctx.Route.Name
}

// IsWebSocketUpgrade reports whether r requests a WebSocket upgrade,
// per RFC 6455; the proxy must pass such requests through untouched by
// caching and compression.
func IsWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Connection"), "Upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
