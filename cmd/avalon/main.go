// Command avalon runs the reverse proxy as a standalone process: load
// a TOML config, build the route table and upstream pools, register
// the built-in pipeline phases plus any configured plugins, and serve
// until interrupted.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/avalonproxy/avalon/internal"
	"github.com/avalonproxy/avalon/internal/acme"
	"github.com/avalonproxy/avalon/internal/admin"
	"github.com/avalonproxy/avalon/internal/breaker"
	"github.com/avalonproxy/avalon/internal/cache"
	"github.com/avalonproxy/avalon/internal/config"
	"github.com/avalonproxy/avalon/internal/logging"
	"github.com/avalonproxy/avalon/internal/matcher"
	"github.com/avalonproxy/avalon/internal/metrics"
	"github.com/avalonproxy/avalon/internal/plugins/accesslog"
	"github.com/avalonproxy/avalon/internal/plugins/adminplugin"
	authplugin "github.com/avalonproxy/avalon/internal/plugins/auth"
	"github.com/avalonproxy/avalon/internal/plugins/cachecontrol"
	"github.com/avalonproxy/avalon/internal/plugins/compression"
	headersplugin "github.com/avalonproxy/avalon/internal/plugins/headers"
	"github.com/avalonproxy/avalon/internal/plugins/ipfilter"
	"github.com/avalonproxy/avalon/internal/plugins/metricsplugin"
	"github.com/avalonproxy/avalon/internal/plugins/ratelimit"
	"github.com/avalonproxy/avalon/internal/plugins/requestid"
	"github.com/avalonproxy/avalon/internal/proxy"
	"github.com/avalonproxy/avalon/internal/rewrite"
	"github.com/avalonproxy/avalon/internal/router"
	"github.com/avalonproxy/avalon/internal/upstream"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "avalon",
		Short: "avalon is an application gateway: routing, load balancing, and a pluggable request pipeline",
	}
	root.AddCommand(newRunCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gateway in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "avalon.toml", "path to the TOML configuration file")
	return cmd
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, logBuffer, err := logging.Build(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	pools, breakers := buildUpstreams(cfg)

	routes, err := buildRoutes(cfg)
	if err != nil {
		return err
	}
	table := router.NewTable(routes)

	var respCache *cache.Cache
	if cfg.Cache.Enabled {
		respCache = cache.New(cache.Config{
			Enabled:      true,
			DefaultTTL:   cfg.Cache.DefaultTTL,
			MaxEntrySize: cfg.Cache.MaxEntrySize,
			MaxCacheSize: cfg.Cache.MaxCacheSize,
		})
	}

	proxyCfg := proxy.DefaultConfig()
	if cfg.Server.ConnectTimeout > 0 {
		proxyCfg.ConnectTimeout = cfg.Server.ConnectTimeout
	}
	if cfg.Server.TryDuration > 0 {
		proxyCfg.TryDuration = cfg.Server.TryDuration
	}
	if cfg.Server.TryInterval > 0 {
		proxyCfg.TryInterval = cfg.Server.TryInterval
	}
	if cfg.Server.ServerName != "" {
		proxyCfg.ServerName = cfg.Server.ServerName
	}

	handler := proxy.New(proxyCfg, table, pools, breakers, respCache, log)

	scriptEngine, err := rewrite.NewEngine(rewrite.DefaultResourceLimits())
	if err != nil {
		return fmt.Errorf("building script engine: %w", err)
	}
	handler.ScriptEngine = scriptEngine

	metricsRegistry := metrics.NewRegistry()
	adminStats := registerPlugins(handler, cfg.Plugins, metricsRegistry)

	challenges := acme.NewChallengeStore()
	var coordinator *acme.Coordinator
	if cfg.ACME.Enabled {
		store, err := acme.NewStore(cfg.ACME.StoreDir)
		if err != nil {
			return err
		}
		coordinator = acme.NewCoordinator(cfg.ACME.CAURL, cfg.ACME.Email, store, challenges, log)
	}

	adminRouter := admin.NewRouter(admin.Dependencies{
		Table:      table,
		Pools:      pools,
		Breakers:   breakers,
		Challenges: challenges,
		Metrics:    metricsRegistry.Handler(),
		Ready:      func() bool { return true },
		Stats:      adminStats,
		Cache:      respCache,
		LogBuffer:  logBuffer,
	})

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle(acme.ChallengeBasePath, adminRouter)
	mux.Handle("/health", adminRouter)
	mux.Handle("/ready", adminRouter)
	mux.Handle("/metrics", adminRouter)
	mux.Handle("/admin/", adminRouter)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	servers := []*http.Server{{Addr: cfg.Server.ListenAddr, Handler: mux}}

	if cfg.ACME.Enabled && cfg.Server.TLSListenAddr != "" {
		if err := obtainInitialCertificates(ctx, coordinator, cfg.ACME.Domains, log); err != nil {
			log.Warn("initial certificate acquisition failed", zap.Error(err))
		}
		tlsServer := &http.Server{
			Addr:      cfg.Server.TLSListenAddr,
			Handler:   mux,
			TLSConfig: &tls.Config{GetCertificate: certGetterFor(coordinator)},
		}
		servers = append(servers, tlsServer)
		go runRenewalLoop(ctx, coordinator, cfg.ACME.Domains, cfg.ACME.RenewBeforeDays, log)
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		listener, err := listen(srv.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", srv.Addr, err)
		}
		go func() {
			log.Info("listening", zap.String("addr", srv.Addr))
			var err error
			if srv.TLSConfig != nil {
				err = srv.ServeTLS(listener, "", "")
			} else {
				err = srv.Serve(listener)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}

	return nil
}

// listen opens a TCP listener for a normal host:port address, or a
// unix socket listener when addr has the "unix/" prefix (optionally
// suffixed with "|<octal permission bits>", e.g.
// "unix//run/avalon.sock|0660").
func listen(addr string) (net.Listener, error) {
	if !strings.HasPrefix(addr, "unix/") {
		return net.Listen("tcp", addr)
	}

	path, perm, err := internal.SplitUnixSocketPermissionsBits(strings.TrimPrefix(addr, "unix/"))
	if err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, perm); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func buildUpstreams(cfg *config.Config) (map[string]*upstream.Pool, map[string]*breaker.Breaker) {
	pools := make(map[string]*upstream.Pool, len(cfg.Upstreams))
	breakers := make(map[string]*breaker.Breaker)

	for name, up := range cfg.Upstreams {
		servers := make([]*upstream.Server, 0, len(up.Servers))
		for _, sc := range up.Servers {
			display := sc.Addr
			servers = append(servers, upstream.NewServer(sc.Addr, display, sc.UseTLS, sc.SNI, nil))

			bc := breaker.DefaultConfig()
			if up.Breaker.FailureThreshold > 0 {
				bc.FailureThreshold = up.Breaker.FailureThreshold
			}
			if up.Breaker.SuccessThreshold > 0 {
				bc.SuccessThreshold = up.Breaker.SuccessThreshold
			}
			if up.Breaker.Timeout > 0 {
				bc.Timeout = up.Breaker.Timeout
			}
			if up.Breaker.WindowSize > 0 {
				bc.WindowSize = up.Breaker.WindowSize
			}
			breakers[display] = breaker.New(display, bc)
		}
		pools[name] = upstream.NewPool(servers, up.Policy)
	}

	return pools, breakers
}

func buildRoutes(cfg *config.Config) ([]*router.Route, error) {
	routes := make([]*router.Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		route, err := buildRoute(rc)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func buildRoute(rc config.RouteConfig) (*router.Route, error) {
	matcherCfg := matcher.Config{
		Hosts:        rc.Hosts,
		PathPrefixes: rc.PathPrefixes,
		Methods:      rc.Methods,
		Headers:      rc.Headers,
	}

	kind := router.HandlerKind(rc.Kind)
	if kind == "" {
		kind = router.HandlerReverseProxy
	}

	route := &router.Route{
		Name:             rc.Name,
		Matcher:          matcher.Compile(matcherCfg),
		Kind:             kind,
		UpstreamPoolName: rc.Upstream,
		FileRoot:         rc.FileRoot,
		StaticStatus:     rc.StaticStatus,
		StaticBody:       rc.StaticBody,
		StaticHeaders:    rc.StaticHeaders,
		RedirectLocation: rc.RedirectLocation,
		RedirectStatus:   rc.RedirectStatus,
		ScriptSource:     rc.Script,
		CacheEnabled:     rc.CacheEnabled,
	}

	rule := &rewrite.StaticRule{
		StripPathPrefix:       rc.StripPathPrefix,
		AddPathPrefix:         rc.AddPathPrefix,
		RegexReplace:          rc.RegexReplace,
		ReplacePath:           rc.ReplacePath,
		RequestHeadersAdd:     headerOps(rc.RequestHeadersAdd),
		RequestHeadersSet:     headerOps(rc.RequestHeadersSet),
		RequestHeadersDelete:  rc.RequestHeadersDelete,
		ResponseHeadersAdd:    headerOps(rc.ResponseHeadersAdd),
		ResponseHeadersSet:    headerOps(rc.ResponseHeadersSet),
		ResponseHeadersDelete: rc.ResponseHeadersDelete,
	}
	if rc.RegexMatch != "" {
		re, err := regexp.Compile(rc.RegexMatch)
		if err != nil {
			return nil, fmt.Errorf("route %q: compiling regex_match: %w", rc.Name, err)
		}
		rule.RegexMatch = re
	}
	route.Rewrite = &rewrite.Chain{Rules: []*rewrite.StaticRule{rule}}

	return route, nil
}

func headerOps(m map[string]string) []rewrite.HeaderOp {
	if len(m) == 0 {
		return nil
	}
	ops := make([]rewrite.HeaderOp, 0, len(m))
	for name, value := range m {
		ops = append(ops, rewrite.HeaderOp{Name: name, Value: value})
	}
	return ops
}

// registerPlugins wires every enabled plugin into the handler's
// registry and returns the admin-stats accumulator if that plugin was
// enabled, so the caller can pass it on to the admin router.
func registerPlugins(h *proxy.Handler, pc config.PluginsConfig, reg *metrics.Registry) *adminplugin.Stats {
	registry := h.Registry()

	if pc.RequestID.Enabled {
		requestid.Register(registry, requestid.Config{
			HeaderName:    pc.RequestID.HeaderName,
			TrustIncoming: pc.RequestID.TrustIncoming,
			AddToResponse: pc.RequestID.AddToResponse,
		})
	}
	if pc.RateLimit.Enabled {
		ratelimit.Register(registry, ratelimit.New(ratelimit.Config{
			MaxRequests:         pc.RateLimit.MaxRequests,
			WindowSecs:          pc.RateLimit.WindowSecs,
			Burst:               pc.RateLimit.Burst,
			ExemptPrivateRanges: pc.RateLimit.ExemptPrivateRanges,
		}))
	}
	if pc.Auth.Enabled {
		authCfg := authplugin.Config{ExcludePaths: pc.Auth.ExcludePaths}
		for _, b := range pc.Auth.Basic {
			authCfg.Basic = append(authCfg.Basic, authplugin.BasicCredential{Username: b.Username, Password: b.Password})
		}
		if pc.Auth.APIKey != "" {
			authCfg.APIKeys = []authplugin.APIKeyConfig{{Key: pc.Auth.APIKey, HeaderName: pc.Auth.APIKeyHeader}}
		}
		if pc.Auth.JWTSecret != "" {
			authCfg.JWT = &authplugin.JWTConfig{Secret: pc.Auth.JWTSecret}
		}
		authplugin.Register(registry, authCfg)
	}
	if pc.IPFilter.Enabled {
		ipfilter.Register(registry, ipfilter.New(ipfilter.Config{
			Allow: pc.IPFilter.Allow,
			Deny:  pc.IPFilter.Deny,
		}))
	}
	if pc.Headers.Enabled {
		headersCfg := headersplugin.Config{}
		if len(pc.Headers.CORSAllowOrigins) > 0 {
			headersCfg.CORS = &headersplugin.CORS{AllowOrigins: pc.Headers.CORSAllowOrigins}
		}
		if pc.Headers.SecurityHeadersPreset {
			headersCfg.Security = &headersplugin.Security{
				XContentTypeOptions: true,
				XFrameOptions:       true,
				ReferrerPolicy:      "strict-origin-when-cross-origin",
			}
		}
		headersplugin.Register(registry, headersCfg)
	}
	if pc.CacheControl.Enabled {
		cachecontrol.Register(registry, cachecontrol.Config{
			MaxAgeSeconds: pc.CacheControl.MaxAgeSeconds,
			Private:       pc.CacheControl.Private,
		})
	}
	if pc.Compression.Enabled {
		compression.Register(registry, compression.Config{
			MinLength:    pc.Compression.MinLength,
			ContentTypes: pc.Compression.ContentTypes,
		})
	}
	if pc.AccessLog.Enabled {
		format := logging.AccessFormat(pc.AccessLog.Format)
		w, err := accesslog.New(accesslog.Config{Path: pc.AccessLog.Path, Format: format})
		if err == nil {
			accesslog.Register(registry, w)
		}
	}
	if pc.Metrics.Enabled {
		metricsplugin.Register(registry, metricsplugin.DefaultConfig(), reg)
	}

	var adminStats *adminplugin.Stats
	if pc.Admin.Enabled {
		adminStats = adminplugin.NewStats()
		adminplugin.Register(registry, adminStats)
	}

	return adminStats
}

func obtainInitialCertificates(ctx context.Context, coordinator *acme.Coordinator, domains []string, log *zap.Logger) error {
	log.Info("acquiring initial certificates", zap.Strings("domains", internal.SummarizeForLog(toSet(domains), 10)))
	for _, domain := range domains {
		if _, err := coordinator.ObtainCertificate(ctx, domain); err != nil {
			return err
		}
	}
	return nil
}

func runRenewalLoop(ctx context.Context, coordinator *acme.Coordinator, domains []string, renewBeforeDays int, log *zap.Logger) {
	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := coordinator.CheckRenewals(ctx, domains, renewBeforeDays); err != nil {
				log.Warn("certificate renewal check failed", zap.Error(err))
			}
		}
	}
}

func toSet(domains []string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[d] = struct{}{}
	}
	return set
}

func certGetterFor(coordinator *acme.Coordinator) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		bundle, ok, err := coordinator.LoadStoredCert(hello.ServerName)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("avalon: no certificate available for %s", hello.ServerName)
		}
		cert, err := tls.X509KeyPair([]byte(bundle.CertificatePEM), []byte(bundle.PrivateKeyPEM))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}
