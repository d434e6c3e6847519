// Package headers implements request/response header manipulation, a
// CORS preflight responder and cross-origin response headers, and a
// security-header preset, all as RequestFilter/ResponseFilter hooks,
// grounded on the original prototype's headers and cors plugins
// (crates/plugin/src/plugins/headers.rs, crates/proxy/src/cors.rs).
package headers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/avalonproxy/avalon/internal/pipeline"
)

// Op is one header mutation.
type Op struct {
	Kind  string // "set", "add", "delete", "rename"
	Name  string
	Value string
	To    string // used by "rename"
}

// CORS configures cross-origin response headers.
type CORS struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// Security is the security-header preset.
type Security struct {
	XContentTypeOptions   bool
	XFrameOptions         bool
	XSSProtection         bool
	ContentSecurityPolicy string
	StrictTransportSecurity string
	ReferrerPolicy        string
}

// Config is the headers plugin's full configuration.
type Config struct {
	Request  []Op
	Response []Op
	CORS     *CORS
	Security *Security
}

// Register wires the request and response header hooks into registry.
func Register(registry *pipeline.Registry, cfg Config) {
	registry.Register(pipeline.RequestFilter, pipeline.PriorityNormal, pipeline.HookFunc{
		HookName: "plugin.headers.request",
		Fn:       cfg.requestHook,
	})
	registry.Register(pipeline.ResponseFilter, pipeline.PriorityLate, pipeline.HookFunc{
		HookName: "plugin.headers.response",
		Fn:       cfg.responseHook,
	})
}

func applyOps(header http.Header, ops []Op) {
	for _, op := range ops {
		switch op.Kind {
		case "set":
			header.Set(op.Name, op.Value)
		case "add":
			header.Add(op.Name, op.Value)
		case "delete":
			header.Del(op.Name)
		case "rename":
			if v := header.Get(op.Name); v != "" {
				header.Del(op.Name)
				header.Set(op.To, v)
			}
		}
	}
}

func (cfg Config) requestHook(ctx *pipeline.Context) (pipeline.Signal, error) {
	applyOps(ctx.Std.Header, cfg.Request)
	if cfg.CORS == nil {
		return pipeline.Continue, nil
	}

	origin := ctx.Std.Header.Get("Origin")
	ctx.Vars["request_origin"] = origin

	// A preflight is an OPTIONS request carrying Access-Control-Request-Method;
	// plain OPTIONS requests (no such header) fall through to routing as usual.
	reqMethod := ctx.Std.Header.Get("Access-Control-Request-Method")
	if ctx.Std.Method != http.MethodOptions || reqMethod == "" {
		return pipeline.Continue, nil
	}

	allowOrigin, ok := corsAllowOrigin(*cfg.CORS, origin)
	if !ok || !corsMethodAllowed(*cfg.CORS, reqMethod) || !corsHeadersAllowed(*cfg.CORS, ctx.Std.Header.Get("Access-Control-Request-Headers")) {
		ctx.ResponseStatus = http.StatusForbidden
		return pipeline.ShortCircuit, nil
	}

	applyPreflightHeaders(ctx.ResponseHeader, *cfg.CORS, allowOrigin)
	ctx.ResponseStatus = http.StatusNoContent
	return pipeline.ShortCircuit, nil
}

func (cfg Config) responseHook(ctx *pipeline.Context) (pipeline.Signal, error) {
	applyOps(ctx.ResponseHeader, cfg.Response)

	if cfg.Security != nil {
		applySecurityHeaders(ctx.ResponseHeader, *cfg.Security)
	}
	if cfg.CORS != nil {
		origin, _ := ctx.Vars["request_origin"].(string)
		applyCORSResponseHeaders(ctx.ResponseHeader, *cfg.CORS, origin)
	}
	return pipeline.Continue, nil
}

func applySecurityHeaders(header http.Header, s Security) {
	if s.XContentTypeOptions {
		header.Set("X-Content-Type-Options", "nosniff")
	}
	if s.XFrameOptions {
		header.Set("X-Frame-Options", "SAMEORIGIN")
	}
	if s.XSSProtection {
		header.Set("X-XSS-Protection", "1; mode=block")
	}
	if s.ContentSecurityPolicy != "" {
		header.Set("Content-Security-Policy", s.ContentSecurityPolicy)
	}
	if s.StrictTransportSecurity != "" {
		header.Set("Strict-Transport-Security", s.StrictTransportSecurity)
	}
	if s.ReferrerPolicy != "" {
		header.Set("Referrer-Policy", s.ReferrerPolicy)
	}
}

// corsAllowOrigin computes the Access-Control-Allow-Origin value for
// origin, or reports ok=false if origin is absent or not in
// AllowOrigins. A configured wildcard with no credentials echoes "*";
// otherwise (including a wildcard combined with credentials) the
// specific origin is echoed back, since "*" is invalid alongside
// Access-Control-Allow-Credentials: true.
func corsAllowOrigin(c CORS, origin string) (value string, ok bool) {
	if origin == "" || len(c.AllowOrigins) == 0 {
		return "", false
	}
	wildcard := false
	for _, o := range c.AllowOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		if o == origin {
			return origin, true
		}
	}
	if wildcard {
		if c.AllowCredentials {
			return origin, true
		}
		return "*", true
	}
	return "", false
}

func corsMethodAllowed(c CORS, method string) bool {
	for _, m := range c.AllowMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// corsHeadersAllowed checks every comma-separated header name in
// requested against AllowHeaders; an empty requested list is always
// permitted.
func corsHeadersAllowed(c CORS, requested string) bool {
	if requested == "" {
		return true
	}
	for _, h := range strings.Split(requested, ",") {
		h = strings.TrimSpace(h)
		found := false
		for _, allowed := range c.AllowHeaders {
			if strings.EqualFold(allowed, h) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// applyPreflightHeaders writes the full OPTIONS-response header set:
// allow-origin plus methods, headers, max-age, credentials, and a Vary
// covering every dimension the preflight decision depends on.
func applyPreflightHeaders(header http.Header, c CORS, allowOrigin string) {
	header.Set("Access-Control-Allow-Origin", allowOrigin)
	header.Set("Access-Control-Allow-Methods", joinComma(c.AllowMethods))
	header.Set("Access-Control-Allow-Headers", joinComma(c.AllowHeaders))
	if c.MaxAge > 0 {
		header.Set("Access-Control-Max-Age", strconv.Itoa(c.MaxAge))
	}
	if c.AllowCredentials {
		header.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(c.ExposeHeaders) > 0 {
		header.Set("Access-Control-Expose-Headers", joinComma(c.ExposeHeaders))
	}
	header.Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
}

// applyCORSResponseHeaders writes the header set for an ordinary
// (non-preflight) cross-origin response: allow-origin, credentials,
// and exposed headers only — methods/headers/max-age belong to the
// preflight response alone.
func applyCORSResponseHeaders(header http.Header, c CORS, origin string) {
	allowOrigin, ok := corsAllowOrigin(c, origin)
	if !ok {
		return
	}
	header.Set("Access-Control-Allow-Origin", allowOrigin)
	if c.AllowCredentials {
		header.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(c.ExposeHeaders) > 0 {
		header.Set("Access-Control-Expose-Headers", joinComma(c.ExposeHeaders))
	}
	header.Add("Vary", "Origin")
}

func joinComma(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ", "
		}
		out += it
	}
	return out
}
