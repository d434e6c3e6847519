// Package ipfilter implements CIDR allow/deny access control as a
// RequestFilter hook, grounded on the original prototype's ip_filter
// plugin (crates/proxy/src/ip_filter.rs): deny list wins over allow
// list, and an empty allow list permits everyone not explicitly
// denied. Unlike the prototype's hand-rolled bit-mask CIDR matcher,
// this implementation parses ranges with net.ParseCIDR and matches
// with net.IPNet.Contains, since both already exist in the standard
// library and there is nothing an external dependency would add.
package ipfilter

import (
	"net"
	"net/http"
	"strings"

	"github.com/avalonproxy/avalon/internal/pipeline"
)

// Config lists the allow/deny CIDR ranges (or bare IPs) for one
// filter. A bare IP is treated as a /32 (or /128 for IPv6).
type Config struct {
	Allow      []string
	Deny       []string
	StatusCode int
}

// Filter is a compiled Config: each entry pre-parsed into a *net.IPNet
// once at construction time rather than on every request.
type Filter struct {
	allow      []*net.IPNet
	deny       []*net.IPNet
	statusCode int
}

// New compiles cfg into a Filter. Entries that fail to parse are
// skipped, mirroring the prototype's filter_map-and-drop behavior.
func New(cfg Config) *Filter {
	f := &Filter{statusCode: cfg.StatusCode}
	if f.statusCode == 0 {
		f.statusCode = http.StatusForbidden
	}
	f.allow = parseRanges(cfg.Allow)
	f.deny = parseRanges(cfg.Deny)
	return f
}

func parseRanges(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, s := range entries {
		if n := parseRange(s); n != nil {
			nets = append(nets, n)
		}
	}
	return nets
}

func parseRange(s string) *net.IPNet {
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil
		}
		return n
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
}

// IsActive reports whether the filter carries any rules at all.
func (f *Filter) IsActive() bool {
	return f != nil && (len(f.allow) > 0 || len(f.deny) > 0)
}

// IsAllowed applies the deny-then-allow contract: deny always wins;
// an empty allow list permits anything not denied.
func (f *Filter) IsAllowed(ip net.IP) bool {
	if ip == nil {
		return true
	}
	for _, n := range f.deny {
		if n.Contains(ip) {
			return false
		}
	}
	if len(f.allow) == 0 {
		return true
	}
	for _, n := range f.allow {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Register wires f's RequestFilter hook into registry. Priority is
// Early, registered after auth/rate-limit so the request-filter
// ordering (rate limit, auth, IP filter) holds within the shared
// Early priority bucket.
func Register(registry *pipeline.Registry, f *Filter) {
	if !f.IsActive() {
		return
	}
	registry.Register(pipeline.RequestFilter, pipeline.PriorityEarly, pipeline.HookFunc{
		HookName: "plugin.ip_filter",
		Fn:       f.hook,
	})
}

func (f *Filter) hook(ctx *pipeline.Context) (pipeline.Signal, error) {
	ip := clientIP(ctx.Std)
	if !f.IsAllowed(ip) {
		ctx.ResponseStatus = f.statusCode
		return pipeline.ShortCircuit, nil
	}
	return pipeline.Continue, nil
}

// clientIP resolves the request's source address per the prototype's
// parse_client_ip precedence: X-Forwarded-For (first hop), then
// X-Real-IP, then the raw connection address.
func clientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.ParseIP(host)
}
