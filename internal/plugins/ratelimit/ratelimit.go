// Package ratelimit implements per-client-IP token-bucket rate
// limiting as a RequestFilter hook, grounded on the original
// prototype's rate_limit plugin (per-IP TokenBucket map) but backed by
// golang.org/x/time/rate instead of a hand-rolled bucket.
package ratelimit

import (
	"net"
	"net/http"
	"sync"

	"github.com/avalonproxy/avalon/internal"
	"github.com/avalonproxy/avalon/internal/pipeline"
	"golang.org/x/time/rate"
)

// Config controls the limiter. MaxRequests and WindowSecs derive a
// steady-state rate of MaxRequests per WindowSecs; the bucket capacity
// is MaxRequests plus Burst, Burst being the original prototype's
// burst allowance on top of the base quota.
type Config struct {
	MaxRequests int
	WindowSecs  int
	Burst       int
	StatusCode  int

	// ExemptPrivateRanges skips rate limiting for clients whose
	// address falls within RFC1918/loopback/IPv6 unique-local space, so
	// internal health checks and sidecars aren't throttled.
	ExemptPrivateRanges bool
}

// DefaultConfig matches the original prototype's defaults.
func DefaultConfig() Config {
	return Config{MaxRequests: 100, WindowSecs: 60, Burst: 10, StatusCode: http.StatusTooManyRequests}
}

// Limiter holds one token bucket per client IP.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	exempt []*net.IPNet
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	if cfg.StatusCode == 0 {
		cfg.StatusCode = http.StatusTooManyRequests
	}
	l := &Limiter{cfg: cfg, buckets: make(map[string]*rate.Limiter)}
	if cfg.ExemptPrivateRanges {
		for _, cidr := range internal.PrivateRangesCIDR() {
			if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
				l.exempt = append(l.exempt, ipNet)
			}
		}
	}
	return l
}

func (l *Limiter) isExempt(ip string) bool {
	if len(l.exempt) == 0 {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range l.exempt {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// Register wires the limiter's RequestFilter hook into registry.
func Register(registry *pipeline.Registry, l *Limiter) {
	registry.Register(pipeline.RequestFilter, pipeline.PriorityEarly, pipeline.HookFunc{
		HookName: "plugin.rate_limit",
		Fn:       l.hook,
	})
}

func (l *Limiter) hook(ctx *pipeline.Context) (pipeline.Signal, error) {
	ip := clientIP(ctx.Std)
	if l.isExempt(hostOnly(ip)) {
		return pipeline.Continue, nil
	}
	if !l.bucketFor(ip).Allow() {
		ctx.ResponseStatus = l.cfg.StatusCode
		return pipeline.ShortCircuit, nil
	}
	return pipeline.Continue, nil
}

func (l *Limiter) bucketFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[ip]
	if !ok {
		perSecond := float64(l.cfg.MaxRequests) / float64(l.cfg.WindowSecs)
		b = rate.NewLimiter(rate.Limit(perSecond), l.cfg.MaxRequests+l.cfg.Burst)
		l.buckets[ip] = b
	}
	return b
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
