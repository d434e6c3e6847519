// Package upstream implements the pool of backend servers a route can
// proxy to: the servers themselves, the load-balancing selectors, and
// the affinity/health bookkeeping the proxy loop drives them with.
package upstream

import (
	"crypto/tls"
	"sync/atomic"
)

// Server is a single configured backend. It is constructed once per
// pool and lives for the pool's lifetime; only Healthy and
// ActiveConnections mutate after construction.
type Server struct {
	// Addr is the dial address ("host:port" or a full URL for HTTP
	// backends); Display is what gets logged/exposed in metrics.
	Addr    string
	Display string

	UseTLS bool
	SNI    string

	healthy           atomic.Bool
	activeConnections atomic.Int64

	// TLSConfig is built once at pool-construction time from the
	// route's upstream_tls / upstream_mtls configuration.
	TLSConfig *tls.Config
}

// NewServer constructs a Server, healthy by default.
func NewServer(addr, display string, useTLS bool, sni string, tlsConfig *tls.Config) *Server {
	s := &Server{
		Addr:      addr,
		Display:   display,
		UseTLS:    useTLS,
		SNI:       sni,
		TLSConfig: tlsConfig,
	}
	s.healthy.Store(true)
	return s
}

// Healthy reports the current health flag.
func (s *Server) Healthy() bool { return s.healthy.Load() }

// SetHealthy updates the health flag (driven by an external health
// checker or circuit breaker integration).
func (s *Server) SetHealthy(v bool) { s.healthy.Store(v) }

// ActiveConnections returns the current in-flight connection count.
func (s *Server) ActiveConnections() int64 { return s.activeConnections.Load() }

// IncrementConnections is called by the proxy handler before each
// upstream round trip, and a deferred DecrementConnections undoes it
// when that round trip returns, on every exit path including panics.
// The logging phase does not touch this counter.
func (s *Server) IncrementConnections() int64 { return s.activeConnections.Add(1) }

// DecrementConnections undoes IncrementConnections.
func (s *Server) DecrementConnections() int64 { return s.activeConnections.Add(-1) }
