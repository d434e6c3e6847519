// Package adminplugin accumulates process-wide request/connection
// statistics from the pipeline's Logging phase, exposed through
// internal/admin's existing /admin/status endpoint rather than a
// second HTTP surface.
package adminplugin

import (
	"sync/atomic"
	"time"

	"github.com/avalonproxy/avalon/internal/pipeline"
)

// Stats accumulates server-wide counters. The zero value is ready to
// use; all fields are accessed exclusively via atomic operations.
type Stats struct {
	startedAt            time.Time
	totalRequests        atomic.Int64
	activeConnections    atomic.Int64
	totalResponseTimeNs  atomic.Int64
}

// NewStats builds a Stats with its uptime clock started now.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now()}
}

// Snapshot is the point-in-time view returned by internal/admin's
// status endpoint.
type Snapshot struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	TotalRequests     int64   `json:"total_requests"`
	ActiveConnections int64   `json:"active_connections"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// Get returns the current snapshot.
func (s *Stats) Get() Snapshot {
	uptime := time.Since(s.startedAt)
	total := s.totalRequests.Load()

	var rps, avgMs float64
	if uptime.Seconds() > 0 {
		rps = float64(total) / uptime.Seconds()
	}
	if total > 0 {
		avgMs = float64(s.totalResponseTimeNs.Load()) / float64(total) / float64(time.Millisecond)
	}

	return Snapshot{
		UptimeSeconds:     uptime.Seconds(),
		TotalRequests:     total,
		ActiveConnections: s.activeConnections.Load(),
		RequestsPerSecond: rps,
		AvgResponseTimeMs: avgMs,
	}
}

// IncrementConnections marks one connection as opened.
func (s *Stats) IncrementConnections() { s.activeConnections.Add(1) }

// DecrementConnections marks one connection as closed.
func (s *Stats) DecrementConnections() { s.activeConnections.Add(-1) }

func (s *Stats) recordRequest(d time.Duration) {
	s.totalRequests.Add(1)
	s.totalResponseTimeNs.Add(int64(d))
}

// Register wires an EarlyRequest hook that counts the connection and
// a Logging hook that records completion, so total_requests and
// avg_response_time_ms reflect the full request lifecycle.
func Register(registry *pipeline.Registry, s *Stats) {
	registry.Register(pipeline.EarlyRequest, pipeline.PriorityFirst, pipeline.HookFunc{
		HookName: "plugin.admin.connect",
		Fn: func(ctx *pipeline.Context) (pipeline.Signal, error) {
			s.IncrementConnections()
			return pipeline.Continue, nil
		},
	})
	registry.Register(pipeline.Logging, pipeline.PriorityFirst, pipeline.HookFunc{
		HookName: "plugin.admin.complete",
		Fn: func(ctx *pipeline.Context) (pipeline.Signal, error) {
			s.DecrementConnections()
			s.recordRequest(time.Since(ctx.StartedAt))
			return pipeline.Continue, nil
		},
	})
}
