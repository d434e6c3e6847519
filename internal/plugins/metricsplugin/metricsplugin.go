// Package metricsplugin records per-request Prometheus observations
// into internal/metrics.Registry from the pipeline's Logging phase.
package metricsplugin

import (
	"time"

	"github.com/avalonproxy/avalon/internal/metrics"
	"github.com/avalonproxy/avalon/internal/pipeline"
)

// Config names the route label fallback used when a request never
// reached routing (e.g. rejected before the Route phase ran).
type Config struct {
	UnroutedLabel string
}

// DefaultConfig labels unrouted requests "unmatched".
func DefaultConfig() Config {
	return Config{UnroutedLabel: "unmatched"}
}

// Register wires the hook into the Logging phase at normal priority,
// grouped alongside access logging but independent of it.
func Register(registry *pipeline.Registry, cfg Config, reg *metrics.Registry) {
	if cfg.UnroutedLabel == "" {
		cfg.UnroutedLabel = "unmatched"
	}
	h := &hook{cfg: cfg, metrics: reg}
	registry.Register(pipeline.Logging, pipeline.PriorityNormal, pipeline.HookFunc{
		HookName: "plugin.metrics",
		Fn:       h.run,
	})
}

type hook struct {
	cfg     Config
	metrics *metrics.Registry
}

func (h *hook) run(ctx *pipeline.Context) (pipeline.Signal, error) {
	route := h.cfg.UnroutedLabel
	if ctx.Route != nil {
		route = ctx.Route.Name
	}

	seconds := time.Since(ctx.StartedAt).Seconds()
	h.metrics.ObserveRequest(route, ctx.Std.Method, ctx.ResponseStatus, seconds)

	if ctx.SelectedServer != nil && ctx.ConnectionError() != nil {
		h.metrics.ObserveUpstreamError(ctx.SelectedServer.Display)
	}

	return pipeline.Continue, nil
}
