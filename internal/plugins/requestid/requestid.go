// Package requestid assigns every request a unique ID, trusting an
// incoming header when configured, and echoes it back on the
// response, grounded on the original prototype's request_id plugin
// (EarlyRequest + ResponseFilter hook pair) but using google/uuid
// instead of hand-rolled ID generation.
package requestid

import (
	"github.com/avalonproxy/avalon/internal/pipeline"
	"github.com/google/uuid"
)

// Config controls the plugin's behavior.
type Config struct {
	HeaderName    string
	TrustIncoming bool
	AddToResponse bool
}

// DefaultConfig matches the original prototype's defaults.
func DefaultConfig() Config {
	return Config{
		HeaderName:    "X-Request-ID",
		TrustIncoming: true,
		AddToResponse: true,
	}
}

// Register wires the plugin's hooks into registry.
func Register(registry *pipeline.Registry, cfg Config) {
	registry.Register(pipeline.EarlyRequest, pipeline.PriorityFirst, pipeline.HookFunc{
		HookName: "plugin.request_id.early",
		Fn:       cfg.earlyHook,
	})
	if cfg.AddToResponse {
		registry.Register(pipeline.ResponseFilter, pipeline.PriorityLate, pipeline.HookFunc{
			HookName: "plugin.request_id.response",
			Fn:       cfg.responseHook,
		})
	}
}

func (cfg Config) earlyHook(ctx *pipeline.Context) (pipeline.Signal, error) {
	var id string
	if cfg.TrustIncoming {
		id = ctx.Std.Header.Get(cfg.HeaderName)
	}
	if id == "" {
		id = uuid.NewString()
	}
	ctx.RequestID = id
	ctx.Vars["request_id"] = id
	return pipeline.Continue, nil
}

func (cfg Config) responseHook(ctx *pipeline.Context) (pipeline.Signal, error) {
	if ctx.RequestID != "" {
		ctx.ResponseHeader.Set(cfg.HeaderName, ctx.RequestID)
	}
	return pipeline.Continue, nil
}
