// Package compression adds policy on top of internal/compress's
// negotiation: a minimum response size and an allowed content-type
// list, mirroring the teacher's own encode.go MinLength/content-type
// gating (modules/caddyhttp/encode/encode.go) rather than compressing
// unconditionally.
package compression

import (
	"strings"

	"github.com/avalonproxy/avalon/internal/compress"
	"github.com/avalonproxy/avalon/internal/pipeline"
)

// Config controls when compression is attempted.
type Config struct {
	MinLength    int
	ContentTypes []string // prefixes, e.g. "text/", "application/json"
}

// DefaultMinLength matches the teacher's own default.
const DefaultMinLength = 512

// Register wires the hook into registry at early ResponseBody
// priority, ahead of the proxy's own built-in negotiation hook, so it
// can veto compression by clearing Accept-Encoding handling via a
// context var the built-in hook checks.
func Register(registry *pipeline.Registry, cfg Config) {
	if cfg.MinLength == 0 {
		cfg.MinLength = DefaultMinLength
	}
	registry.Register(pipeline.ResponseBody, pipeline.PriorityEarly, pipeline.HookFunc{
		HookName: "plugin.compression",
		Fn:       cfg.hook,
	})
}

func (cfg Config) hook(ctx *pipeline.Context) (pipeline.Signal, error) {
	if len(ctx.ResponseBody) < cfg.MinLength {
		ctx.Vars["compression_skip"] = true
		return pipeline.Continue, nil
	}

	if len(cfg.ContentTypes) > 0 {
		ct := ctx.ResponseHeader.Get("Content-Type")
		if !matchesAny(ct, cfg.ContentTypes) {
			ctx.Vars["compression_skip"] = true
			return pipeline.Continue, nil
		}
	}

	return pipeline.Continue, nil
}

func matchesAny(contentType string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(contentType, p) {
			return true
		}
	}
	return false
}
