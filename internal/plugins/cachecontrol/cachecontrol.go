// Package cachecontrol sets one static Cache-Control response header
// policy for every response, independent of internal/cache's own response
// store — this is the declarative "tell the client how to cache"
// concern, grounded on the original prototype's cache plugin
// configuration shape (default_ttl/cacheable_status) but expressed as
// a header-writing ResponseFilter hook rather than a second cache
// engine.
package cachecontrol

import (
	"strconv"

	"github.com/avalonproxy/avalon/internal/pipeline"
)

// Config controls the Cache-Control value written for cacheable
// responses.
type Config struct {
	MaxAgeSeconds   int
	Private         bool
	NoStore         bool
	CacheableStatus map[int]bool
}

// DefaultCacheableStatus matches the original prototype's default set.
func DefaultCacheableStatus() map[int]bool {
	return map[int]bool{200: true, 301: true, 302: true, 304: true, 307: true, 308: true}
}

// Register wires the hook into registry.
func Register(registry *pipeline.Registry, cfg Config) {
	if cfg.CacheableStatus == nil {
		cfg.CacheableStatus = DefaultCacheableStatus()
	}
	registry.Register(pipeline.ResponseFilter, pipeline.PriorityEarly, pipeline.HookFunc{
		HookName: "plugin.cache_control",
		Fn:       cfg.hook,
	})
}

func (cfg Config) hook(ctx *pipeline.Context) (pipeline.Signal, error) {
	if ctx.ResponseHeader.Get("Cache-Control") != "" {
		return pipeline.Continue, nil
	}
	if cfg.NoStore {
		ctx.ResponseHeader.Set("Cache-Control", "no-store")
		return pipeline.Continue, nil
	}
	if !cfg.CacheableStatus[ctx.ResponseStatus] {
		return pipeline.Continue, nil
	}

	visibility := "public"
	if cfg.Private {
		visibility = "private"
	}
	value := visibility + ", max-age=" + strconv.Itoa(cfg.MaxAgeSeconds)
	ctx.ResponseHeader.Set("Cache-Control", value)
	return pipeline.Continue, nil
}
