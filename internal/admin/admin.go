// Package admin implements the built-in endpoints (/metrics, /health,
// /ready, the ACME HTTP-01 responder) and a read-only introspection
// surface over the live route table and upstream pools, per the
// supplemented "admin introspection surface" feature in SPEC_FULL.md.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/avalonproxy/avalon/internal"
	"github.com/avalonproxy/avalon/internal/acme"
	"github.com/avalonproxy/avalon/internal/breaker"
	"github.com/avalonproxy/avalon/internal/cache"
	"github.com/avalonproxy/avalon/internal/plugins/adminplugin"
	"github.com/avalonproxy/avalon/internal/router"
	"github.com/avalonproxy/avalon/internal/upstream"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

// Dependencies are the live state the admin router introspects.
type Dependencies struct {
	Table      *router.Table
	Pools      map[string]*upstream.Pool
	Breakers   map[string]*breaker.Breaker
	Challenges *acme.ChallengeStore
	Metrics    http.Handler
	Ready      func() bool
	Stats      *adminplugin.Stats
	Cache      *cache.Cache
	LogBuffer  *internal.LogBufferCore
}

// NewRouter builds the chi router serving every built-in endpoint.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		if deps.Ready != nil && !deps.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if deps.Challenges != nil {
		r.Get(acme.ChallengeBasePath+"{token}", func(w http.ResponseWriter, req *http.Request) {
			token := chi.URLParam(req, "token")
			body, ok := deps.Challenges.Respond(token)
			if !ok {
				http.NotFound(w, req)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte(body))
		})
	}

	r.Route("/admin", func(r chi.Router) {
		r.Get("/routes", deps.listRoutes)
		r.Get("/upstreams", deps.listUpstreams)
		if deps.Stats != nil {
			r.Get("/status", deps.status)
		}
		if deps.Cache != nil {
			r.Get("/cache", deps.cacheStats)
		}
		if deps.LogBuffer != nil {
			r.Get("/logs", deps.recentLogs)
		}
	})

	return r
}

type routeView struct {
	Name             string `json:"name"`
	Kind             string `json:"kind"`
	UpstreamPoolName string `json:"upstream_pool,omitempty"`
}

func (d Dependencies) listRoutes(w http.ResponseWriter, r *http.Request) {
	var views []routeView
	for _, route := range d.Table.Routes() {
		views = append(views, routeView{
			Name:             route.Name,
			Kind:             string(route.Kind),
			UpstreamPoolName: route.UpstreamPoolName,
		})
	}
	writeJSON(w, views)
}

type serverView struct {
	Display           string `json:"display"`
	Healthy           bool   `json:"healthy"`
	ActiveConnections int64  `json:"active_connections"`
	CircuitState      string `json:"circuit_state,omitempty"`
}

type poolView struct {
	Name    string       `json:"name"`
	Servers []serverView `json:"servers"`
}

func (d Dependencies) listUpstreams(w http.ResponseWriter, r *http.Request) {
	var views []poolView
	for name, pool := range d.Pools {
		pv := poolView{Name: name}
		for _, s := range pool.Servers() {
			sv := serverView{
				Display:           s.Display,
				Healthy:           s.Healthy(),
				ActiveConnections: s.ActiveConnections(),
			}
			if b, ok := d.Breakers[s.Display]; ok {
				sv.CircuitState = b.State().String()
			}
			pv.Servers = append(pv.Servers, sv)
		}
		views = append(views, pv)
	}
	writeJSON(w, views)
}

func (d Dependencies) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.Stats.Get())
}

type cacheView struct {
	Entries   int    `json:"entries"`
	Size      string `json:"size"`
	MaxSize   string `json:"max_size"`
	SizeBytes int64  `json:"size_bytes"`
}

func (d Dependencies) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats := d.Cache.Snapshot()
	writeJSON(w, cacheView{
		Entries:   stats.Entries,
		Size:      humanize.Bytes(uint64(stats.SizeBytes)),
		MaxSize:   humanize.Bytes(uint64(stats.MaxSizeBytes)),
		SizeBytes: stats.SizeBytes,
	})
}

func (d Dependencies) recentLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.LogBuffer.Snapshot())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// TrimChallengePrefix strips the well-known ACME prefix, used when a
// handler receives the raw path instead of a chi URL param.
func TrimChallengePrefix(path string) string {
	return strings.TrimPrefix(path, acme.ChallengeBasePath)
}
