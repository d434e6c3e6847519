// Package router holds the ordered route table: a first-match-wins
// list of routes, each pairing a matcher with its handling details
// (upstream pool reference, rewrite chain, cache policy). The table
// is swapped atomically on config reload so in-flight requests never
// observe a half-updated table.
package router

import (
	"github.com/avalonproxy/avalon/internal/matcher"
	"github.com/avalonproxy/avalon/internal/rewrite"
)

// HandlerKind distinguishes what a matched route does with a request,
// per the supplemented staticfiles route types (file_server,
// static_response, redirect, script) plus the base reverse-proxy case.
type HandlerKind string

const (
	HandlerReverseProxy   HandlerKind = "reverse_proxy"
	HandlerFileServer     HandlerKind = "file_server"
	HandlerStaticResponse HandlerKind = "static_response"
	HandlerRedirect       HandlerKind = "redirect"
	HandlerScript         HandlerKind = "script"
)

// Route is one entry in the table: a compiled matcher plus everything
// needed to serve a request that matches it.
type Route struct {
	Name    string
	Matcher *matcher.Matcher
	Kind    HandlerKind

	// UpstreamPoolName references the pool by name; the proxy package
	// resolves it against the live pool registry at dispatch time so
	// health/circuit-breaker state is always current.
	UpstreamPoolName string

	Rewrite *rewrite.Chain

	// FileRoot is the filesystem root for HandlerFileServer.
	FileRoot string

	// StaticStatus/StaticBody/StaticHeaders serve HandlerStaticResponse.
	StaticStatus  int
	StaticBody    string
	StaticHeaders map[string]string

	// RedirectLocation/RedirectStatus serve HandlerRedirect.
	RedirectLocation string
	RedirectStatus   int

	// ScriptSource is a CEL expression for HandlerScript routes.
	ScriptSource string

	CacheEnabled bool
}
