// Package rewrite implements the request/response rewrite pipeline: a
// static, declarative layer (strip/add path prefix, regex replace,
// wholesale path replace, header mutation) followed by an optional
// scripted layer (script.go) for logic the static layer cannot
// express.
package rewrite

import (
	"net/http"
	"regexp"
	"strings"
)

// HeaderOp is a single header mutation applied to a request or response.
type HeaderOp struct {
	Name  string
	Value string
}

// StaticRule is one static rewrite rule, applied in a fixed order:
// strip prefix, add prefix, regex replace, wholesale path replace,
// request header set/add/delete, response header set/add/delete.
type StaticRule struct {
	StripPathPrefix string
	AddPathPrefix   string

	RegexMatch   *regexp.Regexp
	RegexReplace string

	// ReplacePath, if non-empty, wholesale-overrides the path after
	// the strip/add/regex steps have run, taking precedence over
	// whatever they produced.
	ReplacePath string

	RequestHeadersAdd    []HeaderOp
	RequestHeadersSet    []HeaderOp
	RequestHeadersDelete []string

	ResponseHeadersAdd    []HeaderOp
	ResponseHeadersSet    []HeaderOp
	ResponseHeadersDelete []string
}

// ApplyRequest rewrites a request's path and headers in place. It
// returns the possibly-new path for callers that need it (e.g. for
// re-matching).
func (r *StaticRule) ApplyRequest(path string, header http.Header) string {
	if r.StripPathPrefix != "" && strings.HasPrefix(path, r.StripPathPrefix) {
		path = path[len(r.StripPathPrefix):]
		if path == "" || path[0] != '/' {
			path = "/" + path
		}
	}

	if r.AddPathPrefix != "" {
		path = r.AddPathPrefix + path
	}

	if r.RegexMatch != nil {
		path = r.RegexMatch.ReplaceAllString(path, r.RegexReplace)
	}

	if r.ReplacePath != "" {
		path = r.ReplacePath
	}

	applyHeaderOps(header, r.RequestHeadersAdd, r.RequestHeadersSet, r.RequestHeadersDelete)

	return path
}

// ApplyResponse applies the response header mutation step.
func (r *StaticRule) ApplyResponse(header http.Header) {
	applyHeaderOps(header, r.ResponseHeadersAdd, r.ResponseHeadersSet, r.ResponseHeadersDelete)
}

func applyHeaderOps(header http.Header, add, set []HeaderOp, del []string) {
	for _, op := range set {
		header.Set(op.Name, op.Value)
	}
	for _, op := range add {
		header.Add(op.Name, op.Value)
	}
	for _, name := range del {
		header.Del(name)
	}
}

// Chain applies a sequence of static rules in order, threading the
// rewritten path through each.
type Chain struct {
	Rules []*StaticRule
}

// ApplyRequest runs every rule's request-side steps in order.
func (c *Chain) ApplyRequest(path string, header http.Header) string {
	for _, r := range c.Rules {
		path = r.ApplyRequest(path, header)
	}
	return path
}

// ApplyResponse runs every rule's response-side steps in order.
func (c *Chain) ApplyResponse(header http.Header) {
	for _, r := range c.Rules {
		r.ApplyResponse(header)
	}
}
