package router

import (
	"net/http"
	"sync/atomic"
)

// Table is the first-match-wins ordered route list, held behind an
// atomic pointer so Reload can swap it in without a lock on the read
// path: a reload must never block in-flight matching.
type Table struct {
	routes atomic.Pointer[[]*Route]
}

// NewTable builds a Table from an initial ordered route slice.
func NewTable(routes []*Route) *Table {
	t := &Table{}
	t.Reload(routes)
	return t
}

// Reload atomically replaces the route list.
func (t *Table) Reload(routes []*Route) {
	cp := append([]*Route(nil), routes...)
	t.routes.Store(&cp)
}

// Routes returns the current route list. Callers must not mutate it.
func (t *Table) Routes() []*Route {
	p := t.routes.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Match returns the first route whose matcher accepts the request, or
// nil if none do.
func (t *Table) Match(r *http.Request) *Route {
	for _, route := range t.Routes() {
		if route.Matcher.Matches(r.Host, r.URL.Path, r.Method, r.Header) {
			return route
		}
	}
	return nil
}
