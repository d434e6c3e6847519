// Package pipeline implements the nine-phase request pipeline: a
// single-owner mutable per-request context threaded through ordered,
// priority-sorted hook lists (EarlyRequest, RequestFilter, Route,
// UpstreamSelect, UpstreamRequest, ResponseFilter, ResponseBody,
// Logging, ConnectionFailure).
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/avalonproxy/avalon/internal/router"
	"github.com/avalonproxy/avalon/internal/upstream"
)

// Context is the single-owner mutable state threaded through every
// phase of one request's lifecycle. Hooks read and write it directly;
// nothing else may hold a reference across phase boundaries.
type Context struct {
	Std *http.Request

	RequestID string
	StartedAt time.Time

	Route         *router.Route
	SelectedPool  *upstream.Pool
	SelectedServer *upstream.Server
	TriedServers  []*upstream.Server

	// Vars is a free-form bag plugins use to pass data between phases
	// without needing dedicated Context fields for every extension.
	Vars map[string]interface{}

	ResponseStatus int
	ResponseHeader http.Header
	ResponseBody   []byte

	connErr error
}

// New builds a fresh per-request Context wrapping std.
func New(std *http.Request) *Context {
	return &Context{
		Std:            std,
		StartedAt:      time.Now(),
		Vars:           make(map[string]interface{}),
		ResponseHeader: make(http.Header),
	}
}

// StdContext exposes the underlying request's context.Context for
// cancellation/deadline propagation into upstream calls.
func (c *Context) StdContext() context.Context {
	return c.Std.Context()
}

// SetConnectionError records the error that triggered the
// ConnectionFailure phase, so later hooks (e.g. logging) can inspect it.
func (c *Context) SetConnectionError(err error) { c.connErr = err }

// ConnectionError returns the last recorded connection error, if any.
func (c *Context) ConnectionError() error { return c.connErr }
