package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avalonproxy/avalon/internal/matcher"
	"github.com/stretchr/testify/require"
)

func newRoute(name, pathPrefix string) *Route {
	return &Route{
		Name:    name,
		Matcher: matcher.Compile(matcher.Config{PathPrefixes: []string{pathPrefix}}),
		Kind:    HandlerReverseProxy,
	}
}

func TestFirstMatchWins(t *testing.T) {
	table := NewTable([]*Route{
		newRoute("specific", "/api/v1"),
		newRoute("general", "/api"),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/widgets", nil)
	got := table.Match(req)
	require.Equal(t, "specific", got.Name)
}

func TestNoMatchReturnsNil(t *testing.T) {
	table := NewTable([]*Route{newRoute("only", "/api")})
	req := httptest.NewRequest(http.MethodGet, "/other", nil)
	require.Nil(t, table.Match(req))
}

func TestReloadSwapsAtomically(t *testing.T) {
	table := NewTable([]*Route{newRoute("v1", "/v1")})
	req := httptest.NewRequest(http.MethodGet, "/v2/x", nil)
	require.Nil(t, table.Match(req))

	table.Reload([]*Route{newRoute("v2", "/v2")})
	got := table.Match(req)
	require.NotNil(t, got)
	require.Equal(t, "v2", got.Name)
}
