package rewrite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultResourceLimits())
	require.NoError(t, err)
	return e
}

func TestScriptBooleanRejectsTrue(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.Compile(`path == "/blocked"`)
	require.NoError(t, err)

	result, err := s.Eval(RequestContext{Path: "/blocked"})
	require.NoError(t, err)
	require.True(t, result.Stop)
	require.Equal(t, "reject", result.Action)
}

func TestScriptBooleanContinuesFalse(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.Compile(`path == "/blocked"`)
	require.NoError(t, err)

	result, err := s.Eval(RequestContext{Path: "/allowed"})
	require.NoError(t, err)
	require.False(t, result.Stop)
	require.Equal(t, "continue", result.Action)
}

func TestScriptReadsHeaders(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.Compile(`headers["x-role"] == "admin"`)
	require.NoError(t, err)

	result, err := s.Eval(RequestContext{Headers: map[string]string{"x-role": "admin"}})
	require.NoError(t, err)
	require.True(t, result.Stop)
}

func TestScriptCompileCaches(t *testing.T) {
	e := newTestEngine(t)
	s1, err := e.Compile(`path == "/x"`)
	require.NoError(t, err)
	s2, err := e.Compile(`path == "/x"`)
	require.NoError(t, err)
	require.Same(t, s1, s2)
}

func TestScriptCompileErrorOnBadExpression(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Compile(`this is not cel (`)
	require.Error(t, err)
}
