package matcher

import "testing"

import "github.com/stretchr/testify/require"

func TestMatchesWildcard(t *testing.T) {
	m := Compile(Config{})
	require.True(t, m.Matches("example.com", "/any", "GET", nil))
}

func TestMatchesHostExact(t *testing.T) {
	m := Compile(Config{Hosts: []string{"example.com", "example.org"}})
	require.True(t, m.Matches("example.com", "/", "GET", nil))
	require.False(t, m.Matches("other.com", "/", "GET", nil))
	require.False(t, m.Matches("", "/", "GET", nil))
}

func TestMatchesHostDenyAll(t *testing.T) {
	m := Compile(Config{Hosts: []string{}})
	require.False(t, m.Matches("example.com", "/", "GET", nil))
}

func TestMatchesPathPrefix(t *testing.T) {
	m := Compile(Config{PathPrefixes: []string{"/api/", "/v2/"}})
	require.True(t, m.Matches("h", "/api/users", "GET", nil))
	require.True(t, m.Matches("h", "/v2/x", "GET", nil))
	require.False(t, m.Matches("h", "/other", "GET", nil))
}

func TestMatchesPathNoNormalization(t *testing.T) {
	// Path matching does not normalize ".." or repeated slashes.
	m := Compile(Config{PathPrefixes: []string{"/api/"}})
	require.True(t, m.Matches("h", "/api/../secret", "GET", nil))
}

func TestMatchesMethodCaseInsensitive(t *testing.T) {
	m := Compile(Config{Methods: []string{"GET", "POST"}})
	require.True(t, m.Matches("h", "/", "get", nil))
	require.True(t, m.Matches("h", "/", "POST", nil))
	require.False(t, m.Matches("h", "/", "DELETE", nil))
}

func TestMatchesHeaderSubstring(t *testing.T) {
	m := Compile(Config{Headers: map[string]string{"X-Trace": "abc"}})
	require.True(t, m.Matches("h", "/", "GET", map[string][]string{
		"X-Trace": {"xxabcxx"},
	}))
	require.False(t, m.Matches("h", "/", "GET", map[string][]string{
		"X-Trace": {"nope"},
	}))
	require.True(t, m.Matches("h", "/", "GET", map[string][]string{
		"x-trace": {"abc"},
	}))
}

func TestMatchesConjunction(t *testing.T) {
	m := Compile(Config{
		Hosts:        []string{"example.com"},
		PathPrefixes: []string{"/api"},
		Methods:      []string{"GET"},
	})
	require.True(t, m.Matches("example.com", "/api/x", "GET", nil))
	require.False(t, m.Matches("example.com", "/other", "GET", nil))
	require.False(t, m.Matches("example.org", "/api/x", "GET", nil))
}
