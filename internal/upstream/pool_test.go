package upstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(display string) *Server {
	return NewServer(display, display, false, "", nil)
}

func TestRoundRobinSequence(t *testing.T) {
	a := newTestServer("A:9090")
	b := newTestServer("B:9091")
	pool := NewPool([]*Server{a, b}, "round_robin")

	s1, err := pool.Select("")
	require.NoError(t, err)
	s2, err := pool.Select("")
	require.NoError(t, err)
	s3, err := pool.Select("")
	require.NoError(t, err)

	require.Equal(t, []string{"A:9090", "B:9091", "A:9090"}, []string{s1.Display, s2.Display, s3.Display})
}

func TestSelectNoHealthy(t *testing.T) {
	a := newTestServer("A")
	a.SetHealthy(false)
	pool := NewPool([]*Server{a}, "round_robin")
	_, err := pool.Select("")
	require.ErrorIs(t, err, ErrNoHealthy)
}

func TestSelectExcluding(t *testing.T) {
	a := newTestServer("A")
	b := newTestServer("B")
	pool := NewPool([]*Server{a, b}, "first")

	s, err := pool.SelectExcluding("", []*Server{a})
	require.NoError(t, err)
	require.Same(t, b, s)

	_, err = pool.SelectExcluding("", []*Server{a, b})
	require.ErrorIs(t, err, ErrNoHealthy)
}

func TestLeastConn(t *testing.T) {
	a := newTestServer("A")
	b := newTestServer("B")
	a.IncrementConnections()
	a.IncrementConnections()
	pool := NewPool([]*Server{a, b}, "least_conn")

	s, err := pool.Select("")
	require.NoError(t, err)
	require.Same(t, b, s)
}

func TestIPHashFallsBackWithoutKey(t *testing.T) {
	a := newTestServer("A")
	b := newTestServer("B")
	pool := NewPool([]*Server{a, b}, "ip_hash")

	s1, err := pool.Select("")
	require.NoError(t, err)
	s2, err := pool.Select("")
	require.NoError(t, err)
	// falls back to round robin: distinct consecutive picks.
	require.NotSame(t, s1, s2)
}

func TestIPHashDeterministic(t *testing.T) {
	a := newTestServer("A")
	b := newTestServer("B")
	pool := NewPool([]*Server{a, b}, "ip_hash")

	s1, err := pool.Select("203.0.113.7")
	require.NoError(t, err)
	s2, err := pool.Select("203.0.113.7")
	require.NoError(t, err)
	require.Same(t, s1, s2)
}

func TestSelectWithAffinityByIndex(t *testing.T) {
	a := newTestServer("A")
	b := newTestServer("B")
	pool := NewPool([]*Server{a, b}, "round_robin")

	s, idx, err := pool.SelectWithAffinity("1")
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	require.Same(t, b, s)
}

func TestSelectWithAffinityHashFallback(t *testing.T) {
	a := newTestServer("A")
	b := newTestServer("B")
	pool := NewPool([]*Server{a, b}, "round_robin")

	s1, _, err := pool.SelectWithAffinity("some-cookie-value")
	require.NoError(t, err)
	s2, _, err := pool.SelectWithAffinity("some-cookie-value")
	require.NoError(t, err)
	require.Same(t, s1, s2)
}

func TestConnectionCountingRoundTrip(t *testing.T) {
	a := newTestServer("A")
	require.EqualValues(t, 0, a.ActiveConnections())
	a.IncrementConnections()
	require.EqualValues(t, 1, a.ActiveConnections())
	a.DecrementConnections()
	require.EqualValues(t, 0, a.ActiveConnections())
}
