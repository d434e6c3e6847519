package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyStringFormat(t *testing.T) {
	k := Key{
		Method: "get",
		Host:   "example.com",
		Path:   "/widgets",
		Query:  "color=red",
		Vary:   []KeyValue{{Name: "Accept-Encoding", Value: "gzip"}},
	}
	require.Equal(t, "GET:example.com:/widgets?color=red|accept-encoding:gzip", k.String())
}

func TestKeyStringNoQueryNoVary(t *testing.T) {
	k := Key{Method: "HEAD", Host: "h", Path: "/p"}
	require.Equal(t, "HEAD:h:/p", k.String())
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New(DefaultConfig())
	e := Entry{Status: 200, Body: []byte("hi"), StoredAt: time.Now(), TTL: time.Minute}
	c.Put("k1", e)

	got, ok := c.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte("hi"), got.Body)
}

func TestGetExpiredIsMiss(t *testing.T) {
	c := New(DefaultConfig())
	e := Entry{Status: 200, Body: []byte("stale"), StoredAt: time.Now().Add(-time.Hour), TTL: time.Second}
	c.Put("k1", e)

	_, ok := c.Get("k1")
	require.False(t, ok)
}

func TestPutRejectsOversizedEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntrySize = 10
	c := New(cfg)
	c.Put("k1", Entry{Body: make([]byte, 100), StoredAt: time.Now(), TTL: time.Minute})

	_, ok := c.Get("k1")
	require.False(t, ok)
}

func TestEvictOldestUnderPressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCacheSize = 300
	c := New(cfg)

	base := time.Now()
	c.Put("old", Entry{Body: make([]byte, 50), StoredAt: base, TTL: time.Hour})
	c.Put("mid", Entry{Body: make([]byte, 50), StoredAt: base.Add(time.Second), TTL: time.Hour})
	c.Put("new", Entry{Body: make([]byte, 150), StoredAt: base.Add(2 * time.Second), TTL: time.Hour})

	_, oldOK := c.Get("old")
	_, newOK := c.Get("new")
	require.False(t, oldOK)
	require.True(t, newOK)
}

func TestRemove(t *testing.T) {
	c := New(DefaultConfig())
	c.Put("k1", Entry{StoredAt: time.Now(), TTL: time.Minute})
	c.Remove("k1")
	_, ok := c.Get("k1")
	require.False(t, ok)
}

func TestIsCacheableRejectsNonCacheableMethod(t *testing.T) {
	c := New(DefaultConfig())
	require.False(t, c.IsCacheable("POST", 200, nil))
}

func TestIsCacheableRejectsNonCacheableStatus(t *testing.T) {
	c := New(DefaultConfig())
	require.False(t, c.IsCacheable("GET", 500, nil))
}

func TestIsCacheableRejectsNoStore(t *testing.T) {
	c := New(DefaultConfig())
	header := map[string][]string{"Cache-Control": {"no-store"}}
	require.False(t, c.IsCacheable("GET", 200, header))
}

func TestIsCacheableRejectsPrivate(t *testing.T) {
	c := New(DefaultConfig())
	header := map[string][]string{"Cache-Control": {"private, max-age=60"}}
	require.False(t, c.IsCacheable("GET", 200, header))
}

func TestIsCacheableAccepts(t *testing.T) {
	c := New(DefaultConfig())
	header := map[string][]string{"Cache-Control": {"public, max-age=60"}}
	require.True(t, c.IsCacheable("GET", 200, header))
}

func TestParseTTLPrecedence(t *testing.T) {
	c := New(DefaultConfig())

	both := map[string][]string{"Cache-Control": {"max-age=30, s-maxage=90"}}
	require.Equal(t, 90*time.Second, c.ParseTTL(both))

	onlyMaxAge := map[string][]string{"Cache-Control": {"max-age=30"}}
	require.Equal(t, 30*time.Second, c.ParseTTL(onlyMaxAge))

	none := map[string][]string{}
	require.Equal(t, c.cfg.DefaultTTL, c.ParseTTL(none))
}

func TestStripHopByHop(t *testing.T) {
	header := map[string][]string{
		"Content-Type": {"text/plain"},
		"Connection":    {"keep-alive"},
		"Transfer-Encoding": {"chunked"},
	}
	out := StripHopByHop(header)
	require.Contains(t, out, "Content-Type")
	require.NotContains(t, out, "Connection")
	require.NotContains(t, out, "Transfer-Encoding")
}

func TestSnapshotReportsEntries(t *testing.T) {
	c := New(DefaultConfig())
	c.Put("k1", Entry{StoredAt: time.Now(), TTL: time.Minute, Body: []byte("x")})
	c.Put("k2", Entry{StoredAt: time.Now(), TTL: time.Minute, Body: []byte("y")})

	snap := c.Snapshot()
	require.Equal(t, 2, snap.Entries)
	require.Greater(t, snap.SizeBytes, int64(0))
}
