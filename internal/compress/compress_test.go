package compress

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

var all = []Encoding{Brotli, Gzip}

func TestNegotiateEmptyHeaderIsIdentity(t *testing.T) {
	require.Equal(t, Identity, Negotiate("", all))
}

func TestNegotiatePrefersBrotliOnTie(t *testing.T) {
	require.Equal(t, Brotli, Negotiate("gzip, br", all))
}

func TestNegotiateRespectsQuality(t *testing.T) {
	require.Equal(t, Gzip, Negotiate("br;q=0.1, gzip;q=0.9", all))
}

func TestNegotiateIdentityForbiddenWithNoAlternativeReturnsIdentity(t *testing.T) {
	got := Negotiate("identity;q=0", nil)
	require.Equal(t, Identity, got)
}

func TestNegotiateEverythingRejectedReturnsIdentity(t *testing.T) {
	got := Negotiate("identity;q=0, *;q=0", all)
	require.Equal(t, Identity, got)
}

func TestNegotiateWildcard(t *testing.T) {
	require.Equal(t, Brotli, Negotiate("*", all))
}

func TestNegotiateUnsupportedFallsBackToIdentity(t *testing.T) {
	require.Equal(t, Identity, Negotiate("deflate", all))
}

func TestEncodeIdentityIsNoop(t *testing.T) {
	out, err := Encode(Identity, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), out)
}

func TestEncodeGzipRoundTrip(t *testing.T) {
	out, err := Encode(Gzip, []byte("hello world"))
	require.NoError(t, err)

	r, err := gzip.NewReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 32)
	n, _ := r.Read(buf)
	require.Equal(t, "hello world", string(buf[:n]))
}

func TestEncodeBrotli(t *testing.T) {
	out, err := Encode(Brotli, []byte("hello brotli"))
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := Encode(Encoding("zstd"), []byte("x"))
	require.Error(t, err)
}
