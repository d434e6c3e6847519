package proxy

import (
	"net/http"
	"strings"
)

// HopByHopHeaders are stripped from both the upstream request and the
// downstream response, per RFC 2616 §13.5.1, grounded on the teacher's
// createUpstreamRequest (caddyhttp/proxy/proxy.go).
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop removes hop-by-hop headers in place, including any
// header named by a Connection: header's value list.
func StripHopByHop(header http.Header) {
	if c := header.Get("Connection"); c != "" {
		for _, f := range strings.Split(c, ",") {
			if f = strings.TrimSpace(f); f != "" {
				header.Del(f)
			}
		}
	}
	for _, h := range HopByHopHeaders {
		header.Del(h)
	}
}

// AppendForwardedFor folds clientIP into the X-Forwarded-For chain,
// preserving any prior entries, exactly as the teacher's proxy does.
func AppendForwardedFor(header http.Header, clientIP string) {
	if prior, ok := header["X-Forwarded-For"]; ok {
		clientIP = strings.Join(prior, ", ") + ", " + clientIP
	}
	header.Set("X-Forwarded-For", clientIP)
}

// SetForwardedHeaders sets the standard X-Forwarded-* trio describing
// the original client-facing request.
func SetForwardedHeaders(header http.Header, proto, host, clientIP string) {
	if proto != "" {
		header.Set("X-Forwarded-Proto", proto)
	}
	if host != "" {
		header.Set("X-Forwarded-Host", host)
	}
	if clientIP != "" {
		AppendForwardedFor(header, clientIP)
	}
}
