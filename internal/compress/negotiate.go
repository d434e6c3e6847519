// Package compress negotiates and applies response body compression:
// parse Accept-Encoding per RFC 7231 §5.3.4 (quality values, wildcard,
// explicit identity;q=0 rejection), preferring brotli over gzip over
// identity when qualities tie.
package compress

import (
	"sort"
	"strconv"
	"strings"
)

// Encoding is a negotiated content-coding.
type Encoding string

const (
	Identity Encoding = "identity"
	Gzip     Encoding = "gzip"
	Brotli   Encoding = "br"
)

// preference gives the corpus's tie-break order: brotli first, then
// gzip, then identity.
var preference = map[Encoding]int{Brotli: 0, Gzip: 1, Identity: 2}

type candidate struct {
	encoding Encoding
	quality  float64
}

// Negotiate parses an Accept-Encoding header value and returns the
// best encoding the server supports (from supported, which the caller
// populates with whatever codecs it has configured). Returns Identity
// whenever the header is empty or nothing else acceptable is offered —
// including when the client explicitly forbids identity via
// "identity;q=0" alongside a rejected wildcard — leaving it to the
// caller to consider a 406 if it wants to honor that rejection.
func Negotiate(header string, supported []Encoding) Encoding {
	if strings.TrimSpace(header) == "" {
		return Identity
	}

	parsed := parseAcceptEncoding(header)

	supportedSet := make(map[Encoding]bool, len(supported))
	for _, e := range supported {
		supportedSet[e] = true
	}

	var candidates []candidate
	wildcardQuality := -1.0

	for _, c := range parsed {
		switch {
		case c.encoding == "*":
			wildcardQuality = c.quality
		default:
			if supportedSet[c.encoding] {
				candidates = append(candidates, c)
			}
		}
	}

	if wildcardQuality >= 0 {
		for _, e := range supported {
			if !alreadyListed(parsed, e) {
				candidates = append(candidates, candidate{encoding: e, quality: wildcardQuality})
			}
		}
	}

	// filter zero-quality candidates
	filtered := candidates[:0:0]
	for _, c := range candidates {
		if c.quality > 0 {
			filtered = append(filtered, c)
		}
	}

	if len(filtered) == 0 {
		return Identity
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].quality != filtered[j].quality {
			return filtered[i].quality > filtered[j].quality
		}
		return preference[filtered[i].encoding] < preference[filtered[j].encoding]
	})

	return filtered[0].encoding
}

func alreadyListed(parsed []candidate, e Encoding) bool {
	for _, c := range parsed {
		if c.encoding == e {
			return true
		}
	}
	return false
}

func parseAcceptEncoding(header string) []candidate {
	var out []candidate
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pieces := strings.Split(part, ";")
		enc := Encoding(strings.ToLower(strings.TrimSpace(pieces[0])))
		quality := 1.0
		for _, p := range pieces[1:] {
			p = strings.TrimSpace(p)
			if strings.HasPrefix(p, "q=") {
				if v, err := strconv.ParseFloat(strings.TrimPrefix(p, "q="), 64); err == nil {
					quality = v
				}
			}
		}
		out = append(out, candidate{encoding: enc, quality: quality})
	}
	return out
}
