// Package matcher implements the host/path/method/header request
// predicate used to decide whether a route applies to a request.
package matcher

import "strings"

// Predicate is a conjunction of optional match criteria. A nil field is
// vacuously true; an explicitly empty-but-non-nil slice denies
// every request (Some([]) is deny-all, per the route compiler's contract).
type Predicate struct {
	Hosts        []string
	PathPrefixes []string
	Methods      []string
	Headers      map[string]string
}

// Matcher is a compiled Predicate ready for per-request evaluation. A
// nil slice and an explicit empty slice in Config are distinguishable:
// the compiled matcher tracks whether each field was configured at all,
// since an explicit empty list denies every request while an absent
// field is vacuously true.
type Matcher struct {
	hosts        []string
	hostsSet     bool
	pathPrefixes []string
	pathsSet     bool
	methods      []string
	methodsSet   bool
	headers      map[string]string
	headersSet   bool
}

// Config is the raw, pre-compile form of a predicate as read from
// configuration. A nil slice means "not configured" (wildcard); a
// non-nil-but-empty slice means "configured as deny-all".
type Config struct {
	Hosts        []string
	PathPrefixes []string
	Methods      []string
	Headers      map[string]string
}

// Compile builds a Matcher from a Config, normalizing hosts/methods the
// way they'll be compared (hosts exact case-sensitive, methods upper).
func Compile(c Config) *Matcher {
	m := &Matcher{}
	if c.Hosts != nil {
		m.hosts = append([]string(nil), c.Hosts...)
		m.hostsSet = true
	}
	if c.PathPrefixes != nil {
		m.pathPrefixes = append([]string(nil), c.PathPrefixes...)
		m.pathsSet = true
	}
	if c.Methods != nil {
		m.methods = make([]string, len(c.Methods))
		for i, meth := range c.Methods {
			m.methods[i] = strings.ToUpper(meth)
		}
		m.methodsSet = true
	}
	if c.Headers != nil {
		m.headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			m.headers[strings.ToLower(k)] = v
		}
		m.headersSet = true
	}
	return m
}

// Matches evaluates the compiled predicate against one request's facets.
// header is the full header map of the request (canonical names ok; we
// compare case-insensitively on name, by substring on value).
func (m *Matcher) Matches(host, path, method string, header map[string][]string) bool {
	if m.hostsSet {
		if host == "" {
			return false
		}
		found := false
		for _, h := range m.hosts {
			if h == host {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if m.pathsSet {
		found := false
		for _, prefix := range m.pathPrefixes {
			if strings.HasPrefix(path, prefix) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if m.methodsSet {
		um := strings.ToUpper(method)
		found := false
		for _, meth := range m.methods {
			if meth == um {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if m.headersSet {
		for wantName, wantVal := range m.headers {
			if !headerContains(header, wantName, wantVal) {
				return false
			}
		}
	}

	return true
}

// headerContains reports whether any value of the named header
// (case-insensitive name) contains wantVal as a substring — header
// matching is substring-equal on the value, not exact equality.
func headerContains(header map[string][]string, name, substr string) bool {
	for k, values := range header {
		if !strings.EqualFold(k, name) {
			continue
		}
		for _, v := range values {
			if strings.Contains(v, substr) {
				return true
			}
		}
	}
	return false
}
