package upstream

import (
	"errors"
	"strconv"
)

// ErrNoHealthy is returned when no server in the pool is currently
// eligible for selection.
var ErrNoHealthy = errors.New("upstream: no healthy servers available")

// Pool owns an immutable vector of servers plus the LB policy applied
// over them. The vector's order and length never change after
// construction, so positions are stable and usable as affinity keys.
type Pool struct {
	servers []*Server
	policy  Policy
}

// NewPool builds a pool over servers (order preserved) using the named
// LB policy.
func NewPool(servers []*Server, policyName string) *Pool {
	return &Pool{
		servers: servers,
		policy:  NewPolicy(policyName),
	}
}

// Servers returns the immutable backing slice. Callers must not mutate it.
func (p *Pool) Servers() []*Server { return p.servers }

func (p *Pool) healthySlice() []*Server {
	out := make([]*Server, 0, len(p.servers))
	for _, s := range p.servers {
		if s.Healthy() {
			out = append(out, s)
		}
	}
	return out
}

// Select applies the configured LB policy over currently-healthy servers.
func (p *Pool) Select(key string) (*Server, error) {
	healthy := p.healthySlice()
	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}
	s := p.policy.Select(healthy, key)
	if s == nil {
		return nil, ErrNoHealthy
	}
	return s, nil
}

// SelectExcluding behaves like Select but skips any server identity-equal
// to one already in tried; used for connect-failure retry across
// different upstreams.
func (p *Pool) SelectExcluding(key string, tried []*Server) (*Server, error) {
	healthy := p.healthySlice()
	filtered := healthy[:0:0]
	for _, s := range healthy {
		if !containsServer(tried, s) {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrNoHealthy
	}
	s := p.policy.Select(filtered, key)
	if s == nil {
		return nil, ErrNoHealthy
	}
	return s, nil
}

// SelectWithAffinity pins a client to an upstream index when key
// parses as a valid index into the *healthy* list; otherwise it hashes
// key modulo the healthy count; otherwise (empty key) it falls back to
// Select. It returns the chosen server and the index it was found at
// within the healthy list, so the caller can re-derive the same
// affinity key later (e.g. to set a cookie).
func (p *Pool) SelectWithAffinity(key string) (*Server, int, error) {
	healthy := p.healthySlice()
	if len(healthy) == 0 {
		return nil, -1, ErrNoHealthy
	}

	if key == "" {
		s, err := p.Select("")
		if err != nil {
			return nil, -1, err
		}
		return s, indexOfServer(healthy, s), nil
	}

	if idx, err := strconv.Atoi(key); err == nil && idx >= 0 && idx < len(healthy) {
		return healthy[idx], idx, nil
	}

	s := hashSelect(healthy, key)
	if s == nil {
		return nil, -1, ErrNoHealthy
	}
	return s, indexOfServer(healthy, s), nil
}

func containsServer(list []*Server, s *Server) bool {
	for _, t := range list {
		if t == s {
			return true
		}
	}
	return false
}

func indexOfServer(list []*Server, s *Server) int {
	for i, t := range list {
		if t == s {
			return i
		}
	}
	return -1
}
