package upstream

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
)

// Policy is a load-balancing selection strategy over a slice of
// already-filtered healthy servers. Implementations must be
// deterministic given the same healthy slice and key where the
// algorithm promises determinism (round_robin, least_conn ties aside,
// ip_hash/uri_hash with a key).
type Policy interface {
	// Select picks one server from healthy, a non-empty slice of
	// currently-healthy servers. key is the affinity/hash input, which
	// may be empty for policies that ignore it.
	Select(healthy []*Server, key string) *Server
}

// NewPolicy constructs the named policy. Unknown names fall back to
// round_robin, matching the teacher's RegisterPolicy default behavior
// of treating an unrecognized tag as a config error upstream of here;
// this constructor itself never errors, mirroring staticUpstream's
// "Policy == nil -> Random" default-safety net.
func NewPolicy(name string) Policy {
	switch name {
	case "random":
		return &randomPolicy{}
	case "least_conn":
		return &leastConnPolicy{}
	case "first":
		return &firstPolicy{}
	case "ip_hash":
		return &ipHashPolicy{}
	case "round_robin", "":
		return NewRoundRobin()
	default:
		return NewRoundRobin()
	}
}

// RoundRobin cycles through the healthy slice via an atomic counter.
// Because servers are selected from an immutable pool by stable index
// (see Pool), the counter is meaningful across calls even though the
// *length* of the healthy slice passed in varies request to request.
type RoundRobin struct {
	counter atomic.Uint64
}

// NewRoundRobin constructs a fresh round-robin policy.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Select(healthy []*Server, _ string) *Server {
	if len(healthy) == 0 {
		return nil
	}
	if len(healthy) == 1 {
		return healthy[0]
	}
	n := r.counter.Add(1) - 1
	return healthy[n%uint64(len(healthy))]
}

type randomPolicy struct{}

func (randomPolicy) Select(healthy []*Server, _ string) *Server {
	if len(healthy) == 0 {
		return nil
	}
	return healthy[rand.Intn(len(healthy))]
}

type leastConnPolicy struct{}

func (leastConnPolicy) Select(healthy []*Server, _ string) *Server {
	var best *Server
	var bestConns int64 = -1
	for _, s := range healthy {
		c := s.ActiveConnections()
		if best == nil || c < bestConns {
			best = s
			bestConns = c
		}
	}
	return best
}

type firstPolicy struct{}

func (firstPolicy) Select(healthy []*Server, _ string) *Server {
	if len(healthy) == 0 {
		return nil
	}
	return healthy[0]
}

// ipHashPolicy hashes the client IP string modulo the healthy count.
// With no key supplied it falls back to round-robin — that is the
// documented contract for this policy, not a bug.
type ipHashPolicy struct {
	fallback RoundRobin
}

func (p *ipHashPolicy) Select(healthy []*Server, key string) *Server {
	if key == "" {
		return p.fallback.Select(healthy, key)
	}
	return hashSelect(healthy, key)
}

func hashSelect(healthy []*Server, key string) *Server {
	if len(healthy) == 0 {
		return nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := h.Sum32() % uint32(len(healthy))
	return healthy[idx]
}
