package pipeline

import "sort"

type registeredHook struct {
	hook     Hook
	priority Priority
	seq      int
}

// Registry holds the priority-sorted, insertion-ordered hook lists for
// each of the nine phases. Hooks register once at startup; Finalize
// builds the sorted lists (lazily, on the first Hooks call after a
// Register), so the per-request hot path only ever iterates a plain slice.
type Registry struct {
	byKind map[Kind][]registeredHook
	nextSeq int
	sorted map[Kind][]Hook
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[Kind][]registeredHook)}
}

// Register adds a hook to the named phase at the given priority.
func (r *Registry) Register(kind Kind, priority Priority, hook Hook) {
	r.byKind[kind] = append(r.byKind[kind], registeredHook{hook: hook, priority: priority, seq: r.nextSeq})
	r.nextSeq++
	r.sorted = nil
}

// Finalize sorts every phase's hooks by (priority, registration order)
// and freezes the result for fast per-request iteration. Register
// discards the frozen result, and Hooks calls Finalize when none is
// present, so an explicit call is optional.
func (r *Registry) Finalize() {
	sorted := make(map[Kind][]Hook, len(r.byKind))
	for kind, list := range r.byKind {
		cp := append([]registeredHook(nil), list...)
		sort.SliceStable(cp, func(i, j int) bool {
			if cp[i].priority != cp[j].priority {
				return cp[i].priority < cp[j].priority
			}
			return cp[i].seq < cp[j].seq
		})
		hooks := make([]Hook, len(cp))
		for i, rh := range cp {
			hooks[i] = rh.hook
		}
		sorted[kind] = hooks
	}
	r.sorted = sorted
}

// Hooks returns the finalized, ordered hook list for a phase, calling
// Finalize first if needed. Returns nil if the phase has no hooks.
func (r *Registry) Hooks(kind Kind) []Hook {
	if r.sorted == nil {
		r.Finalize()
	}
	return r.sorted[kind]
}
