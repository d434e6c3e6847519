package pipeline

import "fmt"

// Executor runs a Registry's hooks against a Context in the fixed
// phase order, honoring each hook's Signal.
type Executor struct {
	registry *Registry
}

// NewExecutor builds an Executor over registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Run executes phases in Order, stopping early on ShortCircuit. It
// returns the hook's error, if any, alongside whether execution was
// short-circuited (so the caller can distinguish an aborted-by-design
// pipeline from a hook failure).
func (e *Executor) Run(ctx *Context) (shortCircuited bool, err error) {
	for _, kind := range Order {
		sig, phaseErr := e.RunPhase(kind, ctx)
		if phaseErr != nil {
			return false, fmt.Errorf("pipeline: phase %s: %w", kind, phaseErr)
		}
		if sig == ShortCircuit {
			return true, nil
		}
	}
	return false, nil
}

// RunPhase executes a single named phase's hooks in order.
func (e *Executor) RunPhase(kind Kind, ctx *Context) (Signal, error) {
	for _, hook := range e.registry.Hooks(kind) {
		sig, err := hook.Run(ctx)
		if err != nil {
			return Continue, fmt.Errorf("hook %q: %w", hook.Name(), err)
		}
		switch sig {
		case SkipPhase:
			return Continue, nil
		case ShortCircuit:
			return ShortCircuit, nil
		}
	}
	return Continue, nil
}

// RunConnectionFailure runs only the ConnectionFailure phase, used by
// the proxy handler when an upstream connect attempt ultimately fails
// after retries are exhausted — the only phase not reached via the
// normal forward traversal.
func (e *Executor) RunConnectionFailure(ctx *Context, connErr error) error {
	ctx.SetConnectionError(connErr)
	_, err := e.RunPhase(ConnectionFailure, ctx)
	return err
}
