package pipeline

// Kind identifies one of the nine pipeline phases a hook may register
// against. The first eight are listed in the order Run executes them;
// ConnectionFailure runs only through Executor.RunConnectionFailure.
type Kind string

const (
	EarlyRequest     Kind = "early_request"
	RequestFilter    Kind = "request_filter"
	Route            Kind = "route"
	UpstreamSelect   Kind = "upstream_select"
	UpstreamRequest  Kind = "upstream_request"
	ResponseFilter   Kind = "response_filter"
	ResponseBody     Kind = "response_body"
	Logging          Kind = "logging"
	ConnectionFailure Kind = "connection_failure"
)

// Order is the fixed phase execution sequence of Executor.Run.
// ConnectionFailure is not part of it.
var Order = []Kind{
	EarlyRequest,
	RequestFilter,
	Route,
	UpstreamSelect,
	UpstreamRequest,
	ResponseFilter,
	ResponseBody,
	Logging,
}

// Signal is a hook's verdict about how the pipeline should proceed.
type Signal uint8

const (
	// Continue runs the remaining hooks of this phase, then the next phase.
	Continue Signal = iota
	// SkipPhase skips any remaining hooks in this phase but continues
	// to the next phase.
	SkipPhase
	// ShortCircuit aborts the entire pipeline immediately; the context's
	// current ResponseStatus/Header/Body (or connErr, in ConnectionFailure)
	// is sent to the client as-is.
	ShortCircuit
)

// Priority orders hooks within a single phase's multimap. Hooks at the
// same priority run in registration order.
type Priority int

const (
	PriorityFirst  Priority = 0
	PriorityEarly  Priority = 25
	PriorityNormal Priority = 50
	PriorityLate   Priority = 75
	PriorityLast   Priority = 100
)

// Hook is a single pipeline handler: it runs against the request
// context and returns a Signal directing subsequent execution.
type Hook interface {
	Name() string
	Run(ctx *Context) (Signal, error)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc struct {
	HookName string
	Fn       func(ctx *Context) (Signal, error)
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) Run(ctx *Context) (Signal, error) { return h.Fn(ctx) }
