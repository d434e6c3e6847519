package rewrite

import (
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// RequestContext is the read-only view of the in-flight request handed
// to a compiled script, mirroring the original prototype's scripting
// contract (original_source rhai_rewrite.rs RequestContext).
type RequestContext struct {
	Method      string
	Path        string
	Query       string
	Host        string
	ClientIP    string
	Headers     map[string]string
	QueryParams map[string]string
}

// toCELMap adapts RequestContext into the variable bindings a
// compiled CEL program expects.
func (rc RequestContext) toCELMap() map[string]interface{} {
	return map[string]interface{}{
		"method":       rc.Method,
		"path":         rc.Path,
		"query":        rc.Query,
		"host":         rc.Host,
		"client_ip":    rc.ClientIP,
		"headers":      rc.Headers,
		"query_params": rc.QueryParams,
	}
}

// Result is the script's effect on the request, mirroring the
// original prototype's RewriteResult. Action defaults to "continue"
// when a script does not set it.
type Result struct {
	Path           string
	Query          string
	HeadersSet     map[string]string
	HeadersAdd     map[string]string
	HeadersDelete  []string
	Stop           bool
	Action         string // "continue", "redirect", "reject"
	RedirectLoc    string
	RedirectStatus int
	RejectStatus   int
	RejectBody     string
}

// defaultResult seeds a Result with the original prototype's defaults.
func defaultResult(rc RequestContext) Result {
	return Result{
		Path:           rc.Path,
		Query:          rc.Query,
		Action:         "continue",
		RedirectStatus: 302,
		RejectStatus:   403,
	}
}

// ResourceLimits caps what a compiled script may do. The only cap is
// the CEL program cost budget; expression depth, call-stack depth and
// string/list/map sizes are not limited separately here.
type ResourceLimits struct {
	MaxCost int64 // CEL program cost budget, a proxy for op-count limits
}

// DefaultResourceLimits matches the original prototype's conservative caps.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{MaxCost: 10000}
}

// Engine is a process-wide, reusable CEL environment. Scripts are
// compiled once via Compile and evaluated many times via Script.Eval;
// the environment itself holds no per-request state, so one Engine is
// shared across all route scripts (original_source rhai_rewrite.rs
// keeps a single shared interpreter for the same reason).
type Engine struct {
	env    *cel.Env
	limits ResourceLimits

	mu    sync.RWMutex
	cache map[string]*Script
}

// NewEngine constructs the shared CEL environment with the request
// variables and helper functions scripts are allowed to reference.
func NewEngine(limits ResourceLimits) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("method", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("query", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("client_ip", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("query_params", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("rewrite: building cel environment: %w", err)
	}
	return &Engine{env: env, limits: limits, cache: make(map[string]*Script)}, nil
}

// Script is a compiled, reusable expression.
type Script struct {
	program cel.Program
	source  string
}

// Compile parses and checks a script source, caching the result by
// source text so identical route scripts share one compiled program.
func (e *Engine) Compile(source string) (*Script, error) {
	e.mu.RLock()
	if s, ok := e.cache[source]; ok {
		e.mu.RUnlock()
		return s, nil
	}
	e.mu.RUnlock()

	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rewrite: compiling script: %w", issues.Err())
	}
	prg, err := e.env.Program(ast, cel.CostLimit(uint64(e.limits.MaxCost)))
	if err != nil {
		return nil, fmt.Errorf("rewrite: building program: %w", err)
	}

	s := &Script{program: prg, source: source}
	e.mu.Lock()
	e.cache[source] = s
	e.mu.Unlock()
	return s, nil
}

// Eval runs the compiled script against a request context and decodes
// its output into a Result. A script is expected to return either a
// boolean (true = stop / reject, false = continue) or a map literal
// describing path/header/redirect overrides; any other shape is treated
// as a no-op continue. Only a failed evaluation returns an error.
func (s *Script) Eval(rc RequestContext) (Result, error) {
	out, _, err := s.program.Eval(rc.toCELMap())
	if err != nil {
		return Result{}, fmt.Errorf("rewrite: evaluating script: %w", err)
	}

	result := defaultResult(rc)

	switch v := out.(type) {
	case types.Bool:
		if bool(v) {
			result.Stop = true
			result.Action = "reject"
		}
		return result, nil
	default:
		m, ok := out.(ref.Val)
		if !ok {
			return result, nil
		}
		return decodeResultMap(m, result)
	}
}

func decodeResultMap(v ref.Val, base Result) (Result, error) {
	native, err := v.ConvertToNative(mapStringAnyReflectType)
	if err != nil {
		// Not a map-shaped result; treat as a no-op continue.
		return base, nil
	}
	m, ok := native.(map[string]interface{})
	if !ok {
		if p, ok := native.(*map[string]interface{}); ok && p != nil {
			m = *p
		} else {
			return base, nil
		}
	}

	if s, ok := m["path"].(string); ok {
		base.Path = s
	}
	if s, ok := m["query"].(string); ok {
		base.Query = s
	}
	if s, ok := m["action"].(string); ok {
		base.Action = s
	}
	if s, ok := m["redirect_location"].(string); ok {
		base.RedirectLoc = s
	}
	if n, ok := m["redirect_status"].(int64); ok {
		base.RedirectStatus = int(n)
	}
	if n, ok := m["reject_status"].(int64); ok {
		base.RejectStatus = int(n)
	}
	if s, ok := m["reject_body"].(string); ok {
		base.RejectBody = s
	}
	if b, ok := m["stop"].(bool); ok {
		base.Stop = b
	}
	if hs, ok := m["headers_set"].(map[string]interface{}); ok {
		base.HeadersSet = toStringMap(hs)
	}
	if ha, ok := m["headers_add"].(map[string]interface{}); ok {
		base.HeadersAdd = toStringMap(ha)
	}
	if hd, ok := m["headers_delete"].([]interface{}); ok {
		for _, x := range hd {
			if s, ok := x.(string); ok {
				base.HeadersDelete = append(base.HeadersDelete, s)
			}
		}
	}

	return base, nil
}

func toStringMap(m map[string]interface{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

var mapStringAnyReflectType = reflect.TypeOf(map[string]interface{}{})

// Apply applies a Result's header mutations to the live request,
// mirroring StaticRule.ApplyRequest's set/add/delete ordering. Path and
// Query are not applied here; the caller copies them onto the request.
func (r Result) Apply(header http.Header) {
	for name, value := range r.HeadersSet {
		header.Set(name, value)
	}
	for name, value := range r.HeadersAdd {
		header.Add(name, value)
	}
	for _, name := range r.HeadersDelete {
		header.Del(name)
	}
}

// ScriptEvalTimeout is a 50ms per-request script evaluation budget.
// Script.Eval does not apply it; the CEL program cost limit is the only
// bound enforced during evaluation.
const ScriptEvalTimeout = 50 * time.Millisecond
