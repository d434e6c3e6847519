// Package accesslog writes one line per completed request in Common,
// Combined, or JSON format, using internal/logging's formatters.
package accesslog

import (
	"io"
	"os"
	"sync"

	"github.com/avalonproxy/avalon/internal/logging"
	"github.com/avalonproxy/avalon/internal/pipeline"
)

// Config controls where and how access log lines are written.
type Config struct {
	Path   string // "" or "stdout"/"stderr" write to those streams
	Format logging.AccessFormat
}

// DefaultConfig matches the original prototype's own defaults.
func DefaultConfig() Config {
	return Config{Path: "stdout", Format: logging.FormatCommon}
}

// writer serializes access-log writes from concurrent requests.
type writer struct {
	mu  sync.Mutex
	out io.Writer
	cfg Config
}

// New opens the configured sink and returns a writer ready to Register.
func New(cfg Config) (*writer, error) {
	out, err := openSink(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &writer{out: out, cfg: cfg}, nil
}

func openSink(path string) (io.Writer, error) {
	switch path {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	}
}

// Register wires the hook into the Logging phase, at late priority so
// it observes the final response status other hooks may have altered.
func Register(registry *pipeline.Registry, w *writer) {
	registry.Register(pipeline.Logging, pipeline.PriorityLate, pipeline.HookFunc{
		HookName: "plugin.access_log",
		Fn:       w.hook,
	})
}

func (w *writer) hook(ctx *pipeline.Context) (pipeline.Signal, error) {
	entry := logging.EntryFromRequest(ctx.Std)
	entry.Status = ctx.ResponseStatus
	entry.Size = int64(len(ctx.ResponseBody))

	line, err := logging.Format(w.cfg.Format, entry)
	if err != nil {
		return pipeline.Continue, err
	}

	w.mu.Lock()
	_, werr := io.WriteString(w.out, line+"\n")
	w.mu.Unlock()
	if werr != nil {
		return pipeline.Continue, werr
	}
	return pipeline.Continue, nil
}
