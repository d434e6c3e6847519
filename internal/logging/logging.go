// Package logging builds the process-wide structured logger and the
// access-log line formatters, grounded on the teacher's logging.go
// (zapcore encoder construction for console/JSON output).
package logging

import (
	"fmt"
	"os"

	"github.com/avalonproxy/avalon/internal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger's format and destination.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "console" or "json"
	Output string // "stdout", "stderr", or a file path
}

// DefaultConfig matches the teacher's own default sink: console
// encoding to stdout at info level.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", Output: "stdout"}
}

// Build constructs a zap.Logger per cfg. The returned buffer retains
// the most recent log lines for the admin surface's /admin/logs
// endpoint; it is not affected by cfg.Output.
func Build(cfg Config) (*zap.Logger, *internal.LogBufferCore, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var encoder zapcore.Encoder
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console", "":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	sink, err := openSink(cfg.Output)
	if err != nil {
		return nil, nil, err
	}

	buffer := internal.NewLogBufferCore(level, internal.DefaultLogBufferCapacity)
	core := zapcore.NewTee(zapcore.NewCore(encoder, sink, level), buffer)
	return zap.New(core), buffer, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q", s)
	}
}

func openSink(output string) (zapcore.WriteSyncer, error) {
	switch output {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: opening log file %q: %w", output, err)
		}
		return zapcore.AddSync(f), nil
	}
}
