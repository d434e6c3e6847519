package internal

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// DefaultLogBufferCapacity bounds how many recent log lines
// LogBufferCore retains for introspection via the admin surface.
const DefaultLogBufferCapacity = 200

// LogBufferCore is a zapcore.Core that retains the most recent log
// entries in a fixed-capacity ring, so a running process can expose
// its own recent log history without a separate log-shipping setup.
type LogBufferCore struct {
	mu       sync.Mutex
	entries  []BufferedLogEntry
	capacity int
	next     int
	filled   bool
	level    zapcore.LevelEnabler
}

// BufferedLogEntry is one retained log line, flattened to the fields
// an admin endpoint needs to render without depending on zapcore types.
type BufferedLogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// NewLogBufferCore builds a ring buffer holding up to capacity
// entries at or above level. A non-positive capacity falls back to
// DefaultLogBufferCapacity.
func NewLogBufferCore(level zapcore.LevelEnabler, capacity int) *LogBufferCore {
	if capacity <= 0 {
		capacity = DefaultLogBufferCapacity
	}
	return &LogBufferCore{
		level:    level,
		capacity: capacity,
		entries:  make([]BufferedLogEntry, capacity),
	}
}

func (c *LogBufferCore) Enabled(lvl zapcore.Level) bool {
	return c.level.Enabled(lvl)
}

func (c *LogBufferCore) With(fields []zapcore.Field) zapcore.Core {
	return c
}

func (c *LogBufferCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *LogBufferCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.next] = BufferedLogEntry{Time: entry.Time, Level: entry.Level.String(), Message: entry.Message}
	c.next = (c.next + 1) % c.capacity
	if c.next == 0 {
		c.filled = true
	}
	return nil
}

func (c *LogBufferCore) Sync() error { return nil }

// Snapshot returns the retained entries in chronological order,
// oldest first.
func (c *LogBufferCore) Snapshot() []BufferedLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.filled {
		out := make([]BufferedLogEntry, c.next)
		copy(out, c.entries[:c.next])
		return out
	}

	out := make([]BufferedLogEntry, c.capacity)
	copy(out, c.entries[c.next:])
	copy(out[c.capacity-c.next:], c.entries[:c.next])
	return out
}

var _ zapcore.Core = (*LogBufferCore)(nil)
