// Package rtlog is the runtime's ambient logging layer: a small leveled
// interface in front of a text or JSON formatter, modeled on the
// hand-rolled level/format split a production Go service typically reaches
// for when no third-party structured-logging library is already pulled in
// (the pack's own noisefs/pkg/logging takes the same shape). The core
// packages (internal/..., fiber, sync) do not log; a host program such as
// cmd/fiberdemo builds a Logger here and directs its output anywhere it
// likes.
package rtlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is a log severity, ordered low to high.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]any

// Logger is the interface a host program logs through; the core runtime
// packages do not call it.
type Logger interface {
	Log(level Level, msg string, fields Fields)
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
	// With returns a Logger that merges fields into every subsequent call,
	// for tagging a sub-logger with e.g. a worker index or tag number.
	With(fields Fields) Logger
}

// Format selects the wire shape of emitted lines.
type Format int

const (
	Text Format = iota
	JSON
)

// Options configures a Logger.
type Options struct {
	Level  Level
	Format Format
	Output io.Writer
}

// DefaultOptions returns Info-level text logging to stderr.
func DefaultOptions() Options {
	return Options{Level: Info, Format: Text, Output: os.Stderr}
}

type logger struct {
	mu     sync.Mutex
	level  Level
	format Format
	out    io.Writer
	fields Fields
	runID  string
}

// New builds a Logger from opts. Each New call generates a fresh
// correlation id (github.com/google/uuid), shared by loggers derived from
// it via With and attached to every line under the "run_id" field, purely for grepping related log output together - it is never
// used as fiber or worker identity.
func New(opts Options) Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	return &logger{
		level:  opts.Level,
		format: opts.Format,
		out:    opts.Output,
		runID:  uuid.NewString(),
	}
}

func (l *logger) With(fields Fields) Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &logger{level: l.level, format: l.format, out: l.out, fields: merged, runID: l.runID}
}

func (l *logger) Debug(msg string, fields Fields) { l.Log(Debug, msg, fields) }
func (l *logger) Info(msg string, fields Fields)  { l.Log(Info, msg, fields) }
func (l *logger) Warn(msg string, fields Fields)  { l.Log(Warn, msg, fields) }
func (l *logger) Error(msg string, fields Fields) { l.Log(Error, msg, fields) }

func (l *logger) Log(level Level, msg string, fields Fields) {
	if level < l.level {
		return
	}
	merged := make(Fields, len(l.fields)+len(fields)+1)
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	merged["run_id"] = l.runID

	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.format {
	case JSON:
		l.writeJSON(level, msg, merged)
	default:
		l.writeText(level, msg, merged)
	}
}

func (l *logger) writeText(level Level, msg string, fields Fields) {
	fmt.Fprintf(l.out, "%s %-5s %s", time.Now().Format(time.RFC3339Nano), level, msg)
	for k, v := range fields {
		fmt.Fprintf(l.out, " %s=%v", k, v)
	}
	fmt.Fprintln(l.out)
}

func (l *logger) writeJSON(level Level, msg string, fields Fields) {
	rec := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		rec[k] = v
	}
	rec["time"] = time.Now().Format(time.RFC3339Nano)
	rec["level"] = level.String()
	rec["msg"] = msg
	enc := json.NewEncoder(l.out)
	_ = enc.Encode(rec)
}

// Nop returns a Logger that discards everything, for tests and embedders
// that don't want runtime diagnostics.
func Nop() Logger { return &logger{level: Error + 1, out: io.Discard} }
