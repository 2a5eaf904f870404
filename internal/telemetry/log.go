// Package telemetry provides the structured, leveled logging used by every
// component of shore-kits. It wraps zerolog rather than exposing it
// directly, so the rest of the module depends on one small surface instead
// of the full zerolog API.
package telemetry

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a structured, leveled logger scoped to a single component
// (e.g. "flusher", "tuplefifo", "dora").
type Logger struct {
	z zerolog.Logger
}

var (
	root     zerolog.Logger
	rootOnce sync.Once
)

// initRoot lazily builds the process-wide root logger, writing to stderr.
// Level defaults to info; set SHOREKITS_LOG_LEVEL to override (trace,
// debug, info, warn, error, disabled).
func initRoot() zerolog.Logger {
	rootOnce.Do(func() {
		lvl := zerolog.InfoLevel
		if s := os.Getenv("SHOREKITS_LOG_LEVEL"); s != "" {
			if parsed, err := zerolog.ParseLevel(s); err == nil {
				lvl = parsed
			}
		}
		root = zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	})
	return root
}

// New returns a Logger scoped to component, deriving from the process-wide
// root logger.
func New(component string) Logger {
	return Logger{z: initRoot().With().Str("component", component).Logger()}
}

// WithOutput returns a Logger writing to w instead of the process root,
// useful for tests that want to assert on emitted log lines.
func WithOutput(component string, w io.Writer) Logger {
	return Logger{z: zerolog.New(w).With().Timestamp().Str("component", component).Logger()}
}

// Event describes a single structured log event under construction. It
// mirrors the minimal field-builder shape adapted from the zerolog event
// idiom: chain Str/Int/Dur/Err calls, then Msg.
type Event struct {
	z *zerolog.Event
}

func (x Event) Str(key, val string) Event {
	x.z = x.z.Str(key, val)
	return x
}

func (x Event) Int(key string, val int) Event {
	x.z = x.z.Int(key, val)
	return x
}

func (x Event) Int64(key string, val int64) Event {
	x.z = x.z.Int64(key, val)
	return x
}

func (x Event) Uint64(key string, val uint64) Event {
	x.z = x.z.Uint64(key, val)
	return x
}

func (x Event) Bool(key string, val bool) Event {
	x.z = x.z.Bool(key, val)
	return x
}

func (x Event) Dur(key string, val time.Duration) Event {
	x.z = x.z.Dur(key, val)
	return x
}

func (x Event) Err(err error) Event {
	x.z = x.z.Err(err)
	return x
}

func (x Event) Msg(msg string) {
	x.z.Msg(msg)
}

func (l Logger) Trace() Event { return Event{z: l.z.Trace()} }
func (l Logger) Debug() Event { return Event{z: l.z.Debug()} }
func (l Logger) Info() Event  { return Event{z: l.z.Info()} }
func (l Logger) Warn() Event  { return Event{z: l.z.Warn()} }
func (l Logger) Error() Event { return Event{z: l.z.Error()} }
