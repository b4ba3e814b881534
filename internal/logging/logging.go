// Package logging defines the Logger/ComponentAwareLogger seam used
// throughout the orchestration core, modeled on the teacher framework's
// core.Logger / core.ComponentAwareLogger interfaces: callers depend on
// this interface, never on zerolog directly.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the leveled, structured logging surface every component
// depends on.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)

	DebugCtx(ctx context.Context, msg string, fields map[string]any)
	InfoCtx(ctx context.Context, msg string, fields map[string]any)
	WarnCtx(ctx context.Context, msg string, fields map[string]any)
	ErrorCtx(ctx context.Context, msg string, fields map[string]any)
}

// ComponentAwareLogger attaches a stable component tag to every record it
// emits, the way the teacher tags "framework/orchestration" vs
// "agent/<name>".
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) ComponentAwareLogger
}

type zlogger struct {
	z zerolog.Logger
}

// New builds a ComponentAwareLogger. Format auto-detects from MOTTO_ENV:
// anything other than "dev"/"" gets zerolog's native JSON output; "dev" (or
// unset, interactively) gets the human-readable console writer, mirroring
// the teacher telemetry package's local-text/prod-JSON split.
func New() ComponentAwareLogger {
	return NewWithWriter(defaultWriter())
}

// NewWithWriter is exposed for tests and for callers that supply their own
// writer. cmd/mottoctl's --log-format does not use it: it sets MOTTO_ENV
// and calls New.
func NewWithWriter(w io.Writer) ComponentAwareLogger {
	level := zerolog.InfoLevel
	if lv, err := zerolog.ParseLevel(os.Getenv("MOTTO_LOG_LEVEL")); err == nil {
		level = lv
	}
	z := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &zlogger{z: z}
}

func defaultWriter() io.Writer {
	if os.Getenv("MOTTO_ENV") == "dev" || os.Getenv("MOTTO_ENV") == "" {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return os.Stderr
}

func (l *zlogger) WithComponent(component string) ComponentAwareLogger {
	return &zlogger{z: l.z.With().Str("component", component).Logger()}
}

func (l *zlogger) Debug(msg string, fields map[string]any) { emit(l.z.Debug(), msg, fields) }
func (l *zlogger) Info(msg string, fields map[string]any)  { emit(l.z.Info(), msg, fields) }
func (l *zlogger) Warn(msg string, fields map[string]any)  { emit(l.z.Warn(), msg, fields) }
func (l *zlogger) Error(msg string, fields map[string]any) { emit(l.z.Error(), msg, fields) }

func (l *zlogger) DebugCtx(ctx context.Context, msg string, fields map[string]any) {
	emit(withCorrelation(ctx, l.z.Debug()), msg, fields)
}
func (l *zlogger) InfoCtx(ctx context.Context, msg string, fields map[string]any) {
	emit(withCorrelation(ctx, l.z.Info()), msg, fields)
}
func (l *zlogger) WarnCtx(ctx context.Context, msg string, fields map[string]any) {
	emit(withCorrelation(ctx, l.z.Warn()), msg, fields)
}
func (l *zlogger) ErrorCtx(ctx context.Context, msg string, fields map[string]any) {
	emit(withCorrelation(ctx, l.z.Error()), msg, fields)
}

type correlationKeyType struct{}

var correlationKey correlationKeyType

// WithCorrelationID returns a context carrying a correlation id that the
// *Ctx logging methods attach automatically.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

func withCorrelation(ctx context.Context, ev *zerolog.Event) *zerolog.Event {
	if id, ok := ctx.Value(correlationKey).(string); ok && id != "" {
		return ev.Str("correlation_id", id)
	}
	return ev
}

func emit(ev *zerolog.Event, msg string, fields map[string]any) {
	if ev == nil {
		return
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(msg)
}

// Noop returns a ComponentAwareLogger that discards everything, for tests
// that need a Logger but don't assert on its output.
func Noop() ComponentAwareLogger {
	return &zlogger{z: zerolog.New(io.Discard)}
}
