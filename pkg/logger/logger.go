// Package logger configures the zerolog logger shared by the pharmacy
// binaries and derives scoped children from it.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/medflow/medflow-pharmacy/pkg/actor"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
)

// Logger wraps zerolog.Logger.
type Logger struct {
	zerolog.Logger
}

// New returns the service logger. Development writes colored console lines
// at debug, every other environment writes JSON at info.
func New(service, environment string) *Logger {
	if environment == "development" {
		return NewWithWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, service, zerolog.DebugLevel)
	}
	return NewWithWriter(os.Stdout, service, zerolog.InfoLevel)
}

// NewWithWriter is New with an explicit sink and level.
func NewWithWriter(w io.Writer, service string, level zerolog.Level) *Logger {
	return &Logger{Logger: zerolog.New(w).Level(level).With().Timestamp().Str("service", service).Logger()}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithField returns a child logger carrying key=value.
func (l *Logger) WithField(key, value string) *Logger {
	return &Logger{Logger: l.Logger.With().Str(key, value).Logger()}
}

func (l *Logger) WithComponent(component string) *Logger { return l.WithField("component", component) }
func (l *Logger) WithJob(job string) *Logger             { return l.WithField("job", job) }
func (l *Logger) WithTenant(schema string) *Logger       { return l.WithField("tenant_schema", schema) }
func (l *Logger) WithRequestID(id string) *Logger        { return l.WithField("request_id", id) }
func (l *Logger) WithUserID(id string) *Logger           { return l.WithField("user_id", id) }

// ForContext tags the logger with the tenant and actor found in ctx.
func (l *Logger) ForContext(ctx context.Context) *Logger {
	child := l.Logger.With()
	if info, ok := tenant.FromContext(ctx); ok {
		child = child.Str("tenant_schema", info.Schema)
	}
	if a := actor.FromContext(ctx); a != nil {
		child = child.Str("user_id", a.ID)
	}
	return &Logger{Logger: child.Logger()}
}
