// Package logging configures the process-wide zerolog logger and provides
// a context-enrichment helper for per-request fields, grounded on the
// teacher's internal/observability/ctxlogger.go. The rest of the module
// takes a *zerolog.Logger (or the bare zerolog.Logger value) via
// constructor injection per component rather than reaching for a global,
// matching internal/rag/service's Logger interface + WithLogger option
// convention already used by internal/sessionstore.
package logging

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

// New builds the base logger for the process: JSON output to stdout at
// level, with a timestamp on every record.
func New(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(parsed).With().Timestamp().Logger()
}

// WithRequest returns base enriched with the fields ingress handlers
// attach to every logged line for one inbound request: method and path.
func WithRequest(base zerolog.Logger, method, path string) zerolog.Logger {
	return base.With().Str("method", method).Str("path", path).Logger()
}

// FromContext returns the logger stashed in ctx by a middleware, or a
// disabled logger if none was attached, so a handler can always safely log
// without a nil check even outside a request.
func FromContext(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
		return l
	}
	nop := zerolog.Nop()
	return &nop
}

// WithContext attaches l to ctx for downstream retrieval via FromContext.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, &l)
}

type ctxKey struct{}
