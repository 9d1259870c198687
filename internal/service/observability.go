package service

import (
	"log/slog"

	"github.com/civicpulse/sessionkit/internal/observability/statsd"
)

// Observability groups the optional logging and metrics sinks shared by the
// session services.
type Observability struct {
	Logger  *slog.Logger // Optional: defaults to slog.Default()
	Metrics statsd.Sink  // Optional: nil disables metrics
}

func (o Observability) logger(component string) *slog.Logger {
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", component)
}
