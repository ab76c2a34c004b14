package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns the control-plane tracer. Spans are no-ops until the
// process installs a tracer provider; the serve command does not install
// one.
func Tracer() trace.Tracer {
	return otel.Tracer("substrate")
}
