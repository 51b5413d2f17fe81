package session

import (
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cargotrack/session")
var meter = otel.Meter("cargotrack/session")
