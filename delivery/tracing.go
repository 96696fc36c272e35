package delivery

import (
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/pure-golang/certmailer/delivery")
