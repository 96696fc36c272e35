package redis

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/pure-golang/certmailer/kv/redis")

// startSpan открывает span команды; одиночный ключ пишется атрибутом, для нескольких только их число
func startSpan(ctx context.Context, operation string, db int, keys ...string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", operation),
		attribute.Int("redis.db", db),
	}
	switch len(keys) {
	case 0:
	case 1:
		attrs = append(attrs, attribute.String("redis.key", keys[0]))
	default:
		attrs = append(attrs, attribute.Int("redis.keys", len(keys)))
	}
	return tracer.Start(ctx, "redis."+operation, trace.WithAttributes(attrs...))
}

func recordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
