package database

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/cartstore/pkg/database"

// Values for the system argument of TraceQuery.
const (
	SystemPostgres = "postgresql"
	SystemRedis    = "redis"
)

type slowQueryLog struct {
	threshold time.Duration
	logger    *slog.Logger
}

var slowQueries atomic.Pointer[slowQueryLog]

// SetSlowQueryLogging logs operations slower than threshold as warnings.
// A zero threshold or nil logger disables it.
func SetSlowQueryLogging(threshold time.Duration, logger *slog.Logger) {
	if threshold <= 0 || logger == nil {
		slowQueries.Store(nil)
		return
	}
	slowQueries.Store(&slowQueryLog{threshold: threshold, logger: logger})
}

func (s *slowQueryLog) observe(ctx context.Context, system, operation string, elapsed time.Duration, err error) {
	if s == nil || elapsed < s.threshold {
		return
	}
	attrs := []slog.Attr{
		slog.String("system", system),
		slog.String("operation", operation),
		slog.Duration("duration", elapsed),
		slog.Duration("threshold", s.threshold),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.LogAttrs(ctx, slog.LevelWarn, "slow query detected", attrs...)
}

// TraceQuery starts a client span for a storage operation. Call the returned
// function with the operation's error when it completes:
//
//	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "GetBlob", getBlobSQL)
//	defer func() { end(err) }()
func TraceQuery(ctx context.Context, system, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, system+" "+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			semconv.DBOperation(operation),
			semconv.DBStatement(statement),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		slowQueries.Load().observe(ctx, system, operation, time.Since(start), err)
	}
}
