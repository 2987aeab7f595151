package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/cartstore/pkg/logger"
)

// RequestLogger stores a logger enriched with the request's correlation_id,
// session_id, trace_id and span_id in the context, for retrieval with
// logger.FromContext. Mount it after RequestLogging, Tracing and whatever
// middleware resolves the cart session.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
