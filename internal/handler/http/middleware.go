package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/cartstore/pkg/httputil"
	"github.com/utafrali/cartstore/pkg/logger"
)

// SessionHeader carries the cart session id in both directions.
const SessionHeader = "X-Cart-Session"

type contextKey string

const sessionIDKey contextKey = "cart_session"

// CartSession reads the cart session id from X-Cart-Session, generating one
// when the header is absent. The id is echoed in the response so clients can
// keep using it, and is added to the request's logging context.
func CartSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := strings.TrimSpace(r.Header.Get(SessionHeader))
		if sid == "" {
			sid = uuid.NewString()
		}
		w.Header().Set(SessionHeader, sid)

		ctx := context.WithValue(r.Context(), sessionIDKey, sid)
		ctx = logger.WithSessionID(ctx, sid)
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("cart.session_id", sid))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionIDFromContext returns the session id stored by CartSession.
func sessionIDFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(sessionIDKey).(string)
	return sid
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:    "UNSUPPORTED_MEDIA_TYPE",
						Message: "Content-Type must be application/json",
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
