package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/cartstore/internal/service"
	"github.com/utafrali/cartstore/pkg/health"
	"github.com/utafrali/cartstore/pkg/middleware"
)

const serviceName = "cart"

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	CORSOrigins []string
	// PprofCIDRs may reach /debug/pprof. Empty leaves it unmounted.
	PprofCIDRs []string
}

// NewRouter creates a chi router with all cart routes registered.
func NewRouter(
	cartService *service.CartService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	// Cart API endpoints
	cartHandler := NewCartHandler(cartService, logger)

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CartSession)
		r.Use(middleware.RequestLogger(logger))
		r.Use(middleware.NoStore)

		r.Get("/", cartHandler.GetCart)
		r.Delete("/", cartHandler.ClearCart)

		r.Post("/items", cartHandler.AddItem)
		r.Put("/items/{itemId}", cartHandler.UpdateItemQuantity)
		r.Delete("/items/{itemId}", cartHandler.RemoveItem)
	})

	return r
}
