package blob

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	apperrors "github.com/utafrali/cartstore/pkg/errors"
)

// BreakerConfig holds configuration for the blob store circuit breaker.
type BreakerConfig struct {
	// Name identifies this breaker in metrics and logs.
	Name string

	// MaxRequests is the number of probes allowed in the half-open state.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing counts.
	// 0 means counts are never cleared while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before moving to half-open.
	Timeout time.Duration

	// FailureRatio trips the breaker once failures/requests reaches it.
	FailureRatio float64

	// MinRequests is the number of requests needed before the ratio is evaluated.
	MinRequests uint32
}

// DefaultBreakerConfig returns the breaker settings used in production.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "cart-blob",
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      15 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

var breakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "cart_blob_breaker_state",
		Help: "Current state of the blob store circuit breaker (0=closed, 1=half-open, 2=open)",
	},
	[]string{"name"},
)

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Breaker decorates a Store with circuit breaker protection. While the
// breaker is open, calls fail fast with an apperrors.ErrUnavailable error
// instead of reaching the backend. Not-found reads count as successes.
type Breaker struct {
	next    Store
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Store, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("blob store circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, context.Canceled)
		},
	}

	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &Breaker{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// Get reads through the breaker.
func (b *Breaker) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.breaker.Execute(func() ([]byte, error) {
		return b.next.Get(ctx, key)
	})
	return data, mapBreakerErr(err)
}

// Set writes through the breaker.
func (b *Breaker) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.breaker.Execute(func() ([]byte, error) {
		return nil, b.next.Set(ctx, key, value)
	})
	return mapBreakerErr(err)
}

// Ping delegates to the wrapped store when it supports health checks.
// It bypasses the breaker so readiness reflects the backend itself.
func (b *Breaker) Ping(ctx context.Context) error {
	if p, ok := b.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.Unavailable("cart storage is temporarily unavailable", err)
	}
	return err
}
