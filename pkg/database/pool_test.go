package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
)

func TestRetryBackoff_ExponentialWithJitter(t *testing.T) {
	for attempt := 0; attempt < 3; attempt++ {
		base := defaultRetryBaseWait << attempt
		minExpected := time.Duration(float64(base) * (1 - retryJitterFraction))
		maxExpected := time.Duration(float64(base) * (1 + retryJitterFraction))

		for i := 0; i < 20; i++ {
			d := retryBackoff(attempt)
			assert.GreaterOrEqual(t, d, minExpected, "attempt %d", attempt)
			assert.LessOrEqual(t, d, maxExpected, "attempt %d", attempt)
		}
	}
}

func TestRetryBackoff_NegativeAttempt(t *testing.T) {
	d := retryBackoff(-3)
	assert.LessOrEqual(t, d, time.Duration(float64(defaultRetryBaseWait)*(1+retryJitterFraction)))
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, isConnectionError(nil))
	assert.True(t, isConnectionError(errors.New("dial tcp 127.0.0.1:5432: connection refused")))
	assert.True(t, isConnectionError(errors.New("connection reset by peer")))
	assert.True(t, isConnectionError(errors.New("i/o timeout")))
	assert.True(t, isConnectionError(errors.New("unexpected EOF")))
	assert.False(t, isConnectionError(errors.New("syntax error at or near")))
	assert.False(t, isConnectionError(errors.New("relation does not exist")))
}

func TestSleepCtx_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleepCtx(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5433, User: "cart", Password: "pw", DBName: "carts", SSLMode: "disable"}
	assert.Equal(t, "postgres://cart:pw@db:5433/carts?sslmode=disable", cfg.DSN())
}

func fastRetrier(retryable func(error) bool) retrier {
	r := newRetrier("test op", retryable, nil)
	r.wait = func(int) time.Duration { return time.Millisecond }
	return r
}

func TestRetrier_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := fastRetrier(anyError).do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetrier_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("connection reset by peer")
	err := fastRetrier(isConnectionError).do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, defaultRetryAttempts, calls)
}

func TestRetrier_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	err := fastRetrier(isConnectionError).do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("syntax error at or near")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newRetrier("test op", anyError, nil)
	err := r.do(ctx, func(context.Context) error {
		cancel()
		return errors.New("dial tcp: i/o timeout")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "test op: context canceled during retry")
}

func TestPostgresConfig_PoolConfigKeepsDefaultsForZeroValues(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable", MaxConns: 7}
	pc, err := cfg.poolConfig()
	assert.NoError(t, err)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, int32(0), pc.MinConns)
	assert.Equal(t, "db", pc.ConnConfig.Host)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), RedisConfig{Addr: mr.Addr(), DB: 0}, nil)
	assert.NoError(t, err)
	assert.NoError(t, client.Close())
}

func TestNewRedisClient_NotRetriedWhenContextDone(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRedisClient(ctx, RedisConfig{Addr: addr}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis at "+addr)
}
