package blob_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartstore/internal/blob"
	"github.com/utafrali/cartstore/internal/blob/memory"
	apperrors "github.com/utafrali/cartstore/pkg/errors"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) Set(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBreakerConfig(name string) blob.BreakerConfig {
	return blob.BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      50 * time.Millisecond,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

func TestBreaker_PassesThrough(t *testing.T) {
	ctx := context.Background()
	b := blob.NewBreaker(memory.New(), testBreakerConfig("pass"), testLogger())

	require.NoError(t, b.Set(ctx, "k", []byte("v")))
	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_NotFoundDoesNotTrip(t *testing.T) {
	ctx := context.Background()
	b := blob.NewBreaker(memory.New(), testBreakerConfig("notfound"), testLogger())

	for i := 0; i < 5; i++ {
		_, err := b.Get(ctx, "missing")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_TripsAndFailsFast(t *testing.T) {
	ctx := context.Background()
	backend := new(mockStore)
	backend.On("Set", mock.Anything, "k", mock.Anything).Return(errors.New("connection refused")).Times(3)

	b := blob.NewBreaker(backend, testBreakerConfig("trip"), testLogger())

	for i := 0; i < 3; i++ {
		err := b.Set(ctx, "k", []byte("v"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, apperrors.ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Set(ctx, "k", []byte("v"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 503, apperrors.HTTPStatus(err))

	backend.AssertExpectations(t)
}

func TestBreaker_RecoversAfterTimeout(t *testing.T) {
	ctx := context.Background()
	backend := new(mockStore)
	backend.On("Get", mock.Anything, "k").Return(nil, errors.New("timeout")).Times(3)

	b := blob.NewBreaker(backend, testBreakerConfig("recover"), testLogger())
	for i := 0; i < 3; i++ {
		_, _ = b.Get(ctx, "k")
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(80 * time.Millisecond)

	backend.On("Get", mock.Anything, "k").Return([]byte("ok"), nil).Once()
	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_PingWithoutPinger(t *testing.T) {
	b := blob.NewBreaker(new(mockStore), testBreakerConfig("ping"), testLogger())
	assert.NoError(t, b.Ping(context.Background()))
}
