package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartstore/internal/blob"
	"github.com/utafrali/cartstore/internal/blob/memory"
	"github.com/utafrali/cartstore/internal/domain"
	apperrors "github.com/utafrali/cartstore/pkg/errors"
)

// ============================================================================
// Helpers
// ============================================================================

// flakyBlobs wraps a memory store and fails Get or Set on demand.
type flakyBlobs struct {
	*memory.Store
	mu      sync.Mutex
	getErr  error
	setErr  error
	setCall int
}

func newFlakyBlobs() *flakyBlobs {
	return &flakyBlobs{Store: memory.New()}
}

func (f *flakyBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyBlobs) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.setCall++
	err := f.setErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Set(ctx, key, value)
}

func (f *flakyBlobs) failSets(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setErr = err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T, blobs blob.Store) *CartStore {
	t.Helper()
	s, err := Open(context.Background(), blobs, "", quietLogger())
	require.NoError(t, err)
	return s
}

func persisted(t *testing.T, blobs blob.Store, key string) []domain.CartLine {
	t.Helper()
	data, err := blobs.Get(context.Background(), key)
	require.NoError(t, err)
	var snap snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap.State.Items
}

var (
	pen = domain.Item{ID: "pen", Name: "Pen", Price: 2.5, Image: "/img/pen.png"}
	ink = domain.Item{ID: "ink", Name: "Ink", Price: 4}
	pad = domain.Item{ID: "pad", Name: "Pad", Price: 1.25}
)

// ============================================================================
// Open Tests
// ============================================================================

func TestOpen_EmptyBlobStore(t *testing.T) {
	s := openStore(t, memory.New())

	assert.Equal(t, blob.DefaultKey, s.Key())
	assert.Empty(t, s.Items())
	assert.NotNil(t, s.Items())
	assert.Zero(t, s.TotalPrice())
	assert.Zero(t, s.TotalItems())
}

func TestOpen_CustomKey(t *testing.T) {
	blobs := memory.New()
	s, err := Open(context.Background(), blobs, "cart-storage:abc", quietLogger())
	require.NoError(t, err)

	_, err = s.AddItem(context.Background(), pen, 1)
	require.NoError(t, err)

	assert.Len(t, persisted(t, blobs, "cart-storage:abc"), 1)
	_, err = blobs.Get(context.Background(), blob.DefaultKey)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestOpen_CorruptSnapshotStartsEmpty(t *testing.T) {
	blobs := memory.New()
	require.NoError(t, blobs.Set(context.Background(), blob.DefaultKey, []byte("{not json")))

	s := openStore(t, blobs)
	assert.Empty(t, s.Items())

	_, err := s.AddItem(context.Background(), pen, 1)
	require.NoError(t, err)
	assert.Len(t, persisted(t, blobs, blob.DefaultKey), 1)
}

func TestOpen_TransportErrorFails(t *testing.T) {
	blobs := newFlakyBlobs()
	blobs.getErr = errors.New("connection refused")

	_, err := Open(context.Background(), blobs, "", quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load cart cart-storage")
}

func TestOpen_NormalizesSnapshot(t *testing.T) {
	blobs := memory.New()
	raw := `{"state":{"items":[
		{"id":"pen","name":"Pen","price":2.5,"quantity":1},
		{"id":"","name":"Ghost","price":1,"quantity":1},
		{"id":"ink","name":"Ink","price":4,"quantity":0},
		{"id":"pen","name":"Other","price":9,"quantity":2}
	]},"version":0,"extra":true}`
	require.NoError(t, blobs.Set(context.Background(), blob.DefaultKey, []byte(raw)))

	s := openStore(t, blobs)
	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, domain.CartLine{ID: "pen", Name: "Pen", Price: 2.5, Quantity: 3}, items[0])
}

// ============================================================================
// AddItem Tests
// ============================================================================

func TestAddItem_ReturnsID(t *testing.T) {
	s := openStore(t, memory.New())

	id, err := s.AddItem(context.Background(), pen, 2)
	require.NoError(t, err)
	assert.Equal(t, "pen", id)
}

func TestAddItem_MergesQuantity(t *testing.T) {
	s := openStore(t, memory.New())
	ctx := context.Background()

	_, err := s.AddItem(ctx, pen, 2)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, domain.Item{ID: "pen", Name: "Renamed", Price: 99, Image: "/other.png"}, 3)
	require.NoError(t, err)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, domain.CartLine{ID: "pen", Name: "Pen", Price: 2.5, Quantity: 5, Image: "/img/pen.png"}, items[0])
}

func TestAddItem_RejectsInvalidInput(t *testing.T) {
	blobs := memory.New()
	s := openStore(t, blobs)
	ctx := context.Background()

	tests := []struct {
		name     string
		item     domain.Item
		quantity int
	}{
		{"missing id", domain.Item{Name: "Pen", Price: 1}, 1},
		{"missing name", domain.Item{ID: "pen", Price: 1}, 1},
		{"NaN price", domain.Item{ID: "pen", Name: "Pen", Price: math.NaN()}, 1},
		{"infinite price", domain.Item{ID: "pen", Name: "Pen", Price: math.Inf(1)}, 1},
		{"zero quantity", pen, 0},
		{"negative quantity", pen, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := s.AddItem(ctx, tt.item, tt.quantity)
			require.Error(t, err)
			assert.Empty(t, id)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}

	assert.Empty(t, s.Items())
	assert.Zero(t, blobs.Len())
}

func TestAddItem_FreeItemAllowed(t *testing.T) {
	s := openStore(t, memory.New())

	_, err := s.AddItem(context.Background(), domain.Item{ID: "gift", Name: "Gift", Price: 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalItems())
	assert.Zero(t, s.TotalPrice())
}

func TestAddItem_NegativePriceAccepted(t *testing.T) {
	blobs := memory.New()
	s := openStore(t, blobs)

	id, err := s.AddItem(context.Background(), domain.Item{ID: "refund", Name: "Refund", Price: -5}, 1)
	require.NoError(t, err)
	assert.Equal(t, "refund", id)
	assert.Equal(t, -5.0, s.TotalPrice())
	assert.Len(t, persisted(t, blobs, blob.DefaultKey), 1)
}

func TestAddItem_QuantityOverflowRejected(t *testing.T) {
	blobs := newFlakyBlobs()
	s := openStore(t, blobs)
	ctx := context.Background()

	_, err := s.AddItem(ctx, pen, math.MaxInt)
	require.NoError(t, err)

	id, err := s.AddItem(ctx, pen, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Empty(t, id)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, math.MaxInt, items[0].Quantity)
	assert.Equal(t, 1, blobs.setCall)
	assert.Equal(t, math.MaxInt, persisted(t, blobs, blob.DefaultKey)[0].Quantity)
}

// ============================================================================
// Apply Tests
// ============================================================================

func TestApply_ReturnsCommittedLines(t *testing.T) {
	s := openStore(t, memory.New())
	ctx := context.Background()

	lines, err := s.Apply(ctx, AddItemMutation(pen, 2))
	require.NoError(t, err)
	require.Len(t, lines, 1)

	_, err = s.Apply(ctx, AddItemMutation(ink, 1))
	require.NoError(t, err)

	assert.Len(t, lines, 1, "committed lines must not change after later mutations")
	lines[0].Quantity = 99
	assert.Equal(t, 2, s.Items()[0].Quantity)
}

func TestApply_UpdateToZeroIsRemoval(t *testing.T) {
	s := openStore(t, memory.New())
	ctx := context.Background()
	_, err := s.AddItem(ctx, pen, 1)
	require.NoError(t, err)

	m := UpdateQuantityMutation("pen", 0)
	assert.Equal(t, OpRemoveItem, m.Op())

	lines, err := s.Apply(ctx, m)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestApply_ZeroMutationRejected(t *testing.T) {
	s := openStore(t, memory.New())

	_, err := s.Apply(context.Background(), Mutation{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestApply_FailedPersistReturnsNoLines(t *testing.T) {
	blobs := newFlakyBlobs()
	s := openStore(t, blobs)
	blobs.failSets(errors.New("disk full"))

	lines, err := s.Apply(context.Background(), AddItemMutation(pen, 1))
	require.Error(t, err)
	assert.Nil(t, lines)
	assert.Empty(t, s.Items())
}

// ============================================================================
// RemoveItem / UpdateQuantity Tests
// ============================================================================

func TestRemoveItem(t *testing.T) {
	s := openStore(t, memory.New())
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pen, 1)
	_, _ = s.AddItem(ctx, ink, 1)

	require.NoError(t, s.RemoveItem(ctx, "pen"))
	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "ink", items[0].ID)
}

func TestRemoveItem_UnknownIDIsNoOp(t *testing.T) {
	s := openStore(t, memory.New())
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pen, 1)
	before := s.Items()

	require.NoError(t, s.RemoveItem(ctx, "nope"))
	require.NoError(t, s.RemoveItem(ctx, ""))
	assert.Equal(t, before, s.Items())
}

func TestUpdateQuantity_SetsInPlace(t *testing.T) {
	s := openStore(t, memory.New())
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pen, 1)
	_, _ = s.AddItem(ctx, ink, 1)
	_, _ = s.AddItem(ctx, pad, 1)

	require.NoError(t, s.UpdateQuantity(ctx, "ink", 7))

	items := s.Items()
	require.Len(t, items, 3)
	assert.Equal(t, []string{"pen", "ink", "pad"}, []string{items[0].ID, items[1].ID, items[2].ID})
	assert.Equal(t, 7, items[1].Quantity)
}

func TestUpdateQuantity_NonPositiveRemoves(t *testing.T) {
	for _, q := range []int{0, -1, -100} {
		s := openStore(t, memory.New())
		ctx := context.Background()

		_, _ = s.AddItem(ctx, pen, 3)
		_, _ = s.AddItem(ctx, ink, 1)

		require.NoError(t, s.UpdateQuantity(ctx, "pen", q))
		items := s.Items()
		require.Len(t, items, 1, "quantity %d", q)
		assert.Equal(t, "ink", items[0].ID)
	}
}

func TestUpdateQuantity_UnknownIDIsNoOp(t *testing.T) {
	s := openStore(t, memory.New())
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pen, 1)
	require.NoError(t, s.UpdateQuantity(ctx, "nope", 5))
	assert.Equal(t, 1, s.TotalItems())
}

// ============================================================================
// Totals / ClearCart Tests
// ============================================================================

func TestTotals(t *testing.T) {
	s := openStore(t, memory.New())
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pen, 2) // 5.0
	_, _ = s.AddItem(ctx, ink, 3) // 12.0
	_, _ = s.AddItem(ctx, pad, 4) // 5.0

	assert.InDelta(t, 22.0, s.TotalPrice(), 1e-9)
	assert.Equal(t, 9, s.TotalItems())
}

func TestClearCart_Idempotent(t *testing.T) {
	blobs := memory.New()
	s := openStore(t, blobs)
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pen, 2)
	require.NoError(t, s.ClearCart(ctx))
	require.NoError(t, s.ClearCart(ctx))

	assert.Empty(t, s.Items())
	assert.Zero(t, s.TotalItems())
	assert.Zero(t, s.TotalPrice())
	assert.Empty(t, persisted(t, blobs, blob.DefaultKey))
}

// ============================================================================
// Persistence Tests
// ============================================================================

func TestPersistence_EnvelopeFormat(t *testing.T) {
	blobs := memory.New()
	s := openStore(t, blobs)

	_, err := s.AddItem(context.Background(), pen, 2)
	require.NoError(t, err)

	data, err := blobs.Get(context.Background(), blob.DefaultKey)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"state":{"items":[{"id":"pen","name":"Pen","price":2.5,"quantity":2,"image":"/img/pen.png"}]},"version":0}`,
		string(data),
	)
}

func TestPersistence_RoundTrip(t *testing.T) {
	blobs := memory.New()
	ctx := context.Background()

	first := openStore(t, blobs)
	_, _ = first.AddItem(ctx, pen, 2)
	_, _ = first.AddItem(ctx, ink, 1)
	_, _ = first.AddItem(ctx, pad, 5)
	require.NoError(t, first.UpdateQuantity(ctx, "ink", 4))
	require.NoError(t, first.RemoveItem(ctx, "pad"))

	second := openStore(t, blobs)
	assert.Equal(t, first.Items(), second.Items())
	assert.Equal(t, first.TotalItems(), second.TotalItems())
	assert.InDelta(t, first.TotalPrice(), second.TotalPrice(), 1e-9)
}

func TestPersistence_EveryMutationWrites(t *testing.T) {
	blobs := newFlakyBlobs()
	s := openStore(t, blobs)
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pen, 1)
	_ = s.UpdateQuantity(ctx, "pen", 3)
	_ = s.RemoveItem(ctx, "unknown")
	_ = s.ClearCart(ctx)

	assert.Equal(t, 4, blobs.setCall)
}

func TestPersistence_FailureRollsBack(t *testing.T) {
	blobs := newFlakyBlobs()
	s := openStore(t, blobs)
	ctx := context.Background()

	_, err := s.AddItem(ctx, pen, 2)
	require.NoError(t, err)

	writeErr := errors.New("redis: connection refused")
	blobs.failSets(writeErr)

	_, err = s.AddItem(ctx, ink, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, writeErr)

	err = s.UpdateQuantity(ctx, "pen", 9)
	assert.ErrorIs(t, err, writeErr)
	err = s.ClearCart(ctx)
	assert.ErrorIs(t, err, writeErr)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, items, persisted(t, blobs.Store, blob.DefaultKey))

	blobs.failSets(nil)
	_, err = s.AddItem(ctx, ink, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s.TotalItems())
}

func TestReload(t *testing.T) {
	blobs := memory.New()
	ctx := context.Background()

	s := openStore(t, blobs)
	other := openStore(t, blobs)

	_, err := other.AddItem(ctx, ink, 2)
	require.NoError(t, err)
	assert.Empty(t, s.Items())

	require.NoError(t, s.Reload(ctx))
	assert.Equal(t, other.Items(), s.Items())
}

// ============================================================================
// Isolation / Concurrency Tests
// ============================================================================

func TestItems_ReturnsCopy(t *testing.T) {
	s := openStore(t, memory.New())
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pen, 1)
	items := s.Items()
	items[0].Quantity = 42
	items[0].Name = "mutated"

	fresh := s.Items()
	assert.Equal(t, 1, fresh[0].Quantity)
	assert.Equal(t, "Pen", fresh[0].Name)
}

func TestConcurrentAdds(t *testing.T) {
	blobs := memory.New()
	s := openStore(t, blobs)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := s.AddItem(ctx, pen, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, s.TotalItems())
	reopened := openStore(t, blobs)
	assert.Equal(t, workers, reopened.TotalItems())
}
