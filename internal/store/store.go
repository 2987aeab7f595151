// Package store holds a single shopping cart in memory and mirrors every
// change to a blob store as a full snapshot.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/cartstore/internal/blob"
	"github.com/utafrali/cartstore/internal/domain"
	apperrors "github.com/utafrali/cartstore/pkg/errors"
	"github.com/utafrali/cartstore/pkg/logger"
	"github.com/utafrali/cartstore/pkg/validator"
)

const tracerName = "github.com/utafrali/cartstore/internal/store"

// Operation names used in logs, spans, metrics and cart events.
const (
	OpAddItem        = "add_item"
	OpRemoveItem     = "remove_item"
	OpUpdateQuantity = "update_quantity"
	OpClearCart      = "clear_cart"
)

// CartStore is the state container for one cart.
//
// Mutations are serialized. Each one computes the next state from the
// current one, writes the full snapshot to the blob store and installs the
// new state only once the write succeeded. A failed write leaves the cart
// as it was and returns the error.
type CartStore struct {
	mu     sync.RWMutex
	lines  domain.Lines
	blobs  blob.Store
	key    string
	logger *slog.Logger
	tracer trace.Tracer
}

// Open creates a CartStore persisted under key and loads its state. An empty
// key selects blob.DefaultKey. A missing or unreadable snapshot yields an
// empty cart; a failure to reach the blob store is returned.
func Open(ctx context.Context, blobs blob.Store, key string, log *slog.Logger) (*CartStore, error) {
	if key == "" {
		key = blob.DefaultKey
	}
	if log == nil {
		log = slog.Default()
	}

	s := &CartStore{
		blobs:  blobs,
		key:    key,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}

	lines, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.lines = lines
	return s, nil
}

// Key returns the blob key this cart is persisted under.
func (s *CartStore) Key() string {
	return s.key
}

// Mutation is one cart change, applied with Apply.
type Mutation struct {
	op     string
	itemID string
	apply  func(domain.Lines) (domain.Lines, error)
}

// Op returns the operation name of the mutation.
func (m Mutation) Op() string {
	return m.op
}

// AddItemMutation adds quantity units of item. An item already in the cart
// only has its quantity increased; its name, price and image stay as first
// added. Items without an id or name, prices that are not finite and
// quantities below one are rejected, as is a merge that would overflow the
// line quantity.
func AddItemMutation(item domain.Item, quantity int) Mutation {
	return Mutation{op: OpAddItem, itemID: item.ID, apply: func(cur domain.Lines) (domain.Lines, error) {
		if err := validator.Validate(item); err != nil {
			return nil, apperrors.InvalidInput(err.Error())
		}
		if math.IsNaN(item.Price) || math.IsInf(item.Price, 0) {
			return nil, apperrors.InvalidInput("field 'price' must be a finite number")
		}
		if quantity < 1 {
			return nil, apperrors.InvalidInput("field 'quantity' must be greater than or equal to 1")
		}
		if err := cur.CheckAdd(item.ID, quantity); err != nil {
			return nil, apperrors.InvalidInput(fmt.Sprintf("adding %d to item '%s' exceeds the maximum quantity", quantity, item.ID))
		}
		return cur.Add(item, quantity), nil
	}}
}

// RemoveItemMutation drops the line with the given id. Unknown ids leave the
// cart unchanged.
func RemoveItemMutation(id string) Mutation {
	return Mutation{op: OpRemoveItem, itemID: id, apply: func(cur domain.Lines) (domain.Lines, error) {
		return cur.Remove(id), nil
	}}
}

// UpdateQuantityMutation sets the quantity of the line with the given id in
// place. A quantity of zero or less is a RemoveItemMutation.
func UpdateQuantityMutation(id string, quantity int) Mutation {
	if quantity <= 0 {
		return RemoveItemMutation(id)
	}
	return Mutation{op: OpUpdateQuantity, itemID: id, apply: func(cur domain.Lines) (domain.Lines, error) {
		return cur.SetQuantity(id, quantity), nil
	}}
}

// ClearCartMutation empties the cart.
func ClearCartMutation() Mutation {
	return Mutation{op: OpClearCart, apply: func(domain.Lines) (domain.Lines, error) {
		return domain.Lines{}, nil
	}}
}

// AddItem applies AddItemMutation and returns item.ID.
func (s *CartStore) AddItem(ctx context.Context, item domain.Item, quantity int) (string, error) {
	if _, err := s.Apply(ctx, AddItemMutation(item, quantity)); err != nil {
		return "", err
	}
	return item.ID, nil
}

// RemoveItem applies RemoveItemMutation.
func (s *CartStore) RemoveItem(ctx context.Context, id string) error {
	_, err := s.Apply(ctx, RemoveItemMutation(id))
	return err
}

// UpdateQuantity applies UpdateQuantityMutation.
func (s *CartStore) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	_, err := s.Apply(ctx, UpdateQuantityMutation(id, quantity))
	return err
}

// ClearCart applies ClearCartMutation.
func (s *CartStore) ClearCart(ctx context.Context) error {
	_, err := s.Apply(ctx, ClearCartMutation())
	return err
}

// TotalPrice returns the sum of price times quantity over all lines.
func (s *CartStore) TotalPrice() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lines.TotalPrice()
}

// TotalItems returns the number of units in the cart.
func (s *CartStore) TotalItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lines.TotalItems()
}

// Items returns a copy of the cart lines in insertion order.
func (s *CartStore) Items() []domain.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lines.Clone()
}

// Reload replaces the in-memory cart with the persisted snapshot.
func (s *CartStore) Reload(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "CartStore.Reload",
		trace.WithAttributes(attribute.String("cart.key", s.key)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.lines = lines
	return nil
}

// Apply runs m under the write lock and commits the result only after it
// has been persisted. It returns a copy of the lines it committed, which no
// concurrent mutation can change.
func (s *CartStore) Apply(ctx context.Context, m Mutation) (domain.Lines, error) {
	if m.apply == nil {
		return nil, apperrors.InvalidInput("empty cart mutation")
	}

	ctx, span := s.tracer.Start(ctx, "CartStore."+m.op,
		trace.WithAttributes(
			attribute.String("cart.key", s.key),
			attribute.String("cart.item_id", m.itemID),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := m.apply(s.lines)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.persist(ctx, m.op, next); err != nil {
		persistFailuresTotal.WithLabelValues(m.op).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithContext(ctx, s.logger).ErrorContext(ctx, "cart mutation rolled back",
			slog.String("operation", m.op),
			slog.String("key", s.key),
			slog.String("item_id", m.itemID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.lines = next
	mutationsTotal.WithLabelValues(m.op).Inc()
	span.SetAttributes(attribute.Int("cart.total_items", next.TotalItems()))

	logger.WithContext(ctx, s.logger).InfoContext(ctx, "cart updated",
		slog.String("operation", m.op),
		slog.String("key", s.key),
		slog.String("item_id", m.itemID),
		slog.Int("lines", len(next)),
		slog.Int("total_items", next.TotalItems()),
	)
	return next.Clone(), nil
}

func (s *CartStore) persist(ctx context.Context, op string, lines domain.Lines) error {
	data, err := encodeSnapshot(lines)
	if err != nil {
		return apperrors.Internal(err)
	}

	start := time.Now()
	err = s.blobs.Set(ctx, s.key, data)
	persistDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("persist cart %s: %w", s.key, err)
	}
	return nil
}

func (s *CartStore) load(ctx context.Context) (domain.Lines, error) {
	log := logger.WithContext(ctx, s.logger)

	data, err := s.blobs.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.Lines{}, nil
		}
		return nil, fmt.Errorf("load cart %s: %w", s.key, err)
	}

	lines, dropped, err := decodeSnapshot(data)
	if err != nil {
		log.WarnContext(ctx, "discarding unreadable cart snapshot",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
		)
		return domain.Lines{}, nil
	}
	if dropped > 0 {
		log.WarnContext(ctx, "normalized cart snapshot",
			slog.String("key", s.key),
			slog.Int("dropped_lines", dropped),
		)
	}
	return lines, nil
}
