package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/cartstore/internal/blob"
	"github.com/utafrali/cartstore/internal/domain"
	"github.com/utafrali/cartstore/internal/event"
	"github.com/utafrali/cartstore/internal/store"
	apperrors "github.com/utafrali/cartstore/pkg/errors"
	"github.com/utafrali/cartstore/pkg/logger"
)

// MaxSessionIDLength bounds the session identifiers accepted from clients.
const MaxSessionIDLength = 128

// openTimeout bounds the blob read that loads a cart shared by concurrent
// requests of one session.
const openTimeout = 10 * time.Second

// AddItemInput holds the parameters for adding an item to a cart. The cart
// store validates it.
type AddItemInput struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Image    string  `json:"image,omitempty"`
	Quantity int     `json:"quantity"`
}

// UpdateQuantityInput holds the parameters for changing a line's quantity.
// Zero or negative values remove the line.
type UpdateQuantityInput struct {
	Quantity int `json:"quantity"`
}

// CartView is a consistent read of one cart.
type CartView struct {
	SessionID  string            `json:"session_id"`
	Items      []domain.CartLine `json:"items"`
	TotalPrice float64           `json:"total_price"`
	TotalItems int               `json:"total_items"`
}

// Config controls the session registry.
type Config struct {
	// KeyPrefix is joined with the session id to form the blob key.
	KeyPrefix string
	// IdleTTL is how long an untouched cart stays in memory.
	IdleTTL time.Duration
	// Capacity caps the number of carts held in memory. 0 means unbounded.
	Capacity uint64
}

// CartService serves one CartStore per session. Stores are opened from the
// blob store on first use and dropped from memory after IdleTTL without
// access; the next access rehydrates them.
type CartService struct {
	blobs     blob.Store
	publisher event.Publisher
	logger    *slog.Logger
	keyPrefix string

	sessions *ttlcache.Cache[string, *store.CartStore]
	opening  singleflight.Group
	running  atomic.Bool
}

// NewCartService creates a new cart service. Call Start to begin evicting
// idle carts and Stop on shutdown.
func NewCartService(blobs blob.Store, publisher event.Publisher, log *slog.Logger, cfg Config) *CartService {
	if publisher == nil {
		publisher = event.Nop{}
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = blob.DefaultKey
	}

	opts := []ttlcache.Option[string, *store.CartStore]{
		ttlcache.WithTTL[string, *store.CartStore](cfg.IdleTTL),
	}
	if cfg.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *store.CartStore](cfg.Capacity))
	}
	sessions := ttlcache.New[string, *store.CartStore](opts...)

	sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *store.CartStore]) {
		log.Debug("cart session evicted",
			slog.String("session_id", item.Key()),
			slog.Int("reason", int(reason)),
		)
	})

	return &CartService{
		blobs:     blobs,
		publisher: publisher,
		logger:    log,
		keyPrefix: cfg.KeyPrefix,
		sessions:  sessions,
	}
}

// Start runs the expiry loop in the background. Calling it again while the
// loop runs has no effect.
func (s *CartService) Start() {
	if s.running.CompareAndSwap(false, true) {
		go s.sessions.Start()
	}
}

// Stop halts the expiry loop. It is safe to call without Start.
func (s *CartService) Stop() {
	if s.running.CompareAndSwap(true, false) {
		s.sessions.Stop()
	}
}

// ActiveSessions returns the number of carts currently held in memory.
func (s *CartService) ActiveSessions() int {
	return s.sessions.Len()
}

// StorageKey returns the blob key of the given session's cart.
func (s *CartService) StorageKey(sessionID string) string {
	return s.keyPrefix + ":" + sessionID
}

// GetCart returns the cart of a session. Unknown sessions get an empty cart.
func (s *CartService) GetCart(ctx context.Context, sessionID string) (*CartView, error) {
	cart, err := s.cart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return newView(sessionID, cart.Items()), nil
}

// AddItem adds an item to the session's cart, merging with an existing line
// of the same id. It returns the line id and the updated cart.
func (s *CartService) AddItem(ctx context.Context, sessionID string, input AddItemInput) (string, *CartView, error) {
	cart, err := s.cart(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}

	item := domain.Item{
		ID:    input.ID,
		Name:  input.Name,
		Price: input.Price,
		Image: input.Image,
	}
	lines, err := cart.Apply(ctx, store.AddItemMutation(item, input.Quantity))
	if err != nil {
		return "", nil, fmt.Errorf("add item: %w", err)
	}

	v := newView(sessionID, lines)
	s.publishUpdated(ctx, store.OpAddItem, v)
	return item.ID, v, nil
}

// UpdateItemQuantity sets the quantity of a line. Zero or negative
// quantities remove it.
func (s *CartService) UpdateItemQuantity(ctx context.Context, sessionID, itemID string, quantity int) (*CartView, error) {
	cart, err := s.cart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m := store.UpdateQuantityMutation(itemID, quantity)
	lines, err := cart.Apply(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("update item quantity: %w", err)
	}

	v := newView(sessionID, lines)
	s.publishUpdated(ctx, m.Op(), v)
	return v, nil
}

// RemoveItem removes a line from the session's cart.
func (s *CartService) RemoveItem(ctx context.Context, sessionID, itemID string) (*CartView, error) {
	cart, err := s.cart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	lines, err := cart.Apply(ctx, store.RemoveItemMutation(itemID))
	if err != nil {
		return nil, fmt.Errorf("remove item: %w", err)
	}

	v := newView(sessionID, lines)
	s.publishUpdated(ctx, store.OpRemoveItem, v)
	return v, nil
}

// ClearCart empties the session's cart.
func (s *CartService) ClearCart(ctx context.Context, sessionID string) error {
	cart, err := s.cart(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := cart.ClearCart(ctx); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	if err := s.publisher.PublishCartCleared(ctx, sessionID); err != nil {
		logger.WithContext(ctx, s.logger).ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// cart returns the session's store, opening it from the blob store on a miss.
// Concurrent misses for one session share a single Open, which runs detached
// from any one caller's cancellation and is bounded by openTimeout.
func (s *CartService) cart(ctx context.Context, sessionID string) (*store.CartStore, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	if len(sessionID) > MaxSessionIDLength {
		return nil, apperrors.InvalidInput(fmt.Sprintf("session id must be at most %d characters", MaxSessionIDLength))
	}

	if item := s.sessions.Get(sessionID); item != nil {
		return item.Value(), nil
	}

	v, err, _ := s.opening.Do(sessionID, func() (any, error) {
		if item := s.sessions.Get(sessionID); item != nil {
			return item.Value(), nil
		}
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openTimeout)
		defer cancel()
		cart, err := store.Open(openCtx, s.blobs, s.StorageKey(sessionID), s.logger)
		if err != nil {
			return nil, err
		}
		s.sessions.Set(sessionID, cart, ttlcache.DefaultTTL)
		return cart, nil
	})
	if err != nil {
		return nil, fmt.Errorf("open cart: %w", err)
	}
	return v.(*store.CartStore), nil
}

func (s *CartService) publishUpdated(ctx context.Context, op string, v *CartView) {
	if err := s.publisher.PublishCartUpdated(ctx, v.SessionID, op, v.Items); err != nil {
		logger.WithContext(ctx, s.logger).ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("error", err.Error()),
		)
	}
}

// newView builds totals from one set of lines so they always agree.
func newView(sessionID string, lines domain.Lines) *CartView {
	return &CartView{
		SessionID:  sessionID,
		Items:      lines,
		TotalPrice: lines.TotalPrice(),
		TotalItems: lines.TotalItems(),
	}
}
