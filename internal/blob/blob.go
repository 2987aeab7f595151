package blob

import "context"

// DefaultKey is the storage name a single cart is persisted under.
const DefaultKey = "cart-storage"

// Store is the key-value persistence a cart snapshot is written to.
type Store interface {
	// Get returns the value stored under key. A missing key yields an error
	// matching apperrors.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set overwrites the value stored under key.
	Set(ctx context.Context, key string, value []byte) error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}
