package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnavailable is returned when the shared store cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// Subscription is a handle to a live path subscription.
type Subscription interface {
	Unsubscribe()
}

// Store is the shared mutable tree every backend satisfies. Paths are
// slash-separated ("rooms/ABC123/games"); values are JSON. There are no
// transactions and no ordering guarantees across independent writers beyond
// what Append's generated keys encode.
type Store interface {
	// ReadOnce fetches the current snapshot at path. Returns (nil, nil)
	// when the path is absent.
	ReadOnce(ctx context.Context, path string) (json.RawMessage, error)

	// WriteAtomic replaces the entire subtree at path with value.
	WriteAtomic(ctx context.Context, path string, value any) error

	// Append adds value under path with a fresh generated key and returns
	// the key. Keys are opaque, sortable and monotonically increasing in
	// insertion order.
	Append(ctx context.Context, path string, value any) (string, error)

	// Remove deletes the subtree at path.
	Remove(ctx context.Context, path string) error

	// Subscribe registers fn for snapshots of path. fn is invoked once with
	// the current snapshot and again after every change under path.
	// Callbacks for one subscription are delivered sequentially.
	Subscribe(path string, fn func(json.RawMessage)) (Subscription, error)

	// OnDisconnectRemove asks the store to remove path if this client's
	// connection drops without an explicit leave.
	OnDisconnectRemove(path string) error
}
