package state

import "context"

// Store is the durable key-value layer behind position and PnL
// persistence. Keys are namespaced with a "<kind>:" prefix so List can
// enumerate one kind without scanning the rest.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string]string, error)
	Close() error
}
