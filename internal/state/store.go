package state

import "context"

// Store is the key/value persistence used for paper state and operator
// requests. Set must replace a value atomically.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
