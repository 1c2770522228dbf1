package treeline

import "context"

// BlockStore is the interface for persisting and fetching immutable,
// content-addressed blocks.  The Link returned by Put is derived
// deterministically from the stored bytes (see LinkOf), so storing the
// same bytes twice yields the same Link and implementations are free
// to deduplicate.
type BlockStore interface {
	// Put makes the given bytes retrievable by their content address.
	Put(ctx context.Context, b []byte) (Link, error)
	// Get retrieves previously stored bytes by their content address.
	Get(ctx context.Context, l Link) ([]byte, error)
}
