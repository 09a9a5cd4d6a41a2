package repositories

import "context"

// BridgedStore tracks, per session, which products already had funds bridged
// to their chain. A bridged product skips straight to finalization.
type BridgedStore interface {
	MarkBridged(ctx context.Context, session string, productID uint64) error
	IsBridged(ctx context.Context, session string, productID uint64) (bool, error)
	Clear(ctx context.Context, session string, productID uint64) error
}
