package usecases

import (
	"context"
	"strings"

	"metamarket.backend/internal/domain/repositories"
	domainerrors "metamarket.backend/internal/domain/errors"
)

// StateTracker records which products already had funds bridged, per buyer
type StateTracker struct {
	store repositories.BridgedStore
}

func NewStateTracker(store repositories.BridgedStore) *StateTracker {
	return &StateTracker{store: store}
}

// SessionKey normalizes a session key, falling back to the buyer address
func SessionKey(session, buyer string) string {
	key := strings.ToLower(strings.TrimSpace(session))
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(buyer))
	}
	return key
}

// BridgedScope is the key bridged marks are stored under. Bridged funds sit in
// the buyer's account, so every session of one buyer shares the marks.
func BridgedScope(buyer string) string {
	return strings.ToLower(strings.TrimSpace(buyer))
}

func (t *StateTracker) MarkBridged(ctx context.Context, session string, productID uint64) error {
	if err := t.store.MarkBridged(ctx, session, productID); err != nil {
		return domainerrors.InternalError(err)
	}
	return nil
}

func (t *StateTracker) IsBridged(ctx context.Context, session string, productID uint64) (bool, error) {
	bridged, err := t.store.IsBridged(ctx, session, productID)
	if err != nil {
		return false, domainerrors.ReadFailure("failed to read bridged state", err)
	}
	return bridged, nil
}

func (t *StateTracker) Clear(ctx context.Context, session string, productID uint64) error {
	if err := t.store.Clear(ctx, session, productID); err != nil {
		return domainerrors.InternalError(err)
	}
	return nil
}
