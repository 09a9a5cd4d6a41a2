package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// BridgedSessionStore records, per session, the products whose funds have already
// been bridged to the product's chain. Each session is a Redis set that expires
// after the configured TTL of inactivity.
type BridgedSessionStore struct {
	prefix string
	ttl    time.Duration
}

var (
	addSessionMember    = SAdd
	isSessionMember     = SIsMember
	removeSessionMember = SRem
)

// NewBridgedSessionStore creates a new session-scoped bridged store
func NewBridgedSessionStore(prefix string, ttl time.Duration) (*BridgedSessionStore, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("key prefix is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must not be negative")
	}
	return &BridgedSessionStore{prefix: prefix, ttl: ttl}, nil
}

// MarkBridged adds the product to the session's bridged set
func (s *BridgedSessionStore) MarkBridged(ctx context.Context, session string, productID uint64) error {
	return addSessionMember(ctx, s.key(session), s.ttl, strconv.FormatUint(productID, 10))
}

// IsBridged reports whether the product is in the session's bridged set
func (s *BridgedSessionStore) IsBridged(ctx context.Context, session string, productID uint64) (bool, error) {
	return isSessionMember(ctx, s.key(session), strconv.FormatUint(productID, 10))
}

// Clear removes the product from the session's bridged set
func (s *BridgedSessionStore) Clear(ctx context.Context, session string, productID uint64) error {
	return removeSessionMember(ctx, s.key(session), strconv.FormatUint(productID, 10))
}

func (s *BridgedSessionStore) key(session string) string {
	return s.prefix + ":" + strings.ToLower(strings.TrimSpace(session))
}
