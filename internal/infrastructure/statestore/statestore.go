package statestore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"metamarket.backend/internal/domain/repositories"
	"metamarket.backend/pkg/redis"
)

const (
	KindMemory = "memory"
	KindRedis  = "redis"

	redisKeyPrefix = "metamarket:bridged"
)

// New builds the bridged store named by kind
func New(kind string, ttl time.Duration) (repositories.BridgedStore, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindRedis:
		return redis.NewBridgedSessionStore(redisKeyPrefix, ttl)
	default:
		return nil, fmt.Errorf("unknown bridged store %q", kind)
	}
}

// MemoryStore keeps bridged state for the lifetime of the process
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[uint64]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[uint64]struct{})}
}

func (s *MemoryStore) MarkBridged(_ context.Context, session string, productID uint64) error {
	key := normalize(session)
	s.mu.Lock()
	defer s.mu.Unlock()
	products, ok := s.sessions[key]
	if !ok {
		products = make(map[uint64]struct{})
		s.sessions[key] = products
	}
	products[productID] = struct{}{}
	return nil
}

func (s *MemoryStore) IsBridged(_ context.Context, session string, productID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[normalize(session)][productID]
	return ok, nil
}

func (s *MemoryStore) Clear(_ context.Context, session string, productID uint64) error {
	key := normalize(session)
	s.mu.Lock()
	defer s.mu.Unlock()
	if products, ok := s.sessions[key]; ok {
		delete(products, productID)
		if len(products) == 0 {
			delete(s.sessions, key)
		}
	}
	return nil
}

func normalize(session string) string {
	return strings.ToLower(strings.TrimSpace(session))
}
