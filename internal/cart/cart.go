package cart

import (
	"context"
	"sync"
	"time"

	"aisla/backend/internal/domain"
)

// Store holds the draft basket a cashier builds up before checkout. Carts
// are scratch state, not part of the fulfillment ledger, so a lost cart is
// an inconvenience and never a correctness problem.
type Store interface {
	Get(ctx context.Context, storeID string, username string) (*domain.Cart, bool, error)
	Save(ctx context.Context, cart domain.Cart) error
	Clear(ctx context.Context, storeID string, username string) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]domain.Cart)}
}

func cartKey(storeID string, username string) string {
	return storeID + "/" + username
}

func (s *MemoryStore) Get(_ context.Context, storeID string, username string) (*domain.Cart, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[cartKey(storeID, username)]
	if !ok {
		return nil, false, nil
	}
	clone := cart
	clone.Items = append([]domain.CartItem(nil), cart.Items...)
	return &clone, true, nil
}

func (s *MemoryStore) Save(_ context.Context, cart domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart.UpdatedAt = time.Now().UTC()
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	s.carts[cartKey(cart.StoreID, cart.Username)] = cart
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, storeID string, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, cartKey(storeID, username))
	return nil
}
