package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

// MemoryCartStore хранит корзины в памяти процесса. Используется, когда Redis не настроен.
type MemoryCartStore struct {
	mu    sync.Mutex
	carts map[uuid.UUID]model.Cart
}

// NewMemoryCartStore создаёт пустое хранилище корзин.
func NewMemoryCartStore() *MemoryCartStore {
	return &MemoryCartStore{carts: make(map[uuid.UUID]model.Cart)}
}

// GetCart возвращает копию корзины пользователя.
func (s *MemoryCartStore) GetCart(_ context.Context, userID uuid.UUID) (*model.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[userID]
	if !ok {
		return model.NewCart(userID), nil
	}
	cart.Items = append([]model.CartItem(nil), cart.Items...)
	return &cart, nil
}

// SaveCart сохраняет копию корзины. Пустая корзина удаляется.
func (s *MemoryCartStore) SaveCart(_ context.Context, cart *model.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(cart.Items) == 0 {
		delete(s.carts, cart.UserID)
		return nil
	}
	c := *cart
	c.Items = append([]model.CartItem(nil), cart.Items...)
	s.carts[cart.UserID] = c
	return nil
}

// DeleteCart удаляет корзину пользователя.
func (s *MemoryCartStore) DeleteCart(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, userID)
	return nil
}
