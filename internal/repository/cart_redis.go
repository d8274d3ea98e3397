package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

// CartTTL задаёт время жизни корзины с момента последнего изменения.
const CartTTL = 7 * 24 * time.Hour

const cartKeyPrefix = "digibite:cart:"

// cartCmdable описывает подмножество команд Redis, нужное хранилищу корзин.
type cartCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCartStore хранит корзины пользователей в Redis в виде JSON.
type RedisCartStore struct {
	rdb cartCmdable
	ttl time.Duration
}

// NewRedisCartStore создаёт хранилище корзин поверх клиента Redis.
func NewRedisCartStore(rdb cartCmdable) *RedisCartStore {
	return &RedisCartStore{rdb: rdb, ttl: CartTTL}
}

func cartKey(userID uuid.UUID) string {
	return cartKeyPrefix + userID.String()
}

// GetCart возвращает корзину пользователя. Отсутствующая корзина возвращается пустой.
func (s *RedisCartStore) GetCart(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	data, err := s.rdb.Get(ctx, cartKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.NewCart(userID), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	var cart model.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	cart.UserID = userID
	return &cart, nil
}

// SaveCart сохраняет корзину и продлевает её срок жизни. Пустая корзина удаляется.
func (s *RedisCartStore) SaveCart(ctx context.Context, cart *model.Cart) error {
	if len(cart.Items) == 0 {
		return s.DeleteCart(ctx, cart.UserID)
	}

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.rdb.Set(ctx, cartKey(cart.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// DeleteCart удаляет корзину пользователя.
func (s *RedisCartStore) DeleteCart(ctx context.Context, userID uuid.UUID) error {
	if err := s.rdb.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
