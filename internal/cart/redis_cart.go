package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"aisla/backend/internal/domain"
)

const cartTTL = 24 * time.Hour

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisCartKey(storeID string, username string) string {
	return fmt.Sprintf("cart:%s:%s", storeID, username)
}

func (s *RedisStore) Get(ctx context.Context, storeID string, username string) (*domain.Cart, bool, error) {
	val, err := s.client.Get(ctx, redisCartKey(storeID, username)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var cart domain.Cart
	if err := json.Unmarshal([]byte(val), &cart); err != nil {
		return nil, false, err
	}
	return &cart, true, nil
}

func (s *RedisStore) Save(ctx context.Context, cart domain.Cart) error {
	cart.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisCartKey(cart.StoreID, cart.Username), payload, cartTTL).Err()
}

func (s *RedisStore) Clear(ctx context.Context, storeID string, username string) error {
	return s.client.Del(ctx, redisCartKey(storeID, username)).Err()
}
