// Package session provides storage backends for refresh tokens.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"semilla/api/internal/store"
)

// TokenData is the payload stored for each refresh token.
type TokenData struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	IsAgent     bool      `json:"is_agent"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedisStore keeps refresh sessions in Redis so restarts and multiple
// API replicas share the same session state.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "refresh:"}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "refresh:"}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveRefreshSession stores a refresh token hash with an expiry matching
// the session lifetime.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	data := TokenData{
		UserID:    userID,
		CreatedAt: time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	if err := s.client.Set(ctx, s.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a refresh token hash to its owner.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	jsonData, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return store.User{}, fmt.Errorf("token not found or expired")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return store.User{}, fmt.Errorf("unmarshal token data: %w", err)
	}

	if data.Role == "" {
		data.Role = "viewer"
	}

	return store.User{
		ID:          data.UserID,
		DisplayName: data.DisplayName,
		Role:        data.Role,
		IsAgent:     data.IsAgent,
	}, nil
}

// RevokeRefreshSession deletes a refresh token.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis reachability, used by the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
