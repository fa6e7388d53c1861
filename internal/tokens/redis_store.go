// Package tokens provides the live validation-token store. A token is the
// 6-digit code a user must submit to claim a grant; it is single use and
// expires on its own via a Redis TTL.
package tokens

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no live token exists for a grant, either
	// because none was issued, it expired, or it was already consumed.
	ErrNotFound = errors.New("validation token not found")

	// ErrCodeMismatch is returned when a live token exists but the submitted
	// code does not match. The token stays live so the user can retry with
	// the correct code.
	ErrCodeMismatch = errors.New("validation code mismatch")
)

// consumeScript deletes the token only if it still holds the exact value we
// just compared against. A token superseded by a newer authenticate call, or
// consumed by a concurrent validate, leaves the key changed or gone and the
// script reports zero deletions.
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// TokenData holds the data stored for each live validation token.
type TokenData struct {
	Email     string    `json:"email"`
	GrantID   string    `json:"grant_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore implements validation token storage using Redis.
//
// Tokens are keyed per grant, so issuing a new token supersedes any prior
// live token for that grant regardless of email: the stored value carries the
// email the code was issued for, and a claim always binds that email.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed validation token store.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
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

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisStore{
		client: client,
		prefix: "validation:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(grantID string) string {
	return s.prefix + grantID
}

// Create stores a validation token for the grant, superseding any prior live
// token for that grant.
func (s *RedisStore) Create(ctx context.Context, email, grantID, code string) error {
	data := TokenData{
		Email:     email,
		GrantID:   grantID,
		Code:      code,
		CreatedAt: time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	if err := s.client.Set(ctx, s.key(grantID), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("save validation token: %w", err)
	}
	return nil
}

// Consume validates the submitted code against the live token for the grant
// and removes the token on success. A mismatched code leaves the token live
// (ErrCodeMismatch); a matched code removes it atomically, so no two
// concurrent consumers can both succeed.
func (s *RedisStore) Consume(ctx context.Context, grantID, code string) (TokenData, error) {
	raw, err := s.client.Get(ctx, s.key(grantID)).Result()
	if errors.Is(err, redis.Nil) {
		return TokenData{}, ErrNotFound
	}
	if err != nil {
		return TokenData{}, fmt.Errorf("read validation token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return TokenData{}, fmt.Errorf("unmarshal token data: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(data.Code), []byte(code)) != 1 {
		return TokenData{}, ErrCodeMismatch
	}

	deleted, err := consumeScript.Run(ctx, s.client, []string{s.key(grantID)}, raw).Int()
	if err != nil {
		return TokenData{}, fmt.Errorf("consume validation token: %w", err)
	}
	if deleted == 0 {
		// Superseded or consumed between our read and the delete.
		return TokenData{}, ErrNotFound
	}
	return data, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
