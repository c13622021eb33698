// Package session stores open import sessions in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"billdesk/api/internal/importer"
)

var (
	ErrSessionNotFound = errors.New("import session not found or expired")
	ErrSessionBusy     = errors.New("import session has a write in progress")
)

const (
	sessionPrefix = "import:session:"
	lockPrefix    = "import:lock:"
	// lockTTL bounds how long a crashed writer can block a session.
	lockTTL = 2 * time.Minute
)

// RedisStore keeps one JSON document per import session with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed session store
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

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return sessionPrefix + sessionID
}

// Save writes the session and refreshes its expiry.
func (s *RedisStore) Save(ctx context.Context, item importer.ImportSession) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal import session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(item.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save import session: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (importer.ImportSession, error) {
	payload, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return importer.ImportSession{}, ErrSessionNotFound
	}
	if err != nil {
		return importer.ImportSession{}, fmt.Errorf("load import session: %w", err)
	}

	var item importer.ImportSession
	if err := json.Unmarshal(payload, &item); err != nil {
		return importer.ImportSession{}, fmt.Errorf("unmarshal import session: %w", err)
	}
	return item, nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete import session: %w", err)
	}
	return nil
}

// Lock serialises writes against one session. The returned unlock only
// releases the lock it acquired.
func (s *RedisStore) Lock(ctx context.Context, sessionID string) (func(), error) {
	token := uuid.NewString()
	key := lockPrefix + sessionID
	ok, err := s.client.SetNX(ctx, key, token, lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("lock import session: %w", err)
	}
	if !ok {
		return nil, ErrSessionBusy
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, s.client, []string{key}, token).Err()
	}, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
