// Package cooldown remembers until when each source must stay quiet after an alarm.
package cooldown

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/your-org/blipguard/pkg/errors"
)

// Store persists cooldown expiries keyed by source ID.
type Store interface {
	// Load returns the stored expiry, or ok=false when none is active.
	Load(ctx context.Context, sourceID string) (until time.Time, ok bool, err error)
	Save(ctx context.Context, sourceID string, until time.Time) error
	Close() error
}

// RedisConfig configures the redis-backed store.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Config selects the backend.
type Config struct {
	Provider string
	Redis    RedisConfig
}

// New builds the store named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, apperrors.New(apperrors.KindConfig, "cooldown.new", "unsupported cooldown store: "+cfg.Provider)
	}
}

type memoryStore struct {
	mu      sync.RWMutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{expires: make(map[string]time.Time), now: time.Now}
}

func (s *memoryStore) Load(_ context.Context, sourceID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	until, ok := s.expires[sourceID]
	if !ok || !until.After(s.now()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *memoryStore) Save(_ context.Context, sourceID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[sourceID] = until
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (Store, error) {
	if cfg.Addr == "" {
		return nil, apperrors.New(apperrors.KindConfig, "cooldown.redis", "redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperrors.Wrap(apperrors.KindStorage, "cooldown.redis", "redis ping failed", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "guard:cooldown:"
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

func (s *redisStore) key(sourceID string) string {
	return s.prefix + sourceID
}

func (s *redisStore) Load(ctx context.Context, sourceID string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.key(sourceID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apperrors.Wrap(apperrors.KindStorage, "cooldown.load", "redis get", err)
	}

	until, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cooldown expiry %q: %w", raw, err)
	}
	if !until.After(time.Now()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *redisStore) Save(ctx context.Context, sourceID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return s.client.Del(ctx, s.key(sourceID)).Err()
	}
	if err := s.client.Set(ctx, s.key(sourceID), until.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "cooldown.save", "redis set", err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
