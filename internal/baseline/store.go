package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the live baseline snapshot for each agent. At most one
// snapshot per agent exists; saving replaces the previous one.
type Store interface {
	// Load returns the agent's baseline, or (nil, nil) when none exists.
	Load(ctx context.Context, agentID string) (*Baseline, error)
	Save(ctx context.Context, b *Baseline) error
	Delete(ctx context.Context, agentID string) error
}

const keyPrefix = "sentinel:baseline:"

// RedisStore keeps baseline snapshots in Redis so a restarted analyzer
// does not have to re-learn every agent from scratch.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds connection settings for the baseline store.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultRedisConfig returns the default Redis connection settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Load(ctx context.Context, agentID string) (*Baseline, error) {
	val, err := s.client.Get(ctx, keyPrefix+agentID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load baseline for %s: %w", agentID, err)
	}

	var b Baseline
	if err := json.Unmarshal([]byte(val), &b); err != nil {
		return nil, fmt.Errorf("failed to decode baseline for %s: %w", agentID, err)
	}
	return &b, nil
}

func (s *RedisStore) Save(ctx context.Context, b *Baseline) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode baseline for %s: %w", b.AgentID, err)
	}
	// No TTL: staleness is surfaced as a diagnostic, not by eviction.
	if err := s.client.Set(ctx, keyPrefix+b.AgentID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save baseline for %s: %w", b.AgentID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, agentID string) error {
	if err := s.client.Del(ctx, keyPrefix+agentID).Err(); err != nil {
		return fmt.Errorf("failed to delete baseline for %s: %w", agentID, err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is an in-process Store used in tests and as a fallback when
// Redis is not configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Baseline
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Baseline)}
}

func (s *MemoryStore) Load(ctx context.Context, agentID string) (*Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.data[agentID]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (s *MemoryStore) Save(ctx context.Context, b *Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *b
	s.data[b.AgentID] = &copied
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, agentID)
	return nil
}
