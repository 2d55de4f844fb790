package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisService provides Redis connection and operations
type RedisService struct {
	client *redis.Client
	mu     sync.RWMutex
}

// NewRedisService connects to redisURL and verifies the connection.
func NewRedisService(redisURL string) (*RedisService, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Println("✅ Redis connection established")
	return NewRedisServiceFromClient(client), nil
}

// NewRedisServiceFromClient wraps an existing client.
func NewRedisServiceFromClient(client *redis.Client) *RedisService {
	return &RedisService{client: client}
}

// Client returns the underlying Redis client
func (r *RedisService) Client() *redis.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// Close closes the Redis connection
func (r *RedisService) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if Redis is healthy
func (r *RedisService) Ping(ctx context.Context) error {
	return r.Client().Ping(ctx).Err()
}

// AcquireLock attempts to acquire a distributed lock
// Returns true if lock was acquired, false otherwise
func (r *RedisService) AcquireLock(ctx context.Context, lockKey string, lockValue string, expiration time.Duration) (bool, error) {
	return r.Client().SetNX(ctx, lockKey, lockValue, expiration).Result()
}

// ReleaseLock releases a distributed lock if it's still held by the given value
func (r *RedisService) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	// Lua script to atomically check and delete
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	result, err := script.Run(ctx, r.Client(), []string{lockKey}, lockValue).Int64()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

// FireGuard decides whether this process may deliver a reminder. Claims are keyed by
// reminder id and fire time so a rescheduled reminder can be claimed again.
type FireGuard interface {
	Claim(ctx context.Context, reminderID string, fireAt time.Time) (bool, error)
	Release(ctx context.Context, reminderID string, fireAt time.Time) error
}

// RedisFireGuard claims deliveries with SETNX so that only one instance fires a reminder
// when several share the same store.
type RedisFireGuard struct {
	redis      *RedisService
	instanceID string
	ttl        time.Duration
}

// NewRedisFireGuard creates a guard holding claims for ttl.
func NewRedisFireGuard(redisService *RedisService, instanceID string, ttl time.Duration) *RedisFireGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisFireGuard{redis: redisService, instanceID: instanceID, ttl: ttl}
}

func fireLockKey(reminderID string, fireAt time.Time) string {
	return fmt.Sprintf("reminder-fire:%s:%d", reminderID, fireAt.Unix())
}

// Claim implements FireGuard.
func (g *RedisFireGuard) Claim(ctx context.Context, reminderID string, fireAt time.Time) (bool, error) {
	return g.redis.AcquireLock(ctx, fireLockKey(reminderID, fireAt), g.instanceID, g.ttl)
}

// Release drops a claim held by this instance.
func (g *RedisFireGuard) Release(ctx context.Context, reminderID string, fireAt time.Time) error {
	_, err := g.redis.ReleaseLock(ctx, fireLockKey(reminderID, fireAt), g.instanceID)
	return err
}
