package database

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const tradingEnabledKey = "trading_enabled"

// RedisConfig holds the Redis connection settings
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisClient creates a client. It does not connect until first use.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// RedisSessionStateRepository persists operator toggles in Redis and falls back to an
// in-memory copy while Redis is unreachable.
type RedisSessionStateRepository struct {
	client         *redis.Client
	prefix         string
	logger         zerolog.Logger
	redisAvailable atomic.Bool

	mu     sync.RWMutex
	memory map[string]string
}

// NewRedisSessionStateRepository creates the store. A nil client runs in memory-only mode.
func NewRedisSessionStateRepository(ctx context.Context, client *redis.Client, prefix string, logger zerolog.Logger) *RedisSessionStateRepository {
	repo := &RedisSessionStateRepository{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "session_state").Logger(),
		memory: make(map[string]string),
	}

	if client == nil {
		repo.logger.Info().Msg("No Redis client provided, using in-memory state only")
		return repo
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		repo.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory state")
		return repo
	}
	repo.logger.Info().Msg("Redis connected")
	repo.redisAvailable.Store(true)
	return repo
}

// Available reports whether the last Redis call succeeded
func (r *RedisSessionStateRepository) Available() bool {
	return r.client != nil && r.redisAvailable.Load()
}

// LoadTradingEnabled returns the persisted flag and whether one was found
func (r *RedisSessionStateRepository) LoadTradingEnabled(ctx context.Context) (bool, bool, error) {
	raw, ok := r.get(ctx, tradingEnabledKey)
	if !ok {
		return false, false, nil
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, err
	}
	return enabled, true, nil
}

// SaveTradingEnabled persists the flag. A Redis failure is not an error: the
// in-memory copy is always updated.
func (r *RedisSessionStateRepository) SaveTradingEnabled(ctx context.Context, enabled bool) error {
	r.set(ctx, tradingEnabledKey, strconv.FormatBool(enabled))
	return nil
}

func (r *RedisSessionStateRepository) key(name string) string {
	return r.prefix + name
}

func (r *RedisSessionStateRepository) get(ctx context.Context, name string) (string, bool) {
	if r.Available() {
		val, err := r.client.Get(ctx, r.key(name)).Result()
		switch {
		case err == nil:
			r.remember(name, val)
			return val, true
		case errors.Is(err, redis.Nil):
			return r.recall(name)
		default:
			r.logger.Warn().Err(err).Msg("Redis read failed, using in-memory state")
			r.redisAvailable.Store(false)
		}
	}
	return r.recall(name)
}

func (r *RedisSessionStateRepository) set(ctx context.Context, name, val string) {
	r.remember(name, val)
	if r.client == nil {
		return
	}
	if err := r.client.Set(ctx, r.key(name), val, 0).Err(); err != nil {
		r.logger.Warn().Err(err).Msg("Redis write failed, state kept in memory")
		r.redisAvailable.Store(false)
		return
	}
	r.redisAvailable.Store(true)
}

func (r *RedisSessionStateRepository) remember(name, val string) {
	r.mu.Lock()
	r.memory[name] = val
	r.mu.Unlock()
}

func (r *RedisSessionStateRepository) recall(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.memory[name]
	return val, ok
}
