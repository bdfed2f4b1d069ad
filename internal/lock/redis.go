package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/objectfs/clouddrive/pkg/types"
)

// releaseScript deletes the key only while it still carries our token
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisClient is the subset of *redis.Client the lock needs
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisConfig configures a Redis lock
type RedisConfig struct {
	KeyPrefix     string
	TTL           time.Duration
	RetryInterval time.Duration
}

// Redis is a lease based distributed lock. Each acquisition stores a random token with
// SET NX PX; release deletes the key only if the token still matches, so an expired lease
// taken over by another replica is never released by the previous holder.
type Redis struct {
	client RedisClient
	config RedisConfig
	opts   Options
	logger *slog.Logger
}

var _ types.PathLocker = (*Redis)(nil)

// NewRedisOptions builds client options from connection settings
func NewRedisOptions(addr, password string, db int) *redis.Options {
	if addr == "" {
		addr = "localhost:6379"
	}
	return &redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
}

// Connect opens a client and verifies it with PING
func Connect(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewRedis creates a distributed locker on client
func NewRedis(client RedisClient, cfg RedisConfig, opts Options) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		config: cfg,
		opts:   opts,
		logger: logger.With("component", "path-lock", "backend", "redis"),
	}
}

// Lock acquires every key and returns a function releasing them all
func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	token := uuid.NewString()
	start := time.Now()

	waitCtx, cancel := withWaitTimeout(ctx, r.opts.WaitTimeout)
	defer cancel()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := r.acquire(waitCtx, r.config.KeyPrefix+key, token); err != nil {
			r.release(context.WithoutCancel(ctx), held, token)
			recordWait(r.opts.Recorder, "redis", start, false)
			r.logger.Warn("lock wait expired", "key", key, "waited", time.Since(start), "error", err)
			return nil, timeoutError(key, err)
		}
		held = append(held, r.config.KeyPrefix+key)
	}

	recordWait(r.opts.Recorder, "redis", start, true)
	var once sync.Once
	return func() {
		once.Do(func() { r.release(context.WithoutCancel(ctx), held, token) })
	}, nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.config.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.config.TTL).Result()
		if err != nil {
			return fmt.Errorf("SET NX %s: %w", key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Redis) release(ctx context.Context, keys []string, token string) {
	for i := len(keys) - 1; i >= 0; i-- {
		if err := r.client.Eval(ctx, releaseScript, []string{keys[i]}, token).Err(); err != nil {
			// The lease still expires after TTL.
			r.logger.Error("failed to release lock", "key", keys[i], "error", err)
		}
	}
}
