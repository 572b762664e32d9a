package identity

import (
	"context"
	"strings"
	"time"

	"aegisx/internal/config"
	"aegisx/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const loginThrottlePrefix = "auth:login-attempts:"

// LoginThrottle limits authentication attempts per subject.
type LoginThrottle interface {
	// Allow reports whether another attempt is permitted for key.
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLoginThrottle counts attempts in a fixed window shared across
// instances.
type RedisLoginThrottle struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLoginThrottle(rdb *redis.Client, cfg config.ThrottleConfig) *RedisLoginThrottle {
	return &RedisLoginThrottle{
		rdb:    rdb,
		limit:  cfg.LoginMaxAttempts,
		window: cfg.LoginWindow,
	}
}

func (t *RedisLoginThrottle) Allow(ctx context.Context, key string) (bool, error) {
	return utils.FixedWindowAllow(ctx, t.rdb, loginThrottlePrefix+strings.ToLower(key), t.limit, t.window)
}
