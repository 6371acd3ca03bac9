package service

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

const redisAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type redisRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
	logger *zap.Logger
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// NewRedisRateLimiter usa una ventana fija por clave. Si Redis falla deja
// pasar el request.
func NewRedisRateLimiter(client *redis.Client, window time.Duration, max int, logger *zap.Logger) RateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "relay:rl:",
		logger: logger,
	}
}

func (l *redisRateLimiter) Allow(key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalizedKey := strings.ToLower(strings.TrimSpace(key))
	if normalizedKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 60
	}
	count, err := l.client.Eval(ctx, redisAllowScript, []string{l.redisKey(normalizedKey)}, seconds).Int()
	if err != nil {
		l.logger.Warn("rate limiter redis error", zap.Error(err))
		return true
	}
	return count <= l.max
}

// redisKey evita guardar ids o emails en claro.
func (l *redisRateLimiter) redisKey(normalizedKey string) string {
	sum := blake2b.Sum256([]byte(normalizedKey))
	return l.prefix + hex.EncodeToString(sum[:16])
}
