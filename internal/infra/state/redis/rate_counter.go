package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// 固定窗口：只有窗口内的第一次计数设置过期时间，INCR 与 PEXPIRE 原子执行
var fixedWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisRateCounter 基于 Redis 的固定窗口计数器，多个实例共享同一计数
type RedisRateCounter struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRateCounter 创建 RedisRateCounter 实例
func NewRedisRateCounter(client *redis.Client, keyPrefix string) *RedisRateCounter {
	if client == nil {
		panic("redis client cannot be nil for RedisRateCounter")
	}
	if keyPrefix == "" {
		keyPrefix = "pp:"
	}
	return &RedisRateCounter{client: client, keyPrefix: keyPrefix}
}

func (r *RedisRateCounter) key(subject string) string {
	return r.keyPrefix + "ratelimit:" + subject
}

// Hit 为 subject 计数一次并返回当前窗口内的计数
func (r *RedisRateCounter) Hit(ctx context.Context, subject string, window time.Duration) (int64, error) {
	key := r.key(subject)
	n, err := fixedWindowScript.Run(ctx, r.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to count %s: %w", key, err)
	}
	return n, nil
}
