package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChecker reports whether a Redis connection answers PING. It is used
// for both the vault and inventory backing stores.
type RedisChecker struct {
	name   string
	client *redis.Client
}

// NewRedisChecker builds a Checker around an existing client. name
// distinguishes multiple Redis checkers in one process (e.g. "vault",
// "inventory") in the Message field of a failing Result.
func NewRedisChecker(name string, client *redis.Client) *RedisChecker {
	return &RedisChecker{name: name, client: client}
}

func (c *RedisChecker) Type() CheckType { return CheckTypeRedis }

func (c *RedisChecker) Check(ctx context.Context) Result {
	start := time.Now()
	err := c.client.Ping(ctx).Err()
	result := Result{
		CheckedAt: start,
		Duration:  time.Since(start),
		Healthy:   err == nil,
	}
	if err != nil {
		result.Message = c.name + ": " + err.Error()
	} else {
		result.Message = c.name + ": ok"
	}
	return result
}
