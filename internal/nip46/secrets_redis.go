package nip46

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSecrets keeps claimed connect secrets in redis so they stay burned
// across daemon restarts. Claiming is a single SETNX, which preserves the
// exactly-one-winner property across processes too.
type RedisSecrets struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSecrets builds a registry on the given client. Entries are kept
// for ttl; zero keeps them forever, matching never-expiring sessions.
func NewRedisSecrets(client *redis.Client, ttl time.Duration) *RedisSecrets {
	return &RedisSecrets{client: client, ttl: ttl}
}

func (r *RedisSecrets) Claim(ctx context.Context, secret string) (bool, error) {
	return r.client.SetNX(ctx, "nip46:secret:"+secret, "1", r.ttl).Result()
}
