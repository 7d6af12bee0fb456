package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

const (
	valueReserved = "reserved"
	valueSeen     = "seen"

	defaultTTL = 24 * time.Hour
)

// compareAndSet replaces KEYS[1] with ARGV[2] only when it holds ARGV[1].
// An empty ARGV[2] deletes the key.
const compareAndSet = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  if ARGV[2] == "" then
    redis.call("DEL", KEYS[1])
  else
    redis.call("SET", KEYS[1], ARGV[2], "KEEPTTL")
  end
  return 1
end
return 0
`

// RedisClient is the subset of the go-redis client the index needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisIndex shares one dedup index across processes. Keys are namespaced
// per run and expire after ttl.
type RedisIndex struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisIndex returns an index storing keys under "<prefix>:<runID>:".
func NewRedisIndex(client RedisClient, prefix, runID string, ttl time.Duration) *RedisIndex {
	if prefix == "" {
		prefix = "shelfscan:dedup"
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisIndex{client: client, prefix: prefix + ":" + runID + ":", ttl: ttl}
}

func (r *RedisIndex) key(fingerprint string) string {
	return r.prefix + fingerprint
}

// State reads the current state.
func (r *RedisIndex) State(ctx context.Context, fingerprint string) (crawler.IdentityState, error) {
	v, err := r.client.Get(ctx, r.key(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return crawler.IdentityUnseen, nil
	}
	if err != nil {
		return crawler.IdentityUnseen, fmt.Errorf("redis get identity: %w", err)
	}
	switch v {
	case valueReserved:
		return crawler.IdentityReserved, nil
	case valueSeen:
		return crawler.IdentitySeen, nil
	}
	return crawler.IdentityUnseen, nil
}

// Reserve moves unseen to reserved.
func (r *RedisIndex) Reserve(ctx context.Context, fingerprint string) (bool, error) {
	return r.setIfAbsent(ctx, fingerprint, valueReserved)
}

// Claim moves unseen straight to seen.
func (r *RedisIndex) Claim(ctx context.Context, fingerprint string) (bool, error) {
	return r.setIfAbsent(ctx, fingerprint, valueSeen)
}

// Complete moves reserved to seen.
func (r *RedisIndex) Complete(ctx context.Context, fingerprint string) (bool, error) {
	return r.cas(ctx, fingerprint, valueReserved, valueSeen)
}

// Release drops a reservation.
func (r *RedisIndex) Release(ctx context.Context, fingerprint string) error {
	_, err := r.cas(ctx, fingerprint, valueReserved, "")
	return err
}

func (r *RedisIndex) setIfAbsent(ctx context.Context, fingerprint, value string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(fingerprint), value, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx identity: %w", err)
	}
	return ok, nil
}

func (r *RedisIndex) cas(ctx context.Context, fingerprint, from, to string) (bool, error) {
	n, err := r.client.Eval(ctx, compareAndSet, []string{r.key(fingerprint)}, from, to).Int64()
	if err != nil {
		return false, fmt.Errorf("redis cas identity: %w", err)
	}
	return n == 1, nil
}
