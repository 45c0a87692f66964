package gpulock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Values are compared byte-for-byte, so the backend remembers the encoded
// value it wrote for each owner.
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// RedisBackend stores the lease under one key with SET NX PX, so any process
// that can reach the server shares the lock.
type RedisBackend struct {
	client redis.UniversalClient
	key    string

	mu     sync.Mutex
	values map[string]string
}

// NewRedisBackend returns a backend using client and key.
func NewRedisBackend(client redis.UniversalClient, key string) *RedisBackend {
	return &RedisBackend{client: client, key: key, values: make(map[string]string)}
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Expiring() bool { return true }

func (r *RedisBackend) TryAcquire(ctx context.Context, holder Holder, ttl time.Duration) (bool, error) {
	holder.ExpiresAt = time.Now().Add(ttl)
	data, err := json.Marshal(holder)
	if err != nil {
		return false, fmt.Errorf("encode lease: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key, string(data), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", r.key, err)
	}
	if ok {
		r.mu.Lock()
		r.values[holder.Owner] = string(data)
		r.mu.Unlock()
	}
	return ok, nil
}

func (r *RedisBackend) Renew(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	value, ok := r.value(owner)
	if !ok {
		return false, nil
	}
	n, err := renewScript.Run(ctx, r.client, []string{r.key}, value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis renew %s: %w", r.key, err)
	}
	return n == 1, nil
}

func (r *RedisBackend) Release(ctx context.Context, owner string) (bool, error) {
	value, ok := r.value(owner)
	if !ok {
		return false, nil
	}
	n, err := releaseScript.Run(ctx, r.client, []string{r.key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("redis release %s: %w", r.key, err)
	}
	r.mu.Lock()
	delete(r.values, owner)
	r.mu.Unlock()
	return n == 1, nil
}

func (r *RedisBackend) Current(ctx context.Context) (Holder, bool, error) {
	data, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	var holder Holder
	if err := json.Unmarshal([]byte(data), &holder); err != nil {
		return Holder{}, false, fmt.Errorf("decode lease: %w", err)
	}
	if ttl, err := r.client.PTTL(ctx, r.key).Result(); err == nil && ttl > 0 {
		holder.ExpiresAt = time.Now().Add(ttl)
	}
	return holder, true, nil
}

func (r *RedisBackend) value(owner string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[owner]
	return v, ok
}
