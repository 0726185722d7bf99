package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScript replaces KEYS[1] with ARGV[2] only if it still holds ARGV[1].
// ARGV[3] is the TTL in milliseconds, 0 for none.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false or cur ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// incrScript increments KEYS[1] and, when it was just created, sets its TTL
// to ARGV[1] milliseconds (0 for none).
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Redis is a backend on top of a go-redis client. The CAS token is the value
// observed by Gets; the swap is performed atomically by a Lua script.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis backend. All keys are namespaced with prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrScript.Run(ctx, r.client, []string{r.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

func (r *Redis) Gets(ctx context.Context, key string) ([]byte, Token, error) {
	data, err := r.Get(ctx, key)
	if err != nil {
		return nil, Token{}, err
	}
	return data, Token{v: string(data)}, nil
}

func (r *Redis) CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error) {
	old, ok := token.v.(string)
	if !ok {
		return false, nil
	}
	n, err := casScript.Run(ctx, r.client, []string{r.key(key)}, old, value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis cas: %w", err)
	}
	return n == 1, nil
}

func (r *Redis) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
