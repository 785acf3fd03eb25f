package lease

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisManager implements tracker leasing using Redis/Valkey.
type RedisManager struct {
	client redis.Cmdable
	prefix string
}

func NewRedisManager(client redis.Cmdable, prefix string) *RedisManager {
	if prefix == "" {
		prefix = "seqtracker:lease"
	}
	return &RedisManager{
		client: client,
		prefix: prefix,
	}
}

func (m *RedisManager) Acquire(ctx context.Context, trackerName, owner string, ttl time.Duration) (Lease, bool, error) {
	key := m.key(trackerName)
	ok, err := m.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{
		client: m.client,
		key:    key,
		owner:  owner,
	}, true, nil
}

func (m *RedisManager) key(trackerName string) string {
	return m.prefix + ":" + trackerName
}

type redisLease struct {
	client redis.Cmdable
	key    string
	owner  string
}

func (l *redisLease) Renew(ctx context.Context, ttl time.Duration) error {
	res, err := renewScript.Run(ctx, l.client, []string{l.key}, l.owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotOwned
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotOwned
	}
	return nil
}
