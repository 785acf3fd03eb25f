package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// conditionalPutScript evaluates a disjunction of clauses against the hash at
// KEYS[1] and writes name/sequenceNumber when any clause holds.
// ARGV: name, sequenceNumber, then (op, attr, value) triples. Numbers are
// compared as decimal strings since Lua numbers lose int64 precision.
var conditionalPutScript = redis.NewScript(`
local function less(a, b)
	local an = string.sub(a, 1, 1) == "-"
	local bn = string.sub(b, 1, 1) == "-"
	if an ~= bn then
		return an
	end
	if an then
		a, b = string.sub(b, 2), string.sub(a, 2)
	end
	if #a ~= #b then
		return #a < #b
	end
	return a < b
end

local key = KEYS[1]
local ok = false
local i = 3
while i <= #ARGV do
	local op = ARGV[i]
	local attr = ARGV[i + 1]
	local value = ARGV[i + 2]
	if op == "nx" then
		if redis.call("HEXISTS", key, attr) == 0 then
			ok = true
		end
	elseif op == "lt" then
		local cur = redis.call("HGET", key, attr)
		if cur and less(cur, value) then
			ok = true
		end
	end
	if ok then
		break
	end
	i = i + 3
end
if not ok then
	return 0
end
redis.call("HSET", key, "name", ARGV[1], "sequenceNumber", ARGV[2])
return 1
`)

type RedisStore struct {
	client redis.Cmdable
	prefix string
	table  string
}

// NewRedisStore stores each record as a hash under prefix:table:name. The
// default prefix keeps tables apart from the lease keyspace.
func NewRedisStore(client redis.Cmdable, prefix, table string) *RedisStore {
	if prefix == "" {
		prefix = "seqtracker:table"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		table:  table,
	}
}

func (s *RedisStore) Table() string {
	return s.table
}

func (s *RedisStore) EnsureTable(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, name string) (Record, bool, error) {
	val, err := s.client.HGet(ctx, s.key(name), AttrSequenceNumber).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	seq, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return Record{}, false, fmt.Errorf("decode record %s: %w", name, err)
	}
	return Record{Name: name, SequenceNumber: seq}, true, nil
}

func (s *RedisStore) ConditionalPut(ctx context.Context, rec Record, cond Condition) error {
	args := []interface{}{rec.Name, rec.SequenceNumber}
	for _, cl := range cond.Clauses() {
		switch cl.Op {
		case OpNotExists:
			args = append(args, "nx", cl.Attr, 0)
		case OpLessThan:
			args = append(args, "lt", cl.Attr, cl.Value)
		default:
			return fmt.Errorf("unsupported condition %s", cl.Op)
		}
	}

	res, err := conditionalPutScript.Run(ctx, s.client, []string{s.key(rec.Name)}, args...).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrPreconditionFailed
	}
	return nil
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	return s.client.HSet(ctx, s.key(rec.Name), AttrName, rec.Name, AttrSequenceNumber, rec.SequenceNumber).Err()
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + s.table + ":" + name
}
