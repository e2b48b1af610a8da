// Package queue keeps the per-provider waiting lists in Redis. Appends and
// removals run as Lua scripts so concurrent joins are serialized by Redis.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/model"
)

// KEYS: list, members, index. ARGV: customer, encoded entry, provider.
// Returns the list length after the push, or -1 when already queued. A
// replay of the same encoded entry returns the entry's current position so
// that a client-side retry after a lost reply is not reported as a duplicate.
const joinScript = `
local held = redis.call('HGET', KEYS[2], ARGV[1])
if held then
	if held == ARGV[2] then
		local p = redis.call('LPOS', KEYS[1], held)
		if p then
			return p + 1
		end
	end
	return -1
end
local n = redis.call('RPUSH', KEYS[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[3])
return n
`

// KEYS: list, members, index. ARGV: customer, provider.
const leaveScript = `
local e = redis.call('HGET', KEYS[2], ARGV[1])
if not e then
	return 0
end
redis.call('LREM', KEYS[1], 1, e)
redis.call('HDEL', KEYS[2], ARGV[1])
if redis.call('LLEN', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[3], ARGV[2])
end
return 1
`

// KEYS: list, members, index. ARGV: provider, then customer and encoded
// entry pairs. A pair is removed only while the member still maps to that
// exact entry, so a customer who rejoined since the snapshot keeps the new
// place.
const clearScript = `
local removed = 0
for i = 2, #ARGV, 2 do
	if redis.call('HGET', KEYS[2], ARGV[i]) == ARGV[i + 1] then
		redis.call('LREM', KEYS[1], 1, ARGV[i + 1])
		redis.call('HDEL', KEYS[2], ARGV[i])
		removed = removed + 1
	end
end
if redis.call('LLEN', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[3], ARGV[1])
end
return removed
`

// KEYS: list, members. ARGV: customer. Returns the 1-based position or 0.
const positionScript = `
local e = redis.call('HGET', KEYS[2], ARGV[1])
if not e then
	return 0
end
local p = redis.call('LPOS', KEYS[1], e)
if not p then
	return 0
end
return p + 1
`

// Store is the queue store contract.
type Store interface {
	Join(ctx context.Context, providerID int64, customerID string) (int, error)
	Length(ctx context.Context, providerID int64) (int, error)
	Leave(ctx context.Context, providerID int64, customerID string) (bool, error)
	Entries(ctx context.Context, providerID int64) ([]model.QueueEntry, error)
	Position(ctx context.Context, providerID int64, customerID string) (int, bool, error)
	ClearStale(ctx context.Context, providerID int64, olderThan time.Duration) (int, error)
	Providers(ctx context.Context) ([]int64, error)
	Reset(ctx context.Context, providerID int64) error
}

// entry is the stored form of a queue member. Token makes every join's
// encoding unique.
type entry struct {
	CustomerID string `msgpack:"c"`
	JoinedAt   int64  `msgpack:"t"`
	Token      string `msgpack:"k"`
}

// storedEntry is a decoded entry together with its exact stored bytes.
type storedEntry struct {
	entry
	raw string
}

// RedisStore implements Store on a go-redis client.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a queue store whose keys start with prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

// WithClock replaces the time source used for joined_at and stale cutoffs.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) listKey(providerID int64) string {
	return fmt.Sprintf("%squeue:%d", s.prefix, providerID)
}

func (s *RedisStore) membersKey(providerID int64) string {
	return fmt.Sprintf("%squeue:%d:members", s.prefix, providerID)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "queue:index"
}

func unavailable(op string, providerID int64, err error) error {
	return fmt.Errorf("%s queue %d: %w: %v", op, providerID, apperr.ErrQueueStoreUnavailable, err)
}

// Join appends the customer and returns the queue length right after the
// append, which is the customer's position at join time.
func (s *RedisStore) Join(ctx context.Context, providerID int64, customerID string) (int, error) {
	data, err := msgpack.Marshal(entry{CustomerID: customerID, JoinedAt: s.now().UnixMilli(), Token: uuid.NewString()})
	if err != nil {
		return 0, fmt.Errorf("encode queue entry: %w", err)
	}
	return s.appendEntry(ctx, providerID, customerID, data)
}

func (s *RedisStore) appendEntry(ctx context.Context, providerID int64, customerID string, data []byte) (int, error) {
	n, err := s.rdb.Eval(ctx, joinScript,
		[]string{s.listKey(providerID), s.membersKey(providerID), s.indexKey()},
		customerID, data, providerID,
	).Int()
	if err != nil {
		return 0, unavailable("join", providerID, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("customer %s in queue %d: %w", customerID, providerID, apperr.ErrAlreadyQueued)
	}
	return n, nil
}

// Length returns the number of waiting customers.
func (s *RedisStore) Length(ctx context.Context, providerID int64) (int, error) {
	n, err := s.rdb.LLen(ctx, s.listKey(providerID)).Result()
	if err != nil {
		return 0, unavailable("length", providerID, err)
	}
	return int(n), nil
}

// Leave removes the customer. Remaining entries keep their stored order.
func (s *RedisStore) Leave(ctx context.Context, providerID int64, customerID string) (bool, error) {
	n, err := s.rdb.Eval(ctx, leaveScript,
		[]string{s.listKey(providerID), s.membersKey(providerID), s.indexKey()},
		customerID, providerID,
	).Int()
	if err != nil {
		return false, unavailable("leave", providerID, err)
	}
	return n == 1, nil
}

// Entries returns the queue in insertion order with positions 1..N.
func (s *RedisStore) Entries(ctx context.Context, providerID int64) ([]model.QueueEntry, error) {
	stored, err := s.snapshot(ctx, providerID)
	if err != nil {
		return nil, err
	}

	entries := make([]model.QueueEntry, 0, len(stored))
	for i, e := range stored {
		entries = append(entries, model.QueueEntry{
			ProviderID: providerID,
			CustomerID: e.CustomerID,
			JoinedAt:   time.UnixMilli(e.JoinedAt).UTC(),
			Position:   i + 1,
		})
	}
	return entries, nil
}

func (s *RedisStore) snapshot(ctx context.Context, providerID int64) ([]storedEntry, error) {
	raw, err := s.rdb.LRange(ctx, s.listKey(providerID), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list", providerID, err)
	}

	stored := make([]storedEntry, 0, len(raw))
	for _, r := range raw {
		var e entry
		if err := msgpack.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode entry in queue %d: %w", providerID, err)
		}
		stored = append(stored, storedEntry{entry: e, raw: r})
	}
	return stored, nil
}

// Position returns the customer's current read-time position.
func (s *RedisStore) Position(ctx context.Context, providerID int64, customerID string) (int, bool, error) {
	p, err := s.rdb.Eval(ctx, positionScript,
		[]string{s.listKey(providerID), s.membersKey(providerID)},
		customerID,
	).Int()
	if err != nil {
		return 0, false, unavailable("position", providerID, err)
	}
	return p, p > 0, nil
}

// ClearStale removes every entry that joined before now-olderThan and
// returns how many were removed. Entries are matched by their stored
// encoding, so a leave and rejoin racing the sweep is never purged.
func (s *RedisStore) ClearStale(ctx context.Context, providerID int64, olderThan time.Duration) (int, error) {
	stored, err := s.snapshot(ctx, providerID)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-olderThan).UnixMilli()
	args := []interface{}{providerID}
	for _, e := range stored {
		if e.JoinedAt < cutoff {
			args = append(args, e.CustomerID, e.raw)
		}
	}
	if len(args) == 1 {
		return 0, nil
	}

	n, err := s.rdb.Eval(ctx, clearScript,
		[]string{s.listKey(providerID), s.membersKey(providerID), s.indexKey()},
		args...,
	).Int()
	if err != nil {
		return 0, unavailable("clear stale", providerID, err)
	}
	return n, nil
}

// Providers lists the providers that currently have a non-empty queue.
func (s *RedisStore) Providers(ctx context.Context) ([]int64, error) {
	members, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list queues: %w: %v", apperr.ErrQueueStoreUnavailable, err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Reset drops the provider's whole queue.
func (s *RedisStore) Reset(ctx context.Context, providerID int64) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.listKey(providerID), s.membersKey(providerID))
		pipe.SRem(ctx, s.indexKey(), providerID)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("reset", providerID, err)
	}
	return nil
}

// Ping checks that Redis answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w: %v", apperr.ErrQueueStoreUnavailable, err)
	}
	return nil
}
