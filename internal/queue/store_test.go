package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"shopqueue-backend/internal/apperr"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, "test:"), mr
}

func customerIDs(t *testing.T, s *RedisStore, providerID int64) []string {
	entries, err := s.Entries(context.Background(), providerID)
	require.NoError(t, err)
	ids := make([]string, 0, len(entries))
	for i, e := range entries {
		assert.Equal(t, i+1, e.Position)
		ids = append(ids, e.CustomerID)
	}
	return ids
}

func TestRedisStore_JoinReturnsTailPosition(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	pos, err := s.Join(ctx, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	pos, err = s.Join(ctx, 1, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	n, err := s.Length(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.True(t, mr.Exists("test:queue:1"))
	assert.True(t, mr.Exists("test:queue:1:members"))
	ok, err := mr.SIsMember("test:queue:index", "1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_DuplicateJoinLeavesQueueUnchanged(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Join(ctx, 1, "alice")
	require.NoError(t, err)
	_, err = s.Join(ctx, 1, "bob")
	require.NoError(t, err)

	_, err = s.Join(ctx, 1, "alice")
	assert.ErrorIs(t, err, apperr.ErrAlreadyQueued)

	n, err := s.Length(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"alice", "bob"}, customerIDs(t, s, 1))
}

func TestRedisStore_ConcurrentJoinsGetDistinctPositions(t *testing.T) {
	s, _ := newTestStore(t)
	const n = 50

	positions := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pos, err := s.Join(context.Background(), 7, fmt.Sprintf("customer-%d", i))
			assert.NoError(t, err)
			positions[i] = pos
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for _, p := range positions {
		assert.False(t, seen[p], "position %d handed out twice", p)
		seen[p] = true
	}
	for want := 1; want <= n; want++ {
		assert.True(t, seen[want], "position %d missing", want)
	}

	length, err := s.Length(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, n, length)
}

func TestRedisStore_LeaveNonTailKeepsRelativeOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, c := range []string{"a", "b", "c", "d"} {
		_, err := s.Join(ctx, 3, c)
		require.NoError(t, err)
	}

	removed, err := s.Leave(ctx, 3, "b")
	require.NoError(t, err)
	assert.True(t, removed)

	n, err := s.Length(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "c", "d"}, customerIDs(t, s, 3))

	pos, found, err := s.Position(ctx, 3, "d")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, pos)

	_, found, err = s.Position(ctx, 3, "b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_LeaveUnknownCustomer(t *testing.T) {
	s, _ := newTestStore(t)

	removed, err := s.Leave(context.Background(), 3, "ghost")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRedisStore_LastLeaveDropsIndexEntry(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Join(ctx, 4, "alice")
	require.NoError(t, err)
	ids, err := s.Providers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids)

	_, err = s.Leave(ctx, 4, "alice")
	require.NoError(t, err)
	ids, err = s.Providers(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisStore_ClearStale(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.Add(-30 * time.Hour) }
	_, err := s.Join(ctx, 5, "old-1")
	require.NoError(t, err)
	s.now = func() time.Time { return now.Add(-2 * time.Hour) }
	_, err = s.Join(ctx, 5, "fresh")
	require.NoError(t, err)
	s.now = func() time.Time { return now.Add(-25 * time.Hour) }
	_, err = s.Join(ctx, 5, "old-2")
	require.NoError(t, err)

	s.now = func() time.Time { return now }
	removed, err := s.ClearStale(ctx, 5, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"fresh"}, customerIDs(t, s, 5))

	entries, err := s.Entries(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, now.Add(-2*time.Hour).Equal(entries[0].JoinedAt))
}

func TestRedisStore_ClearStaleKeepsRejoinedCustomer(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.Add(-30 * time.Hour) }
	_, err := s.Join(ctx, 5, "x")
	require.NoError(t, err)

	// A second client leaves and rejoins after the sweep has read the list.
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	other := NewRedisStore(rdb, "test:").WithClock(func() time.Time { return now })
	s.now = func() time.Time {
		_, err := other.Leave(ctx, 5, "x")
		require.NoError(t, err)
		_, err = other.Join(ctx, 5, "x")
		require.NoError(t, err)
		return now
	}

	removed, err := s.ClearStale(ctx, 5, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	entries, err := s.Entries(ctx, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].CustomerID)
	assert.True(t, now.Equal(entries[0].JoinedAt))
}

func TestRedisStore_ClearStaleDropsIndexWhenEmpty(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.Add(-48 * time.Hour) }
	_, err := s.Join(ctx, 8, "alice")
	require.NoError(t, err)

	s.now = func() time.Time { return now }
	removed, err := s.ClearStale(ctx, 8, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ok, err := mr.SIsMember("test:queue:index", "8")
	require.NoError(t, err)
	assert.False(t, ok)
	_, found, err := s.Position(ctx, 8, "alice")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_ReplayedJoinIsNotDuplicate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Join(ctx, 3, "alice")
	require.NoError(t, err)

	data, err := msgpack.Marshal(entry{CustomerID: "bob", JoinedAt: time.Now().UnixMilli(), Token: "req-1"})
	require.NoError(t, err)
	pos, err := s.appendEntry(ctx, 3, "bob", data)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	// Same bytes again, as a client retry after a dropped reply would send.
	pos, err = s.appendEntry(ctx, 3, "bob", data)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	n, err := s.Length(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Join(ctx, 3, "bob")
	assert.ErrorIs(t, err, apperr.ErrAlreadyQueued)
}

func TestRedisStore_Reset(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.Join(ctx, 6, "alice")
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx, 6))

	assert.False(t, mr.Exists("test:queue:6"))
	assert.False(t, mr.Exists("test:queue:6:members"))
	n, err := s.Length(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pos, err := s.Join(ctx, 6, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestRedisStore_ServerDownIsUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Join(context.Background(), 1, "alice")
	assert.ErrorIs(t, err, apperr.ErrQueueStoreUnavailable)
	_, err = s.Length(context.Background(), 1)
	assert.ErrorIs(t, err, apperr.ErrQueueStoreUnavailable)
}

func TestRedisStore_ErrorsAreWrapped(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, "test:")
	ctx := context.Background()
	boom := errors.New("READONLY You can't write against a read only replica")

	mock.ExpectLLen("test:queue:1").SetErr(boom)
	_, err := s.Length(ctx, 1)
	assert.ErrorIs(t, err, apperr.ErrQueueStoreUnavailable)

	mock.ExpectEval(leaveScript, []string{"test:queue:1", "test:queue:1:members", "test:queue:index"}, "alice", int64(1)).SetErr(boom)
	_, err = s.Leave(ctx, 1, "alice")
	assert.ErrorIs(t, err, apperr.ErrQueueStoreUnavailable)

	mock.ExpectLRange("test:queue:1", 0, -1).SetErr(boom)
	_, err = s.Entries(ctx, 1)
	assert.ErrorIs(t, err, apperr.ErrQueueStoreUnavailable)

	mock.ExpectSMembers("test:queue:index").SetErr(boom)
	_, err = s.Providers(ctx)
	assert.ErrorIs(t, err, apperr.ErrQueueStoreUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}
