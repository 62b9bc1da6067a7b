package hub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/slot-reservation/internal/model"
)

// registryContract runs the behaviour every Registry must share.
func registryContract(t *testing.T, reg Registry, matchID uint64) {
	ctx := context.Background()
	ttl := time.Minute

	ok, err := reg.Acquire(ctx, model.SeatLock{MatchID: matchID, Index: 1, SessionID: "a", UserID: 10}, ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Acquire(ctx, model.SeatLock{MatchID: matchID, Index: 1, SessionID: "b", UserID: 11}, ttl)
	require.NoError(t, err)
	assert.False(t, ok, "second session must not take a held lock")

	ok, err = reg.Acquire(ctx, model.SeatLock{MatchID: matchID, Index: 1, SessionID: "a", UserID: 10}, ttl)
	require.NoError(t, err)
	assert.True(t, ok, "re-acquire by the holder succeeds")

	ok, err = reg.Renew(ctx, matchID, 1, "b", ttl)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.Release(ctx, matchID, 1, "b"))
	holders, err := reg.Holders(ctx, matchID)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, "a", holders[0].SessionID)
	assert.Equal(t, uint64(10), holders[0].UserID)

	require.NoError(t, reg.Release(ctx, matchID, 1, "a"))
	holders, err = reg.Holders(ctx, matchID)
	require.NoError(t, err)
	assert.Empty(t, holders)
}

func TestMemoryRegistry_Contract(t *testing.T) {
	registryContract(t, NewMemoryRegistry(), 1)
}

func TestMemoryRegistry_Expiry(t *testing.T) {
	reg := NewMemoryRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := reg.Acquire(ctx, model.SeatLock{MatchID: 1, Index: 4, SessionID: "a"}, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(11 * time.Second)
	ok, err = reg.Renew(ctx, 1, 4, "a", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "expired lock cannot be renewed")

	ok, err = reg.Acquire(ctx, model.SeatLock{MatchID: 1, Index: 4, SessionID: "b"}, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is free for the taking")
}

// TestRedisRegistry_Contract needs a scratch Redis; set REDIS_TEST_ADDR to
// run it.
func TestRedisRegistry_Contract(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	require.NoError(t, rdb.Ping(context.Background()).Err())

	prefix := "test-seatlock-" + uuid.NewString()
	registryContract(t, NewRedisRegistry(rdb, prefix), 77)
}

func TestRedisRelay_SkipsOwnFrames(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	channel := "test-relay-" + uuid.NewString()
	one, err := NewRedisRelay(ctx, rdb, channel, "one")
	require.NoError(t, err)
	defer one.Close()
	two, err := NewRedisRelay(ctx, rdb, channel, "two")
	require.NoError(t, err)
	defer two.Close()

	require.NoError(t, one.Publish(ctx, Frame{Type: "lock", MatchID: 5, Index: 3, SessionID: "s"}))
	select {
	case f := <-two.Frames():
		assert.Equal(t, Frame{Instance: "one", Type: "lock", MatchID: 5, Index: 3, SessionID: "s"}, f)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not relayed")
	}
	select {
	case f := <-one.Frames():
		t.Fatalf("instance received its own frame %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}
