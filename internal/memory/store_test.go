package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
)

func newTestStore(t *testing.T, maxEntries int) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cfg := config.MemoryConfig{KeyPrefix: "test:", TTL: time.Hour, MaxEntries: maxEntries}
	return NewRedisStore(rdb, cfg, zaptest.NewLogger(t)), mr
}

func TestRecordAndRecall(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 10)

	require.NoError(t, store.Record(ctx, "s1", Entry{Query: "Who discovered penicillin?", Answer: "Alexander Fleming.", Confidence: 0.9}))
	require.NoError(t, store.Record(ctx, "s1", Entry{Query: "Write a haiku about autumn", Answer: "Leaves fall."}))

	got := store.GetRelevantContext(ctx, "s1", "When was penicillin discovered?")
	require.Len(t, got, 1)
	assert.Equal(t, "Alexander Fleming.", got[0].Answer)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())

	assert.Empty(t, store.GetRelevantContext(ctx, "s1", "quantum chromodynamics"))
	assert.True(t, mr.TTL("test:s1:entries") > 0)
}

func TestRecordTrimsOldest(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, "s1", Entry{Query: fmt.Sprintf("penicillin question %d", i)}))
	}
	items, err := mr.List("test:s1:entries")
	require.NoError(t, err)
	assert.Len(t, items, 3)

	got := store.GetRelevantContext(ctx, "s1", "penicillin question")
	require.Len(t, got, 3)
	// Equal relevance keeps newest first.
	assert.Equal(t, "penicillin question 4", got[0].Query)
}

func TestMalformedEntriesSkipped(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 10)

	_, err := mr.Lpush("test:s1:entries", "not json")
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, "s1", Entry{Query: "penicillin history"}))

	got := store.GetRelevantContext(ctx, "s1", "penicillin history")
	require.Len(t, got, 1)
}

func TestScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 10)

	require.NoError(t, store.Record(ctx, "alice", Entry{Query: "How should I store my password safely?", Answer: "Use a password manager."}))

	assert.Len(t, store.GetRelevantContext(ctx, "alice", "How should I store my password safely?"), 1)
	assert.Empty(t, store.GetRelevantContext(ctx, "bob", "How should I store my password safely?"))
	assert.False(t, mr.Exists("test:entries"))

	for _, bad := range []string{"", "has space", "a*b", string(make([]byte, 129))} {
		err := store.Record(ctx, bad, Entry{Query: "x"})
		assert.ErrorIs(t, err, ErrInvalidScope, bad)
		assert.Empty(t, store.GetRelevantContext(ctx, bad, "x"))
	}
}

func TestScopeContext(t *testing.T) {
	assert.Equal(t, "", ScopeFrom(context.Background()))
	assert.Equal(t, "session-1", ScopeFrom(WithScope(context.Background(), "session-1")))
	assert.True(t, ValidScope("user:42.web_1-a"))
	assert.False(t, ValidScope("user/42"))
}

func TestNewFallsBackToNoop(t *testing.T) {
	ctx := context.Background()

	store, closer := New(ctx, config.MemoryConfig{Enabled: false}, zaptest.NewLogger(t))
	assert.IsType(t, Noop{}, store)
	assert.NoError(t, closer())

	store, closer = New(ctx, config.MemoryConfig{Enabled: true, RedisAddr: "127.0.0.1:1"}, zaptest.NewLogger(t))
	assert.IsType(t, Noop{}, store)
	assert.NoError(t, closer())

	mr := miniredis.RunT(t)
	store, closer = New(ctx, config.MemoryConfig{Enabled: true, RedisAddr: mr.Addr()}, zaptest.NewLogger(t))
	assert.IsType(t, &RedisStore{}, store)
	assert.NoError(t, closer())
}
