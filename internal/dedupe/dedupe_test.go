package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "", Key("", "sent", ""))
	assert.Equal(t, "SM1|delivered|", Key("SM1", "Delivered", ""))
	assert.NotEqual(t, Key("SM1", "sent", ""), Key("SM1", "read", ""))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	seen, err := store.MarkSeen(ctx, "a")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.MarkSeen(ctx, "a")
	require.NoError(t, err)
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, err = store.MarkSeen(ctx, "a")
	require.NoError(t, err)
	assert.False(t, seen, "expired keys are forgotten")

	seen, err = store.MarkSeen(ctx, "")
	require.NoError(t, err)
	assert.False(t, seen, "empty keys are never deduplicated")

	require.NoError(t, store.Forget(ctx, "a"))
	seen, err = store.MarkSeen(ctx, "a")
	require.NoError(t, err)
	assert.False(t, seen, "forgotten keys are processed again")
}

type fakeRedis struct {
	redis.Cmdable
	keys map[string]bool
	ttl  time.Duration
	err  error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	f.ttl = ttl
	if f.keys[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = true
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if f.keys[k] {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStore(t *testing.T) {
	fake := &fakeRedis{keys: map[string]bool{}}
	store, err := NewRedisStore(fake, "", time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := store.MarkSeen(ctx, "SM1|received|")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.True(t, fake.keys["whatsapp:delivery:SM1|received|"])
	assert.Equal(t, time.Hour, fake.ttl)

	seen, err = store.MarkSeen(ctx, "SM1|received|")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, store.Forget(ctx, "SM1|received|"))
	seen, err = store.MarkSeen(ctx, "SM1|received|")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisStoreError(t *testing.T) {
	store, err := NewRedisStore(&fakeRedis{err: errors.New("conn refused")}, "p:", 0)
	require.NoError(t, err)

	_, err = store.MarkSeen(context.Background(), "k")
	assert.ErrorContains(t, err, "conn refused")
	assert.ErrorContains(t, store.Forget(context.Background(), "k"), "conn refused")
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	_, err := NewRedisStore(nil, "", 0)
	assert.Error(t, err)
}
