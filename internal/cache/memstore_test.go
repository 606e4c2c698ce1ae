package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreSetGet(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.True(t, m.Set(ctx, "k1", map[string]any{"a": 1}, time.Minute))

	var out map[string]any
	require.True(t, m.Get(ctx, "k1", &out))
	assert.Equal(t, float64(1), out["a"])
}

func TestMemStoreGetMissingKey(t *testing.T) {
	m := NewMemStore()
	var out string
	assert.False(t, m.Get(context.Background(), "missing", &out))
}

func TestMemStoreExpiryEvictsOnAccess(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.True(t, m.Set(ctx, "k1", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var out string
	assert.False(t, m.Get(ctx, "k1", &out))
	assert.False(t, m.Exists(ctx, "k1"))
}

func TestMemStoreNoTTLNeverExpires(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.True(t, m.Set(ctx, "k1", "v", 0))
	time.Sleep(5 * time.Millisecond)

	assert.True(t, m.Exists(ctx, "k1"))
}

func TestMemStoreDelete(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.True(t, m.Set(ctx, "k1", "v", 0))
	assert.True(t, m.Delete(ctx, "k1"))
	assert.False(t, m.Delete(ctx, "k1"), "deleting an absent key reports false")
	assert.False(t, m.Exists(ctx, "k1"))
}

func TestMemStoreExpire(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.True(t, m.Set(ctx, "k1", "v", 0))
	assert.True(t, m.Expire(ctx, "k1", time.Millisecond))

	time.Sleep(5 * time.Millisecond)
	assert.False(t, m.Exists(ctx, "k1"))

	assert.False(t, m.Expire(ctx, "absent", time.Minute))
}

func TestMemStoreTTL(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	assert.Equal(t, -2*time.Second, m.TTL(ctx, "absent"))

	require.True(t, m.Set(ctx, "no-ttl", "v", 0))
	assert.Equal(t, -1*time.Second, m.TTL(ctx, "no-ttl"))

	require.True(t, m.Set(ctx, "with-ttl", "v", time.Minute))
	ttl := m.TTL(ctx, "with-ttl")
	assert.Greater(t, ttl, 50*time.Second)
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestMemStoreIncrement(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	n, ok := m.Increment(ctx, "counter", 1)
	require.True(t, ok)
	assert.Equal(t, int64(1), n)

	n, ok = m.Increment(ctx, "counter", 4)
	require.True(t, ok)
	assert.Equal(t, int64(5), n)
}

func TestMemStoreSetManyGetMany(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.True(t, m.SetMany(ctx, map[string]any{"a": 1, "b": 2}, time.Minute))

	got := m.GetMany(ctx, []string{"a", "b", "c"})
	assert.Len(t, got, 2)
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "b")
	assert.NotContains(t, got, "c")
}

func TestMemStoreDeletePattern(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.True(t, m.Set(ctx, MakeKey("apikey", "one"), "v", 0))
	require.True(t, m.Set(ctx, MakeKey("apikey", "two"), "v", 0))
	require.True(t, m.Set(ctx, MakeKey("session", "one"), "v", 0))

	n := m.DeletePattern(ctx, MakeKey("apikey", "*"))
	assert.Equal(t, 2, n)
	assert.True(t, m.Exists(ctx, MakeKey("session", "one")))
}

func TestMemStoreAtomicReplace(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	require.True(t, m.Set(ctx, "k1", []string{"old"}, time.Minute))
	require.True(t, m.AtomicReplace(ctx, "k1", []string{"new"}, time.Minute))

	var out []string
	require.True(t, m.Get(ctx, "k1", &out))
	assert.Equal(t, []string{"new"}, out)
}

func TestMakeKey(t *testing.T) {
	assert.Equal(t, "remembr:ns", MakeKey("ns"))
	assert.Equal(t, "remembr:ns:a:b", MakeKey("ns", "a", "b"))
}
