package jobstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKV_SetGetExpire(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", []byte("1"), time.Minute))
	val, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), val)

	now = now.Add(time.Minute)
	_, ok, err = kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "expired entries disappear on read")
}

func TestMemoryKV_SetNX(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	ok, err := kv.SetNX(ctx, "lock", []byte("x"), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = kv.SetNX(ctx, "lock", []byte("y"), 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryKV_IncrAndLists(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	n, err := kv.Incr(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = kv.Incr(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, kv.Append(ctx, "l", []byte("x")))
	require.NoError(t, kv.Append(ctx, "l", []byte("y")))
	items, err := kv.Range(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("x"), []byte("y")}, items)

	_, err = kv.Incr(ctx, "l")
	assert.Error(t, err)

	vals, err := kv.MGet(ctx, "c", "missing", "l")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), vals[0])
	assert.Nil(t, vals[1])
	assert.Nil(t, vals[2])
}

func TestMemoryKV_TxIsAllOrNothing(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "counter", []byte("5"), 0))
	require.NoError(t, kv.Append(ctx, "list", []byte("x")))

	err := kv.Tx(ctx, func(p Pipe) {
		p.Incr("counter")
		p.Set("fresh", []byte("v"), 0)
		p.Incr("list") // wrong type
	})
	require.Error(t, err)

	val, _, _ := kv.Get(ctx, "counter")
	assert.Equal(t, []byte("5"), val)
	_, ok, _ := kv.Get(ctx, "fresh")
	assert.False(t, ok)

	require.NoError(t, kv.Tx(ctx, func(p Pipe) {
		p.Incr("counter")
		p.Del("list")
	}))
	val, _, _ = kv.Get(ctx, "counter")
	assert.Equal(t, []byte("6"), val)
	items, err := kv.Range(ctx, "list")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryKV_WritesSweepExpiredEntries(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, kv.Set(ctx, MetaKey(fmt.Sprintf("job-%d", i)), []byte("{}"), time.Minute))
	}
	require.NoError(t, kv.Set(ctx, "pinned", []byte("x"), 0))
	assert.Equal(t, 101, kv.Len())

	now = now.Add(30 * time.Second)
	require.NoError(t, kv.Set(ctx, "early", []byte("x"), time.Hour))
	assert.Equal(t, 102, kv.Len(), "nothing has expired yet")

	now = now.Add(48 * time.Hour)
	require.NoError(t, kv.Set(ctx, "late", []byte("x"), time.Hour))
	assert.Equal(t, 2, kv.Len(), "only the entry without a ttl and the fresh write remain")
}

func TestMemoryKV_SweepIsRateLimited(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", []byte("1"), time.Second))
	now = now.Add(2 * time.Second)
	require.NoError(t, kv.Set(ctx, "b", []byte("2"), 0))
	assert.Equal(t, 2, kv.Len(), "the last sweep was under a minute ago")

	now = now.Add(time.Minute)
	require.NoError(t, kv.Tx(ctx, func(p Pipe) { p.Incr("c") }))
	assert.Equal(t, 2, kv.Len())
}
