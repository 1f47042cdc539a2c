package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeGetSetDelete(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	_, err := f.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.Set(ctx, "a", "1"))
	v, err := f.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "1", v)

	require.NoError(t, f.Delete(ctx, "a"))
	_, err = f.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFakeScanKeysPrefixPattern(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.SetMany(ctx, map[string]string{
		"wa:alpha:creds":      "x",
		"wa:alpha:app-1":      "y",
		"wa:beta:creds":       "z",
		"webhook:queue":       "q",
	}))

	keys, err := f.ScanKeys(ctx, "wa:alpha:*", 1000)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"wa:alpha:creds", "wa:alpha:app-1"}, keys)

	all, err := f.ScanKeys(ctx, "wa:*", 1000)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestFakeQueueMoveIsAtomicAndOrdered(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.LPushHead(ctx, "queue", "job1"))
	require.NoError(t, f.LPushHead(ctx, "queue", "job2")) // newest at head

	v, ok, err := f.RPopLPushTail(ctx, "queue", "processing")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "job1", v) // oldest (tail) dequeued first

	n, err := f.LLen(ctx, "processing")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, f.LRemove(ctx, "processing", "job1"))
	n, err = f.LLen(ctx, "processing")
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestFakeRPopLPushEmptySource(t *testing.T) {
	f := NewFake()
	_, ok, err := f.RPopLPushTail(context.Background(), "empty", "dst")
	require.NoError(t, err)
	require.False(t, ok)
}
