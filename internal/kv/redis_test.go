package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestRedisKV(t *testing.T) *RedisKV {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisFromClient(client)
}

func TestRedisKV_IncrWindow(t *testing.T) {
	kv := newTestRedisKV(t)
	ctx := context.Background()

	n, err := kv.IncrWindow(ctx, "rate:user1:minute", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = kv.IncrWindow(ctx, "rate:user1:minute", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestRedisKV_ActiveSessions(t *testing.T) {
	kv := newTestRedisKV(t)
	ctx := context.Background()

	require.NoError(t, kv.RegisterSession(ctx, "user1", "sessA", time.Minute))
	n, err := kv.ActiveSessionCount(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, kv.RegisterSession(ctx, "user1", "sessB", time.Minute))
	n, err = kv.ActiveSessionCount(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, kv.ReleaseSession(ctx, "user1", "sessA"))
	n, err = kv.ActiveSessionCount(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
