package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBridgedSessionStoreValidation(t *testing.T) {
	_, err := NewBridgedSessionStore("  ", time.Hour)
	assert.Error(t, err)

	_, err = NewBridgedSessionStore("bridged", -time.Second)
	assert.Error(t, err)

	store, err := NewBridgedSessionStore("bridged", time.Hour)
	assert.NoError(t, err)
	assert.NotNil(t, store)
}

func TestBridgedSessionStore_Lifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	SetClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	store, err := NewBridgedSessionStore("bridged", time.Hour)
	require.NoError(t, err)

	ok, err := store.IsBridged(ctx, "0xAbC", 42)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MarkBridged(ctx, "0xAbC", 42))

	// session keys are case-insensitive addresses
	ok, err = store.IsBridged(ctx, "0xabc", 42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("bridged:0xabc"))

	ok, err = store.IsBridged(ctx, "0xdef", 42)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Clear(ctx, "0xABC", 42))
	ok, err = store.IsBridged(ctx, "0xabc", 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBridgedSessionStore_ExpiresWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	SetClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	store, err := NewBridgedSessionStore("bridged", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.MarkBridged(ctx, "0xabc", 1))

	mr.FastForward(2 * time.Minute)

	ok, err := store.IsBridged(ctx, "0xabc", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBridgedSessionStore_PropagatesRedisErrors(t *testing.T) {
	origAdd, origIs, origRem := addSessionMember, isSessionMember, removeSessionMember
	t.Cleanup(func() {
		addSessionMember, isSessionMember, removeSessionMember = origAdd, origIs, origRem
	})
	boom := errors.New("redis down")
	addSessionMember = func(context.Context, string, time.Duration, ...interface{}) error { return boom }
	isSessionMember = func(context.Context, string, interface{}) (bool, error) { return false, boom }
	removeSessionMember = func(context.Context, string, ...interface{}) error { return boom }

	store, err := NewBridgedSessionStore("bridged", time.Hour)
	require.NoError(t, err)

	assert.ErrorIs(t, store.MarkBridged(context.Background(), "s", 1), boom)
	_, err = store.IsBridged(context.Background(), "s", 1)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, store.Clear(context.Background(), "s", 1), boom)
}
