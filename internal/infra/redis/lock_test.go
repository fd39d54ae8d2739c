package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/lendwatch/internal/core/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLock_SecondAcquireRefused(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, domain.KindApplication, "app-1", "session-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, domain.KindApplication, "app-1", "session-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a held lock must not be acquired twice")

	owner, err := c.LockOwner(ctx, domain.KindApplication, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "session-a", owner)

	// Same id under another kind is a separate entity.
	ok, err = c.AcquireLock(ctx, domain.KindOffer, "app-1", "session-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_ReleaseOnlyByOwner(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, domain.KindOffer, "of-1", "session-a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.ReleaseLock(ctx, domain.KindOffer, "of-1", "session-b"))
	owner, err := c.LockOwner(ctx, domain.KindOffer, "of-1")
	require.NoError(t, err)
	assert.Equal(t, "session-a", owner, "a non-owner release must leave the lock in place")

	require.NoError(t, c.ReleaseLock(ctx, domain.KindOffer, "of-1", "session-a"))
	owner, err = c.LockOwner(ctx, domain.KindOffer, "of-1")
	require.NoError(t, err)
	assert.Empty(t, owner)

	ok, err := c.AcquireLock(ctx, domain.KindOffer, "of-1", "session-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "a released lock can be claimed again")
}

func TestLock_ExpiresAfterTTL(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, domain.KindApplication, "app-1", "session-a", time.Minute)
	require.NoError(t, err)

	mr.FastForward(61 * time.Second)

	ok, err := c.AcquireLock(ctx, domain.KindApplication, "app-1", "session-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_RefreshExtendsOwnLockOnly(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	key := lockKey(domain.KindApplication, "app-1")

	_, err := c.AcquireLock(ctx, domain.KindApplication, "app-1", "session-a", time.Minute)
	require.NoError(t, err)

	ok, err := c.RefreshLock(ctx, domain.KindApplication, "app-1", "session-b", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(key))

	ok, err = c.RefreshLock(ctx, domain.KindApplication, "app-1", "session-a", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL(key))

	// Past the original TTL the refreshed lock still holds.
	mr.FastForward(2 * time.Minute)
	owner, err := c.LockOwner(ctx, domain.KindApplication, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "session-a", owner)

	ok, err = c.RefreshLock(ctx, domain.KindOffer, "missing", "session-a", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "an absent lock cannot be refreshed")
}

func TestPublishStatus_RoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	sub := c.rdb.Subscribe(ctx, SessionsChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	now := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	in := &domain.Session{
		ID:          "s-1",
		Kind:        domain.KindOffer,
		EntityID:    "of-1",
		Status:      domain.SessionRunning,
		Attempts:    2,
		MaxAttempts: 10,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, c.PublishStatus(ctx, in))

	got, err := c.SessionStatus(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, in.EntityID, got.EntityID)
	assert.Equal(t, in.Status, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, StatusTTL, mr.TTL(sessionKey("s-1")))

	select {
	case msg := <-sub.Channel():
		announced, err := decodeSession([]byte(msg.Payload))
		require.NoError(t, err)
		assert.Equal(t, "s-1", announced.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("status was not announced")
	}

	missing, err := c.SessionStatus(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Ping(context.Background()))
}
