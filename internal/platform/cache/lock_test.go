package cache

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/milkround/internal/platform/httpx"
)

func TestLockerSerialisesKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client, time.Minute, 0)
	ctx := context.Background()

	release, err := locker.Lock(ctx, "billing:invoice:1:2024-05:lock")
	require.NoError(t, err)

	_, err = locker.Lock(ctx, "billing:invoice:1:2024-05:lock")
	require.ErrorIs(t, err, ErrLockBusy)

	other, err := locker.Lock(ctx, "billing:invoice:2:2024-05:lock")
	require.NoError(t, err)
	other()

	release()
	again, err := locker.Lock(ctx, "billing:invoice:1:2024-05:lock")
	require.NoError(t, err)
	again()
}

func TestNilLockerIsNoop(t *testing.T) {
	var locker *Locker
	release, err := locker.Lock(context.Background(), "any")
	require.NoError(t, err)
	release()
}

func TestLockBusyIsLocked(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client, time.Minute, 0)
	release, err := locker.Lock(context.Background(), "billing:invoice:7:2024-05:lock")
	require.NoError(t, err)
	defer release()

	_, err = locker.Lock(context.Background(), "billing:invoice:7:2024-05:lock")
	require.ErrorIs(t, err, httpx.ErrLocked)
}

func TestReleaseFailureIsLogged(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	locker := NewLocker(client, time.Second, 0).WithLogger(logger)

	release, err := locker.Lock(context.Background(), "billing:batch:2024-05:lock")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	release()

	assert.Contains(t, buf.String(), "lock release failed")
	assert.Contains(t, buf.String(), "billing:batch:2024-05:lock")
}
