package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/partyquiz/internal/errors"
	"github.com/victornm/partyquiz/internal/lock"
)

func TestService_Acquire(t *testing.T) {
	s, _ := makeService(t)

	l, err := s.Acquire(context.Background(), "round:AB12CD:1")
	require.NoError(t, err)

	_, err = s.Acquire(context.Background(), "round:AB12CD:1")
	require.True(t, errors.Is(err, errors.CodeUnavailable), "second acquire should report contention, got %v", err)

	require.NoError(t, l.Release(context.Background()))

	_, err = s.Acquire(context.Background(), "round:AB12CD:1")
	require.NoError(t, err, "should acquire again after release")
}

func TestService_Acquire_DifferentNames(t *testing.T) {
	s, _ := makeService(t)

	_, err := s.Acquire(context.Background(), "round:AB12CD:1")
	require.NoError(t, err)

	_, err = s.Acquire(context.Background(), "round:AB12CD:2")
	require.NoError(t, err, "locks with different names should not contend")
}

func TestLock_Release_NotOwner(t *testing.T) {
	s, rs := makeService(t)

	stale, err := s.Acquire(context.Background(), "round:AB12CD:1")
	require.NoError(t, err)

	// The lock expires and someone else takes it.
	rs.FastForward(time.Minute)
	_, err = s.Acquire(context.Background(), "round:AB12CD:1")
	require.NoError(t, err)

	require.NoError(t, stale.Release(context.Background()))

	_, err = s.Acquire(context.Background(), "round:AB12CD:1")
	require.True(t, errors.Is(err, errors.CodeUnavailable), "stale release must not free the new owner's lock")
}

func TestService_Do(t *testing.T) {
	s, _ := makeService(t)

	held, err := s.Acquire(context.Background(), "round:AB12CD:1")
	require.NoError(t, err)
	defer held.Release(context.Background())

	var ran bool
	err = s.Do(context.Background(), "round:AB12CD:1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran, "fn should run even when the lock is contended")
}

func makeService(t *testing.T) (*lock.Service, *miniredis.Miniredis) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(context.Background()).Err(), "should be able to ping redis")

	return lock.NewService(lock.Config{
		Redis:   rc,
		Prefix:  "partyquiz",
		Retries: 2,
		Backoff: time.Millisecond,
	}), rs
}
