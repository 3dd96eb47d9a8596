// Package lock provides named mutual exclusion on top of redis. Locks guard
// round-content generation so concurrent requests do not generate twice.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/partyquiz/internal/errors"
)

const (
	defaultTTL     = 30 * time.Second
	defaultRetries = 10
	defaultBackoff = 100 * time.Millisecond
)

// releaseScript deletes the key only while we still own it, so a lock that
// expired and was re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Config struct {
	Redis   redis.UniversalClient
	Prefix  string
	TTL     time.Duration
	Retries int
	Backoff time.Duration
	Clock   clockwork.Clock
}

type Service struct {
	redis   redis.UniversalClient
	prefix  string
	ttl     time.Duration
	retries int
	backoff time.Duration
	clock   clockwork.Clock
}

func NewService(c Config) *Service {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.Retries <= 0 {
		c.Retries = defaultRetries
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	return &Service{
		redis:   c.Redis,
		prefix:  c.Prefix,
		ttl:     c.TTL,
		retries: c.Retries,
		backoff: c.Backoff,
		clock:   c.Clock,
	}
}

// Lock is a held named lock. Release it when done; an unreleased lock expires
// after the TTL.
type Lock struct {
	s     *Service
	key   string
	owner string
}

// Acquire takes the named lock, retrying with backoff while it is held
// elsewhere. Exhausting the retries returns CodeUnavailable; callers treat
// that as contention, not failure.
func (s *Service) Acquire(ctx context.Context, name string) (*Lock, error) {
	key := s.key(name)
	owner := uuid.NewString()

	for attempt := 0; attempt < s.retries; attempt++ {
		ok, err := s.redis.SetNX(ctx, key, owner, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("setnx %s: %w", key, err)
		}
		if ok {
			return &Lock{s: s, key: key, owner: owner}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.clock.After(s.backoff):
		}
	}

	return nil, errors.New(errors.CodeUnavailable,
		errors.WithMessagef("lock held: %s", name))
}

// Release frees the lock if we still own it.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.s.redis, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

// Do runs fn under the named lock. When the lock cannot be acquired within
// the retry budget, fn runs anyway without exclusivity and the contention is
// logged; callers rely on idempotent writes underneath.
func (s *Service) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	l, err := s.Acquire(ctx, name)
	if errors.Is(err, errors.CodeUnavailable) {
		slog.WarnContext(ctx, "lock: proceeding without lock", "name", name)
		return fn(ctx)
	}
	if err != nil {
		return err
	}

	defer func() {
		if err := l.Release(ctx); err != nil {
			slog.ErrorContext(ctx, "lock: release failed", "name", name, "error", err)
		}
	}()

	return fn(ctx)
}

func (s *Service) key(name string) string {
	return fmt.Sprintf("%s:lock:%s", s.prefix, name)
}
