// Package answers buffers in-round submissions in redis and migrates them to
// the persistent store when the round ends.
package answers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/partyquiz/internal/errors"
	"github.com/victornm/partyquiz/internal/storage"
)

const bufferTTL = time.Hour

type Config struct {
	Redis   redis.UniversalClient
	Players storage.PlayerStore
	Prefix  string
}

// Buffer holds the latest answer text per player for the active round, one
// redis hash per (session, round). Writes are last-write-wins, so a player
// changing their mind before the round ends keeps only the final text.
type Buffer struct {
	redis   redis.UniversalClient
	players storage.PlayerStore
	prefix  string
}

func NewBuffer(c Config) *Buffer {
	return &Buffer{
		redis:   c.Redis,
		players: c.Players,
		prefix:  c.Prefix,
	}
}

// Save records the player's current answer for the round.
func (b *Buffer) Save(ctx context.Context, code string, round int, playerID, text string) error {
	key := b.key(code, round)

	if err := b.redis.HSet(ctx, key, playerID, text).Err(); err != nil {
		return fmt.Errorf("buffer answer: %w", err)
	}
	if err := b.redis.Expire(ctx, key, bufferTTL).Err(); err != nil {
		return fmt.Errorf("expire buffer: %w", err)
	}
	return nil
}

// Get returns the buffered text for the player, and whether one exists.
func (b *Buffer) Get(ctx context.Context, code string, round int, playerID string) (string, bool, error) {
	text, err := b.redis.HGet(ctx, b.key(code, round), playerID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get buffered answer: %w", err)
	}
	return text, true, nil
}

// CreateFunc persists one buffered answer. It returns CodeAlreadyExists when
// the answer was already migrated, which Flush treats as success.
type CreateFunc func(ctx context.Context, playerID, text string) error

// Flush migrates every buffered answer for connected players into the
// persistent store, then clears the buffer. Flushing twice is harmless: the
// uniqueness constraint on (player, round) turns the second pass into no-ops.
func (b *Buffer) Flush(ctx context.Context, code string, round int, create CreateFunc) error {
	key := b.key(code, round)

	buffered, err := b.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("read buffer: %w", err)
	}

	for playerID, text := range buffered {
		p, err := b.players.GetPlayer(ctx, playerID)
		if errors.Is(err, errors.CodeNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !p.Connected {
			continue
		}

		err = create(ctx, playerID, text)
		if errors.Is(err, errors.CodeAlreadyExists) {
			slog.InfoContext(ctx, "answers: already migrated",
				"session", code, "round", round, "player", playerID)
			continue
		}
		if err != nil {
			return fmt.Errorf("migrate answer: player=%s: %w", playerID, err)
		}
	}

	if err := b.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clear buffer: %w", err)
	}
	return nil
}

// ClearSession drops every buffered round for the session. Used on restart.
func (b *Buffer) ClearSession(ctx context.Context, code string) error {
	iter := b.redis.Scan(ctx, 0, fmt.Sprintf("%s:answers:%s:*", b.prefix, code), 100).Iterator()
	for iter.Next(ctx) {
		if err := b.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("clear session buffers: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan session buffers: %w", err)
	}
	return nil
}

func (b *Buffer) key(code string, round int) string {
	return fmt.Sprintf("%s:answers:%s:%d", b.prefix, code, round)
}
