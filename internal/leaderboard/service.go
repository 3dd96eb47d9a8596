// Package leaderboard mirrors running standings in a redis sorted set, one
// per session, refreshed from score-update events. The ledger stays
// authoritative; this is a cheap read model for standings queries.
package leaderboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/errors"
	"github.com/victornm/partyquiz/internal/event"
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	c.EventBus.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.Update(ctx, e.(domain.EventScoreUpdated))
	})

	return s
}

// Update overwrites the player's score in the session's standings.
func (s *Service) Update(ctx context.Context, e domain.EventScoreUpdated) error {
	p := e.Player

	if err := s.redis.ZAdd(ctx, s.key(p.SessionCode), redis.Z{
		Score:  float64(p.Score),
		Member: p.Name,
	}).Err(); err != nil {
		return fmt.Errorf("update standings: %w", err)
	}
	return nil
}

type GetStandingsRequest struct {
	SessionCode string
}

// GetStandings returns the session standings, highest score first.
func (s *Service) GetStandings(ctx context.Context, req GetStandingsRequest) ([]domain.StandingsEntry, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.key(req.SessionCode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get standings: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("standings not found: session=%s", req.SessionCode))
	}

	entries := make([]domain.StandingsEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.StandingsEntry{
			Name:  z.Member.(string),
			Score: int(z.Score),
		})
	}
	return entries, nil
}

func (s *Service) key(code string) string {
	return fmt.Sprintf("%s:%s:standings", s.prefix, code)
}
