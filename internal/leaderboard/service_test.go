package leaderboard_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/event"
	"github.com/victornm/partyquiz/internal/leaderboard"
)

func TestService_GetStandings(t *testing.T) {
	s := makeService(t)
	ctx := context.Background()

	for _, e := range []domain.EventScoreUpdated{
		{Player: domain.Player{SessionCode: "AB12CD", Name: "Ann", Score: 10}},
		{Player: domain.Player{SessionCode: "AB12CD", Name: "Bob", Score: 25}},
		{Player: domain.Player{SessionCode: "AB12CD", Name: "Ann", Score: 30}},
	} {
		require.NoError(t, s.Update(ctx, e))
	}

	got, err := s.GetStandings(ctx, leaderboard.GetStandingsRequest{SessionCode: "AB12CD"})
	require.NoError(t, err)

	want := []domain.StandingsEntry{
		{Name: "Ann", Score: 30},
		{Name: "Bob", Score: 25},
	}
	require.Equal(t, want, got, "later updates overwrite, order is score descending")
}

func TestService_UpdateViaEventBus(t *testing.T) {
	eb := event.NewBus()
	s := makeService(t, withEventBus(eb))

	eb.Publish(context.Background(), domain.EventScoreUpdated{
		Player: domain.Player{SessionCode: "AB12CD", Name: "Ann", Score: 10},
		Delta:  10,
	})
	eb.Stop()

	got, err := s.GetStandings(context.Background(), leaderboard.GetStandingsRequest{SessionCode: "AB12CD"})
	require.NoError(t, err)
	require.Equal(t, []domain.StandingsEntry{{Name: "Ann", Score: 10}}, got)
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(context.Background()).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "partyquiz",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
