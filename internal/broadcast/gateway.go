// Package broadcast pushes state-change events to clients over redis pubsub:
// one channel per session for the shared stream, one per player for
// individually addressed results. State is authoritative and broadcasts are
// best-effort; a failed publish is retried once, then logged and swallowed so
// it never undoes the transition that produced it.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/event"
)

const maxConcurrent = 100

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type Config struct {
	EventBus *event.Bus
	Redis    Redis
	Prefix   string
}

type Gateway struct {
	redis  Redis
	prefix string
}

func NewGateway(c Config) *Gateway {
	g := &Gateway{
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	c.EventBus.Subscribe(domain.EventNameGameStarted, func(ctx context.Context, e event.Event) error {
		return g.publishGameStarted(ctx, e.(domain.EventGameStarted))
	})
	c.EventBus.Subscribe(domain.EventNameGameComplete, func(ctx context.Context, e event.Event) error {
		return g.publishGameComplete(ctx, e.(domain.EventGameComplete))
	})
	c.EventBus.Subscribe(domain.EventNameRoundStarted, func(ctx context.Context, e event.Event) error {
		return g.publishRoundStarted(ctx, e.(domain.EventRoundStarted))
	})
	c.EventBus.Subscribe(domain.EventNameRoundEnded, func(ctx context.Context, e event.Event) error {
		return g.publishRoundEnded(ctx, e.(domain.EventRoundEnded))
	})
	c.EventBus.Subscribe(domain.EventNameTimerUpdate, func(ctx context.Context, e event.Event) error {
		return g.publishTimerUpdate(ctx, e.(domain.EventTimerUpdate))
	})
	c.EventBus.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return g.publishScoreUpdated(ctx, e.(domain.EventScoreUpdated))
	})
	c.EventBus.Subscribe(domain.EventNamePlayerResult, func(ctx context.Context, e event.Event) error {
		return g.publishPlayerResult(ctx, e.(domain.EventPlayerResult))
	})
	c.EventBus.Subscribe(domain.EventNamePlayerSelected, func(ctx context.Context, e event.Event) error {
		return g.publishPlayerSelected(ctx, e.(domain.EventPlayerSelected))
	})
	c.EventBus.Subscribe(domain.EventNameReadyResponse, func(ctx context.Context, e event.Event) error {
		return g.publishReadyResponse(ctx, e.(domain.EventReadyResponse))
	})
	c.EventBus.Subscribe(domain.EventNameRapidFireCompleted, func(ctx context.Context, e event.Event) error {
		return g.publishRapidFireCompleted(ctx, e.(domain.EventRapidFireCompleted))
	})

	return g
}

func (g *Gateway) publishGameStarted(ctx context.Context, e domain.EventGameStarted) error {
	return g.toSession(ctx, e.Session.Code, e.Name(), map[string]any{
		"session_code": e.Session.Code,
		"num_rounds":   e.Session.Config.NumRounds,
		"player_count": e.PlayerCount,
	})
}

func (g *Gateway) publishGameComplete(ctx context.Context, e domain.EventGameComplete) error {
	return g.toSession(ctx, e.Session.Code, e.Name(), map[string]any{
		"session_code": e.Session.Code,
		"standings":    e.Standings,
	})
}

func (g *Gateway) publishRoundStarted(ctx context.Context, e domain.EventRoundStarted) error {
	return g.toSession(ctx, e.Session.Code, e.Name(), map[string]any{
		"session_code":  e.Session.Code,
		"round_number":  e.Content.RoundNumber,
		"round_seconds": e.Session.Config.RoundSeconds,
		"content":       publicContent(e.Content),
	})
}

// publishRoundEnded reveals the full content, including the correct option,
// alongside the scored answers.
func (g *Gateway) publishRoundEnded(ctx context.Context, e domain.EventRoundEnded) error {
	return g.toSession(ctx, e.Session.Code, e.Name(), map[string]any{
		"session_code": e.Session.Code,
		"round_number": e.Content.RoundNumber,
		"content":      e.Content,
		"answers":      e.Answers,
		"final_round":  e.FinalRound,
	})
}

func (g *Gateway) publishTimerUpdate(ctx context.Context, e domain.EventTimerUpdate) error {
	return g.toSession(ctx, e.SessionCode, e.Name(), map[string]any{
		"round_number":      e.RoundNumber,
		"remaining_seconds": e.Remaining,
	})
}

func (g *Gateway) publishScoreUpdated(ctx context.Context, e domain.EventScoreUpdated) error {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return g.toSession(ctx, e.Player.SessionCode, e.Name(), map[string]any{
			"player_id": e.Player.ID,
			"name":      e.Player.Name,
			"score":     e.Player.Score,
			"delta":     e.Delta,
			"reason":    e.Reason,
		})
	})
	eg.Go(func() error {
		return g.toPlayer(ctx, e.Player.ID, e.Name(), map[string]any{
			"score": e.Player.Score,
			"delta": e.Delta,
		})
	})

	return eg.Wait()
}

func (g *Gateway) publishPlayerResult(ctx context.Context, e domain.EventPlayerResult) error {
	return g.toPlayer(ctx, e.PlayerID, e.Name(), map[string]any{
		"round_number": e.RoundNumber,
		"message":      e.Message,
		"points":       e.Points,
		"correct":      e.Correct,
	})
}

func (g *Gateway) publishPlayerSelected(ctx context.Context, e domain.EventPlayerSelected) error {
	return g.toSession(ctx, e.SessionCode, e.Name(), map[string]any{
		"round_number":     e.RoundNumber,
		"player_id":        e.Player.ID,
		"name":             e.Player.Name,
		"specialist_topic": e.Player.SpecialistTopic,
	})
}

func (g *Gateway) publishReadyResponse(ctx context.Context, e domain.EventReadyResponse) error {
	return g.toSession(ctx, e.SessionCode, e.Name(), map[string]any{
		"round_number": e.RoundNumber,
		"player_id":    e.PlayerID,
		"ready":        e.Ready,
	})
}

func (g *Gateway) publishRapidFireCompleted(ctx context.Context, e domain.EventRapidFireCompleted) error {
	return g.toSession(ctx, e.SessionCode, e.Name(), map[string]any{
		"round_number": e.RoundNumber,
		"player_id":    e.PlayerID,
		"phase":        e.Phase,
		"correct":      e.Correct,
		"total":        e.Total,
		"points":       e.Points,
	})
}

func (g *Gateway) toSession(ctx context.Context, code, event string, data any) error {
	return g.publish(ctx, fmt.Sprintf("%s:session:%s", g.prefix, code), event, data)
}

func (g *Gateway) toPlayer(ctx context.Context, playerID, event string, data any) error {
	return g.publish(ctx, fmt.Sprintf("%s:player:%s", g.prefix, playerID), event, data)
}

func (g *Gateway) publish(ctx context.Context, channel, event string, data any) error {
	b, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("broadcast: marshal %s: %v", event, err)
	}

	if err := g.redis.Publish(ctx, channel, b).Err(); err == nil {
		return nil
	}

	if err := g.redis.Publish(ctx, channel, b).Err(); err != nil {
		slog.ErrorContext(ctx, "broadcast: publish failed after retry",
			"channel", channel, "event", event, "error", err)
	}
	return nil
}

// publicContent strips the correct option before content reaches clients.
func publicContent(c domain.RoundContent) domain.RoundContent {
	if c.Question != nil {
		q := c.Question.Public()
		c.Question = &q
	}
	return c
}
