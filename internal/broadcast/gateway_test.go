package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/partyquiz/internal/broadcast"
	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/event"
)

func TestGateway_RoundStarted_StripsCorrectOption(t *testing.T) {
	rc := makeRedis(t)
	eb := event.NewBus()
	broadcast.NewGateway(broadcast.Config{EventBus: eb, Redis: rc, Prefix: "partyquiz"})

	sub := rc.Subscribe(context.Background(), "partyquiz:session:AB12CD")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	eb.Publish(context.Background(), domain.EventRoundStarted{
		Session: domain.Session{Code: "AB12CD", Config: domain.SessionConfig{RoundSeconds: 60}},
		Content: domain.RoundContent{
			Flavor:      domain.FlavorMultipleChoice,
			RoundNumber: 1,
			Question: &domain.Question{
				Text:    "What is the capital of France?",
				Choices: []string{"Paris", "London"},
				Correct: "Paris",
			},
		},
	})
	eb.Stop()

	msg := receive(t, sub)

	var n broadcast.Notification
	require.NoError(t, json.Unmarshal([]byte(msg), &n))
	require.Equal(t, domain.EventNameRoundStarted, n.Event)

	raw, err := json.Marshal(n.Data)
	require.NoError(t, err)
	require.NotContains(t, string(raw), `"correct"`, "client payload must not leak the correct option")
	require.Contains(t, string(raw), "Paris", "choices still include every option")
}

func TestGateway_PlayerResult_GoesToPlayerChannel(t *testing.T) {
	rc := makeRedis(t)
	eb := event.NewBus()
	broadcast.NewGateway(broadcast.Config{EventBus: eb, Redis: rc, Prefix: "partyquiz"})

	sub := rc.Subscribe(context.Background(), "partyquiz:player:p1")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	eb.Publish(context.Background(), domain.EventPlayerResult{
		SessionCode: "AB12CD",
		PlayerID:    "p1",
		RoundNumber: 1,
		Message:     "Correct! You earned 10 points.",
		Points:      10,
		Correct:     true,
	})
	eb.Stop()

	msg := receive(t, sub)
	require.Contains(t, msg, "Correct! You earned 10 points.")
}

type flakyRedis struct {
	fails int
	sent  []string
}

func (f *flakyRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.fails > 0 {
		f.fails--
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	f.sent = append(f.sent, channel)
	return cmd
}

func TestGateway_PublishRetriesOnceThenSwallows(t *testing.T) {
	tests := map[string]struct {
		fails    int
		wantSent int
	}{
		"should deliver on the retry after one failure": {fails: 1, wantSent: 1},
		"should swallow after the retry also fails":     {fails: 2, wantSent: 0},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			fr := &flakyRedis{fails: tt.fails}
			eb := event.NewBus()
			broadcast.NewGateway(broadcast.Config{EventBus: eb, Redis: fr, Prefix: "partyquiz"})

			eb.Publish(context.Background(), domain.EventTimerUpdate{
				SessionCode: "AB12CD",
				RoundNumber: 1,
				Remaining:   30,
			})
			eb.Stop()

			require.Len(t, fr.sent, tt.wantSent)
		})
	}
}

func makeRedis(t *testing.T) redis.UniversalClient {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(context.Background()).Err(), "should be able to ping redis")
	return rc
}

func receive(t *testing.T, sub *redis.PubSub) string {
	t.Helper()

	select {
	case m := <-sub.Channel():
		return m.Payload
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return ""
	}
}
