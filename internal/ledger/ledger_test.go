package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/event"
	"github.com/victornm/partyquiz/internal/ledger"
	"github.com/victornm/partyquiz/internal/storage"
)

func TestService_Apply(t *testing.T) {
	type (
		inputs struct {
			requests []ledger.ApplyRequest
		}

		outputs struct {
			score   int
			entries int
			events  []domain.EventScoreUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should materialize the score as the sum of entries": {
			arrange: func() inputs {
				return inputs{
					requests: []ledger.ApplyRequest{
						{PlayerID: "p1", SessionCode: "AB12CD", RoundNumber: 1, Delta: 10, Reason: "correct answer"},
						{PlayerID: "p1", SessionCode: "AB12CD", RoundNumber: 2, Delta: 15, Reason: "correct answer"},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Equal(t, 25, out.score)
				require.Equal(t, 2, out.entries)
			},
		},

		"should keep negative corrections as ordinary entries": {
			arrange: func() inputs {
				return inputs{
					requests: []ledger.ApplyRequest{
						{PlayerID: "p1", SessionCode: "AB12CD", RoundNumber: 1, Delta: 10, Reason: "valid unique answer"},
						{PlayerID: "p1", SessionCode: "AB12CD", RoundNumber: 1, Delta: -5, Reason: "validation correction"},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Equal(t, 5, out.score)
				require.Equal(t, 2, out.entries, "correction must append, not rewrite")
			},
		},

		"should publish score-update per applied entry": {
			arrange: func() inputs {
				return inputs{
					requests: []ledger.ApplyRequest{
						{PlayerID: "p1", SessionCode: "AB12CD", RoundNumber: 1, Delta: 10, Reason: "correct answer"},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.events, 1)
				require.Equal(t, 10, out.events[0].Delta)
				require.Equal(t, 10, out.events[0].Player.Score)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in, out := tt.arrange(), outputs{}

			store := storage.NewMemory()
			require.NoError(t, store.CreatePlayer(ctx, &domain.Player{ID: "p1", SessionCode: "AB12CD", Connected: true}))

			eb := event.NewBus()
			var mu sync.Mutex
			eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.events = append(out.events, e.(domain.EventScoreUpdated))
				mu.Unlock()
				return nil
			})

			s := ledger.NewService(ledger.Config{Store: store, EventBus: eb})

			for _, req := range in.requests {
				_, err := s.Apply(ctx, req)
				require.NoError(t, err)
			}
			eb.Stop()

			p, err := store.GetPlayer(ctx, "p1")
			require.NoError(t, err)
			out.score = p.Score

			entries, err := s.Entries(ctx, "p1")
			require.NoError(t, err)
			out.entries = len(entries)

			tt.assert(t, out)
		})
	}
}

func TestService_RoundTotal(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.CreatePlayer(ctx, &domain.Player{ID: "p1", SessionCode: "AB12CD"}))

	s := ledger.NewService(ledger.Config{Store: store, EventBus: event.NewBus()})

	_, err := s.Apply(ctx, ledger.ApplyRequest{PlayerID: "p1", SessionCode: "AB12CD", RoundNumber: 1, Delta: 10})
	require.NoError(t, err)
	_, err = s.Apply(ctx, ledger.ApplyRequest{PlayerID: "p1", SessionCode: "AB12CD", RoundNumber: 2, Delta: 15})
	require.NoError(t, err)

	got, err := s.RoundTotal(ctx, "p1", 1)
	require.NoError(t, err)
	require.Equal(t, 10, got)
}
