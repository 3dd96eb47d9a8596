package round_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/event"
	"github.com/victornm/partyquiz/internal/ledger"
	"github.com/victornm/partyquiz/internal/round"
	"github.com/victornm/partyquiz/internal/storage"
)

func TestCategoryLetter_GenerateRoundData_Deterministic(t *testing.T) {
	s := &domain.Session{
		Code: "AB12CD",
		Config: domain.SessionConfig{
			FlavorSequence: []domain.Flavor{
				domain.FlavorCategoryLetter,
				domain.FlavorCategoryLetter,
				domain.FlavorCategoryLetter,
			},
		},
	}

	h := round.NewCategoryLetter(round.CategoryLetterConfig{
		Store:  storage.NewMemory(),
		Ledger: makeLedger(t, storage.NewMemory()),
	})

	first, err := h.GenerateRoundData(context.Background(), s, 3)
	require.NoError(t, err)

	// A fresh handler stands in for a process restart.
	again := round.NewCategoryLetter(round.CategoryLetterConfig{
		Store:  storage.NewMemory(),
		Ledger: makeLedger(t, storage.NewMemory()),
	})
	second, err := again.GenerateRoundData(context.Background(), s, 3)
	require.NoError(t, err)

	require.Equal(t, first.Category, second.Category, "category must survive a restart")
	require.Equal(t, first.Letter, second.Letter, "letter must survive a restart")
	require.NotEmpty(t, first.Letter)
	require.Contains(t, first.Prompt, first.Letter)
}

func TestCategoryLetter_GenerateRoundData_NoLetterRepeats(t *testing.T) {
	seq := make([]domain.Flavor, 10)
	for i := range seq {
		seq[i] = domain.FlavorCategoryLetter
	}
	s := &domain.Session{
		Code:   "XY34ZW",
		Config: domain.SessionConfig{FlavorSequence: seq},
	}

	h := round.NewCategoryLetter(round.CategoryLetterConfig{
		Store:  storage.NewMemory(),
		Ledger: makeLedger(t, storage.NewMemory()),
	})

	seen := make(map[string]bool)
	for r := 1; r <= 10; r++ {
		content, err := h.GenerateRoundData(context.Background(), s, r)
		require.NoError(t, err)
		require.False(t, seen[content.Letter], "letter %s repeated in round %d", content.Letter, r)
		seen[content.Letter] = true
	}
}

func TestCategoryLetter_Scoring(t *testing.T) {
	type (
		inputs struct {
			answers []domain.Answer
			marks   map[string]bool // playerID -> operator's valid mark
		}

		outputs struct {
			answers map[string]domain.Answer
			scores  map[string]int
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should flag shared text non-unique and pay the duplicate tier": {
			arrange: func() inputs {
				return inputs{
					answers: []domain.Answer{
						{PlayerID: "p1", Text: "Rose"},
						{PlayerID: "p2", Text: " rose "},
					},
					marks: map[string]bool{"p1": true, "p2": true},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.False(t, out.answers["p1"].Unique)
				require.False(t, out.answers["p2"].Unique)
				require.Equal(t, 5, out.scores["p1"])
				require.Equal(t, 5, out.scores["p2"])
			},
		},

		"should pay the unique tier for a unique valid answer": {
			arrange: func() inputs {
				return inputs{
					answers: []domain.Answer{
						{PlayerID: "p1", Text: "Rose"},
						{PlayerID: "p2", Text: "Rhubarb"},
					},
					marks: map[string]bool{"p1": true, "p2": true},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.True(t, out.answers["p1"].Unique)
				require.Equal(t, 10, out.scores["p1"])
				require.Equal(t, 10, out.scores["p2"])
			},
		},

		"should pay nothing for an invalid answer": {
			arrange: func() inputs {
				return inputs{
					answers: []domain.Answer{
						{PlayerID: "p1", Text: "Xylophone"},
					},
					marks: map[string]bool{"p1": false},
				}
			},
			assert: func(t *testing.T, out outputs) {
				require.Equal(t, 0, out.scores["p1"])
				require.False(t, out.answers["p1"].Valid)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := tt.arrange()

			store := storage.NewMemory()
			s := &domain.Session{
				Code:        "AB12CD",
				RoundNumber: 1,
				Config: domain.SessionConfig{
					FlavorSequence: []domain.Flavor{domain.FlavorCategoryLetter},
				},
			}
			h := round.NewCategoryLetter(round.CategoryLetterConfig{
				Store:  store,
				Ledger: makeLedger(t, store),
			})

			var answers []domain.Answer
			for _, a := range in.answers {
				require.NoError(t, store.CreatePlayer(ctx, &domain.Player{ID: a.PlayerID, SessionCode: s.Code, Connected: true}))
				created, err := h.CreatePlayerAnswer(ctx, s, &domain.Player{ID: a.PlayerID}, a.Text)
				require.NoError(t, err)
				require.False(t, created.Valid, "answers must start invalid pending review")
				answers = append(answers, *created)
			}

			require.NoError(t, h.PerformAutomaticScoring(ctx, s, answers))

			for playerID, valid := range in.marks {
				_, err := h.ValidateAnswerManually(ctx, s, playerID, 1, valid)
				require.NoError(t, err)
			}

			out := outputs{answers: map[string]domain.Answer{}, scores: map[string]int{}}
			for _, a := range in.answers {
				got, err := store.GetAnswer(ctx, a.PlayerID, 1)
				require.NoError(t, err)
				out.answers[a.PlayerID] = *got

				p, err := store.GetPlayer(ctx, a.PlayerID)
				require.NoError(t, err)
				out.scores[a.PlayerID] = p.Score
			}

			tt.assert(t, out)
		})
	}
}

func TestCategoryLetter_Revalidation_CorrectionDelta(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := &domain.Session{
		Code:        "AB12CD",
		RoundNumber: 1,
		Config: domain.SessionConfig{
			FlavorSequence: []domain.Flavor{domain.FlavorCategoryLetter},
		},
	}
	h := round.NewCategoryLetter(round.CategoryLetterConfig{
		Store:  store,
		Ledger: makeLedger(t, store),
	})

	require.NoError(t, store.CreatePlayer(ctx, &domain.Player{ID: "p1", SessionCode: s.Code, Connected: true}))
	a, err := h.CreatePlayerAnswer(ctx, s, &domain.Player{ID: "p1"}, "Rose")
	require.NoError(t, err)
	require.NoError(t, h.PerformAutomaticScoring(ctx, s, []domain.Answer{*a}))

	// Valid and unique pays 10, then the operator reverses the call.
	_, err = h.ValidateAnswerManually(ctx, s, "p1", 1, true)
	require.NoError(t, err)
	_, err = h.ValidateAnswerManually(ctx, s, "p1", 1, false)
	require.NoError(t, err)

	p, err := store.GetPlayer(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 0, p.Score, "reversal must net to the invalid tier")

	entries, err := store.ListEntries(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 2, "correction must be one delta entry, not an overwrite")
	require.Equal(t, 10, entries[0].Delta)
	require.Equal(t, -10, entries[1].Delta)
}

func makeLedger(t *testing.T, store storage.Store) *ledger.Service {
	t.Helper()
	return ledger.NewService(ledger.Config{Store: store, EventBus: event.NewBus()})
}
