package round

import (
	"context"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/errors"
	"github.com/victornm/partyquiz/internal/specialist"
	"github.com/victornm/partyquiz/internal/storage"
)

type SpecialistHandlerConfig struct {
	Store storage.Store
}

// SpecialistHandler adapts the specialist-interview flavor to the Handler
// contract. Content is the interview machine's current state; answers and
// scoring flow through the interview service, not the round-end pass.
type SpecialistHandler struct {
	store storage.Store
}

func NewSpecialistHandler(c SpecialistHandlerConfig) *SpecialistHandler {
	return &SpecialistHandler{store: c.Store}
}

func (h *SpecialistHandler) Flavor() domain.Flavor { return domain.FlavorSpecialist }

func (h *SpecialistHandler) GenerateRoundData(ctx context.Context, s *domain.Session, round int) (domain.RoundContent, error) {
	perTurn := s.Config.QuestionsPerTurn
	if perTurn <= 0 {
		perTurn = specialist.DefaultQuestionsPerTurn
	}

	r, err := h.store.GetOrCreateSpecialistRound(ctx, s.Code, round, perTurn)
	if err != nil {
		return domain.RoundContent{}, err
	}

	return domain.RoundContent{
		Flavor:      domain.FlavorSpecialist,
		RoundNumber: round,
		State:       r.State,
	}, nil
}

// CreatePlayerAnswer rejects buffered answers; interview answers arrive as
// rapid-fire batches through the interview service.
func (h *SpecialistHandler) CreatePlayerAnswer(_ context.Context, _ *domain.Session, _ *domain.Player, _ string) (*domain.Answer, error) {
	return nil, errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("specialist rounds take rapid-fire batches, not buffered answers"))
}

// PerformAutomaticScoring is a no-op: interview answers were scored inline as
// each batch arrived.
func (h *SpecialistHandler) PerformAutomaticScoring(_ context.Context, _ *domain.Session, _ []domain.Answer) error {
	return nil
}

func (h *SpecialistHandler) ShouldSendImmediateFeedback() bool { return false }
func (h *SpecialistHandler) SupportsManualValidation() bool    { return false }

func (h *SpecialistHandler) PlayerFeedbackMessage(_ context.Context, _ *domain.Session, _ domain.Answer) (string, error) {
	return "", nil
}
