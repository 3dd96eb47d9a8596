// Package specialist runs the specialist-interview round: individual timed
// rapid-fire turns on each player's own topic, then one shared
// general-knowledge phase. The round state is an explicit machine persisted
// per (session, round); every transition validates the current state first.
package specialist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/partyquiz/internal/content"
	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/errors"
	"github.com/victornm/partyquiz/internal/event"
	"github.com/victornm/partyquiz/internal/ledger"
	"github.com/victornm/partyquiz/internal/storage"
)

// DefaultQuestionsPerTurn applies when the session config leaves the
// per-player question count unset.
const DefaultQuestionsPerTurn = 20

const (
	pointsPerCorrect   = 10
	defaultTurnSeconds = 90

	// sharedSetID keys the general-knowledge question set, which is generated
	// once and identical for every player.
	sharedSetID = ""
)

type Config struct {
	Store    storage.Store
	Source   content.Source
	Ledger   *ledger.Service
	EventBus *event.Bus
	Clock    clockwork.Clock
}

type Service struct {
	store  storage.Store
	source content.Source
	ledger *ledger.Service
	eb     *event.Bus
	clock  clockwork.Clock
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	return &Service{
		store:  c.Store,
		source: c.Source,
		ledger: c.Ledger,
		eb:     c.EventBus,
		clock:  c.Clock,
	}
}

// SelectPlayer moves waiting_for_player_selection to asking_ready. The player
// must be connected, carry a specialist topic, and not have completed their
// turn already; anything else is a validation failure, not a crash.
func (s *Service) SelectPlayer(ctx context.Context, ss *domain.Session, round int, playerID string) (*domain.SpecialistRound, error) {
	r, err := s.round(ctx, ss, round)
	if err != nil {
		return nil, err
	}
	if r.State != domain.StateWaitingForSelection {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot select a player in state %s", r.State))
	}

	p, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	switch {
	case !p.Connected:
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("player %s is not connected", p.Name))
	case p.SpecialistTopic == "":
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("player %s has no specialist topic", p.Name))
	case r.Completed(playerID):
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("player %s already completed their turn", p.Name))
	}

	r.CurrentPlayerID = playerID
	r.State = domain.StateAskingReady
	r.QuestionIndex = 0
	if err := s.store.UpdateSpecialistRound(ctx, r); err != nil {
		return nil, err
	}

	// Pre-load the player's fixed question set now so "ready" starts the
	// turn without a generation pause. Generated once, immutable after.
	if err := s.ensureQuestionSet(ctx, ss, round, playerID, p.SpecialistTopic); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventPlayerSelected{
		SessionCode: ss.Code,
		RoundNumber: round,
		Player:      *p,
	})

	return r, nil
}

// ReadyResponse moves asking_ready to playing on yes, or back to selection on
// no. On yes the turn clock starts; the caller starts the round timer.
func (s *Service) ReadyResponse(ctx context.Context, ss *domain.Session, round int, ready bool) (*domain.SpecialistRound, error) {
	r, err := s.round(ctx, ss, round)
	if err != nil {
		return nil, err
	}
	if r.State != domain.StateAskingReady {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot process ready response in state %s", r.State))
	}

	playerID := r.CurrentPlayerID
	if ready {
		now := s.clock.Now()
		r.State = domain.StatePlaying
		r.QuestionIndex = 0
		r.StartedAt = &now
	} else {
		r.State = domain.StateWaitingForSelection
		r.CurrentPlayerID = ""
	}
	if err := s.store.UpdateSpecialistRound(ctx, r); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventReadyResponse{
		SessionCode: ss.Code,
		RoundNumber: round,
		PlayerID:    playerID,
		Ready:       ready,
	})

	return r, nil
}

// Questions returns the player's pre-loaded set with correct options
// stripped. During the general-knowledge phase every player gets the shared
// set.
func (s *Service) Questions(ctx context.Context, ss *domain.Session, round int, playerID string) ([]domain.Question, error) {
	r, err := s.round(ctx, ss, round)
	if err != nil {
		return nil, err
	}

	setID := playerID
	if r.Phase == domain.PhaseGeneralKnowledge {
		setID = sharedSetID
	}

	qs, err := s.store.GetQuestionSet(ctx, ss.Code, round, setID)
	if err != nil {
		return nil, err
	}

	public := make([]domain.Question, 0, len(qs.Questions))
	for _, q := range qs.Questions {
		public = append(public, q.Public())
	}
	return public, nil
}

// SubmitResult summarizes one scored rapid-fire batch.
type SubmitResult struct {
	Correct int
	Total   int
	Points  int
	Phase   domain.SpecialistPhase
}

// SubmitAnswerBatch scores a rapid-fire batch inline: exact match against the
// pre-loaded set, 10 points per correct answer, one ledger entry for the
// total. A specialist batch completes the player's turn; a general-knowledge
// batch may complete the whole round once every connected player is in.
func (s *Service) SubmitAnswerBatch(ctx context.Context, ss *domain.Session, round int, playerID string, choices []string) (*SubmitResult, error) {
	r, err := s.round(ctx, ss, round)
	if err != nil {
		return nil, err
	}

	phase := r.Phase
	setID := playerID
	switch phase {
	case domain.PhaseSpecialist:
		if r.State != domain.StatePlaying {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("cannot submit answers in state %s", r.State))
		}
		if r.CurrentPlayerID != playerID {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("it is not player %s's turn", playerID))
		}
	case domain.PhaseGeneralKnowledge:
		if r.State != domain.StateGeneralKnowledge {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("cannot submit answers in state %s", r.State))
		}
		setID = sharedSetID
	}

	qs, err := s.store.GetQuestionSet(ctx, ss.Code, round, setID)
	if err != nil {
		return nil, err
	}

	res := &SubmitResult{Total: len(choices), Phase: phase}
	for i, choice := range choices {
		if i >= len(qs.Questions) {
			break
		}

		correct := choice == qs.Questions[i].Correct
		if correct {
			res.Correct++
			res.Points += pointsPerCorrect
		}

		err := s.store.CreateInterviewAnswer(ctx, &domain.InterviewAnswer{
			SessionCode:   ss.Code,
			RoundNumber:   round,
			PlayerID:      playerID,
			QuestionIndex: i,
			Phase:         phase,
			Choice:        choice,
			Correct:       correct,
		})
		if errors.Is(err, errors.CodeAlreadyExists) {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("player %s already submitted this batch", playerID))
		}
		if err != nil {
			return nil, err
		}
	}

	if res.Points > 0 {
		_, err := s.ledger.Apply(ctx, ledger.ApplyRequest{
			PlayerID:    playerID,
			SessionCode: ss.Code,
			RoundNumber: round,
			Delta:       res.Points,
			Reason:      fmt.Sprintf("rapid_fire_%s", phase),
		})
		if err != nil {
			return nil, err
		}
	}

	if phase == domain.PhaseSpecialist {
		r.CompletedPlayers[playerID] = true
		r.State = domain.StatePlayerComplete
		if err := s.store.UpdateSpecialistRound(ctx, r); err != nil {
			return nil, err
		}
	}

	s.eb.Publish(ctx, domain.EventRapidFireCompleted{
		SessionCode: ss.Code,
		RoundNumber: round,
		PlayerID:    playerID,
		Phase:       phase,
		Correct:     res.Correct,
		Total:       res.Total,
		Points:      res.Points,
	})

	if phase == domain.PhaseGeneralKnowledge {
		if _, err := s.CompleteGeneralKnowledge(ctx, ss, round); err != nil {
			slog.WarnContext(ctx, "specialist: completion check failed",
				"session", ss.Code, "round", round, "error", err)
		}
	}

	return res, nil
}

// ContinueToNextPlayer moves player_complete back to selection, or flips the
// phase to general knowledge when no eligible player remains.
func (s *Service) ContinueToNextPlayer(ctx context.Context, ss *domain.Session, round int) (*domain.SpecialistRound, error) {
	r, err := s.round(ctx, ss, round)
	if err != nil {
		return nil, err
	}
	if r.State != domain.StatePlayerComplete {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot continue in state %s", r.State))
	}

	r.CurrentPlayerID = ""
	r.QuestionIndex = 0

	eligible, err := s.eligiblePlayers(ctx, ss, r)
	if err != nil {
		return nil, err
	}

	if len(eligible) > 0 {
		r.State = domain.StateWaitingForSelection
		return r, s.store.UpdateSpecialistRound(ctx, r)
	}

	// Everyone had their turn: start the shared general-knowledge phase.
	now := s.clock.Now()
	r.Phase = domain.PhaseGeneralKnowledge
	r.State = domain.StateGeneralKnowledge
	r.StartedAt = &now
	if err := s.store.UpdateSpecialistRound(ctx, r); err != nil {
		return nil, err
	}

	if err := s.ensureQuestionSet(ctx, ss, round, sharedSetID, ""); err != nil {
		return nil, err
	}

	return r, nil
}

// CompleteGeneralKnowledge closes the round once every connected player has
// submitted or the window (double the per-player duration) elapsed, whichever
// comes first. Returns whether the round is now all_complete.
func (s *Service) CompleteGeneralKnowledge(ctx context.Context, ss *domain.Session, round int) (bool, error) {
	r, err := s.round(ctx, ss, round)
	if err != nil {
		return false, err
	}
	if r.Phase != domain.PhaseGeneralKnowledge {
		return false, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("not in the general-knowledge phase"))
	}
	if r.State == domain.StateAllComplete {
		return true, nil
	}

	connected, err := s.store.ListPlayers(ctx, ss.Code, true)
	if err != nil {
		return false, err
	}

	answered, err := s.store.CountPhaseRespondents(ctx, ss.Code, round, domain.PhaseGeneralKnowledge)
	if err != nil {
		return false, err
	}

	expired := false
	if r.StartedAt != nil {
		expired = s.clock.Now().Sub(*r.StartedAt) > s.window(ss)
	}

	if answered < len(connected) && !expired {
		return false, nil
	}

	r.State = domain.StateAllComplete
	if err := s.store.UpdateSpecialistRound(ctx, r); err != nil {
		return false, err
	}

	slog.InfoContext(ctx, "specialist: general knowledge complete",
		"session", ss.Code, "round", round, "answered", answered, "players", len(connected))
	return true, nil
}

// TurnDuration is how long one player's rapid-fire turn runs.
func (s *Service) TurnDuration(ss *domain.Session) time.Duration {
	secs := ss.Config.TurnSeconds
	if secs <= 0 {
		secs = defaultTurnSeconds
	}
	return time.Duration(secs) * time.Second
}

func (s *Service) window(ss *domain.Session) time.Duration {
	return 2 * s.TurnDuration(ss)
}

func (s *Service) round(ctx context.Context, ss *domain.Session, round int) (*domain.SpecialistRound, error) {
	perTurn := ss.Config.QuestionsPerTurn
	if perTurn <= 0 {
		perTurn = DefaultQuestionsPerTurn
	}
	return s.store.GetOrCreateSpecialistRound(ctx, ss.Code, round, perTurn)
}

// ensureQuestionSet generates and stores the set once; a concurrent or
// repeated call reuses the stored one.
func (s *Service) ensureQuestionSet(ctx context.Context, ss *domain.Session, round int, setID, topic string) error {
	_, err := s.store.GetQuestionSet(ctx, ss.Code, round, setID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errors.CodeNotFound) {
		return err
	}

	perTurn := ss.Config.QuestionsPerTurn
	if perTurn <= 0 {
		perTurn = DefaultQuestionsPerTurn
	}

	qs, err := s.source.Questions(ctx, topic, perTurn)
	if err != nil {
		slog.WarnContext(ctx, "specialist: question source unavailable, using fallback",
			"session", ss.Code, "round", round, "topic", topic, "error", err)
		qs, err = content.NewStatic().Questions(ctx, topic, perTurn)
		if err != nil {
			return err
		}
	}

	err = s.store.CreateQuestionSet(ctx, &domain.PlayerQuestionSet{
		SessionCode: ss.Code,
		RoundNumber: round,
		PlayerID:    setID,
		Questions:   qs,
	})
	if errors.Is(err, errors.CodeAlreadyExists) {
		return nil
	}
	return err
}

func (s *Service) eligiblePlayers(ctx context.Context, ss *domain.Session, r *domain.SpecialistRound) ([]domain.Player, error) {
	players, err := s.store.ListPlayers(ctx, ss.Code, true)
	if err != nil {
		return nil, err
	}

	eligible := make([]domain.Player, 0, len(players))
	for _, p := range players {
		if p.SpecialistTopic != "" && !r.Completed(p.ID) {
			eligible = append(eligible, p)
		}
	}
	return eligible, nil
}
