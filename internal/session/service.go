// Package session is the coordinator: it owns session-level state (status,
// round counter, active flag) and sequences round start and end across the
// lock service, answer buffer, round handlers, ledger and timer.
package session

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/victornm/partyquiz/internal/answers"
	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/errors"
	"github.com/victornm/partyquiz/internal/event"
	"github.com/victornm/partyquiz/internal/ledger"
	"github.com/victornm/partyquiz/internal/round"
	"github.com/victornm/partyquiz/internal/specialist"
	"github.com/victornm/partyquiz/internal/storage"
	"github.com/victornm/partyquiz/internal/timer"
)

const (
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength     = 6
	codeMaxRetries = 5

	defaultMaxPlayers   = 10
	defaultNumRounds    = 3
	defaultRoundSeconds = 60

	// Disconnect signals inside this window after a start broadcast are
	// client navigation artifacts, not real departures.
	disconnectGrace = 5 * time.Second
)

// CacheInvalidator drops cached round content on restart.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context, code string) error
}

type Config struct {
	Store      storage.Store
	Registry   *round.Registry
	Buffer     *answers.Buffer
	Ledger     *ledger.Service
	Specialist *specialist.Service
	Timer      *timer.Runner
	EventBus   *event.Bus
	Cache      CacheInvalidator
	Clock      clockwork.Clock
}

type Service struct {
	store      storage.Store
	registry   *round.Registry
	buffer     *answers.Buffer
	ledger     *ledger.Service
	specialist *specialist.Service
	timer      *timer.Runner
	eb         *event.Bus
	cache      CacheInvalidator
	clock      clockwork.Clock

	mu          sync.Mutex
	lastStarted map[string]time.Time
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	return &Service{
		store:       c.Store,
		registry:    c.Registry,
		buffer:      c.Buffer,
		ledger:      c.Ledger,
		specialist:  c.Specialist,
		timer:       c.Timer,
		eb:          c.EventBus,
		cache:       c.Cache,
		clock:       c.Clock,
		lastStarted: make(map[string]time.Time),
	}
}

type CreateSessionRequest struct {
	MaxPlayers int
	Config     domain.SessionConfig
}

// CreateSession creates a new waiting session under a fresh short code.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if req.MaxPlayers <= 0 {
		req.MaxPlayers = defaultMaxPlayers
	}
	if req.Config.NumRounds <= 0 {
		req.Config.NumRounds = defaultNumRounds
	}
	if req.Config.RoundSeconds <= 0 {
		req.Config.RoundSeconds = defaultRoundSeconds
	}
	if len(req.Config.FlavorSequence) == 0 {
		req.Config.FlavorSequence = defaultFlavorSequence(req.Config.NumRounds)
	}

	for attempt := 0; attempt < codeMaxRetries; attempt++ {
		ss := &domain.Session{
			Code:       generateCode(),
			Status:     domain.StatusWaiting,
			MaxPlayers: req.MaxPlayers,
			Config:     req.Config,
			CreatedAt:  s.clock.Now(),
		}

		err := s.store.CreateSession(ctx, ss)
		if errors.Is(err, errors.CodeAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return ss, nil
	}

	return nil, errors.New(errors.CodeInternal,
		errors.WithMessagef("could not allocate a session code"))
}

type JoinRequest struct {
	Code            string
	Name            string
	SpecialistTopic string
}

// Join adds a player to a waiting session. Joining with a name already in the
// session reconnects that player instead of erroring, so a browser refresh in
// the lobby is harmless.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*domain.Player, error) {
	ss, err := s.store.GetSession(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("player name is required"))
	}

	if existing, err := s.store.FindPlayerByName(ctx, req.Code, name); err == nil {
		existing.Connected = true
		if req.SpecialistTopic != "" {
			existing.SpecialistTopic = req.SpecialistTopic
		}
		if err := s.store.UpdatePlayer(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	} else if !errors.Is(err, errors.CodeNotFound) {
		return nil, err
	}

	players, err := s.store.ListPlayers(ctx, req.Code, false)
	if err != nil {
		return nil, err
	}
	if !ss.CanJoin(len(players)) {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s is not joinable", req.Code))
	}

	p := &domain.Player{
		ID:              uuid.NewString(),
		Name:            name,
		SessionCode:     req.Code,
		Connected:       true,
		SpecialistTopic: req.SpecialistTopic,
		JoinedAt:        s.clock.Now(),
	}
	if err := s.store.CreatePlayer(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// StartGame moves a waiting session to active.
func (s *Service) StartGame(ctx context.Context, code string) (*domain.Session, error) {
	ss, err := s.store.GetSession(ctx, code)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.StatusWaiting {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("game already %s", ss.Status))
	}

	players, err := s.store.ListPlayers(ctx, code, true)
	if err != nil {
		return nil, err
	}
	if len(players) == 0 {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot start a game with no players"))
	}

	now := s.clock.Now()
	ss.Status = domain.StatusActive
	ss.StartedAt = &now
	if err := s.store.UpdateSession(ctx, ss); err != nil {
		return nil, err
	}

	s.markStarted(code)
	s.eb.Publish(ctx, domain.EventGameStarted{
		Session:     *ss,
		PlayerCount: len(players),
	})

	return ss, nil
}

// StartRound advances the counter and opens the next round. A still-active
// round is ended first; when all configured rounds are played, the game
// finishes instead.
func (s *Service) StartRound(ctx context.Context, code string) (*domain.Session, *domain.RoundContent, error) {
	ss, err := s.store.GetSession(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if ss.Status != domain.StatusActive {
		return nil, nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("game is %s", ss.Status))
	}

	if ss.RoundActive {
		if err := s.EndRound(ctx, code); err != nil && !errors.Is(err, errors.CodeFailedPrecondition) {
			return nil, nil, err
		}
		if ss, err = s.store.GetSession(ctx, code); err != nil {
			return nil, nil, err
		}
	}

	if ss.RoundNumber >= ss.Config.NumRounds {
		ss, err := s.finishGame(ctx, ss)
		return ss, nil, err
	}

	now := s.clock.Now()
	ss.RoundNumber++
	ss.RoundActive = true
	ss.RoundStartedAt = &now
	if err := s.store.UpdateSession(ctx, ss); err != nil {
		return nil, nil, err
	}

	h, err := s.registry.ForRound(ss, ss.RoundNumber)
	if err != nil {
		return nil, nil, err
	}

	content, err := h.GenerateRoundData(ctx, ss, ss.RoundNumber)
	if err != nil {
		return nil, nil, err
	}

	s.markStarted(code)
	s.eb.Publish(ctx, domain.EventRoundStarted{
		Session: *ss,
		Content: content,
	})

	// Specialist rounds run on the interview machine's own turn clock, which
	// starts when a selected player answers ready.
	if content.Flavor != domain.FlavorSpecialist {
		d := time.Duration(ss.Config.RoundSeconds) * time.Second
		s.timer.Start(ctx, code, ss.RoundNumber, d, s.expireRound(code))
	}

	return ss, &content, nil
}

// EndRound runs the flush, score and broadcast sequence for the active round.
// The active flag flips first and atomically, so a timer expiry racing an
// operator's click fires the sequence exactly once.
func (s *Service) EndRound(ctx context.Context, code string) error {
	ss, err := s.store.GetSession(ctx, code)
	if err != nil {
		return err
	}

	flipped, err := s.store.EndRoundIfActive(ctx, code, ss.RoundNumber)
	if err != nil {
		return err
	}
	if !flipped {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no active round to end"))
	}

	s.timer.Stop(code)
	ss.RoundActive = false

	h, err := s.registry.ForRound(ss, ss.RoundNumber)
	if err != nil {
		return err
	}

	err = s.buffer.Flush(ctx, code, ss.RoundNumber, func(ctx context.Context, playerID, text string) error {
		p, err := s.store.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		_, err = h.CreatePlayerAnswer(ctx, ss, p, text)
		return err
	})
	if err != nil {
		return err
	}

	roundAnswers, err := s.store.ListRoundAnswers(ctx, code, ss.RoundNumber)
	if err != nil {
		return err
	}

	if err := h.PerformAutomaticScoring(ctx, ss, roundAnswers); err != nil {
		return err
	}

	if h.ShouldSendImmediateFeedback() {
		s.sendFeedback(ctx, ss, h, code)
	}

	ss.RoundStartedAt = nil
	if err := s.store.UpdateSession(ctx, ss); err != nil {
		return err
	}

	scored, err := s.store.ListRoundAnswers(ctx, code, ss.RoundNumber)
	if err != nil {
		return err
	}

	content, err := h.GenerateRoundData(ctx, ss, ss.RoundNumber)
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventRoundEnded{
		Session:    *ss,
		Content:    content,
		Answers:    scored,
		FinalRound: ss.RoundNumber >= ss.Config.NumRounds,
	})

	return nil
}

// expireRound is the timer's end-of-round callback. A manual end has already
// flipped the active flag, which turns this into a logged no-op.
func (s *Service) expireRound(code string) func(ctx context.Context) {
	return func(ctx context.Context) {
		err := s.EndRound(ctx, code)
		if errors.Is(err, errors.CodeFailedPrecondition) {
			slog.InfoContext(ctx, "session: timer fired after round already ended", "session", code)
			return
		}
		if err != nil {
			slog.ErrorContext(ctx, "session: end round on expiry failed", "session", code, "error", err)
		}
	}
}

// RestartGame resets the session record in place: round counter to zero,
// status back to waiting, scores zeroed through compensating ledger entries,
// buffered answers and cached content dropped. The session row survives so
// the code stays valid.
func (s *Service) RestartGame(ctx context.Context, code string) (*domain.Session, error) {
	ss, err := s.store.GetSession(ctx, code)
	if err != nil {
		return nil, err
	}

	s.timer.Stop(code)

	ss.Status = domain.StatusWaiting
	ss.RoundNumber = 0
	ss.RoundActive = false
	ss.RoundStartedAt = nil
	ss.StartedAt = nil
	ss.FinishedAt = nil
	if err := s.store.UpdateSession(ctx, ss); err != nil {
		return nil, err
	}

	if err := s.buffer.ClearSession(ctx, code); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.InvalidateCache(ctx, code); err != nil {
			slog.WarnContext(ctx, "session: cache invalidation failed", "session", code, "error", err)
		}
	}
	if err := s.store.DeleteSessionAnswers(ctx, code); err != nil {
		return nil, err
	}

	players, err := s.store.ListPlayers(ctx, code, false)
	if err != nil {
		return nil, err
	}
	for i := range players {
		p := players[i]

		if p.Score != 0 {
			_, err := s.ledger.Apply(ctx, ledger.ApplyRequest{
				PlayerID:    p.ID,
				SessionCode: code,
				Delta:       -p.Score,
				Reason:      "game_restart",
			})
			if err != nil {
				return nil, err
			}
			// The apply step materialized the zeroed score onto the player
			// row; keep the local copy in step so the write below does not
			// resurrect the old score.
			p.Score = 0
		}

		p.Streak = 0
		p.Connected = true
		if err := s.store.UpdatePlayer(ctx, &p); err != nil {
			return nil, err
		}
	}

	slog.InfoContext(ctx, "session: game restarted", "session", code)
	return ss, nil
}

// SubmitAnswer buffers a player's answer for the active round.
func (s *Service) SubmitAnswer(ctx context.Context, code, playerID, text string) error {
	ss, err := s.store.GetSession(ctx, code)
	if err != nil {
		return err
	}
	if !ss.RoundActive {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no active round"))
	}

	if _, err := s.store.GetPlayer(ctx, playerID); err != nil {
		return err
	}

	return s.buffer.Save(ctx, code, ss.RoundNumber, playerID, text)
}

// ValidateAnswer applies an operator's valid/invalid mark on a
// manual-validation round and pushes the private result to the player.
func (s *Service) ValidateAnswer(ctx context.Context, code, playerID string, valid bool) (*domain.Answer, error) {
	ss, err := s.store.GetSession(ctx, code)
	if err != nil {
		return nil, err
	}
	if ss.RoundNumber == 0 {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no round available for validation"))
	}

	h, err := s.registry.ForRound(ss, ss.RoundNumber)
	if err != nil {
		return nil, err
	}
	v, ok := h.(round.Validator)
	if !ok || !h.SupportsManualValidation() {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("manual validation not supported for this round flavor"))
	}

	a, err := v.ValidateAnswerManually(ctx, ss, playerID, ss.RoundNumber, valid)
	if err != nil {
		return nil, err
	}

	msg, err := h.PlayerFeedbackMessage(ctx, ss, *a)
	if err != nil {
		return nil, err
	}
	s.eb.Publish(ctx, domain.EventPlayerResult{
		SessionCode: code,
		PlayerID:    playerID,
		RoundNumber: ss.RoundNumber,
		Message:     msg,
		Points:      a.Points,
		Correct:     a.Valid,
	})

	return a, nil
}

// Disconnect flips the player's connectivity flag, unless the signal lands
// inside the grace window after a start broadcast.
func (s *Service) Disconnect(ctx context.Context, code, playerID string) error {
	if s.inGraceWindow(code) {
		slog.InfoContext(ctx, "session: disconnect suppressed by grace window",
			"session", code, "player", playerID)
		return nil
	}

	p, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}

	p.Connected = false
	return s.store.UpdatePlayer(ctx, p)
}

// Status is a read-only session snapshot.
type Status struct {
	Session domain.Session  `json:"session"`
	Players []domain.Player `json:"players"`
}

func (s *Service) Status(ctx context.Context, code string) (*Status, error) {
	ss, err := s.store.GetSession(ctx, code)
	if err != nil {
		return nil, err
	}
	players, err := s.store.ListPlayers(ctx, code, false)
	if err != nil {
		return nil, err
	}
	return &Status{Session: *ss, Players: players}, nil
}

// Standings returns connected players ordered by score descending.
func (s *Service) Standings(ctx context.Context, code string) ([]domain.StandingsEntry, error) {
	players, err := s.store.ListPlayers(ctx, code, true)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.StandingsEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, domain.StandingsEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
	return entries, nil
}

// SelectPlayer forwards the operator's pick to the interview machine.
func (s *Service) SelectPlayer(ctx context.Context, code, playerID string) (*domain.SpecialistRound, error) {
	ss, err := s.activeSpecialistSession(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.specialist.SelectPlayer(ctx, ss, ss.RoundNumber, playerID)
}

// ReadyResponse forwards the ready answer; a yes starts the turn clock.
func (s *Service) ReadyResponse(ctx context.Context, code string, ready bool) (*domain.SpecialistRound, error) {
	ss, err := s.activeSpecialistSession(ctx, code)
	if err != nil {
		return nil, err
	}

	r, err := s.specialist.ReadyResponse(ctx, ss, ss.RoundNumber, ready)
	if err != nil {
		return nil, err
	}

	if ready {
		now := s.clock.Now()
		ss.RoundActive = true
		ss.RoundStartedAt = &now
		if err := s.store.UpdateSession(ctx, ss); err != nil {
			return nil, err
		}

		s.markStarted(code)
		s.timer.Start(ctx, code, ss.RoundNumber, s.specialist.TurnDuration(ss), s.expireTurn(code, ss.RoundNumber))
	}

	return r, nil
}

// ContinueToNextPlayer advances the interview machine; entering the shared
// general-knowledge phase starts its doubled window.
func (s *Service) ContinueToNextPlayer(ctx context.Context, code string) (*domain.SpecialistRound, error) {
	ss, err := s.activeSpecialistSession(ctx, code)
	if err != nil {
		return nil, err
	}

	r, err := s.specialist.ContinueToNextPlayer(ctx, ss, ss.RoundNumber)
	if err != nil {
		return nil, err
	}

	if r.State == domain.StateGeneralKnowledge {
		now := s.clock.Now()
		ss.RoundActive = true
		ss.RoundStartedAt = &now
		if err := s.store.UpdateSession(ctx, ss); err != nil {
			return nil, err
		}

		s.markStarted(code)
		s.timer.Start(ctx, code, ss.RoundNumber, 2*s.specialist.TurnDuration(ss), func(ctx context.Context) {
			if _, err := s.specialist.CompleteGeneralKnowledge(ctx, ss, ss.RoundNumber); err != nil {
				slog.ErrorContext(ctx, "session: general knowledge completion failed",
					"session", code, "error", err)
			}
			if _, err := s.store.EndRoundIfActive(ctx, code, ss.RoundNumber); err != nil {
				slog.ErrorContext(ctx, "session: end round flag flip failed",
					"session", code, "error", err)
			}
		})
	}

	return r, nil
}

// SubmitAnswerBatch forwards a rapid-fire batch to the interview machine.
func (s *Service) SubmitAnswerBatch(ctx context.Context, code, playerID string, choices []string) (*specialist.SubmitResult, error) {
	ss, err := s.activeSpecialistSession(ctx, code)
	if err != nil {
		return nil, err
	}

	res, err := s.specialist.SubmitAnswerBatch(ctx, ss, ss.RoundNumber, playerID, choices)
	if err != nil {
		return nil, err
	}

	// A finished specialist turn releases the turn clock for the next player.
	if res.Phase == domain.PhaseSpecialist {
		s.timer.Stop(code)
		if _, err := s.store.EndRoundIfActive(ctx, code, ss.RoundNumber); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// SpecialistQuestions returns the asking player's stripped question set.
func (s *Service) SpecialistQuestions(ctx context.Context, code, playerID string) ([]domain.Question, error) {
	ss, err := s.activeSpecialistSession(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.specialist.Questions(ctx, ss, ss.RoundNumber, playerID)
}

func (s *Service) activeSpecialistSession(ctx context.Context, code string) (*domain.Session, error) {
	ss, err := s.store.GetSession(ctx, code)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.StatusActive || ss.RoundNumber == 0 {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no round in progress"))
	}
	if ss.Config.FlavorFor(ss.RoundNumber) != domain.FlavorSpecialist {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("round %d is not a specialist round", ss.RoundNumber))
	}
	return ss, nil
}

// expireTurn closes a specialist turn whose clock ran out. The player's batch
// may still arrive and is scored; only the ticking stops.
func (s *Service) expireTurn(code string, round int) func(ctx context.Context) {
	return func(ctx context.Context) {
		if _, err := s.store.EndRoundIfActive(ctx, code, round); err != nil {
			slog.ErrorContext(ctx, "session: turn expiry failed", "session", code, "error", err)
		}
	}
}

// sendFeedback pushes each scored answer's private result to its player.
func (s *Service) sendFeedback(ctx context.Context, ss *domain.Session, h round.Handler, code string) {
	scored, err := s.store.ListRoundAnswers(ctx, code, ss.RoundNumber)
	if err != nil {
		slog.ErrorContext(ctx, "session: list answers for feedback failed", "session", code, "error", err)
		return
	}

	for _, a := range scored {
		msg, err := h.PlayerFeedbackMessage(ctx, ss, a)
		if err != nil {
			slog.ErrorContext(ctx, "session: feedback message failed",
				"session", code, "player", a.PlayerID, "error", err)
			continue
		}

		s.eb.Publish(ctx, domain.EventPlayerResult{
			SessionCode: code,
			PlayerID:    a.PlayerID,
			RoundNumber: ss.RoundNumber,
			Message:     msg,
			Points:      a.Points,
			Correct:     a.Valid,
		})
	}
}

func (s *Service) finishGame(ctx context.Context, ss *domain.Session) (*domain.Session, error) {
	now := s.clock.Now()
	ss.Status = domain.StatusFinished
	ss.FinishedAt = &now
	if err := s.store.UpdateSession(ctx, ss); err != nil {
		return nil, err
	}

	standings, err := s.Standings(ctx, ss.Code)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventGameComplete{
		Session:   *ss,
		Standings: standings,
	})

	return ss, nil
}

func (s *Service) markStarted(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStarted[code] = s.clock.Now()
}

func (s *Service) inGraceWindow(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastStarted[code]
	return ok && s.clock.Now().Sub(last) < disconnectGrace
}

func defaultFlavorSequence(n int) []domain.Flavor {
	base := []domain.Flavor{
		domain.FlavorCategoryLetter,
		domain.FlavorMultipleChoice,
		domain.FlavorSpecialist,
	}

	seq := make([]domain.Flavor, n)
	for i := range seq {
		seq[i] = base[i%len(base)]
	}
	return seq
}

func generateCode() string {
	var b strings.Builder
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}
	return b.String()
}
