package round

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/partyquiz/internal/content"
	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/errors"
	"github.com/victornm/partyquiz/internal/ledger"
	"github.com/victornm/partyquiz/internal/lock"
	"github.com/victornm/partyquiz/internal/storage"
)

const (
	basePoints  = 10
	streakBonus = 5
	contentTTL  = time.Hour
)

type MultipleChoiceConfig struct {
	Store  storage.Store
	Redis  redis.UniversalClient
	Lock   *lock.Service
	Source content.Source
	Ledger *ledger.Service
	Prefix string
}

// MultipleChoice asks one question per round and scores automatically with a
// streak bonus. The round's question is decided once behind the lock service
// and memoized, so concurrent callers never settle on two questions.
type MultipleChoice struct {
	store  storage.Store
	redis  redis.UniversalClient
	lock   *lock.Service
	source content.Source
	ledger *ledger.Service
	prefix string
}

func NewMultipleChoice(c MultipleChoiceConfig) *MultipleChoice {
	return &MultipleChoice{
		store:  c.Store,
		redis:  c.Redis,
		lock:   c.Lock,
		source: c.Source,
		ledger: c.Ledger,
		prefix: c.Prefix,
	}
}

func (h *MultipleChoice) Flavor() domain.Flavor { return domain.FlavorMultipleChoice }

func (h *MultipleChoice) GenerateRoundData(ctx context.Context, s *domain.Session, round int) (domain.RoundContent, error) {
	q, err := h.question(ctx, s, round)
	if err != nil {
		return domain.RoundContent{}, err
	}

	return domain.RoundContent{
		Flavor:      domain.FlavorMultipleChoice,
		RoundNumber: round,
		Category:    q.Category,
		Question:    &q,
	}, nil
}

// question resolves the round's question: cache, then store, then a locked
// decide-and-persist. SaveRoundQuestion is first-writer-wins, so even a
// lockless race converges on one stored question.
func (h *MultipleChoice) question(ctx context.Context, s *domain.Session, round int) (domain.Question, error) {
	key := h.cacheKey(s.Code, round)

	if raw, err := h.redis.Get(ctx, key).Bytes(); err == nil {
		var q domain.Question
		if err := json.Unmarshal(raw, &q); err == nil {
			return q, nil
		}
	}

	if q, err := h.store.GetRoundQuestion(ctx, s.Code, round); err == nil {
		h.cache(ctx, key, *q)
		return *q, nil
	} else if !errors.Is(err, errors.CodeNotFound) {
		return domain.Question{}, err
	}

	var q domain.Question
	err := h.lock.Do(ctx, fmt.Sprintf("round:%s:%d", s.Code, round), func(ctx context.Context) error {
		if stored, err := h.store.GetRoundQuestion(ctx, s.Code, round); err == nil {
			q = *stored
			return nil
		}

		picked := h.pick(ctx, s, round)
		stored, err := h.store.SaveRoundQuestion(ctx, s.Code, round, picked)
		if err != nil {
			return err
		}
		q = stored
		return nil
	})
	if err != nil {
		return domain.Question{}, err
	}

	h.cache(ctx, key, q)
	return q, nil
}

// pick asks the content source for a question, falling back deterministically
// to the built-in pool when the source cannot serve.
func (h *MultipleChoice) pick(ctx context.Context, s *domain.Session, round int) domain.Question {
	rng := rng(s.Code, round)

	category := ""
	if len(s.Config.Categories) > 0 {
		category = s.Config.Categories[rng.Intn(len(s.Config.Categories))]
	}

	qs, err := h.source.Questions(ctx, category, 1)
	if err != nil || len(qs) == 0 {
		slog.WarnContext(ctx, "round: question source unavailable, using fallback",
			"session", s.Code, "round", round, "error", err)
		return content.FallbackQuestion(rng)
	}
	return qs[0]
}

// CreatePlayerAnswer stores the answer valid, pending automatic scoring.
func (h *MultipleChoice) CreatePlayerAnswer(ctx context.Context, s *domain.Session, p *domain.Player, text string) (*domain.Answer, error) {
	a := &domain.Answer{
		PlayerID:    p.ID,
		SessionCode: s.Code,
		RoundNumber: s.RoundNumber,
		Text:        text,
		Valid:       true,
		Points:      0,
	}
	if err := h.store.CreateAnswer(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// PerformAutomaticScoring marks correctness by case-insensitive trimmed match
// against the round's correct option, awards 10 base points plus a streak
// bonus of 5 per consecutive correct answer beyond the first, and resets the
// streak on any miss.
func (h *MultipleChoice) PerformAutomaticScoring(ctx context.Context, s *domain.Session, answers []domain.Answer) error {
	if len(answers) == 0 {
		return nil
	}

	round := answers[0].RoundNumber
	q, err := h.question(ctx, s, round)
	if err != nil {
		return err
	}

	for i := range answers {
		a := answers[i]
		correct := strings.EqualFold(strings.TrimSpace(a.Text), strings.TrimSpace(q.Correct))

		p, err := h.store.GetPlayer(ctx, a.PlayerID)
		if err != nil {
			return err
		}

		points := 0
		if correct {
			p.Streak++
			points = basePoints + streakBonus*(p.Streak-1)
		} else {
			p.Streak = 0
		}

		a.Valid = correct
		a.Points = points
		if err := h.store.UpdateAnswer(ctx, &a); err != nil {
			return err
		}
		if err := h.store.UpdatePlayer(ctx, p); err != nil {
			return err
		}

		if points > 0 {
			_, err := h.ledger.Apply(ctx, ledger.ApplyRequest{
				PlayerID:    a.PlayerID,
				SessionCode: s.Code,
				RoundNumber: a.RoundNumber,
				Delta:       points,
				Reason:      "correct_answer",
				AnswerID:    a.ID,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *MultipleChoice) ShouldSendImmediateFeedback() bool { return true }
func (h *MultipleChoice) SupportsManualValidation() bool    { return false }

func (h *MultipleChoice) PlayerFeedbackMessage(ctx context.Context, s *domain.Session, a domain.Answer) (string, error) {
	q, err := h.question(ctx, s, a.RoundNumber)
	if err != nil {
		return "", err
	}

	p, err := h.store.GetPlayer(ctx, a.PlayerID)
	if err != nil {
		return "", err
	}

	if a.Valid {
		msg := fmt.Sprintf("Correct! You earned %d points.", a.Points)
		if p.Streak > 1 {
			msg += fmt.Sprintf(" (%d answer streak!)", p.Streak)
		}
		return fmt.Sprintf("%s\n\nThe correct answer was: %s\nYour answer: %s", msg, q.Correct, a.Text), nil
	}
	return fmt.Sprintf("Incorrect. The correct answer was: %s\n\nYour answer: %s", q.Correct, a.Text), nil
}

func (h *MultipleChoice) cache(ctx context.Context, key string, q domain.Question) {
	raw, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := h.redis.Set(ctx, key, raw, contentTTL).Err(); err != nil {
		slog.WarnContext(ctx, "round: cache question failed", "key", key, "error", err)
	}
}

// InvalidateCache drops the cached question for every round of the session.
// Used on restart so a fresh game decides fresh content.
func (h *MultipleChoice) InvalidateCache(ctx context.Context, code string) error {
	iter := h.redis.Scan(ctx, 0, fmt.Sprintf("%s:question:%s:*", h.prefix, code), 100).Iterator()
	for iter.Next(ctx) {
		if err := h.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("invalidate question cache: %w", err)
		}
	}
	return iter.Err()
}

func (h *MultipleChoice) cacheKey(code string, round int) string {
	return fmt.Sprintf("%s:question:%s:%d", h.prefix, code, round)
}
