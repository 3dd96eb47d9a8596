package round

import (
	"context"
	"fmt"
	"strings"

	"github.com/victornm/partyquiz/internal/content"
	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/ledger"
	"github.com/victornm/partyquiz/internal/storage"
)

const (
	defaultUniquePoints  = 10
	defaultValidPoints   = 5
	defaultInvalidPoints = 0
)

type CategoryLetterConfig struct {
	Store  storage.Store
	Ledger *ledger.Service
}

// CategoryLetter is the "name something in category X starting with letter Y"
// flavor. Answers start invalid and are scored by operator marks.
type CategoryLetter struct {
	store  storage.Store
	ledger *ledger.Service
}

func NewCategoryLetter(c CategoryLetterConfig) *CategoryLetter {
	return &CategoryLetter{
		store:  c.Store,
		ledger: c.Ledger,
	}
}

func (h *CategoryLetter) Flavor() domain.Flavor { return domain.FlavorCategoryLetter }

// GenerateRoundData picks the category and prompt letter for the round. The
// picks derive only from (session code, round number), so regeneration after
// a refresh or restart lands on the same content. Letters used by earlier
// category-letter rounds are replayed and excluded until all 26 are spent.
func (h *CategoryLetter) GenerateRoundData(_ context.Context, s *domain.Session, round int) (domain.RoundContent, error) {
	categories := s.Config.Categories
	if len(categories) == 0 {
		categories = content.Categories
	}

	used := make(map[string]bool)
	var category, letter string

	for r := 1; r <= round; r++ {
		if s.Config.FlavorFor(r) != domain.FlavorCategoryLetter {
			continue
		}

		rng := rng(s.Code, r)
		category = categories[rng.Intn(len(categories))]

		available := make([]string, 0, len(content.Letters))
		for _, l := range content.Letters {
			if !used[l] {
				available = append(available, l)
			}
		}
		if len(available) == 0 {
			available = content.Letters
			used = make(map[string]bool)
		}

		letter = available[rng.Intn(len(available))]
		used[letter] = true
	}

	return domain.RoundContent{
		Flavor:      domain.FlavorCategoryLetter,
		RoundNumber: round,
		Category:    category,
		Letter:      letter,
		Prompt:      fmt.Sprintf("%s that start with %s", category, letter),
	}, nil
}

// CreatePlayerAnswer stores the answer invalid, pending manual review.
func (h *CategoryLetter) CreatePlayerAnswer(ctx context.Context, s *domain.Session, p *domain.Player, text string) (*domain.Answer, error) {
	a := &domain.Answer{
		PlayerID:    p.ID,
		SessionCode: s.Code,
		RoundNumber: s.RoundNumber,
		Text:        text,
		Valid:       false,
		Points:      0,
	}
	if err := h.store.CreateAnswer(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// PerformAutomaticScoring flags uniqueness on normalized text. No points move
// here; the operator's marks drive scoring later.
func (h *CategoryLetter) PerformAutomaticScoring(ctx context.Context, s *domain.Session, answers []domain.Answer) error {
	counts := make(map[string]int, len(answers))
	for _, a := range answers {
		counts[normalize(a.Text)]++
	}

	for i := range answers {
		a := answers[i]
		a.Unique = counts[normalize(a.Text)] == 1
		if err := h.store.UpdateAnswer(ctx, &a); err != nil {
			return err
		}
	}
	return nil
}

func (h *CategoryLetter) ShouldSendImmediateFeedback() bool { return false }
func (h *CategoryLetter) SupportsManualValidation() bool    { return true }

func (h *CategoryLetter) PlayerFeedbackMessage(_ context.Context, _ *domain.Session, a domain.Answer) (string, error) {
	var msg string
	switch {
	case a.Valid && a.Unique:
		msg = fmt.Sprintf("Unique answer! You earned %d points.", a.Points)
	case a.Valid:
		msg = fmt.Sprintf("Valid answer! You earned %d points.", a.Points)
	default:
		msg = "Invalid answer. No points awarded."
	}
	return fmt.Sprintf("%s\n\nYour answer: %s", msg, a.Text), nil
}

// ValidateAnswerManually applies an operator's valid/invalid mark. Points
// follow the three-tier table and re-validation issues a correcting ledger
// entry of (new - old), so marking twice never double-awards.
func (h *CategoryLetter) ValidateAnswerManually(ctx context.Context, s *domain.Session, playerID string, round int, valid bool) (*domain.Answer, error) {
	a, err := h.store.GetAnswer(ctx, playerID, round)
	if err != nil {
		return nil, err
	}

	points, reason := h.tier(s.Config, valid, a.Unique)

	delta := points - a.Points
	a.Valid = valid
	a.Points = points
	if err := h.store.UpdateAnswer(ctx, a); err != nil {
		return nil, err
	}

	if delta != 0 {
		_, err = h.ledger.Apply(ctx, ledger.ApplyRequest{
			PlayerID:    playerID,
			SessionCode: s.Code,
			RoundNumber: round,
			Delta:       delta,
			Reason:      reason,
			AnswerID:    a.ID,
		})
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (h *CategoryLetter) tier(c domain.SessionConfig, valid, unique bool) (int, string) {
	uniquePts, validPts, invalidPts := c.UniquePoints, c.ValidPoints, c.InvalidPoints
	if uniquePts == 0 && validPts == 0 {
		uniquePts, validPts, invalidPts = defaultUniquePoints, defaultValidPoints, defaultInvalidPoints
	}

	switch {
	case valid && unique:
		return uniquePts, "unique_correct_answer"
	case valid:
		return validPts, "duplicate_correct_answer"
	default:
		return invalidPts, "invalid_answer"
	}
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
