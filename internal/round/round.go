// Package round implements the per-flavor content and scoring strategies.
// All flavor differences live behind the Handler contract; the session
// coordinator never branches on flavor itself.
package round

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/errors"
)

// Handler is the uniform contract one round flavor implements.
type Handler interface {
	Flavor() domain.Flavor

	// GenerateRoundData produces the round content. Repeated calls for the
	// same (session, round) return identical content, so a reconnecting
	// client never sees a reshuffle.
	GenerateRoundData(ctx context.Context, s *domain.Session, round int) (domain.RoundContent, error)

	// CreatePlayerAnswer persists a new answer with the flavor's initial
	// validity. Returns CodeAlreadyExists when one is already stored.
	CreatePlayerAnswer(ctx context.Context, s *domain.Session, p *domain.Player, text string) (*domain.Answer, error)

	// PerformAutomaticScoring runs once at round end over the round's answers.
	PerformAutomaticScoring(ctx context.Context, s *domain.Session, answers []domain.Answer) error

	// ShouldSendImmediateFeedback reports whether results go out right after
	// scoring instead of waiting for an operator.
	ShouldSendImmediateFeedback() bool

	// SupportsManualValidation reports whether the flavor takes operator
	// valid/invalid marks.
	SupportsManualValidation() bool

	// PlayerFeedbackMessage formats the private result text for one answer.
	PlayerFeedbackMessage(ctx context.Context, s *domain.Session, a domain.Answer) (string, error)
}

// Validator is the extra surface of flavors that score through operator
// marks. Only the category-letter handler implements it.
type Validator interface {
	ValidateAnswerManually(ctx context.Context, s *domain.Session, playerID string, round int, valid bool) (*domain.Answer, error)
}

// Registry maps flavors to handlers. Built once at startup from the
// configured handlers; unknown flavors are a precondition violation.
type Registry struct {
	handlers map[domain.Flavor]Handler
}

func NewRegistry(hs ...Handler) *Registry {
	r := &Registry{handlers: make(map[domain.Flavor]Handler, len(hs))}
	for _, h := range hs {
		r.handlers[h.Flavor()] = h
	}
	return r
}

// Handler returns the handler for the flavor.
func (r *Registry) Handler(f domain.Flavor) (Handler, error) {
	h, ok := r.handlers[f]
	if !ok {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown round flavor: %s", f))
	}
	return h, nil
}

// ForRound returns the handler for the session's given round number.
func (r *Registry) ForRound(s *domain.Session, round int) (Handler, error) {
	return r.Handler(s.Config.FlavorFor(round))
}

// rng returns a rand seeded purely from session identity and round number,
// so content regenerates identically across calls and process restarts.
func rng(code string, round int) *rand.Rand {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", code, round)))
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))
}
