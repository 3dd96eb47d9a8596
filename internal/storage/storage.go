// Package storage defines the persistent store consumed by the game services
// and provides an in-memory implementation used in tests. The postgres
// subpackage provides the production implementation.
package storage

import (
	"context"

	"github.com/victornm/partyquiz/internal/domain"
)

// SessionStore persists game sessions, unique on session code.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, code string) (*domain.Session, error)
	UpdateSession(ctx context.Context, s *domain.Session) error

	// EndRoundIfActive flips the round-active flag to false and reports
	// whether this call performed the flip. The flip is atomic so the full
	// "end round" consequence set runs at most once per round.
	EndRoundIfActive(ctx context.Context, code string, round int) (bool, error)
}

// PlayerStore persists players.
type PlayerStore interface {
	CreatePlayer(ctx context.Context, p *domain.Player) error
	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
	FindPlayerByName(ctx context.Context, code, name string) (*domain.Player, error)
	ListPlayers(ctx context.Context, code string, connectedOnly bool) ([]domain.Player, error)
	UpdatePlayer(ctx context.Context, p *domain.Player) error
}

// AnswerStore persists round answers, unique on (player, round).
// CreateAnswer returns CodeAlreadyExists when the row already exists.
type AnswerStore interface {
	CreateAnswer(ctx context.Context, a *domain.Answer) error
	GetAnswer(ctx context.Context, playerID string, round int) (*domain.Answer, error)
	ListRoundAnswers(ctx context.Context, code string, round int) ([]domain.Answer, error)
	UpdateAnswer(ctx context.Context, a *domain.Answer) error
	DeleteSessionAnswers(ctx context.Context, code string) error
}

// LedgerStore persists the append-only score ledger.
type LedgerStore interface {
	AppendEntry(ctx context.Context, e *domain.LedgerEntry) error
	ListEntries(ctx context.Context, playerID string) ([]domain.LedgerEntry, error)
	SumDeltas(ctx context.Context, playerID string) (int, error)
	RoundTotal(ctx context.Context, playerID string, round int) (int, error)
}

// RoundQuestionStore memoizes the question chosen for a (session, round).
// SaveRoundQuestion is first-writer-wins: on conflict it returns the stored
// row, never an error.
type RoundQuestionStore interface {
	SaveRoundQuestion(ctx context.Context, code string, round int, q domain.Question) (domain.Question, error)
	GetRoundQuestion(ctx context.Context, code string, round int) (*domain.Question, error)
}

// SpecialistStore persists specialist-interview round state, one row per
// (session, round), plus the immutable per-player question sets and the
// rapid-fire answers.
type SpecialistStore interface {
	GetOrCreateSpecialistRound(ctx context.Context, code string, round, questionsPerTurn int) (*domain.SpecialistRound, error)
	UpdateSpecialistRound(ctx context.Context, r *domain.SpecialistRound) error

	CreateQuestionSet(ctx context.Context, qs *domain.PlayerQuestionSet) error
	GetQuestionSet(ctx context.Context, code string, round int, playerID string) (*domain.PlayerQuestionSet, error)

	// CreateInterviewAnswer persists one rapid-fire answer, unique on
	// (player, round, question index, phase). The same index repeats across
	// phases because the general-knowledge batch restarts at zero.
	CreateInterviewAnswer(ctx context.Context, a *domain.InterviewAnswer) error
	ListInterviewAnswers(ctx context.Context, code string, round int, playerID string) ([]domain.InterviewAnswer, error)
	CountPhaseRespondents(ctx context.Context, code string, round int, phase domain.SpecialistPhase) (int, error)
}

// Store groups every store the game needs. Both the memory and postgres
// implementations satisfy it.
type Store interface {
	SessionStore
	PlayerStore
	AnswerStore
	LedgerStore
	RoundQuestionStore
	SpecialistStore
}
