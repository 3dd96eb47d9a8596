package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusActive   SessionStatus = "active"
	StatusFinished SessionStatus = "finished"
)

// Flavor identifies the round content/scoring strategy for a round.
type Flavor string

const (
	FlavorCategoryLetter Flavor = "category_letter"
	FlavorMultipleChoice Flavor = "multiple_choice"
	FlavorSpecialist     Flavor = "specialist_interview"
)

// SessionConfig holds the per-session game configuration.
type SessionConfig struct {
	NumRounds        int
	RoundSeconds     int
	FlavorSequence   []Flavor
	Categories       []string
	UniquePoints     int
	ValidPoints      int
	InvalidPoints    int
	QuestionsPerTurn int
	TurnSeconds      int
}

// FlavorFor returns the configured flavor for a 1-based round number.
func (c SessionConfig) FlavorFor(round int) Flavor {
	if round >= 1 && round <= len(c.FlavorSequence) {
		return c.FlavorSequence[round-1]
	}
	return FlavorCategoryLetter
}

// Session is one playthrough instance identified by a short code.
type Session struct {
	Code           string
	Status         SessionStatus
	RoundNumber    int
	RoundActive    bool
	RoundStartedAt *time.Time
	MaxPlayers     int
	Config         SessionConfig
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// CanJoin reports whether a new player may still join the session.
func (s *Session) CanJoin(playerCount int) bool {
	return s.Status == StatusWaiting && playerCount < s.MaxPlayers
}

// Player is a participant in a session.
type Player struct {
	ID              string
	Name            string
	SessionCode     string
	Connected       bool
	Score           int
	Streak          int
	SpecialistTopic string
	JoinedAt        time.Time
}

// Answer is a player's submission for one round. At most one exists per
// (player, round).
type Answer struct {
	ID          int64
	PlayerID    string
	SessionCode string
	RoundNumber int
	Text        string
	Valid       bool
	Unique      bool
	Points      int
	SubmittedAt time.Time
}

// LedgerEntry is one signed score delta. The ledger is append-only and
// authoritative: a player's score is the sum of their entries.
type LedgerEntry struct {
	ID          int64
	PlayerID    string
	SessionCode string
	RoundNumber int // 0 for game-wide entries
	Delta       int
	Reason      string
	AnswerID    int64 // 0 when not tied to an answer
	CreatedAt   time.Time
}

// Question is one multiple-choice question-like record.
type Question struct {
	ID       int64    `json:"id"`
	Text     string   `json:"text"`
	Choices  []string `json:"choices"`
	Correct  string   `json:"correct,omitempty"`
	Category string   `json:"category"`
}

// Public strips the correct option before a question leaves the server.
func (q Question) Public() Question {
	q.Correct = ""
	return q
}

// SpecialistState is a state of the specialist-interview round machine.
type SpecialistState string

const (
	StateWaitingForSelection SpecialistState = "waiting_for_player_selection"
	StateAskingReady         SpecialistState = "asking_ready"
	StatePlaying             SpecialistState = "playing"
	StatePlayerComplete      SpecialistState = "player_complete"
	StateGeneralKnowledge    SpecialistState = "general_knowledge"
	StateAllComplete         SpecialistState = "all_complete"
)

// SpecialistPhase splits the interview round into individual turns and the
// final shared phase.
type SpecialistPhase string

const (
	PhaseSpecialist       SpecialistPhase = "specialist"
	PhaseGeneralKnowledge SpecialistPhase = "general_knowledge"
)

// SpecialistRound is the persistent state of one specialist-interview round.
type SpecialistRound struct {
	ID               int64
	SessionCode      string
	RoundNumber      int
	State            SpecialistState
	Phase            SpecialistPhase
	CurrentPlayerID  string // empty when no player is selected
	QuestionIndex    int
	QuestionsPerTurn int
	CompletedPlayers map[string]bool
	StartedAt        *time.Time
}

// Completed reports whether the player already finished their turn.
func (r *SpecialistRound) Completed(playerID string) bool {
	return r.CompletedPlayers[playerID]
}

// PlayerQuestionSet is the fixed ordered question list pre-selected for one
// player's turn (or the shared general-knowledge set). Generated once,
// immutable afterwards.
type PlayerQuestionSet struct {
	SessionCode string
	RoundNumber int
	PlayerID    string
	Questions   []Question
}

// InterviewAnswer is one answer inside a specialist rapid-fire batch.
type InterviewAnswer struct {
	SessionCode   string
	RoundNumber   int
	PlayerID      string
	QuestionIndex int
	Phase         SpecialistPhase
	Choice        string
	Correct       bool
	AnsweredAt    time.Time
}

// RoundContent is what a round handler produced for one round. Only the
// fields relevant to the flavor are populated.
type RoundContent struct {
	Flavor      Flavor          `json:"flavor"`
	RoundNumber int             `json:"round_number"`
	Category    string          `json:"category,omitempty"`
	Letter      string          `json:"letter,omitempty"`
	Prompt      string          `json:"prompt,omitempty"`
	Question    *Question       `json:"question,omitempty"`
	State       SpecialistState `json:"state,omitempty"`
}

// StandingsEntry is one row of the final (or running) scores.
type StandingsEntry struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}
