// Package ledger is the authoritative scoring record. Every point movement is
// an append-only signed entry; a player's score is the sum of their entries,
// materialized onto the player row for cheap reads.
package ledger

import (
	"context"
	"sync"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/event"
	"github.com/victornm/partyquiz/internal/storage"
)

type Config struct {
	Store    storage.Store
	EventBus *event.Bus
}

type Service struct {
	store storage.Store
	eb    *event.Bus

	// Serializes apply steps per player so concurrent awards never interleave
	// the read-sum-write of the materialized score.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
		eb:    c.EventBus,
		locks: make(map[string]*sync.Mutex),
	}
}

type ApplyRequest struct {
	PlayerID    string
	SessionCode string
	RoundNumber int // 0 for game-wide entries
	Delta       int
	Reason      string
	AnswerID    int64 // 0 when not tied to an answer
}

// Apply appends one entry and updates the player's materialized score to the
// new ledger sum. Corrections are ordinary entries whose delta is the signed
// difference, never a reversal plus re-award.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*domain.LedgerEntry, error) {
	lock := s.playerLock(req.PlayerID)
	lock.Lock()
	defer lock.Unlock()

	e := &domain.LedgerEntry{
		PlayerID:    req.PlayerID,
		SessionCode: req.SessionCode,
		RoundNumber: req.RoundNumber,
		Delta:       req.Delta,
		Reason:      req.Reason,
		AnswerID:    req.AnswerID,
	}
	if err := s.store.AppendEntry(ctx, e); err != nil {
		return nil, err
	}

	p, err := s.store.GetPlayer(ctx, req.PlayerID)
	if err != nil {
		return nil, err
	}

	sum, err := s.store.SumDeltas(ctx, req.PlayerID)
	if err != nil {
		return nil, err
	}

	p.Score = sum
	if err := s.store.UpdatePlayer(ctx, p); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventScoreUpdated{
		Player: *p,
		Delta:  req.Delta,
		Reason: req.Reason,
	})

	return e, nil
}

// RoundTotal returns the sum of the player's entries for one round. Used to
// compute correction deltas on re-validation.
func (s *Service) RoundTotal(ctx context.Context, playerID string, round int) (int, error) {
	return s.store.RoundTotal(ctx, playerID, round)
}

// Entries returns the player's full ledger in append order.
func (s *Service) Entries(ctx context.Context, playerID string) ([]domain.LedgerEntry, error) {
	return s.store.ListEntries(ctx, playerID)
}

func (s *Service) playerLock(playerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[playerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[playerID] = l
	}
	return l
}
