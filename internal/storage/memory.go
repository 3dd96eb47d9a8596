package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/errors"
)

type answerKey struct {
	playerID string
	round    int
}

type roundKey struct {
	code  string
	round int
}

type setKey struct {
	code     string
	round    int
	playerID string
}

type interviewKey struct {
	code     string
	round    int
	playerID string
	index    int
	phase    domain.SpecialistPhase
}

// Memory is an in-process Store used in tests and single-node demos.
type Memory struct {
	mu sync.Mutex

	sessions    map[string]domain.Session
	players     map[string]domain.Player
	answers     map[answerKey]domain.Answer
	ledger      []domain.LedgerEntry
	questions   map[roundKey]domain.Question
	specialists map[roundKey]domain.SpecialistRound
	sets        map[setKey]domain.PlayerQuestionSet
	interviews  map[interviewKey]domain.InterviewAnswer

	nextID int64
}

func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]domain.Session),
		players:     make(map[string]domain.Player),
		answers:     make(map[answerKey]domain.Answer),
		questions:   make(map[roundKey]domain.Question),
		specialists: make(map[roundKey]domain.SpecialistRound),
		sets:        make(map[setKey]domain.PlayerQuestionSet),
		interviews:  make(map[interviewKey]domain.InterviewAnswer),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.Code]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("session %s already exists", s.Code))
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.sessions[s.Code] = *s
	return nil
}

func (m *Memory) GetSession(_ context.Context, code string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[code]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", code))
	}
	return &s, nil
}

func (m *Memory) UpdateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.Code]; !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", s.Code))
	}
	m.sessions[s.Code] = *s
	return nil
}

func (m *Memory) EndRoundIfActive(_ context.Context, code string, round int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[code]
	if !ok {
		return false, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", code))
	}
	if !s.RoundActive || s.RoundNumber != round {
		return false, nil
	}
	s.RoundActive = false
	m.sessions[code] = s
	return true, nil
}

func (m *Memory) CreatePlayer(_ context.Context, p *domain.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	m.players[p.ID] = *p
	return nil
}

func (m *Memory) GetPlayer(_ context.Context, id string) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: %s", id))
	}
	return &p, nil
}

func (m *Memory) FindPlayerByName(_ context.Context, code, name string) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.players {
		if p.SessionCode == code && p.Name == name {
			p := p
			return &p, nil
		}
	}
	return nil, errors.New(errors.CodeNotFound,
		errors.WithMessagef("player not found: session=%s name=%s", code, name))
}

func (m *Memory) ListPlayers(_ context.Context, code string, connectedOnly bool) ([]domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Player
	for _, p := range m.players {
		if p.SessionCode != code {
			continue
		}
		if connectedOnly && !p.Connected {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *Memory) UpdatePlayer(_ context.Context, p *domain.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.players[p.ID]; !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: %s", p.ID))
	}
	m.players[p.ID] = *p
	return nil
}

func (m *Memory) CreateAnswer(_ context.Context, a *domain.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := answerKey{playerID: a.PlayerID, round: a.RoundNumber}
	if _, ok := m.answers[k]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("answer already exists: player=%s round=%d", a.PlayerID, a.RoundNumber))
	}
	a.ID = m.id()
	if a.SubmittedAt.IsZero() {
		a.SubmittedAt = time.Now()
	}
	m.answers[k] = *a
	return nil
}

func (m *Memory) GetAnswer(_ context.Context, playerID string, round int) (*domain.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.answers[answerKey{playerID: playerID, round: round}]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("answer not found: player=%s round=%d", playerID, round))
	}
	return &a, nil
}

func (m *Memory) ListRoundAnswers(_ context.Context, code string, round int) ([]domain.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Answer
	for _, a := range m.answers {
		if a.SessionCode == code && a.RoundNumber == round {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateAnswer(_ context.Context, a *domain.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := answerKey{playerID: a.PlayerID, round: a.RoundNumber}
	if _, ok := m.answers[k]; !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("answer not found: player=%s round=%d", a.PlayerID, a.RoundNumber))
	}
	m.answers[k] = *a
	return nil
}

func (m *Memory) DeleteSessionAnswers(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, a := range m.answers {
		if a.SessionCode == code {
			delete(m.answers, k)
		}
	}
	return nil
}

func (m *Memory) AppendEntry(_ context.Context, e *domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = m.id()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.ledger = append(m.ledger, *e)
	return nil
}

func (m *Memory) ListEntries(_ context.Context, playerID string) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.LedgerEntry
	for _, e := range m.ledger {
		if e.PlayerID == playerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) SumDeltas(_ context.Context, playerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := 0
	for _, e := range m.ledger {
		if e.PlayerID == playerID {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (m *Memory) RoundTotal(_ context.Context, playerID string, round int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := 0
	for _, e := range m.ledger {
		if e.PlayerID == playerID && e.RoundNumber == round {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (m *Memory) SaveRoundQuestion(_ context.Context, code string, round int, q domain.Question) (domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := roundKey{code: code, round: round}
	if existing, ok := m.questions[k]; ok {
		return existing, nil
	}
	if q.ID == 0 {
		q.ID = m.id()
	}
	m.questions[k] = q
	return q, nil
}

func (m *Memory) GetRoundQuestion(_ context.Context, code string, round int) (*domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[roundKey{code: code, round: round}]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("round question not found: session=%s round=%d", code, round))
	}
	return &q, nil
}

func (m *Memory) GetOrCreateSpecialistRound(_ context.Context, code string, round, questionsPerTurn int) (*domain.SpecialistRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := roundKey{code: code, round: round}
	if r, ok := m.specialists[k]; ok {
		return cloneSpecialist(r), nil
	}
	r := domain.SpecialistRound{
		ID:               m.id(),
		SessionCode:      code,
		RoundNumber:      round,
		State:            domain.StateWaitingForSelection,
		Phase:            domain.PhaseSpecialist,
		QuestionsPerTurn: questionsPerTurn,
		CompletedPlayers: make(map[string]bool),
	}
	m.specialists[k] = r
	return cloneSpecialist(r), nil
}

func (m *Memory) UpdateSpecialistRound(_ context.Context, r *domain.SpecialistRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := roundKey{code: r.SessionCode, round: r.RoundNumber}
	if _, ok := m.specialists[k]; !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("specialist round not found: session=%s round=%d", r.SessionCode, r.RoundNumber))
	}
	m.specialists[k] = *cloneSpecialist(*r)
	return nil
}

func cloneSpecialist(r domain.SpecialistRound) *domain.SpecialistRound {
	completed := make(map[string]bool, len(r.CompletedPlayers))
	for id, done := range r.CompletedPlayers {
		completed[id] = done
	}
	r.CompletedPlayers = completed
	return &r
}

func (m *Memory) CreateQuestionSet(_ context.Context, qs *domain.PlayerQuestionSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := setKey{code: qs.SessionCode, round: qs.RoundNumber, playerID: qs.PlayerID}
	if _, ok := m.sets[k]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("question set already exists: player=%s round=%d", qs.PlayerID, qs.RoundNumber))
	}
	m.sets[k] = *qs
	return nil
}

func (m *Memory) GetQuestionSet(_ context.Context, code string, round int, playerID string) (*domain.PlayerQuestionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs, ok := m.sets[setKey{code: code, round: round, playerID: playerID}]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question set not found: player=%s round=%d", playerID, round))
	}
	return &qs, nil
}

func (m *Memory) CreateInterviewAnswer(_ context.Context, a *domain.InterviewAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := interviewKey{code: a.SessionCode, round: a.RoundNumber, playerID: a.PlayerID, index: a.QuestionIndex, phase: a.Phase}
	if _, ok := m.interviews[k]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("interview answer already exists: player=%s index=%d phase=%s", a.PlayerID, a.QuestionIndex, a.Phase))
	}
	if a.AnsweredAt.IsZero() {
		a.AnsweredAt = time.Now()
	}
	m.interviews[k] = *a
	return nil
}

func (m *Memory) ListInterviewAnswers(_ context.Context, code string, round int, playerID string) ([]domain.InterviewAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.InterviewAnswer
	for _, a := range m.interviews {
		if a.SessionCode == code && a.RoundNumber == round && a.PlayerID == playerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionIndex < out[j].QuestionIndex })
	return out, nil
}

func (m *Memory) CountPhaseRespondents(_ context.Context, code string, round int, phase domain.SpecialistPhase) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, a := range m.interviews {
		if a.SessionCode == code && a.RoundNumber == round && a.Phase == phase {
			seen[a.PlayerID] = true
		}
	}
	return len(seen), nil
}
