// Package postgres implements storage.Store on a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/errors"
)

const codeUniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

func (s *Store) CreateSession(ctx context.Context, ss *domain.Session) error {
	cfg, err := json.Marshal(ss.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	const stmt = `
INSERT INTO sessions (code, status, round_number, round_active, max_players, config, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	if ss.CreatedAt.IsZero() {
		ss.CreatedAt = time.Now()
	}
	_, err = s.db.Exec(ctx, stmt, ss.Code, ss.Status, ss.RoundNumber, ss.RoundActive, ss.MaxPlayers, cfg, ss.CreatedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, code string) (*domain.Session, error) {
	const stmt = `
SELECT code, status, round_number, round_active, round_started_at, max_players, config, created_at, started_at, finished_at
FROM sessions WHERE code = $1;`

	var (
		ss  domain.Session
		cfg []byte
	)
	err := s.db.QueryRow(ctx, stmt, code).Scan(
		&ss.Code, &ss.Status, &ss.RoundNumber, &ss.RoundActive, &ss.RoundStartedAt,
		&ss.MaxPlayers, &cfg, &ss.CreatedAt, &ss.StartedAt, &ss.FinishedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", code))
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal(cfg, &ss.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &ss, nil
}

func (s *Store) UpdateSession(ctx context.Context, ss *domain.Session) error {
	cfg, err := json.Marshal(ss.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	const stmt = `
UPDATE sessions
SET status = $2, round_number = $3, round_active = $4, round_started_at = $5,
    max_players = $6, config = $7, started_at = $8, finished_at = $9
WHERE code = $1;`

	tag, err := s.db.Exec(ctx, stmt, ss.Code, ss.Status, ss.RoundNumber, ss.RoundActive,
		ss.RoundStartedAt, ss.MaxPlayers, cfg, ss.StartedAt, ss.FinishedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", ss.Code))
	}
	return nil
}

func (s *Store) EndRoundIfActive(ctx context.Context, code string, round int) (bool, error) {
	const stmt = `
UPDATE sessions SET round_active = FALSE
WHERE code = $1 AND round_number = $2 AND round_active;`

	tag, err := s.db.Exec(ctx, stmt, code, round)
	if err != nil {
		return false, fmt.Errorf("end round: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CreatePlayer(ctx context.Context, p *domain.Player) error {
	const stmt = `
INSERT INTO players (id, name, session_code, connected, score, streak, specialist_topic, joined_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, stmt, p.ID, p.Name, p.SessionCode, p.Connected, p.Score, p.Streak, p.SpecialistTopic, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func scanPlayer(r pgx.CollectableRow) (domain.Player, error) {
	var p domain.Player
	err := r.Scan(&p.ID, &p.Name, &p.SessionCode, &p.Connected, &p.Score, &p.Streak, &p.SpecialistTopic, &p.JoinedAt)
	return p, err
}

func (s *Store) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	const stmt = `
SELECT id, name, session_code, connected, score, streak, specialist_topic, joined_at
FROM players WHERE id = $1;`

	rows, err := s.db.Query(ctx, stmt, id)
	if err != nil {
		return nil, fmt.Errorf("get player: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPlayer)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: %s", id))
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) FindPlayerByName(ctx context.Context, code, name string) (*domain.Player, error) {
	const stmt = `
SELECT id, name, session_code, connected, score, streak, specialist_topic, joined_at
FROM players WHERE session_code = $1 AND name = $2
ORDER BY joined_at LIMIT 1;`

	rows, err := s.db.Query(ctx, stmt, code, name)
	if err != nil {
		return nil, fmt.Errorf("find player: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPlayer)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: session=%s name=%s", code, name))
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPlayers(ctx context.Context, code string, connectedOnly bool) ([]domain.Player, error) {
	const stmt = `
SELECT id, name, session_code, connected, score, streak, specialist_topic, joined_at
FROM players WHERE session_code = $1 AND (NOT $2 OR connected)
ORDER BY joined_at;`

	rows, err := s.db.Query(ctx, stmt, code, connectedOnly)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	return pgx.CollectRows(rows, scanPlayer)
}

func (s *Store) UpdatePlayer(ctx context.Context, p *domain.Player) error {
	const stmt = `
UPDATE players SET name = $2, connected = $3, score = $4, streak = $5, specialist_topic = $6
WHERE id = $1;`

	tag, err := s.db.Exec(ctx, stmt, p.ID, p.Name, p.Connected, p.Score, p.Streak, p.SpecialistTopic)
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: %s", p.ID))
	}
	return nil
}

func (s *Store) CreateAnswer(ctx context.Context, a *domain.Answer) error {
	const stmt = `
INSERT INTO answers (player_id, session_code, round_number, text, valid, is_unique, points, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id;`

	if a.SubmittedAt.IsZero() {
		a.SubmittedAt = time.Now()
	}
	err := s.db.QueryRow(ctx, stmt, a.PlayerID, a.SessionCode, a.RoundNumber, a.Text, a.Valid, a.Unique, a.Points, a.SubmittedAt).Scan(&a.ID)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func scanAnswer(r pgx.CollectableRow) (domain.Answer, error) {
	var a domain.Answer
	err := r.Scan(&a.ID, &a.PlayerID, &a.SessionCode, &a.RoundNumber, &a.Text, &a.Valid, &a.Unique, &a.Points, &a.SubmittedAt)
	return a, err
}

func (s *Store) GetAnswer(ctx context.Context, playerID string, round int) (*domain.Answer, error) {
	const stmt = `
SELECT id, player_id, session_code, round_number, text, valid, is_unique, points, submitted_at
FROM answers WHERE player_id = $1 AND round_number = $2;`

	rows, err := s.db.Query(ctx, stmt, playerID, round)
	if err != nil {
		return nil, fmt.Errorf("get answer: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAnswer)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("answer not found: player=%s round=%d", playerID, round))
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListRoundAnswers(ctx context.Context, code string, round int) ([]domain.Answer, error) {
	const stmt = `
SELECT id, player_id, session_code, round_number, text, valid, is_unique, points, submitted_at
FROM answers WHERE session_code = $1 AND round_number = $2
ORDER BY id;`

	rows, err := s.db.Query(ctx, stmt, code, round)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	return pgx.CollectRows(rows, scanAnswer)
}

func (s *Store) UpdateAnswer(ctx context.Context, a *domain.Answer) error {
	const stmt = `
UPDATE answers SET text = $2, valid = $3, is_unique = $4, points = $5
WHERE id = $1;`

	tag, err := s.db.Exec(ctx, stmt, a.ID, a.Text, a.Valid, a.Unique, a.Points)
	if err != nil {
		return fmt.Errorf("update answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("answer not found: %d", a.ID))
	}
	return nil
}

func (s *Store) DeleteSessionAnswers(ctx context.Context, code string) error {
	const stmt = `DELETE FROM answers WHERE session_code = $1;`

	if _, err := s.db.Exec(ctx, stmt, code); err != nil {
		return fmt.Errorf("delete answers: %w", err)
	}
	return nil
}

func (s *Store) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	const stmt = `
INSERT INTO ledger (player_id, session_code, round_number, delta, reason, answer_id, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7)
RETURNING id;`

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	err := s.db.QueryRow(ctx, stmt, e.PlayerID, e.SessionCode, e.RoundNumber, e.Delta, e.Reason, e.AnswerID, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, playerID string) ([]domain.LedgerEntry, error) {
	const stmt = `
SELECT id, player_id, session_code, round_number, delta, reason, COALESCE(answer_id, 0), created_at
FROM ledger WHERE player_id = $1
ORDER BY id;`

	rows, err := s.db.Query(ctx, stmt, playerID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.LedgerEntry, error) {
		var e domain.LedgerEntry
		err := r.Scan(&e.ID, &e.PlayerID, &e.SessionCode, &e.RoundNumber, &e.Delta, &e.Reason, &e.AnswerID, &e.CreatedAt)
		return e, err
	})
}

func (s *Store) SumDeltas(ctx context.Context, playerID string) (int, error) {
	const stmt = `SELECT COALESCE(SUM(delta), 0) FROM ledger WHERE player_id = $1;`

	var sum int
	if err := s.db.QueryRow(ctx, stmt, playerID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return sum, nil
}

func (s *Store) RoundTotal(ctx context.Context, playerID string, round int) (int, error) {
	const stmt = `
SELECT COALESCE(SUM(delta), 0) FROM ledger WHERE player_id = $1 AND round_number = $2;`

	var sum int
	if err := s.db.QueryRow(ctx, stmt, playerID, round).Scan(&sum); err != nil {
		return 0, fmt.Errorf("round total: %w", err)
	}
	return sum, nil
}

func (s *Store) SaveRoundQuestion(ctx context.Context, code string, round int, q domain.Question) (domain.Question, error) {
	choices, err := json.Marshal(q.Choices)
	if err != nil {
		return domain.Question{}, fmt.Errorf("marshal choices: %w", err)
	}

	// First writer wins; ON CONFLICT DO NOTHING then read whatever row won.
	const stmt = `
INSERT INTO round_questions (session_code, round_number, text, choices, correct, category)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_code, round_number) DO NOTHING;`

	if _, err := s.db.Exec(ctx, stmt, code, round, q.Text, choices, q.Correct, q.Category); err != nil {
		return domain.Question{}, fmt.Errorf("save round question: %w", err)
	}

	stored, err := s.GetRoundQuestion(ctx, code, round)
	if err != nil {
		return domain.Question{}, err
	}
	return *stored, nil
}

func (s *Store) GetRoundQuestion(ctx context.Context, code string, round int) (*domain.Question, error) {
	const stmt = `
SELECT id, text, choices, correct, category
FROM round_questions WHERE session_code = $1 AND round_number = $2;`

	var (
		q       domain.Question
		choices []byte
	)
	err := s.db.QueryRow(ctx, stmt, code, round).Scan(&q.ID, &q.Text, &choices, &q.Correct, &q.Category)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("round question not found: session=%s round=%d", code, round))
	}
	if err != nil {
		return nil, fmt.Errorf("get round question: %w", err)
	}
	if err := json.Unmarshal(choices, &q.Choices); err != nil {
		return nil, fmt.Errorf("unmarshal choices: %w", err)
	}
	return &q, nil
}

func (s *Store) GetOrCreateSpecialistRound(ctx context.Context, code string, round, questionsPerTurn int) (*domain.SpecialistRound, error) {
	const ins = `
INSERT INTO specialist_rounds (session_code, round_number, state, phase, question_index, questions_per_turn)
VALUES ($1, $2, $3, $4, 0, $5)
ON CONFLICT (session_code, round_number) DO NOTHING;`

	_, err := s.db.Exec(ctx, ins, code, round, domain.StateWaitingForSelection, domain.PhaseSpecialist, questionsPerTurn)
	if err != nil {
		return nil, fmt.Errorf("create specialist round: %w", err)
	}

	const sel = `
SELECT id, state, phase, COALESCE(current_player_id, ''), question_index, questions_per_turn, started_at
FROM specialist_rounds WHERE session_code = $1 AND round_number = $2;`

	r := domain.SpecialistRound{
		SessionCode:      code,
		RoundNumber:      round,
		CompletedPlayers: make(map[string]bool),
	}
	err = s.db.QueryRow(ctx, sel, code, round).Scan(
		&r.ID, &r.State, &r.Phase, &r.CurrentPlayerID, &r.QuestionIndex, &r.QuestionsPerTurn, &r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("get specialist round: %w", err)
	}

	const done = `SELECT player_id FROM specialist_completed WHERE specialist_round_id = $1;`
	rows, err := s.db.Query(ctx, done, r.ID)
	if err != nil {
		return nil, fmt.Errorf("list completed players: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r.CompletedPlayers[id] = true
	}
	return &r, nil
}

func (s *Store) UpdateSpecialistRound(ctx context.Context, r *domain.SpecialistRound) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const upd = `
UPDATE specialist_rounds
SET state = $2, phase = $3, current_player_id = NULLIF($4, ''), question_index = $5, started_at = $6
WHERE id = $1;`

	_, err = tx.Exec(ctx, upd, r.ID, r.State, r.Phase, r.CurrentPlayerID, r.QuestionIndex, r.StartedAt)
	if err != nil {
		return fmt.Errorf("update specialist round: %w", err)
	}

	const ins = `
INSERT INTO specialist_completed (specialist_round_id, player_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING;`

	for id := range r.CompletedPlayers {
		if _, err = tx.Exec(ctx, ins, r.ID, id); err != nil {
			return fmt.Errorf("insert completed player: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) CreateQuestionSet(ctx context.Context, qs *domain.PlayerQuestionSet) error {
	questions, err := json.Marshal(qs.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	const stmt = `
INSERT INTO question_sets (session_code, round_number, player_id, questions)
VALUES ($1, $2, $3, $4);`

	_, err = s.db.Exec(ctx, stmt, qs.SessionCode, qs.RoundNumber, qs.PlayerID, questions)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert question set: %w", err)
	}
	return nil
}

func (s *Store) GetQuestionSet(ctx context.Context, code string, round int, playerID string) (*domain.PlayerQuestionSet, error) {
	const stmt = `
SELECT questions FROM question_sets
WHERE session_code = $1 AND round_number = $2 AND player_id = $3;`

	var raw []byte
	err := s.db.QueryRow(ctx, stmt, code, round, playerID).Scan(&raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question set not found: player=%s round=%d", playerID, round))
	}
	if err != nil {
		return nil, fmt.Errorf("get question set: %w", err)
	}

	qs := domain.PlayerQuestionSet{SessionCode: code, RoundNumber: round, PlayerID: playerID}
	if err := json.Unmarshal(raw, &qs.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	return &qs, nil
}

// CreateInterviewAnswer relies on the unique index over (session_code,
// round_number, player_id, question_index, phase). Phase is part of the key:
// a player who finished a specialist turn submits the shared
// general-knowledge batch starting at index 0 again.
func (s *Store) CreateInterviewAnswer(ctx context.Context, a *domain.InterviewAnswer) error {
	const stmt = `
INSERT INTO interview_answers (session_code, round_number, player_id, question_index, phase, choice, correct, answered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	if a.AnsweredAt.IsZero() {
		a.AnsweredAt = time.Now()
	}
	_, err := s.db.Exec(ctx, stmt, a.SessionCode, a.RoundNumber, a.PlayerID, a.QuestionIndex, a.Phase, a.Choice, a.Correct, a.AnsweredAt)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert interview answer: %w", err)
	}
	return nil
}

func (s *Store) ListInterviewAnswers(ctx context.Context, code string, round int, playerID string) ([]domain.InterviewAnswer, error) {
	const stmt = `
SELECT session_code, round_number, player_id, question_index, phase, choice, correct, answered_at
FROM interview_answers
WHERE session_code = $1 AND round_number = $2 AND player_id = $3
ORDER BY question_index;`

	rows, err := s.db.Query(ctx, stmt, code, round, playerID)
	if err != nil {
		return nil, fmt.Errorf("list interview answers: %w", err)
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.InterviewAnswer, error) {
		var a domain.InterviewAnswer
		err := r.Scan(&a.SessionCode, &a.RoundNumber, &a.PlayerID, &a.QuestionIndex, &a.Phase, &a.Choice, &a.Correct, &a.AnsweredAt)
		return a, err
	})
}

func (s *Store) CountPhaseRespondents(ctx context.Context, code string, round int, phase domain.SpecialistPhase) (int, error) {
	const stmt = `
SELECT COUNT(DISTINCT player_id) FROM interview_answers
WHERE session_code = $1 AND round_number = $2 AND phase = $3;`

	var n int
	if err := s.db.QueryRow(ctx, stmt, code, round, phase).Scan(&n); err != nil {
		return 0, fmt.Errorf("count respondents: %w", err)
	}
	return n, nil
}
