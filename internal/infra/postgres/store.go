package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-room-service/internal/domain"
)

// Store keeps games, players, asked questions, answers and ratings in
// Postgres. Schema lives in the migrations package.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) SaveGame(ctx context.Context, g domain.Game) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save game: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var currentID *string
	if g.CurrentQuestion != nil {
		currentID = &g.CurrentQuestion.ID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO games (id, host, status, paused, current_player_index, current_question_id, round_started_at, last_activity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			host = EXCLUDED.host,
			status = EXCLUDED.status,
			paused = EXCLUDED.paused,
			current_player_index = EXCLUDED.current_player_index,
			current_question_id = EXCLUDED.current_question_id,
			round_started_at = EXCLUDED.round_started_at,
			last_activity = EXCLUDED.last_activity`,
		g.ID, g.Host, string(g.Status), g.Paused, g.CurrentPlayerIndex, currentID, g.RoundStartedAt, g.LastActivity, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("save game %s: %w", g.ID, err)
	}

	for i, p := range g.Players {
		_, err = tx.Exec(ctx, `
			INSERT INTO players (game_id, name, position, score, connected, icon, joined_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (game_id, name) DO UPDATE SET
				position = EXCLUDED.position,
				score = EXCLUDED.score,
				connected = EXCLUDED.connected,
				icon = EXCLUDED.icon`,
			g.ID, p.Name, i, p.Score, p.Connected, p.Icon, p.JoinedAt)
		if err != nil {
			return fmt.Errorf("save player %s: %w", p.Name, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) LoadGame(ctx context.Context, id string) (domain.Game, error) {
	var (
		g         domain.Game
		status    string
		currentID *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, host, status, paused, current_player_index, current_question_id, round_started_at, last_activity, created_at
		FROM games WHERE id = $1`, id).
		Scan(&g.ID, &g.Host, &status, &g.Paused, &g.CurrentPlayerIndex, &currentID, &g.RoundStartedAt, &g.LastActivity, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("load game %s: %w", id, err)
	}
	g.Status = domain.GameStatus(status)

	rows, err := s.pool.Query(ctx, `
		SELECT name, score, connected, icon, joined_at
		FROM players WHERE game_id = $1 ORDER BY position`, id)
	if err != nil {
		return domain.Game{}, fmt.Errorf("load players %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		p := domain.Player{GameID: id}
		if err := rows.Scan(&p.Name, &p.Score, &p.Connected, &p.Icon, &p.JoinedAt); err != nil {
			return domain.Game{}, fmt.Errorf("scan player: %w", err)
		}
		g.Players = append(g.Players, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Game{}, err
	}

	if currentID != nil {
		q, err := scanQuestion(s.pool.QueryRow(ctx, questionColumns+` WHERE id = $1`, *currentID))
		if err != nil {
			return domain.Game{}, fmt.Errorf("load current question %s: %w", *currentID, err)
		}
		g.CurrentQuestion = &q
	} else {
		g.RoundStartedAt = nil
	}
	return g, nil
}

func (s *Store) DeleteGame(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM games WHERE id = $1`, id)
	return err
}

func (s *Store) SaveQuestion(ctx context.Context, q domain.Question) error {
	options, err := json.Marshal(q.Payload.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO questions (id, game_id, topic, seq, question, answer, options, explanation, fallback, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		q.ID, q.GameID, q.Topic, q.Seq, q.Payload.Question, q.Payload.Answer, options, q.Payload.Explanation, q.Payload.Fallback, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("save question %s: %w", q.ID, err)
	}
	return nil
}

func (s *Store) Questions(ctx context.Context, gameID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, questionColumns+` WHERE game_id = $1 ORDER BY seq`, gameID)
	if err != nil {
		return nil, fmt.Errorf("load questions %s: %w", gameID, err)
	}
	defer rows.Close()
	var out []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) SaveAnswer(ctx context.Context, a domain.Answer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO answers (game_id, question_id, player, text, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (question_id, player) DO UPDATE SET
			text = EXCLUDED.text,
			submitted_at = EXCLUDED.submitted_at`,
		a.GameID, a.QuestionID, a.Player, a.Text, a.SubmittedAt)
	if err != nil {
		return fmt.Errorf("save answer of %s: %w", a.Player, err)
	}
	return nil
}

func (s *Store) Answers(ctx context.Context, gameID, questionID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player, text, submitted_at FROM answers
		WHERE game_id = $1 AND question_id = $2 ORDER BY player`, gameID, questionID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()
	var out []domain.Answer
	for rows.Next() {
		a := domain.Answer{GameID: gameID, QuestionID: questionID}
		if err := rows.Scan(&a.Player, &a.Text, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveRating(ctx context.Context, r domain.Rating) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ratings (game_id, player, topic, value, rated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (game_id, player, topic) DO UPDATE SET
			value = EXCLUDED.value,
			rated_at = EXCLUDED.rated_at`,
		r.GameID, r.Player, r.Topic, r.Value, r.At)
	if err != nil {
		return fmt.Errorf("save rating of %s: %w", r.Player, err)
	}
	return nil
}

func (s *Store) Ratings(ctx context.Context, gameID string) ([]domain.Rating, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player, topic, value, rated_at FROM ratings
		WHERE game_id = $1 ORDER BY player, topic`, gameID)
	if err != nil {
		return nil, fmt.Errorf("load ratings: %w", err)
	}
	defer rows.Close()
	var out []domain.Rating
	for rows.Next() {
		r := domain.Rating{GameID: gameID}
		if err := rows.Scan(&r.Player, &r.Topic, &r.Value, &r.At); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) EnsureTopic(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO topics (name, created_at) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`, name, time.Now().UTC())
	return err
}

// ClearCurrentQuestion is a conditional update, so two resolvers racing on
// the same round see exactly one affected row between them.
func (s *Store) ClearCurrentQuestion(ctx context.Context, gameID, questionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE games SET current_question_id = NULL, round_started_at = NULL
		WHERE id = $1 AND current_question_id = $2`, gameID, questionID)
	if err != nil {
		return false, fmt.Errorf("clear current question: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) PruneRounds(ctx context.Context, gameID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, stmt := range []string{
		`UPDATE games SET current_question_id = NULL, round_started_at = NULL WHERE id = $1`,
		`DELETE FROM ratings WHERE game_id = $1`,
		`DELETE FROM answers WHERE game_id = $1`,
		`DELETE FROM questions WHERE game_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, gameID); err != nil {
			return fmt.Errorf("prune rounds of %s: %w", gameID, err)
		}
	}
	return tx.Commit(ctx)
}

const questionColumns = `
	SELECT id, game_id, topic, seq, question, answer, options, explanation, fallback, created_at
	FROM questions`

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q   domain.Question
		raw []byte
	)
	err := row.Scan(&q.ID, &q.GameID, &q.Topic, &q.Seq, &q.Payload.Question, &q.Payload.Answer, &raw, &q.Payload.Explanation, &q.Payload.Fallback, &q.CreatedAt)
	if err != nil {
		return domain.Question{}, fmt.Errorf("scan question: %w", err)
	}
	if err := json.Unmarshal(raw, &q.Payload.Options); err != nil {
		return domain.Question{}, fmt.Errorf("decode options of %s: %w", q.ID, err)
	}
	return q, nil
}
