package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/topic"
)

// BankLoader reads pre-authored questions from the question_bank table.
type BankLoader struct {
	pool *pgxpool.Pool
}

func NewBankLoader(pool *pgxpool.Pool) *BankLoader {
	return &BankLoader{pool: pool}
}

func (l *BankLoader) LoadBank(ctx context.Context, name string) ([]domain.QuestionPayload, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT question, answer, options, explanation
		FROM question_bank WHERE topic = $1 ORDER BY id`, topic.Normalize(name))
	if err != nil {
		return nil, fmt.Errorf("load bank: %w", err)
	}
	defer rows.Close()

	var out []domain.QuestionPayload
	for rows.Next() {
		var (
			q   domain.QuestionPayload
			raw []byte
		)
		if err := rows.Scan(&q.Question, &q.Answer, &raw, &q.Explanation); err != nil {
			return nil, fmt.Errorf("scan bank question: %w", err)
		}
		if err := json.Unmarshal(raw, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal bank options: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// SeedBank replaces the stored questions of every topic in banks.
func (l *BankLoader) SeedBank(ctx context.Context, banks map[string][]domain.QuestionPayload) (int, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	count := 0
	for name, questions := range banks {
		key := topic.Normalize(name)
		if _, err := tx.Exec(ctx, `DELETE FROM question_bank WHERE topic = $1`, key); err != nil {
			return 0, fmt.Errorf("clear bank %s: %w", key, err)
		}
		for _, q := range questions {
			options, err := json.Marshal(q.Options)
			if err != nil {
				return 0, err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO question_bank (topic, question, answer, options, explanation)
				VALUES ($1, $2, $3, $4, $5)`, key, q.Question, q.Answer, options, q.Explanation)
			if err != nil {
				return 0, fmt.Errorf("seed bank %s: %w", key, err)
			}
			count++
		}
	}
	return count, tx.Commit(ctx)
}
