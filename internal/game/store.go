package game

import (
	"context"

	"trivia-room-service/internal/domain"
)

// Store is the persistence collaborator. Implementations live under
// internal/infra.
type Store interface {
	SaveGame(ctx context.Context, g domain.Game) error
	// LoadGame returns domain.ErrGameNotFound for unknown ids.
	LoadGame(ctx context.Context, id string) (domain.Game, error)
	DeleteGame(ctx context.Context, id string) error

	SaveQuestion(ctx context.Context, q domain.Question) error
	// Questions returns the questions of a game ordered by Seq.
	Questions(ctx context.Context, gameID string) ([]domain.Question, error)

	// SaveAnswer overwrites any earlier answer of the same player to the
	// same question.
	SaveAnswer(ctx context.Context, a domain.Answer) error
	Answers(ctx context.Context, gameID, questionID string) ([]domain.Answer, error)

	// SaveRating overwrites any earlier rating of the same player for the
	// same topic.
	SaveRating(ctx context.Context, r domain.Rating) error
	Ratings(ctx context.Context, gameID string) ([]domain.Rating, error)

	EnsureTopic(ctx context.Context, name string) error

	// ClearCurrentQuestion atomically clears the game's current question if
	// it is still questionID. It reports whether it did.
	ClearCurrentQuestion(ctx context.Context, gameID, questionID string) (bool, error)

	// PruneRounds removes questions, answers and ratings but keeps the game
	// and its players.
	PruneRounds(ctx context.Context, gameID string) error
}

// Publisher delivers room events to connected clients. It must not block.
type Publisher interface {
	Publish(e domain.Event)
}

// QuestionSource produces a question for a topic, avoiding prior ones.
type QuestionSource interface {
	Question(ctx context.Context, topic string, prior []domain.Question) (domain.QuestionPayload, error)
}
