package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-room-service/internal/domain"
)

// Store is a Redis implementation of game.Store.
// Layout per game:
//
//	trivia:game:{id}            JSON game record
//	trivia:game:{id}:current    id of the open question, absent when none
//	trivia:game:{id}:questions  HASH questionID -> JSON question
//	trivia:game:{id}:answers    HASH questionID:player -> JSON answer
//	trivia:game:{id}:ratings    HASH ["player","topic"] -> JSON rating
//	trivia:topics               SET of topic names
//
// Every game key expires after ttl of inactivity.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// clearCurrent deletes the open-question marker only if it still names the
// question being resolved.
var clearCurrent = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

func (s *Store) SaveGame(ctx context.Context, g domain.Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode game: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, gameKey(g.ID), data, s.ttl)
		if g.CurrentQuestion != nil {
			pipe.Set(ctx, currentKey(g.ID), g.CurrentQuestion.ID, s.ttl)
		} else {
			pipe.Del(ctx, currentKey(g.ID))
		}
		s.expire(ctx, pipe, questionsKey(g.ID), answersKey(g.ID), ratingsKey(g.ID))
		return nil
	})
	return err
}

func (s *Store) LoadGame(ctx context.Context, id string) (domain.Game, error) {
	data, err := s.client.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, err
	}
	var g domain.Game
	if err := json.Unmarshal(data, &g); err != nil {
		return domain.Game{}, fmt.Errorf("decode game %s: %w", id, err)
	}
	if g.CurrentQuestion != nil {
		current, err := s.client.Get(ctx, currentKey(id)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return domain.Game{}, err
		}
		if current != g.CurrentQuestion.ID {
			g.CurrentQuestion = nil
			g.RoundStartedAt = nil
		}
	}
	return g, nil
}

func (s *Store) DeleteGame(ctx context.Context, id string) error {
	return s.client.Del(ctx, gameKey(id), currentKey(id), questionsKey(id), answersKey(id), ratingsKey(id)).Err()
}

func (s *Store) SaveQuestion(ctx context.Context, q domain.Question) error {
	return s.hset(ctx, questionsKey(q.GameID), q.ID, q)
}

func (s *Store) Questions(ctx context.Context, gameID string) ([]domain.Question, error) {
	values, err := s.client.HGetAll(ctx, questionsKey(gameID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Question, 0, len(values))
	for _, raw := range values {
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("decode question: %w", err)
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) SaveAnswer(ctx context.Context, a domain.Answer) error {
	return s.hset(ctx, answersKey(a.GameID), a.QuestionID+":"+a.Player, a)
}

func (s *Store) Answers(ctx context.Context, gameID, questionID string) ([]domain.Answer, error) {
	values, err := s.client.HGetAll(ctx, answersKey(gameID)).Result()
	if err != nil {
		return nil, err
	}
	var out []domain.Answer
	for field, raw := range values {
		if !strings.HasPrefix(field, questionID+":") {
			continue
		}
		var a domain.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode answer: %w", err)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Player < out[j].Player })
	return out, nil
}

func (s *Store) SaveRating(ctx context.Context, r domain.Rating) error {
	field, err := ratingField(r.Player, r.Topic)
	if err != nil {
		return err
	}
	return s.hset(ctx, ratingsKey(r.GameID), field, r)
}

// ratingField encodes the pair as a JSON array; names and topics may hold
// any separator.
func ratingField(player, topic string) (string, error) {
	data, err := json.Marshal([2]string{player, topic})
	if err != nil {
		return "", fmt.Errorf("encode rating field: %w", err)
	}
	return string(data), nil
}

func (s *Store) Ratings(ctx context.Context, gameID string) ([]domain.Rating, error) {
	values, err := s.client.HGetAll(ctx, ratingsKey(gameID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Rating, 0, len(values))
	for _, raw := range values {
		var r domain.Rating
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode rating: %w", err)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Player != out[j].Player {
			return out[i].Player < out[j].Player
		}
		return out[i].Topic < out[j].Topic
	})
	return out, nil
}

func (s *Store) EnsureTopic(ctx context.Context, name string) error {
	return s.client.SAdd(ctx, topicsKey, name).Err()
}

func (s *Store) ClearCurrentQuestion(ctx context.Context, gameID, questionID string) (bool, error) {
	n, err := clearCurrent.Run(ctx, s.client, []string{currentKey(gameID)}, questionID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) PruneRounds(ctx context.Context, gameID string) error {
	return s.client.Del(ctx, currentKey(gameID), questionsKey(gameID), answersKey(gameID), ratingsKey(gameID)).Err()
}

func (s *Store) hset(ctx context.Context, key, field string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", field, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field, data)
		s.expire(ctx, pipe, key)
		return nil
	})
	return err
}

func (s *Store) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if s.ttl <= 0 {
		return
	}
	for _, key := range keys {
		pipe.Expire(ctx, key, s.ttl)
	}
}

const topicsKey = "trivia:topics"

func gameKey(id string) string      { return "trivia:game:" + id }
func currentKey(id string) string   { return gameKey(id) + ":current" }
func questionsKey(id string) string { return gameKey(id) + ":questions" }
func answersKey(id string) string   { return gameKey(id) + ":answers" }
func ratingsKey(id string) string   { return gameKey(id) + ":ratings" }
