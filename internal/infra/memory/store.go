package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"trivia-room-service/internal/domain"
)

// Store is an in-memory implementation of game.Store.
type Store struct {
	mu        sync.RWMutex
	games     map[string]domain.Game
	questions map[string][]domain.Question
	answers   map[string]map[answerKey]domain.Answer
	ratings   map[string]map[ratingKey]domain.Rating
	topics    map[string]domain.Topic
	now       func() time.Time
}

type answerKey struct {
	questionID string
	player     string
}

type ratingKey struct {
	player string
	topic  string
}

func NewStore() *Store {
	return &Store{
		games:     make(map[string]domain.Game),
		questions: make(map[string][]domain.Question),
		answers:   make(map[string]map[answerKey]domain.Answer),
		ratings:   make(map[string]map[ratingKey]domain.Rating),
		topics:    make(map[string]domain.Topic),
		now:       time.Now,
	}
}

func (s *Store) SaveGame(_ context.Context, g domain.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g.Clone()
	return nil
}

func (s *Store) LoadGame(_ context.Context, id string) (domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return g.Clone(), nil
}

func (s *Store) DeleteGame(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, id)
	delete(s.questions, id)
	delete(s.answers, id)
	delete(s.ratings, id)
	return nil
}

func (s *Store) SaveQuestion(_ context.Context, q domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.questions[q.GameID]
	for i := range list {
		if list[i].ID == q.ID {
			return nil
		}
	}
	s.questions[q.GameID] = append(list, q)
	return nil
}

func (s *Store) Questions(_ context.Context, gameID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.Question(nil), s.questions[gameID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) SaveAnswer(_ context.Context, a domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.answers[a.GameID]
	if !ok {
		byKey = make(map[answerKey]domain.Answer)
		s.answers[a.GameID] = byKey
	}
	byKey[answerKey{questionID: a.QuestionID, player: a.Player}] = a
	return nil
}

func (s *Store) Answers(_ context.Context, gameID, questionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Answer
	for key, a := range s.answers[gameID] {
		if key.questionID == questionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Player < out[j].Player })
	return out, nil
}

func (s *Store) SaveRating(_ context.Context, r domain.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.ratings[r.GameID]
	if !ok {
		byKey = make(map[ratingKey]domain.Rating)
		s.ratings[r.GameID] = byKey
	}
	byKey[ratingKey{player: r.Player, topic: r.Topic}] = r
	return nil
}

func (s *Store) Ratings(_ context.Context, gameID string) ([]domain.Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Rating, 0, len(s.ratings[gameID]))
	for _, r := range s.ratings[gameID] {
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

func (s *Store) EnsureTopic(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[name]; !ok {
		s.topics[name] = domain.Topic{Name: name, CreatedAt: s.now()}
	}
	return nil
}

// Topics lists every known topic name, sorted.
func (s *Store) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for name := range s.topics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Store) ClearCurrentQuestion(_ context.Context, gameID, questionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok || g.CurrentQuestion == nil || g.CurrentQuestion.ID != questionID {
		return false, nil
	}
	g.CurrentQuestion = nil
	g.RoundStartedAt = nil
	s.games[gameID] = g
	return true, nil
}

func (s *Store) PruneRounds(_ context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.questions, gameID)
	delete(s.answers, gameID)
	delete(s.ratings, gameID)
	return nil
}
