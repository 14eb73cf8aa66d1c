// Package game runs the round lifecycle of trivia rooms: turn order, question
// acquisition, the answer window, scoring and turn advance.
package game

import (
	"time"

	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/presence"
	"trivia-room-service/internal/topic"
)

// Phase is the round state of a room.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseAwaitingQuestion Phase = "awaiting_question"
	PhaseOpen             Phase = "open"
	PhaseResolving        Phase = "resolving"
	PhaseEnded            Phase = "ended"
)

// State is the aggregate of one room. It is only touched under the room lock.
type State struct {
	Game  domain.Game
	Phase Phase
	// Round is bumped whenever a round starts or is abandoned; timers and
	// generation results carry it so stale ones can be recognised.
	Round uint64
	// Topic is the topic of the round in flight.
	Topic string
	// Answers holds the submissions for the open question, by player.
	Answers map[string]domain.Answer
	// Asked lists every question of the game, oldest first.
	Asked []domain.Question
	// Recent is the rolling window of suggested topics.
	Recent  []string
	Ratings []domain.Rating
}

// NewState wraps a freshly created game.
func NewState(g domain.Game) *State {
	s := &State{Game: g, Phase: PhaseIdle}
	if g.Status == domain.StatusEnded {
		s.Phase = PhaseEnded
	}
	return s
}

// Restore rebuilds a room from persisted records. A question that was open
// when the room was lost is abandoned without scoring and every player starts
// disconnected until their socket comes back.
func Restore(g domain.Game, asked []domain.Question, ratings []domain.Rating) *State {
	s := NewState(g)
	s.Game.CurrentQuestion = nil
	s.Game.RoundStartedAt = nil
	for i := range s.Game.Players {
		s.Game.Players[i].Connected = false
	}
	if s.Game.Status == domain.StatusInProgress {
		s.Game.Status = domain.StatusWaiting
		s.Game.Paused = true
	}
	s.Asked = asked
	s.Ratings = ratings
	return s
}

// Clone returns a deep copy so a transition can be discarded on failure.
func (s *State) Clone() *State {
	out := *s
	out.Game = s.Game.Clone()
	if s.Answers != nil {
		out.Answers = make(map[string]domain.Answer, len(s.Answers))
		for k, v := range s.Answers {
			out.Answers[k] = v
		}
	}
	out.Asked = append([]domain.Question(nil), s.Asked...)
	out.Recent = append([]string(nil), s.Recent...)
	out.Ratings = append([]domain.Rating(nil), s.Ratings...)
	return &out
}

// ratingsOf returns the ratings a player has given.
func (s *State) ratingsOf(player string) []domain.Rating {
	var out []domain.Rating
	for _, r := range s.Ratings {
		if r.Player == player {
			out = append(out, r)
		}
	}
	return out
}

func (s *State) upsertRating(r domain.Rating) {
	for i := range s.Ratings {
		if s.Ratings[i].Player == r.Player && topic.Normalize(s.Ratings[i].Topic) == topic.Normalize(r.Topic) {
			s.Ratings[i] = r
			return
		}
	}
	s.Ratings = append(s.Ratings, r)
}

// quorum reports whether every connected player answered the open question.
// A room with nobody connected never reaches quorum; the deadline closes it.
func (s *State) quorum() bool {
	connected := presence.ConnectedNames(&s.Game)
	if len(connected) == 0 {
		return false
	}
	for _, name := range connected {
		if _, ok := s.Answers[name]; !ok {
			return false
		}
	}
	return true
}

func (s *State) event(typ string, payload any) domain.Event {
	return domain.Event{GameID: s.Game.ID, Type: typ, Payload: payload}
}

// Players returns the public view of every player in join order.
func Players(g *domain.Game) []domain.PlayerView {
	views := make([]domain.PlayerView, 0, len(g.Players))
	for _, p := range g.Players {
		views = append(views, domain.PlayerView{
			Name:      p.Name,
			Score:     p.Score,
			Connected: p.Connected,
			Icon:      p.Icon,
		})
	}
	return views
}

// View is the public snapshot of the room. The canonical answer is never
// included.
func (s *State) View() domain.GameView {
	v := domain.GameView{
		ID:      s.Game.ID,
		Host:    s.Game.Host,
		Status:  s.Game.Status,
		Paused:  s.Game.Paused,
		Phase:   string(s.Phase),
		Players: Players(&s.Game),
	}
	if s.Game.Status == domain.StatusInProgress {
		v.CurrentPlayer = s.Game.TurnHolder()
	}
	if s.Phase == PhaseOpen && s.Game.CurrentQuestion != nil {
		v.Question = s.Game.CurrentQuestion.Payload.Question
		v.Options = append([]string(nil), s.Game.CurrentQuestion.Payload.Options...)
	}
	return v
}

func (s *State) touch(now time.Time) {
	s.Game.LastActivity = now
}
