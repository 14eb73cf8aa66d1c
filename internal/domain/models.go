package domain

import "time"

// GameStatus is the coarse lifecycle of a game room.
type GameStatus string

const (
	StatusWaiting    GameStatus = "waiting"
	StatusInProgress GameStatus = "in_progress"
	StatusEnded      GameStatus = "ended"
)

// Player is a participant in one game. Players are never removed on
// disconnect; only Connected flips.
type Player struct {
	Name      string    `json:"name"`
	GameID    string    `json:"gameId"`
	Score     int       `json:"score"`
	Connected bool      `json:"connected"`
	Icon      string    `json:"icon"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// QuestionPayload is what the content generator produces for a topic.
type QuestionPayload struct {
	Question    string   `json:"question"`
	Answer      string   `json:"answer"`
	Options     []string `json:"options"`
	Explanation string   `json:"explanation"`
	// Fallback marks a placeholder produced after generation gave up.
	Fallback bool `json:"fallback,omitempty"`
}

// Question is an asked question. Immutable once created.
type Question struct {
	ID        string          `json:"id"`
	GameID    string          `json:"gameId"`
	Topic     string          `json:"topic"`
	Seq       int             `json:"seq"`
	Payload   QuestionPayload `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Game is the persisted record of a room.
type Game struct {
	ID                 string     `json:"id"`
	Host               string     `json:"host"`
	Status             GameStatus `json:"status"`
	Paused             bool       `json:"paused"`
	Players            []Player   `json:"players"`
	CurrentPlayerIndex int        `json:"currentPlayerIndex"`
	CurrentQuestion    *Question  `json:"currentQuestion,omitempty"`
	RoundStartedAt     *time.Time `json:"roundStartedAt,omitempty"`
	LastActivity       time.Time  `json:"lastActivity"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// PlayerIndex returns the join-order index of the named player or -1.
func (g *Game) PlayerIndex(name string) int {
	for i := range g.Players {
		if g.Players[i].Name == name {
			return i
		}
	}
	return -1
}

// TurnHolder returns the name of the player at CurrentPlayerIndex.
func (g *Game) TurnHolder() string {
	if g.CurrentPlayerIndex < 0 || g.CurrentPlayerIndex >= len(g.Players) {
		return ""
	}
	return g.Players[g.CurrentPlayerIndex].Name
}

// IsConnected reports whether the named player is seated and connected.
func (g *Game) IsConnected(name string) bool {
	idx := g.PlayerIndex(name)
	return idx >= 0 && g.Players[idx].Connected
}

// Scores maps player name to cumulative score.
func (g *Game) Scores() map[string]int {
	scores := make(map[string]int, len(g.Players))
	for _, p := range g.Players {
		scores[p.Name] = p.Score
	}
	return scores
}

// Clone returns a deep copy; the copy shares no slices or pointers with g.
func (g Game) Clone() Game {
	out := g
	out.Players = append([]Player(nil), g.Players...)
	if g.CurrentQuestion != nil {
		q := *g.CurrentQuestion
		q.Payload.Options = append([]string(nil), g.CurrentQuestion.Payload.Options...)
		out.CurrentQuestion = &q
	}
	if g.RoundStartedAt != nil {
		t := *g.RoundStartedAt
		out.RoundStartedAt = &t
	}
	return out
}

// Answer is one player's submission for one question. Text is nil when the
// player did not answer in time.
type Answer struct {
	GameID      string    `json:"gameId"`
	QuestionID  string    `json:"questionId"`
	Player      string    `json:"player"`
	Text        *string   `json:"text"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Topic is a canonical topic name shared across games.
type Topic struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Rating values run 1..5.
const (
	MinRating = 1
	MaxRating = 5
)

// Rating is a player's preference signal for a topic.
type Rating struct {
	GameID string    `json:"gameId"`
	Player string    `json:"player"`
	Topic  string    `json:"topic"`
	Value  int       `json:"value"`
	At     time.Time `json:"at"`
}

// Liked reports a positive signal.
func (r Rating) Liked() bool { return r.Value >= 4 }

// Disliked reports a negative signal.
func (r Rating) Disliked() bool { return r.Value <= 2 }

// PlayerView is the public projection of a player.
type PlayerView struct {
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
	Icon      string `json:"icon"`
}

// GameView is the public projection of a game; the canonical answer of an
// open question is never part of it.
type GameView struct {
	ID            string       `json:"id"`
	Host          string       `json:"host"`
	Status        GameStatus   `json:"status"`
	Paused        bool         `json:"paused"`
	Phase         string       `json:"phase"`
	Players       []PlayerView `json:"players"`
	CurrentPlayer string       `json:"currentPlayer"`
	Question      string       `json:"question,omitempty"`
	Options       []string     `json:"options,omitempty"`
}
