package game

import (
	"time"

	"trivia-room-service/internal/domain"
)

// Command is one inbound room event consumed by Machine.Apply.
type Command interface{ command() }

// JoinGame registers a player. Joining under the name of a disconnected
// player claims that seat back; the socket connect then marks it connected.
type JoinGame struct{ Name string }

// StartGame moves a lobby into play. Host only.
type StartGame struct{ Requester string }

// StartRound is the turn-holder picking a topic. An empty topic asks the
// recommender for one.
type StartRound struct {
	Requester string
	Topic     string
}

// QuestionReady delivers the generated question of a round.
type QuestionReady struct {
	Round    uint64
	Question domain.Question
}

// GenerationFailed reports that no usable question could be produced.
type GenerationFailed struct {
	Round uint64
	Err   error
}

type SubmitAnswer struct {
	Player string
	Raw    string
}

// DeadlineExpired is fired by the round timer.
type DeadlineExpired struct{ Round uint64 }

type SubmitRating struct {
	Player string
	Topic  string
	Value  int
}

type PlayerConnected struct{ Player string }

type PlayerDisconnected struct{ Player string }

// ResetGame zeroes scores and returns the room to the lobby. Host only.
type ResetGame struct{ Requester string }

func (JoinGame) command()           {}
func (StartGame) command()          {}
func (StartRound) command()         {}
func (QuestionReady) command()      {}
func (GenerationFailed) command()   {}
func (SubmitAnswer) command()       {}
func (DeadlineExpired) command()    {}
func (SubmitRating) command()       {}
func (PlayerConnected) command()    {}
func (PlayerDisconnected) command() {}
func (ResetGame) command()          {}

// internal reports whether cmd originates from the room itself rather than a
// client. Internal commands addressed to a vanished game are dropped.
func internal(cmd Command) bool {
	switch cmd.(type) {
	case QuestionReady, GenerationFailed, DeadlineExpired:
		return true
	}
	return false
}

// Effect is a side effect the manager runs after committing a transition.
type Effect interface{ effect() }

// GenerateQuestion asks the gateway for a question for Round.
type GenerateQuestion struct {
	Round uint64
	Topic string
	Prior []domain.Question
}

type ScheduleDeadline struct {
	Round uint64
	After time.Duration
}

type CancelDeadline struct{ Round uint64 }

// CancelDeadlines drops every pending timer of the game.
type CancelDeadlines struct{}

func (GenerateQuestion) effect() {}
func (ScheduleDeadline) effect() {}
func (CancelDeadline) effect()   {}
func (CancelDeadlines) effect()  {}

// Write is one store mutation a transition depends on. Writes run in order
// and the transition only commits when all of them succeed.
type Write interface{ write() }

type SaveGame struct{ Game domain.Game }

type SaveQuestion struct{ Question domain.Question }

type SaveAnswer struct{ Answer domain.Answer }

type SaveRating struct{ Rating domain.Rating }

type EnsureTopic struct{ Name string }

// ClearQuestion is the resolution guard: it only succeeds when QuestionID is
// still the game's current question in the store.
type ClearQuestion struct {
	GameID     string
	QuestionID string
}

// PruneRounds deletes questions, answers and ratings of a game.
type PruneRounds struct{ GameID string }

func (SaveGame) write()      {}
func (SaveQuestion) write()  {}
func (SaveAnswer) write()    {}
func (SaveRating) write()    {}
func (EnsureTopic) write()   {}
func (ClearQuestion) write() {}
func (PruneRounds) write()   {}

// Transition is the outcome of applying a command.
type Transition struct {
	Events  []domain.Event
	Effects []Effect
	Writes  []Write
	// Resolved is set when the transition closed an answer window.
	Resolved bool
}

func (t *Transition) emit(e domain.Event) { t.Events = append(t.Events, e) }
func (t *Transition) run(e Effect)        { t.Effects = append(t.Effects, e) }
func (t *Transition) persist(w Write)     { t.Writes = append(t.Writes, w) }
func (t *Transition) merge(o Transition) {
	t.Events = append(t.Events, o.Events...)
	t.Effects = append(t.Effects, o.Effects...)
	t.Writes = append(t.Writes, o.Writes...)
	t.Resolved = t.Resolved || o.Resolved
}
