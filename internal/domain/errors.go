package domain

import "errors"

var (
	// ErrGameNotFound is returned when a game code is unknown or was torn down.
	ErrGameNotFound = errors.New("game not found")
	// ErrPlayerNotFound is returned when a player acts in a game they never joined.
	ErrPlayerNotFound = errors.New("player not found in game")
	// ErrNameTaken is returned when a connected player already uses the name.
	ErrNameTaken = errors.New("player name already taken")
	// ErrGameFull is returned when the player cap is reached.
	ErrGameFull = errors.New("game is full")
	// ErrGameAlreadyStarted rejects new players once the game left the lobby.
	ErrGameAlreadyStarted = errors.New("game already in progress")
	// ErrNotHost is returned for host-only actions.
	ErrNotHost = errors.New("only the host can do that")
	// ErrNotYourTurn is returned when a non turn-holder picks a topic.
	ErrNotYourTurn = errors.New("it is not your turn")
	// ErrGameNotInProgress rejects round actions outside in_progress.
	ErrGameNotInProgress = errors.New("game is not in progress")
	// ErrRoundInProgress rejects a second round while one is in flight.
	ErrRoundInProgress = errors.New("a round is already in progress")
	// ErrNoOpenRound rejects answers when no answer window is open.
	ErrNoOpenRound = errors.New("no question is open")
	// ErrNoConnectedPlayers is returned when nobody can take a turn.
	ErrNoConnectedPlayers = errors.New("no connected players")
	// ErrInvalidRating rejects ratings outside 1..5 or without a topic.
	ErrInvalidRating = errors.New("rating must be between 1 and 5 for a topic")
	// ErrInvalidName rejects empty or oversized player names.
	ErrInvalidName = errors.New("invalid player name")
	// ErrGenerationExhausted is returned when no usable question was produced.
	ErrGenerationExhausted = errors.New("couldn't generate a unique question, try another topic")
	// ErrInvalidQuestion marks a generator payload that failed validation.
	ErrInvalidQuestion = errors.New("invalid question payload")
	// ErrDuplicateQuestion marks a payload that repeats an earlier question.
	ErrDuplicateQuestion = errors.New("duplicate question")
	// ErrStaleRound marks a command addressed to a round that no longer exists.
	ErrStaleRound = errors.New("stale round")
	// ErrPersistence is returned when the store kept failing after retries.
	ErrPersistence = errors.New("could not save game state")
)

var publicErrors = []error{
	ErrGameNotFound,
	ErrPlayerNotFound,
	ErrNameTaken,
	ErrGameFull,
	ErrGameAlreadyStarted,
	ErrNotHost,
	ErrNotYourTurn,
	ErrGameNotInProgress,
	ErrRoundInProgress,
	ErrNoOpenRound,
	ErrNoConnectedPlayers,
	ErrInvalidRating,
	ErrInvalidName,
	ErrGenerationExhausted,
	ErrPersistence,
}

// PublicMessage maps err to a message safe to show to clients.
func PublicMessage(err error) string {
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "something went wrong, please try again"
}
