package domain

// Outbound event types broadcast to a room.
const (
	EventPlayerJoined        = "player_joined"
	EventPlayerDisconnected  = "player_disconnected"
	EventGameStarted         = "game_started"
	EventRandomTopicSelected = "random_topic_selected"
	EventQuestionReady       = "question_ready"
	EventPlayerAnswered      = "player_answered"
	EventRoundResults        = "round_results"
	EventRequestFeedback     = "request_feedback"
	EventGameEnded           = "game_ended"
	EventTurnSkipped         = "turn_skipped"
	EventGamePaused          = "game_paused"
	EventGameResumed         = "game_resumed"
	EventGameReset           = "game_reset"
	EventError               = "error"
	EventGameState           = "game_state"
)

// Event is one outbound broadcast. Target limits delivery to a single
// player; empty means the whole room.
type Event struct {
	GameID  string `json:"-"`
	Type    string `json:"type"`
	Target  string `json:"-"`
	Payload any    `json:"payload"`
}

type PlayerJoined struct {
	Player  string       `json:"player"`
	Players []PlayerView `json:"players"`
}

type PlayerDisconnected struct {
	Player string `json:"player"`
}

type GameStarted struct {
	CurrentPlayer string         `json:"current_player"`
	Players       []PlayerView   `json:"players"`
	Scores        map[string]int `json:"scores"`
}

type RandomTopicSelected struct {
	Topic string `json:"topic"`
}

type QuestionReady struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Topic    string   `json:"topic"`
}

type PlayerAnswered struct {
	Player string `json:"player"`
}

type RoundResults struct {
	CorrectAnswer    string             `json:"correct_answer"`
	Explanation      string             `json:"explanation"`
	PerPlayerAnswers map[string]*string `json:"per_player_answers"`
	CorrectPlayers   []string           `json:"correct_players"`
	NextPlayer       string             `json:"next_player"`
	Scores           map[string]int     `json:"scores"`
}

type RequestFeedback struct {
	Topic string `json:"topic"`
}

type GameEnded struct {
	CorrectAnswer string         `json:"correct_answer"`
	Winners       []string       `json:"winners"`
	Scores        map[string]int `json:"scores"`
}

type TurnSkipped struct {
	DisconnectedPlayer string `json:"disconnected_player"`
	NextPlayer         string `json:"next_player"`
}

type GamePaused struct {
	Reason string `json:"reason"`
}

type GameResumed struct {
	CurrentPlayer string `json:"current_player"`
}

type GameReset struct {
	Scores map[string]int `json:"scores"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
