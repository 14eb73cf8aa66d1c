package game

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"trivia-room-service/internal/answer"
	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/presence"
	"trivia-room-service/internal/topic"
)

// MaxNameLength bounds player display names, in runes.
const MaxNameLength = 32

// Rules are the game constants supplied by configuration.
type Rules struct {
	AnswerWindow time.Duration
	WinningScore int
	MaxPlayers   int
}

// DefaultRules mirrors the default configuration.
var DefaultRules = Rules{
	AnswerWindow: 30 * time.Second,
	WinningScore: 10,
	MaxPlayers:   10,
}

// Machine is the transition function of a room. Apply mutates the state it
// is given and describes the broadcasts, side effects and store writes the
// change implies; it performs no I/O itself.
type Machine struct {
	rules       Rules
	matcher     *answer.Matcher
	recommender *topic.Recommender
}

func NewMachine(rules Rules, matcher *answer.Matcher, recommender *topic.Recommender) *Machine {
	if rules.AnswerWindow <= 0 {
		rules.AnswerWindow = DefaultRules.AnswerWindow
	}
	if rules.WinningScore <= 0 {
		rules.WinningScore = DefaultRules.WinningScore
	}
	if rules.MaxPlayers <= 0 {
		rules.MaxPlayers = DefaultRules.MaxPlayers
	}
	if matcher == nil {
		matcher = answer.NewMatcher(answer.DefaultThreshold)
	}
	if recommender == nil {
		recommender = topic.NewRecommender(topic.Curated, 0.25, 3)
	}
	return &Machine{rules: rules, matcher: matcher, recommender: recommender}
}

// Rules returns the effective rules.
func (m *Machine) Rules() Rules { return m.rules }

// Apply runs cmd against s. On error s may be partially modified and must be
// discarded; callers apply to a clone.
func (m *Machine) Apply(s *State, cmd Command, now time.Time) (Transition, error) {
	switch c := cmd.(type) {
	case JoinGame:
		return m.join(s, c, now)
	case StartGame:
		return m.startGame(s, c, now)
	case StartRound:
		return m.startRound(s, c, now)
	case QuestionReady:
		return m.questionReady(s, c, now)
	case GenerationFailed:
		return m.generationFailed(s, c)
	case SubmitAnswer:
		return m.submitAnswer(s, c, now)
	case DeadlineExpired:
		if c.Round != s.Round || s.Phase != PhaseOpen {
			return Transition{}, ErrStale(c.Round, s.Round)
		}
		return m.resolve(s, now), nil
	case SubmitRating:
		return m.submitRating(s, c, now)
	case PlayerConnected:
		return m.connected(s, c, now)
	case PlayerDisconnected:
		return m.disconnected(s, c, now)
	case ResetGame:
		return m.reset(s, c, now)
	default:
		return Transition{}, fmt.Errorf("unknown command %T", cmd)
	}
}

// ErrStale wraps domain.ErrStaleRound with the rounds involved.
func ErrStale(got, current uint64) error {
	return fmt.Errorf("%w: round %d, current %d", domain.ErrStaleRound, got, current)
}

func (m *Machine) join(s *State, c JoinGame, now time.Time) (Transition, error) {
	var tr Transition
	name := strings.TrimSpace(c.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return tr, domain.ErrInvalidName
	}
	if idx := s.Game.PlayerIndex(name); idx >= 0 {
		if s.Game.Players[idx].Connected {
			return tr, domain.ErrNameTaken
		}
		return tr, nil
	}
	if s.Game.Status != domain.StatusWaiting || s.Game.Paused {
		return tr, domain.ErrGameAlreadyStarted
	}
	if len(s.Game.Players) >= m.rules.MaxPlayers {
		return tr, domain.ErrGameFull
	}

	s.Game.Players = append(s.Game.Players, domain.Player{
		Name:     name,
		GameID:   s.Game.ID,
		Icon:     pickIcon(&s.Game),
		JoinedAt: now,
	})
	s.touch(now)
	tr.persist(SaveGame{Game: s.Game.Clone()})
	return tr, nil
}

func (m *Machine) startGame(s *State, c StartGame, now time.Time) (Transition, error) {
	var tr Transition
	if c.Requester != s.Game.Host {
		return tr, domain.ErrNotHost
	}
	if s.Game.Status != domain.StatusWaiting || s.Game.Paused {
		return tr, domain.ErrGameAlreadyStarted
	}
	first, ok := presence.FirstEligible(&s.Game, 0)
	if !ok {
		return tr, domain.ErrNoConnectedPlayers
	}

	s.Game.Status = domain.StatusInProgress
	s.Game.CurrentPlayerIndex = first
	s.Phase = PhaseIdle
	s.touch(now)

	tr.emit(s.event(domain.EventGameStarted, domain.GameStarted{
		CurrentPlayer: s.Game.TurnHolder(),
		Players:       Players(&s.Game),
		Scores:        s.Game.Scores(),
	}))
	tr.persist(SaveGame{Game: s.Game.Clone()})
	return tr, nil
}

func (m *Machine) startRound(s *State, c StartRound, now time.Time) (Transition, error) {
	var tr Transition
	if s.Game.PlayerIndex(c.Requester) < 0 {
		return tr, domain.ErrPlayerNotFound
	}
	if s.Game.Status != domain.StatusInProgress {
		return tr, domain.ErrGameNotInProgress
	}
	if s.Phase != PhaseIdle {
		return tr, domain.ErrRoundInProgress
	}
	if s.Game.TurnHolder() != c.Requester {
		return tr, domain.ErrNotYourTurn
	}

	chosen := strings.TrimSpace(c.Topic)
	if chosen == "" {
		chosen = m.recommender.Suggest(s.Recent, s.ratingsOf(c.Requester))
		s.Recent = m.recommender.Remember(s.Recent, chosen)
		tr.emit(s.event(domain.EventRandomTopicSelected, domain.RandomTopicSelected{Topic: chosen}))
	}

	s.Round++
	s.Phase = PhaseAwaitingQuestion
	s.Topic = chosen
	s.Answers = nil
	s.touch(now)

	tr.run(CancelDeadlines{})
	tr.run(GenerateQuestion{
		Round: s.Round,
		Topic: chosen,
		Prior: append([]domain.Question(nil), s.Asked...),
	})
	tr.persist(EnsureTopic{Name: topic.Normalize(chosen)})
	return tr, nil
}

func (m *Machine) questionReady(s *State, c QuestionReady, now time.Time) (Transition, error) {
	var tr Transition
	if c.Round != s.Round || s.Phase != PhaseAwaitingQuestion {
		return tr, ErrStale(c.Round, s.Round)
	}

	q := c.Question
	q.GameID = s.Game.ID
	q.Topic = topic.Normalize(s.Topic)
	q.Seq = len(s.Asked) + 1
	q.CreatedAt = now
	q.Payload.Options = append([]string(nil), q.Payload.Options...)

	started := now
	s.Phase = PhaseOpen
	s.Game.CurrentQuestion = &q
	s.Game.RoundStartedAt = &started
	s.Answers = make(map[string]domain.Answer)
	s.Asked = append(s.Asked, q)
	s.touch(now)

	tr.emit(s.event(domain.EventQuestionReady, domain.QuestionReady{
		Question: q.Payload.Question,
		Options:  append([]string(nil), q.Payload.Options...),
		Topic:    s.Topic,
	}))
	tr.run(ScheduleDeadline{Round: s.Round, After: m.rules.AnswerWindow})
	tr.persist(SaveQuestion{Question: q})
	tr.persist(SaveGame{Game: s.Game.Clone()})
	return tr, nil
}

func (m *Machine) generationFailed(s *State, c GenerationFailed) (Transition, error) {
	var tr Transition
	if c.Round != s.Round || s.Phase != PhaseAwaitingQuestion {
		return tr, ErrStale(c.Round, s.Round)
	}
	s.Phase = PhaseIdle
	s.Topic = ""
	tr.emit(s.event(domain.EventError, domain.ErrorMessage{Message: domain.PublicMessage(c.Err)}))
	return tr, nil
}

func (m *Machine) submitAnswer(s *State, c SubmitAnswer, now time.Time) (Transition, error) {
	var tr Transition
	if s.Game.PlayerIndex(c.Player) < 0 {
		return tr, domain.ErrPlayerNotFound
	}
	if s.Phase != PhaseOpen || s.Game.CurrentQuestion == nil {
		return tr, domain.ErrNoOpenRound
	}

	q := s.Game.CurrentQuestion
	a := domain.Answer{
		GameID:      s.Game.ID,
		QuestionID:  q.ID,
		Player:      c.Player,
		SubmittedAt: now,
	}
	if s.Game.RoundStartedAt == nil || !now.After(s.Game.RoundStartedAt.Add(m.rules.AnswerWindow)) {
		text := m.matcher.Resolve(c.Raw, q.Payload.Options)
		a.Text = &text
	}
	s.Answers[c.Player] = a
	s.touch(now)

	tr.emit(s.event(domain.EventPlayerAnswered, domain.PlayerAnswered{Player: c.Player}))
	tr.persist(SaveAnswer{Answer: a})
	if s.quorum() {
		tr.merge(m.resolve(s, now))
	}
	return tr, nil
}

// resolve scores the open question and advances the turn or ends the game.
func (m *Machine) resolve(s *State, now time.Time) Transition {
	tr := Transition{Resolved: true}
	s.Phase = PhaseResolving
	q := s.Game.CurrentQuestion
	round := s.Round

	tr.run(CancelDeadline{Round: round})
	tr.persist(ClearQuestion{GameID: s.Game.ID, QuestionID: q.ID})

	perPlayer := make(map[string]*string, len(s.Game.Players))
	var correct []string
	for i := range s.Game.Players {
		p := &s.Game.Players[i]
		a, answered := s.Answers[p.Name]
		if !p.Connected {
			if answered {
				perPlayer[p.Name] = a.Text
			}
			continue
		}
		if !answered {
			a = domain.Answer{GameID: s.Game.ID, QuestionID: q.ID, Player: p.Name, SubmittedAt: now}
			s.Answers[p.Name] = a
			tr.persist(SaveAnswer{Answer: a})
		}
		perPlayer[p.Name] = a.Text
		if m.matcher.Match(a.Text, q.Payload.Answer) {
			p.Score++
			correct = append(correct, p.Name)
		}
	}

	s.Game.CurrentQuestion = nil
	s.Game.RoundStartedAt = nil
	topicName := s.Topic
	s.Topic = ""
	s.touch(now)

	var winners []string
	for _, p := range s.Game.Players {
		if p.Score >= m.rules.WinningScore {
			winners = append(winners, p.Name)
		}
	}
	if len(winners) > 0 {
		s.Phase = PhaseEnded
		s.Game.Status = domain.StatusEnded
		tr.emit(s.event(domain.EventGameEnded, domain.GameEnded{
			CorrectAnswer: q.Payload.Answer,
			Winners:       winners,
			Scores:        s.Game.Scores(),
		}))
		tr.persist(SaveGame{Game: s.Game.Clone()})
		return tr
	}

	s.Phase = PhaseIdle
	next, ok := presence.NextEligible(&s.Game, s.Game.CurrentPlayerIndex)
	results := domain.RoundResults{
		CorrectAnswer:    q.Payload.Answer,
		Explanation:      q.Payload.Explanation,
		PerPlayerAnswers: perPlayer,
		CorrectPlayers:   correct,
		Scores:           s.Game.Scores(),
	}
	if ok {
		s.Game.CurrentPlayerIndex = next
		results.NextPlayer = s.Game.TurnHolder()
	}
	tr.emit(s.event(domain.EventRoundResults, results))
	tr.emit(s.event(domain.EventRequestFeedback, domain.RequestFeedback{Topic: topicName}))
	if !ok {
		tr.merge(pause(s, "all players disconnected"))
	}
	tr.persist(SaveGame{Game: s.Game.Clone()})
	return tr
}

func (m *Machine) submitRating(s *State, c SubmitRating, now time.Time) (Transition, error) {
	var tr Transition
	if s.Game.PlayerIndex(c.Player) < 0 {
		return tr, domain.ErrPlayerNotFound
	}
	name := topic.Normalize(c.Topic)
	if name == "" || c.Value < domain.MinRating || c.Value > domain.MaxRating {
		return tr, domain.ErrInvalidRating
	}
	r := domain.Rating{GameID: s.Game.ID, Player: c.Player, Topic: name, Value: c.Value, At: now}
	s.upsertRating(r)
	s.touch(now)
	tr.persist(EnsureTopic{Name: name})
	tr.persist(SaveRating{Rating: r})
	return tr, nil
}

func (m *Machine) connected(s *State, c PlayerConnected, now time.Time) (Transition, error) {
	var tr Transition
	changed, err := presence.MarkConnected(&s.Game, c.Player)
	if err != nil || !changed {
		return tr, err
	}
	s.touch(now)
	tr.emit(s.event(domain.EventPlayerJoined, domain.PlayerJoined{
		Player:  c.Player,
		Players: Players(&s.Game),
	}))
	if s.Game.Paused {
		idx, _ := presence.FirstEligible(&s.Game, s.Game.CurrentPlayerIndex)
		s.Game.Paused = false
		s.Game.Status = domain.StatusInProgress
		s.Game.CurrentPlayerIndex = idx
		tr.emit(s.event(domain.EventGameResumed, domain.GameResumed{CurrentPlayer: s.Game.TurnHolder()}))
	}
	tr.persist(SaveGame{Game: s.Game.Clone()})
	return tr, nil
}

func (m *Machine) disconnected(s *State, c PlayerDisconnected, now time.Time) (Transition, error) {
	var tr Transition
	changed, err := presence.MarkDisconnected(&s.Game, c.Player)
	if err != nil || !changed {
		return tr, err
	}
	s.touch(now)
	tr.emit(s.event(domain.EventPlayerDisconnected, domain.PlayerDisconnected{Player: c.Player}))

	nobodyLeft := len(presence.ConnectedNames(&s.Game)) == 0
	if s.Game.Status == domain.StatusInProgress {
		switch s.Phase {
		case PhaseOpen:
			if s.quorum() {
				tr.merge(m.resolve(s, now))
				return tr, nil
			}
		case PhaseAwaitingQuestion:
			if nobodyLeft {
				s.Round++
				s.Phase = PhaseIdle
				s.Topic = ""
				tr.merge(pause(s, "all players disconnected"))
			}
		case PhaseIdle:
			if s.Game.TurnHolder() == c.Player {
				next, ok := presence.NextEligible(&s.Game, s.Game.CurrentPlayerIndex)
				if ok {
					s.Game.CurrentPlayerIndex = next
					tr.emit(s.event(domain.EventTurnSkipped, domain.TurnSkipped{
						DisconnectedPlayer: c.Player,
						NextPlayer:         s.Game.TurnHolder(),
					}))
				} else {
					tr.merge(pause(s, "all players disconnected"))
				}
			} else if nobodyLeft {
				tr.merge(pause(s, "all players disconnected"))
			}
		}
	}
	tr.persist(SaveGame{Game: s.Game.Clone()})
	return tr, nil
}

// abandonRound drops the pending or open question of the current round
// without scoring. A turn held by a disconnected player moves on.
func (m *Machine) abandonRound(s *State, now time.Time) Transition {
	var tr Transition
	s.Round++
	s.Phase = PhaseIdle
	s.Topic = ""
	s.Answers = nil
	s.Game.CurrentQuestion = nil
	s.Game.RoundStartedAt = nil
	s.touch(now)
	tr.run(CancelDeadlines{})

	holder := s.Game.TurnHolder()
	if s.Game.Status == domain.StatusInProgress && !s.Game.IsConnected(holder) {
		if next, ok := presence.NextEligible(&s.Game, s.Game.CurrentPlayerIndex); ok {
			s.Game.CurrentPlayerIndex = next
			tr.emit(s.event(domain.EventTurnSkipped, domain.TurnSkipped{
				DisconnectedPlayer: holder,
				NextPlayer:         s.Game.TurnHolder(),
			}))
		} else {
			tr.merge(pause(s, "all players disconnected"))
		}
	}
	tr.persist(SaveGame{Game: s.Game.Clone()})
	return tr
}

// pause parks an in-progress game until someone reconnects.
func pause(s *State, reason string) Transition {
	var tr Transition
	s.Game.Status = domain.StatusWaiting
	s.Game.Paused = true
	tr.emit(s.event(domain.EventGamePaused, domain.GamePaused{Reason: reason}))
	return tr
}

func (m *Machine) reset(s *State, c ResetGame, now time.Time) (Transition, error) {
	var tr Transition
	if c.Requester != s.Game.Host {
		return tr, domain.ErrNotHost
	}
	if s.Phase != PhaseIdle && s.Phase != PhaseEnded {
		return tr, domain.ErrRoundInProgress
	}

	for i := range s.Game.Players {
		s.Game.Players[i].Score = 0
	}
	s.Game.Status = domain.StatusWaiting
	s.Game.Paused = false
	s.Game.CurrentPlayerIndex = 0
	s.Game.CurrentQuestion = nil
	s.Game.RoundStartedAt = nil
	s.Round++
	s.Phase = PhaseIdle
	s.Topic = ""
	s.Answers = nil
	s.Asked = nil
	s.Recent = nil
	s.Ratings = nil
	s.touch(now)

	tr.emit(s.event(domain.EventGameReset, domain.GameReset{Scores: s.Game.Scores()}))
	tr.run(CancelDeadlines{})
	tr.persist(PruneRounds{GameID: s.Game.ID})
	tr.persist(SaveGame{Game: s.Game.Clone()})
	return tr, nil
}

// IsStale reports whether err only signals a command addressed to a round
// that has already moved on.
func IsStale(err error) bool {
	return errors.Is(err, domain.ErrStaleRound)
}
