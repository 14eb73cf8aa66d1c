package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/retry"
	"trivia-room-service/internal/schedule"
)

const codeAttempts = 10

// Options tune a Manager.
type Options struct {
	IdleTimeout time.Duration
	Retry       retry.Policy
	Clock       func() time.Time
	NewID       func() string
}

// Room is the per-game handle held by the registry. Every mutation of a game
// happens under its lock.
type Room struct {
	mu    sync.Mutex
	id    string
	state *State
	gone  bool
	// dirty is set while a presence change is held in memory only.
	dirty bool
}

// Manager owns the registry of live rooms and drives their state machines:
// it persists each transition, schedules deadlines, runs question generation
// and publishes the resulting events.
type Manager struct {
	machine   *Machine
	store     Store
	questions QuestionSource
	sched     schedule.Scheduler
	pub       Publisher
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	loads  singleflight.Group

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewManager(machine *Machine, store Store, questions QuestionSource, sched schedule.Scheduler, pub Publisher, opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Hour
	}
	if opts.Retry.Attempts < 1 {
		opts.Retry = retry.Default
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		machine:   machine,
		store:     store,
		questions: questions,
		sched:     sched,
		pub:       pub,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		rooms:     make(map[string]*Room),
	}
}

// Create opens a new room hosted by host and returns its snapshot.
func (m *Manager) Create(ctx context.Context, host string) (domain.GameView, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := NewCode()
		if err != nil {
			return domain.GameView{}, fmt.Errorf("game code: %w", err)
		}
		if _, err := m.store.LoadGame(ctx, code); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrGameNotFound) {
			return domain.GameView{}, fmt.Errorf("check game code: %w", err)
		}

		now := m.opts.Clock()
		state := NewState(domain.Game{
			ID:           code,
			Host:         strings.TrimSpace(host),
			Status:       domain.StatusWaiting,
			LastActivity: now,
			CreatedAt:    now,
		})
		tr, err := m.machine.Apply(state, JoinGame{Name: host}, now)
		if err != nil {
			return domain.GameView{}, err
		}

		room := &Room{id: code, state: state}
		m.mu.Lock()
		if _, taken := m.rooms[code]; taken {
			m.mu.Unlock()
			continue
		}
		m.rooms[code] = room
		m.mu.Unlock()

		if err := m.persist(ctx, tr.Writes); err != nil {
			m.mu.Lock()
			delete(m.rooms, code)
			m.mu.Unlock()
			log.Printf("round: create game %s: %v", code, err)
			return domain.GameView{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		log.Printf("round: game %s created by %s", code, state.Game.Host)
		return state.View(), nil
	}
	return domain.GameView{}, errors.New("could not allocate a game code")
}

func (m *Manager) Join(ctx context.Context, gameID, name string) error {
	return m.Dispatch(ctx, gameID, JoinGame{Name: name})
}

func (m *Manager) StartGame(ctx context.Context, gameID, requester string) error {
	return m.Dispatch(ctx, gameID, StartGame{Requester: requester})
}

func (m *Manager) StartRound(ctx context.Context, gameID, requester, topic string) error {
	return m.Dispatch(ctx, gameID, StartRound{Requester: requester, Topic: topic})
}

func (m *Manager) SubmitAnswer(ctx context.Context, gameID, player, raw string) error {
	return m.Dispatch(ctx, gameID, SubmitAnswer{Player: player, Raw: raw})
}

func (m *Manager) SubmitRating(ctx context.Context, gameID, player, topic string, value int) error {
	return m.Dispatch(ctx, gameID, SubmitRating{Player: player, Topic: topic, Value: value})
}

func (m *Manager) Connect(ctx context.Context, gameID, player string) error {
	return m.Dispatch(ctx, gameID, PlayerConnected{Player: player})
}

func (m *Manager) Disconnect(ctx context.Context, gameID, player string) error {
	return m.Dispatch(ctx, gameID, PlayerDisconnected{Player: player})
}

func (m *Manager) Reset(ctx context.Context, gameID, requester string) error {
	return m.Dispatch(ctx, gameID, ResetGame{Requester: requester})
}

// State returns the public snapshot of a room.
func (m *Manager) State(ctx context.Context, gameID string) (domain.GameView, error) {
	room, err := m.room(ctx, gameID, true)
	if err != nil {
		return domain.GameView{}, err
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.gone {
		return domain.GameView{}, domain.ErrGameNotFound
	}
	return room.state.View(), nil
}

// Dispatch applies cmd to the room of gameID. Internal commands addressed to
// a game that is gone, or to a round that already moved on, are dropped.
func (m *Manager) Dispatch(ctx context.Context, gameID string, cmd Command) error {
	room, err := m.room(ctx, gameID, !internal(cmd))
	if err != nil {
		if internal(cmd) && errors.Is(err, domain.ErrGameNotFound) {
			return nil
		}
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.gone {
		if internal(cmd) {
			return nil
		}
		return domain.ErrGameNotFound
	}
	return m.apply(ctx, room, cmd)
}

// apply runs cmd on a copy of the room state and commits it only once every
// write succeeded. Callers hold room.mu.
//
// Two kinds of transition still commit when their writes fail: a question
// that cannot be resolved or delivered abandons the round, and presence
// changes are kept in memory because they follow the socket.
func (m *Manager) apply(ctx context.Context, room *Room, cmd Command) error {
	next := room.state.Clone()
	tr, err := m.machine.Apply(next, cmd, m.opts.Clock())
	if err != nil {
		if IsStale(err) {
			return nil
		}
		return err
	}

	if err := m.persist(ctx, tr.Writes); err != nil {
		switch {
		case tr.Resolved || delivers(cmd):
			m.abortRound(ctx, room, err)
			if presenceChange(cmd) {
				return m.apply(ctx, room, cmd)
			}
			return nil
		case presenceChange(cmd):
			log.Printf("round: game %s: %T kept unsaved: %v", room.id, cmd, err)
			room.dirty = true
		default:
			log.Printf("round: game %s: %T not saved: %v", room.id, cmd, err)
			return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
	} else if room.dirty {
		room.dirty = !savesGame(tr.Writes) && !m.flush(ctx, room.id, next)
	}

	room.state = next
	m.runEffects(room.id, tr.Effects)
	for _, e := range tr.Events {
		m.pub.Publish(e)
	}
	return nil
}

// flush writes a game whose last presence change was not saved.
func (m *Manager) flush(ctx context.Context, gameID string, s *State) bool {
	if err := m.persist(ctx, []Write{SaveGame{Game: s.Game.Clone()}}); err != nil {
		log.Printf("round: game %s: flush presence: %v", gameID, err)
		return false
	}
	return true
}

// abortRound abandons the round whose question could not be resolved or
// delivered, without scoring. Callers hold room.mu.
func (m *Manager) abortRound(ctx context.Context, room *Room, cause error) {
	s := room.state.Clone()
	tr := m.machine.abandonRound(s, m.opts.Clock())
	room.state = s
	m.runEffects(room.id, tr.Effects)

	log.Printf("round: game %s: round aborted: %v", room.id, cause)
	if err := m.persist(ctx, tr.Writes); err != nil {
		log.Printf("round: game %s: save after abort: %v", room.id, err)
		room.dirty = true
	} else {
		room.dirty = false
	}
	if !IsStale(cause) {
		m.pub.Publish(s.event(domain.EventError, domain.ErrorMessage{Message: domain.PublicMessage(domain.ErrPersistence)}))
	}
	for _, e := range tr.Events {
		m.pub.Publish(e)
	}
}

func delivers(cmd Command) bool {
	_, ok := cmd.(QuestionReady)
	return ok
}

func presenceChange(cmd Command) bool {
	switch cmd.(type) {
	case PlayerConnected, PlayerDisconnected:
		return true
	}
	return false
}

func savesGame(writes []Write) bool {
	for _, w := range writes {
		if _, ok := w.(SaveGame); ok {
			return true
		}
	}
	return false
}

func (m *Manager) persist(ctx context.Context, writes []Write) error {
	for _, w := range writes {
		w := w
		err := m.opts.Retry.Do(ctx, func(ctx context.Context) error {
			return m.write(ctx, w)
		})
		if err != nil {
			return fmt.Errorf("%T: %w", w, err)
		}
	}
	return nil
}

func (m *Manager) write(ctx context.Context, w Write) error {
	switch w := w.(type) {
	case SaveGame:
		return m.store.SaveGame(ctx, w.Game)
	case SaveQuestion:
		return m.store.SaveQuestion(ctx, w.Question)
	case SaveAnswer:
		return m.store.SaveAnswer(ctx, w.Answer)
	case SaveRating:
		return m.store.SaveRating(ctx, w.Rating)
	case EnsureTopic:
		return m.store.EnsureTopic(ctx, w.Name)
	case PruneRounds:
		return m.store.PruneRounds(ctx, w.GameID)
	case ClearQuestion:
		ok, err := m.store.ClearCurrentQuestion(ctx, w.GameID, w.QuestionID)
		if err != nil {
			return err
		}
		if !ok {
			return retry.Permanent(domain.ErrStaleRound)
		}
		return nil
	default:
		return retry.Permanent(fmt.Errorf("unknown write %T", w))
	}
}

func (m *Manager) runEffects(gameID string, effects []Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case CancelDeadlines:
			m.sched.CancelGame(gameID)
		case CancelDeadline:
			m.sched.Cancel(schedule.Key{GameID: gameID, Round: e.Round})
		case ScheduleDeadline:
			round := e.Round
			m.sched.Schedule(schedule.Key{GameID: gameID, Round: round}, e.After, func() {
				if err := m.Dispatch(m.ctx, gameID, DeadlineExpired{Round: round}); err != nil {
					log.Printf("round: game %s: deadline of round %d: %v", gameID, round, err)
				}
			})
		case GenerateQuestion:
			m.wg.Add(1)
			go m.generate(gameID, e)
		}
	}
}

// generate runs outside the room lock; its result re-enters as a command
// tagged with the round it was requested for.
func (m *Manager) generate(gameID string, req GenerateQuestion) {
	defer m.wg.Done()

	var cmd Command
	payload, err := m.questions.Question(m.ctx, req.Topic, req.Prior)
	if err != nil {
		log.Printf("round: game %s: generation for round %d failed: %v", gameID, req.Round, err)
		cmd = GenerationFailed{Round: req.Round, Err: err}
	} else {
		cmd = QuestionReady{Round: req.Round, Question: domain.Question{ID: m.opts.NewID(), Payload: payload}}
	}
	if err := m.Dispatch(m.ctx, gameID, cmd); err != nil {
		log.Printf("round: game %s: deliver round %d: %v", gameID, req.Round, err)
	}
}

// room returns the live room of gameID, restoring it from the store when
// load is set and the registry has no entry.
func (m *Manager) room(ctx context.Context, gameID string, load bool) (*Room, error) {
	id := strings.ToUpper(strings.TrimSpace(gameID))
	m.mu.Lock()
	room, ok := m.rooms[id]
	m.mu.Unlock()
	if ok {
		return room, nil
	}
	if !load || id == "" {
		return nil, domain.ErrGameNotFound
	}

	v, err, _ := m.loads.Do(id, func() (interface{}, error) {
		state, err := m.restore(ctx, id)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.rooms[id]; ok {
			return existing, nil
		}
		room := &Room{id: id, state: state}
		m.rooms[id] = room
		log.Printf("round: game %s restored from store", id)
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

func (m *Manager) restore(ctx context.Context, id string) (*State, error) {
	g, err := m.store.LoadGame(ctx, id)
	if err != nil {
		return nil, err
	}
	asked, err := m.store.Questions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	ratings, err := m.store.Ratings(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load ratings: %w", err)
	}
	return Restore(g, asked, ratings), nil
}

// Teardown removes a game, its timers and its records.
func (m *Manager) Teardown(ctx context.Context, gameID string) error {
	room, err := m.room(ctx, gameID, false)
	if err != nil {
		return err
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return m.teardown(ctx, room)
}

// teardown expects room.mu held.
func (m *Manager) teardown(ctx context.Context, room *Room) error {
	if room.gone {
		return nil
	}
	room.gone = true
	m.sched.CancelGame(room.id)
	m.mu.Lock()
	delete(m.rooms, room.id)
	m.mu.Unlock()

	err := m.opts.Retry.Do(ctx, func(ctx context.Context) error {
		return m.store.DeleteGame(ctx, room.id)
	})
	if err != nil {
		return fmt.Errorf("%w: delete game %s: %v", domain.ErrPersistence, room.id, err)
	}
	log.Printf("round: game %s torn down", room.id)
	return nil
}

// Sweep tears down every room idle for longer than the idle timeout and
// returns how many were removed.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	removed := 0
	for _, room := range rooms {
		room.mu.Lock()
		if !room.gone && now.Sub(room.state.Game.LastActivity) >= m.opts.IdleTimeout {
			if err := m.teardown(ctx, room); err != nil {
				log.Printf("round: sweep: %v", err)
			}
			removed++
		}
		room.mu.Unlock()
	}
	return removed
}

// Len reports how many rooms are live.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Wait blocks until in-flight question generation has been delivered.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops in-flight generation and waits for it to return.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
