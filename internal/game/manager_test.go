package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trivia-room-service/internal/answer"
	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/generator"
	"trivia-room-service/internal/infra/memory"
	"trivia-room-service/internal/retry"
	"trivia-room-service/internal/schedule"
	"trivia-room-service/internal/topic"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(typ string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fakeSource struct {
	mu       sync.Mutex
	payloads []domain.QuestionPayload
	err      error
	topics   []string
}

func (f *fakeSource) Question(_ context.Context, t string, _ []domain.Question) (domain.QuestionPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, t)
	if f.err != nil {
		return domain.QuestionPayload{}, f.err
	}
	p := f.payloads[0]
	if len(f.payloads) > 1 {
		f.payloads = f.payloads[1:]
	}
	return p, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t     *testing.T
	m     *Manager
	store Store
	mem   *memory.Store
	sched *schedule.Manual
	pub   *recorder
	clock *fakeClock
}

func parisPayload() domain.QuestionPayload {
	return domain.QuestionPayload{
		Question:    "Capital of France?",
		Answer:      "Paris",
		Options:     []string{"Paris", "Lyon", "Nice", "Lille"},
		Explanation: "Paris has been the capital since 987.",
	}
}

func berlinPayload() domain.QuestionPayload {
	return domain.QuestionPayload{
		Question:    "Capital of Germany?",
		Answer:      "Berlin",
		Options:     []string{"Bonn", "Berlin", "Munich", "Hamburg"},
		Explanation: "Berlin became the capital again in 1990.",
	}
}

func newHarness(t *testing.T, rules Rules, src QuestionSource, wrap func(Store) Store) *harness {
	t.Helper()
	mem := memory.NewStore()
	var store Store = mem
	if wrap != nil {
		store = wrap(mem)
	}
	h := &harness{
		t:     t,
		store: store,
		mem:   mem,
		sched: schedule.NewManual(),
		pub:   &recorder{},
		clock: &fakeClock{now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)},
	}
	machine := NewMachine(rules, answer.NewMatcher(answer.DefaultThreshold), topic.NewRecommender(topic.Curated, 0.25, 3))
	h.m = NewManager(machine, store, src, h.sched, h.pub, Options{
		IdleTimeout: time.Hour,
		Retry:       retry.Policy{Attempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Clock:       h.clock.Now,
	})
	t.Cleanup(h.m.Close)
	return h
}

// startedGame creates a game hosted by players[0], seats and connects
// everyone and starts it.
func (h *harness) startedGame(players ...string) string {
	h.t.Helper()
	ctx := context.Background()
	view, err := h.m.Create(ctx, players[0])
	if err != nil {
		h.t.Fatalf("create: %v", err)
	}
	for _, name := range players[1:] {
		if err := h.m.Join(ctx, view.ID, name); err != nil {
			h.t.Fatalf("join %s: %v", name, err)
		}
	}
	for _, name := range players {
		if err := h.m.Connect(ctx, view.ID, name); err != nil {
			h.t.Fatalf("connect %s: %v", name, err)
		}
	}
	if err := h.m.StartGame(ctx, view.ID, players[0]); err != nil {
		h.t.Fatalf("start game: %v", err)
	}
	return view.ID
}

// openRound starts a round for requester and waits for the question.
func (h *harness) openRound(gameID, requester, t string) {
	h.t.Helper()
	if err := h.m.StartRound(context.Background(), gameID, requester, t); err != nil {
		h.t.Fatalf("start round: %v", err)
	}
	h.m.Wait()
	view := h.state(gameID)
	if view.Phase != string(PhaseOpen) {
		h.t.Fatalf("expected open round, got phase %s", view.Phase)
	}
}

func (h *harness) state(gameID string) domain.GameView {
	h.t.Helper()
	view, err := h.m.State(context.Background(), gameID)
	if err != nil {
		h.t.Fatalf("state: %v", err)
	}
	return view
}

func (h *harness) deadlineKey(gameID string) schedule.Key {
	h.t.Helper()
	keys := h.sched.Keys(gameID)
	if len(keys) != 1 {
		h.t.Fatalf("expected one pending deadline, got %d", len(keys))
	}
	return keys[0]
}

func (h *harness) lastQuestionID(gameID string) string {
	h.t.Helper()
	questions, err := h.mem.Questions(context.Background(), gameID)
	if err != nil || len(questions) == 0 {
		h.t.Fatalf("expected stored questions, err=%v", err)
	}
	return questions[len(questions)-1].ID
}

func (h *harness) answer(gameID, player, raw string) {
	h.t.Helper()
	if err := h.m.SubmitAnswer(context.Background(), gameID, player, raw); err != nil {
		h.t.Fatalf("answer %s: %v", player, err)
	}
}

func TestTwoPlayerRoundScoresAndPassesTurn(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	id := h.startedGame("alice", "bob")

	h.openRound(id, "alice", "Geography")
	ready := h.pub.ofType(domain.EventQuestionReady)
	if len(ready) != 1 {
		t.Fatalf("expected one question_ready, got %d", len(ready))
	}
	if got := ready[0].Payload.(domain.QuestionReady); got.Topic != "Geography" || len(got.Options) != 4 {
		t.Fatalf("unexpected question_ready %+v", got)
	}
	if src.topics[0] != "Geography" {
		t.Fatalf("expected topic passed to generator, got %q", src.topics[0])
	}
	key := h.deadlineKey(id)
	if after, _ := h.sched.After(key); after != 30*time.Second {
		t.Fatalf("expected 30s answer window, got %v", after)
	}

	h.answer(id, "alice", "A")
	h.answer(id, "bob", "Lyon")

	results := h.pub.ofType(domain.EventRoundResults)
	if len(results) != 1 {
		t.Fatalf("expected one round_results, got %d", len(results))
	}
	res := results[0].Payload.(domain.RoundResults)
	if res.CorrectAnswer != "Paris" || res.NextPlayer != "bob" {
		t.Fatalf("unexpected results %+v", res)
	}
	if res.Scores["alice"] != 1 || res.Scores["bob"] != 0 {
		t.Fatalf("unexpected scores %+v", res.Scores)
	}
	if len(res.CorrectPlayers) != 1 || res.CorrectPlayers[0] != "alice" {
		t.Fatalf("unexpected correct players %v", res.CorrectPlayers)
	}
	if *res.PerPlayerAnswers["alice"] != "Paris" || *res.PerPlayerAnswers["bob"] != "Lyon" {
		t.Fatalf("expected letter resolved against options, got %+v", res.PerPlayerAnswers)
	}
	if fb := h.pub.ofType(domain.EventRequestFeedback); len(fb) != 1 {
		t.Fatalf("expected feedback request after results")
	}
	if h.sched.Fire(key) {
		t.Fatalf("deadline should be cancelled by quorum")
	}

	view := h.state(id)
	if view.Phase != string(PhaseIdle) || view.CurrentPlayer != "bob" {
		t.Fatalf("expected idle with bob's turn, got %+v", view)
	}
	stored, _ := h.mem.LoadGame(context.Background(), id)
	if stored.CurrentQuestion != nil || stored.Players[0].Score != 1 {
		t.Fatalf("expected resolution persisted, got %+v", stored)
	}
}

func TestQuorumAndDeadlineResolveOnce(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	id := h.startedGame("alice", "bob")
	h.openRound(id, "alice", "Geography")
	key := h.deadlineKey(id)

	h.answer(id, "alice", "Paris")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = h.m.SubmitAnswer(context.Background(), id, "bob", "Paris")
	}()
	go func() {
		defer wg.Done()
		h.sched.Fire(key)
	}()
	wg.Wait()

	if n := len(h.pub.ofType(domain.EventRoundResults)); n != 1 {
		t.Fatalf("expected exactly one round_results, got %d", n)
	}
	// a deadline delivered late for the resolved round is ignored
	if err := h.m.Dispatch(context.Background(), id, DeadlineExpired{Round: key.Round}); err != nil {
		t.Fatalf("stale deadline should be a no-op, got %v", err)
	}
	if n := len(h.pub.ofType(domain.EventRoundResults)); n != 1 {
		t.Fatalf("stale deadline resolved again")
	}
}

func TestDeadlineResolvesWithNullAnswers(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	id := h.startedGame("alice", "bob")
	h.openRound(id, "alice", "Geography")

	h.answer(id, "alice", "paris")
	h.clock.Advance(30 * time.Second)
	if !h.sched.Fire(h.deadlineKey(id)) {
		t.Fatalf("expected deadline to fire")
	}

	res := h.pub.ofType(domain.EventRoundResults)[0].Payload.(domain.RoundResults)
	if res.PerPlayerAnswers["bob"] != nil {
		t.Fatalf("expected bob's missing answer to be null")
	}
	if res.Scores["alice"] != 1 || res.Scores["bob"] != 0 {
		t.Fatalf("unexpected scores %+v", res.Scores)
	}
	answers, _ := h.mem.Answers(context.Background(), id, h.lastQuestionID(id))
	if len(answers) != 2 {
		t.Fatalf("expected null answer stored for bob, got %d answers", len(answers))
	}
}

func TestLateAnswerCountsAsNull(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	id := h.startedGame("alice", "bob")
	h.openRound(id, "alice", "Geography")

	h.answer(id, "bob", "Paris")
	h.clock.Advance(31 * time.Second)
	h.answer(id, "alice", "Paris")

	res := h.pub.ofType(domain.EventRoundResults)[0].Payload.(domain.RoundResults)
	if res.PerPlayerAnswers["alice"] != nil {
		t.Fatalf("late answer should be null, got %q", *res.PerPlayerAnswers["alice"])
	}
	if res.Scores["alice"] != 0 || res.Scores["bob"] != 1 {
		t.Fatalf("unexpected scores %+v", res.Scores)
	}
}

func TestResubmittingOverwritesAnswer(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	id := h.startedGame("alice", "bob", "carol")
	h.openRound(id, "alice", "Geography")

	h.answer(id, "alice", "Lyon")
	h.answer(id, "alice", "A")
	h.answer(id, "bob", "B")
	h.answer(id, "carol", "C")

	res := h.pub.ofType(domain.EventRoundResults)[0].Payload.(domain.RoundResults)
	if res.Scores["alice"] != 1 {
		t.Fatalf("expected the later answer to count, scores %+v", res.Scores)
	}
	answers, _ := h.mem.Answers(context.Background(), id, h.lastQuestionID(id))
	if len(answers) != 3 {
		t.Fatalf("expected one stored answer per player, got %d", len(answers))
	}
	if n := len(h.pub.ofType(domain.EventPlayerAnswered)); n != 4 {
		t.Fatalf("expected a player_answered per submission, got %d", n)
	}
}

func TestDisconnectedPlayerSkippedForQuorumAndTurn(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	id := h.startedGame("alice", "bob", "carol")
	h.openRound(id, "alice", "Geography")
	key := h.deadlineKey(id)

	if err := h.m.Disconnect(context.Background(), id, "bob"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	h.answer(id, "alice", "Paris")
	h.answer(id, "carol", "Nice")

	results := h.pub.ofType(domain.EventRoundResults)
	if len(results) != 1 {
		t.Fatalf("expected resolution without waiting for bob, got %d results", len(results))
	}
	res := results[0].Payload.(domain.RoundResults)
	if _, ok := res.PerPlayerAnswers["bob"]; ok {
		t.Fatalf("disconnected player should not be part of the round")
	}
	if res.NextPlayer != "carol" {
		t.Fatalf("expected bob skipped, next %q", res.NextPlayer)
	}
	if h.sched.Fire(key) {
		t.Fatalf("deadline should have been cancelled")
	}
}

func TestLastAnswerPendingPlayerDisconnectResolves(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	id := h.startedGame("alice", "bob", "carol")
	h.openRound(id, "alice", "Geography")

	h.answer(id, "alice", "Paris")
	h.answer(id, "bob", "Paris")
	if err := h.m.Disconnect(context.Background(), id, "carol"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if n := len(h.pub.ofType(domain.EventRoundResults)); n != 1 {
		t.Fatalf("expected quorum reached on disconnect, got %d results", n)
	}
}

func TestDuplicateExhaustionLeavesRoundIdle(t *testing.T) {
	gen := &repeatGenerator{payload: parisPayload()}
	gw := generator.NewGateway(gen, generator.Options{Attempts: 10, Timeout: time.Second, DuplicateContainment: true})
	h := newHarness(t, DefaultRules, gw, nil)
	id := h.startedGame("alice", "bob")

	h.openRound(id, "alice", "Geography")
	h.answer(id, "alice", "Paris")
	h.answer(id, "bob", "Paris")
	h.pub.reset()

	if err := h.m.StartRound(context.Background(), id, "bob", "Geography"); err != nil {
		t.Fatalf("start round: %v", err)
	}
	h.m.Wait()

	if gen.calls != 11 {
		t.Fatalf("expected the attempt budget to be spent, generator called %d times", gen.calls)
	}
	errs := h.pub.ofType(domain.EventError)
	if len(errs) != 1 {
		t.Fatalf("expected one error broadcast, got %v", h.pub.types())
	}
	if errs[0].Target != "" {
		t.Fatalf("generation failures go to the whole room")
	}
	if msg := errs[0].Payload.(domain.ErrorMessage).Message; msg != domain.ErrGenerationExhausted.Error() {
		t.Fatalf("unexpected message %q", msg)
	}
	if len(h.pub.ofType(domain.EventQuestionReady)) != 0 {
		t.Fatalf("no question should open")
	}
	view := h.state(id)
	if view.Phase != string(PhaseIdle) || view.CurrentPlayer != "bob" {
		t.Fatalf("expected idle with bob still holding the turn, got %+v", view)
	}
	if len(h.sched.Keys(id)) != 0 {
		t.Fatalf("no deadline should be pending")
	}
}

type repeatGenerator struct {
	mu      sync.Mutex
	payload domain.QuestionPayload
	calls   int
}

func (g *repeatGenerator) Generate(context.Context, generator.Request) (domain.QuestionPayload, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.payload, nil
}

func TestWinningScoreEndsGame(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	rules := DefaultRules
	rules.WinningScore = 1
	h := newHarness(t, rules, src, nil)
	id := h.startedGame("alice", "bob")
	h.openRound(id, "alice", "Geography")

	h.answer(id, "alice", "Paris")
	h.answer(id, "bob", "Lyon")

	if n := len(h.pub.ofType(domain.EventRoundResults)); n != 0 {
		t.Fatalf("game_ended replaces round_results, got %d results", n)
	}
	ended := h.pub.ofType(domain.EventGameEnded)
	if len(ended) != 1 {
		t.Fatalf("expected game_ended")
	}
	payload := ended[0].Payload.(domain.GameEnded)
	if len(payload.Winners) != 1 || payload.Winners[0] != "alice" {
		t.Fatalf("unexpected winners %v", payload.Winners)
	}
	if err := h.m.StartRound(context.Background(), id, "bob", "Space"); !errors.Is(err, domain.ErrGameNotInProgress) {
		t.Fatalf("expected no further rounds, got %v", err)
	}
	if view := h.state(id); view.Status != domain.StatusEnded {
		t.Fatalf("expected ended status, got %s", view.Status)
	}
}

func TestStartRoundRejections(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload(), berlinPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	ctx := context.Background()

	lobby, err := h.m.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.m.StartRound(ctx, lobby.ID, "alice", "Space"); !errors.Is(err, domain.ErrGameNotInProgress) {
		t.Fatalf("expected not in progress, got %v", err)
	}

	id := h.startedGame("carol", "dave")
	if err := h.m.StartRound(ctx, id, "dave", "Space"); !errors.Is(err, domain.ErrNotYourTurn) {
		t.Fatalf("expected not your turn, got %v", err)
	}
	if err := h.m.StartRound(ctx, id, "mallory", "Space"); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Fatalf("expected player not found, got %v", err)
	}
	h.openRound(id, "carol", "Space")
	if err := h.m.StartRound(ctx, id, "carol", "Space"); !errors.Is(err, domain.ErrRoundInProgress) {
		t.Fatalf("expected round in progress, got %v", err)
	}
	if n := len(h.pub.ofType(domain.EventQuestionReady)); n != 1 {
		t.Fatalf("at most one open question, got %d", n)
	}
	if err := h.m.SubmitAnswer(ctx, lobby.ID, "alice", "A"); !errors.Is(err, domain.ErrNoOpenRound) {
		t.Fatalf("expected no open round, got %v", err)
	}
}

func TestRandomTopicWhenNoneGiven(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	id := h.startedGame("alice", "bob")

	h.openRound(id, "alice", "  ")
	picked := h.pub.ofType(domain.EventRandomTopicSelected)
	if len(picked) != 1 {
		t.Fatalf("expected random_topic_selected")
	}
	name := picked[0].Payload.(domain.RandomTopicSelected).Topic
	if name == "" || src.topics[0] != name {
		t.Fatalf("expected generator asked for %q, got %v", name, src.topics)
	}
	if topics := h.mem.Topics(); len(topics) != 1 || topics[0] != topic.Normalize(name) {
		t.Fatalf("expected topic recorded, got %v", topics)
	}
}

func TestTurnHolderDisconnectWhileIdle(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	ctx := context.Background()
	id := h.startedGame("alice", "bob")

	if err := h.m.Disconnect(ctx, id, "alice"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	skipped := h.pub.ofType(domain.EventTurnSkipped)
	if len(skipped) != 1 || skipped[0].Payload.(domain.TurnSkipped).NextPlayer != "bob" {
		t.Fatalf("expected turn to pass to bob, got %v", h.pub.types())
	}

	if err := h.m.Disconnect(ctx, id, "bob"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if len(h.pub.ofType(domain.EventGamePaused)) != 1 {
		t.Fatalf("expected game_paused when nobody is left")
	}
	if view := h.state(id); !view.Paused || view.Status != domain.StatusWaiting {
		t.Fatalf("expected paused game, got %+v", view)
	}

	if err := h.m.Connect(ctx, id, "bob"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	resumed := h.pub.ofType(domain.EventGameResumed)
	if len(resumed) != 1 || resumed[0].Payload.(domain.GameResumed).CurrentPlayer != "bob" {
		t.Fatalf("expected bob to resume, got %v", h.pub.types())
	}
	h.openRound(id, "bob", "Space")
}

func TestEveryoneLeavesDuringGeneration(t *testing.T) {
	src := &blockingSource{release: make(chan struct{}), payload: parisPayload()}
	h := newHarness(t, DefaultRules, src, nil)
	ctx := context.Background()
	id := h.startedGame("alice", "bob")

	if err := h.m.StartRound(ctx, id, "alice", "Space"); err != nil {
		t.Fatalf("start round: %v", err)
	}
	_ = h.m.Disconnect(ctx, id, "alice")
	_ = h.m.Disconnect(ctx, id, "bob")
	close(src.release)
	h.m.Wait()

	if len(h.pub.ofType(domain.EventQuestionReady)) != 0 {
		t.Fatalf("question of an abandoned round must not open")
	}
	view := h.state(id)
	if !view.Paused || view.Phase != string(PhaseIdle) {
		t.Fatalf("expected paused idle room, got %+v", view)
	}
}

type blockingSource struct {
	release chan struct{}
	payload domain.QuestionPayload
}

func (b *blockingSource) Question(ctx context.Context, _ string, _ []domain.Question) (domain.QuestionPayload, error) {
	select {
	case <-b.release:
		return b.payload, nil
	case <-ctx.Done():
		return domain.QuestionPayload{}, ctx.Err()
	}
}

func TestDeadlineWithEveryoneGonePausesGame(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	ctx := context.Background()
	id := h.startedGame("alice", "bob")
	h.openRound(id, "alice", "Geography")
	key := h.deadlineKey(id)

	_ = h.m.Disconnect(ctx, id, "alice")
	_ = h.m.Disconnect(ctx, id, "bob")
	if len(h.pub.ofType(domain.EventRoundResults)) != 0 {
		t.Fatalf("round must wait for the deadline")
	}
	if !h.sched.Fire(key) {
		t.Fatalf("expected deadline pending")
	}
	if len(h.pub.ofType(domain.EventRoundResults)) != 1 || len(h.pub.ofType(domain.EventGamePaused)) != 1 {
		t.Fatalf("expected results then pause, got %v", h.pub.types())
	}
}

func TestMissingGameIsNoOpForInternalCommands(t *testing.T) {
	h := newHarness(t, DefaultRules, &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}, nil)
	ctx := context.Background()

	if err := h.m.Dispatch(ctx, "NOPE", DeadlineExpired{Round: 1}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := h.m.Dispatch(ctx, "NOPE", QuestionReady{Round: 1}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := h.m.SubmitAnswer(ctx, "NOPE", "alice", "A"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected game not found, got %v", err)
	}
}

func TestTeardownMidRoundDropsTimer(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	id := h.startedGame("alice", "bob")
	h.openRound(id, "alice", "Geography")
	key := h.deadlineKey(id)

	if err := h.m.Teardown(context.Background(), id); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if h.sched.Fire(key) {
		t.Fatalf("timer should be cancelled on teardown")
	}
	if err := h.m.Dispatch(context.Background(), id, DeadlineExpired{Round: key.Round}); err != nil {
		t.Fatalf("late deadline after teardown should be a no-op, got %v", err)
	}
	if _, err := h.m.State(context.Background(), id); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected game gone, got %v", err)
	}
}

func TestSweepRemovesIdleGames(t *testing.T) {
	h := newHarness(t, DefaultRules, &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}, nil)
	idle := h.startedGame("alice", "bob")
	h.clock.Advance(59 * time.Minute)
	busy := h.startedGame("carol", "dave")

	if n := h.m.Sweep(context.Background(), h.clock.Now().Add(2*time.Minute)); n != 1 {
		t.Fatalf("expected one game swept, got %d", n)
	}
	if _, err := h.m.State(context.Background(), idle); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected idle game gone, got %v", err)
	}
	if _, err := h.m.State(context.Background(), busy); err != nil {
		t.Fatalf("busy game should stay: %v", err)
	}
}

func TestRestoreFromStore(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload(), berlinPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	ctx := context.Background()
	id := h.startedGame("alice", "bob")
	h.openRound(id, "alice", "Geography")
	h.answer(id, "alice", "Paris")
	h.answer(id, "bob", "Paris")
	h.openRound(id, "bob", "Geography")

	pub := &recorder{}
	machine := NewMachine(DefaultRules, nil, nil)
	restarted := NewManager(machine, h.mem, src, schedule.NewManual(), pub, Options{Clock: h.clock.Now})
	defer restarted.Close()

	view, err := restarted.State(ctx, id)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !view.Paused || view.Phase != string(PhaseIdle) || view.Question != "" {
		t.Fatalf("expected paused idle room with open question abandoned, got %+v", view)
	}
	if view.Players[0].Score != 1 || view.Players[1].Score != 1 {
		t.Fatalf("expected scores restored, got %+v", view.Players)
	}

	if err := restarted.Connect(ctx, id, "bob"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	resumed := pub.ofType(domain.EventGameResumed)
	if len(resumed) != 1 || resumed[0].Payload.(domain.GameResumed).CurrentPlayer != "bob" {
		t.Fatalf("expected bob to resume the turn, got %+v", resumed)
	}
}

type failingClearStore struct {
	Store
}

func (failingClearStore) ClearCurrentQuestion(context.Context, string, string) (bool, error) {
	return false, errors.New("connection reset")
}

func TestPersistenceFailureAbortsRoundCleanly(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload(), berlinPayload()}}
	h := newHarness(t, DefaultRules, src, func(s Store) Store { return failingClearStore{Store: s} })
	id := h.startedGame("alice", "bob")
	h.openRound(id, "alice", "Geography")

	h.answer(id, "alice", "Paris")
	if err := h.m.SubmitAnswer(context.Background(), id, "bob", "Paris"); err != nil {
		t.Fatalf("resolution failure is reported to the room, got %v", err)
	}

	if n := len(h.pub.ofType(domain.EventRoundResults)); n != 0 {
		t.Fatalf("no results when resolution could not be saved, got %d", n)
	}
	errs := h.pub.ofType(domain.EventError)
	if len(errs) != 1 || errs[0].Payload.(domain.ErrorMessage).Message != domain.ErrPersistence.Error() {
		t.Fatalf("expected persistence error broadcast, got %v", h.pub.types())
	}
	view := h.state(id)
	if view.Phase != string(PhaseIdle) || view.CurrentPlayer != "alice" {
		t.Fatalf("expected round dropped with turn kept, got %+v", view)
	}
	for _, p := range view.Players {
		if p.Score != 0 {
			t.Fatalf("no points for an unresolved question, got %+v", view.Players)
		}
	}
	if len(h.sched.Keys(id)) != 0 {
		t.Fatalf("deadline of the aborted round should be cancelled")
	}
}

var errStoreDown = errors.New("store unavailable")

// flakyStore fails the selected writes while their switch is on.
type flakyStore struct {
	Store
	games     atomic.Bool
	questions atomic.Bool
	topics    atomic.Bool
	answers   atomic.Bool
	clears    atomic.Bool
}

func (f *flakyStore) SaveGame(ctx context.Context, g domain.Game) error {
	if f.games.Load() {
		return errStoreDown
	}
	return f.Store.SaveGame(ctx, g)
}

func (f *flakyStore) SaveQuestion(ctx context.Context, q domain.Question) error {
	if f.questions.Load() {
		return errStoreDown
	}
	return f.Store.SaveQuestion(ctx, q)
}

func (f *flakyStore) EnsureTopic(ctx context.Context, name string) error {
	if f.topics.Load() {
		return errStoreDown
	}
	return f.Store.EnsureTopic(ctx, name)
}

func (f *flakyStore) SaveAnswer(ctx context.Context, a domain.Answer) error {
	if f.answers.Load() {
		return errStoreDown
	}
	return f.Store.SaveAnswer(ctx, a)
}

func (f *flakyStore) ClearCurrentQuestion(ctx context.Context, gameID, questionID string) (bool, error) {
	if f.clears.Load() {
		return false, errStoreDown
	}
	return f.Store.ClearCurrentQuestion(ctx, gameID, questionID)
}

func newFlakyHarness(t *testing.T, src QuestionSource) (*harness, *flakyStore) {
	fs := &flakyStore{}
	h := newHarness(t, DefaultRules, src, func(s Store) Store {
		fs.Store = s
		return fs
	})
	return h, fs
}

func TestUnsavedQuestionReturnsRoundToTurnHolder(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload(), berlinPayload()}}
	h, fs := newFlakyHarness(t, src)
	ctx := context.Background()
	id := h.startedGame("alice", "bob")

	fs.questions.Store(true)
	if err := h.m.StartRound(ctx, id, "alice", "Geography"); err != nil {
		t.Fatalf("start round: %v", err)
	}
	h.m.Wait()

	if n := len(h.pub.ofType(domain.EventQuestionReady)); n != 0 {
		t.Fatalf("an unsaved question must not open, got %d", n)
	}
	errs := h.pub.ofType(domain.EventError)
	if len(errs) != 1 || errs[0].Payload.(domain.ErrorMessage).Message != domain.ErrPersistence.Error() {
		t.Fatalf("expected persistence error broadcast, got %v", h.pub.types())
	}
	view := h.state(id)
	if view.Phase != string(PhaseIdle) || view.CurrentPlayer != "alice" {
		t.Fatalf("expected idle room with alice to pick again, got %+v", view)
	}
	if len(h.sched.Keys(id)) != 0 {
		t.Fatalf("no deadline for a question that never opened")
	}

	fs.questions.Store(false)
	h.openRound(id, "alice", "Geography")
}

func TestDisconnectKeptWhileStoreIsDown(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h, fs := newFlakyHarness(t, src)
	ctx := context.Background()
	id := h.startedGame("alice", "bob")

	fs.games.Store(true)
	if err := h.m.Disconnect(ctx, id, "alice"); err != nil {
		t.Fatalf("disconnect follows the socket, got %v", err)
	}
	skipped := h.pub.ofType(domain.EventTurnSkipped)
	if len(skipped) != 1 || skipped[0].Payload.(domain.TurnSkipped).NextPlayer != "bob" {
		t.Fatalf("expected turn to pass to bob, got %v", h.pub.types())
	}
	if view := h.state(id); view.Players[0].Connected || view.CurrentPlayer != "bob" {
		t.Fatalf("expected alice disconnected and bob to pick, got %+v", view)
	}
	stored, _ := h.mem.LoadGame(ctx, id)
	if !stored.Players[0].Connected {
		t.Fatalf("store was down, nothing should have been written")
	}

	fs.games.Store(false)
	if err := h.m.SubmitRating(ctx, id, "bob", "Space", 4); err != nil {
		t.Fatalf("rate: %v", err)
	}
	stored, _ = h.mem.LoadGame(ctx, id)
	if stored.Players[0].Connected || stored.TurnHolder() != "bob" {
		t.Fatalf("expected the pending presence change written, got %+v", stored.Players)
	}

	if err := h.m.Join(ctx, id, "alice"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if err := h.m.Connect(ctx, id, "alice"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if view := h.state(id); !view.Players[0].Connected {
		t.Fatalf("expected alice back, got %+v", view.Players)
	}
}

func TestDisconnectDuringUnsavedResolutionStillApplies(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h, fs := newFlakyHarness(t, src)
	ctx := context.Background()
	id := h.startedGame("alice", "bob")
	h.openRound(id, "alice", "Geography")
	h.answer(id, "alice", "Paris")

	fs.clears.Store(true)
	if err := h.m.Disconnect(ctx, id, "bob"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	if n := len(h.pub.ofType(domain.EventRoundResults)); n != 0 {
		t.Fatalf("no results when resolution could not be saved, got %d", n)
	}
	if n := len(h.pub.ofType(domain.EventPlayerDisconnected)); n != 1 {
		t.Fatalf("expected bob's disconnect broadcast once, got %v", h.pub.types())
	}
	view := h.state(id)
	if view.Phase != string(PhaseIdle) || view.CurrentPlayer != "alice" || view.Players[1].Connected {
		t.Fatalf("expected idle round with bob gone, got %+v", view)
	}
	if view.Players[0].Score != 0 {
		t.Fatalf("no points for an unresolved question, got %+v", view.Players)
	}
}

func TestAbortedRoundPassesTurnOfDisconnectedHolder(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h, fs := newFlakyHarness(t, src)
	ctx := context.Background()
	id := h.startedGame("alice", "bob", "carol")
	h.openRound(id, "alice", "Geography")

	if err := h.m.Disconnect(ctx, id, "alice"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	h.answer(id, "bob", "Paris")
	fs.clears.Store(true)
	h.answer(id, "carol", "Paris")

	skipped := h.pub.ofType(domain.EventTurnSkipped)
	if len(skipped) != 1 || skipped[0].Payload.(domain.TurnSkipped).NextPlayer != "bob" {
		t.Fatalf("expected turn to move past alice, got %v", h.pub.types())
	}
	if view := h.state(id); view.Phase != string(PhaseIdle) || view.CurrentPlayer != "bob" {
		t.Fatalf("expected bob to pick next, got %+v", view)
	}
}

func TestUnsavedTopicLeavesRoundUnstarted(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h, fs := newFlakyHarness(t, src)
	ctx := context.Background()
	id := h.startedGame("alice", "bob")

	fs.topics.Store(true)
	if err := h.m.StartRound(ctx, id, "alice", "Geography"); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	h.m.Wait()
	src.mu.Lock()
	requested := len(src.topics)
	src.mu.Unlock()
	if requested != 0 {
		t.Fatalf("no generation for an unstarted round, got %d requests", requested)
	}
	if view := h.state(id); view.Phase != string(PhaseIdle) || view.CurrentPlayer != "alice" {
		t.Fatalf("expected alice still to pick, got %+v", view)
	}

	fs.topics.Store(false)
	h.openRound(id, "alice", "Geography")
}

func TestUnsavedAnswerCanBeResubmitted(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h, fs := newFlakyHarness(t, src)
	ctx := context.Background()
	id := h.startedGame("alice", "bob")
	h.openRound(id, "alice", "Geography")

	fs.answers.Store(true)
	if err := h.m.SubmitAnswer(ctx, id, "alice", "Paris"); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if n := len(h.pub.ofType(domain.EventPlayerAnswered)); n != 0 {
		t.Fatalf("unsaved answer must not be announced, got %d", n)
	}

	fs.answers.Store(false)
	h.answer(id, "alice", "Paris")
	h.answer(id, "bob", "Lyon")
	results := h.pub.ofType(domain.EventRoundResults)
	if len(results) != 1 || results[0].Payload.(domain.RoundResults).Scores["alice"] != 1 {
		t.Fatalf("expected alice scored after resubmitting, got %v", h.pub.types())
	}
}

func TestJoinRules(t *testing.T) {
	rules := DefaultRules
	rules.MaxPlayers = 2
	h := newHarness(t, rules, &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}, nil)
	ctx := context.Background()

	view, err := h.m.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(view.ID) != CodeLength || view.Host != "alice" {
		t.Fatalf("unexpected game %+v", view)
	}
	if err := h.m.Join(ctx, view.ID, " "); !errors.Is(err, domain.ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
	if err := h.m.Connect(ctx, view.ID, "alice"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := h.m.Join(ctx, view.ID, "alice"); !errors.Is(err, domain.ErrNameTaken) {
		t.Fatalf("expected name taken, got %v", err)
	}
	if err := h.m.Join(ctx, view.ID, "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := h.m.Join(ctx, view.ID, "carol"); !errors.Is(err, domain.ErrGameFull) {
		t.Fatalf("expected game full, got %v", err)
	}
	if err := h.m.Join(ctx, view.ID, "bob"); err != nil {
		t.Fatalf("disconnected seat can be claimed back: %v", err)
	}

	if err := h.m.StartGame(ctx, view.ID, "bob"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected host only, got %v", err)
	}
	if err := h.m.StartGame(ctx, view.ID, "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.m.StartGame(ctx, view.ID, "alice"); !errors.Is(err, domain.ErrGameAlreadyStarted) {
		t.Fatalf("expected already started, got %v", err)
	}

	state := h.state(view.ID)
	if state.Players[0].Icon == state.Players[1].Icon {
		t.Fatalf("expected distinct icons, got %+v", state.Players)
	}
	if _, err := h.m.State(ctx, "abcd-unknown"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected unknown game, got %v", err)
	}
}

func TestRatingsAndReset(t *testing.T) {
	src := &fakeSource{payloads: []domain.QuestionPayload{parisPayload()}}
	h := newHarness(t, DefaultRules, src, nil)
	ctx := context.Background()
	id := h.startedGame("alice", "bob")
	h.openRound(id, "alice", "Geography")
	h.answer(id, "alice", "Paris")
	h.answer(id, "bob", "Paris")

	if err := h.m.SubmitRating(ctx, id, "bob", "Geography", 6); !errors.Is(err, domain.ErrInvalidRating) {
		t.Fatalf("expected invalid rating, got %v", err)
	}
	if err := h.m.SubmitRating(ctx, id, "bob", "Geography", 1); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if err := h.m.SubmitRating(ctx, id, "bob", " geography", 5); err != nil {
		t.Fatalf("rate again: %v", err)
	}
	ratings, _ := h.mem.Ratings(ctx, id)
	if len(ratings) != 1 || ratings[0].Value != 5 {
		t.Fatalf("expected rating overwritten, got %+v", ratings)
	}

	if err := h.m.Reset(ctx, id, "bob"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected host only, got %v", err)
	}
	if err := h.m.Reset(ctx, id, "alice"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	view := h.state(id)
	if view.Status != domain.StatusWaiting || view.Players[0].Score != 0 || view.Players[1].Score != 0 {
		t.Fatalf("expected lobby with zero scores, got %+v", view)
	}
	questions, _ := h.mem.Questions(ctx, id)
	ratings, _ = h.mem.Ratings(ctx, id)
	if len(questions) != 0 || len(ratings) != 0 {
		t.Fatalf("expected rounds pruned")
	}
	if len(h.pub.ofType(domain.EventGameReset)) != 1 {
		t.Fatalf("expected game_reset broadcast")
	}
}
