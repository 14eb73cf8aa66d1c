package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trivia-room-service/internal/answer"
	"trivia-room-service/internal/domain"
)

// ErrTopicNotInBank is returned when the bank has no questions for a topic.
var ErrTopicNotInBank = errors.New("no bank questions for topic")

// BankLoader fetches the stored questions of a topic from a backing store.
type BankLoader interface {
	LoadBank(ctx context.Context, topic string) ([]domain.QuestionPayload, error)
}

// BankGenerator serves questions from a pre-authored bank, caching each
// topic with a TTL to avoid repeated store hits.
type BankGenerator struct {
	loader BankLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.Mutex
	rnd   *rand.Rand
	cache map[string]cachedBank
}

type cachedBank struct {
	questions []domain.QuestionPayload
	expiresAt time.Time
}

func NewBankGenerator(loader BankLoader, ttl time.Duration) *BankGenerator {
	return &BankGenerator{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBank),
	}
}

// Generate picks a random bank question the game has not seen yet. When
// every question was used it still returns one and lets the gateway reject
// the repeat.
func (b *BankGenerator) Generate(ctx context.Context, req Request) (domain.QuestionPayload, error) {
	questions, err := b.bank(ctx, req.Topic)
	if err != nil {
		return domain.QuestionPayload{}, err
	}
	if len(questions) == 0 {
		return domain.QuestionPayload{}, fmt.Errorf("%w: %q", ErrTopicNotInBank, req.Topic)
	}

	used := make(map[string]struct{}, len(req.Prior))
	for _, p := range req.Prior {
		used[answer.Normalize(p.Question)] = struct{}{}
	}
	fresh := make([]domain.QuestionPayload, 0, len(questions))
	for _, q := range questions {
		if _, ok := used[answer.Normalize(q.Question)]; !ok {
			fresh = append(fresh, q)
		}
	}
	if len(fresh) == 0 {
		fresh = questions
	}

	b.mu.Lock()
	pick := fresh[b.rnd.Intn(len(fresh))]
	b.mu.Unlock()
	pick.Options = append([]string(nil), pick.Options...)
	return pick, nil
}

func (b *BankGenerator) bank(ctx context.Context, topic string) ([]domain.QuestionPayload, error) {
	now := b.clock()

	b.mu.Lock()
	if entry, ok := b.cache[topic]; ok && entry.expiresAt.After(now) {
		b.mu.Unlock()
		return entry.questions, nil
	}
	b.mu.Unlock()

	result, err, _ := b.sf.Do(topic, func() (interface{}, error) {
		questions, err := b.loader.LoadBank(ctx, topic)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.cache[topic] = cachedBank{
			questions: questions,
			expiresAt: now.Add(b.ttlWithJitter()),
		}
		b.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.QuestionPayload), nil
}

// ttlWithJitter adds up to 10% so topics loaded together expire apart.
// Callers hold b.mu.
func (b *BankGenerator) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitterMax := int64(b.ttl) / 10
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
