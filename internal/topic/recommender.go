package topic

import (
	"math/rand"
	"sync"
	"time"

	"trivia-room-service/internal/domain"
)

// Curated is the default pool of topics offered when a player does not pick one.
var Curated = []string{
	"Geography",
	"World History",
	"Movies",
	"Music",
	"Science",
	"Space",
	"Animals",
	"Food and Drink",
	"Sports",
	"Video Games",
	"Technology",
	"Literature",
	"Art",
	"Mythology",
	"Television",
	"Inventions",
	"Human Body",
	"Languages",
	"Famous Landmarks",
	"Pop Culture",
	"Oceans",
	"Dinosaurs",
	"Olympics",
	"Cars",
	"Board Games",
	"Comics",
	"Weather",
	"Chemistry",
	"Architecture",
	"Fashion",
}

// Recommender picks a topic for a player who declined to choose one. It
// avoids the room's recent suggestions, skips topics the player disliked and
// sometimes prefers one they liked.
type Recommender struct {
	curated          []string
	likedProbability float64
	window           int

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRecommender(curated []string, likedProbability float64, window int) *Recommender {
	return NewRecommenderWithRand(curated, likedProbability, window, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewRecommenderWithRand is used by tests for deterministic draws.
func NewRecommenderWithRand(curated []string, likedProbability float64, window int, rnd *rand.Rand) *Recommender {
	if len(curated) == 0 {
		curated = Curated
	}
	if window < 0 {
		window = 0
	}
	return &Recommender{
		curated:          curated,
		likedProbability: likedProbability,
		window:           window,
		rnd:              rnd,
	}
}

// Suggest returns a topic given the room's recent suggestions and the
// requesting player's ratings.
func (r *Recommender) Suggest(recent []string, ratings []domain.Rating) string {
	recentSet := make(map[string]struct{}, len(recent))
	for _, t := range recent {
		recentSet[Normalize(t)] = struct{}{}
	}
	disliked := make(map[string]struct{})
	var liked []string
	for _, rating := range ratings {
		name := Normalize(rating.Topic)
		switch {
		case rating.Disliked():
			disliked[name] = struct{}{}
		case rating.Liked():
			if _, seen := recentSet[name]; !seen {
				liked = append(liked, name)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(liked) > 0 && r.rnd.Float64() < r.likedProbability {
		return r.display(liked[r.rnd.Intn(len(liked))])
	}

	candidates := make([]string, 0, len(r.curated))
	for _, t := range r.curated {
		name := Normalize(t)
		if _, ok := disliked[name]; ok {
			continue
		}
		if _, ok := recentSet[name]; ok {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		candidates = r.curated
	}
	return candidates[r.rnd.Intn(len(candidates))]
}

// Remember appends topic to the rolling window and returns the trimmed window.
func (r *Recommender) Remember(recent []string, topic string) []string {
	if r.window == 0 {
		return nil
	}
	out := append(append([]string(nil), recent...), Normalize(topic))
	if len(out) > r.window {
		out = out[len(out)-r.window:]
	}
	return out
}

// display maps a normalized name back to its curated spelling when known.
func (r *Recommender) display(name string) string {
	for _, t := range r.curated {
		if Normalize(t) == name {
			return t
		}
	}
	return name
}
