// Package generator turns a topic into a validated, non-repeating question
// by driving an external content generator.
package generator

import (
	"context"
	"fmt"
	"log"
	"time"

	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/topic"
)

// Request is what a Generator receives for one attempt.
type Request struct {
	Topic string
	// Prior holds the game's most recent questions, oldest first.
	Prior []domain.QuestionPayload
}

// Generator is the external content generator, treated as a black box.
type Generator interface {
	Generate(ctx context.Context, req Request) (domain.QuestionPayload, error)
}

// Options configures the gateway policy.
type Options struct {
	Attempts             int
	Timeout              time.Duration
	Fallback             bool
	DuplicateContainment bool
	RecentLimit          int
}

// DefaultOptions mirrors the default configuration.
var DefaultOptions = Options{
	Attempts:             5,
	Timeout:              10 * time.Second,
	DuplicateContainment: true,
	RecentLimit:          20,
}

// Gateway wraps a Generator with retry, validation and duplicate avoidance.
type Gateway struct {
	gen  Generator
	opts Options
}

func NewGateway(gen Generator, opts Options) *Gateway {
	if opts.Attempts < 1 {
		opts.Attempts = DefaultOptions.Attempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions.Timeout
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = DefaultOptions.RecentLimit
	}
	return &Gateway{gen: gen, opts: opts}
}

// Question produces a question for rawTopic that does not repeat any of
// prior. When every attempt fails it returns ErrGenerationExhausted, or a
// labelled placeholder if the gateway runs in fallback mode.
func (g *Gateway) Question(ctx context.Context, rawTopic string, prior []domain.Question) (domain.QuestionPayload, error) {
	req := Request{Topic: topic.Normalize(rawTopic)}
	recent := prior
	if len(recent) > g.opts.RecentLimit {
		recent = recent[len(recent)-g.opts.RecentLimit:]
	}
	for _, q := range recent {
		req.Prior = append(req.Prior, q.Payload)
	}

	var lastErr error
	for attempt := 1; attempt <= g.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		payload, err := g.attempt(ctx, req)
		if err == nil {
			payload, err = Validate(payload)
		}
		if err == nil {
			err = CheckDuplicate(payload, prior, g.opts.DuplicateContainment)
		}
		if err == nil {
			return payload, nil
		}
		lastErr = err
		log.Printf("gateway: attempt %d/%d for topic %q failed: %v", attempt, g.opts.Attempts, req.Topic, err)
	}

	if g.opts.Fallback {
		return Placeholder(rawTopic), nil
	}
	return domain.QuestionPayload{}, fmt.Errorf("%w: %v", domain.ErrGenerationExhausted, lastErr)
}

func (g *Gateway) attempt(ctx context.Context, req Request) (domain.QuestionPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	return g.gen.Generate(ctx, req)
}

// Placeholder is the fallback question. Its answer is not among the options,
// so nobody can score on it.
func Placeholder(rawTopic string) domain.QuestionPayload {
	return domain.QuestionPayload{
		Question:    fmt.Sprintf("What is a notable fact about %s?", rawTopic),
		Answer:      "Unable to generate answer",
		Options:     []string{"Option A", "Option B", "Option C", "Option D"},
		Explanation: "The question service could not produce a question for this topic.",
		Fallback:    true,
	}
}
