package generator

import (
	"fmt"
	"strings"

	"trivia-room-service/internal/answer"
	"trivia-room-service/internal/domain"
)

// OptionCount is the number of options every question carries.
const OptionCount = 4

// Validate trims the payload and checks it is playable: every field set,
// four distinct options, the answer among them and absent from the question.
func Validate(p domain.QuestionPayload) (domain.QuestionPayload, error) {
	out := domain.QuestionPayload{
		Question:    strings.TrimSpace(p.Question),
		Answer:      strings.TrimSpace(p.Answer),
		Explanation: strings.TrimSpace(p.Explanation),
	}
	if out.Question == "" || out.Answer == "" || out.Explanation == "" {
		return out, fmt.Errorf("%w: missing field", domain.ErrInvalidQuestion)
	}
	if len(p.Options) != OptionCount {
		return out, fmt.Errorf("%w: expected %d options, got %d", domain.ErrInvalidQuestion, OptionCount, len(p.Options))
	}

	seen := make(map[string]struct{}, OptionCount)
	answerKey := answer.Normalize(out.Answer)
	hasAnswer := false
	for _, opt := range p.Options {
		opt = strings.TrimSpace(opt)
		key := answer.Normalize(opt)
		if key == "" {
			return out, fmt.Errorf("%w: empty option", domain.ErrInvalidQuestion)
		}
		if _, dup := seen[key]; dup {
			return out, fmt.Errorf("%w: repeated option %q", domain.ErrInvalidQuestion, opt)
		}
		seen[key] = struct{}{}
		if key == answerKey {
			hasAnswer = true
		}
		out.Options = append(out.Options, opt)
	}
	if !hasAnswer {
		return out, fmt.Errorf("%w: answer is not one of the options", domain.ErrInvalidQuestion)
	}
	if containsWords(answer.Normalize(out.Question), answerKey) {
		return out, fmt.Errorf("%w: question gives away the answer", domain.ErrInvalidQuestion)
	}
	return out, nil
}

// CheckDuplicate rejects a payload whose question or answer repeats one of
// prior. With containment enabled an answer that contains, or is contained
// in, an earlier answer as whole words also counts as a repeat.
func CheckDuplicate(p domain.QuestionPayload, prior []domain.Question, containment bool) error {
	q := answer.Normalize(p.Question)
	a := answer.Normalize(p.Answer)
	for _, prev := range prior {
		pq := answer.Normalize(prev.Payload.Question)
		pa := answer.Normalize(prev.Payload.Answer)
		switch {
		case q == pq:
			return fmt.Errorf("%w: question already asked", domain.ErrDuplicateQuestion)
		case a == pa:
			return fmt.Errorf("%w: answer %q already used", domain.ErrDuplicateQuestion, p.Answer)
		case containment && pa != "" && (containsWords(pa, a) || containsWords(a, pa)):
			return fmt.Errorf("%w: answer %q overlaps %q", domain.ErrDuplicateQuestion, p.Answer, prev.Payload.Answer)
		}
	}
	return nil
}

func containsWords(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}
