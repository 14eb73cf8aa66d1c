package memory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/topic"
)

// StaticBankLoader is a question bank held in memory, keyed by normalized
// topic (useful for tests/demos).
type StaticBankLoader struct {
	banks map[string][]domain.QuestionPayload
}

func NewStaticBankLoader(banks map[string][]domain.QuestionPayload) *StaticBankLoader {
	normalized := make(map[string][]domain.QuestionPayload, len(banks))
	for name, questions := range banks {
		key := topic.Normalize(name)
		normalized[key] = append(normalized[key], questions...)
	}
	return &StaticBankLoader{banks: normalized}
}

func (l *StaticBankLoader) LoadBank(_ context.Context, name string) ([]domain.QuestionPayload, error) {
	return l.banks[topic.Normalize(name)], nil
}

// Banks returns a copy of every topic's questions, keyed by normalized topic.
func (l *StaticBankLoader) Banks() map[string][]domain.QuestionPayload {
	out := make(map[string][]domain.QuestionPayload, len(l.banks))
	for name, questions := range l.banks {
		out[name] = append([]domain.QuestionPayload(nil), questions...)
	}
	return out
}

type bankFile struct {
	Topics map[string][]bankQuestion `yaml:"topics"`
}

type bankQuestion struct {
	Question    string   `yaml:"question"`
	Answer      string   `yaml:"answer"`
	Options     []string `yaml:"options"`
	Explanation string   `yaml:"explanation"`
}

// LoadBankFile reads a YAML question bank of the form
//
//	topics:
//	  geography:
//	    - question: ...
//	      answer: ...
//	      options: [...]
//	      explanation: ...
func LoadBankFile(path string) (*StaticBankLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bank file: %w", err)
	}
	return ParseBank(data)
}

func ParseBank(data []byte) (*StaticBankLoader, error) {
	var file bankFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse bank: %w", err)
	}
	banks := make(map[string][]domain.QuestionPayload, len(file.Topics))
	for name, questions := range file.Topics {
		for _, q := range questions {
			banks[name] = append(banks[name], domain.QuestionPayload{
				Question:    q.Question,
				Answer:      q.Answer,
				Options:     q.Options,
				Explanation: q.Explanation,
			})
		}
	}
	return NewStaticBankLoader(banks), nil
}
