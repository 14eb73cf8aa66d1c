package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"trivia-room-service/internal/domain"
)

// BuildPrompt renders the instruction sent to a language model.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a trivia question about %s.\n", req.Topic)
	b.WriteString("The question must be engaging, specific, factually correct and have a single, clear, unambiguous answer.\n")
	b.WriteString("Return your response strictly in the following JSON format, with no additional text outside the JSON:\n")
	b.WriteString(`{"question": "The trivia question", "answer": "The correct answer", "options": ["Option A", "Option B", "Option C", "Option D"], "explanation": "A concise explanation of why the answer is correct"}`)
	b.WriteString("\nThe options must be four different strings: the correct answer exactly as written in \"answer\" and three plausible but incorrect distractors.\n")
	b.WriteString("Do not include any part of the answer in the question.\n")
	b.WriteString("Pitch the difficulty at a general audience and prefer modern, widely known facts unless the topic is historical.\n")
	if len(req.Prior) > 0 {
		b.WriteString("Do not repeat any of these earlier questions or reuse their answers:\n")
		for _, p := range req.Prior {
			fmt.Fprintf(&b, "- %s (answer: %s)\n", p.Question, p.Answer)
		}
	}
	return b.String()
}

// ParsePayload decodes a model response, tolerating markdown code fences.
func ParsePayload(text string) (domain.QuestionPayload, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}

	var payload domain.QuestionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return domain.QuestionPayload{}, fmt.Errorf("%w: decode response: %v", domain.ErrInvalidQuestion, err)
	}
	payload.Fallback = false
	return payload, nil
}
