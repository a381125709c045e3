package tools

import (
	"context"
	"fmt"

	"github.com/polychat-dev/polychat/internal/llm"
)

const summarizeSystemPrompt = "Summarize the following chat messages in a few concise sentences, preserving names and decisions. Do not add commentary."

// Summarize implements the summarize tool (spec §4.9 step 6): condenses a
// slice of recent chat messages into a short summary via the configured
// summarization binding.
func (s *Service) Summarize(ctx context.Context, messages []llm.Message) (string, error) {
	if s.cfg.SummarizeModelID == "" || s.llm == nil {
		return "", fmt.Errorf("tools: summarize: no summarization model configured")
	}
	if len(messages) == 0 {
		return "", nil
	}

	history := make([]llm.Message, 0, len(messages)+1)
	history = append(history, llm.Message{Role: llm.RoleSystem, Text: summarizeSystemPrompt})
	history = append(history, messages...)

	reply, err := s.llm.Complete(ctx, s.cfg.SummarizeModelID, history, nil, nil)
	if err != nil {
		return "", fmt.Errorf("tools: summarize: %w", err)
	}
	return reply.Text, nil
}
