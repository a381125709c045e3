// Package providers implements concrete internal/llm.Provider backends.
// internal/llm treats providers as pluggable (spec §4.5) and ships none of
// its own; this package is the first concrete one, grounded on
// vanducng-goclaw's internal/providers/openai.go adapted from that
// package's own Provider/ChatRequest/ChatResponse shape to internal/llm's.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/polychat-dev/polychat/internal/llm"
)

// OpenAI implements llm.Provider against any OpenAI-compatible
// /chat/completions endpoint (OpenAI itself, OpenRouter, Groq, DeepSeek,
// self-hosted vLLM, ...), mirroring the teacher's OpenAIProvider.
type OpenAI struct {
	name    string
	apiKey  string
	apiBase string
	client  *http.Client
}

// NewOpenAI constructs a provider bound to apiBase (defaulting to OpenAI's
// own endpoint when empty) and identified as name for rate-limiter queue
// selection and dispatcher logging.
func NewOpenAI(name, apiKey, apiBase string) *OpenAI {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &OpenAI{
		name:    name,
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAI) Name() string { return p.name }

// Chat implements llm.Provider. It converts internal/llm's Message/
// ToolDefinition shape to the OpenAI wire format, posts it, and converts
// the response back — the same two-way translation step the teacher's
// buildRequestBody/parseResponse pair performs, simplified here since
// internal/llm has no streaming or thinking-budget surface to carry.
func (p *OpenAI) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	body := p.buildRequestBody(req)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &llm.HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", p.name, string(respBody)),
			RetryAfter: llm.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var oaiResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	return p.parseResponse(&oaiResp), nil
}

func (p *OpenAI) buildRequestBody(req llm.ChatRequest) map[string]interface{} {
	msgs := make([]map[string]interface{}, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]interface{}{"role": string(m.Role)}

		if len(m.Images) > 0 {
			parts := make([]map[string]interface{}, 0, len(m.Images)+1)
			for _, img := range m.Images {
				parts = append(parts, map[string]interface{}{
					"type": "image_url",
					"image_url": map[string]interface{}{
						"url": fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data),
					},
				})
			}
			if m.Text != "" {
				parts = append(parts, map[string]interface{}{"type": "text", "text": m.Text})
			}
			msg["content"] = parts
		} else if m.Text != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Text
		}

		if len(m.ToolCalls) > 0 {
			toolCalls := make([]map[string]interface{}, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				toolCalls[i] = map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = toolCalls
		}

		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
			msg["name"] = m.ToolName
		}

		msgs = append(msgs, msg)
	}

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": msgs,
	}

	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			}
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}

	if v, ok := req.Params["max_tokens"]; ok {
		body["max_tokens"] = v
	}
	if v, ok := req.Params["temperature"]; ok {
		body["temperature"] = v
	}

	return body
}

func (p *OpenAI) parseResponse(resp *chatCompletionResponse) *llm.ChatResponse {
	result := &llm.ChatResponse{FinishReason: "stop"}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		result.Text = msg.Content
		result.FinishReason = resp.Choices[0].FinishReason

		for _, tc := range msg.ToolCalls {
			args := make(map[string]interface{})
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      strings.TrimSpace(tc.Function.Name),
				Arguments: args,
			})
		}
		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		}
	}

	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result
}

// chatCompletionResponse is the subset of the OpenAI chat/completions
// response this provider reads; absent from the retrieval pack (the
// teacher's own equivalent struct lives outside the files it retrieved),
// so it's authored fresh from the documented wire format.
type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
