package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/llm"
)

func TestOpenAI_Chat_ParsesTextReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message":       map[string]interface{}{"content": "hello there"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]interface{}{"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14},
		})
	}))
	defer srv.Close()

	p := NewOpenAI("test", "test-key", srv.URL)
	reply, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:    "gpt-test",
		Messages: []llm.Message{{Role: llm.RoleUser, Text: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply.Text)
	assert.Equal(t, "stop", reply.FinishReason)
	assert.Equal(t, 14, reply.Usage.TotalTokens)
}

func TestOpenAI_Chat_ParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message": map[string]interface{}{
						"content": "",
						"tool_calls": []map[string]interface{}{
							{
								"id": "call_1",
								"function": map[string]interface{}{
									"name":      "get_weather",
									"arguments": `{"city":"Minsk"}`,
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAI("test", "test-key", srv.URL)
	reply, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:    "gpt-test",
		Messages: []llm.Message{{Role: llm.RoleUser, Text: "weather?"}},
		Tools: []llm.ToolDefinition{{
			Name:        "get_weather",
			Description: "get weather",
			Parameters:  map[string]interface{}{"type": "object"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", reply.FinishReason)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "get_weather", reply.ToolCalls[0].Name)
	assert.Equal(t, "Minsk", reply.ToolCalls[0].Arguments["city"])
}

func TestOpenAI_Chat_ReturnsHTTPErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	p := NewOpenAI("test", "test-key", srv.URL)
	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Model:    "gpt-test",
		Messages: []llm.Message{{Role: llm.RoleUser, Text: "hi"}},
	})
	require.Error(t, err)

	var httpErr *llm.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Status)
	assert.True(t, httpErr.Retryable())
}

func TestOpenAI_Chat_EncodesImagesAsContentParts(t *testing.T) {
	var seenContent interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		msgs := body["messages"].([]interface{})
		seenContent = msgs[0].(map[string]interface{})["content"]

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": "a cat"}, "finish_reason": "stop"},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAI("test", "test-key", srv.URL)
	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Model: "vision-test",
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Text: "what is this?",
			Images: []llm.ImageContent{
				{MimeType: "image/png", Data: "Zm9v"},
			},
		}},
	})
	require.NoError(t, err)

	parts, ok := seenContent.([]interface{})
	require.True(t, ok, "expected content to be encoded as a parts array, got %T", seenContent)
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[0].(map[string]interface{})["type"])
	assert.Equal(t, "text", parts[1].(map[string]interface{})["type"])
}
