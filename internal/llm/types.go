// Package llm implements the LLM Dispatcher from spec §4.5: a
// provider-abstracted complete() call surface with a bounded tool-call loop,
// retry-with-backoff plus fallback-provider chaining, and rate-limiter-gated
// outbound calls.
//
// Grounded on vanducng-goclaw's internal/providers (Provider/ChatRequest/
// ChatResponse/Message/ToolCall/ToolDefinition/Usage carried over near
// verbatim — that shape IS the spec's §4.5 contract) and internal/agent/loop.go
// (the iterative, non-recursive tool-call loop with parallel tool execution
// and deterministic re-ordering by originating index).
package llm

import "context"

// Provider is the black-box contract every LLM backend binds to. Concrete
// providers are not defined in this package — spec.md §1 treats them as
// pluggable; the OpenAI-compatible implementation lives in
// internal/providers.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// Role enumerates Message.Role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in the conversation passed to a provider.
type Message struct {
	Role       Role
	Text       string
	ToolCallID string // set for Role == RoleTool
	ToolName   string // set for Role == RoleTool
	ToolCalls  []ToolCall
	Images     []ImageContent
}

// ImageContent is a base64-encoded image attached to a user/tool message for
// vision-capable models.
type ImageContent struct {
	MimeType string
	Data     string
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolDefinition is one entry in the tools list offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON Schema
	Handler     ToolHandler
}

// ToolHandler executes a tool call and returns the text merged back into the
// conversation as a RoleTool message. A non-nil error is a ToolError per
// spec §7 — it does not abort the dispatch loop, it becomes the tool's
// result text for the model's next turn.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (string, error)

// Usage tracks token consumption reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatRequest is the input to one provider Chat call.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolDefinition
	Params   map[string]interface{}
}

// ChatResponse is the result of one provider Chat call, before any
// tool-call loop iteration.
type ChatResponse struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Reply is the Dispatcher's final result after the tool-call loop settles.
type Reply struct {
	Text  string
	Usage Usage
}
