package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polychat-dev/polychat/internal/errs"
	"github.com/polychat-dev/polychat/internal/ratelimit"
)

var tracer = otel.Tracer("polychat/llm")

// Binding maps a logical model id to a provider, its fallback (if any), and
// a retry policy — the "configured provider binding" spec §4.5 resolves
// model_id to.
type Binding struct {
	Provider     Provider
	ProviderName string // rate-limiter queue name; defaults to Provider.Name()
	Fallback     *Binding
	Retry        RetryConfig
}

// DispatcherConfig tunes the bounded tool-call loop.
type DispatcherConfig struct {
	MaxToolLoopDepth int // default 5, per spec §4.5
}

// Dispatcher is the LLM Dispatcher component (spec §4.5).
type Dispatcher struct {
	mu          sync.RWMutex
	bindings    map[string]Binding
	rateLimiter *ratelimit.Manager
	cfg         DispatcherConfig
}

func NewDispatcher(rl *ratelimit.Manager, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxToolLoopDepth <= 0 {
		cfg.MaxToolLoopDepth = 5
	}
	return &Dispatcher{
		bindings:    make(map[string]Binding),
		rateLimiter: rl,
		cfg:         cfg,
	}
}

// Bind registers (or replaces) the provider binding for modelID.
func (d *Dispatcher) Bind(modelID string, b Binding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings[modelID] = b
}

// BindingInfo summarizes one registered model binding for display (the
// /models command, spec §6, is the only consumer).
type BindingInfo struct {
	ModelID      string
	ProviderName string
	HasFallback  bool
}

// Bindings lists every registered model binding, sorted by ModelID.
func (d *Dispatcher) Bindings() []BindingInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]BindingInfo, 0, len(d.bindings))
	for modelID, b := range d.bindings {
		name := b.ProviderName
		if name == "" && b.Provider != nil {
			name = b.Provider.Name()
		}
		infos = append(infos, BindingInfo{ModelID: modelID, ProviderName: name, HasFallback: b.Fallback != nil})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ModelID < infos[j].ModelID })
	return infos
}

func (d *Dispatcher) binding(modelID string) (Binding, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.bindings[modelID]
	if !ok {
		return Binding{}, fmt.Errorf("%w: no provider bound for model %q", errs.ErrConfiguration, modelID)
	}
	return b, nil
}

// Complete implements the contract of spec §4.5: complete(model_id,
// messages, tools?, params) -> Reply. tools with non-empty ToolCalls are
// executed in parallel each iteration (not recursion), re-appended as
// RoleTool messages in call order, and the model is re-invoked — up to
// MaxToolLoopDepth times.
func (d *Dispatcher) Complete(ctx context.Context, modelID string, messages []Message, tools []ToolDefinition, params map[string]interface{}) (Reply, error) {
	binding, err := d.binding(modelID)
	if err != nil {
		return Reply{}, err
	}

	history := append([]Message(nil), messages...)
	var totalUsage Usage

	for iteration := 0; ; iteration++ {
		if iteration > d.cfg.MaxToolLoopDepth {
			return Reply{}, fmt.Errorf("%w: exceeded %d tool-call iterations", errs.ErrToolLoopLimit, d.cfg.MaxToolLoopDepth)
		}

		resp, err := d.callProvider(ctx, binding, modelID, history, tools, params)
		if err != nil {
			return Reply{}, err
		}
		totalUsage.PromptTokens += resp.Usage.PromptTokens
		totalUsage.CompletionTokens += resp.Usage.CompletionTokens
		totalUsage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 || len(tools) == 0 {
			return Reply{Text: resp.Text, Usage: totalUsage}, nil
		}

		history = append(history, Message{Role: RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls})
		toolMessages := d.runToolCalls(ctx, tools, resp.ToolCalls)
		history = append(history, toolMessages...)
	}
}

// callProvider makes one provider call, gated by the rate limiter under a
// queue named for the provider, retried per binding.Retry, and falling
// through to binding.Fallback on exhausted retries.
func (d *Dispatcher) callProvider(ctx context.Context, binding Binding, modelID string, history []Message, tools []ToolDefinition, params map[string]interface{}) (*ChatResponse, error) {
	queueName := binding.ProviderName
	if queueName == "" {
		queueName = binding.Provider.Name()
	}

	ctx, span := tracer.Start(ctx, "llm.Complete", trace.WithAttributes(
		attribute.String("llm.model_id", modelID),
		attribute.String("llm.provider", binding.Provider.Name()),
	))
	defer span.End()

	if d.rateLimiter != nil {
		if err := d.rateLimiter.Admit(ctx, queueName); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rate limiter rejected request")
			return nil, err
		}
	}

	retryCfg := binding.Retry
	if (retryCfg == RetryConfig{}) {
		retryCfg = DefaultRetryConfig()
	}

	resp, err := RetryDo(ctx, retryCfg, func() (*ChatResponse, error) {
		return binding.Provider.Chat(ctx, ChatRequest{Model: modelID, Messages: history, Tools: tools, Params: params})
	})
	if err == nil {
		return resp, nil
	}

	if binding.Fallback == nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed, no fallback configured")
		return nil, fmt.Errorf("%w: provider %q: %v", errs.ErrProviderTransient, binding.Provider.Name(), err)
	}

	slog.Warn("llm: falling through to fallback provider", "primary", binding.Provider.Name(), "error", err)
	span.RecordError(err)
	return d.callProvider(ctx, *binding.Fallback, modelID, history, tools, params)
}

// runToolCalls executes every call in calls concurrently and returns their
// results as RoleTool messages re-ordered to match calls' original order —
// spec §4.5's "execute each in parallel, collect results" requirement, with
// deterministic re-ordering so a downstream render never depends on
// goroutine scheduling.
func (d *Dispatcher) runToolCalls(ctx context.Context, tools []ToolDefinition, calls []ToolCall) []Message {
	byName := make(map[string]ToolHandler, len(tools))
	for _, t := range tools {
		byName[t.Name] = t.Handler
	}

	results := make([]Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			results[i] = d.runOneTool(ctx, byName, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) runOneTool(ctx context.Context, byName map[string]ToolHandler, call ToolCall) Message {
	ctx, span := tracer.Start(ctx, "llm.ToolCall", trace.WithAttributes(attribute.String("llm.tool_name", call.Name)))
	defer span.End()

	handler, ok := byName[call.Name]
	if !ok {
		span.SetStatus(codes.Error, "unknown tool")
		return Message{
			Role: RoleTool, ToolCallID: call.ID, ToolName: call.Name,
			Text: fmt.Sprintf("error: unknown tool %q", call.Name),
		}
	}
	text, err := handler(ctx, call.Arguments)
	if err != nil {
		slog.Warn("llm: tool call failed", "tool", call.Name, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool handler returned an error")
		return Message{
			Role: RoleTool, ToolCallID: call.ID, ToolName: call.Name,
			Text: fmt.Sprintf("error: %v", err),
		}
	}
	return Message{Role: RoleTool, ToolCallID: call.ID, ToolName: call.Name, Text: text}
}
