package pipeline

import (
	"context"
	"fmt"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/llm"
)

// Tools is the narrow surface the pipeline's tool registry needs from
// internal/tools — deliberately the same shape as handlers.Tools so both
// consumers are satisfied by one concrete wiring in cmd/gateway.
type Tools interface {
	Weather(ctx context.Context, city, countryCode string) (string, error)
	Search(ctx context.Context, query string) (string, error)
	Geocode(ctx context.Context, query string) (string, error)
	Draw(ctx context.Context, prompt string) (bus.MediaAttachment, error)
	Summarize(ctx context.Context, messages []llm.Message) (string, error)
}

// ToolFlags gates which tools are exposed to the model, set once at
// process wiring time from the config's per-tool enabled switches
// (spec §6's config table: "external-service keys ... tool availability").
type ToolFlags struct {
	Weather      bool
	Search       bool
	Geocode      bool
	Draw         bool
	SetUserData  bool
	SetReminder  bool
	Summarize    bool
}

// buildToolRegistry implements spec §4.9 step 6: conditionally expose
// get_weather, web_search, geocode, draw_image, set_user_data,
// set_reminder, summarize based on ToolFlags.
func (s *Services) buildToolRegistry(ctx context.Context, evt bus.IncomingEvent) []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	if s.Tools == nil {
		return defs
	}

	if s.ToolFlags.Weather {
		defs = append(defs, llm.ToolDefinition{
			Name:        "get_weather",
			Description: "Get current weather for a city.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"city":         map[string]interface{}{"type": "string"},
					"country_code": map[string]interface{}{"type": "string"},
				},
				"required": []string{"city"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				city, _ := args["city"].(string)
				cc, _ := args["country_code"].(string)
				if city == "" {
					return "", fmt.Errorf("get_weather: city is required")
				}
				return s.Tools.Weather(ctx, city, cc)
			},
		})
	}

	if s.ToolFlags.Search {
		defs = append(defs, llm.ToolDefinition{
			Name:        "web_search",
			Description: "Search the web for a query and return a summary of results.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
				"required":   []string{"query"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				query, _ := args["query"].(string)
				if query == "" {
					return "", fmt.Errorf("web_search: query is required")
				}
				return s.Tools.Search(ctx, query)
			},
		})
	}

	if s.ToolFlags.Geocode {
		defs = append(defs, llm.ToolDefinition{
			Name:        "geocode",
			Description: "Resolve a place name to coordinates.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
				"required":   []string{"query"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				query, _ := args["query"].(string)
				if query == "" {
					return "", fmt.Errorf("geocode: query is required")
				}
				return s.Tools.Geocode(ctx, query)
			},
		})
	}

	if s.ToolFlags.Draw {
		defs = append(defs, llm.ToolDefinition{
			Name:        "draw_image",
			Description: "Generate an image from a text prompt.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"prompt": map[string]interface{}{"type": "string"}},
				"required":   []string{"prompt"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				prompt, _ := args["prompt"].(string)
				media, err := s.Tools.Draw(ctx, prompt)
				if err != nil {
					return "", err
				}
				if err := s.Outbound.Send(ctx, bus.OutgoingAction{
					Channel: evt.Channel,
					Kind:    bus.ActionSendMedia,
					ChatID:  evt.Chat.ID,
					TopicID: evt.Chat.TopicID,
					Media:   []bus.MediaAttachment{media},
				}); err != nil {
					return "", err
				}
				return "image sent: " + media.URL, nil
			},
		})
	}

	if s.ToolFlags.SetUserData {
		defs = append(defs, llm.ToolDefinition{
			Name:        "set_user_data",
			Description: "Remember a key/value fact about the current user for this chat.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"key":   map[string]interface{}{"type": "string"},
					"value": map[string]interface{}{"type": "string"},
				},
				"required": []string{"key", "value"},
			},
			Handler: s.setUserDataTool(evt),
		})
	}

	if s.ToolFlags.SetReminder {
		defs = append(defs, llm.ToolDefinition{
			Name:        "set_reminder",
			Description: "Schedule a reminder to be sent back to this chat later.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"when": map[string]interface{}{"type": "string", "description": "RFC3339 timestamp or a Go duration string like \"1h30m\""},
					"text": map[string]interface{}{"type": "string"},
				},
				"required": []string{"when"},
			},
			Handler: s.setReminderTool(evt),
		})
	}

	if s.ToolFlags.Summarize {
		defs = append(defs, llm.ToolDefinition{
			Name:        "summarize",
			Description: "Summarize the last N messages of this chat.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"count": map[string]interface{}{"type": "integer"}},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				n := 50
				if v, ok := args["count"].(float64); ok && v > 0 {
					n = int(v)
				}
				recent, err := s.Store.RecentMessages(ctx, s.DataSource, evt.Chat.ID, evt.Chat.TopicID, n)
				if err != nil {
					return "", err
				}
				llmMsgs := make([]llm.Message, 0, len(recent))
				for i := len(recent) - 1; i >= 0; i-- {
					llmMsgs = append(llmMsgs, llm.Message{Role: roleFor(recent[i]), Text: recent[i].Text})
				}
				return s.Tools.Summarize(ctx, llmMsgs)
			},
		})
	}

	return defs
}
