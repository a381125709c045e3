package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/llm"
	"github.com/polychat-dev/polychat/internal/scheduler"
)

// reminderKwargs mirrors internal/handlers' unexported type of the same
// name byte-for-byte (same JSON tags): both the /remind command and this
// tool submit to the same "reminder" scheduler function, so the kwargs
// shape must stay in lockstep.
type reminderKwargs struct {
	Channel string `json:"channel"`
	ChatID  int64  `json:"chat_id"`
	TopicID int64  `json:"topic_id"`
	Text    string `json:"text"`
}

func (s *Services) setUserDataTool(evt bus.IncomingEvent) llm.ToolHandler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		key, _ := args["key"].(string)
		value, _ := args["value"].(string)
		if key == "" {
			return "", fmt.Errorf("set_user_data: key is required")
		}
		if err := s.Store.SetUserData(ctx, s.DataSource, evt.User.ID, evt.Chat.ID, key, value); err != nil {
			return "", err
		}
		return "remembered", nil
	}
}

func (s *Services) setReminderTool(evt bus.IncomingEvent) llm.ToolHandler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		if s.Scheduler == nil {
			return "", fmt.Errorf("set_reminder: scheduler is not configured")
		}
		raw, _ := args["when"].(string)
		when, err := parseReminderWhen(raw)
		if err != nil {
			return "", fmt.Errorf("set_reminder: %w", err)
		}
		text, _ := args["text"].(string)

		kwargs, err := json.Marshal(reminderKwargs{Channel: evt.Channel, ChatID: evt.Chat.ID, TopicID: evt.Chat.TopicID, Text: text})
		if err != nil {
			return "", err
		}
		task := scheduler.DelayedTask{
			ID:       fmt.Sprintf("remind-%s-%d-%s", evt.Channel, evt.Chat.ID, uuid.NewString()[:8]),
			FireAt:   when,
			Function: "reminder",
			Kwargs:   kwargs,
		}
		if err := s.Scheduler.Schedule(ctx, task); err != nil {
			return "", err
		}
		return "reminder scheduled for " + when.Format(time.RFC3339), nil
	}
}

// parseReminderWhen mirrors internal/handlers' unexported parseWhen: a
// relative duration ("10m", "2h30m") or an absolute RFC3339 timestamp.
func parseReminderWhen(raw string) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("expected a duration like \"10m\" or an RFC3339 timestamp")
}
