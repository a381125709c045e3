package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/handlers"
	"github.com/polychat-dev/polychat/internal/storage"
)

// IngestHandler builds spec §4.9 steps 1-2 (persist the incoming message
// with inferred category, update daily stats) as their own non-terminal
// Handler. It must be registered before handlers.RegisterBuiltins's
// terminal command-dispatch handler so every inbound message is persisted
// exactly once, command or not — commands persist their own
// bot-command-reply via handlers.Services.reply, the conversational
// pipeline persists its own bot reply via Services.Run's step 9.
func IngestHandler(s *Services) handlers.Handler {
	return handlers.Handler{
		Name:     "ingest",
		Terminal: false,
		Predicate: func(_ context.Context, evt bus.IncomingEvent) bool {
			return evt.Kind == bus.EventMessageCreated && evt.Message != nil
		},
		Action: func(ctx context.Context, evt bus.IncomingEvent) error {
			return s.ingest(ctx, evt)
		},
	}
}

func (s *Services) ingest(ctx context.Context, evt bus.IncomingEvent) error {
	if err := s.Store.UpsertChat(ctx, s.DataSource, storage.Chat{ChatID: evt.Chat.ID, Kind: storage.ChatKind(evt.Chat.Kind), Title: evt.Chat.Title}); err != nil {
		slog.Warn("pipeline: upsert chat failed", "chat_id", evt.Chat.ID, "error", err)
	}
	if err := s.Store.UpsertChatUser(ctx, s.DataSource, storage.ChatUser{ChatID: evt.Chat.ID, UserID: evt.User.ID, DisplayName: evt.User.DisplayName, Username: evt.User.Username}); err != nil {
		slog.Warn("pipeline: upsert chat user failed", "chat_id", evt.Chat.ID, "user_id", evt.User.ID, "error", err)
	}

	msg := storage.Message{
		ChatID:        evt.Chat.ID,
		MessageID:     evt.Message.ID,
		Date:          evt.ReceivedAt,
		UserID:        evt.User.ID,
		ReplyID:       evt.Message.ReplyID,
		ThreadID:      evt.Message.ThreadID,
		RootMessageID: evt.Message.RootMessageID,
		Text:          evt.Message.Text,
		Type:          storage.MessageText,
		Category:      inferCategory(evt),
	}
	if err := s.Store.SaveMessage(ctx, s.DataSource, msg); err != nil {
		return fmt.Errorf("pipeline: persist incoming message: %w", err)
	}

	if err := s.Store.BumpDailyStats(ctx, s.DataSource, evt.Chat.ID, evt.User.ID, evt.ReceivedAt); err != nil {
		slog.Warn("pipeline: bump daily stats failed", "chat_id", evt.Chat.ID, "error", err)
	}
	return nil
}

func inferCategory(evt bus.IncomingEvent) storage.MessageCategory {
	if evt.Chat.Kind == bus.ChatChannel {
		return storage.CategoryChannel
	}
	if _, ok := handlers.ParseCommand(evt.Message.Text); ok {
		return storage.CategoryUserCommand
	}
	return storage.CategoryUser
}
