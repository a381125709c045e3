// Package pipeline implements the Message Pipeline from spec §4.9: the
// nine-step orchestration run for every message_created event that reaches
// a conversational (non-command) turn — persist, stats, spam-gate,
// engagement decision, context assembly, tool registry, LLM call, render,
// send, persist-reply.
//
// Grounded on vanducng-goclaw's cmd/gateway_consumer.go (the event-to-agent
// orchestration loop: persist inbound, decide engagement, build context,
// invoke the model, send the reply, persist it) and internal/agent/loop.go
// for the shape of a single conversational turn. Registered into
// internal/handlers.Manager as one more non-terminal Handler, exactly as
// that package's doc comment describes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/errs"
	"github.com/polychat-dev/polychat/internal/handlers"
	"github.com/polychat-dev/polychat/internal/llm"
	"github.com/polychat-dev/polychat/internal/scheduler"
	"github.com/polychat-dev/polychat/internal/spam"
	"github.com/polychat-dev/polychat/internal/storage"
)

// Store is the persistence surface the pipeline needs beyond
// handlers.SettingsStore; internal/storage.Router satisfies it directly.
type Store interface {
	handlers.SettingsStore
	UpsertChat(ctx context.Context, dataSource string, c storage.Chat) error
	UpsertChatUser(ctx context.Context, dataSource string, cu storage.ChatUser) error
	SaveMessage(ctx context.Context, dataSource string, m storage.Message) error
	GetMessage(ctx context.Context, dataSource string, chatID int64, messageID string) (*storage.Message, error)
	SetMessageCategory(ctx context.Context, dataSource string, chatID int64, messageID string, category storage.MessageCategory) error
	BumpDailyStats(ctx context.Context, dataSource string, chatID, userID int64, when time.Time) error
	IsSpammer(ctx context.Context, dataSource string, chatID, userID int64) (bool, error)
	MarkSpammer(ctx context.Context, dataSource string, chatID, userID int64, spammer bool) error
	MarkSpamMessage(ctx context.Context, dataSource string, sm storage.SpamMessage) error
	RecentMessages(ctx context.Context, dataSource string, chatID, threadID int64, limit int) ([]storage.Message, error)
	ConversationRoot(ctx context.Context, dataSource string, chatID int64, messageID string) (*storage.Message, error)
	GetUserData(ctx context.Context, dataSource string, userID, chatID int64, key string) (string, bool, error)
	SetUserData(ctx context.Context, dataSource string, userID, chatID int64, key, value string) error
}

// Services bundles every dependency one pipeline run touches.
type Services struct {
	Store        Store
	DataSource   string
	Settings     *handlers.Resolver
	Spam         *spam.Filter
	LLM          *llm.Dispatcher
	Scheduler    *scheduler.Scheduler
	Outbound     handlers.Outbound
	Cache        SummaryCache
	Tools        Tools
	ToolFlags    ToolFlags
	ModelID      string
	SelfUsername func(channel string) string
	Rand         func() float64 // overridable for tests; defaults to rand.Float64
}

func (s *Services) rng() float64 {
	if s.Rand != nil {
		return s.Rand()
	}
	return rand.Float64()
}

// Handler builds the non-terminal handlers.Handler that runs the Message
// Pipeline for every free-form message_created event. It must be
// registered after handlers.RegisterBuiltins so commands are dispatched by
// the command table rather than also reaching here.
func Handler(s *Services) handlers.Handler {
	return handlers.Handler{
		Name:     "message-pipeline",
		Terminal: false,
		Predicate: func(_ context.Context, evt bus.IncomingEvent) bool {
			return evt.Kind == bus.EventMessageCreated && evt.Message != nil
		},
		Action: func(ctx context.Context, evt bus.IncomingEvent) error {
			return s.Run(ctx, evt)
		},
	}
}

// Run executes steps 3-9 of spec §4.9 for one inbound event. Steps 1-2
// (persist, stats) run first for every event via IngestHandler, registered
// ahead of this handler and of handlers.RegisterBuiltins.
func (s *Services) Run(ctx context.Context, evt bus.IncomingEvent) error {
	// 3. Spam gate.
	halted, err := s.spamGate(ctx, evt)
	if err != nil {
		slog.Warn("pipeline: spam gate error", "chat_id", evt.Chat.ID, "error", err)
	}
	if halted {
		return nil
	}

	// 4. Engagement decision.
	engaged, err := s.shouldEngage(ctx, evt)
	if err != nil {
		return fmt.Errorf("pipeline: engagement decision: %w", err)
	}
	if !engaged {
		return nil
	}

	// 5. Context assembly.
	messages, err := s.assembleContext(ctx, evt)
	if err != nil {
		return fmt.Errorf("pipeline: assemble context: %w", err)
	}

	// 6. Tool registry.
	tools := s.buildToolRegistry(ctx, evt)

	// 7. LLM call.
	reply, err := s.LLM.Complete(ctx, s.ModelID, messages, tools, nil)
	if err != nil {
		return s.sendError(ctx, evt, err)
	}

	// 8. Render and send.
	parts := renderAndSplit(reply.Text)
	var firstReplyID string
	for i, part := range parts {
		action := bus.OutgoingAction{
			Channel:   evt.Channel,
			Kind:      bus.ActionSendText,
			ChatID:    evt.Chat.ID,
			TopicID:   evt.Chat.TopicID,
			Text:      part,
			ParseMode: "MarkdownV2",
		}
		if i == 0 {
			action.ReplyToID = evt.Message.ID
		}
		if err := s.Outbound.Send(ctx, action); err != nil {
			return s.sendError(ctx, evt, err)
		}
		if i == 0 {
			firstReplyID = evt.Message.ID
		}
	}

	// 9. Persist the reply.
	replyMsg := storage.Message{
		ChatID:        evt.Chat.ID,
		MessageID:     replySyntheticID(evt),
		Date:          evt.ReceivedAt,
		ThreadID:      evt.Message.ThreadID,
		ReplyID:       firstReplyID,
		RootMessageID: rootFor(evt),
		Text:          reply.Text,
		Type:          storage.MessageText,
		Category:      storage.CategoryBot,
	}
	if err := s.Store.SaveMessage(ctx, s.DataSource, replyMsg); err != nil {
		slog.Warn("pipeline: persist reply failed", "chat_id", evt.Chat.ID, "error", err)
	}
	return nil
}

// sendError reports a provider-fatal (or send) failure as a single
// bot-error-categorized reply, per spec §7's "at most one reply per event".
func (s *Services) sendError(ctx context.Context, evt bus.IncomingEvent, cause error) error {
	slog.Error("pipeline: llm call failed", "chat_id", evt.Chat.ID, "error", cause)
	action := bus.OutgoingAction{
		Channel:   evt.Channel,
		Kind:      bus.ActionSendText,
		ChatID:    evt.Chat.ID,
		TopicID:   evt.Chat.TopicID,
		Text:      "Sorry, something went wrong answering that.",
		ReplyToID: evt.Message.ID,
	}
	if sendErr := s.Outbound.Send(ctx, action); sendErr != nil {
		return fmt.Errorf("pipeline: send error reply: %w", sendErr)
	}
	errMsg := storage.Message{
		ChatID:    evt.Chat.ID,
		MessageID: replySyntheticID(evt),
		Date:      evt.ReceivedAt,
		ThreadID:  evt.Message.ThreadID,
		ReplyID:   evt.Message.ID,
		Text:      action.Text,
		Type:      storage.MessageText,
		Category:  storage.CategoryBotError,
	}
	_ = s.Store.SaveMessage(ctx, s.DataSource, errMsg)
	return cause
}

func rootFor(evt bus.IncomingEvent) string {
	if evt.Message.RootMessageID != "" {
		return evt.Message.RootMessageID
	}
	return evt.Message.ID
}

// replySyntheticID derives a platform-opaque id for our own outgoing
// message row. Real adapters report the platform-assigned id back through
// the Outbound implementation in a future revision; until then the reply is
// keyed off the inbound message so (chat_id, message_id) stays unique per
// turn without a second round trip to the platform.
func replySyntheticID(evt bus.IncomingEvent) string {
	return "reply:" + evt.Message.ID
}

// shouldEngage implements spec §4.9 step 4: mention/reply, command (already
// filtered out upstream by handlers.RegisterBuiltins being terminal), or
// RNG draw; no per-handler predicate is consulted.
func (s *Services) shouldEngage(ctx context.Context, evt bus.IncomingEvent) (bool, error) {
	if evt.Chat.Kind == bus.ChatPrivate {
		return true, nil
	}
	if evt.Message.ReplyID != "" {
		addressed, err := s.repliesToBot(ctx, evt)
		if err != nil {
			return false, err
		}
		if addressed {
			return true, nil
		}
	}
	if s.mentionsBot(evt) {
		return true, nil
	}
	requireMention, err := s.Settings.ResolveBool(ctx, evt.Chat.ID, evt.Chat.Kind, handlers.SettingRequireMention)
	if err != nil {
		return false, err
	}
	if requireMention {
		return false, nil
	}
	prob, err := s.Settings.ResolveFloat(ctx, evt.Chat.ID, evt.Chat.Kind, handlers.SettingRandomAnswerProbability)
	if err != nil {
		return false, err
	}
	return s.rng() < prob, nil
}

func (s *Services) mentionsBot(evt bus.IncomingEvent) bool {
	if s.SelfUsername == nil {
		return false
	}
	self := s.SelfUsername(evt.Channel)
	if self == "" {
		return false
	}
	return strings.Contains(strings.ToLower(evt.Message.Text), "@"+strings.ToLower(self))
}

// repliesToBot reports whether evt replies to a message the bot itself sent
// — one of the "addressed by mention or reply" conditions in spec §4.9
// step 4.
func (s *Services) repliesToBot(ctx context.Context, evt bus.IncomingEvent) (bool, error) {
	replied, err := s.Store.GetMessage(ctx, s.DataSource, evt.Chat.ID, evt.Message.ReplyID)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if replied == nil {
		return false, nil
	}
	switch replied.Category {
	case storage.CategoryBot, storage.CategoryBotCommandReply, storage.CategoryBotSummary, storage.CategoryBotResended:
		return true, nil
	default:
		return false, nil
	}
}
