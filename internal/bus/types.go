// Package bus defines the common event/action vocabulary shared between
// platform adapters (internal/channels) and the rest of the gateway, plus a
// small in-process pub/sub implementation connecting them.
//
// Adapted from vanducng-goclaw's internal/bus/types.go: the same
// inbound/outbound channel architecture, generalized from a single
// free-form InboundMessage/OutboundMessage pair into the richer
// IncomingEvent/OutgoingAction shapes spec'd for a multi-kind event surface
// (message_created, callback, bot_added, ...).
package bus

import (
	"context"
	"time"
)

// EventKind enumerates the normalized inbound event kinds a platform adapter
// can emit. Every adapter (Telegram, Max) must be able to produce all of
// these from its native update types.
type EventKind string

const (
	EventMessageCreated EventKind = "message_created"
	EventMessageEdited  EventKind = "message_edited"
	EventMessageDeleted EventKind = "message_deleted"
	EventCallback       EventKind = "callback"
	EventBotAdded       EventKind = "bot_added"
	EventBotRemoved     EventKind = "bot_removed"
	EventChatCreated    EventKind = "chat_created"
	EventTitleChanged   EventKind = "title_changed"
	EventUserJoined     EventKind = "user_joined"
	EventUserLeft       EventKind = "user_left"
	EventDialogMuted    EventKind = "dialog_muted"
)

// ChatKind mirrors the Chat.kind enumeration from the data model.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
	ChatChannel ChatKind = "channel"
	ChatForum   ChatKind = "forum"
)

// ChatRef identifies the chat (and, for forums, the topic) an event belongs to.
type ChatRef struct {
	ID      int64
	Kind    ChatKind
	Title   string
	TopicID int64 // 0 for non-forum chats
}

// UserRef identifies the sender of an event.
type UserRef struct {
	ID          int64
	Username    string
	DisplayName string
}

// MediaRef is a platform-native media reference attached to an inbound
// message, not yet downloaded or persisted as a MediaAttachment.
type MediaRef struct {
	FileID       string // platform file id, used to download
	FileUniqueID string // platform-stable unique id → MediaAttachment.file_unique_id
	MimeType     string
	Size         int64
	Kind         string // "photo", "video", "voice", "document", ...
	MediaGroupID string // non-empty for album members
}

// MessageRef carries the message payload of a message_created/edited/deleted event.
type MessageRef struct {
	ID            string // platform-opaque message id
	Text          string
	ReplyID       string
	ThreadID      int64
	RootMessageID string
	Media         []MediaRef
	Markup        map[string]string // arbitrary inline-keyboard/markup passthrough
}

// IncomingEvent is the common shape every platform adapter normalizes its
// native updates into (spec §4.7).
type IncomingEvent struct {
	Channel      string
	Kind         EventKind
	Chat         ChatRef
	User         UserRef
	Message      *MessageRef // nil for non-message kinds
	CallbackID   string      // set for EventCallback
	CallbackData string
	ReceivedAt   time.Time
	Metadata     map[string]string
}

// ActionKind enumerates the outbound primitives a platform adapter must expose.
type ActionKind string

const (
	ActionSendText       ActionKind = "send_text"
	ActionEditMessage    ActionKind = "edit_message"
	ActionDeleteMessage  ActionKind = "delete_message"
	ActionSendAction     ActionKind = "send_action"
	ActionPin            ActionKind = "pin"
	ActionUnpin          ActionKind = "unpin"
	ActionSendMedia      ActionKind = "send_media"
	ActionSendMediaGroup ActionKind = "send_media_group"
	ActionAnswerCallback ActionKind = "answer_callback"
)

// MediaAttachment is an outbound media item (already uploaded/local path resolved).
type MediaAttachment struct {
	URL         string
	ContentType string
	Caption     string
}

// OutgoingAction is a single outbound operation routed through the rate
// limiter to a named channel.
type OutgoingAction struct {
	Channel      string
	Kind         ActionKind
	ChatID       int64
	TopicID      int64
	MessageID    string // target message for edit/delete
	MessageIDs   []string
	Text         string
	ParseMode    string // rendering dialect hint, e.g. "MarkdownV2"
	Media        []MediaAttachment
	CallbackID   string
	CallbackText string
	ActionType   string // "typing", "upload_photo", ... for ActionSendAction
	ReplyToID    string
	Metadata     map[string]string
}

// EventHandler handles a broadcast event (cache invalidation, agent lifecycle, ...).
type EventHandler func(Event)

// Event is a generic cross-cutting notification (not an IncomingEvent).
type Event struct {
	Name    string
	Payload interface{}
}

// EventPublisher abstracts event broadcast + subscription, decoupling
// consumers from the concrete Bus implementation.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// Router abstracts inbound/outbound routing between channels and the pipeline.
type Router interface {
	PublishIncoming(evt IncomingEvent)
	ConsumeIncoming(ctx context.Context) (IncomingEvent, bool)
	PublishOutgoing(action OutgoingAction)
	SubscribeOutgoing(ctx context.Context) (OutgoingAction, bool)
}
