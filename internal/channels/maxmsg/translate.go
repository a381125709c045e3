package maxmsg

import (
	"time"

	"github.com/polychat-dev/polychat/internal/bus"
)

// update mirrors one entry of the Max Bot API's /updates envelope, covering
// only the fields this adapter normalizes.
type update struct {
	UpdateType string    `json:"update_type"`
	Timestamp  int64     `json:"timestamp"`
	Message    *message  `json:"message,omitempty"`
	Callback   *callback `json:"callback,omitempty"`
	Chat       *chatInfo `json:"chat,omitempty"`
}

type chatInfo struct {
	ChatID int64  `json:"chat_id"`
	Type   string `json:"type"` // "dialog" | "chat" | "channel"
	Title  string `json:"title"`
}

type userInfo struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type message struct {
	Recipient chatInfo     `json:"recipient"`
	Sender    userInfo     `json:"sender"`
	Body      messageBody  `json:"body"`
}

type messageBody struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type callback struct {
	CallbackID string   `json:"callback_id"`
	Payload    string    `json:"payload"`
	User       userInfo `json:"user"`
	Message    *message `json:"message,omitempty"`
}

// translate normalizes one update into a bus.IncomingEvent, or returns
// ok=false for update types this adapter doesn't forward.
func translate(channelName string, u update) (bus.IncomingEvent, bool) {
	switch u.UpdateType {
	case "message_created", "message_edited":
		return translateMessage(channelName, u), true
	case "message_callback":
		return translateCallback(channelName, u), true
	case "bot_added":
		return translateChatEvent(channelName, u, bus.EventBotAdded), true
	case "bot_removed":
		return translateChatEvent(channelName, u, bus.EventBotRemoved), true
	case "chat_title_changed":
		return translateChatEvent(channelName, u, bus.EventTitleChanged), true
	case "user_added":
		return translateChatEvent(channelName, u, bus.EventUserJoined), true
	case "user_removed":
		return translateChatEvent(channelName, u, bus.EventUserLeft), true
	default:
		return bus.IncomingEvent{}, false
	}
}

func chatKindOf(t string) bus.ChatKind {
	switch t {
	case "chat":
		return bus.ChatGroup
	case "channel":
		return bus.ChatChannel
	default:
		return bus.ChatPrivate
	}
}

func translateMessage(channelName string, u update) bus.IncomingEvent {
	m := u.Message
	kind := bus.EventMessageCreated
	if u.UpdateType == "message_edited" {
		kind = bus.EventMessageEdited
	}
	return bus.IncomingEvent{
		Channel: channelName,
		Kind:    kind,
		Chat: bus.ChatRef{
			ID:    m.Recipient.ChatID,
			Kind:  chatKindOf(m.Recipient.Type),
			Title: m.Recipient.Title,
		},
		User: bus.UserRef{
			ID:          m.Sender.UserID,
			Username:    m.Sender.Username,
			DisplayName: strconcat(m.Sender.FirstName, m.Sender.LastName),
		},
		Message: &bus.MessageRef{
			ID:   m.Body.MID,
			Text: m.Body.Text,
		},
		ReceivedAt: time.UnixMilli(u.Timestamp),
	}
}

func translateCallback(channelName string, u update) bus.IncomingEvent {
	cb := u.Callback
	var chatRef bus.ChatRef
	if cb.Message != nil {
		chatRef = bus.ChatRef{ID: cb.Message.Recipient.ChatID, Kind: chatKindOf(cb.Message.Recipient.Type)}
	}
	return bus.IncomingEvent{
		Channel: channelName,
		Kind:    bus.EventCallback,
		Chat:    chatRef,
		User: bus.UserRef{
			ID:       cb.User.UserID,
			Username: cb.User.Username,
		},
		CallbackID:   cb.CallbackID,
		CallbackData: cb.Payload,
		ReceivedAt:   time.UnixMilli(u.Timestamp),
	}
}

func translateChatEvent(channelName string, u update, kind bus.EventKind) bus.IncomingEvent {
	evt := bus.IncomingEvent{
		Channel:    channelName,
		Kind:       kind,
		ReceivedAt: time.UnixMilli(u.Timestamp),
	}
	if u.Chat != nil {
		evt.Chat = bus.ChatRef{ID: u.Chat.ChatID, Kind: chatKindOf(u.Chat.Type), Title: u.Chat.Title}
	}
	return evt
}

func strconcat(first, last string) string {
	if last == "" {
		return first
	}
	if first == "" {
		return last
	}
	return first + " " + last
}
