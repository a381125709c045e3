package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/polychat-dev/polychat/internal/bus"
)

// handleUpdate normalizes one telego.Update into zero or more bus.IncomingEvent.
func (c *Channel) handleUpdate(_ context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		c.handleMessage(update.Message, bus.EventMessageCreated)
	case update.EditedMessage != nil:
		c.handleMessage(update.EditedMessage, bus.EventMessageEdited)
	case update.CallbackQuery != nil:
		c.handleCallback(update.CallbackQuery)
	case update.MyChatMember != nil:
		c.handleMyChatMember(update.MyChatMember)
	}
}

func (c *Channel) handleMessage(msg *telego.Message, kind bus.EventKind) {
	if msg.From == nil {
		return
	}

	chatKind := bus.ChatPrivate
	switch msg.Chat.Type {
	case telego.ChatTypeGroup:
		chatKind = bus.ChatGroup
	case telego.ChatTypeSupergroup:
		chatKind = bus.ChatGroup
		if msg.Chat.IsForum {
			chatKind = bus.ChatForum
		}
	case telego.ChatTypeChannel:
		chatKind = bus.ChatChannel
	}

	topicID := int64(0)
	if chatKind == bus.ChatForum {
		topicID = int64(msg.MessageThreadID)
		if topicID == 0 {
			topicID = telegramGeneralTopicID
		}
	}

	text := msg.Text
	if msg.Caption != "" {
		if text != "" {
			text += "\n" + msg.Caption
		} else {
			text = msg.Caption
		}
	}

	evt := bus.IncomingEvent{
		Channel: c.Name(),
		Kind:    kind,
		Chat: bus.ChatRef{
			ID:      msg.Chat.ID,
			Kind:    chatKind,
			Title:   msg.Chat.Title,
			TopicID: topicID,
		},
		User: bus.UserRef{
			ID:          msg.From.ID,
			Username:    msg.From.Username,
			DisplayName: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		},
		Message: &bus.MessageRef{
			ID:       fmt.Sprintf("%d", msg.MessageID),
			Text:     text,
			ThreadID: topicID,
			Media:    resolveMedia(msg),
		},
		ReceivedAt: time.Unix(int64(msg.Date), 0),
	}
	if msg.ReplyToMessage != nil {
		evt.Message.ReplyID = fmt.Sprintf("%d", msg.ReplyToMessage.MessageID)
	}

	c.PublishIncoming(evt)
}

func (c *Channel) handleCallback(cb *telego.CallbackQuery) {
	chatID, title := callbackChatRef(cb)
	evt := bus.IncomingEvent{
		Channel: c.Name(),
		Kind:    bus.EventCallback,
		Chat: bus.ChatRef{
			ID:    chatID,
			Kind:  bus.ChatPrivate,
			Title: title,
		},
		User: bus.UserRef{
			ID:       cb.From.ID,
			Username: cb.From.Username,
		},
		CallbackID:   cb.ID,
		CallbackData: cb.Data,
		ReceivedAt:   time.Now(),
	}
	c.PublishIncoming(evt)
}

// callbackChatRef extracts the originating chat from a CallbackQuery's
// Message field, which telego types as the MaybeInaccessibleMessage
// interface (satisfied by either *telego.Message or
// *telego.InaccessibleMessage, both carrying a Chat).
func callbackChatRef(cb *telego.CallbackQuery) (id int64, title string) {
	switch m := cb.Message.(type) {
	case *telego.Message:
		return m.Chat.ID, m.Chat.Title
	case *telego.InaccessibleMessage:
		return m.Chat.ID, m.Chat.Title
	default:
		return 0, ""
	}
}

func (c *Channel) handleMyChatMember(m *telego.ChatMemberUpdated) {
	kind := bus.EventBotAdded
	if m.NewChatMember.MemberStatus() == "left" || m.NewChatMember.MemberStatus() == "kicked" {
		kind = bus.EventBotRemoved
	}
	evt := bus.IncomingEvent{
		Channel: c.Name(),
		Kind:    kind,
		Chat: bus.ChatRef{
			ID:    m.Chat.ID,
			Title: m.Chat.Title,
		},
		User: bus.UserRef{
			ID:       m.From.ID,
			Username: m.From.Username,
		},
		ReceivedAt: time.Unix(int64(m.Date), 0),
	}
	c.PublishIncoming(evt)
}

// resolveMedia extracts platform media references without downloading them;
// internal/media owns download/resize once a group is eligible for processing.
func resolveMedia(msg *telego.Message) []bus.MediaRef {
	var out []bus.MediaRef
	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		out = append(out, bus.MediaRef{
			FileID: largest.FileID, FileUniqueID: largest.FileUniqueID,
			Size: int64(largest.FileSize), Kind: "photo", MediaGroupID: msg.MediaGroupID,
		})
	case msg.Video != nil:
		out = append(out, bus.MediaRef{
			FileID: msg.Video.FileID, FileUniqueID: msg.Video.FileUniqueID,
			MimeType: msg.Video.MimeType, Size: int64(msg.Video.FileSize),
			Kind: "video", MediaGroupID: msg.MediaGroupID,
		})
	case msg.Voice != nil:
		out = append(out, bus.MediaRef{
			FileID: msg.Voice.FileID, FileUniqueID: msg.Voice.FileUniqueID,
			MimeType: msg.Voice.MimeType, Size: int64(msg.Voice.FileSize), Kind: "voice",
		})
	case msg.Document != nil:
		out = append(out, bus.MediaRef{
			FileID: msg.Document.FileID, FileUniqueID: msg.Document.FileUniqueID,
			MimeType: msg.Document.MimeType, Size: int64(msg.Document.FileSize), Kind: "document",
		})
	}
	return out
}
