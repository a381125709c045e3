package telegram

import (
	"context"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/channels"
)

type capturingRouter struct {
	incoming []bus.IncomingEvent
}

func (r *capturingRouter) PublishIncoming(evt bus.IncomingEvent) { r.incoming = append(r.incoming, evt) }
func (r *capturingRouter) ConsumeIncoming(context.Context) (bus.IncomingEvent, bool) {
	return bus.IncomingEvent{}, false
}
func (r *capturingRouter) PublishOutgoing(bus.OutgoingAction) {}
func (r *capturingRouter) SubscribeOutgoing(context.Context) (bus.OutgoingAction, bool) {
	return bus.OutgoingAction{}, false
}

func newTestChannel(router bus.Router) *Channel {
	return &Channel{BaseChannel: channels.NewBaseChannel("telegram", router, nil, channels.PolicyOpen, channels.PolicyOpen)}
}

func TestResolveThreadIDForSend_OmitsGeneralTopic(t *testing.T) {
	assert.Equal(t, 0, resolveThreadIDForSend(telegramGeneralTopicID))
	assert.Equal(t, 42, resolveThreadIDForSend(42))
}

func TestResolveMedia_PicksLargestPhoto(t *testing.T) {
	msg := &telego.Message{
		Photo: []telego.PhotoSize{
			{FileID: "small", FileSize: 100},
			{FileID: "large", FileSize: 9000},
		},
	}
	media := resolveMedia(msg)
	require.Len(t, media, 1)
	assert.Equal(t, "large", media[0].FileID)
	assert.Equal(t, "photo", media[0].Kind)
}

func TestResolveMedia_Voice(t *testing.T) {
	msg := &telego.Message{Voice: &telego.Voice{FileID: "v1", MimeType: "audio/ogg"}}
	media := resolveMedia(msg)
	require.Len(t, media, 1)
	assert.Equal(t, "voice", media[0].Kind)
}

func TestHandleMessage_TranslatesPrivateChatTextMessage(t *testing.T) {
	router := &capturingRouter{}
	ch := newTestChannel(router)

	msg := &telego.Message{
		MessageID: 7,
		Chat:      telego.Chat{ID: 555, Type: telego.ChatTypePrivate},
		From:      &telego.User{ID: 10, Username: "alice"},
		Text:      "hello",
		Date:      1700000000,
	}
	ch.handleMessage(msg, bus.EventMessageCreated)

	require.Len(t, router.incoming, 1)
	evt := router.incoming[0]
	assert.Equal(t, bus.EventMessageCreated, evt.Kind)
	assert.Equal(t, int64(555), evt.Chat.ID)
	assert.Equal(t, bus.ChatPrivate, evt.Chat.Kind)
	assert.Equal(t, "hello", evt.Message.Text)
	assert.Equal(t, int64(10), evt.User.ID)
}

func TestHandleMessage_ForumTopicDefaultsToGeneralWhenThreadIDMissing(t *testing.T) {
	router := &capturingRouter{}
	ch := newTestChannel(router)

	msg := &telego.Message{
		MessageID: 1,
		Chat:      telego.Chat{ID: -100, Type: telego.ChatTypeSupergroup, IsForum: true},
		From:      &telego.User{ID: 1},
		Text:      "hi",
	}
	ch.handleMessage(msg, bus.EventMessageCreated)

	require.Len(t, router.incoming, 1)
	assert.Equal(t, int64(telegramGeneralTopicID), router.incoming[0].Chat.TopicID)
}

func TestHandleMessage_PolicyDisabledGroupsRejectsEvent(t *testing.T) {
	router := &capturingRouter{}
	base := channels.NewBaseChannel("telegram", router, nil, channels.PolicyOpen, channels.PolicyDisabled)
	ch := &Channel{BaseChannel: base}

	msg := &telego.Message{
		MessageID: 1,
		Chat:      telego.Chat{ID: -1, Type: telego.ChatTypeGroup},
		From:      &telego.User{ID: 1},
		Text:      "hi",
	}
	ch.handleMessage(msg, bus.EventMessageCreated)

	assert.Empty(t, router.incoming)
}
