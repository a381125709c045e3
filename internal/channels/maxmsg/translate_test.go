package maxmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/bus"
)

func TestTranslate_MessageCreated(t *testing.T) {
	u := update{
		UpdateType: "message_created",
		Timestamp:  1700000000000,
		Message: &message{
			Recipient: chatInfo{ChatID: 42, Type: "chat", Title: "Team"},
			Sender:    userInfo{UserID: 7, Username: "bob", FirstName: "Bob"},
			Body:      messageBody{MID: "m1", Text: "hello"},
		},
	}
	evt, ok := translate("max", u)
	require.True(t, ok)
	assert.Equal(t, bus.EventMessageCreated, evt.Kind)
	assert.Equal(t, int64(42), evt.Chat.ID)
	assert.Equal(t, bus.ChatGroup, evt.Chat.Kind)
	assert.Equal(t, "hello", evt.Message.Text)
	assert.Equal(t, int64(7), evt.User.ID)
}

func TestTranslate_Callback(t *testing.T) {
	u := update{
		UpdateType: "message_callback",
		Callback: &callback{
			CallbackID: "cb1",
			Payload:    "choice:a",
			User:       userInfo{UserID: 3},
			Message:    &message{Recipient: chatInfo{ChatID: 9, Type: "dialog"}},
		},
	}
	evt, ok := translate("max", u)
	require.True(t, ok)
	assert.Equal(t, bus.EventCallback, evt.Kind)
	assert.Equal(t, "cb1", evt.CallbackID)
	assert.Equal(t, "choice:a", evt.CallbackData)
	assert.Equal(t, int64(9), evt.Chat.ID)
}

func TestTranslate_UnknownUpdateTypeIsSkipped(t *testing.T) {
	_, ok := translate("max", update{UpdateType: "something_new"})
	assert.False(t, ok)
}

func TestTranslate_BotAddedCarriesChatInfo(t *testing.T) {
	u := update{UpdateType: "bot_added", Chat: &chatInfo{ChatID: 5, Type: "channel", Title: "News"}}
	evt, ok := translate("max", u)
	require.True(t, ok)
	assert.Equal(t, bus.EventBotAdded, evt.Kind)
	assert.Equal(t, bus.ChatChannel, evt.Chat.Kind)
	assert.Equal(t, "News", evt.Chat.Title)
}
