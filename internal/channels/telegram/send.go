package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"

	"github.com/polychat-dev/polychat/internal/bus"
)

// Send applies one bus.OutgoingAction via the Telegram Bot API. Long replies
// are the caller's (pipeline render step's) responsibility to split on safe
// boundaries before this is invoked (spec §4.9 step 8).
func (c *Channel) Send(ctx context.Context, action bus.OutgoingAction) error {
	threadID := resolveThreadIDForSend(int(action.TopicID))

	switch action.Kind {
	case bus.ActionSendText:
		params := &telego.SendMessageParams{
			ChatID:          telego.ChatID{ID: action.ChatID},
			Text:            action.Text,
			MessageThreadID: threadID,
		}
		if action.ParseMode != "" {
			params.ParseMode = action.ParseMode
		}
		if action.ReplyToID != "" {
			if id, err := strconv.Atoi(action.ReplyToID); err == nil {
				params.ReplyParameters = &telego.ReplyParameters{MessageID: id}
			}
		}
		_, err := c.bot.SendMessage(ctx, params)
		return err

	case bus.ActionEditMessage:
		id, err := strconv.Atoi(action.MessageID)
		if err != nil {
			return fmt.Errorf("telegram: edit_message: invalid message id %q: %w", action.MessageID, err)
		}
		_, err = c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    telego.ChatID{ID: action.ChatID},
			MessageID: id,
			Text:      action.Text,
			ParseMode: action.ParseMode,
		})
		return err

	case bus.ActionDeleteMessage:
		id, err := strconv.Atoi(action.MessageID)
		if err != nil {
			return fmt.Errorf("telegram: delete_message: invalid message id %q: %w", action.MessageID, err)
		}
		return c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
			ChatID:    telego.ChatID{ID: action.ChatID},
			MessageID: id,
		})

	case bus.ActionSendAction:
		return c.bot.SendChatAction(ctx, &telego.SendChatActionParams{
			ChatID:          telego.ChatID{ID: action.ChatID},
			Action:          action.ActionType,
			MessageThreadID: threadID,
		})

	case bus.ActionPin:
		id, err := strconv.Atoi(action.MessageID)
		if err != nil {
			return fmt.Errorf("telegram: pin: invalid message id %q: %w", action.MessageID, err)
		}
		return c.bot.PinChatMessage(ctx, &telego.PinChatMessageParams{
			ChatID:    telego.ChatID{ID: action.ChatID},
			MessageID: id,
		})

	case bus.ActionUnpin:
		id, err := strconv.Atoi(action.MessageID)
		if err != nil {
			return fmt.Errorf("telegram: unpin: invalid message id %q: %w", action.MessageID, err)
		}
		return c.bot.UnpinChatMessage(ctx, &telego.UnpinChatMessageParams{
			ChatID:    telego.ChatID{ID: action.ChatID},
			MessageID: id,
		})

	case bus.ActionSendMedia:
		return c.sendMedia(ctx, action, threadID)

	case bus.ActionSendMediaGroup:
		return c.sendMediaGroup(ctx, action, threadID)

	case bus.ActionAnswerCallback:
		return c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
			CallbackQueryID: action.CallbackID,
			Text:            action.CallbackText,
		})

	default:
		return fmt.Errorf("telegram: unsupported action kind %q", action.Kind)
	}
}

func (c *Channel) sendMedia(ctx context.Context, action bus.OutgoingAction, threadID int) error {
	if len(action.Media) == 0 {
		return fmt.Errorf("telegram: send_media: no media attachments")
	}
	m := action.Media[0]
	_, err := c.bot.SendPhoto(ctx, &telego.SendPhotoParams{
		ChatID:          telego.ChatID{ID: action.ChatID},
		Photo:           telego.InputFile{URL: m.URL},
		Caption:         m.Caption,
		MessageThreadID: threadID,
	})
	return err
}

func (c *Channel) sendMediaGroup(ctx context.Context, action bus.OutgoingAction, threadID int) error {
	media := make([]telego.InputMedia, 0, len(action.Media))
	for _, m := range action.Media {
		media = append(media, &telego.InputMediaPhoto{
			Type:    telego.MediaTypePhoto,
			Media:   telego.InputFile{URL: m.URL},
			Caption: m.Caption,
		})
	}
	_, err := c.bot.SendMediaGroup(ctx, &telego.SendMediaGroupParams{
		ChatID:          telego.ChatID{ID: action.ChatID},
		Media:           media,
		MessageThreadID: threadID,
	})
	return err
}

// resolveThreadIDForSend omits the General topic (ID 1): Telegram rejects it
// with "thread not found" on send/edit calls.
func resolveThreadIDForSend(threadID int) int {
	if threadID == telegramGeneralTopicID {
		return 0
	}
	return threadID
}
