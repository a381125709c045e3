package pipeline

import (
	"context"
	"fmt"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/handlers"
	"github.com/polychat-dev/polychat/internal/storage"
)

// spamGate implements spec §4.9 step 3. It returns halted=true when the
// message was classified as spam and the pipeline must stop before the
// engagement decision.
func (s *Services) spamGate(ctx context.Context, evt bus.IncomingEvent) (halted bool, err error) {
	if s.Spam == nil {
		return false, nil
	}

	detect, err := s.Settings.ResolveBool(ctx, evt.Chat.ID, evt.Chat.Kind, handlers.SettingDetectSpam)
	if err != nil {
		return false, err
	}
	if !detect {
		return false, nil
	}

	isSpammer, err := s.Store.IsSpammer(ctx, s.DataSource, evt.Chat.ID, evt.User.ID)
	if err != nil {
		return false, err
	}
	if isSpammer {
		// Already flagged: no need to re-score, but a known spammer's
		// message must still be halted and removed, never allowed through
		// to the engagement decision.
		if err := s.Store.SetMessageCategory(ctx, s.DataSource, evt.Chat.ID, evt.Message.ID, storage.CategoryUserSpam); err != nil {
			return false, err
		}
		if err := s.Outbound.Send(ctx, bus.OutgoingAction{
			Channel:   evt.Channel,
			Kind:      bus.ActionDeleteMessage,
			ChatID:    evt.Chat.ID,
			MessageID: evt.Message.ID,
		}); err != nil {
			return false, err
		}
		return true, nil
	}

	score, err := s.Spam.Score(ctx, evt.Chat.ID, evt.Message.Text)
	if err != nil {
		return false, fmt.Errorf("pipeline: spam score: %w", err)
	}

	threshold, err := s.Settings.ResolveFloat(ctx, evt.Chat.ID, evt.Chat.Kind, handlers.SettingSpamScoreThreshold)
	if err != nil {
		return false, err
	}
	if score < threshold {
		return false, nil
	}

	if err := s.Store.SetMessageCategory(ctx, s.DataSource, evt.Chat.ID, evt.Message.ID, storage.CategoryUserSpam); err != nil {
		return false, err
	}
	if err := s.Store.MarkSpamMessage(ctx, s.DataSource, storage.SpamMessage{
		ChatID:    evt.Chat.ID,
		UserID:    evt.User.ID,
		MessageID: evt.Message.ID,
		Text:      evt.Message.Text,
		Reason:    storage.ReasonAuto,
		Score:     score,
	}); err != nil {
		return false, err
	}
	// Auto-detection always flags the sender as a spammer, independent of
	// whichever spam-action (delete/ban/notify) fires below.
	if err := s.Store.MarkSpammer(ctx, s.DataSource, evt.Chat.ID, evt.User.ID, true); err != nil {
		return false, err
	}

	if err := s.applySpamAction(ctx, evt); err != nil {
		return false, err
	}
	return true, nil
}

// applySpamAction performs the configured spam-action (spec §9's "delete
// message / ban user / notify admins"), subject to the platform adapter's
// capabilities — which here means falling back silently to delete when
// "ban" is requested, since bus.ActionKind has no ban primitive (the same
// substitute the /spam command uses).
func (s *Services) applySpamAction(ctx context.Context, evt bus.IncomingEvent) error {
	action, err := s.Settings.Resolve(ctx, evt.Chat.ID, evt.Chat.Kind, handlers.SettingSpamAction)
	if err != nil {
		return err
	}

	switch action {
	case "notify":
		return s.Outbound.Send(ctx, bus.OutgoingAction{
			Channel: evt.Channel,
			Kind:    bus.ActionSendText,
			ChatID:  evt.Chat.ID,
			TopicID: evt.Chat.TopicID,
			Text:    fmt.Sprintf("Flagged a message from user %d as spam.", evt.User.ID),
		})
	case "ban":
		// bus.ActionKind has no ban primitive; the closest available
		// substitute is deleting the message (the spammer flag itself is
		// already set by spamGate's caller, independent of this action).
		return s.Outbound.Send(ctx, bus.OutgoingAction{
			Channel:   evt.Channel,
			Kind:      bus.ActionDeleteMessage,
			ChatID:    evt.Chat.ID,
			MessageID: evt.Message.ID,
		})
	default: // "delete"
		return s.Outbound.Send(ctx, bus.OutgoingAction{
			Channel:   evt.Channel,
			Kind:      bus.ActionDeleteMessage,
			ChatID:    evt.Chat.ID,
			MessageID: evt.Message.ID,
		})
	}
}
