package media

import (
	"context"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/handlers"
	"github.com/polychat-dev/polychat/internal/storage"
)

// IngestHandler builds the non-terminal handlers.Handler that records a
// media-bearing message's attachment row (spec §4.10: "on each media
// message, upsert into the media-group table with updated_at = now").
// Must be registered after pipeline.IngestHandler, since it only updates
// the media_id/media_group_id columns of a message row pipeline.IngestHandler
// already created.
func IngestHandler(s *Service) handlers.Handler {
	return handlers.Handler{
		Name:     "media-ingest",
		Terminal: false,
		Predicate: func(_ context.Context, evt bus.IncomingEvent) bool {
			return evt.Kind == bus.EventMessageCreated && evt.Message != nil && len(evt.Message.Media) > 0
		},
		Action: func(ctx context.Context, evt bus.IncomingEvent) error {
			return s.ingest(ctx, evt)
		},
	}
}

func (s *Service) ingest(ctx context.Context, evt bus.IncomingEvent) error {
	ref := evt.Message.Media[0]

	if err := s.Store.UpsertMediaAttachment(ctx, s.DataSource, storage.MediaAttachment{
		FileUniqueID:   ref.FileUniqueID,
		Status:         storage.MediaNew,
		MimeType:       ref.MimeType,
		Size:           ref.Size,
		PlatformFileID: ref.FileID,
		MediaGroupID:   ref.MediaGroupID,
		Channel:        evt.Channel,
		ChatID:         evt.Chat.ID,
		ThreadID:       evt.Message.ThreadID,
	}); err != nil {
		return err
	}

	return s.Store.SetMessageMedia(ctx, s.DataSource, evt.Chat.ID, evt.Message.ID, ref.FileUniqueID, ref.MediaGroupID)
}
