// Package media implements the Media Pipeline (spec §4.10): album
// completion for platform media groups that arrive as independent messages
// with no closure signal, per-platform-optimal resizing, vision-model
// description synthesis, and optional cross-chat republication via
// resender jobs.
//
// Grounded on vanducng-goclaw's internal/scheduler cron-tick shape (a
// Service.Tick method wired as a scheduler.CronJob.Handler, mirroring
// internal/handlers.ReminderHandler's registered-function pattern) and
// internal/channels/manager.go's outbound dispatch loop, generalized here
// from "one adapter, one chat" to "source chat's eligible album -> every
// matching resender job's target chat".
package media

import (
	"context"
	"time"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/llm"
	"github.com/polychat-dev/polychat/internal/storage"
)

// Store is the persistence surface the media pipeline needs;
// internal/storage.Router satisfies it directly.
type Store interface {
	UpsertMediaAttachment(ctx context.Context, dataSource string, m storage.MediaAttachment) error
	SetMediaStatus(ctx context.Context, dataSource, fileUniqueID string, status storage.MediaStatus) error
	SetMediaDescription(ctx context.Context, dataSource, fileUniqueID, description string) error
	GetMediaAttachment(ctx context.Context, dataSource, fileUniqueID string) (*storage.MediaAttachment, error)
	EligibleMediaGroups(ctx context.Context, dataSource string, delay time.Duration, now time.Time) ([]string, error)
	MediaGroupMembers(ctx context.Context, dataSource, groupID string) ([]storage.MediaAttachment, error)
	MessagesByMediaGroup(ctx context.Context, dataSource, groupID string) ([]storage.Message, error)
	SetMessageMedia(ctx context.Context, dataSource string, chatID int64, messageID, mediaID, mediaGroupID string) error
}

// Downloader fetches the raw bytes of a platform file by its native file
// id. One implementation lives per channel adapter (e.g.
// internal/channels/telegram.Channel.Download); the media pipeline is
// channel-agnostic and dispatches by the channel name recorded on the
// source message.
type Downloader interface {
	Download(ctx context.Context, fileID string) (data []byte, mimeType string, err error)
}

// Outbound is the narrow send surface resender jobs use — the same
// interface internal/handlers depends on.
type Outbound interface {
	Send(ctx context.Context, action bus.OutgoingAction) error
}

// ResenderJob is one configured cross-chat republication rule
// (resender.jobs[] in spec §6's configuration table): once an album from
// SourceChatID completes, it is resent as a single media group to
// TargetChatID on Channel. SourceChatID is matched against the source
// message's own adapter, so a job's Channel names only the send target —
// a source chat id is assumed unique across adapters.
type ResenderJob struct {
	ID           string
	Channel      string
	SourceChatID int64
	TargetChatID int64
	GroupDelay   time.Duration
}

// Config tunes the pipeline's defaults.
type Config struct {
	// DefaultGroupDelay is the age an eligible group must reach before
	// processing when no ResenderJob names a narrower delay for it
	// (spec §4.10: "configurable per downstream job, default 5 s").
	DefaultGroupDelay time.Duration
	// MaxDimension is the longest edge, in pixels, a resized image is
	// fit to before being resent or handed to the vision model.
	MaxDimension int
	// VisionModelID is the llm.Dispatcher binding used to synthesize a
	// description for a completed album; empty disables synthesis.
	VisionModelID string
}

func (c Config) withDefaults() Config {
	if c.DefaultGroupDelay <= 0 {
		c.DefaultGroupDelay = 5 * time.Second
	}
	if c.MaxDimension <= 0 {
		c.MaxDimension = 1600
	}
	return c
}

// Service runs album-completion ingestion and the cron-driven batch
// processing described in spec §4.10.
type Service struct {
	Store        Store
	Downloaders  map[string]Downloader // keyed by channel name, e.g. "telegram"
	Outbound     Outbound
	LLM          *llm.Dispatcher
	DataSource   string
	Jobs         []ResenderJob
	cfg          Config
}

func New(store Store, outbound Outbound, dispatcher *llm.Dispatcher, dataSource string, cfg Config) *Service {
	return &Service{
		Store:       store,
		Downloaders: make(map[string]Downloader),
		Outbound:    outbound,
		LLM:         dispatcher,
		DataSource:  dataSource,
		cfg:         cfg.withDefaults(),
	}
}

// RegisterDownloader binds a channel's file-download capability. Called
// once per platform adapter at process wiring time.
func (s *Service) RegisterDownloader(channel string, d Downloader) {
	s.Downloaders[channel] = d
}

// jobsFor returns every resender job configured for sourceChatID, or nil.
func (s *Service) jobsFor(sourceChatID int64) []ResenderJob {
	var out []ResenderJob
	for _, j := range s.Jobs {
		if j.SourceChatID == sourceChatID {
			out = append(out, j)
		}
	}
	return out
}

// groupDelay returns the narrowest configured delay among jobs watching
// sourceChatID, falling back to Config.DefaultGroupDelay.
func (s *Service) groupDelay(sourceChatID int64) time.Duration {
	delay := s.cfg.DefaultGroupDelay
	for _, j := range s.jobsFor(sourceChatID) {
		if j.GroupDelay > 0 && j.GroupDelay < delay {
			delay = j.GroupDelay
		}
	}
	return delay
}
