package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/llm"
	"github.com/polychat-dev/polychat/internal/storage"
)

// CronJobName is the scheduler.CronJob.Name this pipeline registers under.
const CronJobName = "media-album-completion"

// Tick implements spec §4.10's cron algorithm: scan groups whose newest
// member update is old enough, process each eligible group as one batch,
// and mark every member processed. Wired as a scheduler.CronJob.Handler.
func (s *Service) Tick(ctx context.Context) error {
	now := time.Now()
	groups, err := s.Store.EligibleMediaGroups(ctx, s.DataSource, s.minConfiguredDelay(), now)
	if err != nil {
		return fmt.Errorf("media: eligible media groups: %w", err)
	}

	for _, groupID := range groups {
		if err := s.processGroup(ctx, groupID, now); err != nil {
			slog.Error("media: process group failed", "group_id", groupID, "error", err)
		}
	}
	return nil
}

func (s *Service) minConfiguredDelay() time.Duration {
	min := s.cfg.DefaultGroupDelay
	for _, j := range s.Jobs {
		if j.GroupDelay > 0 && j.GroupDelay < min {
			min = j.GroupDelay
		}
	}
	return min
}

// processGroup downloads, resizes and describes every member of one album,
// then resends the completed batch to every resender job watching its
// source chat. Late arrivals after this runs are new single-item messages
// per spec §4.10, not reopened groups.
func (s *Service) processGroup(ctx context.Context, groupID string, now time.Time) error {
	members, err := s.Store.MediaGroupMembers(ctx, s.DataSource, groupID)
	if err != nil {
		return fmt.Errorf("media: group members: %w", err)
	}
	if len(members) == 0 {
		return nil
	}
	sourceChatID, topicID := members[0].ChatID, members[0].ThreadID

	cutoff := s.groupDelay(sourceChatID)
	if now.Sub(newestUpdate(members)) < cutoff {
		return nil // a job wants a longer delay than the scan cutoff already satisfied
	}

	attachments := make([]bus.MediaAttachment, 0, len(members))
	images := make([]llm.ImageContent, 0, len(members))
	failed := make(map[string]bool)

	for i := range members {
		m := &members[i]
		localURL, mimeType, err := s.fetchAndStore(ctx, m.Channel, m)
		if err != nil {
			slog.Warn("media: fetch failed", "file_unique_id", m.FileUniqueID, "error", err)
			_ = s.Store.SetMediaStatus(ctx, s.DataSource, m.FileUniqueID, storage.MediaFailed)
			failed[m.FileUniqueID] = true
			continue
		}
		attachments = append(attachments, bus.MediaAttachment{URL: localURL, ContentType: mimeType})
		if data, err := os.ReadFile(localURL); err == nil && strings.HasPrefix(mimeType, "image/") {
			images = append(images, llm.ImageContent{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)})
		}
	}

	description := s.describe(ctx, images)
	if description == "" {
		description, err = s.captionFromMessages(ctx, groupID)
		if err != nil {
			slog.Warn("media: caption lookup failed", "group_id", groupID, "error", err)
		}
	}
	if description != "" {
		for i := range members {
			if err := s.Store.SetMediaDescription(ctx, s.DataSource, members[i].FileUniqueID, description); err != nil {
				slog.Warn("media: set description failed", "file_unique_id", members[i].FileUniqueID, "error", err)
			}
		}
	}

	if len(attachments) > 0 {
		attachments[0].Caption = description
		for _, job := range s.jobsFor(sourceChatID) {
			if err := s.Outbound.Send(ctx, bus.OutgoingAction{
				Channel: job.Channel,
				Kind:    bus.ActionSendMediaGroup,
				ChatID:  job.TargetChatID,
				TopicID: topicID,
				Media:   attachments,
			}); err != nil {
				slog.Warn("media: resend failed", "job_id", job.ID, "target_chat_id", job.TargetChatID, "error", err)
			}
		}
	}

	for i := range members {
		status := storage.MediaDone
		if len(attachments) == 0 || failed[members[i].FileUniqueID] {
			status = storage.MediaFailed
		}
		if err := s.Store.SetMediaStatus(ctx, s.DataSource, members[i].FileUniqueID, status); err != nil {
			slog.Warn("media: set status failed", "file_unique_id", members[i].FileUniqueID, "error", err)
		}
	}
	return nil
}

// captionFromMessages falls back to a user-supplied caption when vision
// synthesis is disabled or failed: Telegram albums carry the caption text
// on exactly one member message.
func (s *Service) captionFromMessages(ctx context.Context, groupID string) (string, error) {
	msgs, err := s.Store.MessagesByMediaGroup(ctx, s.DataSource, groupID)
	if err != nil {
		return "", fmt.Errorf("media: messages by group: %w", err)
	}
	for _, m := range msgs {
		if m.Text != "" {
			return m.Text, nil
		}
	}
	return "", nil
}

// fetchAndStore downloads a member's bytes (unless already fetched),
// resizes images to the platform-optimal dimension, writes the result to a
// local scratch file, and records its path. Grounded on vanducng-goclaw's
// internal/tools/create_image.go temp-file convention.
func (s *Service) fetchAndStore(ctx context.Context, channel string, m *storage.MediaAttachment) (localURL, mimeType string, err error) {
	if m.LocalURL != "" {
		return m.LocalURL, m.MimeType, nil
	}

	downloader, ok := s.Downloaders[channel]
	if !ok {
		return "", "", fmt.Errorf("media: no downloader registered for channel %q", channel)
	}
	data, mime, err := downloader.Download(ctx, m.PlatformFileID)
	if err != nil {
		return "", "", fmt.Errorf("media: download %s: %w", m.FileUniqueID, err)
	}

	ext := ".bin"
	if strings.HasPrefix(mime, "image/") {
		if resized, rerr := resizeToFit(data, s.cfg.MaxDimension); rerr == nil {
			data = resized
			mime = "image/jpeg"
		}
		ext = ".jpg"
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("polychat_media_%s_%d%s", m.FileUniqueID, time.Now().UnixNano(), ext))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", "", fmt.Errorf("media: write temp file: %w", err)
	}

	if err := s.Store.UpsertMediaAttachment(ctx, s.DataSource, storage.MediaAttachment{
		FileUniqueID:   m.FileUniqueID,
		Status:         storage.MediaPending,
		MimeType:       mime,
		Size:           int64(len(data)),
		LocalURL:       path,
		PlatformFileID: m.PlatformFileID,
		MediaGroupID:   m.MediaGroupID,
		Channel:        m.Channel,
		ChatID:         m.ChatID,
		ThreadID:       m.ThreadID,
	}); err != nil {
		return "", "", fmt.Errorf("media: persist local url: %w", err)
	}
	return path, mime, nil
}

// describe synthesizes one combined vision description for an album's
// images via the bound vision model, or "" if vision synthesis is
// disabled or there are no images to describe.
func (s *Service) describe(ctx context.Context, images []llm.ImageContent) string {
	if s.cfg.VisionModelID == "" || len(images) == 0 || s.LLM == nil {
		return ""
	}
	reply, err := s.LLM.Complete(ctx, s.cfg.VisionModelID, []llm.Message{
		{Role: llm.RoleSystem, Text: "Describe the attached image(s) in one or two sentences for someone who cannot see them."},
		{Role: llm.RoleUser, Text: "Describe this album.", Images: images},
	}, nil, nil)
	if err != nil {
		slog.Warn("media: vision description failed", "error", err)
		return ""
	}
	return reply.Text
}

func newestUpdate(members []storage.MediaAttachment) time.Time {
	var latest time.Time
	for _, m := range members {
		if m.UpdatedAt.After(latest) {
			latest = m.UpdatedAt
		}
	}
	return latest
}
