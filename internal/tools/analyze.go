package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/polychat-dev/polychat/internal/llm"
	"github.com/polychat-dev/polychat/internal/storage"
)

// Analyze implements handlers.Tools.Analyze: answers a question about an
// already-downloaded media attachment using the configured vision
// binding, the same llm.Dispatcher call shape internal/media.Service uses
// to synthesize an album description.
func (s *Service) Analyze(ctx context.Context, attachment storage.MediaAttachment, prompt string) (string, error) {
	if s.cfg.VisionModelID == "" || s.llm == nil {
		return "", fmt.Errorf("tools: analyze: no vision model configured")
	}
	if !strings.HasPrefix(attachment.MimeType, "image/") {
		return "", fmt.Errorf("tools: analyze: attachment is not an image (%s)", attachment.MimeType)
	}
	if attachment.LocalURL == "" {
		return "", fmt.Errorf("tools: analyze: attachment has not been downloaded yet")
	}

	data, err := os.ReadFile(attachment.LocalURL)
	if err != nil {
		return "", fmt.Errorf("tools: analyze: read attachment: %w", err)
	}

	if prompt == "" {
		prompt = "Describe this image."
	}

	reply, err := s.llm.Complete(ctx, s.cfg.VisionModelID, []llm.Message{
		{Role: llm.RoleUser, Text: prompt, Images: []llm.ImageContent{
			{MimeType: attachment.MimeType, Data: base64.StdEncoding.EncodeToString(data)},
		}},
	}, nil, nil)
	if err != nil {
		return "", fmt.Errorf("tools: analyze: %w", err)
	}
	return reply.Text, nil
}
