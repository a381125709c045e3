package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/polychat-dev/polychat/internal/bus"
)

// Draw implements draw_image (spec §4.9 step 6, §6's image-gen.api-key
// row): generates an image from a text prompt via an OpenAI-compatible
// chat/completions endpoint requesting image modalities, the same request
// shape vanducng-goclaw's internal/tools/create_image.go uses against
// OpenRouter/OpenAI. The generated image is written to a temp file and
// returned as a bus.MediaAttachment, mirroring internal/media's own
// temp-file-then-send convention.
func (s *Service) Draw(ctx context.Context, prompt string) (bus.MediaAttachment, error) {
	if s.cfg.ImageGenAPIKey == "" || s.cfg.ImageGenEndpoint == "" {
		return bus.MediaAttachment{}, fmt.Errorf("tools: draw: image generation not configured")
	}
	if prompt == "" {
		return bus.MediaAttachment{}, fmt.Errorf("tools: draw: prompt is required")
	}

	body, err := json.Marshal(map[string]interface{}{
		"model": s.cfg.ImageGenModel,
		"messages": []map[string]interface{}{
			{"role": "user", "content": prompt},
		},
		"modalities": []string{"image", "text"},
	})
	if err != nil {
		return bus.MediaAttachment{}, fmt.Errorf("tools: draw: marshal request: %w", err)
	}

	endpoint := strings.TrimRight(s.cfg.ImageGenEndpoint, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return bus.MediaAttachment{}, fmt.Errorf("tools: draw: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.ImageGenAPIKey)

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return bus.MediaAttachment{}, fmt.Errorf("tools: draw: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return bus.MediaAttachment{}, fmt.Errorf("tools: draw: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return bus.MediaAttachment{}, fmt.Errorf("tools: draw: upstream returned %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	imageBytes, err := parseImageResponse(respBody)
	if err != nil {
		return bus.MediaAttachment{}, fmt.Errorf("tools: draw: %w", err)
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("polychat_draw_%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, imageBytes, 0644); err != nil {
		return bus.MediaAttachment{}, fmt.Errorf("tools: draw: write temp file: %w", err)
	}

	return bus.MediaAttachment{URL: path, ContentType: "image/png"}, nil
}

// parseImageResponse extracts base64 image data from an OpenAI-compatible
// chat response, checking both the "images" array (OpenRouter) and a
// multipart content array (some providers' alternate shape).
func parseImageResponse(respBody []byte) ([]byte, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content interface{} `json:"content"`
				Images  []struct {
					ImageURL struct {
						URL string `json:"url"`
					} `json:"image_url"`
				} `json:"images"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	msg := resp.Choices[0].Message
	for _, img := range msg.Images {
		if data, err := decodeDataURL(img.ImageURL.URL); err == nil {
			return data, nil
		}
	}
	if parts, ok := msg.Content.([]interface{}); ok {
		for _, part := range parts {
			m, ok := part.(map[string]interface{})
			if !ok || m["type"] != "image_url" {
				continue
			}
			if imgURL, ok := m["image_url"].(map[string]interface{}); ok {
				if rawURL, ok := imgURL["url"].(string); ok {
					if data, err := decodeDataURL(rawURL); err == nil {
						return data, nil
					}
				}
			}
		}
	}
	return nil, fmt.Errorf("no image data found in response")
}

func decodeDataURL(dataURL string) ([]byte, error) {
	idx := strings.Index(dataURL, ";base64,")
	if idx < 0 {
		return nil, fmt.Errorf("not a base64 data url")
	}
	return base64.StdEncoding.DecodeString(dataURL[idx+8:])
}
