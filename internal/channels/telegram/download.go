package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mymmrac/telego"
)

// Download implements internal/media.Downloader: it resolves fileID's
// storage path via the Bot API, then fetches the file body over the
// resulting URL. Telegram's getFile response carries no MIME type, so one
// is inferred from the file's extension per the platform's documented
// media kinds; an unrecognized extension falls back to
// "application/octet-stream" and the media pipeline still stores the file,
// just without a vision-capable description.
func (c *Channel) Download(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("telegram: get file %q: %w", fileID, err)
	}

	url := c.bot.FileDownloadURL(file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: download file %q: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("telegram: download file %q: status %d", fileID, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: read file %q: %w", fileID, err)
	}
	return data, mimeTypeForPath(file.FilePath), nil
}

func mimeTypeForPath(path string) string {
	switch ext(path) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	case "mp4":
		return "video/mp4"
	case "ogg", "oga":
		return "audio/ogg"
	case "mp3":
		return "audio/mpeg"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func ext(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
	}
	return ""
}
