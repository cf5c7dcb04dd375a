package agent

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ligolabs/ligo/internal/providers"
)

// maxImageBytes caps attachments passed to vision models (10MB).
const maxImageBytes = 10 * 1024 * 1024

// LoadImages reads local image files into base64 ImageContent for
// vision-capable models. Unreadable or oversized files are skipped.
func LoadImages(paths []string, log *slog.Logger) []providers.ImageContent {
	var images []providers.ImageContent
	for _, p := range paths {
		mime := inferImageMime(p)
		if mime == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			log.Warn("image attachment unreadable", "path", p, "error", err)
			continue
		}
		if len(data) > maxImageBytes {
			log.Warn("image attachment too large, skipping", "path", p, "size", len(data))
			continue
		}
		images = append(images, providers.ImageContent{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return images
}

func inferImageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
