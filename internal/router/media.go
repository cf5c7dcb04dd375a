package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ligolabs/ligo/internal/bus"
)

// Attachments above this size are dropped rather than spooled.
const maxMediaBytes = 50 << 20

// fetchMedia downloads a transport-hosted attachment into a temp file
// when the watcher did not already provide one. The Telegram watcher
// downloads via the bot API itself; WhatsApp bridges hand out HTTP
// URLs that must be fetched before transcription or vision can run.
func (r *Router) fetchMedia(ctx context.Context, msg *bus.InboundMessage) {
	if msg.MediaType == "" || msg.MediaPath != "" {
		return
	}
	if !strings.HasPrefix(msg.MediaURL, "http://") && !strings.HasPrefix(msg.MediaURL, "https://") {
		return
	}
	path, err := r.downloadMedia(ctx, msg.MediaURL, mediaExt(msg.MediaType))
	if err != nil {
		r.log.Warn("media download failed", "type", msg.MediaType, "url", msg.MediaURL, "error", err)
		return
	}
	msg.MediaPath = path
}

func (r *Router) downloadMedia(ctx context.Context, url, ext string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.media.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media fetch: status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp("", "ligo-media-*"+ext)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxMediaBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxMediaBytes {
		err = fmt.Errorf("media fetch: larger than %d bytes", maxMediaBytes)
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// mediaExt picks a file extension the skill pipeline recognizes.
func mediaExt(mediaType string) string {
	switch mediaType {
	case "audio":
		return ".ogg"
	case "image":
		return ".jpg"
	case "video":
		return ".mp4"
	case "document":
		return ".pdf"
	}
	return ".bin"
}
