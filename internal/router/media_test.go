package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestFetchMediaDownloadsBridgeURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OggS voice bytes"))
	}))
	defer srv.Close()

	e := newEnv(t, defaultAgent("Maria"))
	msg := e.dm("")
	msg.MediaType = "audio"
	msg.MediaURL = srv.URL + "/media/abc123"

	e.r.fetchMedia(context.Background(), &msg)
	if msg.MediaPath == "" {
		t.Fatal("media path not populated from bridge URL")
	}
	t.Cleanup(func() { os.Remove(msg.MediaPath) })
	if !strings.HasSuffix(msg.MediaPath, ".ogg") {
		t.Errorf("media path = %q, want .ogg suffix", msg.MediaPath)
	}
	data, err := os.ReadFile(msg.MediaPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "OggS voice bytes" {
		t.Errorf("downloaded bytes = %q", data)
	}
}

func TestFetchMediaLeavesLocalPath(t *testing.T) {
	e := newEnv(t, defaultAgent("Maria"))
	msg := e.dm("")
	msg.MediaType = "audio"
	msg.MediaURL = "http://bridge.invalid/media/abc"
	msg.MediaPath = "/tmp/voice.ogg"

	e.r.fetchMedia(context.Background(), &msg)
	if msg.MediaPath != "/tmp/voice.ogg" {
		t.Errorf("watcher-provided path replaced: %q", msg.MediaPath)
	}
}

func TestFetchMediaSkipsNonHTTP(t *testing.T) {
	e := newEnv(t, defaultAgent("Maria"))
	msg := e.dm("")
	msg.MediaType = "image"
	msg.MediaURL = "file:///etc/passwd"

	e.r.fetchMedia(context.Background(), &msg)
	if msg.MediaPath != "" {
		t.Errorf("non-http url fetched: %q", msg.MediaPath)
	}
}

func TestFetchMediaErrorLeavesPathEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := newEnv(t, defaultAgent("Maria"))
	msg := e.dm("")
	msg.MediaType = "image"
	msg.MediaURL = srv.URL + "/gone"

	e.r.fetchMedia(context.Background(), &msg)
	if msg.MediaPath != "" {
		t.Errorf("failed fetch still set a path: %q", msg.MediaPath)
	}
}

func TestMediaExt(t *testing.T) {
	for mediaType, want := range map[string]string{
		"audio": ".ogg", "image": ".jpg", "video": ".mp4", "document": ".pdf", "sticker": ".bin",
	} {
		if got := mediaExt(mediaType); got != want {
			t.Errorf("mediaExt(%q) = %q, want %q", mediaType, got, want)
		}
	}
}
