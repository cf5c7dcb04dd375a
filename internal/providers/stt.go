package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Transcriber converts an audio file to text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string) (string, error)
	HealthCheck(ctx context.Context) Health
}

// OpenAIWhisper uses the /audio/transcriptions endpoint.
type OpenAIWhisper struct {
	apiKey string
	client *http.Client
}

func NewOpenAIWhisper(apiKey string, timeout time.Duration) *OpenAIWhisper {
	return &OpenAIWhisper{apiKey: apiKey, client: httpClient(timeout)}
}

func (p *OpenAIWhisper) Name() string { return "openai-whisper" }

func (p *OpenAIWhisper) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", &Error{Kind: KindUpstream, Provider: p.Name(), Err: fmt.Errorf("open audio: %w", err)}
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", &Error{Kind: KindUpstream, Provider: p.Name(), Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", &Error{Kind: KindUpstream, Provider: p.Name(), Err: err}
	}
	mw.WriteField("model", "whisper-1")
	if err := mw.Close(); err != nil {
		return "", &Error{Kind: KindUpstream, Provider: p.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", &Error{Kind: KindUpstream, Provider: p.Name(), Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", classifyTransport(p.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", classifyHTTP(p.Name(), resp.StatusCode, string(msg))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := decodeJSONBody(resp, &out); err != nil {
		return "", &Error{Kind: KindUpstream, Provider: p.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	return out.Text, nil
}

func (p *OpenAIWhisper) HealthCheck(ctx context.Context) Health {
	if p.apiKey == "" {
		return Health{Status: HealthNotConfigured, Detail: "missing api key"}
	}
	return probeURL(ctx, p.client, "https://api.openai.com/v1/models", map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	})
}
