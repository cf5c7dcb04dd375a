package providers

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// TTS synthesizes speech from text.
type TTS interface {
	Name() string
	// Synthesize returns encoded audio bytes and the format extension
	// ("mp3", "ogg", ...). Usage counts input characters.
	Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error)
	HealthCheck(ctx context.Context) Health
}

// TTSRequest is one synthesis call.
type TTSRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// TTSResult is the synthesized audio.
type TTSResult struct {
	Audio  []byte `json:"-"`
	Format string `json:"format"`
	Usage  Usage  `json:"usage"`
}

// OpenAITTS uses the /audio/speech endpoint.
type OpenAITTS struct {
	apiKey string
	client *http.Client
}

func NewOpenAITTS(apiKey string, timeout time.Duration) *OpenAITTS {
	return &OpenAITTS{apiKey: apiKey, client: httpClient(timeout)}
}

func (p *OpenAITTS) Name() string { return "openai" }

func (p *OpenAITTS) Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error) {
	voice := req.Voice
	if voice == "" {
		voice = "alloy"
	}
	payload := map[string]any{
		"model": "tts-1", "input": req.Text, "voice": voice, "response_format": "mp3",
	}
	audio, err := doRaw(ctx, p.client, p.Name(), "https://api.openai.com/v1/audio/speech",
		map[string]string{"Authorization": "Bearer " + p.apiKey}, payload)
	if err != nil {
		return nil, err
	}
	return &TTSResult{Audio: audio, Format: "mp3", Usage: Usage{PromptUnits: len(req.Text)}}, nil
}

func (p *OpenAITTS) HealthCheck(ctx context.Context) Health {
	if p.apiKey == "" {
		return Health{Status: HealthNotConfigured, Detail: "missing api key"}
	}
	return probeURL(ctx, p.client, "https://api.openai.com/v1/models", map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	})
}

// KokoroTTS talks to a local Kokoro-FastAPI server exposing the
// OpenAI-compatible speech endpoint. Free, no credential.
type KokoroTTS struct {
	baseURL string
	client  *http.Client
}

func NewKokoroTTS(baseURL string, timeout time.Duration) *KokoroTTS {
	if baseURL == "" {
		baseURL = "http://localhost:8880"
	}
	return &KokoroTTS{baseURL: strings.TrimRight(baseURL, "/"), client: httpClient(timeout)}
}

func (p *KokoroTTS) Name() string { return "kokoro" }

func (p *KokoroTTS) Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error) {
	voice := req.Voice
	if voice == "" {
		voice = "pf_dora" // portuguese default
	}
	payload := map[string]any{
		"model": "kokoro", "input": req.Text, "voice": voice, "response_format": "mp3",
	}
	audio, err := doRaw(ctx, p.client, p.Name(), p.baseURL+"/v1/audio/speech", nil, payload)
	if err != nil {
		return nil, err
	}
	return &TTSResult{Audio: audio, Format: "mp3", Usage: Usage{PromptUnits: len(req.Text)}}, nil
}

func (p *KokoroTTS) HealthCheck(ctx context.Context) Health {
	return probeURL(ctx, p.client, p.baseURL+"/health", nil)
}

// ElevenLabsTTS talks to the ElevenLabs v1 API.
type ElevenLabsTTS struct {
	apiKey string
	client *http.Client
}

func NewElevenLabsTTS(apiKey string, timeout time.Duration) *ElevenLabsTTS {
	return &ElevenLabsTTS{apiKey: apiKey, client: httpClient(timeout)}
}

func (p *ElevenLabsTTS) Name() string { return "elevenlabs" }

func (p *ElevenLabsTTS) Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error) {
	voice := req.Voice
	if voice == "" {
		voice = "21m00Tcm4TlvDq8ikWAM"
	}
	payload := map[string]any{
		"text":     req.Text,
		"model_id": "eleven_multilingual_v2",
	}
	audio, err := doRaw(ctx, p.client, p.Name(),
		"https://api.elevenlabs.io/v1/text-to-speech/"+voice,
		map[string]string{"xi-api-key": p.apiKey}, payload)
	if err != nil {
		return nil, err
	}
	return &TTSResult{Audio: audio, Format: "mp3", Usage: Usage{PromptUnits: len(req.Text)}}, nil
}

func (p *ElevenLabsTTS) HealthCheck(ctx context.Context) Health {
	if p.apiKey == "" {
		return Health{Status: HealthNotConfigured, Detail: "missing api key"}
	}
	return probeURL(ctx, p.client, "https://api.elevenlabs.io/v1/voices", map[string]string{
		"xi-api-key": p.apiKey,
	})
}
