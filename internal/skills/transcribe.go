package skills

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// TranscribeFn converts a local audio file to text. The gateway binds
// it to the tenant's transcription provider.
type TranscribeFn func(ctx context.Context, tenantID string, audioPath string) (string, error)

// AudioTranscription replaces voice-note messages with their transcript
// so the rest of the pipeline sees plain text.
type AudioTranscription struct {
	transcribe TranscribeFn
	log        *slog.Logger
}

func NewAudioTranscription(transcribe TranscribeFn, log *slog.Logger) *AudioTranscription {
	return &AudioTranscription{transcribe: transcribe, log: log.With("skill", "audio_transcription")}
}

func (s *AudioTranscription) Name() string { return "audio_transcription" }

func (s *AudioTranscription) PreProcess(ctx context.Context, req *Request) (*PreResult, error) {
	if req.Msg.MediaType != "audio" || req.Msg.MediaPath == "" {
		return nil, nil
	}
	text, err := s.transcribe(ctx, req.TenantID.String(), req.Msg.MediaPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", req.Msg.MediaPath, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	s.log.Debug("voice note transcribed", "chars", len(text))
	// Keep any typed caption alongside the transcript.
	if caption := strings.TrimSpace(req.Text); caption != "" {
		text = caption + "\n" + text
	}
	return &PreResult{ReplaceText: text}, nil
}
