package skills

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/ligolabs/ligo/internal/providers"
)

// VisionFn asks a vision-capable LLM to describe an image.
type VisionFn func(ctx context.Context, tenantID, prompt string, img providers.ImageContent) (string, error)

// maxVisionEdge bounds the longest image edge sent to the model.
const maxVisionEdge = 1024

const describePrompt = "Describe this image concisely for a conversational assistant. " +
	"Mention any readable text verbatim. Answer in the language of the conversation."

// ImageDescription attaches a model-generated description of inbound
// images as extra LLM context; image-only messages get the description
// as their body so the empty-message guard does not fire.
type ImageDescription struct {
	vision VisionFn
	log    *slog.Logger
}

func NewImageDescription(vision VisionFn, log *slog.Logger) *ImageDescription {
	return &ImageDescription{vision: vision, log: log.With("skill", "image_description")}
}

func (s *ImageDescription) Name() string { return "image_description" }

func (s *ImageDescription) PreProcess(ctx context.Context, req *Request) (*PreResult, error) {
	if req.Msg.MediaType != "image" || req.Msg.MediaPath == "" {
		return nil, nil
	}
	img, err := encodeForVision(req.Msg.MediaPath)
	if err != nil {
		return nil, err
	}
	desc, err := s.vision(ctx, req.TenantID.String(), describePrompt, *img)
	if err != nil {
		return nil, fmt.Errorf("describe image: %w", err)
	}
	if desc == "" {
		return nil, nil
	}
	res := &PreResult{Context: "The user attached an image. Description: " + desc}
	if req.Text == "" {
		res.ReplaceText = "[imagem] " + desc
	}
	return res, nil
}

// encodeForVision loads, downscales and JPEG-encodes an image for the
// vision API. Downscaling keeps token cost bounded for phone photos.
func encodeForVision(path string) (*providers.ImageContent, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	if src.Bounds().Dx() > maxVisionEdge || src.Bounds().Dy() > maxVisionEdge {
		src = imaging.Fit(src, maxVisionEdge, maxVisionEdge, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return &providers.ImageContent{
		MimeType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
