package llm

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// VisionRequest is a single prompt with one attached image.
type VisionRequest struct {
	Prompt       string
	ImageBase64  string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
}

// VisionResult carries the outcome in-band; CompleteWithImage never returns an error.
type VisionResult struct {
	Success bool
	Content string
	Error   string
}

// Vision is the capability the solver consumes. Implementations must be safe
// for concurrent use by independent sessions.
type Vision interface {
	CompleteWithImage(ctx context.Context, req VisionRequest) VisionResult
}

type visionAdapter struct {
	client Client
	logger zerolog.Logger
}

// NewVision adapts a Client into a Vision capability. A nil client yields a
// nil Vision so callers can detect the missing capability.
func NewVision(client Client, logger zerolog.Logger) Vision {
	if client == nil {
		return nil
	}
	return &visionAdapter{client: client, logger: logger}
}

func (v *visionAdapter) CompleteWithImage(ctx context.Context, req VisionRequest) VisionResult {
	if strings.TrimSpace(req.ImageBase64) == "" {
		return VisionResult{Error: "no image supplied"}
	}
	resp, err := v.client.Generate(ctx, Request{
		System: req.SystemPrompt,
		Messages: []Message{{
			Role:    "user",
			Content: req.Prompt,
			Images:  []Image{{MediaType: "image/png", Base64: req.ImageBase64}},
		}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		v.logger.Warn().Err(err).Str("model", v.client.Name()).Msg("vision completion failed")
		return VisionResult{Error: err.Error()}
	}
	return VisionResult{Success: true, Content: resp.Text}
}
