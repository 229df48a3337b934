package vision

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-captcha-solver/internal/captcha"
	"github.com/polzovatel/browser-captcha-solver/internal/llm"
)

// MsgVisionUnavailable is reported when no vision capability was supplied.
const MsgVisionUnavailable = "LLM client not available"

type Request struct {
	Image    []byte
	Target   string
	GridSize int
	GridType captcha.GridType
	Provider captcha.ProviderKind
	// Candidates restricts the answer to these tiles. Nil means all tiles.
	Candidates []int
}

// Result.Err holds the vision error text verbatim; Indices is then empty.
type Result struct {
	Indices []int
	Raw     string
	Err     string
}

type Matcher struct {
	maxTokens   int
	temperature float32
	logger      zerolog.Logger
}

func NewMatcher(maxTokens int, temperature float32, logger zerolog.Logger) *Matcher {
	return &Matcher{
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger.With().Str("comp", "vision").Logger(),
	}
}

// IdentifyMatches makes exactly one vision call and returns the validated indices.
func (m *Matcher) IdentifyMatches(ctx context.Context, v llm.Vision, req Request) Result {
	if v == nil {
		return Result{Indices: []int{}, Err: MsgVisionUnavailable}
	}
	if len(req.Image) == 0 {
		return Result{Indices: []int{}, Err: "empty grid image"}
	}
	prompt := BuildPrompt(req)
	res := v.CompleteWithImage(ctx, llm.VisionRequest{
		Prompt:       prompt,
		ImageBase64:  base64.StdEncoding.EncodeToString(req.Image),
		SystemPrompt: systemPrompt,
		MaxTokens:    m.maxTokens,
		Temperature:  m.temperature,
	})
	if !res.Success {
		m.logger.Warn().Str("error", res.Error).Str("target", req.Target).Msg("vision call failed")
		return Result{Indices: []int{}, Err: res.Error}
	}

	indices := restrict(ParseIndices(res.Content, req.GridSize), req.Candidates)
	m.logger.Debug().
		Str("target", req.Target).
		Int("grid", req.GridSize).
		Str("grid_type", req.GridType.String()).
		Str("raw", truncate(res.Content, 120)).
		Ints("indices", indices).
		Msg("vision response")
	return Result{Indices: indices, Raw: res.Content}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
