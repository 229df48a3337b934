package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	envProvider = "LLM_PROVIDER" // "anthropic" or "openai"
)

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

type Message struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Images  []Image `json:"-"`
}

// Image is an inline base64 image attached to a message.
type Image struct {
	MediaType string
	Base64    string
}

type Response struct {
	Text string
}

// NewClientWithLogger creates a client with logger based on LLM_PROVIDER env var
func NewClientWithLogger(logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic"
	}

	switch provider {
	case "openai":
		return NewOpenAIWithLogger(logger)
	case "anthropic":
		return NewAnthropicWithLogger(logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", provider)
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return runePrefix(s, maxLen) + "..."
}

// runePrefix returns at most n bytes of s, ending on a rune boundary.
func runePrefix(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func imageMediaType(img Image) string {
	if img.MediaType == "" {
		return "image/png"
	}
	return img.MediaType
}
