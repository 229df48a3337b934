package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	envOpenAIAPIKey    = "OPENAI_API_KEY"
	envOpenAIModel     = "OPENAI_MODEL"
	defaultOpenAIModel = "gpt-4o-mini"

	openAIAPIURL      = "https://api.openai.com/v1/chat/completions"
	openAIMaxTokens   = 900
	openAITimeoutSecs = 60

	openAIMaxRetries     = 3
	openAIRetryBaseDelay = 500 * time.Millisecond
	openAIMaxRequestSize = 200000 // ~200KB of text
)

type openAIClient struct {
	apiKey     string
	model      string
	endpoint   string
	retryDelay time.Duration
	http       *http.Client
	logger     zerolog.Logger
}

type openAIPayload struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

// openAIMessage content is either a plain string or a list of parts.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func NewOpenAIFromEnv() (Client, error) {
	key := strings.TrimSpace(os.Getenv(envOpenAIAPIKey))
	if key == "" {
		return nil, fmt.Errorf("missing %s", envOpenAIAPIKey)
	}
	model := strings.TrimSpace(os.Getenv(envOpenAIModel))
	if model == "" {
		model = defaultOpenAIModel
	}
	model = strings.Trim(model, "\"'")
	return &openAIClient{
		apiKey:     key,
		model:      model,
		endpoint:   openAIAPIURL,
		retryDelay: openAIRetryBaseDelay,
		http: &http.Client{
			Timeout: openAITimeoutSecs * time.Second,
		},
		logger: zerolog.Nop(),
	}, nil
}

func NewOpenAIWithLogger(logger zerolog.Logger) (Client, error) {
	client, err := NewOpenAIFromEnv()
	if err != nil {
		return nil, err
	}
	if oc, ok := client.(*openAIClient); ok {
		oc.logger = logger
	}
	return client, nil
}

func (c *openAIClient) Name() string {
	return c.model
}

func (c *openAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}

	for i, m := range req.Messages {
		if len(m.Content) > openAIMaxRequestSize {
			c.logger.Warn().Int("message_idx", i).Int("size", len(m.Content)).Msg("message too large, truncating")
			req.Messages[i].Content = m.Content[:openAIMaxRequestSize] + "... [truncated]"
		}
	}
	if len(req.System) > openAIMaxRequestSize {
		c.logger.Warn().Int("size", len(req.System)).Msg("system prompt too large, truncating")
		req.System = req.System[:openAIMaxRequestSize] + "... [truncated]"
	}

	// OpenAI requires the system message as the first message with role "system"
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		if len(m.Images) == 0 {
			messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []openAIPart{{Type: "text", Text: m.Content}}
		for _, img := range m.Images {
			parts = append(parts, openAIPart{
				Type: "image_url",
				ImageURL: &openAIImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", imageMediaType(img), img.Base64),
					Detail: "high",
				},
			})
		}
		messages = append(messages, openAIMessage{Role: m.Role, Content: parts})
	}

	payload := openAIPayload{
		Model:       c.model,
		Messages:    messages,
		Temperature: float64(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = openAIMaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= openAIMaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying OpenAI API call")
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		c.logger.Debug().
			Str("model", c.model).
			Int("messages", len(messages)).
			Int("payload_size", len(body)).
			Int("max_tokens", payload.MaxTokens).
			Msg("OpenAI API request")

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return Response{}, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			if attempt < openAIMaxRetries {
				continue
			}
			return Response{}, lastErr
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			if attempt < openAIMaxRetries {
				continue
			}
			return Response{}, lastErr
		}

		c.logger.Debug().
			Int("status", resp.StatusCode).
			Int("response_size", len(data)).
			Msg("OpenAI API response")

		if resp.StatusCode >= 400 {
			var apiResp openAIResponse
			rawError := string(data)
			errType := ""
			if err := json.Unmarshal(data, &apiResp); err != nil || apiResp.Error == nil {
				lastErr = fmt.Errorf("openai %d: %s (raw, parse err: %v)", resp.StatusCode, truncateString(rawError, 500), err)
			} else {
				errType = apiResp.Error.Type
				errorMsg := apiResp.Error.Message
				if errorMsg == "" {
					errorMsg = truncateString(rawError, 500)
				}
				lastErr = fmt.Errorf("openai %d: %s (type: %s, code: %s)", resp.StatusCode, errorMsg, apiResp.Error.Type, apiResp.Error.Code)
			}

			c.logger.Error().
				Int("status", resp.StatusCode).
				Str("error_type", errType).
				Str("raw_response", rawError).
				Int("attempt", attempt).
				Msg("OpenAI API error")

			// Retry on 429 (rate limit) and 5xx errors
			if (resp.StatusCode == 429 || resp.StatusCode >= 500) && attempt < openAIMaxRetries {
				continue
			}
			return Response{}, lastErr
		}

		var apiResp openAIResponse
		if err := json.Unmarshal(data, &apiResp); err != nil {
			return Response{}, fmt.Errorf("parse response: %w (raw: %s)", err, truncateString(string(data), 500))
		}
		if len(apiResp.Choices) == 0 {
			return Response{}, fmt.Errorf("no choices in response")
		}

		choice := apiResp.Choices[0]
		text := choice.Message.Content
		if text == "" {
			return Response{}, fmt.Errorf("empty response content")
		}

		c.logger.Debug().
			Str("finish_reason", choice.FinishReason).
			Int("prompt_tokens", apiResp.Usage.PromptTokens).
			Int("completion_tokens", apiResp.Usage.CompletionTokens).
			Int("total_tokens", apiResp.Usage.TotalTokens).
			Str("response_preview", truncateString(text, 200)).
			Msg("OpenAI API success")

		return Response{Text: text}, nil
	}

	return Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}
