package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultAnthropicModel   = "claude-3-5-haiku-latest"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicTransport struct {
	apiKey string
}

// NewAnthropic returns a Provider backed by the Anthropic Messages API.
func NewAnthropic(cfg ClientConfig) (Provider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("anthropic API key required")
	}
	cfg.applyDefaults(defaultAnthropicModel, defaultAnthropicBaseURL)
	return newClient(cfg, anthropicTransport{apiKey: cfg.APIKey.Value()}), nil
}

func (anthropicTransport) name() string     { return "anthropic" }
func (anthropicTransport) endpoint() string { return "/v1/messages" }

func (a anthropicTransport) headers(h http.Header) {
	h.Set("X-API-Key", a.apiKey)
	h.Set("Anthropic-Version", anthropicVersion)
}

func (anthropicTransport) encode(model string, msgs []Turn, opts Options) any {
	req := anthropicRequest{
		Model:       model,
		MaxTokens:   opts.MaxTokens,
		System:      joinSystem(opts.System, schemaInstruction(opts.ResponseSchema)),
		Temperature: opts.Temperature,
		Messages:    make([]anthropicMessage, len(msgs)),
	}
	for i, m := range msgs {
		req.Messages[i] = anthropicMessage{Role: string(m.Role), Content: m.Content}
	}
	return req
}

func (anthropicTransport) decode(body []byte) (*Response, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if b.Len() == 0 {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:         b.String(),
		TokensUsed:   resp.Usage.InputTokens + resp.Usage.OutputTokens,
		FinishReason: resp.StopReason,
	}, nil
}

func (anthropicTransport) decodeError(body []byte) string {
	var e anthropicError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return truncate(string(body), 256)
}
