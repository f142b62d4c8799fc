package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAIBaseURL = "https://api.openai.com"
)

type openAIRequest struct {
	Model          string          `json:"model"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	Messages       []openAIMessage `json:"messages"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type openAITransport struct {
	apiKey string
}

// NewOpenAI returns a Provider backed by the OpenAI chat completions API.
// Response schemas are enforced natively through response_format.
func NewOpenAI(cfg ClientConfig) (Provider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("openai API key required")
	}
	cfg.applyDefaults(defaultOpenAIModel, defaultOpenAIBaseURL)
	return newClient(cfg, openAITransport{apiKey: cfg.APIKey.Value()}), nil
}

func (openAITransport) name() string     { return "openai" }
func (openAITransport) endpoint() string { return "/v1/chat/completions" }

func (o openAITransport) headers(h http.Header) {
	h.Set("Authorization", "Bearer "+o.apiKey)
}

func (openAITransport) encode(model string, msgs []Turn, opts Options) any {
	req := openAIRequest{
		Model:       model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.System != "" {
		req.Messages = append(req.Messages, openAIMessage{Role: "system", Content: opts.System})
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	if len(opts.ResponseSchema) > 0 {
		req.ResponseFormat = &openAIFormat{
			Type:       "json_schema",
			JSONSchema: &openAIJSONSchema{Name: "response", Schema: opts.ResponseSchema},
		}
	}
	return req
}

func (openAITransport) decode(body []byte) (*Response, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:         resp.Choices[0].Message.Content,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}

func (openAITransport) decodeError(body []byte) string {
	var e openAIError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return truncate(string(body), 256)
}
