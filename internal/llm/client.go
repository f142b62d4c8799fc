package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/docpipe/internal/config"
	"github.com/fyrsmithlabs/docpipe/internal/logging"
	"github.com/fyrsmithlabs/docpipe/internal/secrets"
)

var tracer = otel.Tracer("docpipe.llm")

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = time.Second
	defaultRatePerMin  = 50
	defaultBurst       = 5
	defaultMaxTokens   = 4096
	maxResponseBytes   = 4 << 20
)

// ClientConfig configures an HTTP-backed provider.
type ClientConfig struct {
	Model       string
	BaseURL     string
	APIKey      config.Secret
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	RatePerMin  float64
	Burst       int

	// Scrubber, when set, redacts secrets from every prompt, history turn
	// and system message before the request leaves the process.
	Scrubber *secrets.Scrubber
	Logger   *logging.Logger
	HTTP     *http.Client
}

func (c *ClientConfig) applyDefaults(defaultModel, defaultBaseURL string) {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.RatePerMin <= 0 {
		c.RatePerMin = defaultRatePerMin
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: c.Timeout}
	}
}

// transport is the per-vendor half of a client.
type transport interface {
	name() string
	endpoint() string
	headers(h http.Header)
	encode(model string, msgs []Turn, opts Options) any
	decode(body []byte) (*Response, error)
	decodeError(body []byte) string
}

// client holds everything the vendors share: rate limiting, retries,
// scrubbing, tracing.
type client struct {
	cfg     ClientConfig
	limiter *rate.Limiter
	t       transport
}

func newClient(cfg ClientConfig, t transport) *client {
	return &client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerMin/60), cfg.Burst),
		t:       t,
	}
}

func (c *client) Generate(ctx context.Context, prompt string, opts Options) (*Response, error) {
	return c.GenerateWithHistory(ctx, prompt, nil, opts)
}

func (c *client) GenerateWithHistory(ctx context.Context, prompt string, history []Turn, opts Options) (*Response, error) {
	ctx, span := tracer.Start(ctx, c.t.name()+".Generate")
	defer span.End()

	if strings.TrimSpace(prompt) == "" {
		return nil, &Error{Provider: c.t.name(), Err: errors.New("prompt is empty")}
	}

	msgs := make([]Turn, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, Turn{Role: RoleUser, Content: prompt})
	opts.System = c.scrub(ctx, opts.System)
	for i := range msgs {
		msgs[i].Content = c.scrub(ctx, msgs[i].Content)
	}

	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.history_turns", len(history)),
	)

	body, err := json.Marshal(c.t.encode(model, msgs, opts))
	if err != nil {
		return nil, &Error{Provider: c.t.name(), Err: fmt.Errorf("marshaling request: %w", err)}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
			c.cfg.Logger.Debug(ctx, "retrying generation",
				zap.String("provider", c.t.name()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &Error{Provider: c.t.name(), Err: ctx.Err()}
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Provider: c.t.name(), Err: fmt.Errorf("rate limiter: %w", err)}
		}

		resp, err := c.do(ctx, body)
		if err == nil {
			span.SetAttributes(attribute.Int("llm.tokens_used", resp.TokensUsed))
			span.SetStatus(codes.Ok, "success")
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

func (c *client) scrub(ctx context.Context, text string) string {
	if c.cfg.Scrubber == nil || text == "" {
		return text
	}
	res := c.cfg.Scrubber.Scrub(text)
	if res.Redacted() {
		c.cfg.Logger.Info(ctx, "redacted secrets from prompt",
			zap.String("provider", c.t.name()),
			zap.Strings("rules", res.RuleIDs()),
		)
	}
	return res.Text
}

func (c *client) do(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.t.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Provider: c.t.name(), Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	c.t.headers(req.Header)

	resp, err := c.cfg.HTTP.Do(req)
	if err != nil {
		// Cancellation is the caller's decision, not a transient fault.
		retry := ctx.Err() == nil
		return nil, &Error{Provider: c.t.name(), Retryable: retry, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Provider: c.t.name(), Retryable: true, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Provider:   c.t.name(),
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:        errors.New(c.t.decodeError(data)),
		}
	}

	out, err := c.t.decode(data)
	if err != nil {
		return nil, &Error{Provider: c.t.name(), Err: err}
	}
	return out, nil
}

// schemaInstruction renders a response schema as a system prompt suffix.
func schemaInstruction(schema map[string]any) string {
	if len(schema) == 0 {
		return ""
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return "Respond only with JSON matching this schema:\n" + string(b)
}

func joinSystem(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
