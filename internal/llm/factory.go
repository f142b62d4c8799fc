package llm

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/docpipe/internal/config"
	"github.com/fyrsmithlabs/docpipe/internal/logging"
	"github.com/fyrsmithlabs/docpipe/internal/secrets"
)

// New builds the provider selected in cfg. When cfg.ScrubPrompt is set the
// client redacts prompts with the default secret rules.
func New(cfg config.LLMConfig, logger *logging.Logger) (Provider, error) {
	cc := ClientConfig{
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.Timeout.Duration(),
		MaxRetries: cfg.MaxRetries,
		RatePerMin: cfg.RatePerMin,
		Burst:      cfg.Burst,
		Logger:     logger,
	}
	if cc.Timeout == 0 {
		cc.Timeout = 60 * time.Second
	}
	if cfg.ScrubPrompt {
		cc.Scrubber = secrets.Default()
	}

	switch cfg.Provider {
	case "anthropic", "":
		return NewAnthropic(cc)
	case "openai":
		return NewOpenAI(cc)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (supported: anthropic, openai)", cfg.Provider)
	}
}
