package logging

import (
	"fmt"
	"regexp"
	"time"

	"github.com/fyrsmithlabs/docpipe/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level           zapcore.Level     `koanf:"level"`
	Format          string            `koanf:"format"`
	Output          OutputConfig      `koanf:"output"`
	Sampling        SamplingConfig    `koanf:"sampling"`
	Caller          bool              `koanf:"caller"`
	StacktraceLevel zapcore.Level     `koanf:"stacktrace_level"`
	Fields          map[string]string `koanf:"fields"`
	Redaction       RedactionConfig   `koanf:"redaction"`
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	// Stream is "stderr" or "stdout". The CLI keeps stdout for results.
	Stream string `koanf:"stream"`
	OTEL   bool   `koanf:"otel"`
}

// SamplingConfig controls log volume reduction below Error.
type SamplingConfig struct {
	Enabled    bool            `koanf:"enabled"`
	Tick       config.Duration `koanf:"tick"`
	Initial    int             `koanf:"initial"`
	Thereafter int             `koanf:"thereafter"`
}

// RedactionConfig controls sensitive data redaction.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Stream: "stderr"},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller:          true,
		StacktraceLevel: zapcore.ErrorLevel,
		Fields: map[string]string{
			"service": "docpipe",
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`sk-(ant-)?[A-Za-z0-9_-]{16,}`,
			},
		},
	}
}

// FromAppConfig builds a logging config from the application config's
// level and format knobs, leaving everything else at defaults.
func FromAppConfig(lc config.LoggingConfig, instance string) (*Config, error) {
	cfg := NewDefaultConfig()
	if lc.Level != "" {
		lvl, err := LevelFromString(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
		}
		cfg.Level = lvl
	}
	if lc.Format != "" {
		cfg.Format = lc.Format
	}
	if instance != "" {
		cfg.Fields["instance"] = instance
	}
	return cfg, cfg.Validate()
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	switch c.Output.Stream {
	case "stdout", "stderr", "":
	default:
		return fmt.Errorf("output stream must be 'stdout' or 'stderr', got %q", c.Output.Stream)
	}
	if c.Output.Stream == "" && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stream or otel)")
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}

	if c.Redaction.Enabled {
		for _, pattern := range c.Redaction.Patterns {
			if len(pattern) > maxPatternLen {
				return fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, pattern)
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
			}
		}
	}

	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}

	return nil
}
