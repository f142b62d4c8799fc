// Package config provides configuration loading for docpipe.
//
// Configuration is read from a YAML file and overridden by DOCPIPE_*
// environment variables. Defaults are applied after both sources.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete docpipe configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	LLM         LLMConfig         `koanf:"llm"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Domain      DomainConfig      `koanf:"domain"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects the log level and encoding. The logging package
// owns the full logger configuration; these are the operator-facing knobs.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"`
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

// LLMConfig configures the generation provider.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider    string   `koanf:"provider"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	Timeout     Duration `koanf:"timeout"`
	MaxRetries  int      `koanf:"max_retries"`
	RatePerMin  float64  `koanf:"rate_per_min"`
	Burst       int      `koanf:"burst"`
	ScrubPrompt bool     `koanf:"scrub_prompt"`
}

// EmbeddingsConfig configures the TEI embedding endpoint.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

// VectorStoreConfig selects the document index backing retrieval.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded) or "qdrant".
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds embedded store settings.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds Qdrant gRPC settings.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	VectorSize int    `koanf:"vector_size"`
}

// RetrievalConfig holds defaults for the rag-enrich step.
type RetrievalConfig struct {
	TopK          int     `koanf:"top_k"`
	MinSimilarity float64 `koanf:"min_similarity"`
	DedupeLocales *bool   `koanf:"dedupe_locales"`
}

// PipelineConfig points at the step definition and run-wide knobs.
type PipelineConfig struct {
	DefinitionPath   string  `koanf:"definition_path"`
	Concurrency      int     `koanf:"concurrency"`
	CostPer1KTokens  float64 `koanf:"cost_per_1k_tokens"`
	ProposalsOutPath string  `koanf:"proposals_out_path"`
}

// DomainConfig describes the documentation target of one instance.
type DomainConfig struct {
	Name         string           `koanf:"name"`
	DocsBasePath string           `koanf:"docs_base_path"`
	RulesetPath  string           `koanf:"ruleset_path"`
	PathFilter   PathFilterConfig `koanf:"path_filter"`

	// SecretsPath names a gitleaks-style TOML file with extra secret
	// rules and allowlist patterns.
	SecretsPath string `koanf:"secrets_path"`
}

// PathFilterConfig lists include/exclude globs for retrieved documents.
type PathFilterConfig struct {
	Include []string `koanf:"include"`
	Exclude []string `koanf:"exclude"`
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - LLM provider is unknown
//   - Vector store provider is unknown
//   - Retrieval thresholds are out of range
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown llm provider %q (want anthropic or openai)", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm max_retries must be >= 0, got %d", c.LLM.MaxRetries)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vectorstore provider %q (want chromem or qdrant)", c.VectorStore.Provider)
	}

	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval top_k must be >= 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval min_similarity must be within [0,1], got %f", c.Retrieval.MinSimilarity)
	}

	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline concurrency must be >= 1, got %d", c.Pipeline.Concurrency)
	}
	if c.Pipeline.CostPer1KTokens < 0 {
		return errors.New("pipeline cost_per_1k_tokens cannot be negative")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint required when telemetry is enabled")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "docpipe"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RatePerMin == 0 {
		cfg.LLM.RatePerMin = 50
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 5
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}

	// chromem is embedded and needs no external service
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.local/share/docpipe/vectorstore"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.VectorSize == 0 {
		cfg.VectorStore.Qdrant.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MinSimilarity == 0 {
		cfg.Retrieval.MinSimilarity = 0.7
	}
	if cfg.Retrieval.DedupeLocales == nil {
		on := true
		cfg.Retrieval.DedupeLocales = &on
	}

	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = 4
	}

	if cfg.Domain.Name == "" {
		cfg.Domain.Name = "default"
	}
}
