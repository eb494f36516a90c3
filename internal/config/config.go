// Package config loads service configuration from the environment.
// Policy knobs default to the stock engine behavior and are individually
// overridable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Auth for this service's own API. Empty disables auth (local dev).
	APIKey string

	// Model provider
	LLMProvider     string // "openai" or "anthropic"
	LLMModel        string // empty picks the provider default
	OpenAIAPIKey    string
	AnthropicAPIKey string
	LLMMaxTokens    int
	LLMTemperature  float64
	LLMTimeout      time.Duration

	// Engine policy
	MaxIterations  int
	TrimRetries    int
	KeepLastRounds int
	ReadValueLimit int
	GuidanceLimit  int
	SkeletonLimit  int

	// Patch guards
	ShrinkageRatio       float64
	ShrinkageLeafFloor   int
	RemoveGuardMaxDepth  int
	RemoveGuardLeafFloor int
	ReplaceLossRatio     float64
	ReplaceLossLeafFloor int

	// Chunking
	EmbeddingModel       string
	SemanticChunking     bool
	BreakpointPercentile float64
	MinChunkSize         int
	FallbackChunkSize    int
	FallbackOverlap      int

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// Optional delivery of completed documents
	SinkURL   string
	SinkToken string

	// PDF
	PDFFallbackPdftotext bool
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("TEXTJSON_API_KEY"),

		LLMProvider:     envOr("LLM_PROVIDER", "openai"),
		LLMModel:        os.Getenv("LLM_MODEL"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		LLMMaxTokens:    envInt("LLM_MAX_TOKENS", 8192),
		LLMTemperature:  envFloat("LLM_TEMPERATURE", 0),
		LLMTimeout:      envDuration("LLM_TIMEOUT", 2*time.Minute),

		MaxIterations:  envInt("MAX_ITERATIONS_PER_CHUNK", 50),
		TrimRetries:    envInt("TRIM_RETRIES", 2),
		KeepLastRounds: envInt("KEEP_LAST_ROUNDS", 2),
		ReadValueLimit: envInt("READ_VALUE_LIMIT", 6000),
		GuidanceLimit:  envInt("GUIDANCE_LIMIT", 6000),
		SkeletonLimit:  envInt("SKELETON_LIMIT", 6000),

		ShrinkageRatio:       envFloat("SHRINKAGE_RATIO", 0.5),
		ShrinkageLeafFloor:   envInt("SHRINKAGE_LEAF_FLOOR", 10),
		RemoveGuardMaxDepth:  envInt("REMOVE_GUARD_MAX_DEPTH", 3),
		RemoveGuardLeafFloor: envInt("REMOVE_GUARD_LEAF_FLOOR", 2),
		ReplaceLossRatio:     envFloat("REPLACE_LOSS_RATIO", 0.5),
		ReplaceLossLeafFloor: envInt("REPLACE_LOSS_LEAF_FLOOR", 5),

		EmbeddingModel:       envOr("EMBEDDING_MODEL", "text-embedding-3-small"),
		SemanticChunking:     envBool("SEMANTIC_CHUNKING", true),
		BreakpointPercentile: envFloat("BREAKPOINT_PERCENTILE", 95),
		MinChunkSize:         envInt("MIN_CHUNK_SIZE", 500),
		FallbackChunkSize:    envInt("FALLBACK_CHUNK_SIZE", 8000),
		FallbackOverlap:      envInt("FALLBACK_CHUNK_OVERLAP", 400),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		SinkURL:   os.Getenv("SINK_URL"),
		SinkToken: os.Getenv("SINK_TOKEN"),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}

	return cfg
}

// ProviderAPIKey returns the key matching the configured provider.
func (c Config) ProviderAPIKey() string {
	if c.LLMProvider == "anthropic" {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

func (c Config) Validate() error {
	switch c.LLMProvider {
	case "", "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.SinkURL == "" && c.SinkToken != "" {
		return fmt.Errorf("SINK_TOKEN is set but SINK_URL is empty")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
