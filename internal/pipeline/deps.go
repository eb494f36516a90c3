package pipeline

import (
	"log/slog"

	"github.com/dgallion1/textjson/internal/chunker"
	"github.com/dgallion1/textjson/internal/config"
	"github.com/dgallion1/textjson/internal/engine"
	"github.com/dgallion1/textjson/internal/llm"
	"github.com/dgallion1/textjson/internal/patch"
	"github.com/dgallion1/textjson/internal/sink"
	"github.com/dgallion1/textjson/internal/truncate"
)

// BuildDeps wires the worker collaborators from configuration. stats may
// be nil to skip latency/usage recording.
func BuildDeps(cfg config.Config, stats *llm.Stats, log *slog.Logger) (Deps, error) {
	dm, err := llm.NewDecisionMaker(llm.Config{
		Provider:    cfg.LLMProvider,
		Model:       cfg.LLMModel,
		APIKey:      cfg.ProviderAPIKey(),
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
	}, stats)
	if err != nil {
		return Deps{}, err
	}

	trunc := truncate.New(truncate.DefaultConfig())
	prompter := llm.NewPromptBuilder(trunc, cfg.GuidanceLimit, cfg.SkeletonLimit)

	validator := patch.NewValidator(patch.Config{
		ShrinkageRatio:       cfg.ShrinkageRatio,
		ShrinkageLeafFloor:   cfg.ShrinkageLeafFloor,
		RemoveGuardMaxDepth:  cfg.RemoveGuardMaxDepth,
		RemoveGuardLeafFloor: cfg.RemoveGuardLeafFloor,
		ReplaceLossRatio:     cfg.ReplaceLossRatio,
		ReplaceLossLeafFloor: cfg.ReplaceLossLeafFloor,
	})

	// Semantic chunking rides on OpenAI embeddings regardless of the
	// chat provider; without a key the chunker falls back to recursive
	// splitting.
	var embedder chunker.Embedder
	if cfg.SemanticChunking && cfg.OpenAIAPIKey != "" {
		ec, err := llm.NewEmbeddingClient(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return Deps{}, err
		}
		embedder = ec
	}
	ch := chunker.New(embedder, chunker.Config{
		BreakpointPercentile: cfg.BreakpointPercentile,
		MinChunkSize:         cfg.MinChunkSize,
		FallbackChunkSize:    cfg.FallbackChunkSize,
		FallbackOverlap:      cfg.FallbackOverlap,
	}, log)

	var sc *sink.Client
	if cfg.SinkURL != "" {
		sc = sink.NewClient(cfg.SinkURL, cfg.SinkToken)
	}

	return Deps{
		DM:        dm,
		Prompter:  prompter,
		Validator: validator,
		Trunc:     trunc,
		EngineConfig: engine.Config{
			MaxIterations:  cfg.MaxIterations,
			TrimRetries:    cfg.TrimRetries,
			KeepLastRounds: cfg.KeepLastRounds,
			ReadValueLimit: cfg.ReadValueLimit,
		},
		Chunker: ch,
		Sink:    sc,
	}, nil
}

// EffectiveModel names the chat model a configuration resolves to.
func EffectiveModel(cfg config.Config) string {
	if cfg.LLMModel != "" {
		return cfg.LLMModel
	}
	if cfg.LLMProvider == "anthropic" {
		return llm.DefaultAnthropicModel
	}
	return llm.DefaultOpenAIModel
}
