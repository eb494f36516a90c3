// Package chunker splits raw input text into ordered chunks for
// incremental document construction. The primary strategy groups
// topically coherent sentences using embedding dissimilarity; any
// failure there (embedding errors, degenerate input) falls back to
// deterministic recursive character splitting so a run always has
// chunks to process. Chunks never drop text: their concatenation,
// minus overlap, covers the whole input.
package chunker

import (
	"context"
	"log/slog"
	"strings"
)

// Chunk is one immutable span of the input, consumed exactly once.
type Chunk struct {
	Index  int
	Text   string
	Tokens int // rough estimate, for budgeting and logs
}

// Embedder turns texts into embedding vectors. The zero-th axis of the
// result matches the input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Config controls both strategies.
type Config struct {
	// Percentile of consecutive-sentence dissimilarities above which a
	// chunk boundary is cut.
	BreakpointPercentile float64
	// MinChunkSize merges semantic chunks smaller than this many
	// characters into a neighbor.
	MinChunkSize int
	// FallbackChunkSize and FallbackOverlap drive the recursive
	// character splitter.
	FallbackChunkSize int
	FallbackOverlap   int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		BreakpointPercentile: 95,
		MinChunkSize:         500,
		FallbackChunkSize:    8000,
		FallbackOverlap:      400,
	}
}

// Chunker splits text. A nil embedder disables the semantic strategy.
type Chunker struct {
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
}

func New(embedder Embedder, cfg Config, logger *slog.Logger) *Chunker {
	d := DefaultConfig()
	if cfg.BreakpointPercentile <= 0 || cfg.BreakpointPercentile > 100 {
		cfg.BreakpointPercentile = d.BreakpointPercentile
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = d.MinChunkSize
	}
	if cfg.FallbackChunkSize <= 0 {
		cfg.FallbackChunkSize = d.FallbackChunkSize
	}
	if cfg.FallbackOverlap < 0 || cfg.FallbackOverlap >= cfg.FallbackChunkSize {
		cfg.FallbackOverlap = d.FallbackOverlap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{embedder: embedder, cfg: cfg, logger: logger}
}

// Chunk splits text into ordered chunks. Semantic chunking failures are
// recovered internally via the fallback splitter and never surface.
func (c *Chunker) Chunk(ctx context.Context, text string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var spans []string
	if c.embedder != nil {
		var err error
		spans, err = c.semantic(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("semantic chunking failed, using recursive fallback",
				"error", err)
			spans = nil
		}
	}
	if spans == nil {
		spans = recursiveSplit(text, fallbackSeparators, c.cfg.FallbackChunkSize, c.cfg.FallbackOverlap)
	}

	chunks := make([]Chunk, 0, len(spans))
	for _, span := range spans {
		if strings.TrimSpace(span) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Text:   span,
			Tokens: EstimateTokens(span),
		})
	}
	return chunks, nil
}

// EstimateTokens approximates the token count of text. Word count
// scaled by 1.33 tracks English tokenizers closely enough for chunk
// sizing and logs; exact counts are never needed here.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(float64(words) * 1.33)
}
