// Package llm implements the decision-maker against real model providers:
// OpenAI and Anthropic chat backends speaking the engine's neutral tool
// protocol, plus the OpenAI embeddings client used for semantic chunking.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dgallion1/textjson/internal/engine"
)

// Config selects and tunes a provider.
type Config struct {
	Provider    string // "openai" (default) or "anthropic"
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // per Propose call
}

// DefaultOpenAIModel matches the stock chat model.
const DefaultOpenAIModel = "gpt-4o-mini"

// DefaultAnthropicModel is used when an Anthropic run names no model.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// NewDecisionMaker builds a provider-backed decision-maker wrapped with
// per-call timeout, retry on transient failures, and stats recording.
// stats may be nil.
func NewDecisionMaker(cfg Config, stats *Stats) (engine.DecisionMaker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: no API key configured for provider %q", cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}

	var dm engine.DecisionMaker
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		if cfg.Model == "" {
			cfg.Model = DefaultOpenAIModel
		}
		dm = newOpenAIDecisionMaker(cfg)
	case "anthropic":
		if cfg.Model == "" {
			cfg.Model = DefaultAnthropicModel
		}
		dm = newAnthropicDecisionMaker(cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}

	return &reliableDM{dm: dm, stats: stats, timeout: cfg.Timeout}, nil
}

// RetryableError indicates a transient provider failure worth retrying.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, clip(e.Message, 200))
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

const MaxRetries = 3

// reliableDM adds the per-call timeout, retry loop, and stats recording
// around a raw provider.
type reliableDM struct {
	dm      engine.DecisionMaker
	stats   *Stats
	timeout time.Duration
}

func (r *reliableDM) Propose(ctx context.Context, conv *engine.Conversation) (*engine.Proposal, error) {
	var lastErr error
	for attempt := range MaxRetries {
		callCtx := ctx
		cancel := context.CancelFunc(nil)
		if r.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		start := time.Now()
		prop, err := r.dm.Propose(callCtx, conv)
		if cancel != nil {
			cancel()
		}
		if r.stats != nil {
			var usage engine.Usage
			if prop != nil {
				usage = prop.Usage
			}
			r.stats.Record(time.Since(start).Milliseconds(), usage)
		}
		if err == nil {
			return prop, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt == MaxRetries-1 {
			break
		}
		select {
		case <-time.After(Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
