// Package engine drives incremental document construction: it drains the
// chunk sequence one chunk at a time, and within each chunk runs a
// propose/execute/observe loop against an injected decision-maker. The
// engine owns the document for the run's lifetime; every accepted patch
// batch replaces it atomically, so cancellation or a forced chunk
// completion always leaves the last validated state intact.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/textjson/internal/patch"
	"github.com/dgallion1/textjson/internal/schema"
	"github.com/dgallion1/textjson/internal/truncate"
)

// Config carries the per-run policy knobs.
type Config struct {
	// MaxIterations caps decision-maker turns per chunk; hitting it forces
	// chunk completion with whatever guidance exists.
	MaxIterations int
	// TrimRetries bounds how many times an empty or failed turn is retried
	// after dropping old rounds.
	TrimRetries int
	// KeepLastRounds is how many recent rounds survive a context trim.
	KeepLastRounds int
	// ReadValueLimit bounds read_value result size in characters.
	ReadValueLimit int
	// OnChunkDone, when set, is called after each chunk completes.
	OnChunkDone func(index, iterations int)
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		MaxIterations:  50,
		TrimRetries:    2,
		KeepLastRounds: 2,
		ReadValueLimit: 6000,
	}
}

// Result is the output of a full run.
type Result struct {
	Document   any       `json:"document"`
	Chunks     int       `json:"chunks"`
	Iterations int       `json:"iterations"`
	Usage      Usage     `json:"usage"`
	Guidance   *Guidance `json:"guidance,omitempty"`
}

// Engine sequences chunks and iterations.
type Engine struct {
	dm        DecisionMaker
	prompter  Prompter
	validator *patch.Validator
	trunc     *truncate.Truncator
	cfg       Config
	log       *slog.Logger
}

// New builds an Engine. A nil validator or truncator gets defaults; a nil
// logger uses slog.Default.
func New(dm DecisionMaker, prompter Prompter, validator *patch.Validator, trunc *truncate.Truncator, cfg Config, log *slog.Logger) *Engine {
	d := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = d.MaxIterations
	}
	if cfg.TrimRetries < 0 {
		cfg.TrimRetries = d.TrimRetries
	}
	if cfg.KeepLastRounds <= 0 {
		cfg.KeepLastRounds = d.KeepLastRounds
	}
	if cfg.ReadValueLimit <= 0 {
		cfg.ReadValueLimit = d.ReadValueLimit
	}
	if validator == nil {
		validator = patch.NewValidator(patch.DefaultConfig())
	}
	if trunc == nil {
		trunc = truncate.New(truncate.DefaultConfig())
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		dm:        dm,
		prompter:  prompter,
		validator: validator,
		trunc:     trunc,
		cfg:       cfg,
		log:       log,
	}
}

// Run processes all chunks in order and returns the accumulated document.
// schemaRoot may be nil (structural guards only). Errors are either
// cancellation or internal invariant violations; decision-maker failures
// and rejected batches are recovered within the loop.
func (e *Engine) Run(ctx context.Context, chunks []string, schemaRoot any) (*Result, error) {
	var inlined any
	if schemaRoot != nil {
		inlined = schema.Inline(schemaRoot)
	}

	res := &Result{Document: map[string]any{}, Chunks: len(chunks)}
	var guidance *Guidance

	for i, chunkText := range chunks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log := e.log.With("chunk", i+1, "total_chunks", len(chunks))
		log.Info("chunk start")

		doc, g, iters, usage, err := e.runChunk(ctx, chunkText, i, len(chunks), res.Document, inlined, guidance, log)
		res.Document = doc
		res.Iterations += iters
		res.Usage.Add(usage)
		if err != nil {
			return res, err
		}
		guidance = g
		if e.cfg.OnChunkDone != nil {
			e.cfg.OnChunkDone(i, iters)
		}
		log.Info("chunk done", "iterations", iters)
	}

	res.Guidance = guidance
	return res, nil
}

// runChunk is the ChunkActive loop for one chunk. It always returns the
// latest document; a non-nil error is cancellation or a fatal internal
// failure, never a recoverable rejection.
func (e *Engine) runChunk(
	ctx context.Context,
	chunkText string,
	index, total int,
	doc any,
	schemaRoot any,
	prev *Guidance,
	log *slog.Logger,
) (any, *Guidance, int, Usage, error) {
	conv := &Conversation{
		System: e.prompter.System(schemaRoot, prev, doc),
		User:   e.prompter.User(chunkText, index, total),
	}

	guidance := prev
	var usage Usage
	iters := 0
	trims := 0

	for iters < e.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return doc, guidance, iters, usage, err
		}
		iters++

		prop, err := e.dm.Propose(ctx, conv)
		if prop != nil {
			usage.Add(prop.Usage)
		}
		if err != nil || prop == nil || len(prop.Calls) == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return doc, guidance, iters, usage, cerr
			}
			if err != nil {
				log.Warn("decision-maker turn failed", "error", err)
			}
			if trims >= e.cfg.TrimRetries || !trimRounds(conv, e.cfg.KeepLastRounds) {
				log.Warn("no actionable proposal, forcing chunk completion", "iteration", iters)
				return doc, guidance, iters, usage, nil
			}
			trims++
			log.Info("trimmed conversation, retrying", "kept_rounds", e.cfg.KeepLastRounds)
			continue
		}

		round := Round{Proposal: prop}
		finalized := false
		for i := range prop.Calls {
			result, newDoc, g, done, fatal := e.dispatch(&prop.Calls[i], doc, schemaRoot)
			if fatal != nil {
				return doc, guidance, iters, usage, fatal
			}
			doc = newDoc
			if done {
				finalized = true
				guidance = g
			}
			round.Results = append(round.Results, result)
		}
		conv.Rounds = append(conv.Rounds, round)

		if finalized {
			return doc, guidance, iters, usage, nil
		}
	}

	log.Warn("iteration cap reached, forcing chunk completion", "cap", e.cfg.MaxIterations)
	return doc, guidance, iters, usage, nil
}

const trimNotice = "[CONTEXT TRIMMED: %d previous iteration(s) removed to free " +
	"context space. All successful patches are already applied to the " +
	"document. Use inspect_keys to check the current document state before " +
	"continuing extraction.]"

// trimRounds drops the oldest rounds, keeping the last keep of them, and
// records a notice for the decision-maker. Returns false when there is
// nothing left to trim.
func trimRounds(conv *Conversation, keep int) bool {
	if len(conv.Rounds) <= keep {
		return false
	}
	removed := len(conv.Rounds) - keep
	conv.Rounds = append([]Round(nil), conv.Rounds[removed:]...)
	conv.TrimNotice = fmt.Sprintf(trimNotice, removed)
	return true
}
