package engine

import (
	"context"
	"encoding/json"
)

// ToolCall is one operation requested by the decision-maker.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResult is the engine's answer to one ToolCall. Content is a JSON
// document the decision-maker reads on the next turn.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Usage aggregates token counters reported by the decision-maker.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
	Calls        int   `json:"llm_calls"`
}

func (u *Usage) Add(v Usage) {
	u.InputTokens += v.InputTokens
	u.OutputTokens += v.OutputTokens
	u.TotalTokens += v.TotalTokens
	u.Calls += v.Calls
}

// Proposal is one decision-maker turn: zero or more tool calls plus the
// usage it cost. No calls means the decision-maker has nothing actionable,
// typically because its input context is exhausted.
type Proposal struct {
	Text  string
	Calls []ToolCall
	Usage Usage
}

// Round pairs a proposal with the results the engine produced for it.
type Round struct {
	Proposal *Proposal
	Results  []ToolResult
}

// Conversation is the provider-neutral turn history for one chunk. The
// system and user messages are fixed at chunk start; rounds accumulate
// per iteration. TrimNotice, when set, is presented after the user
// message so the decision-maker knows older rounds were dropped.
type Conversation struct {
	System     string
	User       string
	TrimNotice string
	Rounds     []Round
}

// DecisionMaker proposes operations given the current conversation. It is
// the engine's single external suspension point and must honor ctx.
type DecisionMaker interface {
	Propose(ctx context.Context, conv *Conversation) (*Proposal, error)
}

// Prompter renders the chunk-start messages. Implementations live with
// the provider clients; tests supply trivial ones.
type Prompter interface {
	System(schemaRoot any, guidance *Guidance, document any) string
	User(chunkText string, index, total int) string
}

// Guidance is the continuity record bridging chunks: the only state the
// next chunk sees besides the document skeleton. It is replaced whole at
// each finalize, never merged.
type Guidance struct {
	LastPath               string `json:"last_path,omitempty"`
	SectionsSnapshot       string `json:"sections_snapshot,omitempty"`
	ItemsAdded             string `json:"items_added,omitempty"`
	OpenSection            string `json:"open_section,omitempty"`
	TextExcerpt            string `json:"text_excerpt,omitempty"`
	NextExpectations       string `json:"next_expectations,omitempty"`
	PendingData            string `json:"pending_data,omitempty"`
	ExtractedEntitiesCount int    `json:"extracted_entities_count,omitempty"`
}
