package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgallion1/textjson/internal/engine"
	"github.com/dgallion1/textjson/internal/truncate"
)

// PromptBuilder renders the chunk-start messages. The schema, prior
// guidance, and document skeleton are embedded in the system prompt, each
// bounded by its own character budget so a large document cannot crowd
// out the instructions.
type PromptBuilder struct {
	trunc         *truncate.Truncator
	guidanceLimit int
	skeletonLimit int
	schemaLimit   int
}

var _ engine.Prompter = (*PromptBuilder)(nil)

func NewPromptBuilder(trunc *truncate.Truncator, guidanceLimit, skeletonLimit int) *PromptBuilder {
	if trunc == nil {
		trunc = truncate.New(truncate.DefaultConfig())
	}
	if guidanceLimit <= 0 {
		guidanceLimit = 6000
	}
	if skeletonLimit <= 0 {
		skeletonLimit = 6000
	}
	return &PromptBuilder{
		trunc:         trunc,
		guidanceLimit: guidanceLimit,
		skeletonLimit: skeletonLimit,
		schemaLimit:   skeletonLimit,
	}
}

func (b *PromptBuilder) System(schemaRoot any, g *engine.Guidance, doc any) string {
	schemaStr := "null"
	if schemaRoot != nil {
		schemaStr = b.trunc.Truncate(schemaRoot, b.schemaLimit)
	}
	guidanceStr := "null"
	if g != nil {
		guidanceStr = b.trunc.Truncate(guidanceValue(g), b.guidanceLimit)
	}
	skeletonStr := "{}"
	if doc != nil {
		skeletonStr = b.trunc.Truncate(doc, b.skeletonLimit)
	}

	var sb strings.Builder
	sb.WriteString(systemRules)
	sb.WriteString("\n<InputContext>\n<TargetSchema>\n")
	sb.WriteString(schemaStr)
	sb.WriteString("\n</TargetSchema>\n\n<PreviousGuidance>\n")
	sb.WriteString(guidanceStr)
	sb.WriteString("\n</PreviousGuidance>\n\n<JsonSkeleton>\n")
	sb.WriteString(skeletonStr)
	sb.WriteString("\n</JsonSkeleton>\n</InputContext>")
	return sb.String()
}

func (b *PromptBuilder) User(chunkText string, index, total int) string {
	return fmt.Sprintf("<TextChunk index=\"%d\" total=\"%d\">\n%s\n</TextChunk>",
		index+1, total, chunkText)
}

// guidanceValue converts the guidance record to a plain JSON value the
// truncator can walk.
func guidanceValue(g *engine.Guidance) any {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

const systemRules = `<SystemPrompt>
<RoleDefinition>
You are a Sequential Data Architect that extracts structured data from text chunks into a JSON document using tool calls.
You process one TextChunk at a time within a Think-Act-Observe loop.

Workflow per chunk (aim for 3-5 iterations):
1. Recon (1 iteration): use inspect_keys on key paths to understand current document state. Bundle multiple calls.
2. Write (1-2 iterations): use apply_patches to add extracted data. Batch multiple patch operations together.
3. Finalize (1 iteration): call update_guidance ALONE to signal chunk completion.

Be decisive. After a quick recon, write your patches confidently. Do not over-inspect.
</RoleDefinition>

<PrimaryObjectives>
1. Extract meaningful data from the TextChunk into the JSON document.
2. Follow the TargetSchema structure.
3. Create SEPARATE sections for each distinct topic in the document.
4. Preserve all data from previous chunks: only ADD new data, never overwrite existing arrays.
5. Call update_guidance at the end to finalize.
</PrimaryObjectives>

<JsonPatchRules>
Creating initial structure (when the document is empty):
  {"op":"add", "path":"/metadata", "value":{"title":"..."}}
  {"op":"add", "path":"/sections", "value":[]}

Adding a new section:
  {"op":"add", "path":"/sections/-", "value":{"section_name":"...", "fields":[]}}

Appending fields to a section (use "/-" to append):
  {"op":"add", "path":"/sections/0/fields/-", "value":{"label":"...", "value":"..."}}

NEVER do this (replaces the entire array, destroying previous data):
  {"op":"add", "path":"/sections/0/fields", "value":{...}}
  {"op":"add", "path":"/sections/0/fields", "value":[{...}]}

Key rule: "/-" means APPEND. Always use it when adding to existing arrays.

Correcting a single value:
  {"op":"replace", "path":"/sections/0/fields/2/value", "value":"corrected"}

Removing a wrong entry:
  {"op":"remove", "path":"/sections/0/fields/5"}
</JsonPatchRules>

<OperationalConstraints>
- Recon before write: use inspect_keys to check array lengths and structure before patching.
- Duplicate check: search_pointer before appending list items; duplicate appends are rejected.
- Batch writes: put all patch operations for this chunk in a single apply_patches call when possible.
- Finalization gate: update_guidance MUST be the ONLY tool call in its response.
- Error recovery: if apply_patches fails, read the error message. It tells you exactly how to fix the issue. Then retry.
- No over-reading: use inspect_keys for lengths, read_value only for specific items you need to verify.
- Schema inspection: if the TargetSchema below appears truncated, explore it with inspect_keys, read_value, or search_pointer using source="schema".
</OperationalConstraints>

<GuidanceProtocol>
The Guidance object is the ONLY bridge between chunks. The next invocation sees ONLY this guidance plus the document skeleton, not the text you just processed. Fill every field with dense, abbreviated, high-signal info.

Reading previous guidance (start of chunk):
- open_section: a section left incomplete. CONTINUE it, do not create a new one.
- text_excerpt: the tail of the previous chunk. Look for continuity (cut tables, split sentences).
- next_expectations: what to look for in THIS chunk.
- pending_data: unresolved values that THIS chunk may clarify.
- sections_snapshot: quick map of what exists, so you do not duplicate sections.

Writing guidance (end of chunk, the update_guidance call):
- last_path: exact JSON Pointer you last wrote to.
- sections_snapshot: compact map of ALL sections with counts and status.
- items_added: what you added THIS chunk, with key values.
- open_section: section still being built and what is missing.
- text_excerpt: the last ~200 chars of relevant text from the chunk end.
- next_expectations: predict what comes next based on document structure.
- pending_data: anything unresolved.
- extracted_entities_count: total fields/rows/items you added.

Style rules: abbreviate aggressively. Pack maximum information into minimum characters. No filler words.
</GuidanceProtocol>
`
