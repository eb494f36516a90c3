package engine

import (
	"encoding/json"
	"fmt"

	"github.com/dgallion1/textjson/internal/inspect"
	"github.com/dgallion1/textjson/internal/patch"
	"github.com/dgallion1/textjson/internal/pointer"
	"github.com/dgallion1/textjson/internal/search"
	"github.com/dgallion1/textjson/internal/truncate"
)

// Tool names form the operation protocol between the engine and the
// decision-maker.
const (
	ToolInspectKeys    = "inspect_keys"
	ToolSearchPointer  = "search_pointer"
	ToolReadValue      = "read_value"
	ToolApplyPatches   = "apply_patches"
	ToolUpdateGuidance = "update_guidance"
)

type inspectKeysArgs struct {
	Source string `json:"source"`
	Path   string `json:"path"`
}

type searchPointerArgs struct {
	Source         string `json:"source"`
	Query          string `json:"query"`
	Type           string `json:"type"`
	FuzzyMatch     bool   `json:"fuzzy_match"`
	Limit          int    `json:"limit"`
	MaxValueLength int    `json:"max_value_length"`
}

type readValueArgs struct {
	Source          string `json:"source"`
	Path            string `json:"path"`
	MaxStringLength int    `json:"max_string_length"`
	MaxDepth        int    `json:"max_depth"`
	MaxArrayItems   int    `json:"max_array_items"`
	MaxObjectKeys   int    `json:"max_object_keys"`
}

type applyPatchesArgs struct {
	Patches []patch.Op `json:"patches"`
}

// dispatch executes one tool call against the current document. It returns
// the result for the decision-maker, the (possibly replaced) document, the
// new guidance when the call finalizes the chunk, and a fatal error only
// on an internal invariant violation.
func (e *Engine) dispatch(call *ToolCall, doc any, schemaRoot any) (ToolResult, any, *Guidance, bool, error) {
	result := ToolResult{CallID: call.ID, Name: call.Name}

	switch call.Name {
	case ToolInspectKeys:
		var args inspectKeysArgs
		if msg := decodeArgs(call.Args, &args); msg != "" {
			return errorResult(result, msg), doc, nil, false, nil
		}
		root, msg := e.pickSource(args.Source, doc, schemaRoot)
		if msg != "" {
			return errorResult(result, msg), doc, nil, false, nil
		}
		rep := inspect.Inspect(root, args.Path, inspect.DefaultOptions())
		return jsonResult(result, rep), doc, nil, false, nil

	case ToolSearchPointer:
		var args searchPointerArgs
		if msg := decodeArgs(call.Args, &args); msg != "" {
			return errorResult(result, msg), doc, nil, false, nil
		}
		root, msg := e.pickSource(args.Source, doc, schemaRoot)
		if msg != "" {
			return errorResult(result, msg), doc, nil, false, nil
		}
		q := search.Query{
			Query:       args.Query,
			Kind:        search.KindValue,
			Fuzzy:       args.FuzzyMatch,
			Limit:       args.Limit,
			MaxValueLen: args.MaxValueLength,
		}
		if args.Type == string(search.KindKey) {
			q.Kind = search.KindKey
		}
		if q.Limit <= 0 {
			q.Limit = 20
		}
		return jsonResult(result, search.Search(root, q)), doc, nil, false, nil

	case ToolReadValue:
		var args readValueArgs
		if msg := decodeArgs(call.Args, &args); msg != "" {
			return errorResult(result, msg), doc, nil, false, nil
		}
		root, msg := e.pickSource(args.Source, doc, schemaRoot)
		if msg != "" {
			return errorResult(result, msg), doc, nil, false, nil
		}
		payload := e.readValue(root, args)
		// The whole response is budget-bounded so one large value cannot
		// blow up the next turn's context.
		result.Content = e.trunc.Truncate(payload, e.cfg.ReadValueLimit)
		return result, doc, nil, false, nil

	case ToolApplyPatches:
		var args applyPatchesArgs
		if msg := decodeArgs(call.Args, &args); msg != "" {
			return errorResult(result, msg), doc, nil, false, nil
		}
		out := e.validator.Validate(doc, schemaRoot, args.Patches)
		if !out.OK {
			return jsonResult(result, out), doc, nil, false, nil
		}
		view, _ := truncate.View(out.Doc, truncate.DefaultLimits())
		confirmation := map[string]any{"ok": true, "document": view}
		content, err := json.Marshal(confirmation)
		if err != nil {
			// An accepted batch produced a document that cannot be
			// serialized: internal invariant violation, not recoverable by
			// the decision-maker.
			return result, doc, nil, false, fmt.Errorf("applied document not serializable: %w", err)
		}
		result.Content = string(content)
		return result, out.Doc, nil, false, nil

	case ToolUpdateGuidance:
		var g Guidance
		if msg := decodeArgs(call.Args, &g); msg != "" {
			return errorResult(result, msg), doc, nil, false, nil
		}
		ack := map[string]any{"finalized": true, "guidance": g}
		return jsonResult(result, ack), doc, &g, true, nil

	default:
		msg := fmt.Sprintf("unknown tool %q; available tools: %s, %s, %s, %s, %s",
			call.Name, ToolInspectKeys, ToolSearchPointer, ToolReadValue, ToolApplyPatches, ToolUpdateGuidance)
		return errorResult(result, msg), doc, nil, false, nil
	}
}

// readValue resolves a pointer and wraps the truncated view, or reports
// the resolution failure in a form the decision-maker can correct.
func (e *Engine) readValue(root any, args readValueArgs) map[string]any {
	tokens, err := pointer.Parse(args.Path)
	if err != nil {
		return map[string]any{"found": false, "pointer": args.Path, "error": err.Error()}
	}
	value, err := pointer.ResolveTokens(root, tokens)
	if err != nil {
		return map[string]any{"found": false, "pointer": args.Path, "error": err.Error()}
	}
	view, cut := truncate.View(value, truncate.Limits{
		MaxStringLen:  args.MaxStringLength,
		MaxDepth:      args.MaxDepth,
		MaxArrayItems: args.MaxArrayItems,
		MaxObjectKeys: args.MaxObjectKeys,
	})
	return map[string]any{
		"found":     true,
		"pointer":   args.Path,
		"value":     view,
		"truncated": cut,
	}
}

// pickSource selects the document or the schema as the tool's data source.
func (e *Engine) pickSource(source string, doc any, schemaRoot any) (any, string) {
	switch source {
	case "", "document":
		return doc, ""
	case "schema":
		if schemaRoot == nil {
			return nil, `no schema was supplied for this run; use source "document"`
		}
		return schemaRoot, ""
	default:
		return nil, fmt.Sprintf(`unknown source %q; use "document" or "schema"`, source)
	}
}

func decodeArgs(raw json.RawMessage, into any) string {
	if len(raw) == 0 {
		return ""
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Sprintf("invalid tool arguments: %s", err)
	}
	return ""
}

func errorResult(r ToolResult, msg string) ToolResult {
	r.IsError = true
	content, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		content = []byte(`{"error":"internal encoding failure"}`)
	}
	r.Content = string(content)
	return r
}

func jsonResult(r ToolResult, payload any) ToolResult {
	content, err := json.Marshal(payload)
	if err != nil {
		return errorResult(r, fmt.Sprintf("encode result: %s", err))
	}
	r.Content = string(content)
	return r
}
