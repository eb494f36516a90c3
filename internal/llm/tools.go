package llm

import "github.com/dgallion1/textjson/internal/engine"

// toolDef is the provider-neutral description of one engine tool. Both
// providers render the same definitions into their own wire shapes.
type toolDef struct {
	name        string
	description string
	properties  map[string]any
	required    []string
}

func sourceProperty() map[string]any {
	return map[string]any{
		"type": "string",
		"enum": []string{"document", "schema"},
		"description": `Which data source to use: "document" (the JSON being built) ` +
			`or "schema" (the target schema). Default: "document".`,
	}
}

var toolDefs = []toolDef{
	{
		name: engine.ToolInspectKeys,
		description: "Returns the keys of an object or the length of an array at a path " +
			"in the JSON document or schema. Use it to check array lengths before appending, " +
			"verify parent containers exist before patching, and navigate the structure " +
			"without loading full data.",
		properties: map[string]any{
			"source": sourceProperty(),
			"path": map[string]any{
				"type": "string",
				"description": `JSON Pointer (RFC 6901) to inspect. Use "" for the root, ` +
					`"/sections" for a sections array, "/sections/0" for its first element.`,
			},
		},
	},
	{
		name: engine.ToolSearchPointer,
		description: "Searches the JSON document or schema for a key or value and returns " +
			"JSON Pointers to matching locations. Mandatory before creating new list items, " +
			"to avoid duplicates. Also useful to locate data that needs correction.",
		properties: map[string]any{
			"source": sourceProperty(),
			"query":  map[string]any{"type": "string", "description": "Search query string."},
			"type": map[string]any{
				"type":        "string",
				"enum":        []string{"key", "value"},
				"description": `Search keys or values. Default: "value".`,
			},
			"fuzzy_match": map[string]any{
				"type":        "boolean",
				"description": "Enable fuzzy similarity matching.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results. Default: 20.",
			},
			"max_value_length": map[string]any{
				"type":        "integer",
				"description": "Maximum length of value previews. Default: 120.",
			},
		},
		required: []string{"query"},
	},
	{
		name: engine.ToolReadValue,
		description: "Retrieves the exact value at a path in the JSON document or schema. " +
			"Use for verification before replace, remove, or move. Read specific indices, " +
			"not whole arrays.",
		properties: map[string]any{
			"source": sourceProperty(),
			"path": map[string]any{
				"type":        "string",
				"description": "JSON Pointer (RFC 6901) path to read.",
			},
			"max_string_length": map[string]any{
				"type":        "integer",
				"description": "Maximum string length before truncation. Default: 160.",
			},
			"max_depth": map[string]any{
				"type":        "integer",
				"description": "Maximum nesting depth rendered. Default: 6.",
			},
			"max_array_items": map[string]any{
				"type":        "integer",
				"description": "Maximum array items returned. Default: 50.",
			},
			"max_object_keys": map[string]any{
				"type":        "integer",
				"description": "Maximum object keys returned. Default: 50.",
			},
		},
		required: []string{"path"},
	},
	{
		name: engine.ToolApplyPatches,
		description: "Applies changes to the JSON document using RFC 6902 (JSON Patch). " +
			`CRITICAL: to APPEND an item to an array the path MUST end with "/-", e.g. ` +
			`{"op":"add","path":"/sections/0/fields/-","value":{...}}. Never "add" directly ` +
			"on a path holding an existing array: that replaces the whole array and destroys " +
			"previous data. Batch multiple appends in a single call, each with its own " +
			`"/-" path. "replace" overwrites a single existing value; "remove" deletes one ` +
			`key or element; "move"/"copy" relocate or duplicate values via "from".`,
		properties: map[string]any{
			"patches": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"op": map[string]any{
							"type": "string",
							"enum": []string{"add", "replace", "remove", "move", "copy", "test"},
						},
						"path":  map[string]any{"type": "string"},
						"from":  map[string]any{"type": "string"},
						"value": map[string]any{},
					},
					"required": []string{"op", "path"},
				},
				"description": "Ordered list of JSON Patch operations.",
			},
		},
		required: []string{"patches"},
	},
	{
		name: engine.ToolUpdateGuidance,
		description: "Finalizes the current chunk and records continuity context for the " +
			"next one. This MUST be your final tool call when the chunk is fully processed, " +
			"and it MUST be the only tool call in that response. Fill every field with dense, " +
			"abbreviated, high-signal information: it is the only bridge between chunks.",
		properties: map[string]any{
			"last_path": map[string]any{
				"type":        "string",
				"description": `Last JSON Pointer written to, e.g. "/sections/2/fields/-".`,
			},
			"sections_snapshot": map[string]any{
				"type": "string",
				"description": "Compact map of the document: section names with item counts " +
					`and build status, e.g. "[0]OVERVIEW(12flds) [1]MARKET(8flds,1tbl) [2]PERF(building)".`,
			},
			"items_added": map[string]any{
				"type": "string",
				"description": "Compact list of items added in THIS chunk with key values, " +
					`e.g. "3 fields->PERF: monthly=2.3%, yield=0.8%".`,
			},
			"open_section": map[string]any{
				"type": "string",
				"description": "Section still being built: name, path, and what is missing, " +
					`e.g. "PERF @ /sections/2 -- table incomplete, 6/12 months".`,
			},
			"text_excerpt": map[string]any{
				"type": "string",
				"description": "The last ~200 characters of relevant text from the chunk end, " +
					"so the next chunk can detect data cut mid-flow.",
			},
			"next_expectations": map[string]any{
				"type":        "string",
				"description": "What the next chunk likely contains, based on document flow.",
			},
			"pending_data": map[string]any{
				"type":        "string",
				"description": "Partial, ambiguous, or unresolved data that a later chunk may clarify.",
			},
			"extracted_entities_count": map[string]any{
				"type":        "integer",
				"description": "Number of entities (fields, rows, items) extracted in this chunk.",
			},
		},
	},
}
