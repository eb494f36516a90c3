// Package truncate renders size-bounded views of JSON values for
// presentation to the decision-maker. It never mutates its input.
//
// Two layers are provided: View applies fixed per-level limits (string
// length, container size, depth), while Truncator fits a value into a
// total character budget by progressively shortening strings and
// collapsing the deepest containers, rendering removed regions as "...",
// "[...]" and "{...}" markers.
package truncate

import (
	"encoding/json"
	"sort"
	"strings"
)

// token marks truncated locations inside the working copy.
const token = "__TRUNCATED__"

// Config tunes the Truncator.
type Config struct {
	Indentation         int // spaces per nesting level in the rendered text
	MinLenForTruncation int // strings at or below this length are never cut
	EllipsisSize        int // characters reserved for the "..." suffix
	MinItemsForCollapse int // arrays at or below this size collapse to [...]
	MinKeysForCollapse  int // objects at or below this size collapse to {...}
}

// DefaultConfig mirrors the original tuning.
func DefaultConfig() Config {
	return Config{
		Indentation:         4,
		MinLenForTruncation: 23,
		EllipsisSize:        3,
		MinItemsForCollapse: 2,
		MinKeysForCollapse:  2,
	}
}

// Truncator progressively shrinks a JSON value to fit a character budget.
type Truncator struct {
	cfg Config
}

func New(cfg Config) *Truncator {
	d := DefaultConfig()
	if cfg.Indentation <= 0 {
		cfg.Indentation = d.Indentation
	}
	if cfg.MinLenForTruncation <= 0 {
		cfg.MinLenForTruncation = d.MinLenForTruncation
	}
	if cfg.EllipsisSize <= 0 {
		cfg.EllipsisSize = d.EllipsisSize
	}
	if cfg.MinItemsForCollapse <= 0 {
		cfg.MinItemsForCollapse = d.MinItemsForCollapse
	}
	if cfg.MinKeysForCollapse <= 0 {
		cfg.MinKeysForCollapse = d.MinKeysForCollapse
	}
	return &Truncator{cfg: cfg}
}

// Truncate renders data so the result fits within limit characters,
// applying string truncation, then array collapse, then object collapse.
func (t *Truncator) Truncate(data any, limit int) string {
	if data == nil {
		return "null"
	}
	working := clone(data)
	result := t.smartTruncate(working, limit)
	text := t.stringify(result, 0)
	return strings.ReplaceAll(text, "...,\n", "...\n")
}

// node is collected metadata about one location in the tree.
type node struct {
	kind  string // "string" | "array" | "object"
	value any
	depth int
	path  []any // string keys and int indices
	size  int   // string length, array size or key count
}

func (t *Truncator) smartTruncate(data any, limit int) any {
	if t.size(data) <= limit {
		return data
	}

	nodes := collect(data, 0, nil)

	// Strategy 1: shorten long strings, binary-searching the longest cut
	// length that still fits.
	var strCandidates []node
	for _, n := range nodes {
		if n.kind == "string" && n.size > t.cfg.MinLenForTruncation && n.value != token {
			strCandidates = append(strCandidates, n)
		}
	}
	if len(strCandidates) > 0 {
		updates := func(maxLen int) []update {
			var ups []update
			for _, n := range strCandidates {
				if n.size > maxLen {
					s := n.value.(string)
					cut := maxLen - t.cfg.EllipsisSize
					if cut < 0 {
						cut = 0
					}
					ups = append(ups, update{path: n.path, value: s[:cut] + "..."})
				}
			}
			return ups
		}

		base := applyUpdates(data, updates(t.cfg.MinLenForTruncation))
		if t.size(base) > limit {
			return t.smartTruncate(base, limit)
		}

		low, high := t.cfg.MinLenForTruncation, 0
		for _, n := range strCandidates {
			if n.size > high {
				high = n.size
			}
		}
		best := base
		for low <= high {
			mid := (low + high) / 2
			attempt := applyUpdates(data, updates(mid))
			if t.size(attempt) <= limit {
				best = attempt
				low = mid + 1
			} else {
				high = mid - 1
			}
		}
		return best
	}

	// Strategy 2: collapse arrays from the middle, deepest level first.
	if ups := t.arrayStrategy(nodes); ups != nil {
		return t.smartTruncate(applyUpdates(data, ups), limit)
	}

	// Strategy 3: collapse objects the same way.
	if ups := t.objectStrategy(nodes); ups != nil {
		return t.smartTruncate(applyUpdates(data, ups), limit)
	}

	return data
}

func (t *Truncator) arrayStrategy(nodes []node) []update {
	var candidates []node
	for _, n := range nodes {
		if n.kind == "array" && n.size > 1 {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].depth != candidates[j].depth {
			return candidates[i].depth > candidates[j].depth
		}
		return candidates[i].size > candidates[j].size
	})
	maxDepth := candidates[0].depth

	var ups []update
	for _, n := range candidates {
		if n.depth != maxDepth {
			break
		}
		arr := n.value.([]any)
		idx := -1
		for i, item := range arr {
			if s, ok := item.(string); ok && s == token {
				idx = i
				break
			}
		}

		var next []any
		if idx == -1 {
			next = append([]any(nil), arr...)
			next[len(arr)/2] = token
		} else if real := len(arr) - 1; real > t.cfg.MinItemsForCollapse {
			// Widen the gap on the side holding more items.
			left, right := idx, len(arr)-1-idx
			next = append([]any(nil), arr...)
			if left > right {
				if idx > 0 {
					next = append(next[:idx-1], next[idx:]...)
				}
			} else {
				next = append(next[:idx+1], next[idx+2:]...)
			}
		} else {
			next = []any{token}
		}

		if !jsonEqual(arr, next) {
			ups = append(ups, update{path: n.path, value: next})
		}
	}
	return ups
}

func (t *Truncator) objectStrategy(nodes []node) []update {
	var candidates []node
	for _, n := range nodes {
		if n.kind == "object" && n.size > 1 {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].depth != candidates[j].depth {
			return candidates[i].depth > candidates[j].depth
		}
		return candidates[i].size > candidates[j].size
	})
	maxDepth := candidates[0].depth

	var ups []update
	for _, n := range candidates {
		if n.depth != maxDepth {
			break
		}
		obj := n.value.(map[string]any)
		keys := sortedKeys(obj)
		idx := -1
		for i, k := range keys {
			if k == token {
				idx = i
				break
			}
		}

		next := make(map[string]any, len(obj))
		if idx == -1 {
			mid := keys[len(keys)/2]
			for _, k := range keys {
				if k == mid {
					next[token] = token
				} else {
					next[k] = obj[k]
				}
			}
		} else if real := len(keys) - 1; real > t.cfg.MinKeysForCollapse {
			left, right := idx, len(keys)-1-idx
			removeIdx := idx + 1
			if left > right {
				removeIdx = idx - 1
			}
			for i, k := range keys {
				if i == removeIdx {
					continue
				}
				next[k] = obj[k]
			}
		} else {
			next = map[string]any{token: true}
		}

		if !jsonEqual(obj, next) {
			ups = append(ups, update{path: n.path, value: next})
		}
	}
	return ups
}

type update struct {
	path  []any
	value any
}

func applyUpdates(data any, ups []update) any {
	for _, u := range ups {
		data = setIn(data, u.path, u.value)
	}
	return data
}

// setIn immutably replaces the value at path.
func setIn(obj any, path []any, value any) any {
	if len(path) == 0 {
		return value
	}
	head, tail := path[0], path[1:]
	switch o := obj.(type) {
	case []any:
		i := head.(int)
		next := append([]any(nil), o...)
		next[i] = setIn(o[i], tail, value)
		return next
	case map[string]any:
		k := head.(string)
		next := make(map[string]any, len(o))
		for key, v := range o {
			next[key] = v
		}
		next[k] = setIn(o[k], tail, value)
		return next
	default:
		return obj
	}
}

func collect(obj any, depth int, path []any) []node {
	if s, ok := obj.(string); ok && s == token {
		return nil
	}

	var nodes []node
	switch o := obj.(type) {
	case string:
		nodes = append(nodes, node{kind: "string", value: o, depth: depth, path: append([]any(nil), path...), size: len(o)})
	case []any:
		nodes = append(nodes, node{kind: "array", value: o, depth: depth, path: append([]any(nil), path...), size: len(o)})
		for i, item := range o {
			nodes = append(nodes, collect(item, depth+1, append(path, i))...)
		}
	case map[string]any:
		keys := sortedKeys(o)
		if len(keys) == 1 && keys[0] == token {
			return nodes
		}
		nodes = append(nodes, node{kind: "object", value: o, depth: depth, path: append([]any(nil), path...), size: len(keys)})
		for _, k := range keys {
			nodes = append(nodes, collect(o[k], depth+1, append(path, k))...)
		}
	}
	return nodes
}

func (t *Truncator) size(obj any) int {
	return len(t.stringify(obj, 0))
}

// stringify renders the working copy with "...", "[...]" and "{...}"
// markers where content was removed. Object keys are emitted in sorted
// order so output is deterministic.
func (t *Truncator) stringify(data any, level int) string {
	indentStr := strings.Repeat(" ", t.cfg.Indentation)
	indent := strings.Repeat(indentStr, level)

	if s, ok := data.(string); ok && s == token {
		return "..."
	}

	switch d := data.(type) {
	case []any:
		if len(d) == 0 {
			return "[]"
		}
		if len(d) == 1 {
			if s, ok := d[0].(string); ok && s == token {
				return "[...]"
			}
		}
		items := make([]string, 0, len(d))
		for _, item := range d {
			if s, ok := item.(string); ok && s == token {
				items = append(items, indent+indentStr+"...")
			} else {
				items = append(items, indent+indentStr+strings.TrimSpace(t.stringify(item, level+1)))
			}
		}
		return "[\n" + strings.Join(items, ",\n") + "\n" + indent + "]"

	case map[string]any:
		keys := sortedKeys(d)
		if len(keys) == 0 {
			return "{}"
		}
		if len(keys) == 1 && keys[0] == token {
			return "{...}"
		}
		props := make([]string, 0, len(keys))
		for _, k := range keys {
			if k == token {
				props = append(props, indent+indentStr+"...")
				continue
			}
			val := d[k]
			valStr := "..."
			if s, ok := val.(string); !ok || s != token {
				valStr = strings.TrimSpace(t.stringify(val, level+1))
			}
			props = append(props, indent+indentStr+quote(k)+": "+valStr)
		}
		return "{\n" + strings.Join(props, ",\n") + "\n" + indent + "}"

	default:
		b, err := json.Marshal(data)
		if err != nil {
			return quote(strings.TrimSpace(strings.ReplaceAll(typeOf(data), "\n", " ")))
		}
		return string(b)
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	default:
		return "value"
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(canonicalize(a))
	bb, errB := json.Marshal(canonicalize(b))
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

// canonicalize leaves values as-is; encoding/json already emits map keys
// in sorted order.
func canonicalize(v any) any { return v }

func clone(v any) any {
	switch o := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(o))
		for k, val := range o {
			out[k] = clone(val)
		}
		return out
	case []any:
		out := make([]any, len(o))
		for i, val := range o {
			out[i] = clone(val)
		}
		return out
	default:
		return v
	}
}
