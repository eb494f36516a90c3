package truncate

import (
	"fmt"
	"sort"
)

// Limits bounds a View per nesting level.
type Limits struct {
	MaxStringLen  int // longest string before cutting
	MaxDepth      int // deepest level rendered before a kind placeholder
	MaxArrayItems int // array entries kept
	MaxObjectKeys int // object keys kept
}

// DefaultLimits mirrors the read tool defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxStringLen:  160,
		MaxDepth:      6,
		MaxArrayItems: 50,
		MaxObjectKeys: 50,
	}
}

func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.MaxStringLen <= 0 {
		l.MaxStringLen = d.MaxStringLen
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxArrayItems <= 0 {
		l.MaxArrayItems = d.MaxArrayItems
	}
	if l.MaxObjectKeys <= 0 {
		l.MaxObjectKeys = d.MaxObjectKeys
	}
	return l
}

// ellipsis marks cut strings and omitted container entries.
const ellipsis = "…"

// View produces a size-bounded copy of value for presentation. The input
// is never modified. The bool reports whether anything was cut.
//
// Strings over MaxStringLen keep the first MaxStringLen characters plus a
// marker. Arrays and objects keep their first MaxArrayItems/MaxObjectKeys
// entries (object keys in sorted order, so the kept subset is
// deterministic) plus an omitted-entry count. Below MaxDepth the structure
// is replaced by a placeholder naming its kind and size.
func View(value any, limits Limits) (any, bool) {
	l := limits.normalized()
	return view(value, l, 0)
}

func view(value any, l Limits, depth int) (any, bool) {
	switch v := value.(type) {
	case string:
		if r := []rune(v); len(r) > l.MaxStringLen {
			return string(r[:l.MaxStringLen]) + ellipsis, true
		}
		return v, false

	case []any:
		if depth >= l.MaxDepth {
			return fmt.Sprintf("[array: %d items]", len(v)), true
		}
		take := len(v)
		truncated := false
		if take > l.MaxArrayItems {
			take = l.MaxArrayItems
			truncated = true
		}
		out := make([]any, 0, take+1)
		for i := 0; i < take; i++ {
			item, cut := view(v[i], l, depth+1)
			truncated = truncated || cut
			out = append(out, item)
		}
		if take < len(v) {
			out = append(out, fmt.Sprintf("%s(+%d more items)", ellipsis, len(v)-take))
		}
		return out, truncated

	case map[string]any:
		if depth >= l.MaxDepth {
			return fmt.Sprintf("[object: %d keys]", len(v)), true
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		take := len(keys)
		truncated := false
		if take > l.MaxObjectKeys {
			take = l.MaxObjectKeys
			truncated = true
		}
		out := make(map[string]any, take+1)
		for _, k := range keys[:take] {
			item, cut := view(v[k], l, depth+1)
			truncated = truncated || cut
			out[k] = item
		}
		if take < len(keys) {
			out[ellipsis] = fmt.Sprintf("(+%d more keys)", len(keys)-take)
		}
		return out, truncated

	default:
		return value, false
	}
}
