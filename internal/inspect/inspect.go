// Package inspect answers "what is at this pointer": the keys of an
// object, the length of an array, shallow previews of their contents.
// A miss never fails the tool call; it returns the failing token, the
// container's type, and the keys actually available there, so the
// proposer can self-correct its next pointer.
package inspect

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/dgallion1/textjson/internal/pointer"
)

// Options bounds the preview.
type Options struct {
	MaxKeys       int
	MaxArrayItems int
	MaxStringLen  int
	MaxDepth      int
	IncludeValue  bool
	// TryURLDecode percent-decodes pointer tokens. Proposers sometimes
	// emit URL-encoded pointers.
	TryURLDecode bool
}

// DefaultOptions mirrors the stock limits.
func DefaultOptions() Options {
	return Options{
		MaxKeys:       50,
		MaxArrayItems: 20,
		MaxStringLen:  300,
		MaxDepth:      2,
		IncludeValue:  true,
		TryURLDecode:  true,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.MaxKeys <= 0 {
		o.MaxKeys = d.MaxKeys
	}
	if o.MaxArrayItems <= 0 {
		o.MaxArrayItems = d.MaxArrayItems
	}
	if o.MaxStringLen <= 0 {
		o.MaxStringLen = d.MaxStringLen
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	return o
}

// Report describes what was found at a pointer, or why navigation
// stopped.
type Report struct {
	Found           bool   `json:"found"`
	Pointer         string `json:"pointer"`
	ResolvedPointer string `json:"resolvedPointer,omitempty"`

	// Set on success.
	Summary *Summary `json:"summary,omitempty"`

	// Set on a miss: where navigation stopped and what was there.
	AtPointer       string   `json:"atPointer,omitempty"`
	Message         string   `json:"message,omitempty"`
	ContainerType   string   `json:"containerType,omitempty"`
	ContainerLength int      `json:"containerLength,omitempty"`
	AvailableKeys   []string `json:"availableKeysPreview,omitempty"`
	KeysTruncated   bool     `json:"availableKeysTruncated,omitempty"`
}

// Summary is the bounded description of one value.
type Summary struct {
	Type         string         `json:"type"`
	ValuePreview any            `json:"valuePreview,omitempty"`
	Length       int            `json:"length,omitempty"`       // arrays
	Count        int            `json:"count,omitempty"`        // object keys
	PreviewCount int            `json:"previewCount,omitempty"` // entries shown
	Truncated    bool           `json:"truncated,omitempty"`
	Items        []ItemPreview  `json:"itemsPreview,omitempty"`
	Keys         []string       `json:"keysPreview,omitempty"`
	Shallow      map[string]any `json:"shallowPreview,omitempty"`
	DepthNote    string         `json:"depthNote,omitempty"`
}

// ItemPreview is one array entry in a Summary.
type ItemPreview struct {
	Index        int    `json:"index"`
	Type         string `json:"type"`
	ValuePreview any    `json:"valuePreview,omitempty"`
}

// Inspect resolves path inside doc and summarizes what it finds. Misses
// return Found=false with self-correction info rather than an error.
func Inspect(doc any, path string, opts Options) Report {
	o := opts.normalized()
	rep := Report{Pointer: path}

	tokens := parseForgiving(path, o.TryURLDecode)

	current := doc
	walked := ""
	for _, token := range tokens {
		next := pointer.Join(walked, token)

		switch node := current.(type) {
		case []any:
			idx, err := pointer.ArrayIndex(token, len(node), false, false)
			if err != nil {
				rep.AtPointer = next
				rep.ContainerType = "array"
				rep.ContainerLength = len(node)
				if strings.Contains(err.Error(), pointer.ErrInvalid.Error()) {
					rep.Message = fmt.Sprintf("Expected a numeric index for array, but received token %q.", token)
				} else {
					rep.Message = fmt.Sprintf("The index is out of range: %s (len=%d).", token, len(node))
				}
				return rep
			}
			current = node[idx]
			walked = next

		case map[string]any:
			v, ok := node[token]
			if !ok {
				keys := sortedKeys(node)
				take := len(keys)
				if take > o.MaxKeys {
					take = o.MaxKeys
				}
				rep.AtPointer = next
				rep.Message = fmt.Sprintf("The key was not found: %q.", token)
				rep.ContainerType = "object"
				rep.AvailableKeys = keys[:take]
				rep.KeysTruncated = take < len(keys)
				return rep
			}
			current = v
			walked = next

		default:
			at := walked
			if at == "" {
				at = "/"
			}
			rep.AtPointer = at
			rep.ContainerType = pointer.TypeName(current)
			rep.Message = fmt.Sprintf("Cannot navigate inside a value of type %q.", pointer.TypeName(current))
			return rep
		}
	}

	rep.Found = true
	rep.ResolvedPointer = walked
	if rep.ResolvedPointer == "" {
		rep.ResolvedPointer = "/"
	}
	s := summarize(current, o, 0)
	rep.Summary = &s
	return rep
}

// parseForgiving tolerates a missing leading slash and optional
// URL-encoded tokens; inspect is a read-only probe and a sloppy pointer
// should still produce a useful answer.
func parseForgiving(path string, urlDecode bool) []string {
	if path == "" || path == "/" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	raw := strings.Split(path, "/")[1:]
	tokens := make([]string, len(raw))
	for i, t := range raw {
		t = pointer.Unescape(t)
		if urlDecode && strings.Contains(t, "%") {
			if dec, err := url.QueryUnescape(t); err == nil {
				t = dec
			}
		}
		tokens[i] = t
	}
	return tokens
}

func summarize(value any, o Options, depth int) Summary {
	switch v := value.(type) {
	case []any:
		s := Summary{Type: "array", Length: len(v)}
		if depth >= o.MaxDepth {
			s.DepthNote = fmt.Sprintf("[preview depth limit %d]", o.MaxDepth)
			return s
		}
		take := len(v)
		if take > o.MaxArrayItems {
			take = o.MaxArrayItems
		}
		s.PreviewCount = take
		s.Truncated = take < len(v)
		s.Items = make([]ItemPreview, 0, take)
		for i := 0; i < take; i++ {
			item := ItemPreview{Index: i, Type: pointer.TypeName(v[i])}
			if !isContainer(v[i]) && o.IncludeValue {
				item.ValuePreview = previewPrimitive(v[i], o)
			}
			s.Items = append(s.Items, item)
		}
		return s

	case map[string]any:
		keys := sortedKeys(v)
		s := Summary{Type: "object", Count: len(keys)}
		take := len(keys)
		if take > o.MaxKeys {
			take = o.MaxKeys
		}
		s.PreviewCount = take
		s.Truncated = take < len(keys)
		s.Keys = keys[:take]
		if depth < o.MaxDepth {
			s.Shallow = make(map[string]any, take)
			for _, k := range s.Keys {
				child := v[k]
				entry := map[string]any{"type": pointer.TypeName(child)}
				if !isContainer(child) && o.IncludeValue {
					entry["valuePreview"] = previewPrimitive(child, o)
				}
				s.Shallow[k] = entry
			}
		}
		return s

	default:
		s := Summary{Type: pointer.TypeName(value)}
		if o.IncludeValue {
			s.ValuePreview = previewPrimitive(value, o)
		}
		return s
	}
}

func previewPrimitive(v any, o Options) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	r := []rune(s)
	if len(r) <= o.MaxStringLen {
		return s
	}
	return fmt.Sprintf("%s…(truncated, len=%d)", string(r[:o.MaxStringLen]), len(r))
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
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
