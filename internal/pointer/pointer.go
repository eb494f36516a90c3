// Package pointer implements RFC 6901 JSON Pointer navigation and mutation
// over generic JSON values (map[string]any, []any, scalars).
//
// Mutating operations never touch the input document: they deep-copy and
// return a new root. This keeps the accumulated document safe from partial
// writes when a later operation in a batch fails.
package pointer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNotFound indicates the pointer does not resolve to a location in
	// the document (missing key, index out of range, traversal into a
	// scalar).
	ErrNotFound = errors.New("pointer not found")

	// ErrInvalid indicates the pointer itself is malformed (missing leading
	// slash, bad array index token).
	ErrInvalid = errors.New("invalid pointer")
)

// arrayIndexRe matches valid array index tokens: "0" or a positive integer
// with no leading zero, per RFC 6901.
var arrayIndexRe = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

// Parse splits a JSON Pointer into unescaped reference tokens.
// "" and "/" both refer to the root and yield no tokens.
func Parse(path string) ([]string, error) {
	if path == "" || path == "/" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: %q must start with \"/\"", ErrInvalid, path)
	}
	raw := strings.Split(path, "/")[1:]
	tokens := make([]string, len(raw))
	for i, t := range raw {
		tokens[i] = Unescape(t)
	}
	return tokens, nil
}

// Unescape decodes ~1 and ~0 escape sequences in a reference token.
func Unescape(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

// Escape encodes a reference token for embedding in a pointer string.
func Escape(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

// Join appends an escaped token to a pointer string.
func Join(base, token string) string {
	return base + "/" + Escape(token)
}

// ArrayIndex parses an array index token. allowAppend permits the "-"
// token (returned as length). allowEnd permits index == length (the
// insert-at-end position used by add).
func ArrayIndex(token string, length int, allowAppend, allowEnd bool) (int, error) {
	if token == "-" {
		if !allowAppend {
			return 0, fmt.Errorf("%w: \"-\" is only valid when appending", ErrNotFound)
		}
		return length, nil
	}
	if !arrayIndexRe.MatchString(token) {
		return 0, fmt.Errorf("%w: bad array index %q", ErrInvalid, token)
	}
	idx := 0
	for _, c := range token {
		idx = idx*10 + int(c-'0')
	}
	max := length - 1
	if allowEnd {
		max = length
	}
	if idx > max {
		return 0, fmt.Errorf("%w: index %d out of range (length %d)", ErrNotFound, idx, length)
	}
	return idx, nil
}

// Resolve walks the document along the pointer and returns the value at
// its location. The root pointer returns the document itself.
func Resolve(doc any, path string) (any, error) {
	tokens, err := Parse(path)
	if err != nil {
		return nil, err
	}
	return ResolveTokens(doc, tokens)
}

// ResolveTokens is Resolve over pre-parsed tokens.
func ResolveTokens(doc any, tokens []string) (any, error) {
	cur := doc
	for i, t := range tokens {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[t]
			if !ok {
				return nil, fmt.Errorf("%w: key %q at token %d", ErrNotFound, t, i)
			}
			cur = v
		case []any:
			idx, err := ArrayIndex(t, len(node), false, false)
			if err != nil {
				return nil, err
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("%w: cannot traverse into %s at token %d", ErrNotFound, TypeName(cur), i)
		}
	}
	return cur, nil
}

// Exists reports whether the pointer resolves, swallowing not-found errors
// but propagating malformed pointers.
func Exists(doc any, path string) (bool, error) {
	_, err := Resolve(doc, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Clone deep-copies a JSON value.
func Clone(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, val := range node {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

// Add inserts value at the pointer with RFC 6902 add semantics: object
// keys may be created, array indices insert (shifting right), "-" appends.
// Intermediate containers must already exist. The root pointer replaces
// the whole document.
func Add(doc any, path string, value any) (any, error) {
	return mutate(doc, path, func(parent any, key string) (any, error) {
		switch p := parent.(type) {
		case map[string]any:
			p[key] = Clone(value)
			return p, nil
		case []any:
			idx, err := ArrayIndex(key, len(p), true, true)
			if err != nil {
				return nil, err
			}
			out := make([]any, 0, len(p)+1)
			out = append(out, p[:idx]...)
			out = append(out, Clone(value))
			out = append(out, p[idx:]...)
			return out, nil
		default:
			return nil, fmt.Errorf("%w: parent is not a container", ErrNotFound)
		}
	}, func() (any, error) {
		return Clone(value), nil
	})
}

// Replace sets value at an existing location. The target must exist.
func Replace(doc any, path string, value any) (any, error) {
	return mutate(doc, path, func(parent any, key string) (any, error) {
		switch p := parent.(type) {
		case map[string]any:
			if _, ok := p[key]; !ok {
				return nil, fmt.Errorf("%w: key %q", ErrNotFound, key)
			}
			p[key] = Clone(value)
			return p, nil
		case []any:
			idx, err := ArrayIndex(key, len(p), false, false)
			if err != nil {
				return nil, err
			}
			p[idx] = Clone(value)
			return p, nil
		default:
			return nil, fmt.Errorf("%w: parent is not a container", ErrNotFound)
		}
	}, func() (any, error) {
		return Clone(value), nil
	})
}

// Remove deletes the value at the pointer. The target must exist; the
// root pointer cannot be removed.
func Remove(doc any, path string) (any, error) {
	return mutate(doc, path, func(parent any, key string) (any, error) {
		switch p := parent.(type) {
		case map[string]any:
			if _, ok := p[key]; !ok {
				return nil, fmt.Errorf("%w: key %q", ErrNotFound, key)
			}
			delete(p, key)
			return p, nil
		case []any:
			idx, err := ArrayIndex(key, len(p), false, false)
			if err != nil {
				return nil, err
			}
			out := make([]any, 0, len(p)-1)
			out = append(out, p[:idx]...)
			out = append(out, p[idx+1:]...)
			return out, nil
		default:
			return nil, fmt.Errorf("%w: parent is not a container", ErrNotFound)
		}
	}, func() (any, error) {
		return nil, fmt.Errorf("%w: cannot remove the document root", ErrInvalid)
	})
}

// mutate clones the document, walks to the parent of the target location
// and applies edit to it, rebuilding the spine so slice reallocation is
// reflected in the result. atRoot handles the zero-token case.
func mutate(doc any, path string, edit func(parent any, key string) (any, error), atRoot func() (any, error)) (any, error) {
	tokens, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return atRoot()
	}

	root := Clone(doc)
	parent, err := ResolveTokens(root, tokens[:len(tokens)-1])
	if err != nil {
		return nil, fmt.Errorf("parent of %q: %w", path, err)
	}

	edited, err := edit(parent, tokens[len(tokens)-1])
	if err != nil {
		return nil, err
	}

	// Maps mutate in place; slices may have been reallocated and must be
	// written back through the grandparent chain.
	if _, isMap := parent.(map[string]any); isMap {
		return root, nil
	}
	return writeBack(root, tokens[:len(tokens)-1], edited)
}

// writeBack replaces the container at tokens with value, rebuilding any
// slice links along the way.
func writeBack(root any, tokens []string, value any) (any, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	parent, err := ResolveTokens(root, tokens[:len(tokens)-1])
	if err != nil {
		return nil, err
	}
	key := tokens[len(tokens)-1]
	switch p := parent.(type) {
	case map[string]any:
		p[key] = value
		return root, nil
	case []any:
		idx, err := ArrayIndex(key, len(p), false, false)
		if err != nil {
			return nil, err
		}
		p[idx] = value
		return root, nil
	default:
		return nil, fmt.Errorf("%w: cannot write back into %s", ErrNotFound, TypeName(parent))
	}
}

// TypeName reports the JSON type of a value: null, boolean, number,
// string, array or object.
func TypeName(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int64, int32, uint, uint64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		_ = t
		return fmt.Sprintf("%T", v)
	}
}
