// Package schema implements the subset of JSON Schema (Draft 2020-12)
// used to validate proposed document edits: local $ref resolution,
// type/enum/required/properties/items checks, string formats, and
// pointer-directed schema lookup through anyOf/oneOf/allOf composition.
//
// A schema value is any JSON value: true/false (boolean schemas), an
// object, or nil (absent, accepts everything).
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/dgallion1/textjson/internal/pointer"
)

// anyMarker tags the permissive schema produced when a $ref cycle or an
// unresolvable reference forces validation to give up on a branch.
const anyMarker = "__any"

// Permissive returns a schema that accepts any value.
func Permissive() map[string]any {
	return map[string]any{anyMarker: true}
}

func isPermissive(s any) bool {
	m, ok := s.(map[string]any)
	if !ok {
		return false
	}
	v, ok := m[anyMarker]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// maxRefDepth bounds chained $ref resolution.
const maxRefDepth = 10

// ResolveRef follows a chain of local ("#/...") $ref references against
// the root schema. External refs and cycles stop resolution and return
// the node as-is.
func ResolveRef(s, root any) any {
	seen := map[string]bool{}
	current := s
	for i := 0; i < maxRefDepth; i++ {
		m, ok := current.(map[string]any)
		if !ok {
			return current
		}
		refVal, ok := m["$ref"]
		if !ok {
			return current
		}
		ref, ok := refVal.(string)
		if !ok || seen[ref] {
			return current
		}
		seen[ref] = true
		if !strings.HasPrefix(ref, "#/") {
			return current
		}
		resolved := root
		ok = true
		for _, part := range strings.Split(ref[2:], "/") {
			part = pointer.Unescape(part)
			rm, isMap := resolved.(map[string]any)
			if !isMap {
				ok = false
				break
			}
			resolved, isMap = rm[part], true
			if resolved == nil {
				ok = false
				break
			}
		}
		if !ok || resolved == nil {
			return current
		}
		current = resolved
	}
	return current
}

// Inline rewrites a schema with every local $ref replaced by its
// definition. Circular references become permissive so validation never
// loops.
func Inline(root any) any {
	return inline(root, root, map[string]bool{})
}

func inline(s, root any, seen map[string]bool) any {
	m, ok := s.(map[string]any)
	if !ok {
		return s
	}

	if refVal, hasRef := m["$ref"]; hasRef {
		ref, _ := refVal.(string)
		if seen[ref] {
			return Permissive()
		}
		resolved := ResolveRef(s, root)
		if same(resolved, s) {
			return s
		}
		next := map[string]bool{ref: true}
		for k := range seen {
			next[k] = true
		}
		return inline(resolved, root, next)
	}

	out := make(map[string]any, len(m))
	for key, val := range m {
		switch key {
		case "properties":
			if props, ok := val.(map[string]any); ok {
				p := make(map[string]any, len(props))
				for k, v := range props {
					p[k] = inline(v, root, seen)
				}
				out[key] = p
				continue
			}
			out[key] = val
		case "items", "additionalProperties":
			if _, ok := val.(map[string]any); ok {
				out[key] = inline(val, root, seen)
				continue
			}
			out[key] = val
		case "anyOf", "oneOf", "allOf":
			if list, ok := val.([]any); ok {
				l := make([]any, len(list))
				for i, item := range list {
					l[i] = inline(item, root, seen)
				}
				out[key] = l
				continue
			}
			out[key] = val
		default:
			// Definitions stay as-is; they are reached through $ref.
			out[key] = val
		}
	}
	return out
}

func same(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if !aok || !bok {
		return false
	}
	if len(am) != len(bm) {
		return false
	}
	for k, v := range am {
		if w, ok := bm[k]; !ok || !DeepEqual(v, w) {
			return false
		}
	}
	return true
}

// TypeOf reports the JSON Schema type of an instance value. Whole-number
// floats are integers.
func TypeOf(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case int, int32, int64:
		return "integer"
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) && !math.IsNaN(x) {
			return "integer"
		}
		return "number"
	case float32:
		return TypeOf(float64(x))
	default:
		return fmt.Sprintf("%T", v)
	}
}

func normalizeType(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// DeepEqual compares two JSON values structurally, treating equal
// integer and floating representations of the same number as equal.
func DeepEqual(a, b any) bool {
	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !DeepEqual(v, w) {
				return false
			}
		}
		return true
	default:
		if an, aok := asFloat(a); aok {
			bn, bok := asFloat(b)
			return bok && an == bn
		}
		return a == b
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Canonical serializes a value with object keys sorted at every level,
// so structurally equal values share one string form.
func Canonical(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			writeCanonical(b, x[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			fmt.Fprintf(b, "%q", fmt.Sprint(v))
			return
		}
		b.Write(enc)
	}
}

// Violation is one schema check failure at a document location.
type Violation struct {
	Pointer string
	Message string
}

func (v Violation) String() string {
	p := v.Pointer
	if p == "" {
		p = "/"
	}
	return p + ": " + v.Message
}

// Validate checks instance against s, returning every violation found.
// An empty result means the instance conforms.
func Validate(s, instance any, at string) []Violation {
	var errs []Violation
	push := func(msg string) {
		errs = append(errs, Violation{Pointer: at, Message: msg})
	}

	switch sv := s.(type) {
	case nil:
		return nil
	case bool:
		if !sv {
			push(`schema "false" does not accept any value`)
		}
		return errs
	}
	if isPermissive(s) {
		return nil
	}
	m, ok := s.(map[string]any)
	if !ok {
		return nil
	}

	if alts, ok := m["anyOf"].([]any); ok {
		for _, alt := range alts {
			if len(Validate(alt, instance, at)) == 0 {
				return nil
			}
		}
		push("failed in anyOf (no alternative accepted the value)")
		return errs
	}
	if alts, ok := m["oneOf"].([]any); ok {
		matched := 0
		for _, alt := range alts {
			if len(Validate(alt, instance, at)) == 0 {
				matched++
			}
		}
		if matched != 1 {
			push(fmt.Sprintf("failed in oneOf (%d alternatives accepted the value, expected exactly 1)", matched))
		}
		return errs
	}
	if alts, ok := m["allOf"].([]any); ok {
		for _, alt := range alts {
			errs = append(errs, Validate(alt, instance, at)...)
		}
		if len(errs) > 0 {
			return errs
		}
	}

	if enum, ok := m["enum"].([]any); ok {
		found := false
		for _, v := range enum {
			if DeepEqual(v, instance) {
				found = true
				break
			}
		}
		if !found {
			enc, _ := json.Marshal(instance)
			push(fmt.Sprintf("value is not in enum: %s", enc))
		}
	}

	if allowed := normalizeType(m["type"]); len(allowed) > 0 {
		instType := TypeOf(instance)
		matches := false
		for _, t := range allowed {
			if t == instType || (instType == "integer" && t == "number") {
				matches = true
				break
			}
		}
		if !matches {
			push(fmt.Sprintf("invalid type: expected %s, received %s",
				strings.Join(allowed, " | "), instType))
			return errs
		}
	}

	switch inst := instance.(type) {
	case string:
		if pat, ok := m["pattern"].(string); ok && pat != "" {
			re, err := regexp.Compile(pat)
			if err != nil || !re.MatchString(inst) {
				push(fmt.Sprintf("string does not match pattern: %s", pat))
			}
		}
		if format, ok := m["format"].(string); ok && format != "" {
			if !ValidFormat(format, inst) {
				push(fmt.Sprintf("string does not respect format: %s", format))
			}
		}

	case float64, float32, int, int32, int64:
		n, _ := asFloat(inst)
		if min, ok := asFloat(m["minimum"]); ok && n < min {
			push(fmt.Sprintf("number < minimum (%v)", m["minimum"]))
		}
		if max, ok := asFloat(m["maximum"]); ok && n > max {
			push(fmt.Sprintf("number > maximum (%v)", m["maximum"]))
		}

	case []any:
		if items, ok := m["items"]; ok && items != nil {
			for i, item := range inst {
				errs = append(errs, Validate(items, item, fmt.Sprintf("%s/%d", at, i))...)
			}
		}

	case map[string]any:
		props, _ := m["properties"].(map[string]any)
		if req, ok := m["required"].([]any); ok {
			for _, r := range req {
				name, ok := r.(string)
				if !ok {
					continue
				}
				if _, present := inst[name]; !present {
					push(fmt.Sprintf("required field missing: %s", name))
				}
			}
		}
		keys := make([]string, 0, len(inst))
		for k := range inst {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := inst[k]
			childAt := at + "/" + pointer.Escape(k)
			if sub, ok := props[k]; ok {
				errs = append(errs, Validate(sub, v, childAt)...)
				continue
			}
			switch ap := m["additionalProperties"].(type) {
			case bool:
				if !ap {
					errs = append(errs, Violation{
						Pointer: childAt,
						Message: fmt.Sprintf("property not allowed (additionalProperties=false): %s", k),
					})
				}
			case map[string]any:
				errs = append(errs, Validate(ap, v, childAt)...)
			}
		}
	}

	return errs
}

// CandidatesAt walks the schema along pointer tokens, fanning out
// through anyOf alternatives, and returns every schema node that could
// govern the value at that location. The append token "-" resolves to
// the array's items schema. Unreachable paths yield the permissive
// schema so callers degrade to structural checks.
func CandidatesAt(root any, tokens []string) []any {
	candidates := []any{root}
	for _, t := range tokens {
		var next []any
		for _, c := range candidates {
			c = ResolveRef(c, root)
			var types []string
			if m, ok := c.(map[string]any); ok {
				types = normalizeType(m["type"])
			}

			couldBeArray := c != nil && (isPermissive(c) || len(types) == 0 || contains(types, "array"))
			couldBeObject := c != nil && (isPermissive(c) || len(types) == 0 || contains(types, "object"))

			if (t == "-" || isIndexToken(t)) && couldBeArray {
				for _, cand := range candidatesForIndex(c) {
					next = append(next, ResolveRef(cand, root))
				}
				continue
			}
			if couldBeObject {
				for _, cand := range candidatesForProperty(c, t) {
					next = append(next, ResolveRef(cand, root))
				}
			}
		}
		if len(next) == 0 {
			next = []any{Permissive()}
		}
		candidates = next
	}
	out := make([]any, len(candidates))
	for i, c := range candidates {
		out[i] = ResolveRef(c, root)
	}
	return out
}

var indexTokenRe = regexp.MustCompile(`^[0-9]+$`)

func isIndexToken(t string) bool {
	return indexTokenRe.MatchString(t)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func candidatesForProperty(s any, prop string) []any {
	switch sv := s.(type) {
	case nil:
		return []any{Permissive()}
	case bool:
		if sv {
			return []any{Permissive()}
		}
		return nil
	}
	if isPermissive(s) {
		return []any{Permissive()}
	}
	m, ok := s.(map[string]any)
	if !ok {
		return []any{Permissive()}
	}

	if alts, ok := m["anyOf"].([]any); ok {
		var all []any
		for _, alt := range alts {
			all = append(all, candidatesForProperty(alt, prop)...)
		}
		return all
	}

	if props, ok := m["properties"].(map[string]any); ok {
		if sub, ok := props[prop]; ok {
			return []any{sub}
		}
	}
	switch ap := m["additionalProperties"].(type) {
	case bool:
		if !ap {
			return nil
		}
		return []any{Permissive()}
	case map[string]any:
		return []any{ap}
	default:
		return []any{Permissive()}
	}
}

func candidatesForIndex(s any) []any {
	switch sv := s.(type) {
	case nil:
		return []any{Permissive()}
	case bool:
		if sv {
			return []any{Permissive()}
		}
		return nil
	}
	if isPermissive(s) {
		return []any{Permissive()}
	}
	m, ok := s.(map[string]any)
	if !ok {
		return []any{Permissive()}
	}

	if alts, ok := m["anyOf"].([]any); ok {
		var all []any
		for _, alt := range alts {
			all = append(all, candidatesForIndex(alt)...)
		}
		return all
	}

	if items, ok := m["items"]; ok && items != nil {
		return []any{items}
	}
	return []any{Permissive()}
}

// PropAllowed reports whether an object governed by s may carry key.
func PropAllowed(s any, key string) bool {
	switch sv := s.(type) {
	case nil:
		return true
	case bool:
		return sv
	}
	if isPermissive(s) {
		return true
	}
	m, ok := s.(map[string]any)
	if !ok {
		return true
	}
	if _, ok := m["anyOf"]; ok {
		return true
	}
	if props, ok := m["properties"].(map[string]any); ok {
		if _, ok := props[key]; ok {
			return true
		}
	}
	if ap, ok := m["additionalProperties"].(bool); ok && !ap {
		return false
	}
	return true
}

// RequiredBy reports whether s lists key as required.
func RequiredBy(s any, key string) bool {
	m, ok := s.(map[string]any)
	if !ok || isPermissive(s) {
		return false
	}
	if _, hasAny := m["anyOf"]; hasAny {
		return false
	}
	req, ok := m["required"].([]any)
	if !ok {
		return false
	}
	for _, r := range req {
		if name, ok := r.(string); ok && name == key {
			return true
		}
	}
	return false
}

// BaseDoc builds the skeleton document implied by an object schema:
// every required key pre-created with an empty value of its declared
// type (empty array, empty object, or null).
func BaseDoc(root any) map[string]any {
	base := map[string]any{}
	m, ok := root.(map[string]any)
	if !ok {
		return base
	}
	if t, _ := m["type"].(string); t != "object" {
		return base
	}
	props, _ := m["properties"].(map[string]any)
	req, _ := m["required"].([]any)
	for _, r := range req {
		key, ok := r.(string)
		if !ok {
			continue
		}
		var typeName string
		if prop, ok := props[key].(map[string]any); ok {
			types := normalizeType(prop["type"])
			if len(types) > 0 {
				typeName = types[0]
			}
		}
		switch typeName {
		case "array":
			base[key] = []any{}
		case "object":
			base[key] = map[string]any{}
		default:
			base[key] = nil
		}
	}
	return base
}
