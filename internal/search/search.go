// Package search scans a JSON value (document or schema) for keys or
// primitive values matching a query and returns JSON Pointers to the
// hits. Fuzzy mode ranks candidates by similarity score; results are
// ordered best-first with pointer order breaking ties, so output is
// deterministic. The expected workflow is search-before-append: the
// proposer checks whether an entity already exists before creating it.
package search

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/sahilm/fuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/dgallion1/textjson/internal/pointer"
)

// Kind selects what the query matches against.
type Kind string

const (
	KindKey   Kind = "key"
	KindValue Kind = "value"
)

// DefaultMaxValueLen bounds stored match values.
const DefaultMaxValueLen = 120

// Query describes one search.
type Query struct {
	Query           string
	Kind            Kind // defaults to KindValue
	Fuzzy           bool
	CaseInsensitive bool // exact mode only; fuzzy always folds case
	Limit           int  // 0 means unlimited
	MaxValueLen     int  // 0 means DefaultMaxValueLen
}

// Match is one hit.
type Match struct {
	Pointer        string `json:"pointer"`
	Kind           Kind   `json:"kind"`
	Key            string `json:"key,omitempty"`
	Value          any    `json:"value,omitempty"`
	ValueType      string `json:"valueType,omitempty"`
	ValueTruncated bool   `json:"valueTruncated,omitempty"`
	Score          int    `json:"score"`
}

// Result is the ordered set of hits.
type Result struct {
	Matches   []Match `json:"matches"`
	Count     int     `json:"count"`
	Truncated bool    `json:"truncated"`
}

// candidate is a matchable location gathered during traversal.
type candidate struct {
	pointer string
	kind    Kind
	key     string
	value   any
	text    string // the comparable form
}

// Search walks root and returns matches for q, best-first. Exact mode
// compares literally, case-sensitive unless q.CaseInsensitive; fuzzy mode
// ranks by similarity after case and accent folding.
func Search(root any, q Query) Result {
	if q.Kind != KindKey {
		q.Kind = KindValue
	}
	if q.MaxValueLen <= 0 {
		q.MaxValueLen = DefaultMaxValueLen
	}

	var cands []candidate
	collect(root, "", q.Kind, &cands)

	var matches []Match
	if q.Fuzzy {
		matches = fuzzyMatches(cands, q)
	} else {
		matches = exactMatches(cands, q)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Pointer < matches[j].Pointer
	})

	truncated := false
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
		truncated = true
	}
	if matches == nil {
		matches = []Match{}
	}
	return Result{Matches: matches, Count: len(matches), Truncated: truncated}
}

// collect walks the tree in deterministic order (sorted object keys)
// gathering key or primitive-value candidates.
func collect(node any, ptr string, kind Kind, out *[]candidate) {
	switch n := node.(type) {
	case []any:
		for i, item := range n {
			childPtr := ptr + "/" + strconv.Itoa(i)
			if kind == KindValue && isPrimitive(item) {
				*out = append(*out, candidate{
					pointer: childPtr, kind: KindValue,
					value: item, text: comparableText(item),
				})
			}
			collect(item, childPtr, kind, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			childPtr := pointer.Join(ptr, k)
			if kind == KindKey {
				*out = append(*out, candidate{
					pointer: childPtr, kind: KindKey, key: k, text: k,
				})
			}
			v := n[k]
			if kind == KindValue && isPrimitive(v) {
				*out = append(*out, candidate{
					pointer: childPtr, kind: KindValue,
					value: v, text: comparableText(v),
				})
			}
			collect(v, childPtr, kind, out)
		}
	}
}

func exactMatches(cands []candidate, q Query) []Match {
	var out []Match
	for _, c := range cands {
		text, query := c.text, q.Query
		if q.CaseInsensitive {
			text = strings.ToLower(text)
			query = strings.ToLower(query)
		}
		if text != query {
			continue
		}
		out = append(out, toMatch(c, 0, q.MaxValueLen))
	}
	return out
}

func fuzzyMatches(cands []candidate, q Query) []Match {
	normalized := make([]string, len(cands))
	for i, c := range cands {
		normalized[i] = Normalize(c.text)
	}
	hits := fuzzy.Find(Normalize(q.Query), normalized)
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		out = append(out, toMatch(cands[h.Index], h.Score, q.MaxValueLen))
	}
	return out
}

func toMatch(c candidate, score, maxValueLen int) Match {
	m := Match{Pointer: c.pointer, Kind: c.kind, Score: score}
	if c.kind == KindKey {
		m.Key = c.key
		return m
	}
	m.ValueType = pointer.TypeName(c.value)
	m.Value = c.value
	if s, ok := c.value.(string); ok {
		if r := []rune(s); len(r) > maxValueLen {
			m.Value = string(r[:maxValueLen]) + "…"
			m.ValueTruncated = true
		}
	}
	return m
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	default:
		return true
	}
}

func comparableText(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

var accentStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize folds case and strips combining accent marks so "Müller"
// and "muller" compare equal in fuzzy mode.
func Normalize(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
