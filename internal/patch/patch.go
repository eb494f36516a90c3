// Package patch validates and applies RFC 6902 JSON Patch batches
// against the accumulated document. Validation layers structural
// anti-hallucination guards (destructive overwrites, type downgrades,
// duplicate appends, whole-document shrinkage) on top of schema checks,
// and every rejection carries a prescriptive message telling the
// proposer the exact corrected operation to send next.
package patch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgallion1/textjson/internal/pointer"
	"github.com/dgallion1/textjson/internal/schema"
)

// Op is one JSON Patch operation.
type Op struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`

	// HasValue distinguishes an explicit null value from an absent one.
	HasValue bool `json:"-"`
}

func (o *Op) UnmarshalJSON(data []byte) error {
	var raw struct {
		Op    string          `json:"op"`
		Path  string          `json:"path"`
		From  string          `json:"from"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Op = raw.Op
	o.Path = raw.Path
	o.From = raw.From
	o.HasValue = raw.Value != nil
	if o.HasValue {
		if err := json.Unmarshal(raw.Value, &o.Value); err != nil {
			return err
		}
	}
	return nil
}

// Constructors for building batches in code.

func Add(path string, value any) Op {
	return Op{Op: "add", Path: path, Value: value, HasValue: true}
}

func Replace(path string, value any) Op {
	return Op{Op: "replace", Path: path, Value: value, HasValue: true}
}

func Remove(path string) Op {
	return Op{Op: "remove", Path: path}
}

func Move(from, path string) Op {
	return Op{Op: "move", Path: path, From: from}
}

func Copy(from, path string) Op {
	return Op{Op: "copy", Path: path, From: from}
}

func Test(path string, value any) Op {
	return Op{Op: "test", Path: path, Value: value, HasValue: true}
}

// Kind classifies a rejection.
type Kind string

const (
	KindInvalidPointer       Kind = "InvalidPointer"
	KindPointerNotFound      Kind = "PointerNotFound"
	KindDestructiveOverwrite Kind = "DestructiveOverwrite"
	KindTypeDowngrade        Kind = "TypeDowngrade"
	KindShrinkageExceeded    Kind = "ShrinkageExceeded"
	KindDuplicateItem        Kind = "DuplicateItem"
	KindSchemaViolation      Kind = "SchemaViolation"
	KindBadOperation         Kind = "BadOperation"
)

// Rejection explains why one operation (or the whole batch, OpIndex -1)
// was refused.
type Rejection struct {
	OpIndex int    `json:"opIndex"`
	Kind    Kind   `json:"kind"`
	Pointer string `json:"pointer"`
	Message string `json:"message"`
}

// Outcome is the result of validating a batch. When OK, Doc holds the
// document with the batch applied.
type Outcome struct {
	OK         bool        `json:"ok"`
	Rejections []Rejection `json:"errors,omitempty"`
	Doc        any         `json:"-"`
}

// Config carries the guard thresholds.
type Config struct {
	// ShrinkageRatio rejects a batch whose result serializes to less than
	// this fraction of the pre-batch size.
	ShrinkageRatio float64
	// ShrinkageLeafFloor disables the shrinkage guard while the document
	// holds at most this many leaf values, so early construction is free
	// to restructure.
	ShrinkageLeafFloor int
	// RemoveGuardMaxDepth bounds how deep the populated-object remove
	// guard applies. Deeper removes target individual items and pass.
	RemoveGuardMaxDepth int
	// RemoveGuardLeafFloor is the nested-value count above which removing
	// an object is blocked.
	RemoveGuardLeafFloor int
	// ReplaceLossRatio blocks an object-for-object replace that keeps
	// less than this fraction of nested values.
	ReplaceLossRatio float64
	// ReplaceLossLeafFloor disables the replace-loss guard for objects
	// holding at most this many nested values.
	ReplaceLossLeafFloor int
}

// DefaultConfig returns the stock guard thresholds.
func DefaultConfig() Config {
	return Config{
		ShrinkageRatio:       0.5,
		ShrinkageLeafFloor:   10,
		RemoveGuardMaxDepth:  3,
		RemoveGuardLeafFloor: 2,
		ReplaceLossRatio:     0.5,
		ReplaceLossLeafFloor: 5,
	}
}

// Validator checks patch batches against the document and an optional
// schema.
type Validator struct {
	cfg Config
}

func NewValidator(cfg Config) *Validator {
	d := DefaultConfig()
	if cfg.ShrinkageRatio <= 0 || cfg.ShrinkageRatio >= 1 {
		cfg.ShrinkageRatio = d.ShrinkageRatio
	}
	if cfg.ShrinkageLeafFloor <= 0 {
		cfg.ShrinkageLeafFloor = d.ShrinkageLeafFloor
	}
	if cfg.RemoveGuardMaxDepth <= 0 {
		cfg.RemoveGuardMaxDepth = d.RemoveGuardMaxDepth
	}
	if cfg.RemoveGuardLeafFloor <= 0 {
		cfg.RemoveGuardLeafFloor = d.RemoveGuardLeafFloor
	}
	if cfg.ReplaceLossRatio <= 0 || cfg.ReplaceLossRatio >= 1 {
		cfg.ReplaceLossRatio = d.ReplaceLossRatio
	}
	if cfg.ReplaceLossLeafFloor <= 0 {
		cfg.ReplaceLossLeafFloor = d.ReplaceLossLeafFloor
	}
	return &Validator{cfg: cfg}
}

// CountLeaves counts the scalar values inside a JSON value. Containers
// contribute only through their contents; an empty container counts 0.
func CountLeaves(v any) int {
	switch x := v.(type) {
	case map[string]any:
		n := 0
		for _, item := range x {
			n += CountLeaves(item)
		}
		return n
	case []any:
		n := 0
		for _, item := range x {
			n += CountLeaves(item)
		}
		return n
	default:
		return 1
	}
}

// nonNullLeaves counts like CountLeaves but skips nulls, so the
// placeholder values seeded from a schema's required keys never
// register as data worth guarding.
func nonNullLeaves(v any) int {
	switch x := v.(type) {
	case map[string]any:
		n := 0
		for _, item := range x {
			n += nonNullLeaves(item)
		}
		return n
	case []any:
		n := 0
		for _, item := range x {
			n += nonNullLeaves(item)
		}
		return n
	case nil:
		return 0
	default:
		return 1
	}
}

func serializedSize(v any) int {
	return len(schema.Canonical(v))
}

// Validate runs every guard over a simulated application of the batch.
// The batch is all-or-nothing: any rejection leaves the input document
// untouched and Outcome.Doc unset.
func (v *Validator) Validate(doc any, schemaRoot any, batch []Op) *Outcome {
	out := &Outcome{OK: true}
	if len(batch) == 0 {
		out.Doc = doc
		return out
	}

	reject := func(i int, kind Kind, ptr, msg string) {
		out.OK = false
		out.Rejections = append(out.Rejections, Rejection{
			OpIndex: i, Kind: kind, Pointer: ptr, Message: msg,
		})
	}

	if schemaRoot != nil {
		schemaRoot = schema.Inline(schemaRoot)
	}

	scratch := pointer.Clone(doc)
	if schemaRoot != nil {
		if base := schema.BaseDoc(schemaRoot); len(base) > 0 {
			if m, ok := scratch.(map[string]any); ok {
				for k, val := range base {
					if _, present := m[k]; !present {
						m[k] = val
					}
				}
			}
		}
	}

	for i := range batch {
		op := &batch[i]
		if msg := checkShape(op); msg != "" {
			reject(i, KindBadOperation, op.Path, msg)
			continue
		}
		if op.Path != "" && !strings.HasPrefix(op.Path, "/") {
			reject(i, KindInvalidPointer, op.Path,
				fmt.Sprintf("Invalid JSON Pointer: %q must start with \"/\". Did you mean \"/%s\"?", op.Path, op.Path))
			continue
		}
		tokens, err := pointer.Parse(op.Path)
		if err != nil {
			reject(i, KindInvalidPointer, op.Path, err.Error())
			continue
		}

		if op.Op == "replace" || op.Op == "remove" || op.Op == "test" {
			exists, err := pointer.Exists(scratch, op.Path)
			if err != nil {
				reject(i, KindInvalidPointer, op.Path, err.Error())
				continue
			}
			if !exists {
				reject(i, KindPointerNotFound, op.Path,
					fmt.Sprintf("%s failed: path does not exist in current document", op.Op))
				continue
			}
		}

		// Structural guards consult the scratch copy, not the pre-batch
		// document: an op that would destroy data created earlier in the
		// same batch is as destructive as one targeting older data.
		if msg, kind := v.checkStructural(scratch, op); msg != "" {
			reject(i, kind, op.Path, msg)
			continue
		}

		if op.Op == "add" && len(tokens) > 0 {
			if msg, kind := v.checkAddTarget(scratch, op, tokens, schemaRoot); msg != "" {
				reject(i, kind, op.Path, msg)
				continue
			}
		}

		if op.Op == "remove" && schemaRoot != nil && len(tokens) > 0 {
			parentTokens := tokens[:len(tokens)-1]
			key := tokens[len(tokens)-1]
			if parent, err := pointer.ResolveTokens(scratch, parentTokens); err == nil {
				if _, isObj := parent.(map[string]any); isObj {
					before := len(out.Rejections)
					for _, s := range schema.CandidatesAt(schemaRoot, parentTokens) {
						if schema.RequiredBy(s, key) {
							reject(i, KindSchemaViolation, op.Path,
								fmt.Sprintf("remove invalid: %q is required by the parent schema", key))
							break
						}
					}
					if len(out.Rejections) > before {
						continue
					}
				}
			}
		}

		if schemaRoot != nil && (op.Op == "add" || op.Op == "replace" || op.Op == "test") {
			if msg := valueAgainstSchema(schemaRoot, tokens, op); msg != "" {
				reject(i, KindSchemaViolation, op.Path, msg)
				continue
			}
		}

		next, err := applyOne(scratch, op)
		if err != nil {
			kind := KindBadOperation
			switch {
			case strings.Contains(err.Error(), pointer.ErrNotFound.Error()),
				strings.Contains(err.Error(), "does not exist"):
				kind = KindPointerNotFound
			case strings.Contains(err.Error(), pointer.ErrInvalid.Error()):
				kind = KindInvalidPointer
			}
			reject(i, kind, op.Path, fmt.Sprintf("failed to apply patch: %v", err))
			continue
		}
		scratch = next
	}

	if !out.OK {
		return out
	}

	// Whole-batch shrinkage guard over the simulated result.
	preLeaves := CountLeaves(doc)
	if preLeaves > v.cfg.ShrinkageLeafFloor {
		preSize := serializedSize(doc)
		postSize := serializedSize(scratch)
		if float64(postSize) < float64(preSize)*v.cfg.ShrinkageRatio {
			loss := 100 - int(float64(postSize)/float64(preSize)*100)
			reject(-1, KindShrinkageExceeded, "/",
				fmt.Sprintf("SHRINKAGE GUARD: this batch would reduce the document from %d to %d serialized bytes (%d%% data loss). This usually means a container was replaced instead of extended. Use \"/-\" to append to arrays, or update individual fields instead of replacing objects.",
					preSize, postSize, loss))
			return out
		}
	}

	out.Doc = scratch
	return out
}

// checkStructural runs the schema-independent anti-hallucination guards
// for one operation against the simulated document. Intra-batch effects
// are visible here: earlier accepted ops have already landed in scratch.
func (v *Validator) checkStructural(scratch any, op *Op) (string, Kind) {
	path := op.Path

	// add on a populated array replaces it wholesale.
	if op.Op == "add" && path != "" && !strings.HasSuffix(path, "/-") {
		if cur, err := pointer.Resolve(scratch, path); err == nil {
			if arr, ok := cur.([]any); ok && len(arr) > 0 {
				n := len(arr)
				switch val := op.Value.(type) {
				case []any:
					return fmt.Sprintf("DESTRUCTIVE OVERWRITE: %q already contains an array with %d items. Your \"add\" would REPLACE ALL existing data with a new array of %d items. To APPEND items, use %q for each: [{\"op\":\"add\",\"path\":\"%s/-\",\"value\":item1}, ...]",
						path, n, len(val), path+"/-", path), KindDestructiveOverwrite
				default:
					return fmt.Sprintf("DESTRUCTIVE OVERWRITE: %q already contains an array with %d items. Your \"add\" would REPLACE the entire array with a single %s. To APPEND, use %q: {\"op\":\"add\",\"path\":\"%s/-\",\"value\":...}",
						path, n, schema.TypeOf(op.Value), path+"/-", path), KindDestructiveOverwrite
				}
			}
		}
	}

	// add at the root replaces everything accumulated so far.
	// Schema-seeded null placeholders do not count as data.
	if op.Op == "add" && (path == "" || path == "/") {
		if n := nonNullLeaves(scratch); n > 0 {
			return fmt.Sprintf("DESTRUCTIVE: \"add\" at root would REPLACE the entire document (%d existing values). Add to specific paths instead (e.g., /metadata, /sections/-).", n), KindDestructiveOverwrite
		}
	}

	// replace on a populated container.
	if op.Op == "replace" && path != "" {
		if cur, err := pointer.Resolve(scratch, path); err == nil {
			if arr, ok := cur.([]any); ok && len(arr) > 0 {
				return fmt.Sprintf("DESTRUCTIVE REPLACE: %q is an array with %d items. Replacing it would DISCARD all existing data. To update specific items, use \"replace\" on individual indices (e.g., \"%s/0\"). To append new items, use \"add\" with %q.",
					path, len(arr), path, path+"/-"), KindDestructiveOverwrite
			}
			if obj, ok := cur.(map[string]any); ok && len(obj) > 0 {
				nested := nonNullLeaves(obj)
				if isScalar(op.Value) {
					return fmt.Sprintf("TYPE DOWNGRADE: %q is an object with %d keys (%d nested values). Replacing it with a %s would DESTROY all nested data. To update a specific field, use \"%s/fieldName\" as the path.",
						path, len(obj), nested, schema.TypeOf(op.Value), path), KindTypeDowngrade
				}
				if newObj, ok := op.Value.(map[string]any); ok {
					newCount := nonNullLeaves(newObj)
					if nested > v.cfg.ReplaceLossLeafFloor &&
						float64(newCount) < float64(nested)*v.cfg.ReplaceLossRatio {
						loss := 100 - int(float64(newCount)/float64(nested)*100)
						return fmt.Sprintf("SIGNIFICANT DATA LOSS: replacing %q would reduce content from %d to %d values (%d%% loss). Update individual fields instead.",
							path, nested, newCount, loss), KindDestructiveOverwrite
					}
				}
			}
		}
	}

	// remove on a populated high-level container.
	if op.Op == "remove" && path != "" {
		depth := strings.Count(path, "/")
		if cur, err := pointer.Resolve(scratch, path); err == nil {
			nested := nonNullLeaves(cur)
			if arr, ok := cur.([]any); ok && len(arr) > 0 {
				return fmt.Sprintf("DATA LOSS WARNING: removing %q would delete an array with %d items (%d total nested values). If you need to remove specific items, use their full path (e.g., \"%s/0\").",
					path, len(arr), nested, path), KindDestructiveOverwrite
			}
			if obj, ok := cur.(map[string]any); ok &&
				nested > v.cfg.RemoveGuardLeafFloor && depth <= v.cfg.RemoveGuardMaxDepth {
				return fmt.Sprintf("DATA LOSS WARNING: removing %q would delete an object with %d keys (%d total nested values). If you need to remove specific fields, use their full path (e.g., \"%s/fieldName\").",
					path, len(obj), nested, path), KindDestructiveOverwrite
			}
		}
	}

	// scalar over any populated container, on any path.
	if (op.Op == "add" || op.Op == "replace") && path != "" && op.Value != nil {
		if cur, err := pointer.Resolve(scratch, path); err == nil && cur != nil {
			if isContainer(cur) && isScalar(op.Value) {
				if nested := nonNullLeaves(cur); nested > 1 {
					preview := schema.Canonical(op.Value)
					if len(preview) > 60 {
						preview = preview[:60]
					}
					return fmt.Sprintf("TYPE DOWNGRADE: %q is a %s with %d nested values. Replacing it with a %s (%s) would DESTROY all nested data. Update specific fields instead.",
						path, schema.TypeOf(cur), nested, schema.TypeOf(op.Value), preview), KindTypeDowngrade
				}
			}
		}
	}

	// duplicate append: same canonical form already in the target array.
	// Earlier appends in the batch are already in scratch, so intra-batch
	// duplicates are caught by the same comparison.
	if op.Op == "add" {
		if arr, arrayPath, ok := appendTarget(scratch, path); ok {
			canonical := schema.Canonical(op.Value)
			for _, item := range arr {
				if schema.Canonical(item) == canonical {
					preview := canonical
					if len(preview) > 120 {
						preview = preview[:120]
					}
					return fmt.Sprintf("DUPLICATE ITEM: an identical item already exists in the array at %q. Use search_pointer before appending, or modify the existing item instead. Preview: %s",
						arrayPath, preview), KindDuplicateItem
				}
			}
		}
	}

	return "", ""
}

// appendTarget reports whether an add at path appends to an array in
// doc. Both the "-" token and an explicit index equal to the current
// length are appends; a smaller index is an insert and passes through.
func appendTarget(doc any, path string) ([]any, string, bool) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return nil, "", false
	}
	arrayPath, key := path[:idx], path[idx+1:]
	cur, err := pointer.Resolve(doc, arrayPath)
	if err != nil {
		return nil, "", false
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil, "", false
	}
	if key == "-" {
		return arr, arrayPath, true
	}
	if n, err := strconv.Atoi(key); err == nil && n == len(arr) {
		return arr, arrayPath, true
	}
	return nil, "", false
}

func checkShape(op *Op) string {
	switch op.Op {
	case "add", "replace", "test":
		if !op.HasValue {
			return fmt.Sprintf("operation %q requires field \"value\"", op.Op)
		}
	case "move", "copy":
		if op.From == "" {
			return fmt.Sprintf("operation %q requires field \"from\"", op.Op)
		}
	case "remove":
	case "":
		return "invalid operation (missing op/path)"
	default:
		return fmt.Sprintf("operation not supported: %q", op.Op)
	}
	return ""
}

// checkAddTarget validates the parent and key of a non-root add against
// the simulated document and, when present, the schema.
func (v *Validator) checkAddTarget(scratch any, op *Op, tokens []string, schemaRoot any) (string, Kind) {
	parentTokens := tokens[:len(tokens)-1]
	key := tokens[len(tokens)-1]

	parent, err := pointer.ResolveTokens(scratch, parentTokens)
	if err != nil {
		return "add failed: parent path does not exist. Use inspect_keys to verify the parent path exists before adding.", KindPointerNotFound
	}

	switch p := parent.(type) {
	case []any:
		if key != "-" {
			if _, err := pointer.ArrayIndex(key, len(p), false, true); err != nil {
				base := op.Path
				if idx := strings.LastIndex(base, "/"); idx >= 0 {
					base = base[:idx]
				}
				return fmt.Sprintf("add in array: invalid index %q. Array has %d items (valid indices: 0..%d, or \"-\" to append). Use %q to append to the end.",
					key, len(p), len(p), base+"/-"), KindInvalidPointer
			}
		}
	case map[string]any:
		if schemaRoot != nil {
			allowed := false
			for _, s := range schema.CandidatesAt(schemaRoot, parentTokens) {
				if schema.PropAllowed(s, key) {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Sprintf("add invalid: property %q is not allowed by the parent schema. Inspect the schema to see which properties are allowed at this level.", key), KindSchemaViolation
			}
		}
	default:
		return "add failed: parent is not an object or array.", KindPointerNotFound
	}
	return "", ""
}

// valueAgainstSchema validates an operation's value against every
// candidate schema at the target, keeping the candidate with the fewest
// violations, and attaches an actionable hint for the common
// object-instead-of-append mistake.
func valueAgainstSchema(schemaRoot any, tokens []string, op *Op) string {
	candidates := schema.CandidatesAt(schemaRoot, tokens)
	var best []schema.Violation
	first := true
	for _, s := range candidates {
		errs := schema.Validate(s, op.Value, op.Path)
		if first || len(errs) < len(best) {
			best = errs
			first = false
		}
	}
	if len(best) == 0 {
		return ""
	}

	msgs := make([]string, 0, len(best))
	for _, e := range best {
		msgs = append(msgs, e.String())
	}

	hint := ""
	valType := schema.TypeOf(op.Value)
	for _, s := range candidates {
		m, ok := s.(map[string]any)
		if !ok {
			continue
		}
		sType, _ := m["type"].(string)
		if sType == "array" && valType == "object" {
			hint = fmt.Sprintf(" HINT: The schema expects an array at %q, but you provided a single object. To append this object to the array, use path %q instead.",
				op.Path, op.Path+"/-")
			break
		}
		if sType == "array" && valType != "array" {
			hint = fmt.Sprintf(" HINT: The schema expects an array at %q. To append an item, use path %q with the item as value.",
				op.Path, op.Path+"/-")
			break
		}
		if sType == "object" && valType == "array" {
			hint = fmt.Sprintf(" HINT: The schema expects an object at %q, but you provided an array. Pass a single object as the value.", op.Path)
			break
		}
	}
	return fmt.Sprintf("value incompatible with schema at path: %s%s", strings.Join(msgs, " | "), hint)
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any, nil:
		return false
	default:
		return true
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// Apply applies an already-validated batch with sequential RFC 6902
// semantics: move/copy resolve "from" against the document as of that
// point in the batch. An error here after a Validate accept is a defect
// in the validator, not a correctable proposal mistake.
func Apply(doc any, batch []Op) (any, error) {
	current := pointer.Clone(doc)
	for i := range batch {
		next, err := applyOne(current, &batch[i])
		if err != nil {
			return nil, fmt.Errorf("op %d (%s %s): %w", i, batch[i].Op, batch[i].Path, err)
		}
		current = next
	}
	return current, nil
}

func applyOne(doc any, op *Op) (any, error) {
	switch op.Op {
	case "add":
		return pointer.Add(doc, op.Path, op.Value)
	case "replace":
		return pointer.Replace(doc, op.Path, op.Value)
	case "remove":
		return pointer.Remove(doc, op.Path)
	case "test":
		cur, err := pointer.Resolve(doc, op.Path)
		if err != nil {
			return nil, fmt.Errorf("test failed: %s does not exist", op.Path)
		}
		if !schema.DeepEqual(cur, op.Value) {
			return nil, fmt.Errorf("test failed: value differs at %s", op.Path)
		}
		return doc, nil
	case "move":
		src, err := pointer.Resolve(doc, op.From)
		if err != nil {
			return nil, fmt.Errorf("move failed: from=%s does not exist", op.From)
		}
		moved := pointer.Clone(src)
		next, err := pointer.Remove(doc, op.From)
		if err != nil {
			return nil, err
		}
		return pointer.Add(next, op.Path, moved)
	case "copy":
		src, err := pointer.Resolve(doc, op.From)
		if err != nil {
			return nil, fmt.Errorf("copy failed: from=%s does not exist", op.From)
		}
		return pointer.Add(doc, op.Path, pointer.Clone(src))
	default:
		return nil, fmt.Errorf("operation not supported: %q", op.Op)
	}
}
