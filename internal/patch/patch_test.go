package patch

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func parseJSON(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return v
}

func newValidator() *Validator {
	return NewValidator(DefaultConfig())
}

func TestValidate_SimpleAddsAccepted(t *testing.T) {
	v := newValidator()
	doc := map[string]any{}
	out := v.Validate(doc, nil, []Op{
		Add("/name", "John Doe"),
		Add("/age", float64(30)),
		Add("/company", "Acme Corp."),
	})
	if !out.OK {
		t.Fatalf("rejected: %v", out.Rejections)
	}
	want := parseJSON(t, `{"name":"John Doe","age":30,"company":"Acme Corp."}`)
	if !reflect.DeepEqual(out.Doc, want) {
		t.Errorf("doc = %v, want %v", out.Doc, want)
	}
}

func TestValidate_AddOnExistingArrayIsDestructive(t *testing.T) {
	v := newValidator()
	doc := parseJSON(t, `{"employees":[{"n":1},{"n":2},{"n":3}]}`)

	// Regardless of schema presence and of the value's own type.
	for _, value := range []any{
		map[string]any{"replacement": "whole-array"},
		[]any{"new"},
		"scalar",
	} {
		out := v.Validate(doc, nil, []Op{Add("/employees", value)})
		if out.OK {
			t.Fatalf("accepted destructive add with value %v", value)
		}
		r := out.Rejections[0]
		if r.Kind != KindDestructiveOverwrite {
			t.Errorf("kind = %s, want DestructiveOverwrite", r.Kind)
		}
		if r.OpIndex != 0 {
			t.Errorf("opIndex = %d", r.OpIndex)
		}
		if !strings.Contains(r.Message, "/employees/-") {
			t.Errorf("message lacks the append fix: %s", r.Message)
		}
	}

	// The document is untouched on rejection.
	arr := doc.(map[string]any)["employees"].([]any)
	if len(arr) != 3 {
		t.Error("document changed after rejected batch")
	}
}

func TestValidate_AddOverArrayBuiltEarlierInBatch(t *testing.T) {
	v := newValidator()
	out := v.Validate(map[string]any{}, nil, []Op{
		Add("/items", []any{"a", "b", "c"}),
		Add("/items", "oops-scalar"),
	})
	if out.OK {
		t.Fatal("accepted add over an array created by an earlier op in the same batch")
	}
	r := out.Rejections[0]
	if r.OpIndex != 1 {
		t.Errorf("opIndex = %d, want 1", r.OpIndex)
	}
	if r.Kind != KindDestructiveOverwrite {
		t.Errorf("kind = %s, want DestructiveOverwrite", r.Kind)
	}
	if !strings.Contains(r.Message, "/items/-") {
		t.Errorf("message lacks the append fix: %s", r.Message)
	}
}

func TestValidate_ReplaceObjectBuiltEarlierInBatch(t *testing.T) {
	v := newValidator()
	out := v.Validate(map[string]any{}, nil, []Op{
		Add("/meta", map[string]any{"author": "Ann", "year": float64(2020)}),
		Replace("/meta", "flattened"),
	})
	if out.OK {
		t.Fatal("accepted scalar replace of an object created earlier in the batch")
	}
	r := out.Rejections[0]
	if r.OpIndex != 1 || r.Kind != KindTypeDowngrade {
		t.Errorf("rejection = %+v", r)
	}
}

func TestValidate_RemoveObjectBuiltEarlierInBatch(t *testing.T) {
	v := newValidator()
	out := v.Validate(map[string]any{}, nil, []Op{
		Add("/contacts", parseJSON(t, `{"email":"a@b.c","phone":"555","fax":"556"}`)),
		Remove("/contacts"),
	})
	if out.OK {
		t.Fatal("accepted removal of a populated object created earlier in the batch")
	}
	r := out.Rejections[0]
	if r.OpIndex != 1 || r.Kind != KindDestructiveOverwrite {
		t.Errorf("rejection = %+v", r)
	}
}

func TestValidate_AddAtRootWithExistingData(t *testing.T) {
	v := newValidator()
	doc := parseJSON(t, `{"name":"x"}`)
	out := v.Validate(doc, nil, []Op{Add("", map[string]any{"fresh": true})})
	if out.OK {
		t.Fatal("accepted root overwrite")
	}
	if out.Rejections[0].Kind != KindDestructiveOverwrite {
		t.Errorf("kind = %s", out.Rejections[0].Kind)
	}
}

func TestValidate_AddAtRootOnEmptyDocAllowed(t *testing.T) {
	v := newValidator()
	out := v.Validate(map[string]any{}, nil, []Op{Add("", map[string]any{"a": float64(1)})})
	if !out.OK {
		t.Fatalf("rejected: %v", out.Rejections)
	}
}

func TestValidate_ScalarOverContainerIsTypeDowngrade(t *testing.T) {
	v := newValidator()
	doc := parseJSON(t, `{"meta":{"a":1,"b":2,"c":3}}`)
	out := v.Validate(doc, nil, []Op{Replace("/meta", "oops")})
	if out.OK {
		t.Fatal("accepted scalar over populated object")
	}
	if out.Rejections[0].Kind != KindTypeDowngrade {
		t.Errorf("kind = %s", out.Rejections[0].Kind)
	}
}

func TestValidate_ReplaceOnPopulatedArrayRejected(t *testing.T) {
	v := newValidator()
	doc := parseJSON(t, `{"tags":["a","b"]}`)
	out := v.Validate(doc, nil, []Op{Replace("/tags", []any{"only"})})
	if out.OK {
		t.Fatal("accepted array replace")
	}
	if out.Rejections[0].Kind != KindDestructiveOverwrite {
		t.Errorf("kind = %s", out.Rejections[0].Kind)
	}
}

func TestValidate_ShrinkageGuard(t *testing.T) {
	v := newValidator()
	// Build a document with well over ten leaves.
	items := make([]any, 15)
	for i := range items {
		items[i] = map[string]any{
			"name":  strings.Repeat("x", 30),
			"value": float64(i),
		}
	}
	doc := map[string]any{"items": items, "title": "big document"}

	// Each op passes individual checks (removing leaf-depth items), but
	// the batch as a whole guts the document.
	var batch []Op
	for i := 14; i >= 1; i-- {
		batch = append(batch, Remove("/items/"+itoa(i)))
	}
	out := v.Validate(doc, nil, batch)
	if out.OK {
		t.Fatal("accepted batch that removes nearly all content")
	}
	last := out.Rejections[len(out.Rejections)-1]
	if last.Kind != KindShrinkageExceeded {
		t.Errorf("kind = %s, want ShrinkageExceeded (%v)", last.Kind, out.Rejections)
	}
	if last.OpIndex != -1 {
		t.Errorf("shrinkage applies to the batch, got opIndex %d", last.OpIndex)
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestValidate_SmallDocExemptFromShrinkage(t *testing.T) {
	v := newValidator()
	doc := parseJSON(t, `{"a":1,"b":2}`)
	out := v.Validate(doc, nil, []Op{Remove("/a"), Remove("/b")})
	if !out.OK {
		t.Fatalf("small document restructuring rejected: %v", out.Rejections)
	}
}

func TestValidate_DuplicateAppendRejected(t *testing.T) {
	v := newValidator()
	doc := parseJSON(t, `{"people":[{"name":"Ann","age":30}]}`)

	// Same content, different key order: still a duplicate.
	dup := parseJSON(t, `{"age":30,"name":"Ann"}`)
	out := v.Validate(doc, nil, []Op{Add("/people/-", dup)})
	if out.OK {
		t.Fatal("accepted exact duplicate append")
	}
	if out.Rejections[0].Kind != KindDuplicateItem {
		t.Errorf("kind = %s", out.Rejections[0].Kind)
	}

	// One field differs: near-duplicates are fine.
	near := parseJSON(t, `{"name":"Ann","age":31}`)
	out = v.Validate(doc, nil, []Op{Add("/people/-", near)})
	if !out.OK {
		t.Fatalf("rejected near-duplicate: %v", out.Rejections)
	}
}

func TestValidate_DuplicateIndexAppendRejected(t *testing.T) {
	v := newValidator()
	doc := parseJSON(t, `{"people":[{"name":"Ann"}]}`)

	// An add at index == length is an append in disguise.
	out := v.Validate(doc, nil, []Op{Add("/people/1", parseJSON(t, `{"name":"Ann"}`))})
	if out.OK {
		t.Fatal("accepted duplicate append via explicit index")
	}
	if out.Rejections[0].Kind != KindDuplicateItem {
		t.Errorf("kind = %s", out.Rejections[0].Kind)
	}

	// Inserting before the end is not an append and passes.
	out = v.Validate(doc, nil, []Op{Add("/people/0", parseJSON(t, `{"name":"Ann"}`))})
	if !out.OK {
		t.Fatalf("rejected mid-array insert: %v", out.Rejections)
	}
}

func TestValidate_IntraBatchDuplicate(t *testing.T) {
	v := newValidator()
	doc := parseJSON(t, `{"people":[]}`)
	item := parseJSON(t, `{"name":"Bob"}`)
	out := v.Validate(doc, nil, []Op{
		Add("/people/-", item),
		Add("/people/-", item),
	})
	if out.OK {
		t.Fatal("accepted intra-batch duplicate")
	}
	r := out.Rejections[0]
	if r.OpIndex != 1 || r.Kind != KindDuplicateItem {
		t.Errorf("rejection = %+v", r)
	}
}

func TestValidate_SchemaRequiredField(t *testing.T) {
	v := newValidator()
	sch := parseJSON(t, `{
		"type": "object",
		"properties": {
			"people": {
				"type": "array",
				"items": {"type": "object", "required": ["name"]}
			}
		}
	}`)
	doc := parseJSON(t, `{"people":[]}`)

	out := v.Validate(doc, sch, []Op{Add("/people/-", parseJSON(t, `{"age":5}`))})
	if out.OK {
		t.Fatal("accepted item missing required field")
	}
	r := out.Rejections[0]
	if r.Kind != KindSchemaViolation {
		t.Errorf("kind = %s", r.Kind)
	}
	if !strings.Contains(r.Message, "required field missing: name") {
		t.Errorf("message = %s", r.Message)
	}

	out = v.Validate(doc, sch, []Op{Add("/people/-", parseJSON(t, `{"name":"Eve"}`))})
	if !out.OK {
		t.Fatalf("rejected conforming item: %v", out.Rejections)
	}
}

func TestValidate_SchemaHintForArrayTarget(t *testing.T) {
	v := newValidator()
	sch := parseJSON(t, `{
		"type": "object",
		"properties": {"tags": {"type": "array", "items": {"type": "string"}}}
	}`)
	doc := map[string]any{}

	out := v.Validate(doc, sch, []Op{Add("/tags", map[string]any{"oops": true})})
	if out.OK {
		t.Fatal("accepted object where schema wants array")
	}
	if !strings.Contains(out.Rejections[0].Message, "/tags/-") {
		t.Errorf("missing append hint: %s", out.Rejections[0].Message)
	}
}

func TestValidate_SchemaClosedObject(t *testing.T) {
	v := newValidator()
	sch := parseJSON(t, `{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"additionalProperties": false
	}`)
	out := v.Validate(map[string]any{}, sch, []Op{Add("/surprise", "x")})
	if out.OK {
		t.Fatal("accepted property forbidden by closed schema")
	}
	if out.Rejections[0].Kind != KindSchemaViolation {
		t.Errorf("kind = %s", out.Rejections[0].Kind)
	}
}

func TestValidate_SchemaBaseDocSeedsRequiredContainers(t *testing.T) {
	v := newValidator()
	sch := parseJSON(t, `{
		"type": "object",
		"required": ["sections"],
		"properties": {"sections": {"type": "array"}}
	}`)
	out := v.Validate(map[string]any{}, sch, []Op{Add("/sections/-", "intro")})
	if !out.OK {
		t.Fatalf("append to schema-seeded array rejected: %v", out.Rejections)
	}
	got := out.Doc.(map[string]any)["sections"].([]any)
	if len(got) != 1 || got[0] != "intro" {
		t.Errorf("sections = %v", got)
	}
}

func TestValidate_SeededPlaceholdersDoNotTripGuards(t *testing.T) {
	v := newValidator()
	sch := parseJSON(t, `{
		"type": "object",
		"required": ["title", "author"],
		"properties": {
			"title": {"type": "string"},
			"author": {"type": "string"}
		}
	}`)
	// The required keys seed null placeholders into the working copy;
	// those must not register as existing data at the root.
	out := v.Validate(map[string]any{}, sch, []Op{
		Add("", parseJSON(t, `{"title":"T","author":"A"}`)),
	})
	if !out.OK {
		t.Fatalf("root add on a placeholder-only document rejected: %v", out.Rejections)
	}
}

func TestValidate_RemoveRequiredKeyRejected(t *testing.T) {
	v := newValidator()
	sch := parseJSON(t, `{
		"type": "object",
		"required": ["title"],
		"properties": {"title": {"type": "string"}}
	}`)
	doc := parseJSON(t, `{"title":"kept"}`)
	out := v.Validate(doc, sch, []Op{Remove("/title")})
	if out.OK {
		t.Fatal("accepted removal of required key")
	}
	if out.Rejections[0].Kind != KindSchemaViolation {
		t.Errorf("kind = %s", out.Rejections[0].Kind)
	}
}

func TestValidate_MissingValueAndFrom(t *testing.T) {
	v := newValidator()
	out := v.Validate(map[string]any{}, nil, []Op{{Op: "add", Path: "/x"}})
	if out.OK || out.Rejections[0].Kind != KindBadOperation {
		t.Errorf("missing value: %+v", out.Rejections)
	}
	out = v.Validate(map[string]any{}, nil, []Op{{Op: "move", Path: "/x"}})
	if out.OK || out.Rejections[0].Kind != KindBadOperation {
		t.Errorf("missing from: %+v", out.Rejections)
	}
}

func TestValidate_ReplaceMissingPath(t *testing.T) {
	v := newValidator()
	out := v.Validate(map[string]any{}, nil, []Op{Replace("/ghost", "x")})
	if out.OK {
		t.Fatal("accepted replace on missing path")
	}
	if out.Rejections[0].Kind != KindPointerNotFound {
		t.Errorf("kind = %s", out.Rejections[0].Kind)
	}
}

func TestValidate_BatchAtomicity(t *testing.T) {
	v := newValidator()
	doc := parseJSON(t, `{"tags":["a","b","c"]}`)
	out := v.Validate(doc, nil, []Op{
		Add("/ok", "fine"),
		Add("/tags", "destructive"),
	})
	if out.OK {
		t.Fatal("accepted batch with a destructive op")
	}
	if out.Doc != nil {
		t.Error("rejected batch produced a document")
	}
	if _, ok := doc.(map[string]any)["ok"]; ok {
		t.Error("first op leaked into the input document")
	}
}

func TestApply_SequentialMoveCopy(t *testing.T) {
	doc := parseJSON(t, `{"a":{"x":1},"list":[]}`)
	got, err := Apply(doc, []Op{
		Copy("/a", "/b"),
		Move("/a/x", "/b/y"),
		Add("/list/-", "end"),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := parseJSON(t, `{"a":{},"b":{"x":1,"y":1},"list":["end"]}`)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("doc = %v, want %v", got, want)
	}
	// Input unchanged.
	if _, ok := doc.(map[string]any)["b"]; ok {
		t.Error("Apply mutated its input")
	}
}

func TestApply_TestOp(t *testing.T) {
	doc := parseJSON(t, `{"status":"draft"}`)
	if _, err := Apply(doc, []Op{Test("/status", "draft")}); err != nil {
		t.Errorf("matching test failed: %v", err)
	}
	if _, err := Apply(doc, []Op{Test("/status", "final")}); err == nil {
		t.Error("mismatched test passed")
	}
}

func TestOp_UnmarshalTracksValuePresence(t *testing.T) {
	var with Op
	if err := json.Unmarshal([]byte(`{"op":"add","path":"/x","value":null}`), &with); err != nil {
		t.Fatal(err)
	}
	if !with.HasValue {
		t.Error("explicit null treated as absent")
	}
	var without Op
	if err := json.Unmarshal([]byte(`{"op":"add","path":"/x"}`), &without); err != nil {
		t.Fatal(err)
	}
	if without.HasValue {
		t.Error("absent value treated as present")
	}
}

func TestCountLeaves(t *testing.T) {
	doc := parseJSON(t, `{"a":1,"b":[2,3],"c":{"d":4,"e":[]}}`)
	if n := CountLeaves(doc); n != 4 {
		t.Errorf("leaves = %d, want 4", n)
	}
	if n := CountLeaves(map[string]any{}); n != 0 {
		t.Errorf("empty object leaves = %d", n)
	}
}
