package inspect

import (
	"encoding/json"
	"strings"
	"testing"
)

func doc(t *testing.T) any {
	t.Helper()
	raw := `{
		"metadata": {"author": "Jane", "year": 2024},
		"sections": [
			{"title": "Intro"},
			{"title": "Body", "fields": [1, 2, 3]}
		]
	}`
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestInspect_RootObject(t *testing.T) {
	rep := Inspect(doc(t), "", DefaultOptions())
	if !rep.Found {
		t.Fatalf("report = %+v", rep)
	}
	if rep.ResolvedPointer != "/" {
		t.Errorf("resolved = %q", rep.ResolvedPointer)
	}
	s := rep.Summary
	if s.Type != "object" || s.Count != 2 {
		t.Errorf("summary = %+v", s)
	}
	// Keys come back sorted.
	if s.Keys[0] != "metadata" || s.Keys[1] != "sections" {
		t.Errorf("keys = %v", s.Keys)
	}
}

func TestInspect_ArrayLengthAndPreview(t *testing.T) {
	rep := Inspect(doc(t), "/sections", DefaultOptions())
	if !rep.Found {
		t.Fatalf("report = %+v", rep)
	}
	s := rep.Summary
	if s.Type != "array" || s.Length != 2 {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Items) != 2 || s.Items[0].Type != "object" {
		t.Errorf("items = %+v", s.Items)
	}
}

func TestInspect_PrimitiveValuePreview(t *testing.T) {
	rep := Inspect(doc(t), "/metadata/author", DefaultOptions())
	if !rep.Found || rep.Summary.Type != "string" {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Summary.ValuePreview != "Jane" {
		t.Errorf("preview = %v", rep.Summary.ValuePreview)
	}
}

func TestInspect_MissingKeyListsAvailableKeys(t *testing.T) {
	rep := Inspect(doc(t), "/metadata/missing", DefaultOptions())
	if rep.Found {
		t.Fatal("missing key reported as found")
	}
	if rep.AtPointer != "/metadata/missing" {
		t.Errorf("atPointer = %q", rep.AtPointer)
	}
	if rep.ContainerType != "object" {
		t.Errorf("containerType = %q", rep.ContainerType)
	}
	if len(rep.AvailableKeys) != 2 || rep.AvailableKeys[0] != "author" {
		t.Errorf("availableKeys = %v", rep.AvailableKeys)
	}
}

func TestInspect_BadArrayIndex(t *testing.T) {
	rep := Inspect(doc(t), "/sections/x", DefaultOptions())
	if rep.Found {
		t.Fatal("bad index reported as found")
	}
	if rep.ContainerType != "array" || rep.ContainerLength != 2 {
		t.Errorf("report = %+v", rep)
	}
	if !strings.Contains(rep.Message, "numeric index") {
		t.Errorf("message = %q", rep.Message)
	}

	rep = Inspect(doc(t), "/sections/9", DefaultOptions())
	if rep.Found || !strings.Contains(rep.Message, "out of range") {
		t.Errorf("report = %+v", rep)
	}
}

func TestInspect_TraverseIntoScalar(t *testing.T) {
	rep := Inspect(doc(t), "/metadata/year/deep", DefaultOptions())
	if rep.Found {
		t.Fatal("scalar traversal reported as found")
	}
	if rep.AtPointer != "/metadata/year" {
		t.Errorf("atPointer = %q", rep.AtPointer)
	}
}

func TestInspect_ForgivingPointerForms(t *testing.T) {
	// Missing leading slash and URL-encoded tokens still resolve.
	rep := Inspect(doc(t), "metadata/author", DefaultOptions())
	if !rep.Found {
		t.Errorf("report = %+v", rep)
	}
	d := map[string]any{"a b": "spaced"}
	rep = Inspect(d, "/a%20b", DefaultOptions())
	if !rep.Found || rep.Summary.ValuePreview != "spaced" {
		t.Errorf("report = %+v", rep)
	}
}

func TestInspect_DepthLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxDepth = 1

	var v any
	raw := `{"outer": {"inner": [1, 2]}}`
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatal(err)
	}
	rep := Inspect(v, "/outer/inner", opts)
	if !rep.Found {
		t.Fatal("not found")
	}
	// At depth 0 the summary is allowed one level; inner previews
	// collapse once the limit is hit.
	if rep.Summary.DepthNote == "" && rep.Summary.PreviewCount == 0 {
		t.Errorf("summary = %+v", rep.Summary)
	}
}

func TestInspect_LongStringTruncatedWithLength(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxStringLen = 10
	d := map[string]any{"text": strings.Repeat("a", 50)}
	rep := Inspect(d, "/text", opts)
	preview := rep.Summary.ValuePreview.(string)
	if !strings.Contains(preview, "len=50") {
		t.Errorf("preview = %q", preview)
	}
}

func TestInspect_KeyPreviewCap(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxKeys = 3
	d := map[string]any{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5}
	rep := Inspect(d, "", opts)
	s := rep.Summary
	if len(s.Keys) != 3 || !s.Truncated || s.Count != 5 {
		t.Errorf("summary = %+v", s)
	}
}
