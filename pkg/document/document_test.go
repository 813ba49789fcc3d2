package document

import (
	"testing"
)

func TestNewDocument(t *testing.T) {
	doc := NewDocument()
	if doc == nil {
		t.Fatal("NewDocument returned nil")
	}
	if doc.Len() != 0 {
		t.Errorf("Expected empty document, got length %d", doc.Len())
	}
}

func TestDocumentSetGet(t *testing.T) {
	doc := NewDocument()

	doc.Set("name", "Alice")
	val, exists := doc.Get("name")
	if !exists {
		t.Error("Expected name field to exist")
	}
	if val.(string) != "Alice" {
		t.Errorf("Expected 'Alice', got %v", val)
	}

	doc.Set("age", int64(30))
	val, exists = doc.Get("age")
	if !exists {
		t.Error("Expected age field to exist")
	}
	if val.(int64) != 30 {
		t.Errorf("Expected 30, got %v", val)
	}

	if got := doc.GetOrMissing("missing"); !IsMissing(got) {
		t.Errorf("Expected Missing for absent field, got %v", got)
	}
}

func TestDocumentKeyOrder(t *testing.T) {
	doc := NewDocument()
	doc.Set("c", int64(1))
	doc.Set("a", int64(2))
	doc.Set("b", int64(3))
	// overwriting keeps the original position
	doc.Set("c", int64(4))

	keys := doc.Keys()
	expected := []string{"c", "a", "b"}
	if len(keys) != len(expected) {
		t.Fatalf("Expected %d keys, got %d", len(expected), len(keys))
	}
	for i, key := range expected {
		if keys[i] != key {
			t.Errorf("Expected key %q at position %d, got %q", key, i, keys[i])
		}
	}
}

func TestDocumentRemove(t *testing.T) {
	doc := NewDocumentFromPairs("name", "Alice", "age", int64(30))

	removed := doc.Remove("name")
	if removed.(string) != "Alice" {
		t.Errorf("Expected removed value 'Alice', got %v", removed)
	}
	if doc.Has("name") {
		t.Error("Expected name to be removed")
	}
	if doc.Len() != 1 {
		t.Errorf("Expected 1 field, got %d", doc.Len())
	}
	if !IsMissing(doc.Remove("name")) {
		t.Error("Expected Missing when removing an absent field")
	}
}

func TestDocumentClone(t *testing.T) {
	doc := NewDocumentFromPairs(
		"name", "Alice",
		"tags", []interface{}{"a", "b"},
		"nested", NewDocumentFromPairs("x", int64(1)),
	)
	clone := doc.Clone()
	if !doc.Equal(clone) {
		t.Fatal("Expected clone to equal original")
	}

	// mutating the clone must not touch the original
	nested, _ := clone.Get("nested")
	nested.(*Document).Set("x", int64(99))
	original, _ := doc.Get("nested")
	if v, _ := original.(*Document).Get("x"); v.(int64) != 1 {
		t.Errorf("Clone mutation leaked into original: %v", v)
	}
}

func TestDocumentEqualHonorsOrder(t *testing.T) {
	a := NewDocumentFromPairs("x", int64(1), "y", int64(2))
	b := NewDocumentFromPairs("y", int64(2), "x", int64(1))
	if a.Equal(b) {
		t.Error("Expected documents with different key order not to be Equal")
	}
}

func TestConvert(t *testing.T) {
	converted := Convert(map[string]interface{}{
		"n":      5,
		"nested": map[string]interface{}{"a": 1.5},
		"list":   []interface{}{1, "two"},
	})
	doc, ok := converted.(*Document)
	if !ok {
		t.Fatalf("Expected *Document, got %T", converted)
	}
	if n, _ := doc.Get("n"); n.(int64) != 5 {
		t.Errorf("Expected plain int to convert to int64, got %T", n)
	}
	nested, _ := doc.Get("nested")
	if _, ok := nested.(*Document); !ok {
		t.Errorf("Expected nested map to convert to *Document, got %T", nested)
	}
	list, _ := doc.Get("list")
	if list.([]interface{})[0].(int64) != 1 {
		t.Errorf("Expected list element to convert, got %v", list)
	}
}

func TestFormatValue(t *testing.T) {
	doc := NewDocumentFromPairs("a", []interface{}{int64(1), "x"})
	if got := doc.String(); got != `{"a": [1, "x"]}` {
		t.Errorf("Unexpected rendering: %s", got)
	}
}
