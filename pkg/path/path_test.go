package path

import (
	"errors"
	"testing"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

func TestGetSimple(t *testing.T) {
	doc := document.NewDocumentFromPairs(
		"a", int64(1),
		"nested", document.NewDocumentFromPairs("b", "x"),
	)

	value, err := Get(doc, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value.(int64) != 1 {
		t.Errorf("Expected 1, got %v", value)
	}

	value, err = Get(doc, "nested.b")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value.(string) != "x" {
		t.Errorf("Expected 'x', got %v", value)
	}

	value, err = Get(doc, "nested.absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !document.IsMissing(value) {
		t.Errorf("Expected Missing, got %v", value)
	}
}

func TestGetArrayIndex(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", []interface{}{
		document.NewDocumentFromPairs("b", int64(1)),
		document.NewDocumentFromPairs("b", int64(2)),
	})

	value, err := Get(doc, "a.1.b")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value.(int64) != 2 {
		t.Errorf("Expected 2, got %v", value)
	}

	value, err = Get(doc, "a.5")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !document.IsMissing(value) {
		t.Errorf("Expected Missing for out-of-range index, got %v", value)
	}
}

func TestGetCollectionAwareFanOut(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", []interface{}{
		document.NewDocumentFromPairs("foo", "bar"),
		document.NewDocumentFromPairs("foo", "bas"),
		document.NewDocumentFromPairs("foo", "bat"),
	})

	value, err := GetCollectionAware(doc, "a.foo")
	if err != nil {
		t.Fatalf("GetCollectionAware failed: %v", err)
	}
	array, ok := value.([]interface{})
	if !ok {
		t.Fatalf("Expected array, got %T", value)
	}
	if len(array) != 3 || array[1].(string) != "bas" {
		t.Errorf("Unexpected fan-out result: %v", array)
	}
}

func TestGetTraversalIntoScalarYieldsMissing(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", int64(5))
	value, err := Get(doc, "a.b.c")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !document.IsMissing(value) {
		t.Errorf("Expected Missing, got %v", value)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	tests := []string{"a", "a.b", "a.b.c", "arr.0", "arr.2"}
	for _, p := range tests {
		doc := document.NewDocument()
		if p == "arr.0" || p == "arr.2" {
			doc.Set("arr", []interface{}{})
		}
		if err := Set(doc, p, "value", nil); err != nil {
			t.Fatalf("Set(%q) failed: %v", p, err)
		}
		got, err := Get(doc, p)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", p, err)
		}
		if got != "value" {
			t.Errorf("Set/Get round trip failed for %q: got %v", p, got)
		}
	}
}

func TestSetCreatesIntermediateDocuments(t *testing.T) {
	doc := document.NewDocument()
	if err := Set(doc, "a.b.c", int64(1), nil); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	a, _ := doc.Get("a")
	if _, ok := a.(*document.Document); !ok {
		t.Fatalf("Expected intermediate document, got %T", a)
	}
}

func TestSetPadsArraysWithNulls(t *testing.T) {
	doc := document.NewDocumentFromPairs("arr", []interface{}{int64(1)})
	if err := Set(doc, "arr.3", int64(9), nil); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	arr, _ := doc.Get("arr")
	array := arr.([]interface{})
	if len(array) != 4 {
		t.Fatalf("Expected padded array of 4, got %v", array)
	}
	if array[1] != nil || array[2] != nil {
		t.Errorf("Expected null padding, got %v", array)
	}
	if array[3].(int64) != 9 {
		t.Errorf("Expected 9 at index 3, got %v", array[3])
	}
}

func TestSetIntoScalarFailsPathNotViable(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", int64(5))
	err := Set(doc, "a.b", int64(1), nil)
	if !mongoerr.HasCode(err, mongoerr.CodePathNotViable) {
		t.Errorf("Expected PathNotViable, got %v", err)
	}
}

func TestSetNamedFieldInArrayFailsPathNotViable(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", []interface{}{int64(1)})
	err := Set(doc, "a.b", int64(1), nil)
	if !mongoerr.HasCode(err, mongoerr.CodePathNotViable) {
		t.Errorf("Expected PathNotViable, got %v", err)
	}
}

func TestHasMatchesGet(t *testing.T) {
	doc := document.NewDocumentFromPairs(
		"a", document.NewDocumentFromPairs("b", nil),
		"arr", []interface{}{int64(1)},
	)
	tests := []struct {
		path     string
		expected bool
	}{
		{"a", true},
		{"a.b", true},
		{"a.c", false},
		{"arr.0", true},
		{"arr.1", false},
	}
	for _, tt := range tests {
		has, err := Has(doc, tt.path)
		if err != nil {
			t.Fatalf("Has(%q) failed: %v", tt.path, err)
		}
		if has != tt.expected {
			t.Errorf("Has(%q) = %v, expected %v", tt.path, has, tt.expected)
		}
		value, err := Get(doc, tt.path)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", tt.path, err)
		}
		if has == document.IsMissing(value) {
			t.Errorf("Has(%q) disagrees with Get", tt.path)
		}
	}
}

func TestRemove(t *testing.T) {
	doc := document.NewDocumentFromPairs(
		"a", document.NewDocumentFromPairs("b", int64(1), "c", int64(2)),
	)
	removed, err := Remove(doc, "a.b", nil)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed.(int64) != 1 {
		t.Errorf("Expected removed value 1, got %v", removed)
	}
	if has, _ := Has(doc, "a.b"); has {
		t.Error("Expected a.b to be gone")
	}
	if has, _ := Has(doc, "a.c"); !has {
		t.Error("Expected a.c to survive")
	}

	removed, err = Remove(doc, "a.absent", nil)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !document.IsMissing(removed) {
		t.Errorf("Expected Missing for absent path, got %v", removed)
	}
}

func TestValidateKey(t *testing.T) {
	err := ValidateKey("a.")
	if !mongoerr.HasCode(err, mongoerr.CodeFieldPathTrailingDot) {
		t.Errorf("Expected code 40353, got %v", err)
	}
	for _, key := range []string{".a", "a..b"} {
		err := ValidateKey(key)
		if !mongoerr.HasCode(err, mongoerr.CodeFieldPathEmptyName) {
			t.Errorf("Expected code 15998 for %q, got %v", key, err)
		}
	}
	if err := ValidateKey("a.b"); err != nil {
		t.Errorf("Expected valid key, got %v", err)
	}
}

func TestResolvePositional(t *testing.T) {
	resolved, err := ResolvePositional("arr.$.y", NewMatchPos(1))
	if err != nil {
		t.Fatalf("ResolvePositional failed: %v", err)
	}
	if resolved != "arr.1.y" {
		t.Errorf("Expected 'arr.1.y', got %q", resolved)
	}

	_, err = ResolvePositional("arr.$.y", nil)
	var serverErr *mongoerr.Error
	if !errors.As(err, &serverErr) || serverErr.Code != mongoerr.CodeBadValue {
		t.Errorf("Expected BadValue without a match position, got %v", err)
	}
	if err != nil && serverErr.Message != "The positional operator did not find the match needed from the query." {
		t.Errorf("Unexpected message: %s", serverErr.Message)
	}

	_, err = ResolvePositional("a.$.b.$.c", NewMatchPos(0))
	if !mongoerr.HasCode(err, mongoerr.CodeBadValue) {
		t.Errorf("Expected BadValue for too many positional elements, got %v", err)
	}
}

func TestMatchPosConsumedOnce(t *testing.T) {
	pos := NewMatchPos(2)
	if index, ok := pos.Take(); !ok || index != 2 {
		t.Fatalf("Expected first Take to yield 2, got %v %v", index, ok)
	}
	if _, ok := pos.Take(); ok {
		t.Error("Expected second Take to fail")
	}
}

func TestCanFullyTraverseForRename(t *testing.T) {
	doc := document.NewDocumentFromPairs(
		"a", document.NewDocumentFromPairs("b", int64(1)),
		"arr", []interface{}{document.NewDocumentFromPairs("x", int64(1))},
	)
	if !CanFullyTraverseForRename(doc, "a.b") {
		t.Error("Expected document path to be traversable")
	}
	if !CanFullyTraverseForRename(doc, "missing.path") {
		t.Error("Expected missing path to be traversable")
	}
	if CanFullyTraverseForRename(doc, "arr.x") {
		t.Error("Expected path through array not to be traversable")
	}
}

func TestPathArithmetic(t *testing.T) {
	if got := FirstFragment("a.b.c"); got != "a" {
		t.Errorf("FirstFragment = %q", got)
	}
	if got := LastFragment("a.b.c"); got != "c" {
		t.Errorf("LastFragment = %q", got)
	}
	if got := JoinTail([]string{"a", "b", "c"}); got != "b.c" {
		t.Errorf("JoinTail = %q", got)
	}
	if got := Join("", "a", "b"); got != "a.b" {
		t.Errorf("Join = %q", got)
	}

	common := CollectCommonFragments("a.b.c", "a.b.d")
	if len(common) != 2 || common[0] != "a" || common[1] != "b" {
		t.Errorf("CollectCommonFragments = %v", common)
	}

	shorter, ok := ShorterIfPrefix("a.b", "a.b.c")
	if !ok || shorter != "a.b" {
		t.Errorf("ShorterIfPrefix = %q, %v", shorter, ok)
	}
	if _, ok := ShorterIfPrefix("a.b", "a.c"); ok {
		t.Error("Expected non-prefix paths not to match")
	}
	if _, ok := ShorterIfPrefix("ab", "a"); ok {
		t.Error("Expected string-prefix but not fragment-prefix paths not to match")
	}
}

func TestCopy(t *testing.T) {
	src := document.NewDocumentFromPairs(
		"a", document.NewDocumentFromPairs("b", int64(7)),
	)
	dst := document.NewDocument()
	if err := Copy(src, dst, "a.b"); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	value, _ := Get(dst, "a.b")
	if value.(int64) != 7 {
		t.Errorf("Expected copied value 7, got %v", value)
	}

	// copying a missing path is a no-op
	if err := Copy(src, dst, "a.absent"); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if has, _ := Has(dst, "a.absent"); has {
		t.Error("Expected missing source not to be copied")
	}
}
