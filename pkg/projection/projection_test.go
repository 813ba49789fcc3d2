package projection

import (
	"testing"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

func pairs(kv ...interface{}) *document.Document {
	return document.NewDocumentFromPairs(kv...)
}

func project(t *testing.T, doc, spec *document.Document) *document.Document {
	t.Helper()
	p, err := NewProjection(spec)
	if err != nil {
		t.Fatalf("NewProjection(%s) failed: %v", spec, err)
	}
	result, err := p.Apply(doc)
	if err != nil {
		t.Fatalf("Apply(%s) failed: %v", spec, err)
	}
	return result
}

func expectEqual(t *testing.T, got, expected *document.Document) {
	t.Helper()
	if !got.Equal(expected) {
		t.Errorf("projection mismatch:\n  got:      %s\n  expected: %s", got, expected)
	}
}

func TestSimpleInclusion(t *testing.T) {
	expectEqual(t,
		project(t, pairs("a", "value"), pairs("a", true)),
		pairs("a", "value"))
	expectEqual(t,
		project(t, pairs("_id", int64(1)), pairs("a", int64(1))),
		pairs("_id", int64(1)))
	expectEqual(t,
		project(t, pairs("_id", int64(1), "a", "value"), pairs("a", int64(1))),
		pairs("_id", int64(1), "a", "value"))
	expectEqual(t,
		project(t, pairs("_id", int64(1), "a", "value"), pairs("_id", int64(0))),
		pairs("a", "value"))
}

func TestInclusionWithComputedField(t *testing.T) {
	doc := pairs("_id", int64(1), "a", int64(10), "b", int64(20), "c", int64(-30))
	spec := pairs(
		"_id", int64(0),
		"x", pairs("$abs", "$c"),
		"b", int64(1),
	)
	got := project(t, doc, spec)
	expectEqual(t, got, pairs("x", int32(30), "b", int64(20)))
}

func TestComputedFieldKeepsID(t *testing.T) {
	doc := pairs("_id", int64(1), "a", int64(10), "c", int64(-30))
	got := project(t, doc, pairs("x", pairs("$abs", "$c")))
	expectEqual(t, got, pairs("_id", int64(1), "x", int32(30)))
}

func TestNestedComputedField(t *testing.T) {
	doc := pairs("_id", int64(1), "c", int64(-30))
	got := project(t, doc, pairs("x", pairs("y", pairs("$abs", "$c"))))
	expectEqual(t, got, pairs("_id", int64(1), "x", pairs("y", int32(30))))
}

func TestComputedFieldWithinArray(t *testing.T) {
	doc := pairs("_id", int64(1), "count", int64(5))
	got := project(t, doc, pairs("x", []interface{}{pairs("count", "$count")}))
	expectEqual(t, got, pairs("_id", int64(1), "x", []interface{}{pairs("count", int64(5))}))
}

func TestArrayElemAtProjection(t *testing.T) {
	doc := pairs("a", []interface{}{
		pairs("foo", "bar"),
		pairs("foo", "bas"),
		pairs("foo", "bat"),
	})
	got := project(t, doc, pairs("_id", int64(0), "b", pairs("$arrayElemAt", []interface{}{"$a.foo", int64(1)})))
	expectEqual(t, got, pairs("b", "bas"))
}

func TestNestedExclusion(t *testing.T) {
	doc := pairs("_id", int64(1), "x", pairs("a", int64(1), "b", int64(2), "c", int64(3)))
	got := project(t, doc, pairs("x.b", int64(0)))
	expectEqual(t, got, pairs("_id", int64(1), "x", pairs("a", int64(1), "c", int64(3))))
}

func TestNestedExclusionThroughArray(t *testing.T) {
	doc := pairs("_id", int64(1), "x", []interface{}{
		pairs("a", int64(1), "b", int64(2), "c", int64(3)),
		pairs("a", int64(2)),
	})
	got := project(t, doc, pairs("x.b", int64(0)))
	expectEqual(t, got, pairs("_id", int64(1), "x", []interface{}{
		pairs("a", int64(1), "c", int64(3)),
		pairs("a", int64(2)),
	}))
}

func TestNestedInclusion(t *testing.T) {
	doc := pairs("_id", int64(1), "x", pairs("a", int64(1), "b", int64(2), "c", int64(3)))
	got := project(t, doc, pairs("x.b", int64(1), "x.c", int64(1), "y", int64(1), "x.d", int64(1)))
	expectEqual(t, got, pairs("_id", int64(1), "x", pairs("b", int64(2), "c", int64(3))))
}

func TestEmptyProjection(t *testing.T) {
	_, err := NewProjection(document.NewDocument())
	if !mongoerr.HasCode(err, mongoerr.CodeProjectionEmptySpec) {
		t.Fatalf("Expected error 40177, got %v", err)
	}
	var serverErr *mongoerr.Error
	if mongoerr.HasCode(err, mongoerr.CodeProjectionEmptySpec) {
		serverErr = err.(*mongoerr.Error)
		if serverErr.Message != "specification must have at least one field" {
			t.Errorf("Unexpected message: %q", serverErr.Message)
		}
		if serverErr.Error() != "[Error 40177] specification must have at least one field" {
			t.Errorf("Unexpected rendering: %q", serverErr.Error())
		}
	}
}

func TestMixedInclusionExclusionRejected(t *testing.T) {
	_, err := NewProjection(pairs("a", int64(1), "b", int64(0)))
	if !mongoerr.HasCode(err, mongoerr.CodeExclusionInInclusion) {
		t.Errorf("Expected mixed projection rejection, got %v", err)
	}
	// _id exclusion alongside inclusions is allowed
	if _, err := NewProjection(pairs("_id", int64(0), "a", int64(1))); err != nil {
		t.Errorf("Expected _id exclusion to be allowed, got %v", err)
	}
}

func TestExclusionOnlyKeepsEverythingElse(t *testing.T) {
	doc := pairs("_id", int64(1), "a", int64(1), "b", int64(2))
	got := project(t, doc, pairs("a", int64(0)))
	expectEqual(t, got, pairs("_id", int64(1), "b", int64(2)))
}

func TestProjectionIdempotence(t *testing.T) {
	doc := pairs("_id", int64(1), "a", int64(10), "b", pairs("c", int64(1), "d", int64(2)))
	specs := []*document.Document{
		pairs("a", int64(1)),
		pairs("b.c", int64(0)),
		pairs("_id", int64(0), "b", int64(1)),
	}
	for _, spec := range specs {
		once := project(t, doc, spec)
		twice := project(t, once, spec)
		if !once.Equal(twice) {
			t.Errorf("projection %s not idempotent:\n  once:  %s\n  twice: %s", spec, once, twice)
		}
	}
}

func TestInclusionSkipsMissingPaths(t *testing.T) {
	doc := pairs("_id", int64(1), "a", int64(1))
	got := project(t, doc, pairs("zzz", int64(1)))
	expectEqual(t, got, pairs("_id", int64(1)))
}
