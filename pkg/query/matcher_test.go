package query

import (
	"testing"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

func pairs(kv ...interface{}) *document.Document {
	return document.NewDocumentFromPairs(kv...)
}

func matches(t *testing.T, filter, doc *document.Document) bool {
	t.Helper()
	matched, err := NewMatcher(filter).Matches(doc)
	if err != nil {
		t.Fatalf("Matches(%s, %s) failed: %v", filter, doc, err)
	}
	return matched
}

func TestEqualityMatch(t *testing.T) {
	doc := pairs("a", int64(1), "b", "x")
	if !matches(t, pairs("a", int64(1)), doc) {
		t.Error("Expected equality match")
	}
	if !matches(t, pairs("a", 1.0), doc) {
		t.Error("Expected cross-type numeric equality match")
	}
	if matches(t, pairs("a", int64(2)), doc) {
		t.Error("Expected no match")
	}
	if !matches(t, pairs(), doc) {
		t.Error("Expected empty filter to match")
	}
}

func TestNullMatchesMissing(t *testing.T) {
	doc := pairs("a", int64(1))
	if !matches(t, pairs("b", nil), doc) {
		t.Error("Expected {b: null} to match a document without b")
	}
	if matches(t, pairs("a", nil), doc) {
		t.Error("Expected {a: null} not to match a present value")
	}
}

func TestArrayEquality(t *testing.T) {
	doc := pairs("tags", []interface{}{"a", "b"})
	// element equality
	if !matches(t, pairs("tags", "a"), doc) {
		t.Error("Expected element equality match")
	}
	// whole-array equality
	if !matches(t, pairs("tags", []interface{}{"a", "b"}), doc) {
		t.Error("Expected whole-array equality match")
	}
	if matches(t, pairs("tags", []interface{}{"b", "a"}), doc) {
		t.Error("Expected order-sensitive array equality")
	}
}

func TestComparisonOperators(t *testing.T) {
	doc := pairs("n", int64(5))
	tests := []struct {
		operator string
		operand  interface{}
		expected bool
	}{
		{"$gt", int64(3), true},
		{"$gt", int64(5), false},
		{"$gte", int64(5), true},
		{"$lt", int64(9), true},
		{"$lte", int64(4), false},
		{"$eq", 5.0, true},
		{"$ne", int64(5), false},
		{"$ne", int64(6), true},
	}
	for _, tt := range tests {
		filter := pairs("n", pairs(tt.operator, tt.operand))
		if got := matches(t, filter, doc); got != tt.expected {
			t.Errorf("{n: {%s: %v}} = %v, expected %v", tt.operator, tt.operand, got, tt.expected)
		}
	}
}

func TestComparisonSkipsNull(t *testing.T) {
	doc := pairs("n", nil)
	if matches(t, pairs("n", pairs("$gt", int64(0))), doc) {
		t.Error("Expected null not to satisfy $gt")
	}
	if matches(t, pairs("absent", pairs("$lt", int64(0))), doc) {
		t.Error("Expected missing not to satisfy $lt")
	}
}

func TestInNin(t *testing.T) {
	doc := pairs("a", int64(2))
	if !matches(t, pairs("a", pairs("$in", []interface{}{int64(1), int64(2)})), doc) {
		t.Error("Expected $in match")
	}
	if matches(t, pairs("a", pairs("$nin", []interface{}{int64(1), int64(2)})), doc) {
		t.Error("Expected $nin not to match")
	}
	arrayDoc := pairs("a", []interface{}{int64(5), int64(7)})
	if !matches(t, pairs("a", pairs("$in", []interface{}{int64(7)})), arrayDoc) {
		t.Error("Expected $in to match an array element")
	}
}

func TestExists(t *testing.T) {
	doc := pairs("a", nil)
	if !matches(t, pairs("a", pairs("$exists", true)), doc) {
		t.Error("Expected null field to exist")
	}
	if matches(t, pairs("b", pairs("$exists", true)), doc) {
		t.Error("Expected missing field not to exist")
	}
	if !matches(t, pairs("b", pairs("$exists", false)), doc) {
		t.Error("Expected {$exists: false} to match a missing field")
	}
}

func TestType(t *testing.T) {
	doc := pairs("a", int64(1), "b", "x", "c", 1.5)
	if !matches(t, pairs("a", pairs("$type", "long")), doc) {
		t.Error("Expected $type long to match")
	}
	if !matches(t, pairs("b", pairs("$type", "string")), doc) {
		t.Error("Expected $type string to match")
	}
	if !matches(t, pairs("c", pairs("$type", "number")), doc) {
		t.Error("Expected $type number alias to match a double")
	}
	if !matches(t, pairs("a", pairs("$type", int64(18))), doc) {
		t.Error("Expected numeric type code 18 (long) to match")
	}
}

func TestRegex(t *testing.T) {
	doc := pairs("s", "Hello World")
	if !matches(t, pairs("s", document.Regex{Pattern: "^hello", Options: "i"}), doc) {
		t.Error("Expected case-insensitive regex match")
	}
	if !matches(t, pairs("s", pairs("$regex", "World")), doc) {
		t.Error("Expected {$regex} match")
	}
	if !matches(t, pairs("s", pairs("$regex", "world", "$options", "i")), doc) {
		t.Error("Expected {$regex, $options} match")
	}
	// extended flag ignores whitespace and comments
	if !matches(t, pairs("s", document.Regex{Pattern: "Hello.World # greeting", Options: "x"}), doc) {
		t.Error("Expected extended regex match")
	}
}

func TestModSizeAll(t *testing.T) {
	doc := pairs("n", int64(10), "tags", []interface{}{"a", "b", "c"})
	if !matches(t, pairs("n", pairs("$mod", []interface{}{int64(3), int64(1)})), doc) {
		t.Error("Expected $mod match")
	}
	if !matches(t, pairs("tags", pairs("$size", int64(3))), doc) {
		t.Error("Expected $size match")
	}
	if matches(t, pairs("tags", pairs("$size", int64(2))), doc) {
		t.Error("Expected $size mismatch")
	}
	if !matches(t, pairs("tags", pairs("$all", []interface{}{"a", "c"})), doc) {
		t.Error("Expected $all match")
	}
	if matches(t, pairs("tags", pairs("$all", []interface{}{"a", "z"})), doc) {
		t.Error("Expected $all mismatch")
	}
}

func TestLogicalCombinators(t *testing.T) {
	doc := pairs("a", int64(1), "b", int64(2))
	and := pairs("$and", []interface{}{pairs("a", int64(1)), pairs("b", int64(2))})
	if !matches(t, and, doc) {
		t.Error("Expected $and match")
	}
	or := pairs("$or", []interface{}{pairs("a", int64(9)), pairs("b", int64(2))})
	if !matches(t, or, doc) {
		t.Error("Expected $or match")
	}
	nor := pairs("$nor", []interface{}{pairs("a", int64(9)), pairs("b", int64(9))})
	if !matches(t, nor, doc) {
		t.Error("Expected $nor match")
	}
}

func TestNotOperator(t *testing.T) {
	doc := pairs("a", int64(5))
	if !matches(t, pairs("a", pairs("$not", pairs("$gt", int64(9)))), doc) {
		t.Error("Expected $not to invert $gt")
	}
	if matches(t, pairs("a", pairs("$not", pairs("$gt", int64(3)))), doc) {
		t.Error("Expected $not to reject a matching $gt")
	}
}

func TestExpr(t *testing.T) {
	doc := pairs("a", int64(5), "b", int64(3))
	filter := pairs("$expr", pairs("$gt", []interface{}{"$a", "$b"}))
	if !matches(t, filter, doc) {
		t.Error("Expected $expr match")
	}
}

func TestElemMatchRecordsPosition(t *testing.T) {
	doc := pairs("arr", []interface{}{
		pairs("x", int64(0)),
		pairs("x", int64(1)),
		pairs("x", int64(1)),
	})
	matcher := NewMatcher(pairs("arr", pairs("$elemMatch", pairs("x", int64(1)))))
	matched, err := matcher.Matches(doc)
	if err != nil {
		t.Fatalf("Matches failed: %v", err)
	}
	if !matched {
		t.Fatal("Expected $elemMatch to match")
	}
	pos, ok := matcher.MatchPosition().Take()
	if !ok || pos != 1 {
		t.Errorf("Expected recorded position 1, got %v (ok=%v)", pos, ok)
	}
}

func TestElemMatchWithOperators(t *testing.T) {
	doc := pairs("scores", []interface{}{int64(3), int64(8), int64(12)})
	filter := pairs("scores", pairs("$elemMatch", pairs("$gt", int64(5), "$lt", int64(10))))
	if !matches(t, filter, doc) {
		t.Error("Expected operator-style $elemMatch to match")
	}
}

func TestNestedPathMatch(t *testing.T) {
	doc := pairs("a", pairs("b", int64(1)))
	if !matches(t, pairs("a.b", int64(1)), doc) {
		t.Error("Expected dotted path match")
	}
	arrayDoc := pairs("items", []interface{}{pairs("qty", int64(5)), pairs("qty", int64(9))})
	if !matches(t, pairs("items.qty", int64(9)), arrayDoc) {
		t.Error("Expected fan-out path match")
	}
}

func TestMatcherDeterminism(t *testing.T) {
	doc := pairs("a", []interface{}{int64(1), int64(2)})
	matcher := NewMatcher(pairs("a", pairs("$gt", int64(1))))
	for i := 0; i < 5; i++ {
		matched, err := matcher.Matches(doc)
		if err != nil || !matched {
			t.Fatalf("Iteration %d: matched=%v err=%v", i, matched, err)
		}
		pos, ok := matcher.MatchPosition().Take()
		if !ok || pos != 1 {
			t.Fatalf("Iteration %d: expected position 1, got %d", i, pos)
		}
	}
}

func TestUnknownOperatorRejected(t *testing.T) {
	_, err := NewMatcher(pairs("a", pairs("$frob", int64(1)))).Matches(pairs("a", int64(1)))
	if !mongoerr.HasCode(err, mongoerr.CodeBadValue) {
		t.Errorf("Expected BadValue for unknown operator, got %v", err)
	}
	_, err = NewMatcher(pairs("$frob", int64(1))).Matches(pairs("a", int64(1)))
	if !mongoerr.HasCode(err, mongoerr.CodeBadValue) {
		t.Errorf("Expected BadValue for unknown top-level operator, got %v", err)
	}
}
