package expr

import (
	"testing"
	"time"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

func evaluate(t *testing.T, expression interface{}, doc *document.Document) interface{} {
	t.Helper()
	value, err := Evaluate(expression, doc)
	if err != nil {
		t.Fatalf("Evaluate(%v) failed: %v", expression, err)
	}
	return value
}

func op(operator string, operand interface{}) *document.Document {
	return document.NewDocumentFromPairs(operator, operand)
}

func TestFieldReference(t *testing.T) {
	doc := document.NewDocumentFromPairs(
		"a", int64(5),
		"nested", document.NewDocumentFromPairs("b", "x"),
	)
	if got := evaluate(t, "$a", doc); got.(int64) != 5 {
		t.Errorf("Expected 5, got %v", got)
	}
	if got := evaluate(t, "$nested.b", doc); got.(string) != "x" {
		t.Errorf("Expected 'x', got %v", got)
	}
	if got := evaluate(t, "$absent", doc); !document.IsMissing(got) {
		t.Errorf("Expected Missing, got %v", got)
	}
	if got := evaluate(t, "plain", doc); got.(string) != "plain" {
		t.Errorf("Expected literal string, got %v", got)
	}
}

func TestVariables(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", int64(1))
	if got := evaluate(t, "$$ROOT", doc); got.(*document.Document) != doc {
		t.Errorf("Expected $$ROOT to be the document")
	}
	if got := evaluate(t, "$$CURRENT.a", doc); got.(int64) != 1 {
		t.Errorf("Expected 1, got %v", got)
	}
	_, err := Evaluate("$$nope", doc)
	if !mongoerr.HasCode(err, mongoerr.CodeUndefinedVariable) {
		t.Errorf("Expected undefined variable error, got %v", err)
	}
}

func TestAbs(t *testing.T) {
	doc := document.NewDocumentFromPairs("c", int64(-30))
	if got := evaluate(t, op("$abs", "$c"), doc); got.(int32) != 30 {
		t.Errorf("Expected 30, got %v (%T)", got, got)
	}
	if got := evaluate(t, op("$abs", -1.5), doc); got.(float64) != 1.5 {
		t.Errorf("Expected 1.5, got %v", got)
	}
	if got := evaluate(t, op("$abs", nil), doc); got != nil {
		t.Errorf("Expected null, got %v", got)
	}
}

func TestArithmetic(t *testing.T) {
	doc := document.NewDocumentFromPairs("b", int64(2), "c", int64(-30))

	got := evaluate(t, op("$multiply", []interface{}{"$b", op("$abs", "$c")}), doc)
	if got.(int32) != 60 {
		t.Errorf("Expected 60, got %v (%T)", got, got)
	}

	if got := evaluate(t, op("$add", []interface{}{int64(1), 2.5}), doc); got.(float64) != 3.5 {
		t.Errorf("Expected 3.5, got %v", got)
	}
	if got := evaluate(t, op("$subtract", []interface{}{int64(5), int64(3)}), doc); got.(int32) != 2 {
		t.Errorf("Expected 2, got %v (%T)", got, got)
	}
	if got := evaluate(t, op("$divide", []interface{}{int64(7), int64(2)}), doc); got.(float64) != 3.5 {
		t.Errorf("Expected 3.5, got %v", got)
	}
	if got := evaluate(t, op("$mod", []interface{}{int64(7), int64(3)}), doc); got.(int32) != 1 {
		t.Errorf("Expected 1, got %v (%T)", got, got)
	}
}

func TestDivideByZero(t *testing.T) {
	doc := document.NewDocument()
	_, err := Evaluate(op("$divide", []interface{}{int64(1), int64(0)}), doc)
	if !mongoerr.HasCode(err, mongoerr.CodeDivideByZero) {
		t.Errorf("Expected divide-by-zero error, got %v", err)
	}
	_, err = Evaluate(op("$mod", []interface{}{int64(1), int64(0)}), doc)
	if !mongoerr.HasCode(err, mongoerr.CodeModByZero) {
		t.Errorf("Expected mod-by-zero error, got %v", err)
	}
}

func TestArithmeticTypeMismatch(t *testing.T) {
	doc := document.NewDocument()
	_, err := Evaluate(op("$multiply", []interface{}{int64(1), "x"}), doc)
	if !mongoerr.HasCode(err, mongoerr.CodeTypeMismatch) {
		t.Errorf("Expected TypeMismatch, got %v", err)
	}
}

func TestArrayElemAt(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", []interface{}{int64(1), int64(2), int64(3)})
	if got := evaluate(t, op("$arrayElemAt", []interface{}{"$a", int64(1)}), doc); got.(int64) != 2 {
		t.Errorf("Expected 2, got %v", got)
	}
	if got := evaluate(t, op("$arrayElemAt", []interface{}{"$a", int64(-1)}), doc); got.(int64) != 3 {
		t.Errorf("Expected 3, got %v", got)
	}
	if got := evaluate(t, op("$arrayElemAt", []interface{}{"$a", int64(9)}), doc); !document.IsMissing(got) {
		t.Errorf("Expected Missing, got %v", got)
	}
}

func TestArrayElemAtOverFanOut(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", []interface{}{
		document.NewDocumentFromPairs("foo", "bar"),
		document.NewDocumentFromPairs("foo", "bas"),
		document.NewDocumentFromPairs("foo", "bat"),
	})
	got := evaluate(t, op("$arrayElemAt", []interface{}{"$a.foo", int64(1)}), doc)
	if got.(string) != "bas" {
		t.Errorf("Expected 'bas', got %v", got)
	}
}

func TestArrayElemAtErrors(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", []interface{}{int64(1)})
	_, err := Evaluate(op("$arrayElemAt", []interface{}{"$a", int64(0), int64(1)}), doc)
	if !mongoerr.HasCode(err, mongoerr.CodeArrayElemAtArity) {
		t.Errorf("Expected arity error 28667, got %v", err)
	}
	_, err = Evaluate(op("$arrayElemAt", []interface{}{"x", int64(0)}), doc)
	if !mongoerr.HasCode(err, mongoerr.CodeArrayElemAtFirstArg) {
		t.Errorf("Expected first-arg error 28689, got %v", err)
	}
}

func TestComparisons(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", int64(5))
	if got := evaluate(t, op("$eq", []interface{}{"$a", 5.0}), doc); got != true {
		t.Errorf("Expected numeric cross-type equality, got %v", got)
	}
	if got := evaluate(t, op("$gt", []interface{}{"$a", int64(3)}), doc); got != true {
		t.Errorf("Expected 5 > 3, got %v", got)
	}
	if got := evaluate(t, op("$cmp", []interface{}{"$a", int64(9)}), doc); got.(int32) != -1 {
		t.Errorf("Expected -1, got %v", got)
	}
}

func TestBooleans(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", int64(1))
	if got := evaluate(t, op("$and", []interface{}{true, "$a"}), doc); got != true {
		t.Errorf("Expected true, got %v", got)
	}
	if got := evaluate(t, op("$or", []interface{}{false, nil}), doc); got != false {
		t.Errorf("Expected false, got %v", got)
	}
	if got := evaluate(t, op("$not", []interface{}{nil}), doc); got != true {
		t.Errorf("Expected true, got %v", got)
	}
}

func TestCond(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", int64(5))
	arrayForm := op("$cond", []interface{}{op("$gt", []interface{}{"$a", int64(3)}), "big", "small"})
	if got := evaluate(t, arrayForm, doc); got.(string) != "big" {
		t.Errorf("Expected 'big', got %v", got)
	}
	docForm := op("$cond", document.NewDocumentFromPairs(
		"if", op("$gt", []interface{}{"$a", int64(9)}),
		"then", "big",
		"else", "small",
	))
	if got := evaluate(t, docForm, doc); got.(string) != "small" {
		t.Errorf("Expected 'small', got %v", got)
	}
}

func TestIfNull(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", nil)
	got := evaluate(t, op("$ifNull", []interface{}{"$a", "fallback"}), doc)
	if got.(string) != "fallback" {
		t.Errorf("Expected 'fallback', got %v", got)
	}
	got = evaluate(t, op("$ifNull", []interface{}{"value", "fallback"}), doc)
	if got.(string) != "value" {
		t.Errorf("Expected 'value', got %v", got)
	}
}

func TestSwitch(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", int64(7))
	spec := op("$switch", document.NewDocumentFromPairs(
		"branches", []interface{}{
			document.NewDocumentFromPairs(
				"case", op("$lt", []interface{}{"$a", int64(5)}),
				"then", "low",
			),
			document.NewDocumentFromPairs(
				"case", op("$lt", []interface{}{"$a", int64(10)}),
				"then", "mid",
			),
		},
		"default", "high",
	))
	if got := evaluate(t, spec, doc); got.(string) != "mid" {
		t.Errorf("Expected 'mid', got %v", got)
	}
}

func TestLetMapFilterReduce(t *testing.T) {
	doc := document.NewDocumentFromPairs("nums", []interface{}{int64(1), int64(2), int64(3)})

	let := op("$let", document.NewDocumentFromPairs(
		"vars", document.NewDocumentFromPairs("total", op("$add", []interface{}{int64(1), int64(2)})),
		"in", op("$multiply", []interface{}{"$$total", int64(10)}),
	))
	if got := evaluate(t, let, doc); got.(int32) != 30 {
		t.Errorf("Expected 30, got %v (%T)", got, got)
	}

	mapped := evaluate(t, op("$map", document.NewDocumentFromPairs(
		"input", "$nums",
		"as", "n",
		"in", op("$multiply", []interface{}{"$$n", int64(2)}),
	)), doc).([]interface{})
	if len(mapped) != 3 || mapped[2].(int32) != 6 {
		t.Errorf("Unexpected $map result: %v", mapped)
	}

	filtered := evaluate(t, op("$filter", document.NewDocumentFromPairs(
		"input", "$nums",
		"cond", op("$gt", []interface{}{"$$this", int64(1)}),
	)), doc).([]interface{})
	if len(filtered) != 2 {
		t.Errorf("Unexpected $filter result: %v", filtered)
	}

	reduced := evaluate(t, op("$reduce", document.NewDocumentFromPairs(
		"input", "$nums",
		"initialValue", int64(0),
		"in", op("$add", []interface{}{"$$value", "$$this"}),
	)), doc)
	if reduced.(int32) != 6 {
		t.Errorf("Unexpected $reduce result: %v (%T)", reduced, reduced)
	}
}

func TestStringOperators(t *testing.T) {
	doc := document.NewDocumentFromPairs("name", "Alice")
	if got := evaluate(t, op("$concat", []interface{}{"hello ", "$name"}), doc); got.(string) != "hello Alice" {
		t.Errorf("Unexpected $concat: %v", got)
	}
	if got := evaluate(t, op("$toUpper", "$name"), doc); got.(string) != "ALICE" {
		t.Errorf("Unexpected $toUpper: %v", got)
	}
	if got := evaluate(t, op("$substr", []interface{}{"$name", int64(1), int64(3)}), doc); got.(string) != "lic" {
		t.Errorf("Unexpected $substr: %v", got)
	}
	if got := evaluate(t, op("$strLenBytes", []interface{}{"$name"}), doc); got.(int32) != 5 {
		t.Errorf("Unexpected $strLenBytes: %v", got)
	}
	split := evaluate(t, op("$split", []interface{}{"a,b,c", ","}), doc).([]interface{})
	if len(split) != 3 || split[1].(string) != "b" {
		t.Errorf("Unexpected $split: %v", split)
	}
}

func TestLiteralAndType(t *testing.T) {
	doc := document.NewDocumentFromPairs("a", int64(1))
	got := evaluate(t, op("$literal", "$a"), doc)
	if got.(string) != "$a" {
		t.Errorf("Expected unevaluated literal, got %v", got)
	}
	if got := evaluate(t, op("$type", "$a"), doc); got.(string) != "long" {
		t.Errorf("Expected 'long', got %v", got)
	}
	if got := evaluate(t, op("$type", "$absent"), doc); got.(string) != "missing" {
		t.Errorf("Expected 'missing', got %v", got)
	}
}

func TestDateOperators(t *testing.T) {
	date := time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)
	doc := document.NewDocumentFromPairs("when", date)
	tests := []struct {
		operator string
		expected int32
	}{
		{"$year", 2024},
		{"$month", 3},
		{"$dayOfMonth", 15},
		{"$hour", 10},
		{"$minute", 30},
		{"$second", 45},
		{"$dayOfWeek", 6},
	}
	for _, tt := range tests {
		if got := evaluate(t, op(tt.operator, "$when"), doc); got.(int32) != tt.expected {
			t.Errorf("%s = %v, expected %d", tt.operator, got, tt.expected)
		}
	}
}

func TestLiteralDocumentEvaluation(t *testing.T) {
	doc := document.NewDocumentFromPairs("count", int64(5))
	spec := document.NewDocumentFromPairs("count", "$count")
	got := evaluate(t, spec, doc).(*document.Document)
	if v, _ := got.Get("count"); v.(int64) != 5 {
		t.Errorf("Expected evaluated literal document, got %v", got)
	}
}

func TestUnknownOperator(t *testing.T) {
	_, err := Evaluate(op("$frobnicate", int64(1)), document.NewDocument())
	if !mongoerr.HasCode(err, mongoerr.CodeInvalidPipelineOperator) {
		t.Errorf("Expected unrecognized expression error, got %v", err)
	}
}
