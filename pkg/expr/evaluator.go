// Package expr evaluates aggregation expressions against a document and
// a variable scope. Evaluation is pure: the input document is never
// mutated.
package expr

import (
	"strings"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/path"
)

// Context is the evaluation scope: the root document and the variable
// bindings visible to the expression
type Context struct {
	root      *document.Document
	variables map[string]interface{}
}

// NewContext creates an evaluation context for a document. $$ROOT and
// $$CURRENT refer to the document itself.
func NewContext(root *document.Document) *Context {
	return &Context{root: root}
}

// WithVariables derives a context with additional variable bindings
func (c *Context) WithVariables(bindings map[string]interface{}) *Context {
	variables := make(map[string]interface{}, len(c.variables)+len(bindings))
	for k, v := range c.variables {
		variables[k] = v
	}
	for k, v := range bindings {
		variables[k] = v
	}
	return &Context{root: c.root, variables: variables}
}

func (c *Context) lookupVariable(name string) (interface{}, error) {
	switch name {
	case "ROOT", "CURRENT":
		return c.root, nil
	}
	if v, ok := c.variables[name]; ok {
		return v, nil
	}
	return nil, mongoerr.Newf(mongoerr.CodeUndefinedVariable, "Use of undefined variable: %s", name)
}

// Evaluate evaluates an expression against a document
func Evaluate(expression interface{}, doc *document.Document) (interface{}, error) {
	return NewContext(doc).Evaluate(expression)
}

// Evaluate evaluates an expression in this context
func (c *Context) Evaluate(expression interface{}) (interface{}, error) {
	switch expr := expression.(type) {
	case string:
		if strings.HasPrefix(expr, "$$") {
			return c.evaluateVariable(expr[2:])
		}
		if strings.HasPrefix(expr, "$") {
			return c.evaluateFieldReference(expr[1:])
		}
		return expr, nil
	case *document.Document:
		return c.evaluateDocument(expr)
	case map[string]interface{}:
		return c.evaluateDocument(document.NewDocumentFromMap(expr))
	case []interface{}:
		result := make([]interface{}, len(expr))
		for i, element := range expr {
			value, err := c.Evaluate(element)
			if err != nil {
				return nil, err
			}
			result[i] = value
		}
		return result, nil
	default:
		return expression, nil
	}
}

func (c *Context) evaluateVariable(name string) (interface{}, error) {
	fragments := path.Split(name)
	value, err := c.lookupVariable(fragments[0])
	if err != nil {
		return nil, err
	}
	if len(fragments) == 1 {
		return value, nil
	}
	doc, ok := value.(*document.Document)
	if !ok {
		return document.Missing{}, nil
	}
	return path.GetCollectionAware(doc, path.JoinTail(fragments))
}

func (c *Context) evaluateFieldReference(fieldPath string) (interface{}, error) {
	return path.GetCollectionAware(c.root, fieldPath)
}

// evaluateDocument distinguishes operator documents from literal
// documents: a document with no key starting with '$' is a literal whose
// values are evaluated recursively; otherwise it must hold exactly one
// key, the operator it dispatches to, or it is rejected with 15983.
func (c *Context) evaluateDocument(doc *document.Document) (interface{}, error) {
	keys := doc.Keys()
	operatorCount := 0
	for _, key := range keys {
		if strings.HasPrefix(key, "$") {
			operatorCount++
		}
	}

	if operatorCount == 0 {
		result := document.NewDocument()
		for _, entry := range doc.Entries() {
			value, err := c.Evaluate(entry.Value)
			if err != nil {
				return nil, err
			}
			if !document.IsMissing(value) {
				result.Set(entry.Key, value)
			}
		}
		return result, nil
	}

	if operatorCount != doc.Len() || doc.Len() != 1 {
		return nil, mongoerr.Newf(mongoerr.CodeExpressionOneField,
			"an expression specification must contain exactly one field, the name of the expression. Found %d fields", doc.Len())
	}

	operator := keys[0]
	operand, _ := doc.Get(operator)
	fn, ok := operators[operator]
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeInvalidPipelineOperator, "Unrecognized expression '%s'", operator)
	}
	return fn(c, operand)
}

// operatorFunc evaluates one operator. The operand is passed raw so
// that operators like $literal, $cond and $map control evaluation of
// their arguments themselves.
type operatorFunc func(c *Context, operand interface{}) (interface{}, error)

var operators map[string]operatorFunc

func init() {
	operators = map[string]operatorFunc{
		// arithmetic
		"$abs":      evaluateAbs,
		"$add":      evaluateAdd,
		"$subtract": evaluateSubtract,
		"$multiply": evaluateMultiply,
		"$divide":   evaluateDivide,
		"$mod":      evaluateModulo,
		"$ceil":     evaluateCeil,
		"$floor":    evaluateFloor,
		"$trunc":    evaluateTrunc,
		"$sqrt":     evaluateSqrt,
		"$pow":      evaluatePow,
		"$exp":      evaluateExp,
		"$ln":       evaluateLn,
		"$log10":    evaluateLog10,

		// comparison
		"$cmp": evaluateCmp,
		"$eq":  evaluateEq,
		"$ne":  evaluateNe,
		"$gt":  evaluateGt,
		"$gte": evaluateGte,
		"$lt":  evaluateLt,
		"$lte": evaluateLte,

		// boolean
		"$and": evaluateAnd,
		"$or":  evaluateOr,
		"$not": evaluateNot,

		// conditional
		"$cond":   evaluateCond,
		"$ifNull": evaluateIfNull,
		"$switch": evaluateSwitch,

		// array
		"$arrayElemAt":  evaluateArrayElemAt,
		"$size":         evaluateSize,
		"$concatArrays": evaluateConcatArrays,
		"$in":           evaluateIn,
		"$isArray":      evaluateIsArray,
		"$first":        evaluateFirst,
		"$last":         evaluateLast,
		"$slice":        evaluateSlice,
		"$map":          evaluateMap,
		"$filter":       evaluateFilter,
		"$reduce":       evaluateReduce,

		// string
		"$concat":      evaluateConcat,
		"$substr":      evaluateSubstrBytes,
		"$substrBytes": evaluateSubstrBytes,
		"$toLower":     evaluateToLower,
		"$toUpper":     evaluateToUpper,
		"$strLenBytes": evaluateStrLenBytes,
		"$split":       evaluateSplit,

		// type
		"$type":     evaluateType,
		"$literal":  evaluateLiteral,
		"$toBool":   evaluateToBool,
		"$toInt":    evaluateToInt,
		"$toLong":   evaluateToLong,
		"$toDouble": evaluateToDouble,
		"$toString": evaluateToString,

		// date
		"$year":        evaluateYear,
		"$month":       evaluateMonth,
		"$dayOfMonth":  evaluateDayOfMonth,
		"$hour":        evaluateHour,
		"$minute":      evaluateMinute,
		"$second":      evaluateSecond,
		"$millisecond": evaluateMillisecond,
		"$dayOfWeek":   evaluateDayOfWeek,
		"$dayOfYear":   evaluateDayOfYear,

		// variable binding
		"$let": evaluateLet,
	}
}

// operands evaluates the operand of an n-ary operator into a value
// slice. A non-array operand is treated as a single argument.
func (c *Context) operands(operand interface{}) ([]interface{}, error) {
	if list, ok := operand.([]interface{}); ok {
		result := make([]interface{}, len(list))
		for i, element := range list {
			value, err := c.Evaluate(element)
			if err != nil {
				return nil, err
			}
			result[i] = value
		}
		return result, nil
	}
	value, err := c.Evaluate(operand)
	if err != nil {
		return nil, err
	}
	return []interface{}{value}, nil
}

// requireOperands enforces the exact arity of an operator
func (c *Context) requireOperands(operator string, operand interface{}, n int) ([]interface{}, error) {
	values, err := c.operands(operand)
	if err != nil {
		return nil, err
	}
	if len(values) != n {
		return nil, arityError(operator, n, len(values))
	}
	return values, nil
}

func arityError(operator string, expected, got int) error {
	return mongoerr.Newf(mongoerr.CodeExpressionArity,
		"Expression %s takes exactly %d arguments. %d were passed in.", operator, expected, got)
}
