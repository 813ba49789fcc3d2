package expr

import (
	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

// comparison builds an operator that compares exactly two operands
func comparison(operator string, test func(cmp int) bool) operatorFunc {
	return func(c *Context, operand interface{}) (interface{}, error) {
		values, err := c.requireOperands(operator, operand, 2)
		if err != nil {
			return nil, err
		}
		return test(document.Compare(values[0], values[1])), nil
	}
}

var (
	evaluateEq  = comparison("$eq", func(cmp int) bool { return cmp == 0 })
	evaluateNe  = comparison("$ne", func(cmp int) bool { return cmp != 0 })
	evaluateGt  = comparison("$gt", func(cmp int) bool { return cmp > 0 })
	evaluateGte = comparison("$gte", func(cmp int) bool { return cmp >= 0 })
	evaluateLt  = comparison("$lt", func(cmp int) bool { return cmp < 0 })
	evaluateLte = comparison("$lte", func(cmp int) bool { return cmp <= 0 })
)

func evaluateCmp(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$cmp", operand, 2)
	if err != nil {
		return nil, err
	}
	cmp := document.Compare(values[0], values[1])
	switch {
	case cmp < 0:
		return int32(-1), nil
	case cmp > 0:
		return int32(1), nil
	default:
		return int32(0), nil
	}
}

// $and and $or short-circuit, evaluating operands lazily
func evaluateAnd(c *Context, operand interface{}) (interface{}, error) {
	expressions, ok := operand.([]interface{})
	if !ok {
		expressions = []interface{}{operand}
	}
	for _, expression := range expressions {
		value, err := c.Evaluate(expression)
		if err != nil {
			return nil, err
		}
		if !document.IsTrue(value) {
			return false, nil
		}
	}
	return true, nil
}

func evaluateOr(c *Context, operand interface{}) (interface{}, error) {
	expressions, ok := operand.([]interface{})
	if !ok {
		expressions = []interface{}{operand}
	}
	for _, expression := range expressions {
		value, err := c.Evaluate(expression)
		if err != nil {
			return nil, err
		}
		if document.IsTrue(value) {
			return true, nil
		}
	}
	return false, nil
}

func evaluateNot(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$not", operand, 1)
	if err != nil {
		return nil, err
	}
	return !document.IsTrue(values[0]), nil
}

// $cond accepts either the array form [if, then, else] or the document
// form {if, then, else}; only the taken branch is evaluated
func evaluateCond(c *Context, operand interface{}) (interface{}, error) {
	var ifExpr, thenExpr, elseExpr interface{}
	switch spec := operand.(type) {
	case []interface{}:
		if len(spec) != 3 {
			return nil, arityError("$cond", 3, len(spec))
		}
		ifExpr, thenExpr, elseExpr = spec[0], spec[1], spec[2]
	case *document.Document:
		for _, key := range spec.Keys() {
			switch key {
			case "if", "then", "else":
			default:
				return nil, mongoerr.Newf(mongoerr.CodeFailedToParse, "Unrecognized parameter to $cond: %s", key)
			}
		}
		var ok bool
		if ifExpr, ok = spec.Get("if"); !ok {
			return nil, mongoerr.New(mongoerr.CodeFailedToParse, "Missing 'if' parameter to $cond")
		}
		if thenExpr, ok = spec.Get("then"); !ok {
			return nil, mongoerr.New(mongoerr.CodeFailedToParse, "Missing 'then' parameter to $cond")
		}
		if elseExpr, ok = spec.Get("else"); !ok {
			return nil, mongoerr.New(mongoerr.CodeFailedToParse, "Missing 'else' parameter to $cond")
		}
	default:
		return nil, arityError("$cond", 3, 1)
	}

	condition, err := c.Evaluate(ifExpr)
	if err != nil {
		return nil, err
	}
	if document.IsTrue(condition) {
		return c.Evaluate(thenExpr)
	}
	return c.Evaluate(elseExpr)
}

func evaluateIfNull(c *Context, operand interface{}) (interface{}, error) {
	expressions, ok := operand.([]interface{})
	if !ok || len(expressions) < 2 {
		return nil, mongoerr.New(mongoerr.CodeExpressionArity,
			"$ifNull needs at least two arguments")
	}
	for i, expression := range expressions {
		value, err := c.Evaluate(expression)
		if err != nil {
			return nil, err
		}
		if document.IsNeitherNullNorMissing(value) || i == len(expressions)-1 {
			if document.IsMissing(value) {
				return nil, nil
			}
			return value, nil
		}
	}
	return nil, nil
}

func evaluateSwitch(c *Context, operand interface{}) (interface{}, error) {
	spec, ok := operand.(*document.Document)
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "$switch requires an object as an argument")
	}
	branchesValue, ok := spec.Get("branches")
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "$switch requires at least one branch")
	}
	branches, ok := branchesValue.([]interface{})
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "$switch expected an array for 'branches'")
	}
	for _, branchValue := range branches {
		branch, ok := branchValue.(*document.Document)
		if !ok {
			return nil, mongoerr.New(mongoerr.CodeFailedToParse, "$switch expected each branch to be an object")
		}
		caseExpr, ok := branch.Get("case")
		if !ok {
			return nil, mongoerr.New(mongoerr.CodeFailedToParse, "$switch requires each branch have a 'case' expression")
		}
		thenExpr, ok := branch.Get("then")
		if !ok {
			return nil, mongoerr.New(mongoerr.CodeFailedToParse, "$switch requires each branch have a 'then' expression")
		}
		condition, err := c.Evaluate(caseExpr)
		if err != nil {
			return nil, err
		}
		if document.IsTrue(condition) {
			return c.Evaluate(thenExpr)
		}
	}
	if defaultExpr, ok := spec.Get("default"); ok {
		return c.Evaluate(defaultExpr)
	}
	return nil, mongoerr.New(mongoerr.CodeSwitchNoMatchingCase,
		"$switch could not find a matching branch for an input, and no default was specified.")
}

func evaluateLet(c *Context, operand interface{}) (interface{}, error) {
	spec, ok := operand.(*document.Document)
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeLetRequiresDocument,
			"$let only supports an object as its argument")
	}
	varsValue, ok := spec.Get("vars")
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "Missing 'vars' parameter to $let")
	}
	inExpr, ok := spec.Get("in")
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "Missing 'in' parameter to $let")
	}
	vars, ok := varsValue.(*document.Document)
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "invalid parameter: expected an object (vars)")
	}
	bindings := make(map[string]interface{}, vars.Len())
	for _, entry := range vars.Entries() {
		value, err := c.Evaluate(entry.Value)
		if err != nil {
			return nil, err
		}
		bindings[entry.Key] = value
	}
	return c.WithVariables(bindings).Evaluate(inExpr)
}
