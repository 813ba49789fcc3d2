package expr

import (
	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

func evaluateArrayElemAt(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.operands(operand)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, mongoerr.Newf(mongoerr.CodeArrayElemAtArity,
			"Expression $arrayElemAt takes exactly 2 arguments. %d were passed in.", len(values))
	}
	if document.IsNullOrMissing(values[0]) {
		return nil, nil
	}
	array, ok := values[0].([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeArrayElemAtFirstArg,
			"$arrayElemAt's first argument must be an array, but is %s", document.DescribeType(values[0]))
	}
	index, ok := document.Int64Value(values[1])
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeArrayElemAtSecondArg,
			"$arrayElemAt's second argument must be a numeric value, but is %s", document.DescribeType(values[1]))
	}
	if index < 0 {
		index += int64(len(array))
	}
	if index < 0 || index >= int64(len(array)) {
		return document.Missing{}, nil
	}
	return array[index], nil
}

func evaluateSize(c *Context, operand interface{}) (interface{}, error) {
	value, err := c.Evaluate(operand)
	if err != nil {
		return nil, err
	}
	array, ok := value.([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeSizeRequiresArray,
			"The argument to $size must be an array, but was of type: %s", document.DescribeType(value))
	}
	return int32(len(array)), nil
}

func evaluateConcatArrays(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.operands(operand)
	if err != nil {
		return nil, err
	}
	result := make([]interface{}, 0)
	for _, value := range values {
		if document.IsNullOrMissing(value) {
			return nil, nil
		}
		array, ok := value.([]interface{})
		if !ok {
			return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
				"$concatArrays only supports arrays, not %s", document.DescribeType(value))
		}
		result = append(result, array...)
	}
	return result, nil
}

func evaluateIn(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$in", operand, 2)
	if err != nil {
		return nil, err
	}
	array, ok := values[1].([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeBadValue,
			"$in requires an array as a second argument, found: %s", document.DescribeType(values[1]))
	}
	for _, element := range array {
		if document.NullAwareEquals(values[0], element) {
			return true, nil
		}
	}
	return false, nil
}

func evaluateIsArray(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$isArray", operand, 1)
	if err != nil {
		return nil, err
	}
	_, ok := values[0].([]interface{})
	return ok, nil
}

func evaluateFirst(c *Context, operand interface{}) (interface{}, error) {
	value, err := c.Evaluate(operand)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(value) {
		return nil, nil
	}
	array, ok := value.([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"$first's argument must be an array, but is %s", document.DescribeType(value))
	}
	if len(array) == 0 {
		return document.Missing{}, nil
	}
	return array[0], nil
}

func evaluateLast(c *Context, operand interface{}) (interface{}, error) {
	value, err := c.Evaluate(operand)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(value) {
		return nil, nil
	}
	array, ok := value.([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"$last's argument must be an array, but is %s", document.DescribeType(value))
	}
	if len(array) == 0 {
		return document.Missing{}, nil
	}
	return array[len(array)-1], nil
}

func evaluateSlice(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.operands(operand)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 && len(values) != 3 {
		return nil, mongoerr.Newf(mongoerr.CodeExpressionArity,
			"Expression $slice takes at least 2 arguments, and at most 3, but %d were passed in.", len(values))
	}
	if document.IsNullOrMissing(values[0]) {
		return nil, nil
	}
	array, ok := values[0].([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"First argument to $slice must be an array, but is of type: %s", document.DescribeType(values[0]))
	}

	if len(values) == 2 {
		n, ok := document.Int64Value(values[1])
		if !ok {
			return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
				"Second argument to $slice must be numeric, but is of type: %s", document.DescribeType(values[1]))
		}
		return sliceArray(array, n), nil
	}

	position, ok := document.Int64Value(values[1])
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"Second argument to $slice must be numeric, but is of type: %s", document.DescribeType(values[1]))
	}
	count, ok := document.Int64Value(values[2])
	if !ok || count <= 0 {
		return nil, mongoerr.New(mongoerr.CodeBadValue,
			"Third argument to $slice must be a positive number")
	}
	if position < 0 {
		position += int64(len(array))
		if position < 0 {
			position = 0
		}
	} else if position > int64(len(array)) {
		position = int64(len(array))
	}
	end := position + count
	if end > int64(len(array)) {
		end = int64(len(array))
	}
	return append([]interface{}{}, array[position:end]...), nil
}

// sliceArray implements the two-argument form: positive n takes from
// the front, negative n from the back
func sliceArray(array []interface{}, n int64) []interface{} {
	length := int64(len(array))
	if n >= 0 {
		if n > length {
			n = length
		}
		return append([]interface{}{}, array[:n]...)
	}
	if -n > length {
		n = -length
	}
	return append([]interface{}{}, array[length+n:]...)
}

// mapSpec extracts the common {input, as, in/cond} shape of the array
// transformation operators
func mapSpec(operator string, operand interface{}, bodyKey string) (input interface{}, as string, body interface{}, err error) {
	spec, ok := operand.(*document.Document)
	if !ok {
		return nil, "", nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
			"%s only supports an object as its argument", operator)
	}
	input, ok = spec.Get("input")
	if !ok {
		return nil, "", nil, mongoerr.Newf(mongoerr.CodeFailedToParse, "Missing 'input' parameter to %s", operator)
	}
	body, ok = spec.Get(bodyKey)
	if !ok {
		return nil, "", nil, mongoerr.Newf(mongoerr.CodeFailedToParse, "Missing '%s' parameter to %s", bodyKey, operator)
	}
	as = "this"
	if asValue, hasAs := spec.Get("as"); hasAs {
		asString, isString := asValue.(string)
		if !isString {
			return nil, "", nil, mongoerr.Newf(mongoerr.CodeFailedToParse, "'as' parameter to %s must be a string", operator)
		}
		as = asString
	}
	return input, as, body, nil
}

func evaluateMap(c *Context, operand interface{}) (interface{}, error) {
	input, as, body, err := mapSpec("$map", operand, "in")
	if err != nil {
		return nil, err
	}
	inputValue, err := c.Evaluate(input)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(inputValue) {
		return nil, nil
	}
	array, ok := inputValue.([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeMapRequiresArray,
			"input to $map must be an array not %s", document.DescribeType(inputValue))
	}
	result := make([]interface{}, len(array))
	for i, element := range array {
		value, err := c.WithVariables(map[string]interface{}{as: element}).Evaluate(body)
		if err != nil {
			return nil, err
		}
		if document.IsMissing(value) {
			value = nil
		}
		result[i] = value
	}
	return result, nil
}

func evaluateFilter(c *Context, operand interface{}) (interface{}, error) {
	input, as, cond, err := mapSpec("$filter", operand, "cond")
	if err != nil {
		return nil, err
	}
	inputValue, err := c.Evaluate(input)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(inputValue) {
		return nil, nil
	}
	array, ok := inputValue.([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeFilterRequiresArray,
			"input to $filter must be an array not %s", document.DescribeType(inputValue))
	}
	result := make([]interface{}, 0, len(array))
	for _, element := range array {
		keep, err := c.WithVariables(map[string]interface{}{as: element}).Evaluate(cond)
		if err != nil {
			return nil, err
		}
		if document.IsTrue(keep) {
			result = append(result, element)
		}
	}
	return result, nil
}

func evaluateReduce(c *Context, operand interface{}) (interface{}, error) {
	spec, ok := operand.(*document.Document)
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeReduceRequiresArray,
			"$reduce only supports an object as its argument")
	}
	input, ok := spec.Get("input")
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "Missing 'input' parameter to $reduce")
	}
	initialValue, ok := spec.Get("initialValue")
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "Missing 'initialValue' parameter to $reduce")
	}
	inExpr, ok := spec.Get("in")
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "Missing 'in' parameter to $reduce")
	}

	inputValue, err := c.Evaluate(input)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(inputValue) {
		return nil, nil
	}
	array, ok := inputValue.([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeReduceRequiresArray,
			"input to $reduce must be an array not %s", document.DescribeType(inputValue))
	}
	accumulator, err := c.Evaluate(initialValue)
	if err != nil {
		return nil, err
	}
	for _, element := range array {
		accumulator, err = c.WithVariables(map[string]interface{}{
			"value": accumulator,
			"this":  element,
		}).Evaluate(inExpr)
		if err != nil {
			return nil, err
		}
	}
	return accumulator, nil
}
