package expr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

func evaluateConcat(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.operands(operand)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, value := range values {
		if document.IsNullOrMissing(value) {
			return nil, nil
		}
		s, ok := value.(string)
		if !ok {
			return nil, mongoerr.Newf(mongoerr.CodeConcatRequiresStrings,
				"$concat only supports strings, not %s", document.DescribeType(value))
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

func evaluateSubstrBytes(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$substrBytes", operand, 3)
	if err != nil {
		return nil, err
	}
	s := stringify(values[0])
	start, ok := document.Int64Value(values[1])
	if !ok || start < 0 {
		return nil, mongoerr.Newf(mongoerr.CodeSubstrStartValue,
			"Starting index must be non-negative numeric type: %s", document.FormatValue(values[1]))
	}
	length, ok := document.Int64Value(values[2])
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"Length must be a numeric type: %s", document.FormatValue(values[2]))
	}
	if start >= int64(len(s)) {
		return "", nil
	}
	end := int64(len(s))
	if length >= 0 && start+length < end {
		end = start + length
	}
	return s[start:end], nil
}

func evaluateToLower(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$toLower", operand, 1)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(stringify(values[0])), nil
}

func evaluateToUpper(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$toUpper", operand, 1)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(stringify(values[0])), nil
}

func evaluateStrLenBytes(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$strLenBytes", operand, 1)
	if err != nil {
		return nil, err
	}
	s, ok := values[0].(string)
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"$strLenBytes requires a string argument, found: %s", document.DescribeType(values[0]))
	}
	return int32(len(s)), nil
}

func evaluateSplit(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$split", operand, 2)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(values[0]) {
		return nil, nil
	}
	s, ok := values[0].(string)
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"$split requires an expression that evaluates to a string as a first argument, found: %s", document.DescribeType(values[0]))
	}
	delimiter, ok := values[1].(string)
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"$split requires an expression that evaluates to a string as a second argument, found: %s", document.DescribeType(values[1]))
	}
	if delimiter == "" {
		return nil, mongoerr.New(mongoerr.CodeBadValue, "$split delimiter must not be empty")
	}
	parts := strings.Split(s, delimiter)
	result := make([]interface{}, len(parts))
	for i, part := range parts {
		result[i] = part
	}
	return result, nil
}

// stringify renders scalar values the way string operators coerce them
func stringify(v interface{}) string {
	switch value := v.(type) {
	case nil, document.Missing:
		return ""
	case string:
		return value
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case document.ObjectID:
		return value.Hex()
	case time.Time:
		return value.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", value)
	}
}
