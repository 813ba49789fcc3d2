package expr

import (
	"math"
	"strconv"
	"time"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

func evaluateType(c *Context, operand interface{}) (interface{}, error) {
	value, err := c.Evaluate(operand)
	if err != nil {
		return nil, err
	}
	return document.TypeOf(value).String(), nil
}

// $literal returns its operand unevaluated
func evaluateLiteral(c *Context, operand interface{}) (interface{}, error) {
	return operand, nil
}

func evaluateToBool(c *Context, operand interface{}) (interface{}, error) {
	value, err := c.Evaluate(operand)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(value) {
		return nil, nil
	}
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return true, nil
	default:
		if f, ok := document.Float64Value(v); ok {
			return f != 0, nil
		}
		return true, nil
	}
}

func evaluateToInt(c *Context, operand interface{}) (interface{}, error) {
	value, err := c.Evaluate(operand)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(value) {
		return nil, nil
	}
	i, err := coerceInt64("$toInt", value)
	if err != nil {
		return nil, err
	}
	if i < math.MinInt32 || i > math.MaxInt32 {
		return nil, mongoerr.Newf(mongoerr.CodeBadValue, "Conversion would overflow target type in $toInt: %d", i)
	}
	return int32(i), nil
}

func evaluateToLong(c *Context, operand interface{}) (interface{}, error) {
	value, err := c.Evaluate(operand)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(value) {
		return nil, nil
	}
	return coerceInt64("$toLong", value)
}

func evaluateToDouble(c *Context, operand interface{}) (interface{}, error) {
	value, err := c.Evaluate(operand)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(value) {
		return nil, nil
	}
	switch v := value.(type) {
	case bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, mongoerr.Newf(mongoerr.CodeBadValue, "Failed to parse number '%s' in $convert", v)
		}
		return f, nil
	case time.Time:
		return float64(v.UnixMilli()), nil
	default:
		if f, ok := document.Float64Value(v); ok {
			return f, nil
		}
		return nil, conversionError("$toDouble", value)
	}
}

func evaluateToString(c *Context, operand interface{}) (interface{}, error) {
	value, err := c.Evaluate(operand)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(value) {
		return nil, nil
	}
	switch document.TypeOf(value) {
	case document.TypeDocument, document.TypeArray:
		return nil, conversionError("$toString", value)
	}
	return stringify(value), nil
}

func coerceInt64(operator string, value interface{}) (int64, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, mongoerr.Newf(mongoerr.CodeBadValue, "Failed to parse number '%s' in $convert", v)
		}
		return i, nil
	case time.Time:
		return v.UnixMilli(), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, mongoerr.Newf(mongoerr.CodeBadValue, "Attempt to convert NaN or Infinity value to integer in %s", operator)
		}
		return int64(math.Trunc(v)), nil
	default:
		if i, ok := document.Int64Value(v); ok {
			return i, nil
		}
		return 0, conversionError(operator, value)
	}
}

func conversionError(operator string, value interface{}) error {
	return mongoerr.Newf(mongoerr.CodeTypeMismatch,
		"Unsupported conversion from %s in %s", document.DescribeType(value), operator)
}

// dateOperator builds an operator extracting one component of a date
func dateOperator(operator string, extract func(t time.Time) int32) operatorFunc {
	return func(c *Context, operand interface{}) (interface{}, error) {
		value, err := c.Evaluate(operand)
		if err != nil {
			return nil, err
		}
		if list, ok := value.([]interface{}); ok && len(list) == 1 {
			value = list[0]
		}
		if document.IsNullOrMissing(value) {
			return nil, nil
		}
		t, ok := value.(time.Time)
		if !ok {
			return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
				"can't convert from BSON type %s to Date", document.DescribeType(value))
		}
		return extract(t.UTC()), nil
	}
}

var (
	evaluateYear        = dateOperator("$year", func(t time.Time) int32 { return int32(t.Year()) })
	evaluateMonth       = dateOperator("$month", func(t time.Time) int32 { return int32(t.Month()) })
	evaluateDayOfMonth  = dateOperator("$dayOfMonth", func(t time.Time) int32 { return int32(t.Day()) })
	evaluateHour        = dateOperator("$hour", func(t time.Time) int32 { return int32(t.Hour()) })
	evaluateMinute      = dateOperator("$minute", func(t time.Time) int32 { return int32(t.Minute()) })
	evaluateSecond      = dateOperator("$second", func(t time.Time) int32 { return int32(t.Second()) })
	evaluateMillisecond = dateOperator("$millisecond", func(t time.Time) int32 { return int32(t.Nanosecond() / 1e6) })
	evaluateDayOfWeek   = dateOperator("$dayOfWeek", func(t time.Time) int32 { return int32(t.Weekday()) + 1 })
	evaluateDayOfYear   = dateOperator("$dayOfYear", func(t time.Time) int32 { return int32(t.YearDay()) })
)
