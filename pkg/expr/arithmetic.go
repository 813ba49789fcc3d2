package expr

import (
	"math"
	"time"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

// numericOperand unwraps a single numeric operand, mapping null and
// missing to a nil result the caller propagates
func numericOperand(operator string, value interface{}) (float64, bool, error) {
	if document.IsNullOrMissing(value) {
		return 0, false, nil
	}
	f, ok := document.Float64Value(value)
	if !ok {
		return 0, false, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"%s only supports numeric types, not %s", operator, document.DescribeType(value))
	}
	return f, true, nil
}

func evaluateAbs(c *Context, operand interface{}) (interface{}, error) {
	value, err := c.Evaluate(operand)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(value) {
		return nil, nil
	}
	if i, ok := document.Int64Value(value); ok && document.TypeOf(value) != document.TypeDouble {
		if i < 0 {
			i = -i
		}
		return document.NormalizeNumber(i), nil
	}
	f, ok, err := numericOperand("$abs", value)
	if err != nil || !ok {
		return nil, err
	}
	return math.Abs(f), nil
}

// bothIntegral reports whether two values can use exact long arithmetic
func bothIntegral(a, b interface{}) (int64, int64, bool) {
	if document.TypeOf(a) == document.TypeDouble || document.TypeOf(b) == document.TypeDouble {
		return 0, 0, false
	}
	ai, aOk := document.Int64Value(a)
	bi, bOk := document.Int64Value(b)
	return ai, bi, aOk && bOk
}

func evaluateAdd(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.operands(operand)
	if err != nil {
		return nil, err
	}
	var dateResult *time.Time
	intSum := int64(0)
	floatSum := 0.0
	allIntegral := true
	for _, value := range values {
		if document.IsNullOrMissing(value) {
			return nil, nil
		}
		if t, ok := value.(time.Time); ok {
			if dateResult != nil {
				return nil, mongoerr.New(mongoerr.CodeTypeMismatch, "only one date allowed in an $add expression")
			}
			dateResult = &t
			continue
		}
		f, ok := document.Float64Value(value)
		if !ok {
			return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
				"$add only supports numeric or date types, not %s", document.DescribeType(value))
		}
		if i, isInt := document.Int64Value(value); isInt && document.TypeOf(value) != document.TypeDouble {
			intSum += i
		} else {
			allIntegral = false
		}
		floatSum += f
	}
	if dateResult != nil {
		return dateResult.Add(time.Duration(floatSum) * time.Millisecond), nil
	}
	if allIntegral {
		return document.NormalizeNumber(intSum), nil
	}
	return floatSum, nil
}

func evaluateSubtract(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$subtract", operand, 2)
	if err != nil {
		return nil, err
	}
	a, b := values[0], values[1]
	if document.IsNullOrMissing(a) || document.IsNullOrMissing(b) {
		return nil, nil
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.UnixMilli() - bt.UnixMilli(), nil
		}
		if f, ok := document.Float64Value(b); ok {
			return at.Add(-time.Duration(f) * time.Millisecond), nil
		}
	}
	if ai, bi, ok := bothIntegral(a, b); ok {
		return document.NormalizeNumber(ai - bi), nil
	}
	af, ok, err := numericOperand("$subtract", a)
	if err != nil || !ok {
		return nil, err
	}
	bf, ok, err := numericOperand("$subtract", b)
	if err != nil || !ok {
		return nil, err
	}
	return af - bf, nil
}

func evaluateMultiply(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.operands(operand)
	if err != nil {
		return nil, err
	}
	intProduct := int64(1)
	floatProduct := 1.0
	allIntegral := true
	for _, value := range values {
		if document.IsNullOrMissing(value) {
			return nil, nil
		}
		f, ok := document.Float64Value(value)
		if !ok {
			return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
				"$multiply only supports numeric types, not %s", document.DescribeType(value))
		}
		if i, isInt := document.Int64Value(value); isInt && document.TypeOf(value) != document.TypeDouble {
			intProduct *= i
		} else {
			allIntegral = false
		}
		floatProduct *= f
	}
	if allIntegral {
		return document.NormalizeNumber(intProduct), nil
	}
	return floatProduct, nil
}

func evaluateDivide(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$divide", operand, 2)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(values[0]) || document.IsNullOrMissing(values[1]) {
		return nil, nil
	}
	a, ok, err := numericOperand("$divide", values[0])
	if err != nil || !ok {
		return nil, err
	}
	b, ok, err := numericOperand("$divide", values[1])
	if err != nil || !ok {
		return nil, err
	}
	if b == 0 {
		return nil, mongoerr.New(mongoerr.CodeDivideByZero, "can't $divide by zero")
	}
	return a / b, nil
}

func evaluateModulo(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$mod", operand, 2)
	if err != nil {
		return nil, err
	}
	a, b := values[0], values[1]
	if document.IsNullOrMissing(a) || document.IsNullOrMissing(b) {
		return nil, nil
	}
	if ai, bi, ok := bothIntegral(a, b); ok {
		if bi == 0 {
			return nil, mongoerr.New(mongoerr.CodeModByZero, "can't $mod by zero")
		}
		return document.NormalizeNumber(ai % bi), nil
	}
	af, ok, err := numericOperand("$mod", a)
	if err != nil || !ok {
		return nil, err
	}
	bf, ok, err := numericOperand("$mod", b)
	if err != nil || !ok {
		return nil, err
	}
	if bf == 0 {
		return nil, mongoerr.New(mongoerr.CodeModByZero, "can't $mod by zero")
	}
	return math.Mod(af, bf), nil
}

// unaryDouble builds an operator that applies a float function to one
// numeric operand
func unaryDouble(operator string, fn func(float64) float64) operatorFunc {
	return func(c *Context, operand interface{}) (interface{}, error) {
		value, err := c.Evaluate(operand)
		if err != nil {
			return nil, err
		}
		f, ok, err := numericOperand(operator, value)
		if err != nil || !ok {
			return nil, err
		}
		return fn(f), nil
	}
}

// unaryIntegral builds an operator that keeps integral inputs integral
func unaryIntegral(operator string, fn func(float64) float64) operatorFunc {
	return func(c *Context, operand interface{}) (interface{}, error) {
		value, err := c.Evaluate(operand)
		if err != nil {
			return nil, err
		}
		if document.IsNullOrMissing(value) {
			return nil, nil
		}
		if document.TypeOf(value) != document.TypeDouble {
			if i, ok := document.Int64Value(value); ok {
				return document.NormalizeNumber(i), nil
			}
		}
		f, ok, err := numericOperand(operator, value)
		if err != nil || !ok {
			return nil, err
		}
		return fn(f), nil
	}
}

var (
	evaluateCeil  = unaryIntegral("$ceil", math.Ceil)
	evaluateFloor = unaryIntegral("$floor", math.Floor)
	evaluateTrunc = unaryIntegral("$trunc", math.Trunc)
	evaluateSqrt  = unaryDouble("$sqrt", math.Sqrt)
	evaluateExp   = unaryDouble("$exp", math.Exp)
	evaluateLn    = unaryDouble("$ln", math.Log)
	evaluateLog10 = unaryDouble("$log10", math.Log10)
)

func evaluatePow(c *Context, operand interface{}) (interface{}, error) {
	values, err := c.requireOperands("$pow", operand, 2)
	if err != nil {
		return nil, err
	}
	if document.IsNullOrMissing(values[0]) || document.IsNullOrMissing(values[1]) {
		return nil, nil
	}
	base, ok, err := numericOperand("$pow", values[0])
	if err != nil || !ok {
		return nil, err
	}
	exponent, ok, err := numericOperand("$pow", values[1])
	if err != nil || !ok {
		return nil, err
	}
	result := math.Pow(base, exponent)
	if _, ei, isInt := bothIntegral(values[0], values[1]); isInt && ei >= 0 {
		return document.NormalizeNumber(result), nil
	}
	return result, nil
}
