package query

import (
	"regexp"
	"strings"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

func (m *Matcher) matchesOperator(operator string, value interface{}, opValue interface{}) (bool, error) {
	switch operator {
	case "$eq":
		return m.matchesLiteral(value, opValue), nil
	case "$ne":
		return !m.matchesLiteral(value, opValue), nil
	case "$gt":
		return m.matchesComparison(value, opValue, func(cmp int) bool { return cmp > 0 }), nil
	case "$gte":
		return m.matchesComparison(value, opValue, func(cmp int) bool { return cmp >= 0 }), nil
	case "$lt":
		return m.matchesComparison(value, opValue, func(cmp int) bool { return cmp < 0 }), nil
	case "$lte":
		return m.matchesComparison(value, opValue, func(cmp int) bool { return cmp <= 0 }), nil
	case "$in":
		return m.matchesIn(value, opValue)
	case "$nin":
		matched, err := m.matchesIn(value, opValue)
		return !matched, err
	case "$exists":
		return document.IsTrue(opValue) == !document.IsMissing(value), nil
	case "$type":
		return matchesType(value, opValue)
	case "$regex":
		regex, ok := opValue.(document.Regex)
		if !ok {
			return false, mongoerr.New(mongoerr.CodeBadValue, "$regex has to be a string")
		}
		return matchesRegex(value, regex, m)
	case "$mod":
		return matchesMod(value, opValue)
	case "$size":
		return matchesSize(value, opValue)
	case "$all":
		return m.matchesAll(value, opValue)
	case "$elemMatch":
		return m.matchesElemMatch(value, opValue)
	case "$not":
		return m.matchesNot(value, opValue)
	default:
		return false, mongoerr.Newf(mongoerr.CodeBadValue, "unknown operator: %s", operator)
	}
}

// matchesComparison applies an ordering operator. Null never compares
// against a present value; arrays match when any element satisfies the
// comparison, recording its index.
func (m *Matcher) matchesComparison(value, opValue interface{}, test func(cmp int) bool) bool {
	if array, ok := value.([]interface{}); ok {
		for i, element := range array {
			if comparableValues(element, opValue) && test(document.Compare(element, opValue)) {
				m.recordPosition(i)
				return true
			}
		}
		if comparableValues(value, opValue) && test(document.Compare(value, opValue)) {
			return true
		}
		return false
	}
	return comparableValues(value, opValue) && test(document.Compare(value, opValue))
}

// comparableValues guards ordering comparisons against null/missing
// operands, which only equality may observe
func comparableValues(a, b interface{}) bool {
	return document.IsNeitherNullNorMissing(a) && document.IsNeitherNullNorMissing(b)
}

func (m *Matcher) matchesIn(value interface{}, opValue interface{}) (bool, error) {
	list, ok := opValue.([]interface{})
	if !ok {
		return false, mongoerr.New(mongoerr.CodeBadValue, "$in needs an array")
	}
	for _, literal := range list {
		if m.matchesLiteral(value, literal) {
			return true, nil
		}
	}
	return false, nil
}

func matchesType(value interface{}, opValue interface{}) (bool, error) {
	if list, ok := opValue.([]interface{}); ok {
		for _, alias := range list {
			matched, err := matchesType(value, alias)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
		return false, nil
	}

	switch alias := opValue.(type) {
	case string:
		if alias == "number" {
			return document.IsNumeric(value), nil
		}
		t, err := document.TypeByName(alias)
		if err != nil {
			return false, mongoerr.Newf(mongoerr.CodeBadValue, "Unknown type name alias: %s", alias)
		}
		return document.TypeOf(value) == t, nil
	default:
		number, ok := document.Int64Value(opValue)
		if !ok {
			return false, mongoerr.New(mongoerr.CodeTypeMismatch, "type must be represented as a number or a string")
		}
		return document.TypeOf(value) == document.Type(number), nil
	}
}

func matchesMod(value interface{}, opValue interface{}) (bool, error) {
	spec, ok := opValue.([]interface{})
	if !ok || len(spec) != 2 {
		return false, mongoerr.New(mongoerr.CodeBadValue, "malformed mod, needs to be an array of 2 elements")
	}
	divisor, ok := document.Int64Value(spec[0])
	if !ok || divisor == 0 {
		return false, mongoerr.New(mongoerr.CodeBadValue, "divisor cannot be 0")
	}
	remainder, ok := document.Int64Value(spec[1])
	if !ok {
		return false, mongoerr.New(mongoerr.CodeBadValue, "malformed mod, remainder not a number")
	}
	if array, isArray := value.([]interface{}); isArray {
		for _, element := range array {
			if n, isNumber := document.Int64Value(element); isNumber && n%divisor == remainder {
				return true, nil
			}
		}
		return false, nil
	}
	n, isNumber := document.Int64Value(value)
	return isNumber && n%divisor == remainder, nil
}

func matchesSize(value interface{}, opValue interface{}) (bool, error) {
	size, ok := document.Int64Value(opValue)
	if !ok {
		return false, mongoerr.New(mongoerr.CodeBadValue, "$size needs a number")
	}
	array, ok := value.([]interface{})
	return ok && int64(len(array)) == size, nil
}

func (m *Matcher) matchesAll(value interface{}, opValue interface{}) (bool, error) {
	list, ok := opValue.([]interface{})
	if !ok {
		return false, mongoerr.New(mongoerr.CodeBadValue, "$all needs an array")
	}
	if len(list) == 0 {
		return false, nil
	}
	for _, literal := range list {
		if !m.matchesLiteral(value, literal) {
			return false, nil
		}
	}
	return true, nil
}

// matchesElemMatch requires at least one array element to satisfy the
// sub-query and records the index of the first such element
func (m *Matcher) matchesElemMatch(value interface{}, opValue interface{}) (bool, error) {
	subQuery, ok := opValue.(*document.Document)
	if !ok {
		return false, mongoerr.New(mongoerr.CodeBadValue, "$elemMatch needs an Object")
	}
	array, ok := value.([]interface{})
	if !ok {
		return false, nil
	}
	for i, element := range array {
		matched, err := m.matchesElement(element, subQuery)
		if err != nil {
			return false, err
		}
		if matched {
			m.recordPosition(i)
			return true, nil
		}
	}
	return false, nil
}

// matchesElement matches one array element against an $elemMatch
// sub-query: either a bare operator document applied to the element,
// or a full filter applied to a document element
func (m *Matcher) matchesElement(element interface{}, subQuery *document.Document) (bool, error) {
	if operatorDoc, ok := asOperatorDocument(subQuery); ok {
		for _, entry := range operatorDoc.Entries() {
			if entry.Key == "$options" {
				continue
			}
			opValue := entry.Value
			if entry.Key == "$regex" {
				opValue = regexCondition(operatorDoc)
			}
			result, err := m.matchesOperator(entry.Key, element, opValue)
			if err != nil || !result {
				return false, err
			}
		}
		return true, nil
	}
	elementDoc, ok := element.(*document.Document)
	if !ok {
		return false, nil
	}
	sub := NewMatcher(subQuery)
	return sub.Matches(elementDoc)
}

func (m *Matcher) matchesNot(value interface{}, opValue interface{}) (bool, error) {
	if regex, ok := opValue.(document.Regex); ok {
		matched, err := matchesRegex(value, regex, nil)
		return err == nil && !matched, nil
	}
	operatorDoc, ok := asOperatorDocument(opValue)
	if !ok {
		return false, mongoerr.New(mongoerr.CodeBadValue, "$not needs a regex or a document")
	}
	for _, entry := range operatorDoc.Entries() {
		if entry.Key == "$options" {
			continue
		}
		operand := entry.Value
		if entry.Key == "$regex" {
			operand = regexCondition(operatorDoc)
		}
		result, err := m.matchesOperator(entry.Key, value, operand)
		if err != nil {
			return false, err
		}
		if result {
			return false, nil
		}
	}
	return true, nil
}

// regexCondition folds {$regex, $options} into a single Regex value
func regexCondition(operatorDoc *document.Document) interface{} {
	raw, _ := operatorDoc.Get("$regex")
	var regex document.Regex
	switch v := raw.(type) {
	case document.Regex:
		regex = v
	case string:
		regex = document.Regex{Pattern: v}
	default:
		return raw
	}
	if options, ok := operatorDoc.Get("$options"); ok {
		if s, isString := options.(string); isString {
			regex.Options = s
		}
	}
	return regex
}

// matchesRegex matches a value (or any element of an array value)
// against a regular expression
func matchesRegex(value interface{}, regex document.Regex, m *Matcher) (bool, error) {
	compiled, err := CompileRegex(regex)
	if err != nil {
		return false, err
	}
	switch v := value.(type) {
	case string:
		return compiled.MatchString(v), nil
	case []interface{}:
		for i, element := range v {
			if s, ok := element.(string); ok && compiled.MatchString(s) {
				if m != nil {
					m.recordPosition(i)
				}
				return true, nil
			}
		}
	}
	return false, nil
}

// CompileRegex compiles a regex value, translating the supported
// option flags (i, m, s, x) to Go regexp syntax
func CompileRegex(regex document.Regex) (*regexp.Regexp, error) {
	pattern := regex.Pattern
	var flags strings.Builder
	extended := false
	for _, option := range regex.Options {
		switch option {
		case 'i', 'm', 's':
			flags.WriteRune(option)
		case 'x':
			extended = true
		default:
			return nil, mongoerr.Newf(mongoerr.CodeBadValue, "invalid flag in regex options: %c", option)
		}
	}
	if extended {
		pattern = stripExtendedWhitespace(pattern)
	}
	if flags.Len() > 0 {
		pattern = "(?" + flags.String() + ")" + pattern
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, mongoerr.Newf(mongoerr.CodeBadValue, "invalid regex: %v", err)
	}
	return compiled, nil
}

// stripExtendedWhitespace implements the x flag: unescaped whitespace
// and #-comments outside character classes are ignored
func stripExtendedWhitespace(pattern string) string {
	var sb strings.Builder
	inClass := false
	inComment := false
	escaped := false
	for _, c := range pattern {
		if inComment {
			if c == '\n' {
				inComment = false
			}
			continue
		}
		if escaped {
			sb.WriteRune(c)
			escaped = false
			continue
		}
		switch c {
		case '\\':
			sb.WriteRune(c)
			escaped = true
		case '[':
			inClass = true
			sb.WriteRune(c)
		case ']':
			inClass = false
			sb.WriteRune(c)
		case '#':
			if inClass {
				sb.WriteRune(c)
			} else {
				inComment = true
			}
		case ' ', '\t', '\n', '\r':
			if inClass {
				sb.WriteRune(c)
			}
		default:
			sb.WriteRune(c)
		}
	}
	return sb.String()
}
