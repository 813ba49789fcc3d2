package update

import (
	"sort"
	"time"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/path"
	"github.com/mnohosten/marlin-db/pkg/query"
)

func (u *Updater) applyOperation(doc *document.Document, operator, fieldPath string, operand interface{}, matchPos *path.MatchPos) (bool, error) {
	resolved, err := path.ResolvePositional(fieldPath, matchPos)
	if err != nil {
		return false, err
	}
	fieldPath = resolved
	matchPos = nil

	switch operator {
	case "$set", "$setOnInsert":
		return applySet(doc, fieldPath, operand, matchPos)
	case "$unset":
		return applyUnset(doc, fieldPath, matchPos)
	case "$inc":
		return applyNumeric(doc, "$inc", fieldPath, operand, matchPos)
	case "$mul":
		return applyNumeric(doc, "$mul", fieldPath, operand, matchPos)
	case "$min":
		return applyMinMax(doc, fieldPath, operand, matchPos, false)
	case "$max":
		return applyMinMax(doc, fieldPath, operand, matchPos, true)
	case "$rename":
		return applyRename(doc, fieldPath, operand)
	case "$currentDate":
		return applyCurrentDate(doc, fieldPath, operand, matchPos)
	case "$push":
		return applyPush(doc, fieldPath, operand, matchPos)
	case "$addToSet":
		return applyAddToSet(doc, fieldPath, operand, matchPos)
	case "$pop":
		return applyPop(doc, fieldPath, operand, matchPos)
	case "$pull":
		return applyPull(doc, fieldPath, operand, matchPos)
	case "$pullAll":
		return applyPullAll(doc, fieldPath, operand, matchPos)
	case "$bit":
		return applyBit(doc, fieldPath, operand, matchPos)
	default:
		return false, mongoerr.Newf(mongoerr.CodeFailedToParse, "Unknown modifier: %s", operator)
	}
}

func checkImmutableID(fieldPath string, oldValue, newValue interface{}) error {
	if fieldPath != "_id" {
		return nil
	}
	if document.IsMissing(oldValue) || document.NullAwareEquals(oldValue, newValue) {
		return nil
	}
	return mongoerr.New(mongoerr.CodeImmutableField,
		"Performing an update on the path '_id' would modify the immutable field '_id'")
}

func applySet(doc *document.Document, fieldPath string, value interface{}, matchPos *path.MatchPos) (bool, error) {
	oldValue, err := path.Get(doc, fieldPath)
	if err != nil {
		return false, err
	}
	if err := checkImmutableID(fieldPath, oldValue, value); err != nil {
		return false, err
	}
	if !document.IsMissing(oldValue) && document.NullAwareEquals(oldValue, value) {
		return false, nil
	}
	if err := path.Set(doc, fieldPath, document.CloneValue(value), matchPos); err != nil {
		return false, err
	}
	return true, nil
}

func applyUnset(doc *document.Document, fieldPath string, matchPos *path.MatchPos) (bool, error) {
	if fieldPath == "_id" {
		return false, mongoerr.New(mongoerr.CodeImmutableField,
			"Performing an update on the path '_id' would modify the immutable field '_id'")
	}
	removed, err := path.Remove(doc, fieldPath, matchPos)
	if err != nil {
		return false, err
	}
	return !document.IsMissing(removed), nil
}

func applyNumeric(doc *document.Document, operator, fieldPath string, operand interface{}, matchPos *path.MatchPos) (bool, error) {
	if !document.IsNumeric(operand) {
		return false, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"Cannot %s with non-numeric argument: {%s: %s}", operator, fieldPath, document.FormatValue(operand))
	}
	oldValue, err := path.Get(doc, fieldPath)
	if err != nil {
		return false, err
	}
	if document.IsNullOrMissing(oldValue) {
		// $inc starts from zero, $mul yields zero of the operand type
		initial := interface{}(int64(0))
		if operator == "$inc" {
			initial = operand
		} else if document.TypeOf(operand) == document.TypeDouble {
			initial = 0.0
		} else if document.TypeOf(operand) == document.TypeInt32 {
			initial = int32(0)
		}
		return true, path.Set(doc, fieldPath, initial, matchPos)
	}
	if !document.IsNumeric(oldValue) {
		return false, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"Cannot apply %s to a value of non-numeric type. {_id: %s} has the field '%s' of non-numeric type %s",
			operator, document.FormatValue(doc.GetOrMissing("_id")), path.LastFragment(fieldPath), document.DescribeType(oldValue))
	}

	var result interface{}
	if oldInt, operandInt, ok := integralPair(oldValue, operand); ok {
		if operator == "$inc" {
			result = document.NormalizeNumber(oldInt + operandInt)
		} else {
			result = document.NormalizeNumber(oldInt * operandInt)
		}
	} else {
		oldFloat, _ := document.Float64Value(oldValue)
		operandFloat, _ := document.Float64Value(operand)
		if operator == "$inc" {
			result = oldFloat + operandFloat
		} else {
			result = oldFloat * operandFloat
		}
	}
	if document.NullAwareEquals(oldValue, result) && document.TypeOf(oldValue) == document.TypeOf(result) {
		return false, nil
	}
	return true, path.Set(doc, fieldPath, result, matchPos)
}

func integralPair(a, b interface{}) (int64, int64, bool) {
	if document.TypeOf(a) == document.TypeDouble || document.TypeOf(b) == document.TypeDouble {
		return 0, 0, false
	}
	ai, aOk := document.Int64Value(a)
	bi, bOk := document.Int64Value(b)
	return ai, bi, aOk && bOk
}

func applyMinMax(doc *document.Document, fieldPath string, operand interface{}, matchPos *path.MatchPos, max bool) (bool, error) {
	oldValue, err := path.Get(doc, fieldPath)
	if err != nil {
		return false, err
	}
	if err := checkImmutableID(fieldPath, oldValue, operand); err != nil {
		return false, err
	}
	replace := document.IsMissing(oldValue)
	if !replace {
		cmp := document.Compare(operand, oldValue)
		if max {
			replace = cmp > 0
		} else {
			replace = cmp < 0
		}
	}
	if !replace {
		return false, nil
	}
	return true, path.Set(doc, fieldPath, document.CloneValue(operand), matchPos)
}

func applyRename(doc *document.Document, fromPath string, operand interface{}) (bool, error) {
	toPath, ok := operand.(string)
	if !ok {
		return false, mongoerr.Newf(mongoerr.CodeBadValue,
			"The 'to' field for $rename must be a string: %s: %s", fromPath, document.FormatValue(operand))
	}
	if fromPath == toPath {
		return false, mongoerr.Newf(mongoerr.CodeBadValue,
			"The source and target field for $rename must differ: %s", fromPath)
	}
	if !path.CanFullyTraverseForRename(doc, fromPath) {
		return false, mongoerr.Newf(mongoerr.CodeBadValue,
			"The source field cannot be an array element, '%s' in doc with _id: %s has an array field called '%s'",
			fromPath, document.FormatValue(doc.GetOrMissing("_id")), path.FirstFragment(fromPath))
	}
	if !path.CanFullyTraverseForRename(doc, toPath) {
		return false, mongoerr.Newf(mongoerr.CodeBadValue,
			"The destination field cannot be an array element, '%s' in doc with _id: %s has an array field called '%s'",
			toPath, document.FormatValue(doc.GetOrMissing("_id")), path.FirstFragment(toPath))
	}
	value, err := path.Remove(doc, fromPath, nil)
	if err != nil {
		return false, err
	}
	if document.IsMissing(value) {
		return false, nil
	}
	if err := path.Set(doc, toPath, value, nil); err != nil {
		return false, err
	}
	return true, nil
}

func applyCurrentDate(doc *document.Document, fieldPath string, operand interface{}, matchPos *path.MatchPos) (bool, error) {
	var value interface{}
	switch spec := operand.(type) {
	case bool:
		value = time.Now().UTC()
	case *document.Document:
		typeName, _ := spec.Get("$type")
		switch typeName {
		case "date":
			value = time.Now().UTC()
		case "timestamp":
			now := time.Now()
			value = document.Timestamp{T: uint32(now.Unix()), I: 1}
		default:
			return false, mongoerr.Newf(mongoerr.CodeBadValue,
				"The '$type' string field is required to be 'date' or 'timestamp': {$currentDate: {field: {$type: 'date'}}}")
		}
	default:
		return false, mongoerr.Newf(mongoerr.CodeBadValue,
			"%s is not valid type for $currentDate. Please use a boolean ('true') or a $type expression ({$type: 'timestamp/date'}).",
			document.DescribeType(operand))
	}
	return true, path.Set(doc, fieldPath, value, matchPos)
}

// pushModifiers is the parsed $each form of $push
type pushModifiers struct {
	each     []interface{}
	slice    *int64
	sortSpec interface{}
	position *int64
}

func parsePushModifiers(operand interface{}) (*pushModifiers, error) {
	spec, ok := operand.(*document.Document)
	if !ok {
		return nil, nil
	}
	eachValue, hasEach := spec.Get("$each")
	if !hasEach {
		return nil, nil
	}
	each, ok := eachValue.([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeBadValue,
			"The argument to $each in $push must be an array but it was of type %s", document.DescribeType(eachValue))
	}
	modifiers := &pushModifiers{each: each}
	for _, entry := range spec.Entries() {
		switch entry.Key {
		case "$each":
		case "$slice":
			n, ok := document.Int64Value(entry.Value)
			if !ok {
				return nil, mongoerr.New(mongoerr.CodeBadValue, "The value for $slice must be a numeric value")
			}
			modifiers.slice = &n
		case "$sort":
			modifiers.sortSpec = entry.Value
		case "$position":
			n, ok := document.Int64Value(entry.Value)
			if !ok {
				return nil, mongoerr.New(mongoerr.CodeBadValue, "The value for $position must be a numeric value")
			}
			modifiers.position = &n
		default:
			return nil, mongoerr.Newf(mongoerr.CodeBadValue, "Unrecognized clause in $push: %s", entry.Key)
		}
	}
	return modifiers, nil
}

func applyPush(doc *document.Document, fieldPath string, operand interface{}, matchPos *path.MatchPos) (bool, error) {
	array, err := arrayAt(doc, fieldPath, "$push")
	if err != nil {
		return false, err
	}

	modifiers, err := parsePushModifiers(operand)
	if err != nil {
		return false, err
	}
	if modifiers == nil {
		array = append(array, document.CloneValue(operand))
	} else {
		values := make([]interface{}, len(modifiers.each))
		for i, v := range modifiers.each {
			values[i] = document.CloneValue(v)
		}
		if modifiers.position != nil {
			pos := *modifiers.position
			if pos < 0 {
				pos += int64(len(array))
			}
			if pos < 0 {
				pos = 0
			}
			if pos > int64(len(array)) {
				pos = int64(len(array))
			}
			rest := append([]interface{}{}, array[pos:]...)
			array = append(append(array[:pos], values...), rest...)
		} else {
			array = append(array, values...)
		}
		if modifiers.sortSpec != nil {
			if err := sortArray(array, modifiers.sortSpec); err != nil {
				return false, err
			}
		}
		if modifiers.slice != nil {
			array = sliceForPush(array, *modifiers.slice)
		}
	}
	return true, path.Set(doc, fieldPath, array, matchPos)
}

func sliceForPush(array []interface{}, n int64) []interface{} {
	length := int64(len(array))
	switch {
	case n == 0:
		return []interface{}{}
	case n > 0:
		if n > length {
			n = length
		}
		return array[:n]
	default:
		if -n > length {
			n = -length
		}
		return array[length+n:]
	}
}

func sortArray(array []interface{}, sortSpec interface{}) error {
	switch spec := sortSpec.(type) {
	case *document.Document:
		sort.SliceStable(array, func(i, j int) bool {
			di, iOk := array[i].(*document.Document)
			dj, jOk := array[j].(*document.Document)
			if !iOk || !jOk {
				return false
			}
			for _, entry := range spec.Entries() {
				order, _ := document.Int64Value(entry.Value)
				cmp := document.Compare(di.GetOrMissing(entry.Key), dj.GetOrMissing(entry.Key))
				if cmp != 0 {
					if order < 0 {
						return cmp > 0
					}
					return cmp < 0
				}
			}
			return false
		})
		return nil
	default:
		order, ok := document.Int64Value(sortSpec)
		if !ok || (order != 1 && order != -1) {
			return mongoerr.New(mongoerr.CodeBadValue,
				"The $sort is invalid: use 1/-1 to sort the whole element, or {field:1/-1} to sort embedded fields")
		}
		sort.SliceStable(array, func(i, j int) bool {
			cmp := document.Compare(array[i], array[j])
			if order < 0 {
				return cmp > 0
			}
			return cmp < 0
		})
		return nil
	}
}

func applyAddToSet(doc *document.Document, fieldPath string, operand interface{}, matchPos *path.MatchPos) (bool, error) {
	array, err := arrayAt(doc, fieldPath, "$addToSet")
	if err != nil {
		return false, err
	}

	values := []interface{}{operand}
	if spec, ok := operand.(*document.Document); ok {
		if eachValue, hasEach := spec.Get("$each"); hasEach {
			each, isArray := eachValue.([]interface{})
			if !isArray {
				return false, mongoerr.Newf(mongoerr.CodeTypeMismatch,
					"The argument to $each in $addToSet must be an array but it was of type %s", document.DescribeType(eachValue))
			}
			values = each
		}
	}

	modified := false
	for _, value := range values {
		exists := false
		for _, element := range array {
			if document.NullAwareEquals(element, value) {
				exists = true
				break
			}
		}
		if !exists {
			array = append(array, document.CloneValue(value))
			modified = true
		}
	}
	if !modified {
		return false, nil
	}
	return true, path.Set(doc, fieldPath, array, matchPos)
}

func applyPop(doc *document.Document, fieldPath string, operand interface{}, matchPos *path.MatchPos) (bool, error) {
	direction, ok := document.Int64Value(operand)
	if !ok || (direction != 1 && direction != -1) {
		return false, mongoerr.Newf(mongoerr.CodeFailedToParse,
			"Expected a number in: %s: %s", fieldPath, document.FormatValue(operand))
	}
	value, err := path.Get(doc, fieldPath)
	if err != nil {
		return false, err
	}
	if document.IsMissing(value) {
		return false, nil
	}
	array, ok := value.([]interface{})
	if !ok {
		return false, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"Path '%s' contains an element of non-array type '%s'", fieldPath, document.DescribeType(value))
	}
	if len(array) == 0 {
		return false, nil
	}
	if direction == 1 {
		array = array[:len(array)-1]
	} else {
		array = array[1:]
	}
	return true, path.Set(doc, fieldPath, array, matchPos)
}

func applyPull(doc *document.Document, fieldPath string, operand interface{}, matchPos *path.MatchPos) (bool, error) {
	value, err := path.Get(doc, fieldPath)
	if err != nil {
		return false, err
	}
	if document.IsMissing(value) {
		return false, nil
	}
	array, ok := value.([]interface{})
	if !ok {
		return false, mongoerr.New(mongoerr.CodeBadValue, "Cannot apply $pull to a non-array value")
	}

	keep := make([]interface{}, 0, len(array))
	for _, element := range array {
		matched, err := pullMatches(element, operand)
		if err != nil {
			return false, err
		}
		if !matched {
			keep = append(keep, element)
		}
	}
	if len(keep) == len(array) {
		return false, nil
	}
	return true, path.Set(doc, fieldPath, keep, matchPos)
}

func applyPullAll(doc *document.Document, fieldPath string, operand interface{}, matchPos *path.MatchPos) (bool, error) {
	literals, ok := operand.([]interface{})
	if !ok {
		return false, mongoerr.Newf(mongoerr.CodeBadValue,
			"$pullAll requires an array argument but was given a %s", document.DescribeType(operand))
	}
	value, err := path.Get(doc, fieldPath)
	if err != nil {
		return false, err
	}
	if document.IsMissing(value) {
		return false, nil
	}
	array, ok := value.([]interface{})
	if !ok {
		return false, mongoerr.New(mongoerr.CodeBadValue, "Cannot apply $pullAll to a non-array value")
	}

	keep := make([]interface{}, 0, len(array))
	for _, element := range array {
		remove := false
		for _, literal := range literals {
			if document.NullAwareEquals(element, literal) {
				remove = true
				break
			}
		}
		if !remove {
			keep = append(keep, element)
		}
	}
	if len(keep) == len(array) {
		return false, nil
	}
	return true, path.Set(doc, fieldPath, keep, matchPos)
}

func applyBit(doc *document.Document, fieldPath string, operand interface{}, matchPos *path.MatchPos) (bool, error) {
	spec, ok := operand.(*document.Document)
	if !ok || spec.Len() == 0 {
		return false, mongoerr.Newf(mongoerr.CodeBadValue,
			"The $bit modifier is not compatible with a %s. You must pass in an embedded document: {$bit: {field: {and/or/xor: #}}}",
			document.DescribeType(operand))
	}
	oldValue, err := path.Get(doc, fieldPath)
	if err != nil {
		return false, err
	}
	current := int64(0)
	if !document.IsNullOrMissing(oldValue) {
		current, ok = document.Int64Value(oldValue)
		if !ok || document.TypeOf(oldValue) == document.TypeDouble {
			return false, mongoerr.Newf(mongoerr.CodeBadValue,
				"Cannot apply $bit to a value of non-integral type. {_id: %s} has the field '%s' of non-integer type %s",
				document.FormatValue(doc.GetOrMissing("_id")), path.LastFragment(fieldPath), document.DescribeType(oldValue))
		}
	}
	result := current
	for _, entry := range spec.Entries() {
		operandInt, ok := document.Int64Value(entry.Value)
		if !ok || document.TypeOf(entry.Value) == document.TypeDouble {
			return false, mongoerr.Newf(mongoerr.CodeBadValue,
				"The $bit modifier field must be an Integer(32/64 bit); a '%s' is not supported here",
				document.DescribeType(entry.Value))
		}
		switch entry.Key {
		case "and":
			result &= operandInt
		case "or":
			result |= operandInt
		case "xor":
			result ^= operandInt
		default:
			return false, mongoerr.Newf(mongoerr.CodeBadValue,
				"The $bit modifier only supports 'and', 'or', and 'xor', not '%s'", entry.Key)
		}
	}
	if result == current && !document.IsNullOrMissing(oldValue) {
		return false, nil
	}
	return true, path.Set(doc, fieldPath, document.NormalizeNumber(result), matchPos)
}

// pullMatches checks one array element against a $pull condition
func pullMatches(element interface{}, condition interface{}) (bool, error) {
	conditionDoc, isDoc := condition.(*document.Document)
	if !isDoc {
		return document.NullAwareEquals(element, condition), nil
	}
	return query.MatchesElement(element, conditionDoc)
}

// arrayAt resolves the array value at a path, creating an empty array
// for a missing field
func arrayAt(doc *document.Document, fieldPath, operator string) ([]interface{}, error) {
	value, err := path.Get(doc, fieldPath)
	if err != nil {
		return nil, err
	}
	if document.IsMissing(value) {
		return []interface{}{}, nil
	}
	array, ok := value.([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeBadValue,
			"The field '%s' must be an array but is of type %s in document {_id: %s}",
			fieldPath, document.DescribeType(value), document.FormatValue(doc.GetOrMissing("_id")))
	}
	return array, nil
}
