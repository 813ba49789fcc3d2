package document

import (
	"bytes"
	"math"
	"time"
)

// typeRank returns the position of a type in the canonical BSON
// cross-type sort order
func typeRank(v interface{}) int {
	switch TypeOf(v) {
	case TypeMinKey:
		return 0
	case TypeUndefined:
		return 1
	case TypeMissing, TypeNull:
		return 2
	case TypeInt32, TypeInt64, TypeDouble, TypeDecimal:
		return 3
	case TypeString:
		return 4
	case TypeDocument:
		return 5
	case TypeArray:
		return 6
	case TypeBinary:
		return 7
	case TypeObjectID:
		return 8
	case TypeBoolean:
		return 9
	case TypeDateTime:
		return 10
	case TypeTimestamp:
		return 11
	case TypeRegex:
		return 12
	case TypeMaxKey:
		return 13
	default:
		return 2
	}
}

// Compare orders two values canonically: first by BSON type rank, then
// by natural order within the type. Missing sorts like Null.
func Compare(a, b interface{}) int {
	rankA, rankB := typeRank(a), typeRank(b)
	if rankA != rankB {
		if rankA < rankB {
			return -1
		}
		return 1
	}

	switch TypeOf(a) {
	case TypeMissing, TypeNull, TypeMinKey, TypeMaxKey, TypeUndefined:
		return 0
	case TypeInt32, TypeInt64, TypeDouble, TypeDecimal:
		return compareNumbers(a, b)
	case TypeString:
		return compareStrings(a.(string), b.(string))
	case TypeDocument:
		return compareDocuments(toDocument(a), toDocument(b))
	case TypeArray:
		return compareArrays(a.([]interface{}), b.([]interface{}))
	case TypeBinary:
		return compareBinary(toBinary(a), toBinary(b))
	case TypeObjectID:
		return bytes.Compare(idBytes(a), idBytes(b))
	case TypeBoolean:
		return compareBools(a.(bool), b.(bool))
	case TypeDateTime:
		return compareTimes(a.(time.Time), b.(time.Time))
	case TypeTimestamp:
		return a.(Timestamp).Compare(b.(Timestamp))
	case TypeRegex:
		return compareRegex(a.(Regex), b.(Regex))
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareBools(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func compareTimes(a, b time.Time) int {
	// BSON dates have millisecond precision
	am, bm := a.UnixMilli(), b.UnixMilli()
	if am < bm {
		return -1
	} else if am > bm {
		return 1
	}
	return 0
}

func compareRegex(a, b Regex) int {
	if c := compareStrings(a.Pattern, b.Pattern); c != 0 {
		return c
	}
	return compareStrings(a.Options, b.Options)
}

func idBytes(v interface{}) []byte {
	id := v.(ObjectID)
	return id[:]
}

func toBinary(v interface{}) Binary {
	switch val := v.(type) {
	case Binary:
		return val
	case []byte:
		return Binary{Data: val}
	}
	return Binary{}
}

func toDocument(v interface{}) *Document {
	switch val := v.(type) {
	case *Document:
		return val
	case map[string]interface{}:
		return NewDocumentFromMap(val)
	}
	return NewDocument()
}

// compareNumbers compares two numeric values. Longs that fit exactly
// are compared as longs; everything else falls back to doubles. NaN
// sorts before all other numbers.
func compareNumbers(a, b interface{}) int {
	ai, aIsInt := Int64Value(a)
	bi, bIsInt := Int64Value(b)
	if aIsInt && bIsInt {
		if ai < bi {
			return -1
		} else if ai > bi {
			return 1
		}
		return 0
	}

	af, _ := Float64Value(a)
	bf, _ := Float64Value(b)
	aNaN, bNaN := math.IsNaN(af), math.IsNaN(bf)
	if aNaN && bNaN {
		return 0
	} else if aNaN {
		return -1
	} else if bNaN {
		return 1
	}
	if af < bf {
		return -1
	} else if af > bf {
		return 1
	}
	return 0
}

func compareDocuments(a, b *Document) int {
	aEntries, bEntries := a.Entries(), b.Entries()
	for i := 0; i < len(aEntries) && i < len(bEntries); i++ {
		if c := compareStrings(aEntries[i].Key, bEntries[i].Key); c != 0 {
			return c
		}
		if c := Compare(aEntries[i].Value, bEntries[i].Value); c != 0 {
			return c
		}
	}
	return len(aEntries) - len(bEntries)
}

func compareArrays(a, b []interface{}) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareBinary(a, b Binary) int {
	if len(a.Data) != len(b.Data) {
		return len(a.Data) - len(b.Data)
	}
	if a.Subtype != b.Subtype {
		return int(a.Subtype) - int(b.Subtype)
	}
	return bytes.Compare(a.Data, b.Data)
}

// Float64Value converts any numeric value to a float64
func Float64Value(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	}
	return 0, false
}

// Int64Value converts an integral value to an int64. Doubles only
// convert when they hold an exact integral value.
func Int64Value(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) && val >= math.MinInt64 && val < math.MaxInt64 {
			return int64(val), true
		}
	}
	return 0, false
}

// NormalizeValue collapses values to the representation used for
// equality: null and missing become nil, numbers become doubles unless
// a long cannot be exactly represented, -0.0 becomes 0.0, documents and
// arrays normalize recursively preserving order.
func NormalizeValue(v interface{}) interface{} {
	if IsNullOrMissing(v) {
		return nil
	}
	switch val := v.(type) {
	case int64:
		if cannotBeRepresentedAsDouble(val) {
			return val
		}
		return float64(val)
	case int32:
		return float64(val)
	case int:
		return NormalizeValue(int64(val))
	case float64:
		if val == 0 {
			return 0.0 // collapse -0.0
		}
		return val
	case *Document:
		result := NewDocument()
		for _, entry := range val.Entries() {
			result.Set(entry.Key, NormalizeValue(entry.Value))
		}
		return result
	case map[string]interface{}:
		return NormalizeValue(NewDocumentFromMap(val))
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = NormalizeValue(item)
		}
		return result
	default:
		return v
	}
}

func cannotBeRepresentedAsDouble(value int64) bool {
	return value != int64(float64(value))
}

// NormalizeNumber narrows a numeric result to the smallest type that
// holds it exactly: int32, then int64, then float64
func NormalizeNumber(v interface{}) interface{} {
	f, ok := Float64Value(v)
	if !ok {
		return v
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	if i, isInt := Int64Value(v); isInt {
		if float64(int32(i)) == f && int64(int32(i)) == i {
			return int32(i)
		}
		return i
	}
	if float64(int32(f)) == f {
		return int32(f)
	}
	if float64(int64(f)) == f {
		return int64(f)
	}
	return f
}

// NullAwareEquals reports equality under the engine's null rules: null
// and missing compare equal to each other, and numbers compare after
// normalization
func NullAwareEquals(a, b interface{}) bool {
	if IsNullOrMissing(a) && IsNullOrMissing(b) {
		return true
	}
	if IsNullOrMissing(a) || IsNullOrMissing(b) {
		return false
	}
	return normalizedEquals(NormalizeValue(a), NormalizeValue(b))
}

// normalizedEquals compares two already-normalized values. Documents
// compare by key set, not key order, matching server equality.
func normalizedEquals(a, b interface{}) bool {
	switch av := a.(type) {
	case *Document:
		bv, ok := b.(*Document)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for _, entry := range av.Entries() {
			other, exists := bv.Get(entry.Key)
			if !exists || !normalizedEquals(entry.Value, other) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !normalizedEquals(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Binary:
		bv, ok := b.(Binary)
		return ok && av.Subtype == bv.Subtype && bytes.Equal(av.Data, bv.Data)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.UnixMilli() == bv.UnixMilli()
	default:
		return a == b
	}
}

// IsTrue evaluates truthiness: false for missing, null, zero and NaN;
// true for everything else including empty strings and documents
func IsTrue(v interface{}) bool {
	if IsNullOrMissing(v) {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if f, ok := Float64Value(v); ok {
		return f != 0.0 && !math.IsNaN(f)
	}
	return true
}
