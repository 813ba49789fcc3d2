package document

import (
	"fmt"
	"time"
)

// Type represents the BSON data type of a value
type Type byte

const (
	// TypeMissing is the sentinel type of an absent field. It never
	// appears on the wire; it only exists inside the engine.
	TypeMissing   Type = 0x00
	TypeDouble    Type = 0x01
	TypeString    Type = 0x02
	TypeDocument  Type = 0x03
	TypeArray     Type = 0x04
	TypeBinary    Type = 0x05
	TypeUndefined Type = 0x06
	TypeObjectID  Type = 0x07
	TypeBoolean   Type = 0x08
	TypeDateTime  Type = 0x09
	TypeNull      Type = 0x0A
	TypeRegex     Type = 0x0B
	TypeInt32     Type = 0x10
	TypeTimestamp Type = 0x11
	TypeInt64     Type = 0x12
	TypeDecimal   Type = 0x13
	TypeMinKey    Type = 0xFF
	TypeMaxKey    Type = 0x7F
)

// String returns the string representation of the type
func (t Type) String() string {
	switch t {
	case TypeMissing:
		return "missing"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeDocument:
		return "object"
	case TypeArray:
		return "array"
	case TypeBinary:
		return "binData"
	case TypeUndefined:
		return "undefined"
	case TypeObjectID:
		return "objectId"
	case TypeBoolean:
		return "bool"
	case TypeDateTime:
		return "date"
	case TypeNull:
		return "null"
	case TypeRegex:
		return "regex"
	case TypeInt32:
		return "int"
	case TypeTimestamp:
		return "timestamp"
	case TypeInt64:
		return "long"
	case TypeDecimal:
		return "decimal"
	case TypeMinKey:
		return "minKey"
	case TypeMaxKey:
		return "maxKey"
	default:
		return "unknown"
	}
}

// Missing is the sentinel for an absent value. It is distinct from Null:
// a field holding Null exists, a Missing field does not.
type Missing struct{}

// MinKey sorts before every other value
type MinKey struct{}

// MaxKey sorts after every other value
type MaxKey struct{}

// Undefined is the deprecated BSON undefined value, kept for
// compatibility with legacy documents
type Undefined struct{}

// Regex is a regular expression value with its option flags
type Regex struct {
	Pattern string
	Options string
}

// Binary is a byte slice with a BSON binary subtype
type Binary struct {
	Subtype byte
	Data    []byte
}

// Timestamp is an internal BSON timestamp: seconds since epoch plus an
// ordinal for writes within the same second
type Timestamp struct {
	T uint32
	I uint32
}

// Compare orders timestamps by seconds, then ordinal
func (ts Timestamp) Compare(other Timestamp) int {
	if ts.T != other.T {
		if ts.T < other.T {
			return -1
		}
		return 1
	}
	if ts.I != other.I {
		if ts.I < other.I {
			return -1
		}
		return 1
	}
	return 0
}

// Decimal128 is an IEEE 754-2008 128-bit decimal value. The engine
// stores and round-trips it but does not do decimal arithmetic.
type Decimal128 struct {
	High uint64
	Low  uint64
}

// ReferenceKeys are the only dollar-prefixed keys allowed in stored
// documents (DBRef notation)
var ReferenceKeys = map[string]struct{}{
	"$ref": {},
	"$id":  {},
	"$db":  {},
}

// IsReferenceKey reports whether key is part of the DBRef notation
func IsReferenceKey(key string) bool {
	_, ok := ReferenceKeys[key]
	return ok
}

// IsMissing reports whether v is the Missing sentinel
func IsMissing(v interface{}) bool {
	_, ok := v.(Missing)
	return ok
}

// IsNullOrMissing reports whether v is nil or the Missing sentinel
func IsNullOrMissing(v interface{}) bool {
	return v == nil || IsMissing(v)
}

// IsNeitherNullNorMissing reports whether v is a present, non-null value
func IsNeitherNullNorMissing(v interface{}) bool {
	return !IsNullOrMissing(v)
}

// TypeOf returns the BSON type of a value
func TypeOf(v interface{}) Type {
	switch v.(type) {
	case Missing:
		return TypeMissing
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case int32:
		return TypeInt32
	case int64, int:
		return TypeInt64
	case float64, float32:
		return TypeDouble
	case Decimal128:
		return TypeDecimal
	case string:
		return TypeString
	case []byte:
		return TypeBinary
	case Binary:
		return TypeBinary
	case ObjectID:
		return TypeObjectID
	case time.Time:
		return TypeDateTime
	case Timestamp:
		return TypeTimestamp
	case Regex:
		return TypeRegex
	case []interface{}:
		return TypeArray
	case *Document, map[string]interface{}:
		return TypeDocument
	case MinKey:
		return TypeMinKey
	case MaxKey:
		return TypeMaxKey
	case Undefined:
		return TypeUndefined
	default:
		return TypeNull
	}
}

// DescribeType returns the type name used in server error messages
func DescribeType(v interface{}) string {
	return TypeOf(v).String()
}

// TypeByName resolves a type name or alias as accepted by $type
func TypeByName(name string) (Type, error) {
	switch name {
	case "double":
		return TypeDouble, nil
	case "string":
		return TypeString, nil
	case "object":
		return TypeDocument, nil
	case "array":
		return TypeArray, nil
	case "binData":
		return TypeBinary, nil
	case "undefined":
		return TypeUndefined, nil
	case "objectId":
		return TypeObjectID, nil
	case "bool":
		return TypeBoolean, nil
	case "date":
		return TypeDateTime, nil
	case "null":
		return TypeNull, nil
	case "regex":
		return TypeRegex, nil
	case "int":
		return TypeInt32, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "long":
		return TypeInt64, nil
	case "decimal":
		return TypeDecimal, nil
	case "minKey":
		return TypeMinKey, nil
	case "maxKey":
		return TypeMaxKey, nil
	case "number":
		// callers treat "number" specially; this is the marker value
		return TypeDouble, nil
	default:
		return 0, fmt.Errorf("unknown type name alias: %s", name)
	}
}

// IsNumeric reports whether the value is of a numeric BSON type
func IsNumeric(v interface{}) bool {
	switch TypeOf(v) {
	case TypeInt32, TypeInt64, TypeDouble, TypeDecimal:
		return true
	}
	return false
}
