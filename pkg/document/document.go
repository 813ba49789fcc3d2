package document

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Document represents a BSON-like document (ordered key-value pairs).
// Insertion order is preserved and observable.
type Document struct {
	fields map[string]interface{}
	order  []string
}

// Entry is one key-value pair of a document
type Entry struct {
	Key   string
	Value interface{}
}

// NewDocument creates a new empty document
func NewDocument() *Document {
	return &Document{
		fields: make(map[string]interface{}),
		order:  make([]string, 0),
	}
}

// NewDocumentFromPairs creates a document from alternating key/value
// arguments, preserving the given order
func NewDocumentFromPairs(pairs ...interface{}) *Document {
	if len(pairs)%2 != 0 {
		panic("NewDocumentFromPairs requires an even number of arguments")
	}
	doc := NewDocument()
	for i := 0; i < len(pairs); i += 2 {
		doc.Set(pairs[i].(string), pairs[i+1])
	}
	return doc
}

// NewDocumentFromMap creates a document from a map. Map iteration order
// is not stable, so keys are sorted to keep the result deterministic.
func NewDocumentFromMap(m map[string]interface{}) *Document {
	doc := NewDocument()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc.Set(k, Convert(m[k]))
	}
	return doc
}

// Convert normalizes nested maps and slices into engine values
func Convert(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return NewDocumentFromMap(val)
	case []interface{}:
		arr := make([]interface{}, len(val))
		for i, item := range val {
			arr[i] = Convert(item)
		}
		return arr
	case int:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

// Set sets a field value in the document. New keys append to the key
// order; existing keys keep their position.
func (d *Document) Set(key string, value interface{}) {
	if _, exists := d.fields[key]; !exists {
		d.order = append(d.order, key)
	}
	d.fields[key] = value
}

// Get retrieves a field value from the document
func (d *Document) Get(key string) (interface{}, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// GetOrMissing retrieves a field value or the Missing sentinel
func (d *Document) GetOrMissing(key string) interface{} {
	if v, ok := d.fields[key]; ok {
		return v
	}
	return Missing{}
}

// Has checks if a field exists in the document
func (d *Document) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Remove removes a field and returns its value, or Missing if absent
func (d *Document) Remove(key string) interface{} {
	v, ok := d.fields[key]
	if !ok {
		return Missing{}
	}
	delete(d.fields, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return v
}

// Keys returns all field names in insertion order
func (d *Document) Keys() []string {
	return d.order
}

// Entries returns all key-value pairs in insertion order
func (d *Document) Entries() []Entry {
	entries := make([]Entry, 0, len(d.order))
	for _, k := range d.order {
		entries = append(entries, Entry{Key: k, Value: d.fields[k]})
	}
	return entries
}

// Len returns the number of fields in the document
func (d *Document) Len() int {
	return len(d.fields)
}

// Clone creates a deep copy of the document
func (d *Document) Clone() *Document {
	clone := NewDocument()
	for _, key := range d.order {
		clone.Set(key, CloneValue(d.fields[key]))
	}
	return clone
}

// CloneValue creates a deep copy of a value
func CloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *Document:
		return val.Clone()
	case []interface{}:
		clone := make([]interface{}, len(val))
		for i, item := range val {
			clone[i] = CloneValue(item)
		}
		return clone
	case []byte:
		clone := make([]byte, len(val))
		copy(clone, val)
		return clone
	case Binary:
		data := make([]byte, len(val.Data))
		copy(data, val.Data)
		return Binary{Subtype: val.Subtype, Data: data}
	default:
		return v
	}
}

// Equal reports deep equality with another document, honoring key order
func (d *Document) Equal(other *Document) bool {
	if other == nil || len(d.order) != len(other.order) {
		return false
	}
	for i, key := range d.order {
		if other.order[i] != key {
			return false
		}
		if !NullAwareEquals(d.fields[key], other.fields[key]) {
			return false
		}
	}
	return true
}

// CloneExcluding returns a shallow copy without the given keys
func (d *Document) CloneExcluding(keys ...string) *Document {
	excluded := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		excluded[k] = struct{}{}
	}
	clone := NewDocument()
	for _, key := range d.order {
		if _, skip := excluded[key]; !skip {
			clone.Set(key, d.fields[key])
		}
	}
	return clone
}

// ToMap converts the document to a plain map, recursively
func (d *Document) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(d.fields))
	for k, v := range d.fields {
		m[k] = valueToInterface(v)
	}
	return m
}

func valueToInterface(v interface{}) interface{} {
	switch val := v.(type) {
	case *Document:
		return val.ToMap()
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = valueToInterface(item)
		}
		return result
	default:
		return v
	}
}

// String returns a compact JSON-ish rendering, used in error messages
func (d *Document) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, key := range d.order {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%q: %s", key, FormatValue(d.fields[key])))
	}
	sb.WriteString("}")
	return sb.String()
}

// FormatValue renders a value the way documents render in error messages
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case Missing:
		return "missing"
	case string:
		return fmt.Sprintf("%q", val)
	case *Document:
		return val.String()
	case []interface{}:
		var sb strings.Builder
		sb.WriteString("[")
		for i, item := range val {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(FormatValue(item))
		}
		sb.WriteString("]")
		return sb.String()
	case ObjectID:
		return fmt.Sprintf("ObjectId(%q)", val.Hex())
	case time.Time:
		return fmt.Sprintf("ISODate(%q)", val.UTC().Format(time.RFC3339Nano))
	default:
		return fmt.Sprintf("%v", val)
	}
}
