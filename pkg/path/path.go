// Package path implements dotted-path traversal, mutation and deletion
// across nested documents and arrays, including the positional operator.
// It is the only component that splits keys on the path delimiter.
package path

import (
	"strconv"
	"strings"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

// Delimiter separates path fragments
const Delimiter = "."

// MatchPos carries the array index recorded by the query matcher. The
// positional operator consumes it: a successful resolution clears the
// stored index.
type MatchPos struct {
	value *int
}

// NewMatchPos creates a match position holding the given index
func NewMatchPos(index int) *MatchPos {
	return &MatchPos{value: &index}
}

// Set records a match index
func (m *MatchPos) Set(index int) {
	m.value = &index
}

// Take consumes the recorded index
func (m *MatchPos) Take() (int, bool) {
	if m == nil || m.value == nil {
		return 0, false
	}
	index := *m.value
	m.value = nil
	return index, true
}

// ValidateKey rejects paths that start or end with the delimiter or
// contain empty fragments
func ValidateKey(key string) error {
	if strings.HasSuffix(key, Delimiter) {
		return mongoerr.New(mongoerr.CodeFieldPathTrailingDot, "FieldPath must not end with a '.'.")
	}
	if strings.HasPrefix(key, Delimiter) || strings.Contains(key, Delimiter+Delimiter) {
		return mongoerr.New(mongoerr.CodeFieldPathEmptyName, "FieldPath field names may not be empty strings.")
	}
	return nil
}

// Split splits a path into its fragments
func Split(key string) []string {
	return strings.Split(key, Delimiter)
}

// Join joins fragments into a path, skipping empty ones
func Join(fragments ...string) string {
	nonEmpty := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		if fragment != "" {
			nonEmpty = append(nonEmpty, fragment)
		}
	}
	return strings.Join(nonEmpty, Delimiter)
}

// JoinList joins a fragment list into a path
func JoinList(fragments []string) string {
	return strings.Join(fragments, Delimiter)
}

// JoinTail joins all fragments but the first
func JoinTail(fragments []string) string {
	if len(fragments) <= 1 {
		return ""
	}
	return strings.Join(fragments[1:], Delimiter)
}

// FirstFragment returns the fragment before the first delimiter
func FirstFragment(key string) string {
	if i := strings.Index(key, Delimiter); i >= 0 {
		return key[:i]
	}
	return key
}

// LastFragment returns the fragment after the last delimiter
func LastFragment(key string) string {
	if i := strings.LastIndex(key, Delimiter); i >= 0 {
		return key[i+1:]
	}
	return key
}

// Tail returns all fragments but the first
func Tail(fragments []string) []string {
	return fragments[1:]
}

// CollectCommonFragments returns the longest common fragment prefix of
// two paths
func CollectCommonFragments(path1, path2 string) []string {
	fragments1, fragments2 := Split(path1), Split(path2)
	common := make([]string, 0)
	for i := 0; i < len(fragments1) && i < len(fragments2); i++ {
		if fragments1[i] != fragments2[i] {
			break
		}
		common = append(common, fragments1[i])
	}
	return common
}

// ShorterIfPrefix returns the shorter of two paths when one is a
// fragment-wise prefix of the other
func ShorterIfPrefix(path1, path2 string) (string, bool) {
	if !strings.HasPrefix(path1, path2) && !strings.HasPrefix(path2, path1) {
		return "", false
	}
	fragments1, fragments2 := Split(path1), Split(path2)
	common := CollectCommonFragments(path1, path2)
	if len(common) != len(fragments1) && len(common) != len(fragments2) {
		return "", false
	}
	return JoinList(common), true
}

func isNumeric(fragment string) bool {
	if fragment == "" {
		return false
	}
	for _, c := range fragment {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// fieldValue resolves a single fragment against a value. Arrays index
// numerically; a name fragment fans out over document elements and
// collects the non-missing results.
func fieldValue(value interface{}, field string) (interface{}, error) {
	if document.IsNullOrMissing(value) {
		return document.Missing{}, nil
	}
	if field == "$" || strings.Contains(field, Delimiter) {
		return nil, mongoerr.Newf(mongoerr.CodeInternalError, "illegal field: %s", field)
	}

	switch v := value.(type) {
	case []interface{}:
		if isNumeric(field) {
			pos, _ := strconv.Atoi(field)
			if pos >= 0 && pos < len(v) {
				return v[pos], nil
			}
			return document.Missing{}, nil
		}
		values := make([]interface{}, 0)
		for _, subValue := range v {
			if subDoc, ok := subValue.(*document.Document); ok {
				subDocValue := subDoc.GetOrMissing(field)
				if !document.IsMissing(subDocValue) {
					values = append(values, subDocValue)
				}
			}
		}
		if len(values) == 0 {
			return document.Missing{}, nil
		}
		return values, nil
	case *document.Document:
		return v.GetOrMissing(field), nil
	default:
		return document.Missing{}, nil
	}
}

// Get resolves a dotted path against a document, returning Missing when
// the path does not lead to a value
func Get(doc *document.Document, key string) (interface{}, error) {
	return getValue(doc, key, false)
}

// GetCollectionAware resolves a dotted path, additionally fanning out
// through arrays of documents at every level
func GetCollectionAware(doc *document.Document, key string) (interface{}, error) {
	return getValue(doc, key, true)
}

func getValue(doc *document.Document, key string, handleCollections bool) (interface{}, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return getFragments(doc, Split(key), handleCollections)
}

func getFragments(value interface{}, fragments []string, handleCollections bool) (interface{}, error) {
	current, err := fieldValue(value, fragments[0])
	if err != nil {
		return nil, err
	}
	if len(fragments) == 1 {
		return current, nil
	}
	rest := fragments[1:]

	switch sub := current.(type) {
	case *document.Document:
		return getFragments(sub, rest, handleCollections)
	case []interface{}:
		if isNumeric(rest[0]) {
			return getFragments(sub, rest, handleCollections)
		}
		if !handleCollections {
			return document.Missing{}, nil
		}
		result := make([]interface{}, 0, len(sub))
		for _, element := range sub {
			if subDoc, ok := element.(*document.Document); ok {
				subValue, err := getFragments(subDoc, rest, handleCollections)
				if err != nil {
					return nil, err
				}
				if nested, isArray := subValue.([]interface{}); isArray {
					result = append(result, nested...)
				} else {
					result = append(result, subValue)
				}
			} else {
				result = append(result, document.Missing{})
			}
		}
		return result, nil
	default:
		return document.Missing{}, nil
	}
}

// Has reports whether the path resolves to a present value
func Has(doc *document.Document, key string) (bool, error) {
	value, err := Get(doc, key)
	if err != nil {
		return false, err
	}
	return !document.IsMissing(value), nil
}

// subkey resolves the tail of a fragment list, substituting the
// positional operator against the recorded match position
func subkey(fragments []string, matchPos *MatchPos) (string, error) {
	positional := 0
	for _, fragment := range fragments {
		if fragment == "$" {
			positional++
		}
	}
	if positional >= 2 {
		return "", mongoerr.Newf(mongoerr.CodeBadValue,
			"Too many positional (i.e. '$') elements found in path '%s'", JoinList(fragments))
	}

	subKey := JoinTail(fragments)
	if subKey == "$" || strings.HasPrefix(subKey, "$"+Delimiter) {
		pos, ok := matchPos.Take()
		if !ok {
			return "", mongoerr.New(mongoerr.CodeBadValue,
				"The positional operator did not find the match needed from the query.")
		}
		return strconv.Itoa(pos) + subKey[1:], nil
	}
	return subKey, nil
}

// ResolvePositional replaces the positional '$' fragment of a path
// with the match position recorded by the query matcher. At most one
// positional fragment is allowed, and it must not lead the path.
func ResolvePositional(key string, matchPos *MatchPos) (string, error) {
	fragments := Split(key)
	positional := 0
	for _, fragment := range fragments {
		if fragment == "$" {
			positional++
		}
	}
	if positional == 0 {
		return key, nil
	}
	if positional >= 2 {
		return "", mongoerr.Newf(mongoerr.CodeBadValue,
			"Too many positional (i.e. '$') elements found in path '%s'", key)
	}
	if fragments[0] == "$" {
		return "", mongoerr.Newf(mongoerr.CodeBadValue,
			"Cannot have positional (i.e. '$') element in the first position in path '%s'", key)
	}
	pos, ok := matchPos.Take()
	if !ok {
		return "", mongoerr.New(mongoerr.CodeBadValue,
			"The positional operator did not find the match needed from the query.")
	}
	resolved := make([]string, len(fragments))
	for i, fragment := range fragments {
		if fragment == "$" {
			resolved[i] = strconv.Itoa(pos)
		} else {
			resolved[i] = fragment
		}
	}
	return JoinList(resolved), nil
}

// setLeaf assigns a value at a single fragment. Assigning a numeric
// index beyond an array's length pads the array with nulls.
func setLeaf(container interface{}, key, previousKey string, value interface{}) (interface{}, error) {
	switch c := container.(type) {
	case []interface{}:
		if !isNumeric(key) {
			element := document.NewDocumentFromPairs(previousKey, container)
			return nil, mongoerr.Newf(mongoerr.CodePathNotViable,
				"Cannot create field '%s' in element %s", key, element.String())
		}
		pos, _ := strconv.Atoi(key)
		for len(c) <= pos {
			c = append(c, nil)
		}
		c[pos] = value
		return c, nil
	case *document.Document:
		c.Set(key, value)
		return c, nil
	default:
		return nil, mongoerr.Newf(mongoerr.CodeInternalError, "cannot set into %s", document.DescribeType(container))
	}
}

// Set assigns a value at a dotted path, creating missing intermediate
// documents. A positional fragment resolves against matchPos.
func Set(doc *document.Document, key string, value interface{}, matchPos *MatchPos) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := setFragments(doc, key, value, "", matchPos)
	return err
}

func setFragments(container interface{}, key string, value interface{}, previousKey string, matchPos *MatchPos) (interface{}, error) {
	fragments := Split(key)
	mainKey := fragments[0]
	if len(fragments) == 1 {
		return setLeaf(container, key, previousKey, value)
	}
	subKey, err := subkey(fragments, matchPos)
	if err != nil {
		return nil, err
	}
	subObject, err := fieldValue(container, mainKey)
	if err != nil {
		return nil, err
	}

	switch subObject.(type) {
	case *document.Document, []interface{}:
		updated, err := setFragments(subObject, subKey, value, mainKey, matchPos)
		if err != nil {
			return nil, err
		}
		// arrays may have been reallocated by padding
		return setLeaf(container, mainKey, previousKey, updated)
	default:
		if document.IsNeitherNullNorMissing(subObject) {
			element := document.NewDocumentFromPairs(mainKey, subObject)
			return nil, mongoerr.Newf(mongoerr.CodePathNotViable,
				"Cannot create field '%s' in element %s", FirstFragment(subKey), element.String())
		}
		obj := document.NewDocument()
		if _, err := setFragments(obj, subKey, value, mainKey, matchPos); err != nil {
			return nil, err
		}
		return setLeaf(container, mainKey, previousKey, obj)
	}
}

// removeLeaf removes a single fragment. Removing a numeric index from
// an array nulls the slot; a name fragment fans out over elements.
func removeLeaf(container interface{}, key string) interface{} {
	switch c := container.(type) {
	case *document.Document:
		return c.Remove(key)
	case []interface{}:
		if isNumeric(key) {
			pos, _ := strconv.Atoi(key)
			if pos < len(c) {
				removed := c[pos]
				c[pos] = nil
				return removed
			}
			return document.Missing{}
		}
		removedValues := make([]interface{}, 0)
		for _, subValue := range c {
			switch sub := subValue.(type) {
			case *document.Document:
				if removed := removeLeaf(sub, key); !document.IsMissing(removed) {
					removedValues = append(removedValues, removed)
				}
			case []interface{}:
				for _, nested := range sub {
					if removed := removeLeaf(nested, key); !document.IsMissing(removed) {
						removedValues = append(removedValues, removed)
					}
				}
			}
		}
		return removedValues
	default:
		return document.Missing{}
	}
}

// Remove deletes the value at a dotted path and returns it, or Missing
// when the path does not resolve
func Remove(doc *document.Document, key string, matchPos *MatchPos) (interface{}, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return removeFragments(doc, key, matchPos)
}

func removeFragments(container interface{}, key string, matchPos *MatchPos) (interface{}, error) {
	fragments := Split(key)
	mainKey := fragments[0]
	if len(fragments) == 1 {
		return removeLeaf(container, key), nil
	}
	subKey, err := subkey(fragments, matchPos)
	if err != nil {
		return nil, err
	}
	subObject, err := fieldValue(container, mainKey)
	if err != nil {
		return nil, err
	}
	switch subObject.(type) {
	case *document.Document, []interface{}:
		return removeFragments(subObject, subKey, matchPos)
	default:
		return document.Missing{}, nil
	}
}

// CanFullyTraverseForRename reports whether every intermediate step of
// the path is a document or missing, which is what $rename requires
func CanFullyTraverseForRename(doc *document.Document, key string) bool {
	return canTraverse(doc, key)
}

func canTraverse(value interface{}, key string) bool {
	fragments := Split(key)
	if len(fragments) == 1 {
		return true
	}
	subObject, err := fieldValue(value, fragments[0])
	if err != nil {
		return false
	}
	switch sub := subObject.(type) {
	case *document.Document:
		return canTraverse(sub, JoinTail(fragments))
	default:
		return document.IsMissing(subObject)
	}
}

// Copy resolves a path in src (collection-aware) and, when present,
// assigns the value at the same path in dst
func Copy(src, dst *document.Document, key string) error {
	value, err := GetCollectionAware(src, key)
	if err != nil {
		return err
	}
	if document.IsMissing(value) {
		return nil
	}
	return Set(dst, key, value, nil)
}
