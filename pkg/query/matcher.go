// Package query evaluates query predicates against documents. A
// matcher is compiled once from a filter document and can be reused
// across many candidate documents; it additionally records the array
// index of the most recent match for positional updates.
package query

import (
	"strings"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/expr"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/path"
)

// Matcher evaluates a filter document against candidates
type Matcher struct {
	filter   *document.Document
	matchPos *int
}

// NewMatcher compiles a filter document into a matcher
func NewMatcher(filter *document.Document) *Matcher {
	if filter == nil {
		filter = document.NewDocument()
	}
	return &Matcher{filter: filter}
}

// Matches checks whether a document satisfies the filter. The match
// position of a preceding call is reset first.
func (m *Matcher) Matches(doc *document.Document) (bool, error) {
	m.matchPos = nil
	return m.matchesFilter(doc, m.filter)
}

// MatchPosition returns the array index recorded during the most
// recent successful match, for resolving the positional operator
func (m *Matcher) MatchPosition() *path.MatchPos {
	if m.matchPos == nil {
		return &path.MatchPos{}
	}
	return path.NewMatchPos(*m.matchPos)
}

// Filter returns the compiled filter document
func (m *Matcher) Filter() *document.Document {
	return m.filter
}

// MatchesElement matches a single value against an $elemMatch-style
// sub-query: a bare operator document applies to the value directly, a
// full filter applies to a document value
func MatchesElement(element interface{}, subQuery *document.Document) (bool, error) {
	return NewMatcher(subQuery).matchesElement(element, subQuery)
}

func (m *Matcher) recordPosition(index int) {
	if m.matchPos == nil {
		m.matchPos = &index
	}
}

func (m *Matcher) matchesFilter(doc *document.Document, filter *document.Document) (bool, error) {
	for _, entry := range filter.Entries() {
		key, condition := entry.Key, entry.Value

		if strings.HasPrefix(key, "$") {
			result, err := m.matchesCombinator(doc, key, condition)
			if err != nil || !result {
				return false, err
			}
			continue
		}

		result, err := m.matchesField(doc, key, condition)
		if err != nil || !result {
			return false, err
		}
	}
	return true, nil
}

func (m *Matcher) matchesCombinator(doc *document.Document, operator string, condition interface{}) (bool, error) {
	switch operator {
	case "$and":
		conditions, err := combinatorConditions(operator, condition)
		if err != nil {
			return false, err
		}
		for _, sub := range conditions {
			result, err := m.matchesFilter(doc, sub)
			if err != nil || !result {
				return false, err
			}
		}
		return true, nil
	case "$or":
		conditions, err := combinatorConditions(operator, condition)
		if err != nil {
			return false, err
		}
		for _, sub := range conditions {
			result, err := m.matchesFilter(doc, sub)
			if err != nil {
				return false, err
			}
			if result {
				return true, nil
			}
		}
		return false, nil
	case "$nor":
		conditions, err := combinatorConditions(operator, condition)
		if err != nil {
			return false, err
		}
		for _, sub := range conditions {
			result, err := m.matchesFilter(doc, sub)
			if err != nil {
				return false, err
			}
			if result {
				return false, nil
			}
		}
		return true, nil
	case "$expr":
		value, err := expr.Evaluate(condition, doc)
		if err != nil {
			return false, err
		}
		return document.IsTrue(value), nil
	case "$comment":
		return true, nil
	case "$where":
		return false, mongoerr.New(mongoerr.CodeBadValue, "$where is not supported")
	case "$text":
		return false, mongoerr.New(mongoerr.CodeBadValue, "$text is not supported")
	default:
		return false, mongoerr.Newf(mongoerr.CodeBadValue, "unknown top level operator: %s", operator)
	}
}

func combinatorConditions(operator string, condition interface{}) ([]*document.Document, error) {
	list, ok := condition.([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeBadValue, "%s must be an array", operator)
	}
	if len(list) == 0 {
		return nil, mongoerr.Newf(mongoerr.CodeBadValue, "%s/$or/$nor must be a nonempty array", operator)
	}
	conditions := make([]*document.Document, len(list))
	for i, element := range list {
		sub, ok := element.(*document.Document)
		if !ok {
			return nil, mongoerr.Newf(mongoerr.CodeBadValue, "$or/$and/$nor entries need to be full objects")
		}
		conditions[i] = sub
	}
	return conditions, nil
}

func (m *Matcher) matchesField(doc *document.Document, fieldPath string, condition interface{}) (bool, error) {
	value, err := path.GetCollectionAware(doc, fieldPath)
	if err != nil {
		return false, err
	}

	if operatorDoc, ok := asOperatorDocument(condition); ok {
		for _, entry := range operatorDoc.Entries() {
			if entry.Key == "$options" {
				// consumed together with $regex
				continue
			}
			opValue := entry.Value
			if entry.Key == "$regex" {
				opValue = regexCondition(operatorDoc)
			}
			result, err := m.matchesOperator(entry.Key, value, opValue)
			if err != nil || !result {
				return false, err
			}
		}
		return true, nil
	}

	return m.matchesLiteral(value, condition), nil
}

// asOperatorDocument reports whether a condition is an operator
// document (every key begins with '$')
func asOperatorDocument(condition interface{}) (*document.Document, bool) {
	doc, ok := condition.(*document.Document)
	if !ok || doc.Len() == 0 {
		return nil, false
	}
	for _, key := range doc.Keys() {
		if !strings.HasPrefix(key, "$") {
			return nil, false
		}
	}
	return doc, true
}

// matchesLiteral implements equality matching: the value equals the
// literal, or — when the value is an array — any element equals it
// elementwise, recording the index of the first equal element
func (m *Matcher) matchesLiteral(value interface{}, literal interface{}) bool {
	if regex, ok := literal.(document.Regex); ok {
		matched, err := matchesRegex(value, regex, m)
		return err == nil && matched
	}
	if document.NullAwareEquals(value, literal) {
		return true
	}
	if array, ok := value.([]interface{}); ok {
		for i, element := range array {
			if document.NullAwareEquals(element, literal) {
				m.recordPosition(i)
				return true
			}
		}
	}
	return false
}
