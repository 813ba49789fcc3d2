package update

import (
	"strconv"
	"strings"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/path"
	"github.com/mnohosten/marlin-db/pkg/query"
)

// ArrayFilters holds the parsed arrayFilters option: one filter
// document per identifier bound by $[identifier] path fragments
type ArrayFilters struct {
	filters map[string]*document.Document
}

func parseArrayFilters(docs []*document.Document) (*ArrayFilters, error) {
	filters := &ArrayFilters{filters: make(map[string]*document.Document)}
	for _, filterDoc := range docs {
		if filterDoc.Len() == 0 {
			return nil, mongoerr.New(mongoerr.CodeFailedToParse,
				"Cannot use an expression without a top-level field name in arrayFilters")
		}
		identifier := ""
		for _, key := range filterDoc.Keys() {
			first := path.FirstFragment(key)
			if identifier == "" {
				identifier = first
			} else if identifier != first {
				return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
					"Error parsing array filter :: caused by :: Expected a single top-level field name, found '%s' and '%s'",
					identifier, first)
			}
		}
		if _, exists := filters.filters[identifier]; exists {
			return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
				"Found multiple array filters with the same top-level field name %s", identifier)
		}
		filters.filters[identifier] = filterDoc
	}
	return filters, nil
}

func (f *ArrayFilters) has(identifier string) bool {
	_, ok := f.filters[identifier]
	return ok
}

func (f *ArrayFilters) requireUnused() error {
	if len(f.filters) > 0 {
		return mongoerr.New(mongoerr.CodeFailedToParse,
			"Cannot specify arrayFilters and a replacement-style update")
	}
	return nil
}

func (f *ArrayFilters) requireAllUsed(used map[string]bool) error {
	for identifier := range f.filters {
		if !used[identifier] {
			return mongoerr.Newf(mongoerr.CodeFailedToParse,
				"The array filter for identifier '%s' was not used in the update", identifier)
		}
	}
	return nil
}

// matchesElement checks one array element against the filter bound to
// an identifier. A key equal to the identifier applies to the element
// itself; dotted keys apply to paths inside a document element.
func (f *ArrayFilters) matchesElement(identifier string, element interface{}) (bool, error) {
	filterDoc := f.filters[identifier]
	for _, entry := range filterDoc.Entries() {
		if entry.Key == identifier {
			matched, err := query.MatchesElement(element, conditionDocument(entry.Value))
			if err != nil || !matched {
				return false, err
			}
			continue
		}
		elementDoc, ok := element.(*document.Document)
		if !ok {
			return false, nil
		}
		subFilter := document.NewDocument()
		subFilter.Set(path.JoinTail(path.Split(entry.Key)), entry.Value)
		matched, err := query.NewMatcher(subFilter).Matches(elementDoc)
		if err != nil || !matched {
			return false, err
		}
	}
	return true, nil
}

// conditionDocument wraps a bare literal condition into the operator
// document shape MatchesElement expects
func conditionDocument(condition interface{}) *document.Document {
	if doc, ok := condition.(*document.Document); ok {
		return doc
	}
	return document.NewDocumentFromPairs("$eq", condition)
}

// filteredFragment parses a $[identifier] path fragment. The empty
// identifier form $[] matches every element.
func filteredFragment(fragment string) (string, bool) {
	if strings.HasPrefix(fragment, "$[") && strings.HasSuffix(fragment, "]") {
		return fragment[2 : len(fragment)-1], true
	}
	return "", false
}

// expandFieldPath resolves $[identifier] fragments against the current
// document state, producing one concrete path per matching element
func (u *Updater) expandFieldPath(doc *document.Document, field string) ([]string, error) {
	if !strings.Contains(field, "$[") {
		return []string{field}, nil
	}
	return u.expandFragments(doc, path.Split(field), nil)
}

func (u *Updater) expandFragments(value interface{}, fragments []string, prefix []string) ([]string, error) {
	if len(fragments) == 0 {
		return []string{path.JoinList(prefix)}, nil
	}
	fragment := fragments[0]
	rest := fragments[1:]

	identifier, isFiltered := filteredFragment(fragment)
	if !isFiltered {
		next := stepValue(value, fragment)
		return u.expandFragments(next, rest, append(prefix, fragment))
	}

	array, ok := value.([]interface{})
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeBadValue,
			"The path '%s' must exist in the document in order to apply array updates.", path.JoinList(prefix))
	}
	paths := make([]string, 0)
	for index, element := range array {
		if identifier != "" {
			matched, err := u.arrayFilters.matchesElement(identifier, element)
			if err != nil {
				return nil, err
			}
			if !matched {
				continue
			}
		}
		expanded, err := u.expandFragments(element, rest, append(append([]string{}, prefix...), strconv.Itoa(index)))
		if err != nil {
			return nil, err
		}
		paths = append(paths, expanded...)
	}
	return paths, nil
}

// stepValue descends one fragment without fanning out; expansion only
// needs exact positions
func stepValue(value interface{}, fragment string) interface{} {
	switch v := value.(type) {
	case *document.Document:
		return v.GetOrMissing(fragment)
	case []interface{}:
		if index, err := strconv.Atoi(fragment); err == nil && index >= 0 && index < len(v) {
			return v[index]
		}
	}
	return document.Missing{}
}
