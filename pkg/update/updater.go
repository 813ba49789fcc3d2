// Package update applies update operator documents and replacement
// documents to documents, including array filters, positional paths,
// conflict detection and upsert composition.
package update

import (
	"sort"
	"strings"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/path"
)

// knownOperators lists the supported update operators in their stable
// application order
var knownOperators = []string{
	"$setOnInsert",
	"$set",
	"$unset",
	"$inc",
	"$mul",
	"$min",
	"$max",
	"$rename",
	"$currentDate",
	"$push",
	"$addToSet",
	"$pop",
	"$pull",
	"$pullAll",
	"$bit",
}

// Updater is a parsed update document, reusable across the documents
// of one multi-update
type Updater struct {
	replacement  *document.Document
	operations   []operation
	arrayFilters *ArrayFilters
}

// operation is one field mutation of one update operator
type operation struct {
	operator string
	field    string
	operand  interface{}
}

// NewUpdater parses an update document. Exactly one of the two shapes
// is accepted: a replacement document without top-level operators, or
// an operator document where every top-level key is an operator.
func NewUpdater(updateDoc *document.Document, arrayFilterDocs []*document.Document) (*Updater, error) {
	arrayFilters, err := parseArrayFilters(arrayFilterDocs)
	if err != nil {
		return nil, err
	}

	operatorKeys := 0
	for _, key := range updateDoc.Keys() {
		if strings.HasPrefix(key, "$") {
			operatorKeys++
		}
	}

	if operatorKeys == 0 {
		if err := ValidateFieldNames(updateDoc); err != nil {
			return nil, err
		}
		if err := arrayFilters.requireUnused(); err != nil {
			return nil, err
		}
		return &Updater{replacement: updateDoc}, nil
	}
	if operatorKeys != updateDoc.Len() {
		for _, key := range updateDoc.Keys() {
			if !strings.HasPrefix(key, "$") {
				return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
					"Unknown modifier: %s. Expected a valid update modifier or pipeline-style update specified as an array", key)
			}
		}
	}

	updater := &Updater{arrayFilters: arrayFilters}
	for _, operator := range knownOperators {
		spec, ok := updateDoc.Get(operator)
		if !ok {
			continue
		}
		specDoc, isDoc := spec.(*document.Document)
		if !isDoc {
			return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
				"Modifiers operate on fields but we found type %s instead.", document.DescribeType(spec))
		}
		// fields sorted so a parent path is mutated before its children
		fields := append([]string{}, specDoc.Keys()...)
		sort.Strings(fields)
		for _, field := range fields {
			operand, _ := specDoc.Get(field)
			updater.operations = append(updater.operations, operation{
				operator: operator,
				field:    field,
				operand:  operand,
			})
		}
	}
	for _, key := range updateDoc.Keys() {
		if !isKnownOperator(key) {
			return nil, mongoerr.Newf(mongoerr.CodeFailedToParse, "Unknown modifier: %s", key)
		}
	}

	if err := updater.checkConflicts(); err != nil {
		return nil, err
	}
	if err := updater.checkArrayFilterUse(); err != nil {
		return nil, err
	}
	return updater, nil
}

func isKnownOperator(key string) bool {
	for _, operator := range knownOperators {
		if key == operator {
			return true
		}
	}
	return false
}

// IsReplacement reports whether the update replaces whole documents
func (u *Updater) IsReplacement() bool {
	return u.replacement != nil
}

// Replacement returns the replacement document, if any
func (u *Updater) Replacement() *document.Document {
	return u.replacement
}

// targetPaths collects every path an operation writes, including the
// $rename destination. Paths are returned as written: positional and
// filtered fragments are not canonicalized.
func (o operation) targetPaths() []string {
	if o.operator == "$rename" {
		if to, ok := o.operand.(string); ok {
			return []string{o.field, to}
		}
	}
	return []string{o.field}
}

// checkConflicts rejects updates where two operations write
// overlapping paths
func (u *Updater) checkConflicts() error {
	targets := make([]string, 0, len(u.operations))
	for _, op := range u.operations {
		targets = append(targets, op.targetPaths()...)
	}
	for i := 0; i < len(targets); i++ {
		for j := i + 1; j < len(targets); j++ {
			shorter, isPrefix := path.ShorterIfPrefix(targets[i], targets[j])
			if !isPrefix {
				continue
			}
			longer := targets[i]
			if longer == shorter {
				longer = targets[j]
			}
			return mongoerr.Newf(mongoerr.CodeConflictingUpdateOperators,
				"Updating the path '%s' would create a conflict at '%s'", longer, shorter)
		}
	}
	return nil
}

// checkArrayFilterUse rejects filters whose identifier never appears
// in any path, and paths whose identifier has no filter
func (u *Updater) checkArrayFilterUse() error {
	used := make(map[string]bool)
	for _, op := range u.operations {
		for _, fragment := range path.Split(op.field) {
			if identifier, ok := filteredFragment(fragment); ok && identifier != "" {
				if !u.arrayFilters.has(identifier) {
					return mongoerr.Newf(mongoerr.CodeBadValue,
						"No array filter found for identifier '%s' in path '%s'", identifier, op.field)
				}
				used[identifier] = true
			}
		}
	}
	return u.arrayFilters.requireAllUsed(used)
}

// Apply mutates a document in place. matchPos carries the query match
// position for the positional operator; isInsert enables $setOnInsert.
// It reports whether the document changed.
func (u *Updater) Apply(doc *document.Document, matchPos *path.MatchPos, isInsert bool) (bool, error) {
	if u.replacement != nil {
		return u.applyReplacement(doc)
	}

	modified := false
	for _, op := range u.operations {
		if op.operator == "$setOnInsert" && !isInsert {
			continue
		}
		fieldPaths, err := u.expandFieldPath(doc, op.field)
		if err != nil {
			return modified, err
		}
		for _, fieldPath := range fieldPaths {
			changed, err := u.applyOperation(doc, op.operator, fieldPath, op.operand, matchPos)
			if err != nil {
				return modified, err
			}
			modified = modified || changed
		}
	}
	return modified, nil
}

// applyReplacement swaps the document body for the replacement,
// keeping the immutable _id
func (u *Updater) applyReplacement(doc *document.Document) (bool, error) {
	existingID, hasID := doc.Get("_id")
	if newID, ok := u.replacement.Get("_id"); ok && hasID {
		if !document.NullAwareEquals(existingID, newID) {
			return false, mongoerr.New(mongoerr.CodeImmutableField,
				"Performing an update on the path '_id' would modify the immutable field '_id'")
		}
	}

	replacement := u.replacement.Clone()
	if doc.Equal(replacement) {
		return false, nil
	}
	for _, key := range append([]string{}, doc.Keys()...) {
		doc.Remove(key)
	}
	if hasID {
		doc.Set("_id", existingID)
	}
	for _, entry := range replacement.Entries() {
		if entry.Key == "_id" && hasID {
			continue
		}
		doc.Set(entry.Key, entry.Value)
	}
	return true, nil
}

// ComposeUpsert builds the document inserted when an upsert matched
// nothing: the selector's equality fragments, then the update applied
// to that base with $setOnInsert enabled
func ComposeUpsert(selector *document.Document, updater *Updater) (*document.Document, error) {
	doc := document.NewDocument()

	if updater.IsReplacement() {
		for _, entry := range updater.Replacement().Entries() {
			doc.Set(entry.Key, document.CloneValue(entry.Value))
		}
		if !doc.Has("_id") {
			if id, ok := selector.Get("_id"); ok && !isOperatorValue(id) {
				doc.Set("_id", id)
			}
		}
		return doc, nil
	}

	for _, entry := range selector.Entries() {
		if strings.HasPrefix(entry.Key, "$") {
			continue
		}
		value := entry.Value
		if operatorDoc, ok := value.(*document.Document); ok && hasOperatorKeys(operatorDoc) {
			eq, hasEq := operatorDoc.Get("$eq")
			if !hasEq {
				continue
			}
			value = eq
		}
		if strings.Contains(entry.Key, "$") {
			continue
		}
		if err := path.Set(doc, entry.Key, document.CloneValue(value), nil); err != nil {
			return nil, err
		}
	}

	if _, err := updater.Apply(doc, nil, true); err != nil {
		return nil, err
	}
	return doc, nil
}

func hasOperatorKeys(doc *document.Document) bool {
	for _, key := range doc.Keys() {
		if strings.HasPrefix(key, "$") {
			return true
		}
	}
	return false
}

func isOperatorValue(v interface{}) bool {
	doc, ok := v.(*document.Document)
	return ok && hasOperatorKeys(doc)
}
