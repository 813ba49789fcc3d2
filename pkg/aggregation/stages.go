package aggregation

import (
	"context"
	"math/rand"
	"sort"
	"strings"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/expr"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/path"
	"github.com/mnohosten/marlin-db/pkg/projection"
	"github.com/mnohosten/marlin-db/pkg/query"
)

// MatchStage filters documents with the query matcher
type MatchStage struct {
	matcher *query.Matcher
}

func newMatchStage(spec interface{}) (*MatchStage, error) {
	filter, ok := spec.(*document.Document)
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeBadValue, "the match filter must be an expression in an object")
	}
	return &MatchStage{matcher: query.NewMatcher(filter)}, nil
}

func (s *MatchStage) Name() string { return "$match" }

func (s *MatchStage) Open(source Stream) Stream {
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		for {
			doc, err := source.Next(ctx)
			if err != nil || doc == nil {
				return nil, err
			}
			matches, err := s.matcher.Matches(doc)
			if err != nil {
				return nil, err
			}
			if matches {
				return doc, nil
			}
		}
	})
}

// ProjectStage reshapes documents with a projection
type ProjectStage struct {
	projection *projection.Projection
}

func newProjectStage(spec interface{}) (*ProjectStage, error) {
	specDoc, ok := spec.(*document.Document)
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
			"$project specification must be an object")
	}
	p, err := projection.NewProjection(specDoc)
	if err != nil {
		return nil, err
	}
	return &ProjectStage{projection: p}, nil
}

func (s *ProjectStage) Name() string { return "$project" }

// ProjectDocument projects a single document
func (s *ProjectStage) ProjectDocument(doc *document.Document) (*document.Document, error) {
	return s.projection.Apply(doc)
}

func (s *ProjectStage) Open(source Stream) Stream {
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		doc, err := source.Next(ctx)
		if err != nil || doc == nil {
			return nil, err
		}
		return s.projection.Apply(doc)
	})
}

// AddFieldsStage adds computed fields, keeping all existing ones
type AddFieldsStage struct {
	fields *document.Document
}

func newAddFieldsStage(spec interface{}) (*AddFieldsStage, error) {
	fields, ok := spec.(*document.Document)
	if !ok || fields.Len() == 0 {
		return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"$addFields specification stage must be an object with at least one field")
	}
	return &AddFieldsStage{fields: fields}, nil
}

func (s *AddFieldsStage) Name() string { return "$addFields" }

func (s *AddFieldsStage) Open(source Stream) Stream {
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		doc, err := source.Next(ctx)
		if err != nil || doc == nil {
			return nil, err
		}
		result := doc.Clone()
		for _, entry := range s.fields.Entries() {
			value, err := expr.Evaluate(entry.Value, doc)
			if err != nil {
				return nil, err
			}
			if document.IsMissing(value) {
				continue
			}
			if err := path.Set(result, entry.Key, value, nil); err != nil {
				return nil, err
			}
		}
		return result, nil
	})
}

// UnwindStage emits one output document per array element
type UnwindStage struct {
	fieldPath              string
	preserveNullAndEmpty   bool
	includeArrayIndexField string
}

func newUnwindStage(spec interface{}) (*UnwindStage, error) {
	stage := &UnwindStage{}
	switch v := spec.(type) {
	case string:
		stage.fieldPath = v
	case *document.Document:
		pathValue, ok := v.Get("path")
		if !ok {
			return nil, mongoerr.New(mongoerr.CodeFailedToParse, "no path specified to $unwind stage")
		}
		stage.fieldPath, ok = pathValue.(string)
		if !ok {
			return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
				"expected a string as the path for $unwind stage, got %s", document.DescribeType(pathValue))
		}
		if preserve, ok := v.Get("preserveNullAndEmptyArrays"); ok {
			stage.preserveNullAndEmpty = document.IsTrue(preserve)
		}
		if indexField, ok := v.Get("includeArrayIndex"); ok {
			s, isString := indexField.(string)
			if !isString {
				return nil, mongoerr.New(mongoerr.CodeTypeMismatch,
					"expected a non-empty string for the includeArrayIndex option to $unwind stage")
			}
			stage.includeArrayIndexField = s
		}
	default:
		return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"expected either a string or an object as specification for $unwind stage, got %s", document.DescribeType(spec))
	}
	if !strings.HasPrefix(stage.fieldPath, "$") {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "path option to $unwind stage should be prefixed with a '$': "+stage.fieldPath)
	}
	stage.fieldPath = stage.fieldPath[1:]
	return stage, nil
}

func (s *UnwindStage) Name() string { return "$unwind" }

func (s *UnwindStage) Open(source Stream) Stream {
	var pending []*document.Document
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		for {
			if len(pending) > 0 {
				doc := pending[0]
				pending = pending[1:]
				return doc, nil
			}
			doc, err := source.Next(ctx)
			if err != nil || doc == nil {
				return nil, err
			}
			value, err := path.Get(doc, s.fieldPath)
			if err != nil {
				return nil, err
			}
			array, isArray := value.([]interface{})
			if !isArray {
				if document.IsNullOrMissing(value) {
					if s.preserveNullAndEmpty {
						return s.unwound(doc, value, -1, !document.IsMissing(value))
					}
					continue
				}
				// a non-array value unwinds to itself
				return s.unwound(doc, value, -1, true)
			}
			if len(array) == 0 {
				if s.preserveNullAndEmpty {
					return s.unwound(doc, nil, -1, false)
				}
				continue
			}
			for i, element := range array {
				out, err := s.unwound(doc, element, i, true)
				if err != nil {
					return nil, err
				}
				pending = append(pending, out)
			}
		}
	})
}

func (s *UnwindStage) unwound(doc *document.Document, value interface{}, index int, keepField bool) (*document.Document, error) {
	result := doc.Clone()
	if keepField {
		if err := path.Set(result, s.fieldPath, value, nil); err != nil {
			return nil, err
		}
	} else {
		if _, err := path.Remove(result, s.fieldPath, nil); err != nil {
			return nil, err
		}
	}
	if s.includeArrayIndexField != "" {
		var indexValue interface{}
		if index >= 0 {
			indexValue = int64(index)
		}
		if err := path.Set(result, s.includeArrayIndexField, indexValue, nil); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// SortStage is a blocking stable multi-key sort in canonical order
type SortStage struct {
	spec *document.Document
}

func newSortStage(spec interface{}) (*SortStage, error) {
	specDoc, ok := spec.(*document.Document)
	if !ok || specDoc.Len() == 0 {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "the $sort key specification must be an object")
	}
	for _, entry := range specDoc.Entries() {
		order, ok := document.Int64Value(entry.Value)
		if !ok || (order != 1 && order != -1) {
			return nil, mongoerr.Newf(mongoerr.CodeBadValue,
				"Illegal key in $sort specification: %s: %s", entry.Key, document.FormatValue(entry.Value))
		}
	}
	return &SortStage{spec: specDoc}, nil
}

func (s *SortStage) Name() string { return "$sort" }

func (s *SortStage) Open(source Stream) Stream {
	var sorted Stream
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		if sorted == nil {
			docs, err := Drain(ctx, source)
			if err != nil {
				return nil, err
			}
			SortDocuments(docs, s.spec)
			sorted = NewSliceStream(docs)
		}
		return sorted.Next(ctx)
	})
}

// SortDocuments sorts documents in place: stable, multi-key, canonical
// cross-type order
func SortDocuments(docs []*document.Document, spec *document.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, entry := range spec.Entries() {
			order, _ := document.Int64Value(entry.Value)
			vi, _ := path.Get(docs[i], entry.Key)
			vj, _ := path.Get(docs[j], entry.Key)
			cmp := document.Compare(vi, vj)
			if cmp != 0 {
				if order < 0 {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return false
	})
}

// LimitStage passes through the first n documents
type LimitStage struct {
	limit int64
}

func newLimitStage(spec interface{}) (*LimitStage, error) {
	limit, ok := document.Int64Value(spec)
	if !ok || limit < 0 {
		return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
			"invalid argument to $limit stage: Expected a non-negative number in: $limit: %s", document.FormatValue(spec))
	}
	return &LimitStage{limit: limit}, nil
}

func (s *LimitStage) Name() string { return "$limit" }

func (s *LimitStage) Open(source Stream) Stream {
	seen := int64(0)
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		if seen >= s.limit {
			return nil, nil
		}
		doc, err := source.Next(ctx)
		if err != nil || doc == nil {
			return nil, err
		}
		seen++
		return doc, nil
	})
}

// SkipStage drops the first n documents
type SkipStage struct {
	skip int64
}

func newSkipStage(spec interface{}) (*SkipStage, error) {
	skip, ok := document.Int64Value(spec)
	if !ok || skip < 0 {
		return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
			"invalid argument to $skip stage: Expected a non-negative number in: $skip: %s", document.FormatValue(spec))
	}
	return &SkipStage{skip: skip}, nil
}

func (s *SkipStage) Name() string { return "$skip" }

func (s *SkipStage) Open(source Stream) Stream {
	skipped := int64(0)
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		for skipped < s.skip {
			doc, err := source.Next(ctx)
			if err != nil || doc == nil {
				return nil, err
			}
			skipped++
		}
		return source.Next(ctx)
	})
}

// CountStage emits a single document with the input cardinality
type CountStage struct {
	field string
}

func newCountStage(spec interface{}) (*CountStage, error) {
	field, ok := spec.(string)
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeTypeMismatch, "the count field must be a non-empty string")
	}
	if field == "" {
		return nil, mongoerr.New(mongoerr.CodeBadValue, "the count field must be a non-empty string")
	}
	if strings.HasPrefix(field, "$") {
		return nil, mongoerr.New(mongoerr.CodeBadValue, "the count field cannot be a $-prefixed path")
	}
	if strings.Contains(field, ".") {
		return nil, mongoerr.New(mongoerr.CodeBadValue, "the count field cannot contain '.'")
	}
	return &CountStage{field: field}, nil
}

func (s *CountStage) Name() string { return "$count" }

func (s *CountStage) Open(source Stream) Stream {
	done := false
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		if done {
			return nil, nil
		}
		count := int64(0)
		for {
			doc, err := source.Next(ctx)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				break
			}
			count++
		}
		done = true
		return document.NewDocumentFromPairs(s.field, count), nil
	})
}

// SampleStage is a blocking reservoir sample of n documents
type SampleStage struct {
	size int64
}

func newSampleStage(spec interface{}) (*SampleStage, error) {
	specDoc, ok := spec.(*document.Document)
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "the $sample stage specification must be an object")
	}
	sizeValue, ok := specDoc.Get("size")
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "$sample stage must specify a size")
	}
	size, ok := document.Int64Value(sizeValue)
	if !ok || size < 0 {
		return nil, mongoerr.New(mongoerr.CodeBadValue, "size argument to $sample must not be negative")
	}
	return &SampleStage{size: size}, nil
}

func (s *SampleStage) Name() string { return "$sample" }

func (s *SampleStage) Open(source Stream) Stream {
	var sampled Stream
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		if sampled == nil {
			reservoir := make([]*document.Document, 0, s.size)
			seen := int64(0)
			for {
				doc, err := source.Next(ctx)
				if err != nil {
					return nil, err
				}
				if doc == nil {
					break
				}
				seen++
				if int64(len(reservoir)) < s.size {
					reservoir = append(reservoir, doc)
				} else if j := rand.Int63n(seen); j < s.size {
					reservoir[j] = doc
				}
			}
			sampled = NewSliceStream(reservoir)
		}
		return sampled.Next(ctx)
	})
}

// ReplaceRootStage promotes a computed document to the root
type ReplaceRootStage struct {
	newRoot interface{}
}

func newReplaceRootStage(spec interface{}) (*ReplaceRootStage, error) {
	specDoc, ok := spec.(*document.Document)
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "$replaceRoot specification must be an object")
	}
	newRoot, ok := specDoc.Get("newRoot")
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "no newRoot specified for the $replaceRoot stage")
	}
	return &ReplaceRootStage{newRoot: newRoot}, nil
}

func (s *ReplaceRootStage) Name() string { return "$replaceRoot" }

func (s *ReplaceRootStage) Open(source Stream) Stream {
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		doc, err := source.Next(ctx)
		if err != nil || doc == nil {
			return nil, err
		}
		value, err := expr.Evaluate(s.newRoot, doc)
		if err != nil {
			return nil, err
		}
		newRoot, ok := value.(*document.Document)
		if !ok {
			return nil, mongoerr.Newf(mongoerr.CodeBadValue,
				"'newRoot' expression must evaluate to an object, but resulting value was: %s", document.FormatValue(value))
		}
		return newRoot, nil
	})
}

func newReplaceWithStage(spec interface{}) (*ReplaceRootStage, error) {
	return &ReplaceRootStage{newRoot: spec}, nil
}
