package aggregation

import (
	"context"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/path"
)

// LookupStage performs a cross-collection equi-join. The foreign
// collection is loaded once when the stage first pulls; the main
// stream stays lazy.
type LookupStage struct {
	from         string
	localField   string
	foreignField string
	as           string
	resolver     CollectionResolver
}

func newLookupStage(spec interface{}, resolver CollectionResolver) (*LookupStage, error) {
	specDoc, ok := spec.(*document.Document)
	if !ok {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "the $lookup specification must be an object")
	}
	stage := &LookupStage{resolver: resolver}
	for _, entry := range specDoc.Entries() {
		value, isString := entry.Value.(string)
		if !isString {
			return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
				"arguments to $lookup must be strings, %s is type %s", entry.Key, document.DescribeType(entry.Value))
		}
		switch entry.Key {
		case "from":
			stage.from = value
		case "localField":
			stage.localField = value
		case "foreignField":
			stage.foreignField = value
		case "as":
			stage.as = value
		default:
			return nil, mongoerr.Newf(mongoerr.CodeFailedToParse, "unknown argument to $lookup: %s", entry.Key)
		}
	}
	for _, required := range []struct{ name, value string }{
		{"from", stage.from},
		{"localField", stage.localField},
		{"foreignField", stage.foreignField},
		{"as", stage.as},
	} {
		if required.value == "" {
			return nil, mongoerr.Newf(mongoerr.CodeFailedToParse, "missing '%s' option to $lookup stage", required.name)
		}
	}
	if resolver == nil {
		return nil, mongoerr.New(mongoerr.CodeIllegalOperation, "$lookup is not allowed in this context")
	}
	return stage, nil
}

func (s *LookupStage) Name() string { return "$lookup" }

func (s *LookupStage) Open(source Stream) Stream {
	var foreign []*document.Document
	loaded := false
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		if !loaded {
			var err error
			foreign, err = s.resolver.StreamCollection(ctx, s.from)
			if err != nil {
				return nil, err
			}
			loaded = true
		}
		doc, err := source.Next(ctx)
		if err != nil || doc == nil {
			return nil, err
		}

		localValue, err := path.Get(doc, s.localField)
		if err != nil {
			return nil, err
		}
		joined := make([]interface{}, 0)
		for _, foreignDoc := range foreign {
			foreignValue, err := path.Get(foreignDoc, s.foreignField)
			if err != nil {
				return nil, err
			}
			if lookupValuesMatch(localValue, foreignValue) {
				joined = append(joined, foreignDoc.Clone())
			}
		}

		result := doc.Clone()
		if err := path.Set(result, s.as, joined, nil); err != nil {
			return nil, err
		}
		return result, nil
	})
}

// lookupValuesMatch implements equi-join equality: missing joins like
// null, and array values join when any element matches
func lookupValuesMatch(local, foreign interface{}) bool {
	if document.NullAwareEquals(local, foreign) {
		return true
	}
	if localArray, ok := local.([]interface{}); ok {
		for _, element := range localArray {
			if lookupValuesMatch(element, foreign) {
				return true
			}
		}
	}
	if foreignArray, ok := foreign.([]interface{}); ok {
		for _, element := range foreignArray {
			if document.NullAwareEquals(local, element) {
				return true
			}
		}
	}
	return false
}

// OutStage drains the pipeline into another collection, replacing its
// contents; it emits no documents
type OutStage struct {
	collection string
	resolver   CollectionResolver
}

func newOutStage(spec interface{}, resolver CollectionResolver) (*OutStage, error) {
	name, ok := spec.(string)
	if !ok || name == "" {
		return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
			"$out only supports a string argument, but found %s", document.DescribeType(spec))
	}
	if resolver == nil {
		return nil, mongoerr.New(mongoerr.CodeIllegalOperation, "$out is not allowed in this context")
	}
	return &OutStage{collection: name, resolver: resolver}, nil
}

func (s *OutStage) Name() string { return "$out" }

func (s *OutStage) Open(source Stream) Stream {
	done := false
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		if done {
			return nil, nil
		}
		docs, err := Drain(ctx, source)
		if err != nil {
			return nil, err
		}
		done = true
		return nil, s.resolver.ReplaceCollection(ctx, s.collection, docs)
	})
}

// MergeStage drains the pipeline and upserts each document into
// another collection by _id; it emits no documents
type MergeStage struct {
	collection string
	resolver   CollectionResolver
}

func newMergeStage(spec interface{}, resolver CollectionResolver) (*MergeStage, error) {
	var name string
	switch v := spec.(type) {
	case string:
		name = v
	case *document.Document:
		into, ok := v.Get("into")
		if !ok {
			return nil, mongoerr.New(mongoerr.CodeFailedToParse, "$merge requires an 'into' option")
		}
		name, ok = into.(string)
		if !ok {
			return nil, mongoerr.Newf(mongoerr.CodeTypeMismatch,
				"'into' option to $merge must be a string, but found %s", document.DescribeType(into))
		}
	default:
		return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
			"$merge only supports a string or object argument, not %s", document.DescribeType(spec))
	}
	if name == "" {
		return nil, mongoerr.New(mongoerr.CodeInvalidNamespace, "Invalid $merge target: collection name must be non-empty")
	}
	if resolver == nil {
		return nil, mongoerr.New(mongoerr.CodeIllegalOperation, "$merge is not allowed in this context")
	}
	return &MergeStage{collection: name, resolver: resolver}, nil
}

func (s *MergeStage) Name() string { return "$merge" }

func (s *MergeStage) Open(source Stream) Stream {
	done := false
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		if done {
			return nil, nil
		}
		docs, err := Drain(ctx, source)
		if err != nil {
			return nil, err
		}
		done = true
		return nil, s.resolver.MergeCollection(ctx, s.collection, docs)
	})
}
