// Package aggregation executes ordered aggregation pipelines as lazy
// document streams. Stages compose one stream into the next; only the
// blocking stages ($sort, $group, $sample) and the writing stages
// ($out, $merge, which drain their input before writing) buffer it.
package aggregation

import (
	"context"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

// Stream is a pull iterator over documents. Next returns nil when the
// stream is exhausted.
type Stream interface {
	Next(ctx context.Context) (*document.Document, error)
}

// sliceStream iterates a buffered document slice
type sliceStream struct {
	docs []*document.Document
	pos  int
}

// NewSliceStream creates a stream over a document slice
func NewSliceStream(docs []*document.Document) Stream {
	return &sliceStream{docs: docs}
}

func (s *sliceStream) Next(ctx context.Context) (*document.Document, error) {
	if err := checkCanceled(ctx); err != nil {
		return nil, err
	}
	if s.pos >= len(s.docs) {
		return nil, nil
	}
	doc := s.docs[s.pos]
	s.pos++
	return doc, nil
}

// Drain consumes a stream into a slice
func Drain(ctx context.Context, s Stream) ([]*document.Document, error) {
	result := make([]*document.Document, 0)
	for {
		doc, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return result, nil
		}
		result = append(result, doc)
	}
}

// checkCanceled maps context cancellation onto the engine error codes
func checkCanceled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return mongoerr.NewMaxTimeMSExpired()
		}
		return mongoerr.NewQueryCanceled()
	default:
		return nil
	}
}

// Stage is a single transformation in a pipeline
type Stage interface {
	Open(source Stream) Stream
	Name() string
}

// CollectionResolver gives cross-collection stages ($lookup, $out,
// $merge) access to other collections of the same database
type CollectionResolver interface {
	StreamCollection(ctx context.Context, name string) ([]*document.Document, error)
	ReplaceCollection(ctx context.Context, name string, docs []*document.Document) error
	MergeCollection(ctx context.Context, name string, docs []*document.Document) error
}

// Pipeline is a parsed sequence of stages
type Pipeline struct {
	stages []Stage
}

// NewPipeline parses a pipeline definition. The resolver may be nil
// when the pipeline uses no cross-collection stage.
func NewPipeline(stageDocs []*document.Document, resolver CollectionResolver) (*Pipeline, error) {
	pipeline := &Pipeline{stages: make([]Stage, 0, len(stageDocs))}
	for _, stageDoc := range stageDocs {
		if stageDoc.Len() != 1 {
			return nil, mongoerr.Newf(mongoerr.CodeBadValue,
				"A pipeline stage specification object must contain exactly one field.")
		}
		name := stageDoc.Keys()[0]
		spec, _ := stageDoc.Get(name)
		stage, err := createStage(name, spec, resolver)
		if err != nil {
			return nil, err
		}
		pipeline.stages = append(pipeline.stages, stage)
	}
	return pipeline, nil
}

func createStage(name string, spec interface{}, resolver CollectionResolver) (Stage, error) {
	switch name {
	case "$match":
		return newMatchStage(spec)
	case "$project":
		return newProjectStage(spec)
	case "$addFields", "$set":
		return newAddFieldsStage(spec)
	case "$unwind":
		return newUnwindStage(spec)
	case "$group":
		return newGroupStage(spec)
	case "$sort":
		return newSortStage(spec)
	case "$limit":
		return newLimitStage(spec)
	case "$skip":
		return newSkipStage(spec)
	case "$count":
		return newCountStage(spec)
	case "$lookup":
		return newLookupStage(spec, resolver)
	case "$sample":
		return newSampleStage(spec)
	case "$replaceRoot":
		return newReplaceRootStage(spec)
	case "$replaceWith":
		return newReplaceWithStage(spec)
	case "$out":
		return newOutStage(spec, resolver)
	case "$merge":
		return newMergeStage(spec, resolver)
	default:
		return nil, mongoerr.Newf(mongoerr.CodeUnknownPipelineStage,
			"Unrecognized pipeline stage name: '%s'", name)
	}
}

// Stream composes the stages over a source without consuming it
func (p *Pipeline) Stream(source Stream) Stream {
	stream := source
	for _, stage := range p.stages {
		stream = stage.Open(stream)
	}
	return stream
}

// Execute runs the pipeline over a source and collects the results
func (p *Pipeline) Execute(ctx context.Context, source Stream) ([]*document.Document, error) {
	return Drain(ctx, p.Stream(source))
}

// WritesTo returns the name of the collection a terminal $out or
// $merge stage writes to, if any
func (p *Pipeline) WritesTo() (string, bool) {
	if len(p.stages) == 0 {
		return "", false
	}
	switch last := p.stages[len(p.stages)-1].(type) {
	case *OutStage:
		return last.collection, true
	case *MergeStage:
		return last.collection, true
	}
	return "", false
}

// funcStream adapts a pull function to a Stream
type funcStream struct {
	next func(ctx context.Context) (*document.Document, error)
}

func (f *funcStream) Next(ctx context.Context) (*document.Document, error) {
	return f.next(ctx)
}

func streamOf(next func(ctx context.Context) (*document.Document, error)) Stream {
	return &funcStream{next: next}
}
