package database

import (
	"context"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/projection"
	"github.com/mnohosten/marlin-db/pkg/query"
)

// CursorResult is the first batch of a cursor-producing read together
// with the cursor id (0 when the result is complete)
type CursorResult struct {
	FirstBatch []*document.Document
	CursorID   int64
	Namespace  string
}

// FindWithCursor runs a find and opens a cursor when the result
// exceeds the first batch. Unsorted finds stream batch-by-batch from
// the collection; sorted finds buffer, since $sort is blocking.
func (db *Database) FindWithCursor(ctx context.Context, collection string, filter *document.Document, opts *FindOptions, batchSize int) (*CursorResult, error) {
	if opts == nil {
		opts = &FindOptions{}
	}
	coll, err := db.Collection(collection)
	if err != nil {
		return nil, err
	}
	registry := db.catalog.cursors

	if opts.Sort != nil && opts.Sort.Len() > 0 {
		docs, err := coll.Find(ctx, filter, opts)
		if err != nil {
			return nil, err
		}
		batch, cursorID, err := registry.OpenBuffered(ctx, coll.FullName(), docs, batchSize)
		if err != nil {
			return nil, err
		}
		return &CursorResult{FirstBatch: batch, CursorID: cursorID, Namespace: coll.FullName()}, nil
	}

	var proj *projection.Projection
	if opts.Projection != nil && opts.Projection.Len() > 0 {
		proj, err = projection.NewProjection(opts.Projection)
		if err != nil {
			return nil, err
		}
	}
	matcher := query.NewMatcher(filter)
	batch, cursorID, err := registry.OpenCollectionScan(ctx, coll, matcher, proj, opts.Skip, opts.Limit, batchSize)
	if err != nil {
		return nil, err
	}
	return &CursorResult{FirstBatch: batch, CursorID: cursorID, Namespace: coll.FullName()}, nil
}

// AggregateWithCursor runs a pipeline and serves the result through a
// cursor
func (db *Database) AggregateWithCursor(ctx context.Context, collection string, stages []*document.Document, batchSize int) (*CursorResult, error) {
	docs, err := db.Aggregate(ctx, collection, stages)
	if err != nil {
		return nil, err
	}
	ns := db.name + "." + collection
	batch, cursorID, err := db.catalog.cursors.OpenBuffered(ctx, ns, docs, batchSize)
	if err != nil {
		return nil, err
	}
	return &CursorResult{FirstBatch: batch, CursorID: cursorID, Namespace: ns}, nil
}
