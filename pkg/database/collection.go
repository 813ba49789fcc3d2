package database

import (
	"context"
	"errors"
	"sync"

	"github.com/mnohosten/marlin-db/pkg/aggregation"
	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/oplog"
	"github.com/mnohosten/marlin-db/pkg/path"
	"github.com/mnohosten/marlin-db/pkg/projection"
	"github.com/mnohosten/marlin-db/pkg/query"
	"github.com/mnohosten/marlin-db/pkg/storage"
	"github.com/mnohosten/marlin-db/pkg/update"
)

// Collection is a named bag of documents keyed by _id. A single
// writer / many readers discipline applies: readers take the shared
// lock for a matcher pass, writers take the exclusive lock for the
// full match + apply + index + oplog cycle.
type Collection struct {
	dbName  string
	name    string
	catalog *Catalog
	store   storage.Store
	indexes map[string]*Index
	mu      sync.RWMutex
}

func newCollection(dbName, name string, catalog *Catalog, store storage.Store) (*Collection, error) {
	coll := &Collection{
		dbName:  dbName,
		name:    name,
		catalog: catalog,
		store:   store,
		indexes: make(map[string]*Index),
	}
	idIndex := NewIndex("_id_", []string{"_id"}, true)
	if err := coll.buildIndex(idIndex); err != nil {
		return nil, err
	}
	coll.indexes["_id_"] = idIndex
	return coll, nil
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// FullName returns the db.collection namespace
func (c *Collection) FullName() string {
	return c.dbName + "." + c.name
}

// FindOptions controls a find operation
type FindOptions struct {
	Projection *document.Document
	Sort       *document.Document
	Skip       int64
	Limit      int64
}

// UpdateOptions controls an update operation
type UpdateOptions struct {
	Multi        bool
	Upsert       bool
	ArrayFilters []*document.Document
}

// UpdateResult summarizes an update operation
type UpdateResult struct {
	MatchedCount  int
	ModifiedCount int
	UpsertedID    interface{}
}

// FindAndModifyOptions controls a findAndModify operation
type FindAndModifyOptions struct {
	Query      *document.Document
	Sort       *document.Document
	Update     *document.Document
	Fields     *document.Document
	Remove     bool
	ReturnNew  bool
	Upsert     bool
}

// Insert adds documents. With ordered=true the first failure aborts
// the batch; otherwise every failure is collected and the batch
// continues. The per-document errors carry the batch index.
func (c *Collection) Insert(ctx context.Context, docs []*document.Document, ordered bool) (int, []*WriteError, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inserted := 0
	var writeErrors []*WriteError
	for i, doc := range docs {
		if err := checkCanceled(ctx); err != nil {
			return inserted, writeErrors, err
		}
		if _, err := c.insertOne(doc); err != nil {
			writeError := &WriteError{Index: i, Err: err}
			if ordered {
				return inserted, append(writeErrors, writeError), err
			}
			writeErrors = append(writeErrors, writeError)
			continue
		}
		inserted++
	}
	return inserted, writeErrors, nil
}

// insertOne validates, assigns _id, enforces unique indexes, stores
// and emits the oplog entry. It returns the stored document, which
// carries the assigned _id. Callers hold the exclusive lock.
func (c *Collection) insertOne(doc *document.Document) (*document.Document, error) {
	if err := update.ValidateFieldNames(doc); err != nil {
		return nil, err
	}
	for _, key := range doc.Keys() {
		if err := path.ValidateKey(key); err != nil {
			return nil, err
		}
	}

	stored := doc
	if !stored.Has("_id") {
		// _id leads the stored document
		withID := document.NewDocumentFromPairs("_id", document.NewObjectID())
		for _, entry := range stored.Entries() {
			withID.Set(entry.Key, entry.Value)
		}
		stored = withID
	}

	for _, idx := range c.indexes {
		if err := idx.CheckInsert(stored); err != nil {
			return nil, err
		}
	}
	pos, err := c.store.Insert(stored)
	if err != nil {
		return nil, mongoerr.Wrap(err, "failed to store document")
	}
	for _, idx := range c.indexes {
		idx.Insert(stored, pos)
	}
	c.catalog.emitOplog(oplog.Entry{
		NS: c.FullName(),
		Op: oplog.OpInsert,
		O:  stored.Clone(),
	})
	return stored, nil
}

// Find returns the matching documents, cloned, with sort, skip, limit
// and projection applied
func (c *Collection) Find(ctx context.Context, filter *document.Document, opts *FindOptions) ([]*document.Document, error) {
	if opts == nil {
		opts = &FindOptions{}
	}
	matcher := query.NewMatcher(filter)

	c.mu.RLock()
	docs, _, err := c.matchLocked(ctx, matcher, 0)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	return c.finishFind(docs, opts)
}

func (c *Collection) finishFind(docs []*document.Document, opts *FindOptions) ([]*document.Document, error) {
	if opts.Sort != nil && opts.Sort.Len() > 0 {
		aggregation.SortDocuments(docs, opts.Sort)
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(docs)) {
			docs = nil
		} else {
			docs = docs[opts.Skip:]
		}
	}
	if opts.Limit > 0 && int64(len(docs)) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	if opts.Projection != nil && opts.Projection.Len() > 0 {
		proj, err := projection.NewProjection(opts.Projection)
		if err != nil {
			return nil, err
		}
		projected := make([]*document.Document, len(docs))
		for i, doc := range docs {
			p, err := proj.Apply(doc)
			if err != nil {
				return nil, err
			}
			projected[i] = p
		}
		docs = projected
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	return docs, nil
}

// matchLocked scans the store under the caller's lock and returns
// clones of the matching documents with their positions. A positive
// limit stops the scan early.
func (c *Collection) matchLocked(ctx context.Context, matcher *query.Matcher, limit int) ([]*document.Document, []storage.Position, error) {
	var docs []*document.Document
	var positions []storage.Position
	err := c.store.ForEach(func(pos storage.Position, doc *document.Document) (bool, error) {
		if err := checkCanceled(ctx); err != nil {
			return false, err
		}
		matches, err := matcher.Matches(doc)
		if err != nil {
			return false, err
		}
		if matches {
			docs = append(docs, doc.Clone())
			positions = append(positions, pos)
			if limit > 0 && len(docs) >= limit {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return docs, positions, nil
}

// Update applies an update to the matching documents. A single update
// is observed atomically: the exclusive lock covers match, apply,
// index maintenance and oplog emission.
func (c *Collection) Update(ctx context.Context, filter, updateDoc *document.Document, opts *UpdateOptions) (*UpdateResult, error) {
	if opts == nil {
		opts = &UpdateOptions{}
	}
	matcher := query.NewMatcher(filter)
	updater, err := update.NewUpdater(updateDoc, opts.ArrayFilters)
	if err != nil {
		return nil, err
	}
	if updater.IsReplacement() && opts.Multi {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "multi update is not supported for replacement-style update")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result := &UpdateResult{}
	limit := 0
	if !opts.Multi {
		limit = 1
	}

	matched, positions, err := c.matchLocked(ctx, matcher, limit)
	if err != nil {
		return nil, err
	}

	if len(matched) == 0 {
		if !opts.Upsert {
			return result, nil
		}
		upsertDoc, err := update.ComposeUpsert(filter, updater)
		if err != nil {
			return nil, err
		}
		stored, err := c.insertOne(upsertDoc)
		if err != nil {
			return nil, err
		}
		result.UpsertedID = stored.GetOrMissing("_id")
		return result, nil
	}

	for i, oldDoc := range matched {
		if err := checkCanceled(ctx); err != nil {
			return result, err
		}
		result.MatchedCount++
		newDoc := oldDoc.Clone()

		// re-run the matcher to capture this document's position for
		// the positional operator
		if _, err := matcher.Matches(oldDoc); err != nil {
			return result, err
		}
		modified, err := updater.Apply(newDoc, matcher.MatchPosition(), false)
		if err != nil {
			return result, err
		}
		if !modified {
			continue
		}
		if err := c.replaceAt(positions[i], oldDoc, newDoc); err != nil {
			return result, err
		}
		result.ModifiedCount++
	}
	return result, nil
}

// replaceAt writes a new document version: unique checks first, then
// index moves, the store write, and the oplog entry
func (c *Collection) replaceAt(pos storage.Position, oldDoc, newDoc *document.Document) error {
	for _, idx := range c.indexes {
		if err := idx.CheckUpdate(oldDoc, newDoc, pos); err != nil {
			return err
		}
	}
	if err := c.store.Update(pos, newDoc); err != nil {
		return mongoerr.Wrap(err, "failed to update document")
	}
	for _, idx := range c.indexes {
		idx.Update(oldDoc, newDoc, pos)
	}
	c.catalog.emitOplog(oplog.Entry{
		NS: c.FullName(),
		Op: oplog.OpUpdate,
		O:  newDoc.Clone(),
		O2: document.NewDocumentFromPairs("_id", newDoc.GetOrMissing("_id")),
	})
	return nil
}

// Delete removes matching documents. limit 0 removes all matches,
// limit 1 removes the first.
func (c *Collection) Delete(ctx context.Context, filter *document.Document, limit int) (int, error) {
	matcher := query.NewMatcher(filter)

	c.mu.Lock()
	defer c.mu.Unlock()

	docs, positions, err := c.matchLocked(ctx, matcher, limit)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i, doc := range docs {
		if err := c.removeAt(positions[i], doc); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (c *Collection) removeAt(pos storage.Position, doc *document.Document) error {
	if err := c.store.Remove(pos); err != nil {
		return mongoerr.Wrap(err, "failed to remove document")
	}
	for _, idx := range c.indexes {
		idx.Remove(doc, pos)
	}
	c.catalog.emitOplog(oplog.Entry{
		NS: c.FullName(),
		Op: oplog.OpDelete,
		O:  document.NewDocumentFromPairs("_id", doc.GetOrMissing("_id")),
	})
	return nil
}

// FindAndModify atomically matches a document, optionally updates or
// removes it, and returns the pre-image or post-image
func (c *Collection) FindAndModify(ctx context.Context, opts *FindAndModifyOptions) (*document.Document, error) {
	if opts.Remove && opts.Update != nil {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "remove and update can't both be set")
	}
	if opts.Remove && opts.ReturnNew {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "remove and returnNew can't both be set")
	}
	if !opts.Remove && opts.Update == nil {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "Either an update or remove=true must be specified")
	}
	matcher := query.NewMatcher(opts.Query)

	c.mu.Lock()
	defer c.mu.Unlock()

	docs, positions, err := c.matchLocked(ctx, matcher, 0)
	if err != nil {
		return nil, err
	}
	if opts.Sort != nil && opts.Sort.Len() > 0 && len(docs) > 1 {
		// sort the (clone, position) pairs together
		type pair struct {
			doc *document.Document
			pos storage.Position
		}
		pairs := make([]pair, len(docs))
		for i := range docs {
			pairs[i] = pair{doc: docs[i], pos: positions[i]}
		}
		sortedDocs := make([]*document.Document, len(docs))
		copy(sortedDocs, docs)
		aggregation.SortDocuments(sortedDocs, opts.Sort)
		for i, sorted := range sortedDocs {
			for _, p := range pairs {
				if p.doc == sorted {
					docs[i], positions[i] = p.doc, p.pos
					break
				}
			}
		}
	}

	if len(docs) == 0 {
		if opts.Upsert && opts.Update != nil {
			updater, err := update.NewUpdater(opts.Update, nil)
			if err != nil {
				return nil, err
			}
			upsertDoc, err := update.ComposeUpsert(opts.Query, updater)
			if err != nil {
				return nil, err
			}
			stored, err := c.insertOne(upsertDoc)
			if err != nil {
				return nil, err
			}
			if opts.ReturnNew {
				return c.projectResult(stored.Clone(), opts.Fields)
			}
		}
		return nil, nil
	}

	oldDoc, pos := docs[0], positions[0]
	if opts.Remove {
		if err := c.removeAt(pos, oldDoc); err != nil {
			return nil, err
		}
		return c.projectResult(oldDoc, opts.Fields)
	}

	updater, err := update.NewUpdater(opts.Update, nil)
	if err != nil {
		return nil, err
	}
	newDoc := oldDoc.Clone()
	if _, err := matcher.Matches(oldDoc); err != nil {
		return nil, err
	}
	modified, err := updater.Apply(newDoc, matcher.MatchPosition(), false)
	if err != nil {
		return nil, err
	}
	if modified {
		if err := c.replaceAt(pos, oldDoc, newDoc); err != nil {
			return nil, err
		}
	}
	if opts.ReturnNew {
		return c.projectResult(newDoc, opts.Fields)
	}
	return c.projectResult(oldDoc, opts.Fields)
}

func (c *Collection) projectResult(doc *document.Document, fields *document.Document) (*document.Document, error) {
	if fields == nil || fields.Len() == 0 {
		return doc, nil
	}
	proj, err := projection.NewProjection(fields)
	if err != nil {
		return nil, err
	}
	return proj.Apply(doc)
}

// Count counts the matching documents, honoring skip and limit
func (c *Collection) Count(ctx context.Context, filter *document.Document, skip, limit int) (int, error) {
	matcher := query.NewMatcher(filter)
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	seen := 0
	err := c.store.ForEach(func(_ storage.Position, doc *document.Document) (bool, error) {
		if err := checkCanceled(ctx); err != nil {
			return false, err
		}
		matches, err := matcher.Matches(doc)
		if err != nil {
			return false, err
		}
		if !matches {
			return true, nil
		}
		seen++
		if seen <= skip {
			return true, nil
		}
		count++
		if limit > 0 && count >= limit {
			return false, nil
		}
		return true, nil
	})
	return count, err
}

// IsEmpty reports whether the collection holds no documents
func (c *Collection) IsEmpty() bool {
	count, err := c.Count(context.Background(), nil, 0, 1)
	return err == nil && count == 0
}

// Distinct returns the distinct values of a path among the matching
// documents. Array values contribute their elements; null values
// collapse into a single null, and documents that lack the path
// contribute nothing.
func (c *Collection) Distinct(ctx context.Context, key string, filter *document.Document) ([]interface{}, error) {
	matcher := query.NewMatcher(filter)
	c.mu.RLock()
	docs, _, err := c.matchLocked(ctx, matcher, 0)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, 0)
	collect := func(value interface{}) {
		if document.IsMissing(value) {
			return
		}
		for _, existing := range values {
			if document.NullAwareEquals(existing, value) {
				return
			}
		}
		values = append(values, value)
	}
	for _, doc := range docs {
		value, err := path.GetCollectionAware(doc, key)
		if err != nil {
			return nil, err
		}
		if array, ok := value.([]interface{}); ok {
			for _, element := range array {
				collect(element)
			}
			continue
		}
		collect(value)
	}
	return values, nil
}

// CreateIndex creates an index over the given key paths, building it
// from the existing documents
func (c *Collection) CreateIndex(name string, keyPaths []string, unique bool) error {
	if len(keyPaths) == 0 {
		return mongoerr.New(mongoerr.CodeBadValue, "index key specification must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.indexes[name]; exists {
		return mongoerr.Newf(mongoerr.CodeNamespaceExists, "index %s already exists", name)
	}
	idx := NewIndex(name, keyPaths, unique)
	if err := c.buildIndex(idx); err != nil {
		return err
	}
	c.indexes[name] = idx
	return nil
}

func (c *Collection) buildIndex(idx *Index) error {
	return c.store.ForEach(func(pos storage.Position, doc *document.Document) (bool, error) {
		if err := idx.CheckInsert(doc); err != nil {
			return false, err
		}
		idx.Insert(doc, pos)
		return true, nil
	})
}

// DropIndex removes an index. The mandatory _id index cannot be
// dropped.
func (c *Collection) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "_id_" {
		return mongoerr.New(mongoerr.CodeIllegalOperation, "cannot drop _id index")
	}
	if _, exists := c.indexes[name]; !exists {
		return mongoerr.Newf(mongoerr.CodeIndexNotFound, "index not found with name [%s]", name)
	}
	delete(c.indexes, name)
	return nil
}

// ListIndexes describes the collection's indexes
func (c *Collection) ListIndexes() []*document.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*document.Document, 0, len(c.indexes))
	for name, idx := range c.indexes {
		keyDoc := document.NewDocument()
		for _, keyPath := range idx.KeyPaths() {
			keyDoc.Set(keyPath, int32(1))
		}
		result = append(result, document.NewDocumentFromPairs(
			"name", name,
			"key", keyDoc,
			"unique", idx.IsUnique(),
		))
	}
	return result
}

// Stats describes the collection
func (c *Collection) Stats() *document.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count, _ := c.store.Count()
	return document.NewDocumentFromPairs(
		"ns", c.FullName(),
		"count", int64(count),
		"nindexes", int64(len(c.indexes)),
	)
}

// Validate runs a consistency check between the store and the indexes
func (c *Collection) Validate() *document.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count, _ := c.store.Count()
	valid := true
	for _, idx := range c.indexes {
		total := 0
		for _, positions := range idx.positions {
			total += len(positions)
		}
		if total != count {
			valid = false
		}
	}
	return document.NewDocumentFromPairs(
		"ns", c.FullName(),
		"nrecords", int64(count),
		"valid", valid,
	)
}

// snapshot clones all documents under the shared lock
func (c *Collection) snapshot(ctx context.Context) ([]*document.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	docs := make([]*document.Document, 0)
	err := c.store.ForEach(func(_ storage.Position, doc *document.Document) (bool, error) {
		if err := checkCanceled(ctx); err != nil {
			return false, err
		}
		docs = append(docs, doc.Clone())
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// drop removes all documents and indexes. Callers route through
// Database.DropCollection.
func (c *Collection) drop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Drop(); err != nil {
		return err
	}
	for _, idx := range c.indexes {
		idx.Clear()
	}
	return nil
}

// checkCanceled maps context cancellation onto the engine error codes
func checkCanceled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return mongoerr.NewMaxTimeMSExpired()
		}
		return mongoerr.NewQueryCanceled()
	default:
		return nil
	}
}
