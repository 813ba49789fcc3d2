package database

import (
	"context"
	"sort"
	"sync"

	"github.com/mnohosten/marlin-db/pkg/aggregation"
	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/oplog"
	"github.com/mnohosten/marlin-db/pkg/storage"
)

// Catalog is the root of the engine: the named databases, the cursor
// registry, and the oplog sink. Global state is limited to these,
// each guarded by its own mutex.
type Catalog struct {
	config    *Config
	engine    storage.Engine
	oplogSink oplog.Sink
	clock     *oplog.Clock
	cursors   *CursorRegistry

	mu        sync.RWMutex
	databases map[string]*Database
	closed    bool
}

// Open creates a catalog over a storage engine. A nil sink disables
// oplog delivery regardless of configuration.
func Open(config *Config, engine storage.Engine, sink oplog.Sink) *Catalog {
	if config == nil {
		config = DefaultConfig()
	}
	if engine == nil {
		engine = storage.NewMemoryEngine()
	}
	if sink == nil {
		sink = oplog.NoopSink{}
	}
	catalog := &Catalog{
		config:    config,
		engine:    engine,
		oplogSink: sink,
		clock:     oplog.NewClock(),
		databases: make(map[string]*Database),
	}
	catalog.cursors = NewCursorRegistry(config.CursorTTL, config.MaxBatchSize)
	return catalog
}

// Config returns the engine configuration
func (c *Catalog) Config() *Config {
	return c.config
}

// Cursors returns the cursor registry
func (c *Catalog) Cursors() *CursorRegistry {
	return c.cursors
}

// Database returns the named database, creating it on first use
func (c *Catalog) Database(name string) (*Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCatalogClosed
	}
	db, ok := c.databases[name]
	if !ok {
		db = &Database{
			name:        name,
			catalog:     c,
			collections: make(map[string]*Collection),
		}
		c.databases[name] = db
	}
	return db, nil
}

// DatabaseIfExists returns the named database without creating it
func (c *Catalog) DatabaseIfExists(name string) (*Database, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, ok := c.databases[name]
	return db, ok
}

// ListDatabaseNames returns the database names in sorted order
func (c *Catalog) ListDatabaseNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.databases))
	for name := range c.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropDatabase drops every collection of a database
func (c *Catalog) DropDatabase(name string) error {
	c.mu.Lock()
	db, ok := c.databases[name]
	delete(c.databases, name)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return db.dropAll()
}

// Close stops the cursor reaper and releases the storage engine
func (c *Catalog) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cursors.Close()
	return c.engine.Close()
}

// emitOplog appends an entry to the sink when the oplog is enabled
func (c *Catalog) emitOplog(entry oplog.Entry) {
	if !c.config.OplogEnabled {
		return
	}
	entry.TS = c.clock.Next()
	c.oplogSink.Append(entry)
}

// Database is one named database of collections
type Database struct {
	name    string
	catalog *Catalog

	mu          sync.RWMutex
	collections map[string]*Collection
}

// Name returns the database name
func (db *Database) Name() string {
	return db.name
}

// Collection returns the named collection, creating it on first use
func (db *Database) Collection(name string) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.collectionLocked(name)
}

func (db *Database) collectionLocked(name string) (*Collection, error) {
	coll, ok := db.collections[name]
	if ok {
		return coll, nil
	}
	if name == "" {
		return nil, mongoerr.New(mongoerr.CodeInvalidNamespace, "collection name must not be empty")
	}
	store, err := db.catalog.engine.Store(db.name, name)
	if err != nil {
		return nil, mongoerr.Wrap(err, "failed to open collection store")
	}
	coll, err = newCollection(db.name, name, db.catalog, store)
	if err != nil {
		return nil, err
	}
	db.collections[name] = coll
	return coll, nil
}

// CollectionIfExists returns the named collection without creating it
func (db *Database) CollectionIfExists(name string) (*Collection, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	coll, ok := db.collections[name]
	return coll, ok
}

// ListCollectionNames returns the collection names in sorted order
func (db *Database) ListCollectionNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DropCollection drops a collection and its store
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	coll, ok := db.collections[name]
	delete(db.collections, name)
	db.mu.Unlock()
	if !ok {
		return ErrCollectionNotFound
	}
	if err := coll.drop(); err != nil {
		return err
	}
	return db.catalog.engine.DropStore(db.name, name)
}

// RenameCollection moves a collection under a new name, possibly in
// another database
func (db *Database) RenameCollection(oldName string, target *Database, newName string) error {
	if target == nil {
		target = db
	}

	if target == db {
		db.mu.Lock()
		defer db.mu.Unlock()
		coll, ok := db.collections[oldName]
		if !ok {
			return ErrCollectionNotFound
		}
		if _, exists := db.collections[newName]; exists {
			return mongoerr.Newf(mongoerr.CodeNamespaceExists, "target namespace exists: %s.%s", db.name, newName)
		}
		delete(db.collections, oldName)
		db.collections[newName] = coll
		coll.mu.Lock()
		coll.name = newName
		coll.mu.Unlock()
		return nil
	}

	// cross-database: acquire the two database locks in canonical
	// name order to prevent deadlock
	first, second := db, target
	if second.name < first.name {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	coll, ok := db.collections[oldName]
	if !ok {
		return ErrCollectionNotFound
	}
	if _, exists := target.collections[newName]; exists {
		return mongoerr.Newf(mongoerr.CodeNamespaceExists, "target namespace exists: %s.%s", target.name, newName)
	}
	delete(db.collections, oldName)
	coll.mu.Lock()
	coll.dbName = target.name
	coll.name = newName
	coll.mu.Unlock()
	target.collections[newName] = coll
	return nil
}

func (db *Database) dropAll() error {
	db.mu.Lock()
	collections := db.collections
	db.collections = make(map[string]*Collection)
	db.mu.Unlock()
	for name, coll := range collections {
		if err := coll.drop(); err != nil {
			return err
		}
		if err := db.catalog.engine.DropStore(db.name, name); err != nil {
			return err
		}
	}
	return nil
}

// Aggregate runs a pipeline over a collection. Cross-collection
// stages resolve through the database; collection locks are taken one
// at a time in stage order and never nested, which keeps lock
// acquisition deadlock-free.
func (db *Database) Aggregate(ctx context.Context, collection string, stages []*document.Document) ([]*document.Document, error) {
	pipeline, err := aggregation.NewPipeline(stages, &databaseResolver{db: db})
	if err != nil {
		return nil, err
	}
	coll, err := db.Collection(collection)
	if err != nil {
		return nil, err
	}
	docs, err := coll.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.Execute(ctx, aggregation.NewSliceStream(docs))
}

// databaseResolver adapts a database to the aggregation package's
// cross-collection contract
type databaseResolver struct {
	db *Database
}

// StreamCollection snapshots a collection under its shared lock
func (r *databaseResolver) StreamCollection(ctx context.Context, name string) ([]*document.Document, error) {
	coll, err := r.db.Collection(name)
	if err != nil {
		return nil, err
	}
	return coll.snapshot(ctx)
}

// ReplaceCollection implements $out: the target content is swapped
// atomically under the target's exclusive lock
func (r *databaseResolver) ReplaceCollection(ctx context.Context, name string, docs []*document.Document) error {
	coll, err := r.db.Collection(name)
	if err != nil {
		return err
	}
	coll.mu.Lock()
	defer coll.mu.Unlock()
	if err := coll.store.Drop(); err != nil {
		return err
	}
	for _, idx := range coll.indexes {
		idx.Clear()
	}
	for _, doc := range docs {
		if err := checkCanceled(ctx); err != nil {
			return err
		}
		if _, err := coll.insertOne(doc); err != nil {
			return err
		}
	}
	return nil
}

// MergeCollection implements $merge: documents upsert into the target
// by _id
func (r *databaseResolver) MergeCollection(ctx context.Context, name string, docs []*document.Document) error {
	coll, err := r.db.Collection(name)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		id := doc.GetOrMissing("_id")
		if document.IsMissing(id) {
			if _, writeErrors, err := coll.Insert(ctx, []*document.Document{doc}, true); err != nil {
				return err
			} else if len(writeErrors) > 0 {
				return writeErrors[0]
			}
			continue
		}
		filter := document.NewDocumentFromPairs("_id", id)
		if _, err := coll.Update(ctx, filter, doc, &UpdateOptions{Upsert: true}); err != nil {
			return err
		}
	}
	return nil
}
