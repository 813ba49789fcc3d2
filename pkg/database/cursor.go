package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/projection"
	"github.com/mnohosten/marlin-db/pkg/query"
	"github.com/mnohosten/marlin-db/pkg/storage"
)

// cursorSource produces the next batch of documents for a cursor
type cursorSource interface {
	fetch(ctx context.Context, batchSize int) ([]*document.Document, error)
}

// Cursor is a server-side iterator addressed by a nonzero 64-bit id.
// Cursors hold no collection locks between batches.
type Cursor struct {
	id           int64
	ns           string
	mu           sync.Mutex
	source       cursorSource
	lastAccessed time.Time
	exhausted    bool
}

// ID returns the cursor id
func (c *Cursor) ID() int64 {
	return c.id
}

// Namespace returns the db.collection the cursor reads
func (c *Cursor) Namespace() string {
	return c.ns
}

// bufferedSource drains a pre-computed result set
type bufferedSource struct {
	docs []*document.Document
}

func (s *bufferedSource) fetch(_ context.Context, batchSize int) ([]*document.Document, error) {
	if len(s.docs) == 0 {
		return nil, nil
	}
	n := batchSize
	if n > len(s.docs) {
		n = len(s.docs)
	}
	batch := s.docs[:n]
	s.docs = s.docs[n:]
	return batch, nil
}

// collectionSource re-scans the collection per batch. Each fetch
// takes the shared lock, repositions after the snapshot key of the
// last returned document, and continues; a batch therefore observes a
// snapshot per batch, not per cursor.
type collectionSource struct {
	coll       *Collection
	matcher    *query.Matcher
	projection *projection.Projection
	lastPos    storage.Position
	skip       int64
	remaining  int64 // -1 means unlimited
}

func (s *collectionSource) fetch(ctx context.Context, batchSize int) ([]*document.Document, error) {
	if s.remaining == 0 {
		return nil, nil
	}
	limit := int64(batchSize)
	if s.remaining > 0 && s.remaining < limit {
		limit = s.remaining
	}

	s.coll.mu.RLock()
	var batch []*document.Document
	err := s.coll.store.ForEach(func(pos storage.Position, doc *document.Document) (bool, error) {
		if err := checkCanceled(ctx); err != nil {
			return false, err
		}
		if pos <= s.lastPos {
			return true, nil
		}
		matches, err := s.matcher.Matches(doc)
		if err != nil {
			return false, err
		}
		if !matches {
			return true, nil
		}
		if s.skip > 0 {
			s.skip--
			s.lastPos = pos
			return true, nil
		}
		result := doc.Clone()
		if s.projection != nil {
			if result, err = s.projection.Apply(result); err != nil {
				return false, err
			}
		}
		batch = append(batch, result)
		s.lastPos = pos
		return int64(len(batch)) < limit, nil
	})
	s.coll.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if s.remaining > 0 {
		s.remaining -= int64(len(batch))
	}
	return batch, nil
}

// CursorRegistry is the keyed table of open cursors. The registry
// mutex protects only insert, lookup and removal; batch fetching
// serializes on the per-cursor mutex.
type CursorRegistry struct {
	ttl          time.Duration
	maxBatchSize int
	nextID       int64

	mu      sync.RWMutex
	cursors map[int64]*Cursor

	reaperStop chan struct{}
	reaperOnce sync.Once
}

// NewCursorRegistry creates a registry and starts its TTL reaper
func NewCursorRegistry(ttl time.Duration, maxBatchSize int) *CursorRegistry {
	r := &CursorRegistry{
		ttl:          ttl,
		maxBatchSize: maxBatchSize,
		cursors:      make(map[int64]*Cursor),
		reaperStop:   make(chan struct{}),
	}
	go r.reap()
	return r
}

// MaxBatchSize returns the configured batch size cap
func (r *CursorRegistry) MaxBatchSize() int {
	return r.maxBatchSize
}

// clampBatchSize applies the default and the configured cap
func (r *CursorRegistry) clampBatchSize(batchSize int) int {
	if batchSize <= 0 || batchSize > r.maxBatchSize {
		return r.maxBatchSize
	}
	return batchSize
}

// register reserves a monotonically increasing nonzero cursor id
func (r *CursorRegistry) register(ns string, source cursorSource) *Cursor {
	cursor := &Cursor{
		id:           atomic.AddInt64(&r.nextID, 1),
		ns:           ns,
		source:       source,
		lastAccessed: time.Now(),
	}
	r.mu.Lock()
	r.cursors[cursor.id] = cursor
	r.mu.Unlock()
	return cursor
}

// OpenBuffered opens a cursor over a pre-computed result set and
// returns the first batch. A cursor id of 0 means the result fit into
// the first batch.
func (r *CursorRegistry) OpenBuffered(ctx context.Context, ns string, docs []*document.Document, batchSize int) ([]*document.Document, int64, error) {
	return r.open(ctx, ns, &bufferedSource{docs: docs}, batchSize)
}

// OpenCollectionScan opens a cursor that re-scans its collection per
// batch and returns the first batch
func (r *CursorRegistry) OpenCollectionScan(ctx context.Context, coll *Collection, matcher *query.Matcher, proj *projection.Projection, skip, limit int64, batchSize int) ([]*document.Document, int64, error) {
	remaining := int64(-1)
	if limit > 0 {
		remaining = limit
	}
	source := &collectionSource{
		coll:       coll,
		matcher:    matcher,
		projection: proj,
		skip:       skip,
		remaining:  remaining,
	}
	return r.open(ctx, coll.FullName(), source, batchSize)
}

func (r *CursorRegistry) open(ctx context.Context, ns string, source cursorSource, batchSize int) ([]*document.Document, int64, error) {
	batchSize = r.clampBatchSize(batchSize)
	firstBatch, err := source.fetch(ctx, batchSize)
	if err != nil {
		return nil, 0, err
	}
	if firstBatch == nil {
		firstBatch = []*document.Document{}
	}
	if len(firstBatch) < batchSize {
		return firstBatch, 0, nil
	}
	cursor := r.register(ns, source)
	return firstBatch, cursor.id, nil
}

// GetMore drains up to batchSize documents from a cursor. The
// returned id is 0 when the cursor is exhausted.
func (r *CursorRegistry) GetMore(ctx context.Context, cursorID int64, batchSize int) ([]*document.Document, int64, error) {
	r.mu.RLock()
	cursor, ok := r.cursors[cursorID]
	r.mu.RUnlock()
	if !ok {
		return nil, 0, mongoerr.NewCursorNotFound(cursorID)
	}

	cursor.mu.Lock()
	defer cursor.mu.Unlock()
	if cursor.exhausted {
		return nil, 0, mongoerr.NewCursorNotFound(cursorID)
	}
	cursor.lastAccessed = time.Now()

	batchSize = r.clampBatchSize(batchSize)
	batch, err := cursor.source.fetch(ctx, batchSize)
	if err != nil {
		// a failed cursor terminates only that cursor
		cursor.exhausted = true
		r.remove(cursorID)
		return nil, 0, err
	}
	if batch == nil {
		batch = []*document.Document{}
	}
	if len(batch) < batchSize {
		cursor.exhausted = true
		r.remove(cursorID)
		return batch, 0, nil
	}
	return batch, cursorID, nil
}

// Kill deallocates cursors, reporting which ids were found
func (r *CursorRegistry) Kill(cursorIDs []int64) (killed []int64, notFound []int64) {
	for _, id := range cursorIDs {
		r.mu.Lock()
		_, ok := r.cursors[id]
		delete(r.cursors, id)
		r.mu.Unlock()
		if ok {
			killed = append(killed, id)
		} else {
			notFound = append(notFound, id)
		}
	}
	return killed, notFound
}

// ActiveCount returns the number of open cursors
func (r *CursorRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cursors)
}

func (r *CursorRegistry) remove(cursorID int64) {
	r.mu.Lock()
	delete(r.cursors, cursorID)
	r.mu.Unlock()
}

// reap periodically closes cursors idle past the TTL
func (r *CursorRegistry) reap() {
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.reaperStop:
			return
		case <-ticker.C:
			r.reapOnce(time.Now())
		}
	}
}

func (r *CursorRegistry) reapOnce(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	reaped := 0
	for id, cursor := range r.cursors {
		cursor.mu.Lock()
		idle := now.Sub(cursor.lastAccessed)
		cursor.mu.Unlock()
		if idle > r.ttl {
			delete(r.cursors, id)
			reaped++
		}
	}
	return reaped
}

// Close stops the reaper and drops all cursors
func (r *CursorRegistry) Close() {
	r.reaperOnce.Do(func() {
		close(r.reaperStop)
	})
	r.mu.Lock()
	r.cursors = make(map[int64]*Cursor)
	r.mu.Unlock()
}
