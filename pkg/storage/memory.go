package storage

import (
	"sync"

	"github.com/mnohosten/marlin-db/pkg/document"
)

// MemoryEngine keeps every collection in process memory
type MemoryEngine struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryEngine creates an empty in-memory storage engine
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{stores: make(map[string]*MemoryStore)}
}

// Store implements Engine
func (e *MemoryEngine) Store(database, collection string) (Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := database + "." + collection
	store, ok := e.stores[key]
	if !ok {
		store = NewMemoryStore()
		e.stores[key] = store
	}
	return store, nil
}

// DropStore implements Engine
func (e *MemoryEngine) DropStore(database, collection string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.stores, database+"."+collection)
	return nil
}

// Close implements Engine
func (e *MemoryEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stores = make(map[string]*MemoryStore)
	return nil
}

// MemoryStore stores documents in insertion order with stable
// positions. The collection layer serializes access; the store's own
// lock only guards its internal structures.
type MemoryStore struct {
	mu      sync.RWMutex
	nextPos Position
	docs    map[Position]*document.Document
	order   []Position
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextPos: 1,
		docs:    make(map[Position]*document.Document),
	}
}

// ForEach implements Store
func (s *MemoryStore) ForEach(visit func(pos Position, doc *document.Document) (bool, error)) error {
	s.mu.RLock()
	order := make([]Position, len(s.order))
	copy(order, s.order)
	s.mu.RUnlock()

	for _, pos := range order {
		s.mu.RLock()
		doc, ok := s.docs[pos]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		keepGoing, err := visit(pos, doc)
		if err != nil {
			return err
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(pos Position) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[pos]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return doc, nil
}

// Insert implements Store
func (s *MemoryStore) Insert(doc *document.Document) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.nextPos
	s.nextPos++
	s.docs[pos] = doc
	s.order = append(s.order, pos)
	return pos, nil
}

// Update implements Store
func (s *MemoryStore) Update(pos Position, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[pos]; !ok {
		return ErrPositionNotFound
	}
	s.docs[pos] = doc
	return nil
}

// Remove implements Store
func (s *MemoryStore) Remove(pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[pos]; !ok {
		return ErrPositionNotFound
	}
	delete(s.docs, pos)
	for i, p := range s.order {
		if p == pos {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Count implements Store
func (s *MemoryStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// Drop implements Store
func (s *MemoryStore) Drop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[Position]*document.Document)
	s.order = nil
	return nil
}
