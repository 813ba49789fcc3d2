// Package storage defines the per-collection document store contract
// and its interchangeable backends. The engine core never assumes
// persistence; positions are opaque backend handles.
package storage

import (
	"errors"

	"github.com/mnohosten/marlin-db/pkg/document"
)

// Position is an opaque handle to a stored document
type Position int64

// ErrPositionNotFound is returned when a position no longer resolves
var ErrPositionNotFound = errors.New("position not found")

// Store is a per-collection document store
type Store interface {
	// ForEach visits every document in insertion order. Returning
	// false from the visitor stops the iteration.
	ForEach(visit func(pos Position, doc *document.Document) (bool, error)) error

	// Get looks a document up by position
	Get(pos Position) (*document.Document, error)

	// Insert appends a document and returns its position
	Insert(doc *document.Document) (Position, error)

	// Update replaces the document at a position
	Update(pos Position, doc *document.Document) error

	// Remove deletes the document at a position
	Remove(pos Position) error

	// Count returns the number of stored documents
	Count() (int, error)

	// Drop removes all documents
	Drop() error
}

// Engine creates and destroys per-collection stores
type Engine interface {
	// Store opens (or creates) the store of a collection
	Store(database, collection string) (Store, error)

	// DropStore destroys the store of a collection
	DropStore(database, collection string) error

	// Close releases all resources held by the engine
	Close() error
}
