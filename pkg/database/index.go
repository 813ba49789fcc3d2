package database

import (
	"strings"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/path"
	"github.com/mnohosten/marlin-db/pkg/storage"
)

// Index maintains a mapping from key values to document positions.
// Indexes are updated atomically with the document write under the
// collection's exclusive lock.
type Index struct {
	name      string
	keyPaths  []string
	unique    bool
	positions map[string][]storage.Position
}

// NewIndex creates an index over one or more key paths
func NewIndex(name string, keyPaths []string, unique bool) *Index {
	return &Index{
		name:      name,
		keyPaths:  keyPaths,
		unique:    unique,
		positions: make(map[string][]storage.Position),
	}
}

// Name returns the index name
func (idx *Index) Name() string {
	return idx.name
}

// KeyPaths returns the indexed paths
func (idx *Index) KeyPaths() []string {
	return idx.keyPaths
}

// IsUnique reports whether the index enforces key uniqueness
func (idx *Index) IsUnique() bool {
	return idx.unique
}

// key renders the canonical index key of a document: the normalized
// values of all key paths. Missing values index as null.
func (idx *Index) key(doc *document.Document) string {
	parts := make([]string, len(idx.keyPaths))
	for i, keyPath := range idx.keyPaths {
		value, err := path.Get(doc, keyPath)
		if err != nil || document.IsMissing(value) {
			value = nil
		}
		parts[i] = document.FormatValue(document.NormalizeValue(value))
	}
	return strings.Join(parts, "\x00")
}

// CheckInsert verifies that inserting doc would not violate
// uniqueness
func (idx *Index) CheckInsert(doc *document.Document) error {
	if !idx.unique {
		return nil
	}
	key := idx.key(doc)
	if len(idx.positions[key]) > 0 {
		return mongoerr.Newf(mongoerr.CodeDuplicateKey,
			"E11000 duplicate key error collection index: %s dup key: %s", idx.name, key)
	}
	return nil
}

// Insert adds a document to the index
func (idx *Index) Insert(doc *document.Document, pos storage.Position) {
	key := idx.key(doc)
	idx.positions[key] = append(idx.positions[key], pos)
}

// Remove drops a document from the index
func (idx *Index) Remove(doc *document.Document, pos storage.Position) {
	key := idx.key(doc)
	entries := idx.positions[key]
	for i, p := range entries {
		if p == pos {
			idx.positions[key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(idx.positions[key]) == 0 {
		delete(idx.positions, key)
	}
}

// CheckUpdate verifies that replacing oldDoc with newDoc at pos keeps
// the index unique
func (idx *Index) CheckUpdate(oldDoc, newDoc *document.Document, pos storage.Position) error {
	if !idx.unique {
		return nil
	}
	oldKey, newKey := idx.key(oldDoc), idx.key(newDoc)
	if oldKey == newKey {
		return nil
	}
	for _, p := range idx.positions[newKey] {
		if p != pos {
			return mongoerr.Newf(mongoerr.CodeDuplicateKey,
				"E11000 duplicate key error collection index: %s dup key: %s", idx.name, newKey)
		}
	}
	return nil
}

// Update moves a document between index keys
func (idx *Index) Update(oldDoc, newDoc *document.Document, pos storage.Position) {
	oldKey, newKey := idx.key(oldDoc), idx.key(newDoc)
	if oldKey == newKey {
		return
	}
	idx.Remove(oldDoc, pos)
	idx.Insert(newDoc, pos)
}

// Lookup returns the positions stored under the key of doc
func (idx *Index) Lookup(doc *document.Document) []storage.Position {
	return idx.positions[idx.key(doc)]
}

// Clear resets the index
func (idx *Index) Clear() {
	idx.positions = make(map[string][]storage.Position)
}
