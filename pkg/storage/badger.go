package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/mnohosten/marlin-db/pkg/document"
)

// BadgerEngine stores collections in a BadgerDB key-value store. Keys
// are <db>/<collection>/<position>; values are BSON documents.
type BadgerEngine struct {
	db *badger.DB
}

// NewBadgerEngine opens (or creates) a BadgerDB-backed engine at path
func NewBadgerEngine(path string) (*BadgerEngine, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.NumVersionsToKeep = 1
	opts.SyncWrites = false
	opts.DetectConflicts = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerEngine{db: db}, nil
}

// Store implements Engine
func (e *BadgerEngine) Store(database, collection string) (Store, error) {
	store := &BadgerStore{
		db:     e.db,
		prefix: []byte(database + "/" + collection + "/"),
	}
	if err := store.loadNextPos(); err != nil {
		return nil, err
	}
	return store, nil
}

// DropStore implements Engine
func (e *BadgerEngine) DropStore(database, collection string) error {
	return e.db.DropPrefix([]byte(database + "/" + collection + "/"))
}

// Close implements Engine
func (e *BadgerEngine) Close() error {
	return e.db.Close()
}

// BadgerStore is the per-collection view over the shared BadgerDB
type BadgerStore struct {
	db      *badger.DB
	prefix  []byte
	posMu   sync.Mutex
	nextPos Position
}

func (s *BadgerStore) key(pos Position) []byte {
	key := make([]byte, len(s.prefix)+8)
	copy(key, s.prefix)
	binary.BigEndian.PutUint64(key[len(s.prefix):], uint64(pos))
	return key
}

func (s *BadgerStore) position(key []byte) Position {
	return Position(binary.BigEndian.Uint64(key[len(s.prefix):]))
}

// loadNextPos scans for the highest allocated position so that new
// inserts keep insertion order after a restart
func (s *BadgerStore) loadNextPos() error {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.nextPos = 1
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			pos := s.position(it.Item().Key())
			if pos >= s.nextPos {
				s.nextPos = pos + 1
			}
		}
		return nil
	})
}

// ForEach implements Store
func (s *BadgerStore) ForEach(visit func(pos Position, doc *document.Document) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			doc, err := document.NewDecoder(data).Decode()
			if err != nil {
				return fmt.Errorf("failed to decode stored document: %w", err)
			}
			keepGoing, err := visit(s.position(item.Key()), doc)
			if err != nil {
				return err
			}
			if !keepGoing {
				return nil
			}
		}
		return nil
	})
}

// Get implements Store
func (s *BadgerStore) Get(pos Position) (*document.Document, error) {
	var doc *document.Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(pos))
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		doc, err = document.NewDecoder(data).Decode()
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Insert implements Store
func (s *BadgerStore) Insert(doc *document.Document) (Position, error) {
	data, err := document.NewEncoder().Encode(doc)
	if err != nil {
		return 0, err
	}
	s.posMu.Lock()
	pos := s.nextPos
	s.nextPos++
	s.posMu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(pos), data)
	})
	if err != nil {
		return 0, err
	}
	return pos, nil
}

// Update implements Store
func (s *BadgerStore) Update(pos Position, doc *document.Document) error {
	data, err := document.NewEncoder().Encode(doc)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(s.key(pos)); err != nil {
			return err
		}
		return txn.Set(s.key(pos), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrPositionNotFound
	}
	return err
}

// Remove implements Store
func (s *BadgerStore) Remove(pos Position) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(s.key(pos)); err != nil {
			return err
		}
		return txn.Delete(s.key(pos))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrPositionNotFound
	}
	return err
}

// Count implements Store
func (s *BadgerStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Drop implements Store
func (s *BadgerStore) Drop() error {
	return s.db.DropPrefix(s.prefix)
}
