package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/mnohosten/marlin-db/pkg/document"
)

// Algorithm selects the snapshot compression algorithm
type Algorithm byte

const (
	// AlgorithmNone stores snapshots uncompressed
	AlgorithmNone Algorithm = iota
	// AlgorithmSnappy is fast compression with moderate ratio
	AlgorithmSnappy
	// AlgorithmZstd is balanced compression (default)
	AlgorithmZstd
)

// String returns the string representation of the algorithm
func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

var snapshotMagic = [4]byte{'M', 'R', 'L', 'N'}

// FileEngine persists each collection as a compressed, checksummed
// snapshot file under a data directory. Documents are served from
// memory; snapshots are written on flush and close.
type FileEngine struct {
	dir       string
	algorithm Algorithm
	mu        sync.Mutex
	stores    map[string]*FileStore
}

// NewFileEngine creates a file-backed storage engine rooted at dir
func NewFileEngine(dir string, algorithm Algorithm) (*FileEngine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileEngine{
		dir:       dir,
		algorithm: algorithm,
		stores:    make(map[string]*FileStore),
	}, nil
}

func (e *FileEngine) snapshotPath(database, collection string) string {
	return filepath.Join(e.dir, database, collection+".snapshot")
}

// Store implements Engine
func (e *FileEngine) Store(database, collection string) (Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := database + "." + collection
	if store, ok := e.stores[key]; ok {
		return store, nil
	}
	store := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        e.snapshotPath(database, collection),
		algorithm:   e.algorithm,
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	e.stores[key] = store
	return store, nil
}

// DropStore implements Engine
func (e *FileEngine) DropStore(database, collection string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := database + "." + collection
	delete(e.stores, key)
	err := os.Remove(e.snapshotPath(database, collection))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Flush writes every dirty snapshot to disk
func (e *FileEngine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, store := range e.stores {
		if err := store.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Engine, flushing all snapshots first
func (e *FileEngine) Close() error {
	return e.Flush()
}

// FileStore is a memory store with a snapshot file behind it
type FileStore struct {
	*MemoryStore
	path      string
	algorithm Algorithm
	flushMu   sync.Mutex
	dirty     bool
}

func (s *FileStore) markDirty() {
	s.flushMu.Lock()
	s.dirty = true
	s.flushMu.Unlock()
}

// Insert implements Store
func (s *FileStore) Insert(doc *document.Document) (Position, error) {
	pos, err := s.MemoryStore.Insert(doc)
	if err == nil {
		s.markDirty()
	}
	return pos, err
}

// Update implements Store
func (s *FileStore) Update(pos Position, doc *document.Document) error {
	if err := s.MemoryStore.Update(pos, doc); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

// Remove implements Store
func (s *FileStore) Remove(pos Position) error {
	if err := s.MemoryStore.Remove(pos); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

// Drop implements Store
func (s *FileStore) Drop() error {
	if err := s.MemoryStore.Drop(); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

// Flush writes the snapshot if the store changed since the last flush
func (s *FileStore) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if !s.dirty {
		return nil
	}

	payload := new(bytes.Buffer)
	encoder := document.NewEncoder()
	err := s.ForEach(func(_ Position, doc *document.Document) (bool, error) {
		data, err := encoder.Encode(doc)
		if err != nil {
			return false, err
		}
		payload.Write(data)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	compressed, err := compress(payload.Bytes(), s.algorithm)
	if err != nil {
		return err
	}
	checksum := blake2b.Sum256(compressed)
	snapshotID := uuid.NewString()

	buf := new(bytes.Buffer)
	buf.Write(snapshotMagic[:])
	buf.WriteByte(byte(s.algorithm))
	buf.WriteString(snapshotID)
	binary.Write(buf, binary.LittleEndian, int64(len(compressed)))
	buf.Write(compressed)
	buf.Write(checksum[:])

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	s.dirty = false
	return nil
}

// load restores the store from its snapshot file, if present
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	headerLen := len(snapshotMagic) + 1 + 36 + 8
	if len(data) < headerLen+blake2b.Size256 {
		return fmt.Errorf("snapshot %s is truncated", s.path)
	}
	if !bytes.Equal(data[:4], snapshotMagic[:]) {
		return fmt.Errorf("snapshot %s has an invalid header", s.path)
	}
	algorithm := Algorithm(data[4])
	payloadLen := int64(binary.LittleEndian.Uint64(data[4+1+36 : headerLen]))
	if int64(len(data)) != int64(headerLen)+payloadLen+blake2b.Size256 {
		return fmt.Errorf("snapshot %s has an inconsistent length", s.path)
	}
	compressed := data[headerLen : int64(headerLen)+payloadLen]
	var checksum [blake2b.Size256]byte
	copy(checksum[:], data[int64(headerLen)+payloadLen:])
	if blake2b.Sum256(compressed) != checksum {
		return fmt.Errorf("snapshot %s failed checksum verification", s.path)
	}

	payload, err := decompress(compressed, algorithm)
	if err != nil {
		return err
	}
	for pos := 0; pos < len(payload); {
		if len(payload[pos:]) < 4 {
			return fmt.Errorf("snapshot %s contains a truncated document", s.path)
		}
		size := int(binary.LittleEndian.Uint32(payload[pos : pos+4]))
		if size < 5 || pos+size > len(payload) {
			return fmt.Errorf("snapshot %s contains an invalid document size", s.path)
		}
		doc, err := document.NewDecoder(payload[pos : pos+size]).Decode()
		if err != nil {
			return fmt.Errorf("failed to decode snapshot document: %w", err)
		}
		if _, err := s.MemoryStore.Insert(doc); err != nil {
			return err
		}
		pos += size
	}
	return nil
}

func compress(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case AlgorithmNone:
		return data, nil
	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil
	case AlgorithmZstd:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		defer encoder.Close()
		return encoder.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %d", algorithm)
	}
}

func decompress(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case AlgorithmNone:
		return data, nil
	case AlgorithmSnappy:
		result, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress snappy snapshot: %w", err)
		}
		return result, nil
	case AlgorithmZstd:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer decoder.Close()
		result, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress zstd snapshot: %w", err)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %d", algorithm)
	}
}
