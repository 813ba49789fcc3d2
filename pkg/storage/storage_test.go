package storage

import (
	"testing"

	"github.com/mnohosten/marlin-db/pkg/document"
)

func testStoreContract(t *testing.T, store Store) {
	t.Helper()

	docA := document.NewDocumentFromPairs("_id", int64(1), "name", "a")
	docB := document.NewDocumentFromPairs("_id", int64(2), "name", "b")

	posA, err := store.Insert(docA)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	posB, err := store.Insert(docB)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if posA == posB {
		t.Fatal("Expected distinct positions")
	}

	got, err := store.Get(posA)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v, _ := got.Get("name"); v.(string) != "a" {
		t.Errorf("Expected name 'a', got %v", v)
	}

	count, err := store.Count()
	if err != nil || count != 2 {
		t.Fatalf("Expected count 2, got %d (%v)", count, err)
	}

	// iteration follows insertion order
	var names []string
	err = store.ForEach(func(_ Position, doc *document.Document) (bool, error) {
		v, _ := doc.Get("name")
		names = append(names, v.(string))
		return true, nil
	})
	if err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Unexpected iteration order: %v", names)
	}

	updated := document.NewDocumentFromPairs("_id", int64(1), "name", "a2")
	if err := store.Update(posA, updated); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, _ = store.Get(posA)
	if v, _ := got.Get("name"); v.(string) != "a2" {
		t.Errorf("Expected updated name, got %v", v)
	}

	if err := store.Remove(posB); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Get(posB); err != ErrPositionNotFound {
		t.Errorf("Expected ErrPositionNotFound, got %v", err)
	}
	if err := store.Remove(posB); err != ErrPositionNotFound {
		t.Errorf("Expected ErrPositionNotFound on double remove, got %v", err)
	}

	if err := store.Drop(); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	count, _ = store.Count()
	if count != 0 {
		t.Errorf("Expected empty store after drop, got %d", count)
	}
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryEngineSharesStores(t *testing.T) {
	engine := NewMemoryEngine()
	a, _ := engine.Store("db", "coll")
	b, _ := engine.Store("db", "coll")
	if a != b {
		t.Error("Expected the same store for the same namespace")
	}
	other, _ := engine.Store("db", "other")
	if a == other {
		t.Error("Expected different stores for different collections")
	}
}

func TestFileStoreContract(t *testing.T) {
	engine, err := NewFileEngine(t.TempDir(), AlgorithmZstd)
	if err != nil {
		t.Fatalf("NewFileEngine failed: %v", err)
	}
	store, err := engine.Store("db", "coll")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	testStoreContract(t, store)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	for _, algorithm := range []Algorithm{AlgorithmNone, AlgorithmSnappy, AlgorithmZstd} {
		t.Run(algorithm.String(), func(t *testing.T) {
			engine, err := NewFileEngine(dir, algorithm)
			if err != nil {
				t.Fatalf("NewFileEngine failed: %v", err)
			}
			store, err := engine.Store("db", "coll_"+algorithm.String())
			if err != nil {
				t.Fatalf("Store failed: %v", err)
			}
			doc := document.NewDocumentFromPairs("_id", int64(42), "payload", "hello")
			if _, err := store.Insert(doc); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if err := engine.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			reopened, err := NewFileEngine(dir, algorithm)
			if err != nil {
				t.Fatalf("NewFileEngine (reopen) failed: %v", err)
			}
			restored, err := reopened.Store("db", "coll_"+algorithm.String())
			if err != nil {
				t.Fatalf("Store (reopen) failed: %v", err)
			}
			count, _ := restored.Count()
			if count != 1 {
				t.Fatalf("Expected 1 restored document, got %d", count)
			}
			var payload interface{}
			restored.ForEach(func(_ Position, doc *document.Document) (bool, error) {
				payload, _ = doc.Get("payload")
				return true, nil
			})
			if payload.(string) != "hello" {
				t.Errorf("Expected restored payload, got %v", payload)
			}
		})
	}
}

func TestFileStoreDropStoreRemovesSnapshot(t *testing.T) {
	dir := t.TempDir()
	engine, err := NewFileEngine(dir, AlgorithmZstd)
	if err != nil {
		t.Fatalf("NewFileEngine failed: %v", err)
	}
	store, _ := engine.Store("db", "coll")
	store.Insert(document.NewDocumentFromPairs("_id", int64(1)))
	if err := engine.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := engine.DropStore("db", "coll"); err != nil {
		t.Fatalf("DropStore failed: %v", err)
	}

	reopened, _ := NewFileEngine(dir, AlgorithmZstd)
	restored, err := reopened.Store("db", "coll")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	count, _ := restored.Count()
	if count != 0 {
		t.Errorf("Expected empty store after drop, got %d", count)
	}
}

func TestBadgerStoreContract(t *testing.T) {
	engine, err := NewBadgerEngine(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadgerEngine failed: %v", err)
	}
	defer engine.Close()
	store, err := engine.Store("db", "coll")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	testStoreContract(t, store)
}
