package document

import (
	"testing"
	"time"
)

func TestBSONRoundTrip(t *testing.T) {
	doc := NewDocumentFromPairs(
		"_id", NewObjectID(),
		"name", "Alice",
		"age", int32(30),
		"score", int64(12345678901),
		"ratio", 0.25,
		"active", true,
		"missing", nil,
		"tags", []interface{}{"a", "b", int32(3)},
		"nested", NewDocumentFromPairs("x", int64(1), "y", "z"),
		"data", Binary{Subtype: 0x00, Data: []byte{0x01, 0x02}},
		"created", time.UnixMilli(1700000000000).UTC(),
		"ts", Timestamp{T: 100, I: 2},
		"pattern", Regex{Pattern: "^a", Options: "i"},
		"low", MinKey{},
		"high", MaxKey{},
	)

	data, err := NewEncoder().Encode(doc)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := NewDecoder(data).Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !doc.Equal(decoded) {
		t.Errorf("Round trip mismatch:\n  original: %s\n  decoded:  %s", doc, decoded)
	}
	if decoded.Keys()[0] != "_id" {
		t.Errorf("Expected key order to survive, got %v", decoded.Keys())
	}
}

func TestBSONDecodeRejectsTruncated(t *testing.T) {
	doc := NewDocumentFromPairs("a", int64(1))
	data, err := NewEncoder().Encode(doc)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := NewDecoder(data[:len(data)-3]).Decode(); err == nil {
		t.Error("Expected error for truncated document")
	}
}

func TestBSONEmptyDocument(t *testing.T) {
	data, err := NewEncoder().Encode(NewDocument())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(data) != 5 {
		t.Errorf("Expected 5 bytes for the empty document, got %d", len(data))
	}
	decoded, err := NewDecoder(data).Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Len() != 0 {
		t.Errorf("Expected empty document, got %d fields", decoded.Len())
	}
}
