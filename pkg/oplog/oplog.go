// Package oplog defines the append-only log of mutations emitted
// alongside every successful write, and the sinks that consume it.
package oplog

import (
	"sync"
	"time"

	"github.com/mnohosten/marlin-db/pkg/document"
)

// Operation is the kind of an oplog entry
type Operation string

const (
	OpInsert Operation = "i"
	OpUpdate Operation = "u"
	OpDelete Operation = "d"
	OpNoop   Operation = "n"
)

// Entry is one mutation record
type Entry struct {
	TS document.Timestamp
	NS string
	Op Operation
	O  *document.Document
	O2 *document.Document
}

// Document renders the entry in its wire shape
func (e Entry) Document() *document.Document {
	doc := document.NewDocumentFromPairs(
		"ts", e.TS,
		"ns", e.NS,
		"op", string(e.Op),
		"o", e.O,
	)
	if e.O2 != nil {
		doc.Set("o2", e.O2)
	}
	return doc
}

// Sink consumes oplog entries
type Sink interface {
	Append(entry Entry)
}

// NoopSink discards all entries; it is the default sink
type NoopSink struct{}

// Append implements Sink
func (NoopSink) Append(Entry) {}

// MemorySink retains entries in memory, mostly for tests and for
// tailing over the HTTP surface
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append implements Sink
func (s *MemorySink) Append(entry Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
}

// Entries returns a snapshot of the recorded entries
func (s *MemorySink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Entry, len(s.entries))
	copy(result, s.entries)
	return result
}

// Len returns the number of recorded entries
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clock issues strictly increasing oplog timestamps: entries within
// the same second get increasing ordinals
type Clock struct {
	mu      sync.Mutex
	lastSec uint32
	ordinal uint32
}

// NewClock creates a timestamp clock
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next timestamp
func (c *Clock) Next() document.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := uint32(time.Now().Unix())
	if now <= c.lastSec {
		c.ordinal++
	} else {
		c.lastSec = now
		c.ordinal = 1
	}
	return document.Timestamp{T: c.lastSec, I: c.ordinal}
}
