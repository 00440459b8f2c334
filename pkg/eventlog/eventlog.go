// Package eventlog records the store and dispose operations performed against
// the fake storage engine so tests can inspect them afterwards.
package eventlog

import (
	"sync"
)

// OwnerID identifies the storage instance that produced an event.
type OwnerID string

// Descriptor describes the blob an event refers to.
type Descriptor struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	MD5      string `json:"md5"`
	Size     int64  `json:"size"`
}

// Event is a single recorded store or dispose operation.
type Event struct {
	Key        string         `json:"key"`
	Owner      OwnerID        `json:"owner"`
	Descriptor Descriptor     `json:"descriptor"`
	Options    map[string]any `json:"options"`
}

// Table is an insertion-ordered mapping from key to Event.
// The zero value is an empty table ready to use.
type Table struct {
	keys   []string
	events map[string]Event
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{events: make(map[string]Event)}
}

// Put records ev under ev.Key. An existing key keeps its position.
func (t *Table) Put(ev Event) {
	if t.events == nil {
		t.events = make(map[string]Event)
	}
	if _, ok := t.events[ev.Key]; !ok {
		t.keys = append(t.keys, ev.Key)
	}
	t.events[ev.Key] = ev
}

// Get returns the event stored under key.
func (t *Table) Get(key string) (Event, bool) {
	if t == nil {
		return Event{}, false
	}
	ev, ok := t.events[key]
	return ev, ok
}

// Has reports whether key is present.
func (t *Table) Has(key string) bool {
	_, ok := t.Get(key)
	return ok
}

// Len returns the number of events.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Keys returns the keys in insertion order.
func (t *Table) Keys() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.keys...)
}

// Events returns the events in insertion order.
func (t *Table) Events() []Event {
	if t == nil {
		return nil
	}
	out := make([]Event, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, t.events[k])
	}
	return out
}

// Filter returns a new table holding the events keep accepts, in order.
func (t *Table) Filter(keep func(Event) bool) *Table {
	out := NewTable()
	if t == nil {
		return out
	}
	for _, k := range t.keys {
		if ev := t.events[k]; keep(ev) {
			out.Put(ev)
		}
	}
	return out
}

// Clone returns a copy of the table. Events are copied by value; option maps
// are shared.
func (t *Table) Clone() *Table {
	return t.Filter(func(Event) bool { return true })
}

// Log holds the stored and disposed tables. The two tables are independent:
// a key in one says nothing about the other.
type Log struct {
	mu       sync.RWMutex
	stored   *Table
	disposed *Table
}

// New returns an empty log.
func New() *Log {
	return &Log{stored: NewTable(), disposed: NewTable()}
}

// RecordStored appends a stored event.
func (l *Log) RecordStored(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stored.Put(ev)
}

// RecordDisposed appends a disposed event.
func (l *Log) RecordDisposed(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disposed.Put(ev)
}

// Stored returns a snapshot of the stored table.
func (l *Log) Stored() *Table {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stored.Clone()
}

// Disposed returns a snapshot of the disposed table.
func (l *Log) Disposed() *Table {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.disposed.Clone()
}

// LookupStored returns the stored event for key.
func (l *Log) LookupStored(key string) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stored.Get(key)
}

// Reset clears both tables. Test harnesses call it before every test.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stored = NewTable()
	l.disposed = NewTable()
}
