// Package persist holds record persisters used as the store's fallback
// source. Sub-packages provide on-disk backends.
package persist

import (
	"sync"

	"github.com/hanpama/graphcache/internal/record"
)

// Memory is an in-memory persister that logs every call.
type Memory struct {
	mu      sync.Mutex
	records record.Source
	Calls   []Call
}

// Call is one logged persister call.
type Call struct {
	Op string
	ID string
}

// NewMemory creates a persister seeded with src.
func NewMemory(src record.Source) *Memory {
	m := &Memory{records: make(record.Source, len(src))}
	for id, r := range src {
		m.records[id] = r.Clone()
	}
	return m
}

func (m *Memory) ReadRecord(id string) (record.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Op: "read", ID: id})
	r, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (m *Memory) WriteRecord(r record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Op: "write", ID: r.ID()})
	m.records[r.ID()] = r.Clone()
	return nil
}

// Records returns a copy of everything written.
func (m *Memory) Records() record.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(record.Source, len(m.records))
	for id, r := range m.records {
		out[id] = r.Clone()
	}
	return out
}
