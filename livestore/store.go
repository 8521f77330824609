// Package livestore is the shared record store backing collaborative
// editing. Each open script has at most one Record keyed by script ID;
// writes are optimistic last-writer-wins, and a writer's own writes are
// visible to its own subscription (the session's echo suppression
// depends on that).
package livestore

import "sync"

// Record is the live state of one script.
type Record struct {
	Code             string `json:"code"`
	LastLocalVersion int64  `json:"lastLocalVersion"`
	LastConnectionID string `json:"lastConnectionId"`
}

// Subscriber observes record writes for one key.
type Subscriber func(Record)

// Store is the live document store contract consumed by the session.
type Store interface {
	Get(key string) (Record, bool)
	Set(key string, record Record) error
	Delete(key string)
	Subscribe(key string, fn Subscriber) (cancel func())
}

// MemoryStore is a mutex-guarded in-process Store. It is the single-user
// default and the engine's test double.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	subs    map[string]map[int]Subscriber
	nextID  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		subs:    make(map[string]map[int]Subscriber),
	}
}

func (s *MemoryStore) Get(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	return record, ok
}

func (s *MemoryStore) Set(key string, record Record) error {
	s.mu.Lock()
	s.records[key] = record
	subs := make([]Subscriber, 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(record)
	}
	return nil
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

func (s *MemoryStore) Subscribe(key string, fn Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]Subscriber)
	}
	id := s.nextID
	s.nextID++
	s.subs[key][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
	}
}

// Keys returns the IDs of all stored records.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	return keys
}
