package livestore

import (
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
)

const recordsKey = "records"

// CollabStore is a Store whose records live in an automerge document,
// so any number of participants can merge concurrent edits. Local
// writes commit to the document and notify local subscribers; remote
// changes arrive through the websocket sync pump (see sync.go), which
// calls refresh to fan out merged records.
type CollabStore struct {
	mu     sync.Mutex
	doc    *automerge.Doc
	cache  map[string]Record
	subs   map[string]map[int]Subscriber
	nextID int
}

func NewCollabStore() *CollabStore {
	return &CollabStore{
		doc:   automerge.New(),
		cache: make(map[string]Record),
		subs:  make(map[string]map[int]Subscriber),
	}
}

// LoadCollabStore restores a store from a saved automerge document.
func LoadCollabStore(raw []byte) (*CollabStore, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	s := &CollabStore{
		doc:   doc,
		cache: make(map[string]Record),
		subs:  make(map[string]map[int]Subscriber),
	}
	s.mu.Lock()
	_, err = s.refreshLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CollabStore) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.cache[key]
	return record, ok
}

func (s *CollabStore) Set(key string, record Record) error {
	s.mu.Lock()
	err := s.doc.Path(recordsKey, key).Set(map[string]any{
		"code":             record.Code,
		"lastLocalVersion": record.LastLocalVersion,
		"lastConnectionId": record.LastConnectionID,
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to set record %s: %w", key, err)
	}
	if _, err := s.doc.Commit("set " + key); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to commit record %s: %w", key, err)
	}
	s.cache[key] = record
	subs := s.subscribersLocked(key)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(record)
	}
	return nil
}

func (s *CollabStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.doc.Path(recordsKey).Map().Delete(key); err != nil {
		return
	}
	_, _ = s.doc.Commit("delete " + key)
	delete(s.cache, key)
}

func (s *CollabStore) Subscribe(key string, fn Subscriber) func() {
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

// Save serializes the underlying document, for persistence or for
// seeding a joining peer.
func (s *CollabStore) Save() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Save()
}

// SetActorID tags this participant's changes in the document history.
func (s *CollabStore) SetActorID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.SetActorID(id)
}

func (s *CollabStore) subscribersLocked(key string) []Subscriber {
	subs := make([]Subscriber, 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		subs = append(subs, fn)
	}
	return subs
}

// refreshLocked rereads every record from the document, replaces the
// cache, and returns the records whose contents changed since the last
// read (including newly appeared keys).
func (s *CollabStore) refreshLocked() (map[string]Record, error) {
	records := make(map[string]Record)
	root, err := s.doc.Path(recordsKey).Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	if !root.IsVoid() {
		keys, err := s.doc.Path(recordsKey).Map().Keys()
		if err != nil {
			return nil, fmt.Errorf("failed to list records: %w", err)
		}
		for _, key := range keys {
			record, err := s.readRecordLocked(key)
			if err != nil {
				return nil, err
			}
			records[key] = record
		}
	}

	changed := make(map[string]Record)
	for key, record := range records {
		if prev, ok := s.cache[key]; !ok || prev != record {
			changed[key] = record
		}
	}
	s.cache = records
	return changed, nil
}

func (s *CollabStore) readRecordLocked(key string) (Record, error) {
	var record Record
	code, err := s.doc.Path(recordsKey, key, "code").Get()
	if err != nil {
		return record, fmt.Errorf("failed to read record %s: %w", key, err)
	}
	if !code.IsVoid() {
		record.Code = code.Str()
	}
	version, err := s.doc.Path(recordsKey, key, "lastLocalVersion").Get()
	if err != nil {
		return record, fmt.Errorf("failed to read record %s: %w", key, err)
	}
	if !version.IsVoid() {
		record.LastLocalVersion = version.Int64()
	}
	conn, err := s.doc.Path(recordsKey, key, "lastConnectionId").Get()
	if err != nil {
		return record, fmt.Errorf("failed to read record %s: %w", key, err)
	}
	if !conn.IsVoid() {
		record.LastConnectionID = conn.Str()
	}
	return record, nil
}

// notifyMerged refreshes the cache after remote changes were applied
// and fans out every changed record to its subscribers.
func (s *CollabStore) notifyMerged() error {
	s.mu.Lock()
	changed, err := s.refreshLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	type fanout struct {
		record Record
		subs   []Subscriber
	}
	pending := make([]fanout, 0, len(changed))
	for key, record := range changed {
		pending = append(pending, fanout{record: record, subs: s.subscribersLocked(key)})
	}
	s.mu.Unlock()

	for _, p := range pending {
		for _, fn := range p.subs {
			fn(p.record)
		}
	}
	return nil
}
