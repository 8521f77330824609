package surface

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type model struct {
	text     string
	kind     LanguageKind
	revision int64
	handlers map[int]ChangeHandler
	nextID   int
}

// MemorySurface is an in-process Surface. Writes through SetValue fire
// change handlers the same way an editor widget echoes programmatic
// edits, which is what the engine's echo suppression is tested against.
type MemorySurface struct {
	mu      sync.RWMutex
	models  map[string]*model
	markers map[string]map[string][]Marker
}

func NewMemorySurface() *MemorySurface {
	return &MemorySurface{
		models:  make(map[string]*model),
		markers: make(map[string]map[string][]Marker),
	}
}

func (s *MemorySurface) CreateModel(uri string, text string, kind LanguageKind) error {
	if uri == "" {
		return fmt.Errorf("create model: empty uri")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.models[uri]; exists {
		return fmt.Errorf("create model: %s already exists", uri)
	}
	s.models[uri] = &model{
		text:     text,
		kind:     kind,
		handlers: make(map[int]ChangeHandler),
	}
	return nil
}

func (s *MemorySurface) HasModel(uri string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.models[uri]
	return ok
}

func (s *MemorySurface) GetModel(uri string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[uri]
	if !ok {
		return "", false
	}
	return m.text, true
}

func (s *MemorySurface) DisposeModel(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models, uri)
	delete(s.markers, uri)
}

func (s *MemorySurface) SetValue(uri string, text string) error {
	s.mu.Lock()
	m, ok := s.models[uri]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("set value: no model for %s", uri)
	}
	if m.text == text {
		s.mu.Unlock()
		return nil
	}
	m.text = text
	m.revision++
	revision := m.revision
	handlers := make([]ChangeHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(uri, text, revision)
	}
	return nil
}

func (s *MemorySurface) OnDidChangeContent(uri string, handler ChangeHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[uri]
	if !ok {
		return func() {}
	}
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if m, ok := s.models[uri]; ok {
			delete(m.handlers, id)
		}
	}
}

func (s *MemorySurface) SetMarkers(uri string, source string, markers []Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySource, ok := s.markers[uri]
	if !ok {
		bySource = make(map[string][]Marker)
		s.markers[uri] = bySource
	}
	if len(markers) == 0 {
		delete(bySource, source)
		return
	}
	bySource[source] = append([]Marker(nil), markers...)
}

// Markers returns the current markers for one model and source, for
// hosts and tests that render diagnostics.
func (s *MemorySurface) Markers(uri string, source string) []Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Marker(nil), s.markers[uri][source]...)
}

func (s *MemorySurface) ModelURIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uris := make([]string, 0, len(s.models))
	for uri := range s.models {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Kind returns the language kind a model was created with.
func (s *MemorySurface) Kind(uri string) (LanguageKind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[uri]
	if !ok {
		return "", false
	}
	return m.kind, true
}

// Format trims trailing whitespace per line and guarantees one trailing
// newline. Deliberately modest; the caller treats formatting as
// best-effort.
func (s *MemorySurface) Format(uri string) error {
	s.mu.Lock()
	m, ok := s.models[uri]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("format: no model for %s", uri)
	}
	lines := strings.Split(m.text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	formatted := strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
	s.mu.Unlock()

	return s.SetValue(uri, formatted)
}
