package session

import (
	"maps"
	"sort"
	"sync"
)

// StateTracker holds the per-path dirty and error flags for a session.
// Both maps share one exemption: the synthetic global declarations path
// is never flagged. Aggregates are recomputed on read, never cached.
// Maps are replaced, not mutated, so a snapshot taken mid-callback
// stays stable.
type StateTracker struct {
	mu         sync.RWMutex
	exemptPath string
	dirty      map[string]bool
	errors     map[string]bool
}

func NewStateTracker(exemptPath string) *StateTracker {
	return &StateTracker{
		exemptPath: exemptPath,
		dirty:      make(map[string]bool),
		errors:     make(map[string]bool),
	}
}

func (t *StateTracker) SetDirty(path string, dirty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty = withFlag(t.dirty, path, dirty, t.exemptPath)
}

func (t *StateTracker) SetError(path string, hasError bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = withFlag(t.errors, path, hasError, t.exemptPath)
}

func (t *StateTracker) FileDirty(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dirty[path]
}

func (t *StateTracker) FileErroring(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.errors[path]
}

// IsDirty reports whether any file has unsaved changes.
func (t *StateTracker) IsDirty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return anyFlag(t.dirty)
}

// HasErrors reports whether any file has validation errors.
func (t *StateTracker) HasErrors() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return anyFlag(t.errors)
}

// ErrorFiles returns the sorted paths currently flagged as erroring.
func (t *StateTracker) ErrorFiles() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var paths []string
	for path, flagged := range t.errors {
		if flagged {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// ClearDirty drops every dirty flag, after a successful save.
func (t *StateTracker) ClearDirty() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty = make(map[string]bool)
}

// Forget removes both flags for a path, after a file is deleted.
func (t *StateTracker) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dirty := maps.Clone(t.dirty)
	delete(dirty, path)
	t.dirty = dirty
	errors := maps.Clone(t.errors)
	delete(errors, path)
	t.errors = errors
}

// withFlag returns a map with the flag applied, or the original map
// unchanged when the set is a no-op. True flags are stored, false flags
// are deleted, so presence and value coincide.
func withFlag(m map[string]bool, path string, value bool, exempt string) map[string]bool {
	if path == exempt {
		return m
	}
	if _, present := m[path]; present == value {
		return m
	}
	next := maps.Clone(m)
	if value {
		next[path] = true
	} else {
		delete(next, path)
	}
	return next
}

func anyFlag(m map[string]bool) bool {
	for _, flagged := range m {
		if flagged {
			return true
		}
	}
	return false
}
