// Package session implements the editor session synchronization engine:
// it keeps the open scripts of one editing session consistent between
// the text surface, the live document store and the externally-fetched
// dependency models.
package session

import (
	"strings"

	"github.com/scriptpad-dev/scriptpad-go/surface"
)

// Script is one named file belonging to a session. Code is the
// last-known-saved text, not the live buffer contents.
type Script struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Code       string `json:"code"`
	IsRunnable bool   `json:"is_runnable"`
}

// Path is the rooted path diagnostics and dirty state are keyed by.
func (s Script) Path() string {
	if strings.HasPrefix(s.Filename, "/") {
		return s.Filename
	}
	return "/" + s.Filename
}

// URI is the text model URI for this script.
func (s Script) URI() string {
	return surface.URIFor(s.Filename)
}

// Kind is the language flavor for this script's model.
func (s Script) Kind() surface.LanguageKind {
	if strings.HasSuffix(s.Filename, ".tsx") {
		return surface.KindTSX
	}
	return surface.KindTypeScript
}

// Registry is the canonical in-memory list of a session's scripts. It
// is owned by the session dispatcher; reads hand out copies.
type Registry struct {
	scripts []Script
}

func NewRegistry(scripts ...Script) *Registry {
	return &Registry{scripts: append([]Script(nil), scripts...)}
}

func (r *Registry) Len() int {
	return len(r.scripts)
}

// All returns a copy of the script list in registration order.
func (r *Registry) All() []Script {
	return append([]Script(nil), r.scripts...)
}

func (r *Registry) ByID(id string) (Script, bool) {
	for _, s := range r.scripts {
		if s.ID == id {
			return s, true
		}
	}
	return Script{}, false
}

func (r *Registry) ByFilename(filename string) (Script, bool) {
	for _, s := range r.scripts {
		if s.Filename == filename {
			return s, true
		}
	}
	return Script{}, false
}

// Replace swaps the script list wholesale.
func (r *Registry) Replace(scripts []Script) {
	r.scripts = append([]Script(nil), scripts...)
}

// SetSavedCode records the last-saved text for one script.
func (r *Registry) SetSavedCode(id string, code string) {
	for i := range r.scripts {
		if r.scripts[i].ID == id {
			r.scripts[i].Code = code
			return
		}
	}
}
