// Package surface defines the text surface contract the session engine
// drives. The real surface is the browser editor widget; the engine
// only ever talks to this interface, and MemorySurface implements it
// for tests and for server-side session hosts.
package surface

import "strings"

// URIFor derives the model URI for a script path or external module
// URL. External URLs are their own URI; everything else becomes a
// rooted file URI.
func URIFor(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "file://" + path
}

// LanguageKind selects the language flavor a model is created with.
type LanguageKind string

const (
	KindTypeScript LanguageKind = "typescript"
	KindTSX        LanguageKind = "typescriptreact"
)

// Marker is a validation diagnostic attached to a model span (1-based,
// end-exclusive columns).
type Marker struct {
	Message     string
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// ChangeHandler observes content changes on one model. revision grows
// monotonically per model across both local and external writes.
type ChangeHandler func(uri string, text string, revision int64)

// Surface is the editable-buffer host consumed by the session engine.
// The engine owns the file-to-URI mapping; the surface owns buffer
// contents once a model exists.
type Surface interface {
	CreateModel(uri string, text string, kind LanguageKind) error
	HasModel(uri string) bool
	GetModel(uri string) (text string, ok bool)
	DisposeModel(uri string)
	SetValue(uri string, text string) error
	OnDidChangeContent(uri string, handler ChangeHandler) (cancel func())
	SetMarkers(uri string, source string, markers []Marker)
	ModelURIs() []string
	Format(uri string) error
}
