// Package importer keeps the set of text models for externally-fetched
// dependency modules in step with what each file's source actually
// references, with bounded-retry fetch semantics.
package importer

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/scriptpad-dev/scriptpad-go/surface"
)

const (
	// DefaultMaxRetries bounds fetch attempts per URL per session.
	DefaultMaxRetries = 3

	// internalImportScheme marks playground-hosted modules, which are
	// TSX-flavored regardless of extension.
	internalImportScheme = "scriptpad://"
)

// Fetcher pulls a bundled module: {virtualPath -> sourceText}.
type Fetcher interface {
	Fetch(ctx context.Context, importURL string) (map[string]string, error)
}

// Resolver reconciles, per file, the ordered list of external import
// URLs against the models that exist on the surface. A URL that fails
// to fetch maxRetries times is poisoned for the rest of the session.
type Resolver struct {
	mu       sync.Mutex
	surf     surface.Surface
	fetcher  Fetcher
	log      *slog.Logger
	maxTries int
	backoff  func(attempt int) time.Duration

	ledger   map[string]int      // importURL -> failed attempts
	previous map[string][]string // filename -> last reconciled URL list
	inflight map[string]bool     // importURL -> fetch or retry pending
}

func NewResolver(surf surface.Surface, fetcher Fetcher, log *slog.Logger, maxRetries int) *Resolver {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		surf:     surf,
		fetcher:  fetcher,
		log:      log,
		maxTries: maxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
		ledger:   make(map[string]int),
		previous: make(map[string][]string),
		inflight: make(map[string]bool),
	}
}

// Reconcile diffs current against the previous pass for filename:
// models for dropped URLs are disposed, new or moved URLs are fetched,
// and current replaces the previous list wholesale.
func (r *Resolver) Reconcile(filename string, current []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.previous[filename]

	// Removal pass. Only the root model per URL is disposed;
	// transitively-bundled declaration files from the same bundle
	// stay behind. Known gap, kept deliberately.
	for _, url := range previous {
		if !slices.Contains(current, url) {
			r.surf.DisposeModel(surface.URIFor(url))
		}
	}

	// Fetch pass: an unchanged URL at an unchanged index is already
	// resolved.
	for i, url := range current {
		if i < len(previous) && previous[i] == url {
			continue
		}
		if r.inflight[url] {
			continue
		}
		if r.ledger[url] >= r.maxTries {
			continue
		}
		r.inflight[url] = true
		go r.fetchImport(url)
	}

	r.previous[filename] = slices.Clone(current)
}

// Forget drops per-file reconciliation state after a file is removed.
func (r *Resolver) Forget(filename string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.previous, filename)
}

// RetryCount reports the ledger entry for one URL.
func (r *Resolver) RetryCount(importURL string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger[importURL]
}

func (r *Resolver) fetchImport(importURL string) {
	files, err := r.fetcher.Fetch(context.Background(), importURL)
	if err != nil {
		r.recordFailure(importURL, err)
		return
	}

	for path, text := range files {
		uri := surface.URIFor(path)
		if r.surf.HasModel(uri) {
			continue
		}
		if err := r.surf.CreateModel(uri, text, kindFor(path)); err != nil {
			// A concurrent pass got there first.
			r.log.Debug("skipped import model", "uri", uri, "err", err)
		}
	}

	r.mu.Lock()
	r.inflight[importURL] = false
	r.mu.Unlock()
}

func (r *Resolver) recordFailure(importURL string, cause error) {
	r.mu.Lock()
	attempts := r.ledger[importURL] + 1
	r.ledger[importURL] = attempts
	if attempts >= r.maxTries {
		// Poisoned for the rest of the session; only a session reset
		// clears the ledger.
		r.inflight[importURL] = false
		r.mu.Unlock()
		r.log.Warn("import fetch giving up", "url", importURL, "attempts", attempts, "err", cause)
		return
	}
	delay := r.backoff(attempts)
	r.mu.Unlock()

	r.log.Warn("import fetch failed, retrying", "url", importURL, "attempt", attempts, "retry_in", delay, "err", cause)
	time.AfterFunc(delay, func() { r.fetchImport(importURL) })
}

func kindFor(path string) surface.LanguageKind {
	if strings.HasSuffix(path, ".tsx") || strings.HasPrefix(path, internalImportScheme) {
		return surface.KindTSX
	}
	return surface.KindTypeScript
}
