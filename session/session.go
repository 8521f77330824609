package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/scriptpad-dev/scriptpad-go/importer"
	"github.com/scriptpad-dev/scriptpad-go/livestore"
	"github.com/scriptpad-dev/scriptpad-go/parser"
	"github.com/scriptpad-dev/scriptpad-go/surface"
)

const (
	// DefaultDebounce coalesces the import-handling portion of rapid
	// text changes; the last call in the window wins.
	DefaultDebounce = 250 * time.Millisecond

	// DefaultGlobalTypesPath is the synthetic declarations path that is
	// never tracked as dirty or erroring.
	DefaultGlobalTypesPath = "/global.d.ts"

	markerSource = "imports"
	eventBuffer  = 256
)

const globalTypesSource = "declare type ScriptInput = Record<string, unknown>;\n"

var (
	ErrSaveInFlight = errors.New("save already in flight")
	ErrClosed       = errors.New("session closed")
)

// SaveScriptData is the per-script payload sent to the save endpoint.
type SaveScriptData struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Code        string `json:"code"`
	Filename    string `json:"filename"`
}

type SaveScript struct {
	ID   string         `json:"id"`
	Data SaveScriptData `json:"data"`
}

type SaveRequest struct {
	ID      string       `json:"id"`
	Scripts []SaveScript `json:"scripts"`
}

type SaveResult struct {
	Version string `json:"version"`
}

// SaveBackend persists a session's scripts in one batch.
type SaveBackend interface {
	Save(ctx context.Context, req SaveRequest) (SaveResult, error)
}

// Options wires a Session's collaborators. Store, Surface, Resolver and
// Backend are required.
type Options struct {
	SessionID    string
	ConnectionID string
	Store        livestore.Store
	Surface      surface.Surface
	Resolver     *importer.Resolver
	Backend      SaveBackend
	Logger       *slog.Logger

	Debounce        time.Duration
	GlobalTypesPath string
}

// Session is the orchestrator for one editing session. All state is
// owned by a single dispatcher goroutine; public methods post events
// and never touch state directly, so callbacks may arrive from any
// goroutine in any order.
type Session struct {
	id              string
	connID          string
	store           livestore.Store
	surf            surface.Surface
	resolver        *importer.Resolver
	backend         SaveBackend
	log             *slog.Logger
	debounce        time.Duration
	globalTypesPath string

	registry *Registry
	tracker  *StateTracker

	events chan any
	done   chan struct{}
	closed sync.Once

	// dispatcher-owned state below
	activeID       string
	inputs         map[string][]parser.Input
	inputErrors    map[string]string
	expectRemote   map[string]string
	subCancels     map[string]func()
	saving         bool
	pendingImports *importPass
}

// importPass is one debounced import-handling unit of work.
type importPass struct {
	script    Script
	locals    []parser.LocalImport
	externals []string
}

type textChangedEvent struct {
	scriptID string
	text     string
	revision int64
}

type remoteUpdateEvent struct {
	scriptID string
	record   livestore.Record
}

type scriptsChangedEvent struct {
	scripts []Script
}

type setActiveEvent struct {
	scriptID string
}

type saveReply struct {
	version string
	err     error
}

type saveEvent struct {
	ctx   context.Context
	reply chan saveReply
}

type saveDoneEvent struct {
	version string
	saved   map[string]string
	err     error
	reply   chan saveReply
}

type snapshotEvent struct {
	reply chan Snapshot
}

// Snapshot is a point-in-time view of session state for hosts and UIs.
type Snapshot struct {
	SessionID   string
	ActiveID    string
	Scripts     []Script
	IsDirty     bool
	HasErrors   bool
	ErrorFiles  []string
	Inputs      map[string][]parser.Input
	InputErrors map[string]string
}

func New(opts Options) (*Session, error) {
	if opts.Store == nil || opts.Surface == nil || opts.Resolver == nil || opts.Backend == nil {
		return nil, errors.New("session: store, surface, resolver and backend are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ConnectionID == "" {
		opts.ConnectionID = fmt.Sprintf("conn_%d", time.Now().UTC().UnixNano())
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.GlobalTypesPath == "" {
		opts.GlobalTypesPath = DefaultGlobalTypesPath
	}

	s := &Session{
		id:              opts.SessionID,
		connID:          opts.ConnectionID,
		store:           opts.Store,
		surf:            opts.Surface,
		resolver:        opts.Resolver,
		backend:         opts.Backend,
		log:             opts.Logger,
		debounce:        opts.Debounce,
		globalTypesPath: opts.GlobalTypesPath,
		registry:        NewRegistry(),
		tracker:         NewStateTracker(opts.GlobalTypesPath),
		events:          make(chan any, eventBuffer),
		done:            make(chan struct{}),
		inputs:          make(map[string][]parser.Input),
		inputErrors:     make(map[string]string),
		expectRemote:    make(map[string]string),
		subCancels:      make(map[string]func()),
	}

	globalURI := surface.URIFor(s.globalTypesPath)
	if !s.surf.HasModel(globalURI) {
		if err := s.surf.CreateModel(globalURI, globalTypesSource, surface.KindTypeScript); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}

	go s.loop()
	return s, nil
}

func (s *Session) ID() string           { return s.id }
func (s *Session) ConnectionID() string { return s.connID }

// IsDirty reports whether any open file has unsaved changes.
func (s *Session) IsDirty() bool { return s.tracker.IsDirty() }

// HasErrors reports whether any open file has validation errors.
func (s *Session) HasErrors() bool { return s.tracker.HasErrors() }

// ErrorFiles returns the paths currently flagged as erroring.
func (s *Session) ErrorFiles() []string { return s.tracker.ErrorFiles() }

// OnTextChanged is invoked by the surface host on every content change.
func (s *Session) OnTextChanged(scriptID string, text string, revision int64) {
	s.post(textChangedEvent{scriptID: scriptID, text: text, revision: revision})
}

// OnRemoteLiveUpdate is invoked when the live store's record for a
// script changes.
func (s *Session) OnRemoteLiveUpdate(scriptID string, record livestore.Record) {
	s.post(remoteUpdateEvent{scriptID: scriptID, record: record})
}

// OnScriptsChanged reconciles the session against a new script list.
func (s *Session) OnScriptsChanged(scripts []Script) {
	s.post(scriptsChangedEvent{scripts: append([]Script(nil), scripts...)})
}

// SetActiveFile switches the active script.
func (s *Session) SetActiveFile(scriptID string) {
	s.post(setActiveEvent{scriptID: scriptID})
}

// Save formats and persists every open model in one batch. On success
// all dirty flags clear and the new content version is returned; on
// failure dirty flags stay set so a retried save covers the same files.
func (s *Session) Save(ctx context.Context) (string, error) {
	reply := make(chan saveReply, 1)
	s.post(saveEvent{ctx: ctx, reply: reply})
	select {
	case r := <-reply:
		return r.version, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
		return "", ErrClosed
	}
}

// Snapshot returns a consistent view of the session state.
func (s *Session) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	s.post(snapshotEvent{reply: reply})
	select {
	case snap := <-reply:
		return snap
	case <-s.done:
		return Snapshot{SessionID: s.id}
	}
}

// Close stops the dispatcher and cancels store subscriptions.
func (s *Session) Close() {
	s.closed.Do(func() { close(s.done) })
}

// post enqueues an event without ever blocking the caller; slow
// consumers cost a goroutine, not a deadlock, since handlers themselves
// can trigger new events synchronously.
func (s *Session) post(ev any) {
	select {
	case s.events <- ev:
		return
	case <-s.done:
		return
	default:
	}
	go func() {
		select {
		case s.events <- ev:
		case <-s.done:
		}
	}()
}

func (s *Session) loop() {
	var debounceTimer *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-s.done:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			s.teardown()
			return

		case ev := <-s.events:
			switch ev := ev.(type) {
			case textChangedEvent:
				if pass := s.handleTextChanged(ev); pass != nil {
					// Whole-operation debounce: a newer pass replaces
					// any pending one.
					s.pendingImports = pass
					if debounceTimer == nil {
						debounceTimer = time.NewTimer(s.debounce)
					} else {
						if !debounceTimer.Stop() {
							select {
							case <-debounceTimer.C:
							default:
							}
						}
						debounceTimer.Reset(s.debounce)
					}
					debounceC = debounceTimer.C
				}
			case remoteUpdateEvent:
				s.handleRemoteUpdate(ev)
			case scriptsChangedEvent:
				s.handleScriptsChanged(ev)
			case setActiveEvent:
				if _, ok := s.registry.ByID(ev.scriptID); ok {
					s.activeID = ev.scriptID
				}
			case saveEvent:
				s.handleSave(ev)
			case saveDoneEvent:
				s.handleSaveDone(ev)
			case snapshotEvent:
				ev.reply <- s.currentSnapshot()
			}

		case <-debounceC:
			debounceTimer = nil
			debounceC = nil
			pass := s.pendingImports
			s.pendingImports = nil
			if pass != nil {
				s.runImportPass(pass)
			}
		}
	}
}

func (s *Session) teardown() {
	for _, cancel := range s.subCancels {
		cancel()
	}
	s.subCancels = make(map[string]func())
}

func (s *Session) handleTextChanged(ev textChangedEvent) *importPass {
	script, ok := s.registry.ByID(ev.scriptID)
	if !ok {
		return nil
	}
	scriptPath := script.Path()

	// Comma-ok so an empty buffer is never mistaken for the map's zero
	// value: only an actually-pending remote text is an echo.
	if expected, pending := s.expectRemote[script.ID]; pending && expected == ev.text {
		// This revision was applied from a remote update; pushing it
		// back would bounce it between participants forever.
		delete(s.expectRemote, script.ID)
	} else if rec, ok := s.store.Get(script.ID); !ok || rec.Code != ev.text {
		err := s.store.Set(script.ID, livestore.Record{
			Code:             ev.text,
			LastLocalVersion: ev.revision,
			LastConnectionID: s.connID,
		})
		if err != nil {
			// Local edits are never lost to a store failure.
			s.log.Error("live store write failed", "script", script.Filename, "err", err)
		}
	}

	s.tracker.SetDirty(scriptPath, ev.text != script.Code)

	res := parser.Parse(ev.text)
	if !res.Ok {
		delete(s.inputs, script.ID)
		s.inputErrors[script.ID] = res.Message
		s.tracker.SetError(scriptPath, true)
		return nil
	}

	s.inputs[script.ID] = res.Inputs
	delete(s.inputErrors, script.ID)
	s.surf.SetMarkers(script.URI(), markerSource, nil)
	s.tracker.SetError(scriptPath, false)

	return &importPass{script: script, locals: res.LocalImports, externals: res.ExternalImports}
}

func (s *Session) runImportPass(pass *importPass) {
	markers := s.validateLocalImports(pass.script, pass.locals)
	s.surf.SetMarkers(pass.script.URI(), markerSource, markers)
	s.tracker.SetError(pass.script.Path(), len(markers) > 0)
	s.resolver.Reconcile(pass.script.Filename, pass.externals)
}

func (s *Session) validateLocalImports(script Script, locals []parser.LocalImport) []surface.Marker {
	var markers []surface.Marker
	for _, imp := range locals {
		if s.localImportResolves(script, imp.Specifier) {
			continue
		}
		message := fmt.Sprintf("Cannot find module '%s'.", imp.Specifier)
		if suggestion, ok := suggestSpecifier(imp.Specifier, script.URI(), s.surf.ModelURIs()); ok {
			message += fmt.Sprintf(" Did you mean '%s'?", suggestion)
		}
		markers = append(markers, surface.Marker{
			Message:     message,
			StartLine:   imp.StartLine,
			StartColumn: imp.StartColumn,
			EndLine:     imp.EndLine,
			EndColumn:   imp.EndColumn,
		})
	}
	return markers
}

func (s *Session) localImportResolves(script Script, specifier string) bool {
	resolved := path.Join(path.Dir(script.Path()), specifier)
	candidates := []string{resolved + ".ts", resolved + ".tsx"}
	if path.Ext(resolved) != "" {
		candidates = append(candidates, resolved)
	}
	for _, candidate := range candidates {
		if s.surf.HasModel(surface.URIFor(candidate)) {
			return true
		}
	}
	return false
}

func (s *Session) handleRemoteUpdate(ev remoteUpdateEvent) {
	if ev.record.LastConnectionID == s.connID {
		// Our own write echoed back by the store.
		return
	}
	script, ok := s.registry.ByID(ev.scriptID)
	if !ok {
		return
	}
	uri := script.URI()
	if current, ok := s.surf.GetModel(uri); !ok || current == ev.record.Code {
		return
	}
	s.expectRemote[script.ID] = ev.record.Code
	if err := s.surf.SetValue(uri, ev.record.Code); err != nil {
		delete(s.expectRemote, script.ID)
		s.log.Error("failed to apply remote update", "script", script.Filename, "err", err)
	}
}

func (s *Session) handleScriptsChanged(ev scriptsChangedEvent) {
	keep := make(map[string]bool, len(ev.scripts))
	for _, sc := range ev.scripts {
		keep[sc.Path()] = true
	}

	// Removals run before any creation so two models never claim the
	// same path.
	activeRemoved := false
	for _, old := range s.registry.All() {
		if keep[old.Path()] {
			continue
		}
		s.surf.DisposeModel(old.URI())
		if cancel := s.subCancels[old.ID]; cancel != nil {
			cancel()
			delete(s.subCancels, old.ID)
		}
		s.tracker.Forget(old.Path())
		s.resolver.Forget(old.Filename)
		delete(s.inputs, old.ID)
		delete(s.inputErrors, old.ID)
		delete(s.expectRemote, old.ID)
		if old.ID == s.activeID {
			activeRemoved = true
		}
	}

	s.registry.Replace(ev.scripts)

	if activeRemoved || s.activeID == "" {
		s.activeID = ""
		if first := s.registry.All(); len(first) > 0 {
			s.activeID = first[0].ID
		}
	}

	for _, sc := range ev.scripts {
		uri := sc.URI()
		if !s.surf.HasModel(uri) {
			if err := s.surf.CreateModel(uri, sc.Code, sc.Kind()); err != nil {
				s.log.Error("failed to create model", "script", sc.Filename, "err", err)
				continue
			}
		}
		if _, subscribed := s.subCancels[sc.ID]; !subscribed {
			scriptID := sc.ID
			s.subCancels[scriptID] = s.store.Subscribe(scriptID, func(record livestore.Record) {
				s.OnRemoteLiveUpdate(scriptID, record)
			})
		}
	}
}

func (s *Session) handleSave(ev saveEvent) {
	if s.saving {
		ev.reply <- saveReply{err: ErrSaveInFlight}
		return
	}
	s.saving = true

	req := SaveRequest{ID: s.id}
	saved := make(map[string]string)
	for _, sc := range s.registry.All() {
		uri := sc.URI()
		if err := s.surf.Format(uri); err != nil {
			// Formatting is best-effort.
			s.log.Debug("format skipped", "script", sc.Filename, "err", err)
		}
		text, ok := s.surf.GetModel(uri)
		if !ok {
			text = sc.Code
		}
		saved[sc.ID] = text
		req.Scripts = append(req.Scripts, SaveScript{
			ID: sc.ID,
			Data: SaveScriptData{
				Name:     strings.TrimSuffix(sc.Filename, path.Ext(sc.Filename)),
				Code:     text,
				Filename: sc.Filename,
			},
		})
	}

	go func() {
		result, err := s.backend.Save(ev.ctx, req)
		s.post(saveDoneEvent{version: result.Version, saved: saved, err: err, reply: ev.reply})
	}()
}

func (s *Session) handleSaveDone(ev saveDoneEvent) {
	s.saving = false
	if ev.err != nil {
		// Dirty flags stay set so the next save retries the same files.
		ev.reply <- saveReply{err: ev.err}
		return
	}
	for id, code := range ev.saved {
		s.registry.SetSavedCode(id, code)
		sc, ok := s.registry.ByID(id)
		if !ok {
			continue
		}
		// Edits that raced the in-flight save are not in the snapshot
		// that was persisted; their files stay dirty.
		if current, ok := s.surf.GetModel(sc.URI()); ok && current == code {
			s.tracker.SetDirty(sc.Path(), false)
		}
	}
	ev.reply <- saveReply{version: ev.version}
}

func (s *Session) currentSnapshot() Snapshot {
	inputs := make(map[string][]parser.Input, len(s.inputs))
	for id, in := range s.inputs {
		inputs[id] = append([]parser.Input(nil), in...)
	}
	inputErrors := make(map[string]string, len(s.inputErrors))
	for id, msg := range s.inputErrors {
		inputErrors[id] = msg
	}
	return Snapshot{
		SessionID:   s.id,
		ActiveID:    s.activeID,
		Scripts:     s.registry.All(),
		IsDirty:     s.tracker.IsDirty(),
		HasErrors:   s.tracker.HasErrors(),
		ErrorFiles:  s.tracker.ErrorFiles(),
		Inputs:      inputs,
		InputErrors: inputErrors,
	}
}
