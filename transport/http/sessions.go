package http

import (
	"fmt"
	"sync"
	"time"

	"github.com/scriptpad-dev/scriptpad-go/config"
	"github.com/scriptpad-dev/scriptpad-go/importer"
	"github.com/scriptpad-dev/scriptpad-go/livestore"
	"github.com/scriptpad-dev/scriptpad-go/logger"
	"github.com/scriptpad-dev/scriptpad-go/session"
	"github.com/scriptpad-dev/scriptpad-go/surface"
)

// SessionManager holds the hosted editing sessions, keyed by app ID.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*hostedSession

	cfg     *config.Config
	fetcher importer.Fetcher
	backend session.SaveBackend
}

// hostedSession is one server-side editing session: the engine plus the
// in-process surface and store it runs against.
type hostedSession struct {
	ID       string
	Created  time.Time
	LastSeen time.Time

	engine *session.Session
	surf   *surface.MemorySurface
	store  livestore.Store
	collab *livestore.CollabStore // nil in memory mode

	wiredMu sync.Mutex
	wired   map[string]wiredHandler
}

// wiredHandler remembers which model URI a script's change handler is
// attached to, so a rename (same ID, new filename) gets rewired onto
// the replacement model.
type wiredHandler struct {
	uri    string
	cancel func()
}

func NewSessionManager(cfg *config.Config, fetcher importer.Fetcher, backend session.SaveBackend) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*hostedSession),
		cfg:      cfg,
		fetcher:  fetcher,
		backend:  backend,
	}
}

// OpenSession creates a session for the app ID, replacing any existing
// one, and loads the given scripts into it.
func (sm *SessionManager) OpenSession(appID string, scripts []session.Script) (*hostedSession, error) {
	surf := surface.NewMemorySurface()

	var store livestore.Store
	var collab *livestore.CollabStore
	if sm.cfg.Live.Mode == config.LiveModeCollab {
		collab = livestore.NewCollabStore()
		store = collab
	} else {
		store = livestore.NewMemoryStore()
	}

	resolver := importer.NewResolver(surf, sm.fetcher, logger.Default(), sm.cfg.Session.MaxImportRetries)

	engine, err := session.New(session.Options{
		SessionID:       appID,
		Store:           store,
		Surface:         surf,
		Resolver:        resolver,
		Backend:         sm.backend,
		Logger:          logger.Default(),
		Debounce:        time.Duration(sm.cfg.Session.DebounceMillis) * time.Millisecond,
		GlobalTypesPath: sm.cfg.Session.GlobalTypesPath,
	})
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", appID, err)
	}

	hs := &hostedSession{
		ID:       appID,
		Created:  time.Now(),
		LastSeen: time.Now(),
		engine:   engine,
		surf:     surf,
		store:    store,
		collab:   collab,
		wired:    make(map[string]wiredHandler),
	}
	hs.setScripts(scripts)

	sm.mu.Lock()
	if old, exists := sm.sessions[appID]; exists {
		old.close()
	}
	sm.sessions[appID] = hs
	sm.mu.Unlock()

	return hs, nil
}

func (sm *SessionManager) GetSession(appID string) (*hostedSession, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	hs, exists := sm.sessions[appID]
	if exists {
		hs.LastSeen = time.Now()
	}
	return hs, exists
}

// UpdateScripts reconciles an existing session against a new script
// list. It reports whether the session exists.
func (sm *SessionManager) UpdateScripts(appID string, scripts []session.Script) bool {
	hs, ok := sm.GetSession(appID)
	if !ok {
		return false
	}
	hs.setScripts(scripts)
	return true
}

func (sm *SessionManager) RemoveSession(appID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if hs, exists := sm.sessions[appID]; exists {
		hs.close()
		delete(sm.sessions, appID)
	}
}

// List returns a stable snapshot of session metadata.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	infos := make([]SessionInfo, 0, len(sm.sessions))
	for _, hs := range sm.sessions {
		infos = append(infos, SessionInfo{
			ID:       hs.ID,
			Created:  hs.Created,
			LastSeen: hs.LastSeen,
			Scripts:  len(hs.engine.Snapshot().Scripts),
		})
	}
	return infos
}

type SessionInfo struct {
	ID       string    `json:"id"`
	Created  time.Time `json:"created"`
	LastSeen time.Time `json:"last_seen"`
	Scripts  int       `json:"scripts"`
}

// CleanupSessions closes sessions idle for longer than timeout.
func (sm *SessionManager) CleanupSessions(timeout time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	now := time.Now()
	for appID, hs := range sm.sessions {
		if now.Sub(hs.LastSeen) > timeout {
			logger.Info("Closing idle session", "app_id", appID, "idle", now.Sub(hs.LastSeen).String())
			hs.close()
			delete(sm.sessions, appID)
		}
	}
}

// setScripts reconciles the engine against a new script list and keeps
// the surface change handlers wired to the engine. The snapshot call in
// the middle is a barrier: models exist once it returns.
func (hs *hostedSession) setScripts(scripts []session.Script) {
	hs.engine.OnScriptsChanged(scripts)
	hs.engine.Snapshot()

	hs.wiredMu.Lock()
	defer hs.wiredMu.Unlock()
	keep := make(map[string]bool, len(scripts))
	for _, sc := range scripts {
		keep[sc.ID] = true
		uri := sc.URI()
		if prev, ok := hs.wired[sc.ID]; ok {
			if prev.uri == uri {
				continue
			}
			// Renamed: the old handler is attached to a disposed model.
			prev.cancel()
		}
		scriptID := sc.ID
		cancel := hs.surf.OnDidChangeContent(uri, func(_, text string, revision int64) {
			hs.engine.OnTextChanged(scriptID, text, revision)
		})
		hs.wired[sc.ID] = wiredHandler{uri: uri, cancel: cancel}
	}
	for id, wh := range hs.wired {
		if !keep[id] {
			wh.cancel()
			delete(hs.wired, id)
		}
	}
}

func (hs *hostedSession) close() {
	hs.wiredMu.Lock()
	defer hs.wiredMu.Unlock()
	for _, wh := range hs.wired {
		wh.cancel()
	}
	hs.wired = make(map[string]wiredHandler)
	hs.engine.Close()
}
