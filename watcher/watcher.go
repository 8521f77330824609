// Package watcher bridges a local workspace directory into an editing
// session for development setups: TypeScript files on disk become the
// session's script list, and filesystem changes re-trigger
// reconciliation.
package watcher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scriptpad-dev/scriptpad-go/session"
)

const defaultDebounce = 200 * time.Millisecond

// ScriptSink receives the reconciled script list; *session.Session
// satisfies it.
type ScriptSink interface {
	OnScriptsChanged(scripts []session.Script)
}

type Watcher struct {
	dir      string
	sink     ScriptSink
	log      *slog.Logger
	debounce time.Duration

	fsw *fsnotify.Watcher
}

func New(dir string, sink ScriptSink, log *slog.Logger, debounce time.Duration) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", dir)
	}
	if log == nil {
		log = slog.Default()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{dir: dir, sink: sink, log: log, debounce: debounce, fsw: fsw}, nil
}

// Run loads the initial script list, then forwards debounced filesystem
// changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.publish()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !isScriptFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug("workspace change", "file", filepath.Base(event.Name), "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timer = nil
			timerC = nil
			w.publish()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("workspace watcher error", "err", err)
		}
	}
}

func (w *Watcher) publish() {
	scripts, err := LoadScripts(w.dir)
	if err != nil {
		w.log.Error("failed to load workspace scripts", "dir", w.dir, "err", err)
		return
	}
	w.log.Info("workspace reconciled", "dir", w.dir, "scripts", len(scripts))
	w.sink.OnScriptsChanged(scripts)
}

// LoadScripts reads the top-level TypeScript files of dir into a script
// list, sorted by filename. Script IDs are stable across rescans so a
// rewrite of the same file does not count as remove-plus-add.
func LoadScripts(dir string) ([]session.Script, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var scripts []session.Script
	for _, entry := range entries {
		if entry.IsDir() || !isScriptFile(entry.Name()) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, session.Script{
			ID:         scriptID(entry.Name()),
			Filename:   entry.Name(),
			Code:       string(raw),
			IsRunnable: entry.Name() == "main.ts",
		})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Filename < scripts[j].Filename })
	return scripts, nil
}

func isScriptFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, ".ts") || strings.HasSuffix(base, ".tsx")
}

func scriptID(filename string) string {
	sum := sha1.Sum([]byte(filename))
	return "fs_" + hex.EncodeToString(sum[:8])
}
