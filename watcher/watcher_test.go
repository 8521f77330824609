package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scriptpad-dev/scriptpad-go/session"
)

type captureSink struct {
	mu    sync.Mutex
	lists [][]session.Script
}

func (c *captureSink) OnScriptsChanged(scripts []session.Script) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = append(c.lists, scripts)
}

func (c *captureSink) last() ([]session.Script, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lists) == 0 {
		return nil, false
	}
	return c.lists[len(c.lists)-1], true
}

func writeFile(t *testing.T, dir, name, code string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(code), 0o644))
}

func TestLoadScriptsSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "util.ts", "export const n = 1;\n")
	writeFile(t, dir, "main.ts", "export default () => 1;\n")
	writeFile(t, dir, "notes.md", "ignored")
	writeFile(t, dir, ".hidden.ts", "ignored")

	scripts, err := LoadScripts(dir)
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	require.Equal(t, "main.ts", scripts[0].Filename)
	require.Equal(t, "util.ts", scripts[1].Filename)
	require.True(t, scripts[0].IsRunnable)
	require.False(t, scripts[1].IsRunnable)
}

func TestScriptIDsStableAcrossRescans(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.ts", "export default () => 1;\n")

	first, err := LoadScripts(dir)
	require.NoError(t, err)

	writeFile(t, dir, "main.ts", "export default () => 2;\n")
	second, err := LoadScripts(dir)
	require.NoError(t, err)

	require.Equal(t, first[0].ID, second[0].ID)
	require.NotEqual(t, first[0].Code, second[0].Code)
}

func TestWatcherPublishesInitialAndChangedLists(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.ts", "export default () => 1;\n")

	sink := &captureSink{}
	w, err := New(dir, sink, nil, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		list, ok := sink.last()
		return ok && len(list) == 1
	}, time.Second, 5*time.Millisecond)

	writeFile(t, dir, "helper.ts", "export const h = 1;\n")
	require.Eventually(t, func() bool {
		list, _ := sink.last()
		return len(list) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestNewRejectsMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), &captureSink{}, nil, 0)
	require.Error(t, err)
}
