package bundle

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientFetchDecodesBundle(t *testing.T) {
	t.Parallel()

	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("x")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"/left-pad/index.d.ts": "declare function leftPad(s: string, n: number): string;"}`))
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, time.Second, 8, newTestLogger())
	require.NoError(t, err)

	files, err := c.Fetch(context.Background(), "https://esm.sh/left-pad")
	require.NoError(t, err)
	assert.Equal(t, "https://esm.sh/left-pad", gotQuery)
	assert.Len(t, files, 1)
	assert.Contains(t, files, "/left-pad/index.d.ts")
}

func TestClientFetchCachesByURL(t *testing.T) {
	t.Parallel()

	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"/a.ts": "export {}"}`))
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, time.Second, 8, newTestLogger())
	require.NoError(t, err)

	first, err := c.Fetch(context.Background(), "https://esm.sh/a")
	require.NoError(t, err)
	second, err := c.Fetch(context.Background(), "https://esm.sh/a")
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second fetch must come from cache")
	assert.Equal(t, first, second)

	// Cached maps are copies; mutating one does not poison the cache.
	first["/a.ts"] = "mutated"
	third, err := c.Fetch(context.Background(), "https://esm.sh/a")
	require.NoError(t, err)
	assert.Equal(t, "export {}", third["/a.ts"])
}

func TestClientFetchErrors(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("x") {
		case "https://esm.sh/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, time.Second, 8, newTestLogger())
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "https://esm.sh/broken")
	assert.ErrorContains(t, err, "502")

	_, err = c.Fetch(context.Background(), "https://esm.sh/garbled")
	assert.ErrorContains(t, err, "decode")
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient("", time.Second, 8, newTestLogger())
	assert.Error(t, err)
}
