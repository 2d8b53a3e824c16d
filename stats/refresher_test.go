package stats_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tim-Conrad/audio-player/config"
	"github.com/Tim-Conrad/audio-player/log"
	"github.com/Tim-Conrad/audio-player/settings"
	"github.com/Tim-Conrad/audio-player/stats"
)

func listingDoc(hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><a href="../">..</a>`)
	for _, href := range hrefs {
		fmt.Fprintf(&b, `<a href=%q>%s</a>`, href, href)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type countingHandler struct {
	mux     sync.Mutex
	hits    map[string]int
	folders map[string]string
}

func newCountingHandler(folders map[string]string) *countingHandler {
	return &countingHandler{hits: make(map[string]int), folders: folders}
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.Lock()
	h.hits[r.URL.Path]++
	doc, ok := h.folders[r.URL.Path]
	h.mux.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = io.WriteString(w, doc)
}

func (h *countingHandler) hitCount(path string) int {
	h.mux.Lock()
	defer h.mux.Unlock()
	return h.hits[path]
}

func newRefresher(t *testing.T, handler http.Handler) (*stats.Refresher, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg, err := config.FromString("origin: " + srv.URL + "\n")
	require.NoError(t, err)
	logger := log.NewPacked(io.Discard)
	return stats.NewRefresher(cfg, srv.Client(), settings.NewMemStatsStore(), logger), srv.URL
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	t.Run("grid_order_and_exclusions", func(t *testing.T) {
		t.Parallel()
		handler := newCountingHandler(map[string]string{
			"/music/": listingDoc(
				"root.mp3",
				"rock/",
				"System%20Volume%20Information/",
				"empty/",
				"jazz/",
			),
			"/music/rock/":  listingDoc("a.mp3", "b.mp3"),
			"/music/empty/": listingDoc("sub/"),
			"/music/jazz/":  listingDoc("Folder.jpg", "c.mp3"),
		})
		r, origin := newRefresher(t, handler)

		entries, err := r.Snapshot(context.Background(), "/music/", false)
		require.NoError(t, err)

		require.Len(t, entries, 3)
		assert.Equal(t, "/music/", entries[0].Path)
		assert.Equal(t, 1, entries[0].Count)
		assert.Equal(t, "/music/rock/", entries[1].Path)
		assert.Equal(t, "rock", entries[1].Name)
		assert.Equal(t, 2, entries[1].Count)
		assert.Equal(t, "/music/jazz/", entries[2].Path)
		assert.Equal(t, 1, entries[2].Count)
		assert.Equal(t, origin+"/music/jazz/Folder.jpg", entries[2].CoverURL)

		assert.Equal(t, 0, handler.hitCount("/music/System Volume Information/"),
			"excluded folders must never be fetched")
	})

	t.Run("fresh_entries_are_served_from_cache", func(t *testing.T) {
		t.Parallel()
		handler := newCountingHandler(map[string]string{
			"/music/":      listingDoc("rock/"),
			"/music/rock/": listingDoc("a.mp3"),
		})
		r, _ := newRefresher(t, handler)

		_, err := r.Snapshot(context.Background(), "/music/", false)
		require.NoError(t, err)
		_, err = r.Snapshot(context.Background(), "/music/", false)
		require.NoError(t, err)

		// The root listing is always fetched to discover folders, the
		// fresh folder stat is not.
		assert.Equal(t, 2, handler.hitCount("/music/"))
		assert.Equal(t, 1, handler.hitCount("/music/rock/"))
	})

	t.Run("force_refetches_fresh_entries", func(t *testing.T) {
		t.Parallel()
		handler := newCountingHandler(map[string]string{
			"/music/":      listingDoc("rock/"),
			"/music/rock/": listingDoc("a.mp3"),
		})
		r, _ := newRefresher(t, handler)

		_, err := r.Snapshot(context.Background(), "/music/", false)
		require.NoError(t, err)
		_, err = r.Snapshot(context.Background(), "/music/", true)
		require.NoError(t, err)
		assert.Equal(t, 2, handler.hitCount("/music/rock/"))
	})

	t.Run("unreachable_folder_counts_as_empty", func(t *testing.T) {
		t.Parallel()
		handler := newCountingHandler(map[string]string{
			"/music/":      listingDoc("rock/", "broken/"),
			"/music/rock/": listingDoc("a.mp3"),
		})
		r, _ := newRefresher(t, handler)

		entries, err := r.Snapshot(context.Background(), "/music/", false)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "/music/rock/", entries[0].Path)
	})

	t.Run("unreachable_root_fails", func(t *testing.T) {
		t.Parallel()
		r, _ := newRefresher(t, http.NotFoundHandler())
		_, err := r.Snapshot(context.Background(), "/music/", false)
		assert.Error(t, err)
	})
}
