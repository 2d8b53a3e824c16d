package fetchcache_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tim-Conrad/audio-player/config"
	"github.com/Tim-Conrad/audio-player/fetchcache"
	"github.com/Tim-Conrad/audio-player/log"
)

func newTestRouter(t *testing.T, origin string) *fetchcache.Router {
	t.Helper()
	cfg, err := config.FromString("origin: " + origin + "\n")
	require.NoError(t, err)
	return fetchcache.NewRouter(cfg, fetchcache.NewPartitionStore(), nil, log.NewPacked(io.Discard))
}

func doGet(t *testing.T, r *fetchcache.Router, rawURL string, headers map[string]string) (*http.Response, string, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := r.RoundTrip(req)
	if nil != err {
		return nil, "", err
	}
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	return res, string(body), nil
}

var listingHeaders = map[string]string{"Accept": "text/html"}

func TestListingStaleWhileRevalidate(t *testing.T) {
	t.Parallel()

	var body atomic.Value
	body.Store("v1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body.Load().(string))
	}))
	defer srv.Close()

	router := newTestRouter(t, srv.URL)
	listingURL := srv.URL + "/music/album/"

	res, got, err := doGet(t, router, listingURL, listingHeaders)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "v1", got)

	body.Store("v2")

	// Cached copy is served immediately, refresh happens behind it.
	_, got, err = doGet(t, router, listingURL, listingHeaders)
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	router.WaitRevalidations()

	_, got, err = doGet(t, router, listingURL, listingHeaders)
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
	router.WaitRevalidations()
}

func TestListingServedFromCacheWhenNetworkDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "listing")
	}))

	router := newTestRouter(t, srv.URL)
	listingURL := srv.URL + "/music/album/"

	_, got, err := doGet(t, router, listingURL, listingHeaders)
	require.NoError(t, err)
	assert.Equal(t, "listing", got)

	srv.Close()

	_, got, err = doGet(t, router, listingURL, listingHeaders)
	require.NoError(t, err)
	assert.Equal(t, "listing", got)
	router.WaitRevalidations()
}

func TestNavigationFallsBackToCachedShell(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "shell")
	}))

	router := newTestRouter(t, srv.URL)
	navHeaders := map[string]string{"Sec-Fetch-Mode": "navigate"}

	_, got, err := doGet(t, router, srv.URL+"/", navHeaders)
	require.NoError(t, err)
	assert.Equal(t, "shell", got)

	srv.Close()

	_, got, err = doGet(t, router, srv.URL+"/music/album/", navHeaders)
	require.NoError(t, err)
	assert.Equal(t, "shell", got)
}

func TestNavigationWithoutAnyCacheFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	origin := srv.URL
	srv.Close()

	router := newTestRouter(t, origin)
	_, _, err := doGet(t, router, origin+"/", map[string]string{"Sec-Fetch-Mode": "navigate"})
	assert.Error(t, err)
}

func TestStaticAssetIsCacheFirst(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "body{}")
	}))

	router := newTestRouter(t, srv.URL)

	_, got, err := doGet(t, router, srv.URL+"/styles.css", nil)
	require.NoError(t, err)
	assert.Equal(t, "body{}", got)
	assert.Equal(t, int32(1), hits.Load())

	srv.Close()

	_, got, err = doGet(t, router, srv.URL+"/styles.css", nil)
	require.NoError(t, err)
	assert.Equal(t, "body{}", got)
	assert.Equal(t, int32(1), hits.Load())
}

func TestAudioIsNeverCached(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "ID3")
	}))

	router := newTestRouter(t, srv.URL)
	audioURL := srv.URL + "/music/album/track.mp3"

	for range 2 {
		_, got, err := doGet(t, router, audioURL, nil)
		require.NoError(t, err)
		assert.Equal(t, "ID3", got)
	}
	assert.Equal(t, int32(2), hits.Load())

	srv.Close()
	_, _, err := doGet(t, router, audioURL, nil)
	assert.Error(t, err)
}

func TestCrossOriginPassesThrough(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.NotFoundHandler())
	defer origin.Close()
	var hits atomic.Int32
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "elsewhere")
	}))
	defer other.Close()

	router := newTestRouter(t, origin.URL)

	for range 2 {
		_, got, err := doGet(t, router, other.URL+"/anything.css", nil)
		require.NoError(t, err)
		assert.Equal(t, "elsewhere", got)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestInstallIsAtomic(t *testing.T) {
	t.Parallel()

	t.Run("one_failed_asset_fails_the_whole_install", func(t *testing.T) {
		t.Parallel()
		local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/app.js" {
				http.NotFound(w, r)
				return
			}
			_, _ = io.WriteString(w, "content of "+r.URL.Path)
		}))
		router := newTestRouter(t, local.URL)
		err := router.Install(context.Background(), []string{"/index.html", "/app.js"})
		require.Error(t, err)

		local.Close()

		// The shell document fetched fine during install but must not
		// have been committed alongside the failed asset.
		_, _, err = doGet(t, router, local.URL+"/index.html", nil)
		assert.Error(t, err)
	})

	t.Run("successful_install_serves_shell_offline", func(t *testing.T) {
		t.Parallel()
		local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "asset "+r.URL.Path)
		}))
		router := newTestRouter(t, local.URL)
		require.NoError(t, router.Install(context.Background(), []string{"/index.html", "/styles.css"}))

		local.Close()

		_, got, err := doGet(t, router, local.URL+"/styles.css", nil)
		require.NoError(t, err)
		assert.Equal(t, "asset /styles.css", got)

		_, got, err = doGet(t, router, local.URL+"/", map[string]string{"Sec-Fetch-Mode": "navigate"})
		require.NoError(t, err)
		assert.Equal(t, "asset /index.html", got)
	})
}

func TestActivateDropsStalePartitions(t *testing.T) {
	t.Parallel()

	store := fetchcache.NewPartitionStore()
	store.Open("audioplayer-static-v2")
	store.Open("audioplayer-data-v2")
	store.Open("unrelated")

	cfg, err := config.FromString("origin: http://localhost:8000\n")
	require.NoError(t, err)
	router := fetchcache.NewRouter(cfg, store, nil, log.NewPacked(io.Discard))

	dropped := router.Activate()
	assert.ElementsMatch(t, []string{"audioplayer-static-v2", "audioplayer-data-v2", "unrelated"}, dropped)
	assert.ElementsMatch(t, []string{"audioplayer-static-v3", "audioplayer-data-v3"}, store.Names())

	assert.Empty(t, router.Activate())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, "http://localhost:8000")

	tests := []struct {
		name    string
		url     string
		headers map[string]string
		want    fetchcache.Class
	}{
		{name: "cross_origin", url: "http://example.com/music/a/", headers: listingHeaders, want: fetchcache.ClassCrossOrigin},
		{name: "navigation", url: "http://localhost:8000/music/a/", headers: map[string]string{"Sec-Fetch-Mode": "navigate"}, want: fetchcache.ClassNavigation},
		{name: "listing", url: "http://localhost:8000/music/a/", headers: listingHeaders, want: fetchcache.ClassListing},
		{name: "listing_requires_root_prefix", url: "http://localhost:8000/other/a/", headers: listingHeaders, want: fetchcache.ClassDefault},
		{name: "static_by_extension", url: "http://localhost:8000/styles.css", headers: nil, want: fetchcache.ClassStatic},
		{name: "static_by_destination", url: "http://localhost:8000/dynamic-style", headers: map[string]string{"Sec-Fetch-Dest": "style"}, want: fetchcache.ClassStatic},
		{name: "audio_by_extension", url: "http://localhost:8000/music/a/track.MP3", headers: nil, want: fetchcache.ClassAudio},
		{name: "audio_by_destination", url: "http://localhost:8000/music/a/stream", headers: map[string]string{"Sec-Fetch-Dest": "audio"}, want: fetchcache.ClassAudio},
		{name: "default", url: "http://localhost:8000/api/stats", headers: nil, want: fetchcache.ClassDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tt.url, nil)
			require.NoError(t, err)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, router.Classify(req))
		})
	}
}
