package settings_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tim-Conrad/audio-player/log"
	"github.com/Tim-Conrad/audio-player/settings"
)

func TestFileStore(t *testing.T) {
	t.Parallel()

	logger := log.NewPacked(io.Discard)

	t.Run("missing_file_yields_defaults", func(t *testing.T) {
		t.Parallel()
		store := settings.NewFileStore(filepath.Join(t.TempDir(), "settings.json"), logger)
		assert.Equal(t, settings.Defaults(), store.Get())
	})

	t.Run("round_trip", func(t *testing.T) {
		t.Parallel()
		store := settings.NewFileStore(filepath.Join(t.TempDir(), "settings.json"), logger)
		in := settings.Settings{
			RootPath:            "/music/",
			Autoplay:            true,
			CurrentPlaylistPath: "/music/x/",
			Last: &settings.Last{
				PlaylistPath: "/music/x/",
				Index:        2,
				TrackURL:     "http://localhost:8000/music/x/track2.mp3",
				Time:         42.5,
			},
			Sleep: &settings.Sleep{Target: 0, LastMinutes: 30},
		}
		require.NoError(t, store.Put(in))
		assert.Equal(t, in, store.Get())
	})

	t.Run("corrupt_file_salvages_fields", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "settings.json")
		// Trailing garbage defeats strict unmarshalling but leaves the
		// document readable for field-level salvage.
		raw := `{"rootPath":"/tunes/","autoplay":true,"last":{"playlistPath":"/tunes/a/","index":1,"trackUrl":"/tunes/a/b.mp3","time":7}} trailing`
		require.NoError(t, os.WriteFile(path, []byte(raw), 0o0644))

		store := settings.NewFileStore(path, logger)
		got := store.Get()
		assert.Equal(t, "/tunes/", got.RootPath)
		assert.True(t, got.Autoplay)
		require.NotNil(t, got.Last)
		assert.Equal(t, "/tunes/a/", got.Last.PlaylistPath)
		assert.Equal(t, 1, got.Last.Index)
		assert.InDelta(t, 7.0, got.Last.Time, 0.001)
	})

	t.Run("reset_restores_defaults", func(t *testing.T) {
		t.Parallel()
		store := settings.NewFileStore(filepath.Join(t.TempDir(), "settings.json"), logger)
		s := settings.Defaults()
		s.Autoplay = true
		s.Last = &settings.Last{PlaylistPath: "/music/x/", Index: 1, TrackURL: "/music/x/b.mp3", Time: 3}
		require.NoError(t, store.Put(s))

		require.NoError(t, store.Reset())
		assert.Equal(t, settings.Defaults(), store.Get())
	})

	t.Run("unreadable_document_yields_defaults", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "settings.json")
		require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o0644))
		store := settings.NewFileStore(path, logger)
		assert.Equal(t, settings.Defaults(), store.Get())
	})
}

func TestMemStore(t *testing.T) {
	t.Parallel()

	store := settings.NewMemStore()
	assert.Equal(t, settings.Defaults(), store.Get())

	s := store.Get()
	s.Autoplay = true
	require.NoError(t, store.Put(s))
	assert.True(t, store.Get().Autoplay)

	require.NoError(t, store.Reset())
	assert.Equal(t, settings.Defaults(), store.Get())
}
