package listing_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tim-Conrad/audio-player/listing"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParse(t *testing.T) {
	t.Parallel()

	base := mustParseURL(t, "http://localhost:8000/music/album/")

	t.Run("tracks_follow_document_order", func(t *testing.T) {
		t.Parallel()
		doc := `<html><body>
			<a href="../">Parent</a>
			<a href="a.mp3">a</a>
			<a href="b/">b</a>
			<a href="c.mp3">c</a>
		</body></html>`
		res, err := listing.Parse(base, strings.NewReader(doc))
		require.NoError(t, err)
		require.Len(t, res.Tracks, 2)
		assert.Equal(t, "a.mp3", res.Tracks[0].Name)
		assert.Equal(t, "c.mp3", res.Tracks[1].Name)
		assert.Equal(t, "http://localhost:8000/music/album/a.mp3", res.Tracks[0].URL)
		require.Len(t, res.Folders, 1)
		assert.Equal(t, "b", res.Folders[0].Name)
		assert.Equal(t, "http://localhost:8000/music/album/b/", res.Folders[0].URL)
	})

	t.Run("parent_marker_is_not_a_folder", func(t *testing.T) {
		t.Parallel()
		doc := `<a href="../">up</a><a href="sub/">sub</a>`
		res, err := listing.Parse(base, strings.NewReader(doc))
		require.NoError(t, err)
		require.Len(t, res.Folders, 1)
		assert.Equal(t, "sub", res.Folders[0].Name)
	})

	t.Run("mp3_match_is_case_insensitive", func(t *testing.T) {
		t.Parallel()
		doc := `<a href="LOUD.MP3">x</a><a href="quiet.Mp3">y</a>`
		res, err := listing.Parse(base, strings.NewReader(doc))
		require.NoError(t, err)
		assert.Len(t, res.Tracks, 2)
	})

	t.Run("cover_first_candidate_in_document_order_wins", func(t *testing.T) {
		t.Parallel()
		doc := `<a href="Folder.png">c1</a><a href="folder.jpg">c2</a>`
		res, err := listing.Parse(base, strings.NewReader(doc))
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8000/music/album/Folder.png", res.CoverURL)
	})

	t.Run("cover_match_is_case_sensitive", func(t *testing.T) {
		t.Parallel()
		doc := `<a href="FOLDER.JPG">shout</a>`
		res, err := listing.Parse(base, strings.NewReader(doc))
		require.NoError(t, err)
		assert.Empty(t, res.CoverURL)
	})

	t.Run("no_cover_yields_empty", func(t *testing.T) {
		t.Parallel()
		doc := `<a href="a.mp3">a</a>`
		res, err := listing.Parse(base, strings.NewReader(doc))
		require.NoError(t, err)
		assert.Empty(t, res.CoverURL)
	})

	t.Run("track_names_are_percent_decoded", func(t *testing.T) {
		t.Parallel()
		doc := `<a href="My%20Song.mp3">song</a>`
		res, err := listing.Parse(base, strings.NewReader(doc))
		require.NoError(t, err)
		require.Len(t, res.Tracks, 1)
		assert.Equal(t, "My Song.mp3", res.Tracks[0].Name)
	})

	t.Run("malformed_href_is_skipped", func(t *testing.T) {
		t.Parallel()
		doc := `<a href="http://bad host/x.mp3">bad</a><a href="ok.mp3">ok</a>`
		res, err := listing.Parse(base, strings.NewReader(doc))
		require.NoError(t, err)
		require.Len(t, res.Tracks, 1)
		assert.Equal(t, "ok.mp3", res.Tracks[0].Name)
	})

	t.Run("anchors_without_href_are_ignored", func(t *testing.T) {
		t.Parallel()
		doc := `<a name="top">anchor</a><a href="a.mp3">a</a>`
		res, err := listing.Parse(base, strings.NewReader(doc))
		require.NoError(t, err)
		assert.Len(t, res.Tracks, 1)
	})
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	origin := mustParseURL(t, "http://localhost:8000")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: "/"},
		{name: "relative", input: "music/x", want: "/music/x/"},
		{name: "absolute_path", input: "/music/x/", want: "/music/x/"},
		{name: "full_url", input: "http://localhost:8000/music/x", want: "/music/x/"},
		{name: "query_and_fragment_stripped", input: "/music/x/?v=1#frag", want: "/music/x/"},
		{name: "encoded_segment_preserved", input: "/music/My%20Album", want: "/music/My%20Album/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := listing.NormalizePath(origin, tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, listing.NormalizePath(origin, got), "normalization must be idempotent")
			assert.True(t, strings.HasSuffix(got, "/"))
		})
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "track.mp3", listing.FileName("/music/x/track.mp3"))
	assert.Equal(t, "My Song.mp3", listing.FileName("/music/My%20Song.mp3"))
	assert.Equal(t, "x", listing.FileName("/music/x/"))
	assert.Equal(t, "", listing.FileName("/"))
}
