package playlist

import (
	"github.com/Tim-Conrad/audio-player/listing"
)

// Playlist is one folder's worth of playable tracks. It is built once
// per folder load and replaced wholesale, never mutated in place. Path
// is the normalized origin-relative folder path and doubles as the
// identity used for cross-session restore.
type Playlist struct {
	Path     string
	CoverURL string
	Tracks   []listing.Track
	Folders  []listing.Folder
}

func newPlaylist(path string, res *listing.Result) *Playlist {
	return &Playlist{
		Path:     path,
		CoverURL: res.CoverURL,
		Tracks:   res.Tracks,
		Folders:  res.Folders,
	}
}

func clampIndex(i int, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
