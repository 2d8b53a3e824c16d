package playlist

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Tim-Conrad/audio-player/config"
	"github.com/Tim-Conrad/audio-player/httputil"
	"github.com/Tim-Conrad/audio-player/listing"
	"github.com/Tim-Conrad/audio-player/player"
	"github.com/Tim-Conrad/audio-player/settings"
)

// Code classifies the outcome of a folder load.
type Code int

const (
	// CodeLoaded means a fresh playlist is in place.
	CodeLoaded Code = iota
	// CodeRestored means the playlist is in place and playback was
	// repositioned to the persisted track, paused.
	CodeRestored
	// CodeEmpty means the folder listing had no tracks. The playlist is
	// cleared, playback is left untouched.
	CodeEmpty
	// CodeFetchFailed means the listing could not be fetched or parsed
	// and the previous playlist is still current.
	CodeFetchFailed
	// CodeSuperseded means a newer load finished first and this result
	// was discarded.
	CodeSuperseded
)

func (c Code) String() string {
	switch c {
	case CodeLoaded:
		return "loaded"
	case CodeRestored:
		return "restored"
	case CodeEmpty:
		return "empty"
	case CodeFetchFailed:
		return "fetch_failed"
	case CodeSuperseded:
		return "superseded"
	default:
		panic(fmt.Sprintf("unknown load outcome code %d", int(c)))
	}
}

// LoadOutcome is the typed result of LoadFromFolder. Message is ready
// for the status line, Err carries diagnostics for the log.
type LoadOutcome struct {
	Code       Code
	TrackCount int
	Message    string
	Err        error
}

// Resolver turns folder paths into playlists and drives track
// navigation. All playlist state lives here, guarded by one mutex. A
// generation counter makes overlapping loads safe: only the newest
// call's completion is allowed to replace the playlist.
type Resolver struct {
	origin    *url.URL
	client    *http.Client
	store     settings.Store
	player    *player.Player
	persister *player.Persister
	randInt   func(n int) int
	gen       atomic.Uint64
	mux       sync.Mutex
	current   *Playlist
	index     int
	shuffle   bool
	loop      bool
	logger    zerolog.Logger
}

func NewResolver(
	cfg *config.Config,
	client *http.Client,
	store settings.Store,
	pl *player.Player,
	persister *player.Persister,
	logger zerolog.Logger,
) *Resolver {
	r := &Resolver{
		origin:    cfg.OriginURL(),
		client:    client,
		store:     store,
		player:    pl,
		persister: persister,
		randInt:   rand.IntN,
		gen:       atomic.Uint64{},
		mux:       sync.Mutex{},
		current:   nil,
		index:     -1,
		shuffle:   false,
		loop:      false,
		logger:    logger.With().Str("module", "playlist").Logger(),
	}
	pl.OnStateChange(func(_, next player.State, _ player.Snapshot) {
		if next == player.StateEnded {
			if err := r.PlayNext(context.Background()); nil != err {
				r.logger.Warn().Err(err).Msg("Failed to advance after track ended")
			}
		}
	})
	return r
}

// LoadFromFolder fetches the folder listing, replaces the playlist, and
// resumes the persisted track when the folder matches the one playback
// last stopped in. The restored track is seeked, not played. Without a
// restore playback starts at the first track, honoring the autoplay
// setting.
func (r *Resolver) LoadFromFolder(ctx context.Context, pathOrURL string) LoadOutcome {
	gen := r.gen.Add(1)

	folderURL, err := listing.ResolveFolderURL(r.origin, pathOrURL)
	if nil != err {
		return LoadOutcome{Code: CodeFetchFailed, TrackCount: 0, Message: "Failed to load folder.", Err: err}
	}

	parsed, err := r.fetchListing(ctx, folderURL)
	if nil != err {
		msg := "Failed to load folder listing."
		if folderURL.Host != r.origin.Host {
			msg += " The folder is on a different origin, which must allow cross-origin requests."
		}
		return LoadOutcome{Code: CodeFetchFailed, TrackCount: 0, Message: msg, Err: err}
	}

	path := listing.NormalizePath(r.origin, folderURL.String())
	pl := newPlaylist(path, parsed)

	r.mux.Lock()
	if r.gen.Load() != gen {
		r.mux.Unlock()
		r.logger.Debug().Str("path", path).Msg("Discarding superseded folder load")
		return LoadOutcome{Code: CodeSuperseded, TrackCount: 0, Message: "", Err: nil}
	}
	r.current = pl
	r.index = -1

	s := r.store.Get()
	s.CurrentPlaylistPath = path
	if err := r.store.Put(s); nil != err {
		r.logger.Warn().Err(err).Msg("Failed to persist current playlist path")
	}

	if len(pl.Tracks) == 0 {
		r.mux.Unlock()
		return LoadOutcome{Code: CodeEmpty, TrackCount: 0, Message: "Folder has no tracks.", Err: nil}
	}

	if last := s.Last; last != nil && last.PlaylistPath == path {
		idx := r.restoreIndex(pl, last)
		track := pl.Tracks[idx]
		r.index = idx
		r.mux.Unlock()

		r.persister.SetTrack(path, idx, track.URL, last.Time)
		if err := r.player.Load(ctx, track.URL, last.Time, false); nil != err {
			r.logger.Warn().Err(err).Str("url", track.URL).Msg("Failed to reposition restored track")
		}
		return LoadOutcome{
			Code:       CodeRestored,
			TrackCount: len(pl.Tracks),
			Message:    fmt.Sprintf("Resumed %q at %s.", track.Name, formatSeconds(last.Time)),
			Err:        nil,
		}
	}

	autoplay := s.Autoplay
	r.mux.Unlock()

	if err := r.loadIndex(ctx, 0, autoplay); nil != err {
		r.logger.Warn().Err(err).Msg("Failed to load the first track")
	}
	return LoadOutcome{
		Code:       CodeLoaded,
		TrackCount: len(pl.Tracks),
		Message:    fmt.Sprintf("Loaded %d tracks.", len(pl.Tracks)),
		Err:        nil,
	}
}

func (r *Resolver) fetchListing(ctx context.Context, folderURL *url.URL) (*listing.Result, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, config.ListingFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, folderURL.String(), nil)
	if nil != err {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")

	res, err := r.client.Do(req)
	if nil != err {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()
	if !httputil.IsSuccess(res) {
		return nil, fmt.Errorf("unexpected folder listing response status: %s", res.Status)
	}
	return listing.Parse(folderURL, res.Body)
}

// restoreIndex finds the track to resume. An exact URL path match wins,
// then a decoded file name match, then the persisted index clamped into
// range.
func (r *Resolver) restoreIndex(pl *Playlist, last *settings.Last) int {
	lastPath := listing.PathComponent(r.origin, last.TrackURL)
	if lastPath != "" {
		for i, track := range pl.Tracks {
			if listing.PathComponent(r.origin, track.URL) == lastPath {
				return i
			}
		}
	}
	lastName := listing.FileName(last.TrackURL)
	if lastName != "" {
		for i, track := range pl.Tracks {
			if track.Name == lastName {
				return i
			}
		}
	}
	return clampIndex(last.Index, len(pl.Tracks))
}

// PlayIndex starts playback of the i-th track, clamped into range. A
// missing or empty playlist is a no-op.
func (r *Resolver) PlayIndex(ctx context.Context, i int) error {
	return r.loadIndex(ctx, i, true)
}

// loadIndex points playback at the i-th track, clamped into range, and
// persists the new position. Without autoplay the track is loaded
// paused.
func (r *Resolver) loadIndex(ctx context.Context, i int, autoplay bool) error {
	r.mux.Lock()
	pl := r.current
	if pl == nil || len(pl.Tracks) == 0 {
		r.mux.Unlock()
		return nil
	}
	i = clampIndex(i, len(pl.Tracks))
	r.index = i
	track := pl.Tracks[i]
	path := pl.Path
	r.mux.Unlock()

	r.persister.SetTrack(path, i, track.URL, 0)
	return r.player.Load(ctx, track.URL, 0, autoplay)
}

// PlayNext advances playback. Shuffle picks a uniformly random track
// different from the current one. At the end of the playlist loop wraps
// to the first track; with both off playback pauses and the current
// track rewinds to the start.
func (r *Resolver) PlayNext(ctx context.Context) error {
	r.mux.Lock()
	pl := r.current
	if pl == nil || len(pl.Tracks) == 0 {
		r.mux.Unlock()
		return nil
	}
	n := len(pl.Tracks)
	cur := r.index

	if r.shuffle {
		if n <= 1 {
			r.mux.Unlock()
			return nil
		}
		var next int
		if cur < 0 || cur >= n {
			next = r.randInt(n)
		} else {
			next = r.randInt(n - 1)
			if next >= cur {
				next++
			}
		}
		r.mux.Unlock()
		return r.PlayIndex(ctx, next)
	}

	next := cur + 1
	if next >= n {
		if !r.loop {
			r.mux.Unlock()
			if err := r.player.Pause(); nil != err {
				return err
			}
			return r.player.Seek(0)
		}
		next = 0
	}
	r.mux.Unlock()
	return r.PlayIndex(ctx, next)
}

// PlayPrevious steps back one track, clamped at the first.
func (r *Resolver) PlayPrevious(ctx context.Context) error {
	r.mux.Lock()
	cur := r.index
	r.mux.Unlock()
	return r.PlayIndex(ctx, cur-1)
}

func (r *Resolver) Current() (*Playlist, int) {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.current, r.index
}

func (r *Resolver) SetShuffle(on bool) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.shuffle = on
}

func (r *Resolver) Shuffle() bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.shuffle
}

func (r *Resolver) SetLoop(on bool) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.loop = on
}

func (r *Resolver) Loop() bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.loop
}

func formatSeconds(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
