package player

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tim-Conrad/audio-player/settings"
)

// Persister mirrors playback progress into the settings record so a
// later session can resume where this one stopped. Progress is written
// at most once per observed whole playback second, with an immediate
// flush on pause and on track change. Storage failures are logged and
// swallowed since persistence is best-effort.
type Persister struct {
	mux          sync.Mutex
	store        settings.Store
	playlistPath string
	index        int
	trackURL     string
	lastSec      int64
	active       bool
	logger       zerolog.Logger
}

func NewPersister(store settings.Store, logger zerolog.Logger) *Persister {
	return &Persister{
		mux:          sync.Mutex{},
		store:        store,
		playlistPath: "",
		index:        0,
		trackURL:     "",
		lastSec:      -1,
		active:       false,
		logger:       logger.With().Str("module", "persister").Logger(),
	}
}

func (p *Persister) Attach(pl *Player) {
	pl.OnEvent(p.handleEvent)
}

// SetTrack switches the persistence target to a new track and flushes
// its starting position right away.
func (p *Persister) SetTrack(playlistPath string, index int, trackURL string, startAt float64) {
	p.mux.Lock()
	p.playlistPath = playlistPath
	p.index = index
	p.trackURL = trackURL
	p.lastSec = int64(startAt)
	p.active = true
	p.mux.Unlock()
	p.persist(startAt)
}

func (p *Persister) handleEvent(ev Event, snap Snapshot) {
	switch ev {
	case EventTimeUpdate:
		p.mux.Lock()
		sec := int64(snap.Position)
		if !p.active || sec == p.lastSec {
			p.mux.Unlock()
			return
		}
		p.lastSec = sec
		p.mux.Unlock()
		p.persist(snap.Position)
	case EventPause, EventEnded:
		p.persist(snap.Position)
	case EventLoadedMetadata, EventPlay:
	}
}

func (p *Persister) persist(position float64) {
	p.mux.Lock()
	if !p.active {
		p.mux.Unlock()
		return
	}
	last := &settings.Last{
		PlaylistPath: p.playlistPath,
		Index:        p.index,
		TrackURL:     p.trackURL,
		Time:         position,
	}
	p.mux.Unlock()

	s := p.store.Get()
	s.Last = last
	if err := p.store.Put(s); nil != err {
		p.logger.Warn().Err(err).Msg("Failed to persist playback position")
	}
}
