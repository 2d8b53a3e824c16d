package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// State is the observed playback state. It is derived exclusively from
// transport events, never assumed from issued commands.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	default:
		panic(fmt.Sprintf("unknown player state %d", int(s)))
	}
}

// Snapshot is the playback position at the moment an event fired.
// Handlers receive it instead of calling back into the player.
type Snapshot struct {
	URL      string
	Position float64
	Duration float64
}

type StateListener func(prev State, next State, snap Snapshot)

type EventListener func(ev Event, snap Snapshot)

// Player wraps a Transport with a small state machine so that the rest
// of the application observes playback instead of guessing it.
type Player struct {
	mux            sync.Mutex
	transport      Transport
	state          State
	currentURL     string
	stateListeners []StateListener
	eventListeners []EventListener
	logger         zerolog.Logger
}

func New(transport Transport, logger zerolog.Logger) *Player {
	p := &Player{
		mux:            sync.Mutex{},
		transport:      transport,
		state:          StateIdle,
		currentURL:     "",
		stateListeners: nil,
		eventListeners: nil,
		logger:         logger.With().Str("module", "player").Logger(),
	}
	transport.OnEvent(p.handleEvent)
	return p
}

func (p *Player) OnStateChange(fn StateListener) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.stateListeners = append(p.stateListeners, fn)
}

func (p *Player) OnEvent(fn EventListener) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.eventListeners = append(p.eventListeners, fn)
}

func (p *Player) State() State {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.state
}

func (p *Player) CurrentURL() string {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.currentURL
}

// Load replaces the current source. A failed load leaves the player
// idle instead of stuck in loading.
func (p *Player) Load(ctx context.Context, url string, startAt float64, autoplay bool) error {
	p.transition(func() State {
		p.currentURL = url
		return StateLoading
	})
	if err := p.transport.Load(ctx, url, startAt, autoplay); nil != err {
		p.transition(func() State {
			p.currentURL = ""
			return StateIdle
		})
		return err
	}
	return nil
}

func (p *Player) Play() error {
	return p.transport.Play()
}

func (p *Player) Pause() error {
	return p.transport.Pause()
}

func (p *Player) Seek(seconds float64) error {
	return p.transport.Seek(seconds)
}

func (p *Player) Position() float64 {
	return p.transport.Position()
}

func (p *Player) Duration() float64 {
	return p.transport.Duration()
}

func (p *Player) Close() error {
	return p.transport.Close()
}

// transition applies a state mutation and notifies listeners outside
// the lock. Listener callbacks must not be invoked while holding the
// mutex since they are free to call back into the player.
func (p *Player) transition(mutate func() State) {
	p.mux.Lock()
	prev := p.state
	p.state = mutate()
	next := p.state
	snap := p.snapshotLocked()
	listeners := make([]StateListener, len(p.stateListeners))
	copy(listeners, p.stateListeners)
	p.mux.Unlock()

	if prev == next {
		return
	}
	p.logger.Debug().Str("prev", prev.String()).Str("next", next.String()).Str("url", snap.URL).Msg("Playback state changed")
	for _, fn := range listeners {
		fn(prev, next, snap)
	}
}

func (p *Player) snapshotLocked() Snapshot {
	return Snapshot{
		URL:      p.currentURL,
		Position: p.transport.Position(),
		Duration: p.transport.Duration(),
	}
}

func (p *Player) handleEvent(ev Event) {
	p.mux.Lock()
	prev := p.state
	switch ev {
	case EventLoadedMetadata:
		if p.state == StateLoading {
			p.state = StatePaused
		}
	case EventPlay:
		p.state = StatePlaying
	case EventPause:
		if p.state != StateIdle {
			p.state = StatePaused
		}
	case EventEnded:
		p.state = StateEnded
	case EventTimeUpdate:
	default:
		panic(fmt.Sprintf("unknown player event %d", int(ev)))
	}
	next := p.state
	snap := p.snapshotLocked()
	stateListeners := make([]StateListener, len(p.stateListeners))
	copy(stateListeners, p.stateListeners)
	eventListeners := make([]EventListener, len(p.eventListeners))
	copy(eventListeners, p.eventListeners)
	p.mux.Unlock()

	if prev != next {
		p.logger.Debug().Str("prev", prev.String()).Str("next", next.String()).Str("url", snap.URL).Msg("Playback state changed")
		for _, fn := range stateListeners {
			fn(prev, next, snap)
		}
	}
	for _, fn := range eventListeners {
		fn(ev, snap)
	}
}
