package player

import (
	"context"
	"fmt"
)

// Event is a playback notification emitted by a Transport.
type Event int

const (
	EventLoadedMetadata Event = iota
	EventPlay
	EventPause
	EventTimeUpdate
	EventEnded
)

func (e Event) String() string {
	switch e {
	case EventLoadedMetadata:
		return "loadedmetadata"
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventTimeUpdate:
		return "timeupdate"
	case EventEnded:
		return "ended"
	default:
		panic(fmt.Sprintf("unknown player event %d", int(e)))
	}
}

// Transport is the playback backend. Load replaces the current source
// and positions it at startAt seconds, starting playback only when
// autoplay is set. Implementations deliver events through the handler
// registered with OnEvent, one handler at most, set before first Load.
type Transport interface {
	Load(ctx context.Context, url string, startAt float64, autoplay bool) error
	Play() error
	Pause() error
	Seek(seconds float64) error
	Position() float64
	Duration() float64
	OnEvent(fn func(Event))
	Close() error
}
