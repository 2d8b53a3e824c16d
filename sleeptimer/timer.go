package sleeptimer

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tim-Conrad/audio-player/mathutil"
	"github.com/Tim-Conrad/audio-player/settings"
)

const (
	MinMinutes = 1
	MaxMinutes = 180
)

// warnBefore is how long before expiry the notifier fires.
var warnBefore = 30 * time.Second

// Notifier delivers the pre-expiry warning through whatever channel the
// surrounding application has, e.g. a system notification.
type Notifier interface {
	Notify(remaining time.Duration) error
}

// Timer pauses playback after a configured duration. There is at most
// one armed timer: starting, extending, or resuming replaces whatever
// was armed before. The target survives restarts through the settings
// record, the last chosen duration is kept even after cancel so it can
// be offered as the default next time.
type Timer struct {
	mux      sync.Mutex
	store    settings.Store
	pause    func() error
	notifier Notifier
	status   func(msg string)
	now      func() time.Time
	expireT  *time.Timer
	warnT    *time.Timer
	target   time.Time
	logger   zerolog.Logger
}

func New(
	store settings.Store,
	pause func() error,
	notifier Notifier,
	status func(msg string),
	logger zerolog.Logger,
) *Timer {
	return &Timer{
		mux:      sync.Mutex{},
		store:    store,
		pause:    pause,
		notifier: notifier,
		status:   status,
		now:      time.Now,
		expireT:  nil,
		warnT:    nil,
		target:   time.Time{},
		logger:   logger.With().Str("module", "sleeptimer").Logger(),
	}
}

func clampMinutes(minutes int) int {
	if minutes < MinMinutes {
		return MinMinutes
	}
	if minutes > MaxMinutes {
		return MaxMinutes
	}
	return minutes
}

// Start arms the timer for the given number of minutes, clamped into
// the allowed range.
func (t *Timer) Start(minutes int) {
	minutes = clampMinutes(minutes)

	t.mux.Lock()
	target := t.now().Add(time.Duration(minutes) * time.Minute)
	t.target = target
	t.scheduleLocked()
	t.mux.Unlock()

	t.persist(func(s *settings.Sleep) {
		s.Target = target.UnixMilli()
		s.LastMinutes = minutes
	})
	t.logger.Info().Int("minutes", minutes).Msg("Sleep timer started")
}

// Resume re-arms a persisted target on startup. A target already in the
// past is cleared instead.
func (t *Timer) Resume(targetMS int64) {
	if targetMS <= 0 {
		return
	}
	target := time.UnixMilli(targetMS)

	t.mux.Lock()
	if !target.After(t.now()) {
		t.mux.Unlock()
		t.persist(func(s *settings.Sleep) { s.Target = 0 })
		return
	}
	t.target = target
	t.scheduleLocked()
	t.mux.Unlock()

	t.logger.Info().Time("target", target).Msg("Sleep timer resumed")
}

// ExtendBy pushes the armed target further out. Inactive timers are
// left alone.
func (t *Timer) ExtendBy(minutes int) {
	t.mux.Lock()
	if t.target.IsZero() {
		t.mux.Unlock()
		return
	}
	target := t.target.Add(time.Duration(minutes) * time.Minute)
	t.target = target
	t.scheduleLocked()
	t.mux.Unlock()

	t.persist(func(s *settings.Sleep) { s.Target = target.UnixMilli() })
	t.logger.Info().Int("minutes", minutes).Time("target", target).Msg("Sleep timer extended")
}

// Cancel disarms the timer. The last chosen duration stays persisted.
func (t *Timer) Cancel() {
	t.mux.Lock()
	t.stopLocked()
	t.target = time.Time{}
	t.mux.Unlock()

	t.persist(func(s *settings.Sleep) { s.Target = 0 })
	t.logger.Info().Msg("Sleep timer cancelled")
}

// Remaining reports the time left, and whether the timer is armed.
func (t *Timer) Remaining() (time.Duration, bool) {
	t.mux.Lock()
	defer t.mux.Unlock()
	if t.target.IsZero() {
		return 0, false
	}
	remaining := t.target.Sub(t.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// RemainingMinutes rounds the remaining time up to whole minutes for
// display.
func (t *Timer) RemainingMinutes() (int, bool) {
	remaining, ok := t.Remaining()
	if !ok {
		return 0, false
	}
	return int(mathutil.CeilInts(remaining.Milliseconds(), time.Minute.Milliseconds())), true
}

// LastMinutes returns the most recently chosen duration, or the given
// fallback when none was ever chosen.
func (t *Timer) LastMinutes(fallback int) int {
	s := t.store.Get()
	if s.Sleep == nil || s.Sleep.LastMinutes == 0 {
		return fallback
	}
	return s.Sleep.LastMinutes
}

func (t *Timer) scheduleLocked() {
	t.stopLocked()
	until := t.target.Sub(t.now())
	t.expireT = time.AfterFunc(until, t.expire)
	if until > warnBefore {
		t.warnT = time.AfterFunc(until-warnBefore, t.warn)
	}
}

func (t *Timer) stopLocked() {
	if t.expireT != nil {
		t.expireT.Stop()
		t.expireT = nil
	}
	if t.warnT != nil {
		t.warnT.Stop()
		t.warnT = nil
	}
}

func (t *Timer) expire() {
	t.mux.Lock()
	if t.target.IsZero() {
		t.mux.Unlock()
		return
	}
	t.stopLocked()
	t.target = time.Time{}
	t.mux.Unlock()

	if err := t.pause(); nil != err {
		t.logger.Warn().Err(err).Msg("Failed to pause playback on sleep timer expiry")
	}
	t.persist(func(s *settings.Sleep) { s.Target = 0 })
	t.status("Sleep timer expired. Playback paused.")
	t.logger.Info().Msg("Sleep timer expired")
}

func (t *Timer) warn() {
	t.mux.Lock()
	armed := !t.target.IsZero()
	t.mux.Unlock()
	if !armed {
		return
	}
	if err := t.notifier.Notify(warnBefore); nil != err {
		t.logger.Debug().Err(err).Msg("Notifier failed. Falling back to status line")
		t.status(fmt.Sprintf("Sleeping in %d seconds.", int(warnBefore.Seconds())))
	}
}

func (t *Timer) persist(mutate func(s *settings.Sleep)) {
	s := t.store.Get()
	if s.Sleep == nil {
		s.Sleep = &settings.Sleep{Target: 0, LastMinutes: 0}
	}
	mutate(s.Sleep)
	if err := t.store.Put(s); nil != err {
		t.logger.Warn().Err(err).Msg("Failed to persist sleep timer state")
	}
}
