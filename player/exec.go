package player

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/Tim-Conrad/audio-player/errutil"
)

// ExecTransport plays audio by shelling out to ffplay. It reports the
// position as the start offset plus elapsed wall clock time, which is
// accurate enough for resume purposes. Pause and resume are delivered
// as stop/continue signals to the process. Seeking restarts playback
// at the requested offset.
type ExecTransport struct {
	mux        sync.Mutex
	ffplayPath string
	handler    func(Event)
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	gen        int
	currentURL string
	startAt    float64
	startedAt  time.Time
	pausedAt   time.Time
	pausedFor  time.Duration
	paused     bool
	logger     zerolog.Logger
}

func NewExecTransport(ffplayPath string, logger zerolog.Logger) *ExecTransport {
	return &ExecTransport{
		mux:        sync.Mutex{},
		ffplayPath: ffplayPath,
		handler:    nil,
		cmd:        nil,
		cancel:     nil,
		gen:        0,
		currentURL: "",
		startAt:    0,
		startedAt:  time.Time{},
		pausedAt:   time.Time{},
		pausedFor:  0,
		paused:     false,
		logger:     logger.With().Str("module", "exec_transport").Logger(),
	}
}

func (t *ExecTransport) OnEvent(fn func(Event)) {
	t.mux.Lock()
	defer t.mux.Unlock()
	t.handler = fn
}

// emit delivers an event outside the mutex. Handlers may call back
// into the transport.
func (t *ExecTransport) emit(ev Event) {
	t.mux.Lock()
	handler := t.handler
	t.mux.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (t *ExecTransport) Load(_ context.Context, url string, startAt float64, autoplay bool) error {
	return t.load(url, startAt, autoplay)
}

func (t *ExecTransport) load(url string, startAt float64, autoplay bool) error {
	t.mux.Lock()
	t.stopLocked()

	// Playback must outlive the caller, so the process gets its own
	// cancellation rather than the load context.
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(
		ctx,
		t.ffplayPath,
		"-nodisp", "-autoexit", "-loglevel", "error",
		"-ss", strconv.FormatFloat(startAt, 'f', 3, 64),
		url,
	)
	if err := cmd.Start(); nil != err {
		cancel()
		t.mux.Unlock()
		flawP := flaw.P{"url": url, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to start %s: %v", t.ffplayPath, err)).Append(flawP)
	}

	t.gen++
	gen := t.gen
	t.cmd = cmd
	t.cancel = cancel
	t.currentURL = url
	t.startAt = startAt
	t.startedAt = time.Now()
	t.pausedAt = time.Time{}
	t.pausedFor = 0
	t.paused = false
	t.mux.Unlock()

	done := make(chan struct{})
	go t.wait(cmd, gen, done)
	go t.tick(gen, done)

	t.emit(EventLoadedMetadata)
	if autoplay {
		t.emit(EventPlay)
	} else if err := t.Pause(); nil != err {
		return err
	}
	return nil
}

func (t *ExecTransport) wait(cmd *exec.Cmd, gen int, done chan<- struct{}) {
	err := cmd.Wait()
	close(done)

	t.mux.Lock()
	if t.gen != gen {
		t.mux.Unlock()
		return
	}
	t.cmd = nil
	t.cancel = nil
	// Freeze the reported position at the exit moment so a flush on the
	// ended event does not record a time past the end of the track.
	if !t.paused {
		t.pausedAt = time.Now()
		t.paused = true
	}
	t.mux.Unlock()

	if nil != err {
		t.logger.Debug().Err(err).Msg("Playback process exited abnormally")
		return
	}
	t.emit(EventEnded)
}

func (t *ExecTransport) tick(gen int, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.mux.Lock()
			stale := t.gen != gen
			paused := t.paused
			t.mux.Unlock()
			if stale {
				return
			}
			if !paused {
				t.emit(EventTimeUpdate)
			}
		}
	}
}

func (t *ExecTransport) Play() error {
	t.mux.Lock()
	if t.cmd == nil || !t.paused {
		t.mux.Unlock()
		return nil
	}
	if err := t.cmd.Process.Signal(syscall.SIGCONT); nil != err {
		t.mux.Unlock()
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to resume playback process: %v", err)).Append(flawP)
	}
	t.pausedFor += time.Since(t.pausedAt)
	t.paused = false
	t.mux.Unlock()

	t.emit(EventPlay)
	return nil
}

func (t *ExecTransport) Pause() error {
	t.mux.Lock()
	if t.cmd == nil || t.paused {
		t.mux.Unlock()
		return nil
	}
	if err := t.cmd.Process.Signal(syscall.SIGSTOP); nil != err {
		t.mux.Unlock()
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to suspend playback process: %v", err)).Append(flawP)
	}
	t.pausedAt = time.Now()
	t.paused = true
	t.mux.Unlock()

	t.emit(EventPause)
	return nil
}

func (t *ExecTransport) Seek(seconds float64) error {
	t.mux.Lock()
	url := t.currentURL
	resume := t.cmd != nil && !t.paused
	t.mux.Unlock()
	if url == "" {
		return nil
	}
	return t.load(url, seconds, resume)
}

func (t *ExecTransport) Position() float64 {
	t.mux.Lock()
	defer t.mux.Unlock()
	if t.startedAt.IsZero() {
		return 0
	}
	active := time.Since(t.startedAt) - t.pausedFor
	if t.paused {
		active -= time.Since(t.pausedAt)
	}
	return t.startAt + active.Seconds()
}

// Duration is unknown to the process wrapper.
func (t *ExecTransport) Duration() float64 {
	return 0
}

func (t *ExecTransport) Close() error {
	t.mux.Lock()
	defer t.mux.Unlock()
	t.stopLocked()
	return nil
}

func (t *ExecTransport) stopLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.cmd = nil
	t.gen++
}
