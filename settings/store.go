package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/Tim-Conrad/audio-player/errutil"
)

// Store is the persistence boundary for the settings record. Get never
// fails: a missing or unreadable record yields defaults. Put may fail,
// and callers treat that as advisory since persistence is best-effort.
// Reset replaces the whole record with the hard-coded defaults.
type Store interface {
	Get() Settings
	Put(s Settings) error
	Reset() error
}

type FileStore struct {
	path   string
	mux    sync.Mutex
	logger zerolog.Logger
}

func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		mux:    sync.Mutex{},
		logger: logger.With().Str("module", "settings").Logger(),
	}
}

func (f *FileStore) Get() Settings {
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.path)
	if nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn().Err(err).Str("path", f.path).Msg("Failed to read settings file. Falling back to defaults")
		}
		return Defaults()
	}

	var s Settings
	if err := json.Unmarshal(data, &s); nil != err {
		f.logger.Warn().Err(err).Str("path", f.path).Msg("Settings file is corrupt. Salvaging recognizable fields")
		return salvage(data)
	}
	if s.RootPath == "" {
		s.RootPath = Defaults().RootPath
	}
	return s
}

func (f *FileStore) Put(s Settings) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := json.Marshal(s)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to marshal settings: %v", err)).Append(flawP)
	}

	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o0755); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create settings directory: %v", err)).Append(flawP)
	}
	if err := os.WriteFile(tmp, data, 0o0644); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to write settings file: %v", err)).Append(flawP)
	}
	if err := os.Rename(tmp, f.path); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to replace settings file: %v", err)).Append(flawP)
	}
	return nil
}

func (f *FileStore) Reset() error {
	return f.Put(Defaults())
}

// salvage pulls whatever fields it can out of a record that failed strict
// unmarshalling, e.g. one written by an older version with extra junk.
func salvage(data []byte) Settings {
	s := Defaults()
	if v := gjson.GetBytes(data, "rootPath"); v.Exists() && v.String() != "" {
		s.RootPath = v.String()
	}
	if v := gjson.GetBytes(data, "autoplay"); v.Exists() {
		s.Autoplay = v.Bool()
	}
	if v := gjson.GetBytes(data, "currentPlaylistPath"); v.Exists() {
		s.CurrentPlaylistPath = v.String()
	}
	if last := gjson.GetBytes(data, "last"); last.IsObject() {
		s.Last = &Last{
			PlaylistPath: last.Get("playlistPath").String(),
			Index:        int(last.Get("index").Int()),
			TrackURL:     last.Get("trackUrl").String(),
			Time:         last.Get("time").Float(),
		}
	}
	if sleep := gjson.GetBytes(data, "sleep"); sleep.IsObject() {
		s.Sleep = &Sleep{
			Target:      sleep.Get("target").Int(),
			LastMinutes: int(sleep.Get("lastMinutes").Int()),
		}
	}
	return s
}

// MemStore keeps the record in memory. Used in tests and when no state
// directory is configured.
type MemStore struct {
	mux sync.Mutex
	s   Settings
	set bool
}

func NewMemStore() *MemStore {
	return &MemStore{mux: sync.Mutex{}, s: Settings{}, set: false}
}

func (m *MemStore) Get() Settings {
	m.mux.Lock()
	defer m.mux.Unlock()
	if !m.set {
		return Defaults()
	}
	return m.s
}

func (m *MemStore) Put(s Settings) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.s = s
	m.set = true
	return nil
}

func (m *MemStore) Reset() error {
	return m.Put(Defaults())
}
