package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/Tim-Conrad/audio-player/errutil"
)

// Stat is one folder's cached listing summary. TS is the refresh time
// in epoch milliseconds and decides staleness.
type Stat struct {
	Count    int    `json:"count"`
	CoverURL string `json:"coverUrl,omitempty"`
	TS       int64  `json:"ts"`
}

// StatsStore persists the per-folder stats map keyed by normalized
// folder path. Reads never fail, writes are best-effort like Store.
type StatsStore interface {
	All() map[string]Stat
	PutAll(stats map[string]Stat) error
}

type FileStatsStore struct {
	path   string
	mux    sync.Mutex
	logger zerolog.Logger
}

func NewFileStatsStore(path string, logger zerolog.Logger) *FileStatsStore {
	return &FileStatsStore{
		path:   path,
		mux:    sync.Mutex{},
		logger: logger.With().Str("module", "stats_store").Logger(),
	}
}

func (f *FileStatsStore) All() map[string]Stat {
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.path)
	if nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn().Err(err).Str("path", f.path).Msg("Failed to read stats file. Starting empty")
		}
		return make(map[string]Stat)
	}

	var stats map[string]Stat
	if err := json.Unmarshal(data, &stats); nil != err {
		f.logger.Warn().Err(err).Str("path", f.path).Msg("Stats file is corrupt. Starting empty")
		return make(map[string]Stat)
	}
	if stats == nil {
		stats = make(map[string]Stat)
	}
	return stats
}

func (f *FileStatsStore) PutAll(stats map[string]Stat) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := json.Marshal(stats)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to marshal stats: %v", err)).Append(flawP)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o0755); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create stats directory: %v", err)).Append(flawP)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o0644); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to write stats file: %v", err)).Append(flawP)
	}
	if err := os.Rename(tmp, f.path); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to replace stats file: %v", err)).Append(flawP)
	}
	return nil
}

type MemStatsStore struct {
	mux   sync.Mutex
	stats map[string]Stat
}

func NewMemStatsStore() *MemStatsStore {
	return &MemStatsStore{mux: sync.Mutex{}, stats: make(map[string]Stat)}
}

func (m *MemStatsStore) All() map[string]Stat {
	m.mux.Lock()
	defer m.mux.Unlock()
	out := make(map[string]Stat, len(m.stats))
	for k, v := range m.stats {
		out[k] = v
	}
	return out
}

func (m *MemStatsStore) PutAll(stats map[string]Stat) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.stats = make(map[string]Stat, len(stats))
	for k, v := range stats {
		m.stats[k] = v
	}
	return nil
}
