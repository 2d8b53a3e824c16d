package stats

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/xeptore/flaw/v8"
	"golang.org/x/sync/errgroup"
	"gopkg.in/matryer/try.v1"

	"github.com/Tim-Conrad/audio-player/config"
	"github.com/Tim-Conrad/audio-player/errutil"
	"github.com/Tim-Conrad/audio-player/httputil"
	"github.com/Tim-Conrad/audio-player/listing"
	"github.com/Tim-Conrad/audio-player/must"
	"github.com/Tim-Conrad/audio-player/settings"
)

// TTL is how long a folder's cached stat stays fresh.
const TTL = 5 * time.Minute

const fetchAttempts = 3

// Windows drops this folder onto removable media. It never holds music.
var excludedName = regexp.MustCompile(`(?i)^system volum?e information$`)

// Entry is one home-grid cell: a folder with at least one track.
type Entry struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Count    int    `json:"count"`
	CoverURL string `json:"coverUrl,omitempty"`
}

// Refresher builds the home grid by counting tracks per top-level
// folder. Counts are cached with a short TTL and persisted so a
// restart does not refetch every folder.
type Refresher struct {
	origin *url.URL
	client *http.Client
	store  settings.StatsStore
	mux    sync.Mutex
	now    func() time.Time
	logger zerolog.Logger
}

func NewRefresher(cfg *config.Config, client *http.Client, store settings.StatsStore, logger zerolog.Logger) *Refresher {
	return &Refresher{
		origin: cfg.OriginURL(),
		client: client,
		store:  store,
		mux:    sync.Mutex{},
		now:    time.Now,
		logger: logger.With().Str("module", "stats").Logger(),
	}
}

// Snapshot returns the grid entries for the folders under rootPath,
// root itself first. Stale entries are refetched concurrently, fresh
// ones are served from cache unless force is set. Folders whose
// listing cannot be fetched count as empty, and empty folders are
// omitted from the result.
func (r *Refresher) Snapshot(ctx context.Context, rootPath string, force bool) ([]Entry, error) {
	rootURL, err := listing.ResolveFolderURL(r.origin, rootPath)
	if nil != err {
		return nil, err
	}
	root, err := r.fetchFolder(ctx, rootURL)
	if nil != err {
		return nil, err
	}

	// One refresh cycle at a time. A second caller waits and then mostly
	// hits the cache the first one just filled.
	r.mux.Lock()
	defer r.mux.Unlock()

	folders := lo.Filter(root.Folders, func(f listing.Folder, _ int) bool {
		return !excludedName.MatchString(f.Name)
	})

	persisted := r.store.All()
	nowMS := r.now().UnixMilli()
	rootNorm := listing.NormalizePath(r.origin, rootURL.String())

	stats := make([]settings.Stat, len(folders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, folder := range folders {
		path := listing.NormalizePath(r.origin, folder.URL)
		if cached, ok := persisted[path]; ok && !force && nowMS-cached.TS < TTL.Milliseconds() {
			stats[i] = cached
			continue
		}
		g.Go(func() error {
			folderURL, err := r.origin.Parse(folder.URL)
			if nil != err {
				r.logger.Warn().Err(err).Str("url", folder.URL).Msg("Skipping folder with unresolvable URL")
				stats[i] = settings.Stat{Count: 0, CoverURL: "", TS: nowMS}
				return nil
			}

			var res *listing.Result
			err = try.Do(func(attempt int) (bool, error) {
				var ferr error
				res, ferr = r.fetchFolder(gctx, folderURL)
				return attempt < fetchAttempts, ferr
			})
			if nil != err {
				if errutil.IsContext(gctx) {
					return gctx.Err()
				}
				r.logger.Warn().Err(err).Str("url", folder.URL).Msg("Failed to fetch folder listing for stats")
				stats[i] = settings.Stat{Count: 0, CoverURL: "", TS: nowMS}
				return nil
			}
			stats[i] = settings.Stat{Count: len(res.Tracks), CoverURL: res.CoverURL, TS: nowMS}
			return nil
		})
	}
	if err := g.Wait(); nil != err {
		return nil, err
	}

	updated := make(map[string]settings.Stat, len(persisted)+len(folders)+1)
	for k, v := range persisted {
		updated[k] = v
	}
	rootStat := settings.Stat{Count: len(root.Tracks), CoverURL: root.CoverURL, TS: nowMS}
	updated[rootNorm] = rootStat

	entries := make([]Entry, 0, len(folders)+1)
	if rootStat.Count > 0 {
		entries = append(entries, Entry{
			Path:     rootNorm,
			Name:     listing.FileName(rootNorm),
			Count:    rootStat.Count,
			CoverURL: rootStat.CoverURL,
		})
	}
	for i, folder := range folders {
		path := listing.NormalizePath(r.origin, folder.URL)
		updated[path] = stats[i]
		if stats[i].Count == 0 {
			continue
		}
		entries = append(entries, Entry{
			Path:     path,
			Name:     folder.Name,
			Count:    stats[i].Count,
			CoverURL: stats[i].CoverURL,
		})
	}

	if err := r.store.PutAll(updated); nil != err {
		r.logger.Warn().Err(err).Msg("Failed to persist folder stats")
	}
	return entries, nil
}

func (r *Refresher) fetchFolder(ctx context.Context, folderURL *url.URL) (result *listing.Result, err error) {
	fetchCtx, cancel := context.WithTimeout(ctx, config.StatsFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, folderURL.String(), nil)
	if nil != err {
		flawP := flaw.P{"url": folderURL.String(), "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to build folder listing request: %v", err)).Append(flawP)
	}
	req.Header.Set("Accept", "text/html")

	res, err := r.client.Do(req)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer func() {
		if closeErr := res.Body.Close(); nil != closeErr {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close folder listing response body: %v", closeErr)).Append(flawP)
			if nil != err {
				err = must.BeFlaw(err).Join(closeErr)
			} else {
				err = closeErr
			}
		}
	}()
	if !httputil.IsSuccess(res) {
		flawP := flaw.P{"response": errutil.HTTPResponseFlawPayload(res)}
		return nil, flaw.From(fmt.Errorf("unexpected folder listing response status: %s", res.Status)).Append(flawP)
	}
	return listing.Parse(folderURL, res.Body)
}
