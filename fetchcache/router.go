package fetchcache

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tim-Conrad/audio-player/config"
	"github.com/Tim-Conrad/audio-player/constant"
	"github.com/Tim-Conrad/audio-player/ctxutil"
	"github.com/Tim-Conrad/audio-player/httputil"
	"github.com/Tim-Conrad/audio-player/log"
)

// Class is the routing decision for one request. Classification is
// evaluated in declaration order and the first match wins.
type Class int

const (
	ClassCrossOrigin Class = iota
	ClassNavigation
	ClassListing
	ClassStatic
	ClassAudio
	ClassDefault
)

func (c Class) String() string {
	switch c {
	case ClassCrossOrigin:
		return "cross_origin"
	case ClassNavigation:
		return "navigation"
	case ClassListing:
		return "listing"
	case ClassStatic:
		return "static"
	case ClassAudio:
		return "audio"
	case ClassDefault:
		return "default"
	default:
		panic(fmt.Sprintf("unknown request class %d", int(c)))
	}
}

var staticExts = map[string]struct{}{
	".css":         {},
	".js":          {},
	".mjs":         {},
	".svg":         {},
	".png":         {},
	".jpg":         {},
	".jpeg":        {},
	".webp":        {},
	".ico":         {},
	".woff":        {},
	".woff2":       {},
	".webmanifest": {},
}

var staticDests = map[string]struct{}{
	"style":    {},
	"script":   {},
	"image":    {},
	"font":     {},
	"manifest": {},
}

// Router is an http.RoundTripper that applies a per-class offline
// strategy in front of an inner transport. Navigations are network
// first with a cached shell fallback, listings are served stale while
// revalidating in the background, shell assets are cache first, and
// audio always goes to the network.
type Router struct {
	origin      *url.URL
	rootPath    string
	shellPath   string
	offlinePath string
	version     string
	store       *PartitionStore
	static      *Partition
	data        *Partition
	next        http.RoundTripper
	revals      sync.WaitGroup
	logger      zerolog.Logger
}

func NewRouter(cfg *config.Config, store *PartitionStore, next http.RoundTripper, logger zerolog.Logger) *Router {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Router{
		origin:      cfg.OriginURL(),
		rootPath:    cfg.RootPath,
		shellPath:   cfg.ShellPath,
		offlinePath: cfg.OfflinePath,
		version:     cfg.CacheVersion,
		store:       store,
		static:      store.Open(constant.StaticCacheName(cfg.CacheVersion)),
		data:        store.Open(constant.DataCacheName(cfg.CacheVersion)),
		next:        next,
		revals:      sync.WaitGroup{},
		logger:      logger.With().Str("module", "fetchcache").Logger(),
	}
}

// Client returns an *http.Client whose requests flow through the router.
func (r *Router) Client() *http.Client {
	return &http.Client{Transport: r}
}

// Classify decides which strategy serves the request.
func (r *Router) Classify(req *http.Request) Class {
	if req.URL.Scheme != r.origin.Scheme || req.URL.Host != r.origin.Host {
		return ClassCrossOrigin
	}
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return ClassNavigation
	}
	p := req.URL.EscapedPath()
	if req.Method == http.MethodGet &&
		strings.HasPrefix(p, r.rootPath) &&
		strings.Contains(req.Header.Get("Accept"), "text/html") {
		return ClassListing
	}
	dest := req.Header.Get("Sec-Fetch-Dest")
	if _, ok := staticDests[dest]; ok {
		return ClassStatic
	}
	if _, ok := staticExts[strings.ToLower(path.Ext(p))]; ok {
		return ClassStatic
	}
	if dest == "audio" || strings.HasSuffix(strings.ToLower(p), ".mp3") {
		return ClassAudio
	}
	return ClassDefault
}

func (r *Router) RoundTrip(req *http.Request) (*http.Response, error) {
	class := r.Classify(req)
	switch class {
	case ClassCrossOrigin, ClassAudio:
		return r.next.RoundTrip(req)
	case ClassNavigation:
		return r.navigate(req)
	case ClassListing:
		return r.listing(req)
	case ClassStatic:
		return r.cacheFirst(req)
	case ClassDefault:
		return r.cacheOrNetwork(req)
	default:
		panic(fmt.Sprintf("unknown request class %d", int(class)))
	}
}

// WaitRevalidations blocks until every in-flight background refresh has
// finished. Tests use it to observe the cache deterministically.
func (r *Router) WaitRevalidations() {
	r.revals.Wait()
}

// Activate drops every partition whose name does not belong to the
// current cache version and returns the dropped names.
func (r *Router) Activate() []string {
	dropped := r.store.DeleteOthers(r.static.Name(), r.data.Name())
	if len(dropped) > 0 {
		r.logger.Info().Strs("dropped", dropped).Str("version", r.version).Msg("Dropped stale cache partitions")
	}
	return dropped
}

func cacheKey(u *url.URL) string {
	key := *u
	key.Fragment = ""
	key.RawFragment = ""
	return key.String()
}

// navigate is network first. A reachable server refreshes the cached
// shell document. On network failure the cached shell is served, then
// the offline document, then the failure propagates.
func (r *Router) navigate(req *http.Request) (*http.Response, error) {
	res, err := r.next.RoundTrip(req)
	if nil == err {
		return r.intercept(req, res, r.static, r.shellKey())
	}
	r.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Navigation fetch failed. Serving cached shell")
	if e := r.static.Get(r.shellKey()); e != nil {
		return e.Response(req), nil
	}
	if e := r.static.Get(r.offlineKey()); e != nil {
		return e.Response(req), nil
	}
	return nil, err
}

func (r *Router) shellKey() string {
	return cacheKey(r.origin.JoinPath(r.shellPath))
}

func (r *Router) offlineKey() string {
	return cacheKey(r.origin.JoinPath(r.offlinePath))
}

// listing serves stale while revalidating. A cached listing is returned
// immediately and refreshed in the background. A cache miss goes to the
// network, with the offline document as last resort.
func (r *Router) listing(req *http.Request) (*http.Response, error) {
	key := cacheKey(req.URL)
	if e := r.data.Get(key); e != nil {
		r.revalidate(req)
		return e.Response(req), nil
	}

	res, err := r.next.RoundTrip(req)
	if nil == err {
		return r.intercept(req, res, r.data, key)
	}
	r.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Listing fetch failed with no cached copy")
	if e := r.static.Get(r.offlineKey()); e != nil {
		return e.Response(req), nil
	}
	return nil, err
}

// revalidate refreshes one cached listing in the background. Failures
// are swallowed since the stale copy was already served. The refresh
// context outlives the triggering request by a grace period instead of
// dying with it.
func (r *Router) revalidate(req *http.Request) {
	refreshURL := *req.URL
	accept := req.Header.Get("Accept")
	r.revals.Add(1)
	go func() {
		defer r.revals.Done()
		defer func() {
			if p := recover(); nil != p {
				r.logger.Error().Func(log.Panic(p)).Msg("Background revalidation panicked")
			}
		}()

		ctx, cancel := ctxutil.WithDelayedTimeout(req.Context(), config.RevalidateTimeout)
		defer cancel()

		refresh, err := http.NewRequestWithContext(ctx, http.MethodGet, refreshURL.String(), nil)
		if nil != err {
			r.logger.Error().Err(err).Str("url", refreshURL.String()).Msg("Failed to build revalidation request")
			return
		}
		refresh.Header.Set("Accept", accept)

		res, err := r.next.RoundTrip(refresh)
		if nil != err {
			r.logger.Debug().Err(err).Str("url", refreshURL.String()).Msg("Background revalidation failed")
			return
		}
		if _, err := r.intercept(refresh, res, r.data, cacheKey(refresh.URL)); nil != err {
			r.logger.Debug().Err(err).Str("url", refreshURL.String()).Msg("Failed to store revalidated listing")
		}
	}()
}

// cacheFirst serves shell assets from cache and falls back to the
// network, populating the cache on the way out.
func (r *Router) cacheFirst(req *http.Request) (*http.Response, error) {
	key := cacheKey(req.URL)
	if e := r.static.Get(key); e != nil {
		return e.Response(req), nil
	}
	if e := r.data.Get(key); e != nil {
		return e.Response(req), nil
	}
	res, err := r.next.RoundTrip(req)
	if nil != err {
		return nil, err
	}
	return r.intercept(req, res, r.static, key)
}

// cacheOrNetwork serves from cache when possible and otherwise passes
// through without caching.
func (r *Router) cacheOrNetwork(req *http.Request) (*http.Response, error) {
	key := cacheKey(req.URL)
	if e := r.static.Get(key); e != nil {
		return e.Response(req), nil
	}
	if e := r.data.Get(key); e != nil {
		return e.Response(req), nil
	}
	return r.next.RoundTrip(req)
}

// intercept drains a live response into the partition under key and
// returns an equivalent response for the caller to consume. Only
// successful responses are stored.
func (r *Router) intercept(req *http.Request, res *http.Response, p *Partition, key string) (*http.Response, error) {
	body, err := httputil.ReadOptionalResponseBody(req.Context(), res)
	if closeErr := res.Body.Close(); nil != closeErr {
		r.logger.Debug().Err(closeErr).Str("url", req.URL.String()).Msg("Failed to close response body")
	}
	if nil != err {
		return nil, err
	}

	e := &Entry{Status: res.StatusCode, Header: res.Header.Clone(), Body: body}
	if httputil.IsSuccess(res) {
		p.Put(key, e)
	}
	return e.Response(req), nil
}
