package fetchcache

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/xeptore/flaw/v8"
	"golang.org/x/sync/errgroup"

	"github.com/Tim-Conrad/audio-player/config"
	"github.com/Tim-Conrad/audio-player/errutil"
	"github.com/Tim-Conrad/audio-player/httputil"
)

type stagedEntry struct {
	key   string
	entry *Entry
}

// Install prefetches every shell asset into the static partition. The
// commit is all or nothing: a single failed asset fails the whole
// install and leaves the partition untouched.
func (r *Router) Install(ctx context.Context, assets []string) error {
	staged := make([]stagedEntry, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, asset := range assets {
		g.Go(func() error {
			e, key, err := r.fetchAsset(gctx, asset)
			if nil != err {
				return err
			}
			staged[i] = stagedEntry{key: key, entry: e}
			return nil
		})
	}
	if err := g.Wait(); nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		return err
	}

	for _, s := range staged {
		r.static.Put(s.key, s.entry)
	}
	r.logger.Info().Int("assets", len(staged)).Str("partition", r.static.Name()).Msg("Installed application shell")
	return nil
}

func (r *Router) fetchAsset(ctx context.Context, asset string) (*Entry, string, error) {
	u := r.origin.JoinPath(asset)
	key := cacheKey(u)

	op := func() (*Entry, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, config.ShellAssetFetchTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, u.String(), nil)
		if nil != err {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, backoff.Permanent(flaw.From(fmt.Errorf("failed to build shell asset request: %v", err)).Append(flawP))
		}

		res, err := r.next.RoundTrip(req)
		if nil != err {
			if errutil.IsContext(ctx) {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		body, err := httputil.ReadOptionalResponseBody(attemptCtx, res)
		if closeErr := res.Body.Close(); nil != closeErr {
			r.logger.Debug().Err(closeErr).Str("asset", asset).Msg("Failed to close shell asset response body")
		}
		if nil != err {
			if errutil.IsContext(ctx) {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		if !httputil.IsSuccess(res) {
			flawP := flaw.P{"response": errutil.HTTPResponseFlawPayload(res)}
			return nil, backoff.Permanent(flaw.From(fmt.Errorf("unexpected shell asset response status: %s", res.Status)).Append(flawP))
		}
		return &Entry{Status: res.StatusCode, Header: res.Header.Clone(), Body: body}, nil
	}

	e, err := backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx))
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, "", ctx.Err()
		}
		if errutil.IsFlaw(err) {
			return nil, "", err
		}
		flawP := flaw.P{"asset": asset, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, "", flaw.From(fmt.Errorf("failed to fetch shell asset %q: %v", asset, err)).Append(flawP)
	}
	return e, key, nil
}
