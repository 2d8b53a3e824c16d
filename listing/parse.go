package listing

import (
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/xeptore/flaw/v8"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Tim-Conrad/audio-player/errutil"
)

// Track is a playable entry of a folder listing. URL is absolute and Name
// is the percent-decoded last path segment.
type Track struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Folder struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Result struct {
	Tracks   []Track
	Folders  []Folder
	CoverURL string
}

// Cover file names recognized next to the tracks of a folder. Matching is
// exact against the raw href, first match in document order wins.
var coverCandidates = []string{
	"folder.jpg", "folder.jpeg", "folder.png",
	"Folder.jpg", "Folder.jpeg", "Folder.png",
}

// Parse extracts tracks, sub-folders, and an optional cover image from an
// HTML directory-listing document. Anchor hrefs are the sole source of
// truth: an href ending in .mp3 (case-insensitive) is a track, a non-empty
// href ending in / that is not the parent marker is a folder. Hrefs that
// fail to resolve against base are skipped. Document order is preserved
// and defines playlist order.
func Parse(base *url.URL, r io.Reader) (*Result, error) {
	hrefs, err := anchorHrefs(r)
	if nil != err {
		return nil, err
	}

	out := &Result{Tracks: nil, Folders: nil, CoverURL: ""}
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" {
			continue
		}

		if out.CoverURL == "" && slices.Contains(coverCandidates, href) {
			if u, err := base.Parse(href); nil == err {
				out.CoverURL = u.String()
			}
			continue
		}

		switch {
		case strings.HasSuffix(strings.ToLower(href), ".mp3"):
			u, err := base.Parse(href)
			if nil != err {
				continue
			}
			out.Tracks = append(out.Tracks, Track{Name: FileName(href), URL: u.String()})
		case href != "../" && strings.HasSuffix(href, "/"):
			u, err := base.Parse(href)
			if nil != err {
				continue
			}
			out.Folders = append(out.Folders, Folder{Name: FileName(href), URL: u.String()})
		}
	}

	return out, nil
}

func anchorHrefs(r io.Reader) ([]string, error) {
	var hrefs []string
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
				return nil, flaw.From(fmt.Errorf("failed to tokenize listing document: %v", err)).Append(flawP)
			}
			return hrefs, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if atom.Lookup(name) != atom.A || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" {
					hrefs = append(hrefs, string(val))
					break
				}
				if !more {
					break
				}
			}
		}
	}
}
