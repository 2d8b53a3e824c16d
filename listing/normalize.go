package listing

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xeptore/flaw/v8"
)

func EnsureTrailingSlash(p string) string {
	if p == "" {
		return "/"
	}
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// NormalizePath reduces any folder reference, relative or absolute, to its
// origin-relative path with a guaranteed trailing slash. Query and fragment
// components are dropped. The result is stable: normalizing twice yields
// the same value.
func NormalizePath(origin *url.URL, input string) string {
	if input == "" {
		return "/"
	}
	u, err := origin.Parse(input)
	if nil != err {
		return EnsureTrailingSlash(input)
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return EnsureTrailingSlash(p)
}

// PathComponent resolves ref against origin and returns its escaped path,
// or the empty string when ref does not resolve.
func PathComponent(origin *url.URL, ref string) string {
	u, err := origin.Parse(ref)
	if nil != err {
		return ""
	}
	return u.EscapedPath()
}

// FileName returns the last segment of a URL path, percent-decoded. The
// raw segment is returned as-is when decoding fails.
func FileName(p string) string {
	p = strings.TrimSuffix(p, "/")
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		p = p[idx+1:]
	}
	if decoded, err := url.PathUnescape(p); nil == err {
		return decoded
	}
	return p
}

// ResolveFolderURL turns a folder path or absolute URL into the absolute
// folder URL, with a trailing slash, resolved against the app origin.
func ResolveFolderURL(origin *url.URL, pathOrURL string) (*url.URL, error) {
	u, err := origin.Parse(EnsureTrailingSlash(pathOrURL))
	if nil != err {
		flawP := flaw.P{"input": pathOrURL}
		return nil, flaw.From(fmt.Errorf("failed to resolve folder URL: %v", err)).Append(flawP)
	}
	return u, nil
}
