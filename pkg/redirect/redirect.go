// Package redirect implements the 3xx chain walker (§4.11): Location
// resolution against the current URL, method/body rewriting per status
// code, and cross-origin stripping of credential headers.
package redirect

import (
	"io"
	"strings"

	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/urlutil"
)

// Request is the minimal shape the Redirector needs from one logical
// request/response round: the values it might mutate for the next hop.
type Request struct {
	Method       string
	URL          *urlutil.Url
	Headers      *headers.Dict
	Body         io.Reader
	BodySeekable bool // true if Body supports Seek(0, io.SeekStart) for 307/308 replay
}

// bodyDroppingStatuses rewrites POST to GET and drops the body, per §4.11.
var bodyDroppingStatuses = map[int]bool{301: true, 302: true, 303: true}

// bodyPreservingStatuses keep method and body verbatim, failing instead if
// the body cannot be rewound.
var bodyPreservingStatuses = map[int]bool{307: true, 308: true}

// Apply computes the next Request for a 3xx response carrying a Location
// header, or returns (nil, nil) if status isn't a redirect this package
// handles (callers should treat that as "not a redirect").
func Apply(cur *Request, status int, location string) (*Request, error) {
	if !bodyDroppingStatuses[status] && !bodyPreservingStatuses[status] {
		return nil, nil
	}
	if location == "" {
		return nil, errors.LocationValueError("redirect response missing Location header", nil)
	}

	next := &Request{
		Method:       cur.Method,
		Headers:      headers.Clone(cur.Headers),
		Body:         cur.Body,
		BodySeekable: cur.BodySeekable,
	}

	resolved, err := cur.URL.ResolveReference(location)
	if err != nil {
		return nil, err
	}
	next.URL = resolved

	switch {
	case bodyDroppingStatuses[status]:
		if cur.Method == "POST" {
			next.Method = "GET"
			next.Body = nil
			next.BodySeekable = true
			next.Headers.Remove("Content-Type")
			next.Headers.Remove("Content-Length")
			next.Headers.Remove("Transfer-Encoding")
		}
	case bodyPreservingStatuses[status]:
		if cur.Body != nil && !cur.BodySeekable {
			return nil, errors.UnrewindableBodyError("307/308 redirect requires replaying a non-seekable request body")
		}
		if s, ok := cur.Body.(io.Seeker); ok {
			if _, err := s.Seek(0, io.SeekStart); err != nil {
				return nil, errors.UnrewindableBodyError("rewinding request body for 307/308 redirect failed: " + err.Error())
			}
		}
	}

	if !sameOrigin(cur.URL, next.URL) {
		next.Headers.Remove("Authorization")
		next.Headers.Remove("Proxy-Authorization")
		next.Headers.Remove("Cookie")
	}

	return next, nil
}

// sameOrigin compares scheme, host, and effective port — the rule §4.9
// gates auth-header stripping on.
func sameOrigin(a, b *urlutil.Url) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Host, b.Host) &&
		a.EffectivePort() == b.EffectivePort()
}

// IsRedirectStatus reports whether status is a 3xx this package understands.
func IsRedirectStatus(status int) bool {
	return bodyDroppingStatuses[status] || bodyPreservingStatuses[status]
}
