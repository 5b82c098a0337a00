// Package urlutil implements the RFC 3986 URL model the engine routes on:
// parsing, normalization, request-URI synthesis, and the proxy-tunneling
// decision that determines whether a request goes through a CONNECT tunnel
// or gets forwarded in absolute form.
package urlutil

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/go-httpcore/httpcore/pkg/errors"
)

// Url is the parsed, case-normalized representation of a request target.
// Scheme and Host are always lowercase; Path preserves the exact bytes the
// caller supplied (beyond prepending a leading "/" when one is missing).
type Url struct {
	Scheme   string
	Userinfo string
	Host     string
	Port     int // 0 means "no explicit port"
	Path     string
	Query    string
	Fragment string
}

// Parse validates and normalizes a URL string per RFC 3986 Appendix B.
func Parse(raw string) (*Url, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.InvalidUrl(raw, err)
	}
	if u.Scheme == "" {
		return nil, errors.InvalidUrl(raw, nil)
	}

	out := &Url{
		Scheme:   strings.ToLower(u.Scheme),
		Host:     strings.ToLower(u.Hostname()),
		Path:     u.EscapedPath(),
		Query:    u.RawQuery,
		Fragment: u.Fragment,
	}
	if u.User != nil {
		out.Userinfo = u.User.String()
	}

	if portStr := u.Port(); portStr != "" {
		port, convErr := strconv.Atoi(portStr)
		if convErr != nil || port < 0 || port > 65535 {
			return nil, errors.InvalidUrl(raw, convErr)
		}
		out.Port = port
	}

	if out.Path != "" && !strings.HasPrefix(out.Path, "/") {
		out.Path = "/" + out.Path
	}

	if !validComponent(out.Host) {
		return nil, errors.InvalidUrl(raw, nil)
	}

	return out, nil
}

// validComponent rejects control characters and spaces in a host/authority
// component, the character classes rfc3986's ABNF excludes from `reg-name`.
func validComponent(s string) bool {
	for _, r := range s {
		if r <= 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// RequestURI is path (default "/") + "?" + query, when present.
func (u *Url) RequestURI() string {
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.Query != "" {
		return path + "?" + u.Query
	}
	return path
}

// Authority is [userinfo@]host[:port].
func (u *Url) Authority() string {
	var b strings.Builder
	if u.Userinfo != "" {
		b.WriteString(u.Userinfo)
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(u.Port))
	}
	return b.String()
}

// HostHeader is the value the Host header always carries: host plus a port
// suffix only when the port is non-default for the scheme, and never
// userinfo.
func (u *Url) HostHeader() string {
	if u.Port == 0 || u.Port == defaultPort(u.Scheme) {
		return u.Host
	}
	return u.Host + ":" + strconv.Itoa(u.Port)
}

// EffectivePort returns the explicit port, or the scheme's default.
func (u *Url) EffectivePort() int {
	if u.Port != 0 {
		return u.Port
	}
	return defaultPort(u.Scheme)
}

func defaultPort(scheme string) int {
	switch scheme {
	case "http", "ws", "socks4", "socks4a", "socks5", "socks5h":
		return 80
	case "https", "wss":
		return 443
	default:
		return 0
	}
}

// String renders the URL back to wire form. The round-trip is semantically,
// not byte-for-byte, equivalent: an explicit port matching the scheme default
// is preserved as written by the caller (EffectivePort is available for
// comparisons that should ignore it), but a trailing bare ":" with no port
// digits is never reintroduced.
func (u *Url) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Authority())
	if u.Path != "" {
		b.WriteString(u.Path)
	} else {
		b.WriteString("/")
	}
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(u.Query)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// IsSecure reports whether this origin needs a TLS connection.
func (u *Url) IsSecure() bool {
	return u.Scheme == "https" || u.Scheme == "wss"
}

// ResolveReference resolves a Location header (possibly relative) against
// this URL, the way a 3xx redirect is followed.
func (u *Url) ResolveReference(location string) (*Url, error) {
	base, err := url.Parse(u.String())
	if err != nil {
		return nil, errors.LocationValueError("current URL is not a valid base", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, errors.LocationValueError("invalid Location header", err)
	}
	resolved := base.ResolveReference(ref)
	return Parse(resolved.String())
}

// ProxyConfig describes how a configured proxy should be used for a given
// destination scheme; it mirrors the Manager-level knob that lets a caller
// force HTTPS destinations to be forwarded in absolute form instead of
// CONNECT-tunneled (rare, but some proxies terminate TLS themselves).
type ProxyConfig struct {
	ForwardForHTTPS bool
}

// ConnectionRequiresHTTPTunnel reports whether reaching destinationScheme
// through the given proxy requires a CONNECT tunnel. HTTP destinations never
// tunnel; HTTPS (or anything else) tunnels unless the proxy config opts into
// forwarding HTTPS in absolute form.
func ConnectionRequiresHTTPTunnel(proxy *Url, cfg *ProxyConfig, destinationScheme string) bool {
	if proxy == nil {
		return false
	}
	if destinationScheme == "http" {
		return false
	}
	if cfg != nil && cfg.ForwardForHTTPS {
		return false
	}
	return true
}
