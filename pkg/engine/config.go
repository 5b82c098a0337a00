// Package engine wires every other package into the top-level request/response
// cycle: URL routing, pool acquisition, connection dialing, request framing,
// response parsing, redirect following, and retry budget tracking. It is the
// one package client code is expected to import directly.
package engine

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/go-httpcore/httpcore/pkg/connection"
	"github.com/go-httpcore/httpcore/pkg/framing"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/proxyrouter"
	"github.com/go-httpcore/httpcore/pkg/retry"
	"github.com/go-httpcore/httpcore/pkg/telemetry"
	"github.com/go-httpcore/httpcore/pkg/timeout"
)

// HttpBackend is the compile-time-selectable alternate transport a Manager
// may delegate to instead of driving pkg/connection/pkg/framing itself.
// pkg/http2backend.Backend satisfies this; leaving Config.Backend nil keeps
// the Manager on its native HTTP/1.1 engine.
type HttpBackend interface {
	Send(ctx context.Context, req *framing.Request, urlStr string) (*framing.ResponseHead, []byte, error)
	Close() error
}

// Config controls one Manager: pool sizing, TLS/proxy defaults, and the
// ambient retry/timeout/logging policy every request inherits unless a
// RequestOptions overrides it for that one call.
type Config struct {
	// NumPools bounds how many distinct origins (or origin+proxy pairs) the
	// Manager's LRU keeps pools for at once.
	NumPools int
	// PoolMaxSize bounds how many connections one origin's pool holds.
	PoolMaxSize int
	// Block, when true, makes pool acquisition wait for a free slot instead
	// of failing immediately with EmptyPoolError.
	Block bool
	// MaxIdleTime is handed to every pool as its idle limit for
	// pool.EvictStale; zero disables that eviction. The Manager itself never
	// calls EvictStale, so idle connections are not evicted by age on their
	// own.
	MaxIdleTime time.Duration

	// DefaultHeaders are merged under any caller-supplied headers for every
	// request this Manager issues.
	DefaultHeaders *headers.Dict

	// ConnectTimeout, ReadTimeout, TotalTimeout seed the per-request Timeout
	// when RequestOptions.Timeout is nil. Zero falls back to
	// timeout.Default (the ambient process default).
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TotalTimeout   time.Duration

	// DialTimeout bounds the raw TCP connect (and happy-eyeballs race);
	// distinct from ConnectTimeout, which is the logical budget Timeout
	// tracks for retry/backoff accounting.
	DialTimeout        time.Duration
	HandshakeTimeout   time.Duration
	HappyEyeballsDelay time.Duration

	// SourceAddress binds the connection to a forward (non-tunneling) proxy
	// to a specific local address. Direct connections and CONNECT/SOCKS
	// tunnels are dialed without it.
	SourceAddress string

	// TLS is the template connection.Config applied to every HTTPS origin;
	// Host/Port are overwritten per request. Leave nil for Go's default TLS
	// behavior (system roots, SNI from the request host).
	TLS *connection.Config

	// Proxy, if set, routes every request through this upstream proxy. A
	// Manager speaks to exactly one proxy, matching the one-ProxyManager-
	// per-proxy convention; route different proxies through separate
	// Managers.
	Proxy       *proxyrouter.Proxy
	ProxyConfig *proxyrouter.Config

	// DefaultRetry seeds retry.NewState when RequestOptions.Retries is nil.
	// A nil Config.DefaultRetry falls back to retry.DefaultPolicy().
	DefaultRetry *retry.Policy

	// DecodeContent, when true, adds an Accept-Encoding header advertising
	// every registered pkg/decoder coding and transparently decodes
	// Content-Encoding on read.
	DecodeContent bool

	// FollowRedirects, when true, walks 3xx chains via pkg/redirect instead
	// of returning the redirect response as-is.
	FollowRedirects bool

	// Logger receives malformed-header warnings, deprecated TLS verification
	// and version notices, retries, and redirects. Pool eviction and close
	// events are not reported to it. Nil disables all of it.
	Logger *telemetry.Logger

	// Backend, if set, replaces the native HTTP/1.1 engine entirely — every
	// request this Manager issues is dispatched through it instead of
	// pkg/pool/pkg/connection/pkg/framing. Intended for pkg/http2backend.
	Backend HttpBackend
}

func (c Config) netDialer(dialTimeout time.Duration) *net.Dialer {
	d := &net.Dialer{Timeout: dialTimeout}
	if c.SourceAddress != "" {
		if addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(c.SourceAddress, "0")); err == nil {
			d.LocalAddr = addr
		}
	}
	return d
}

// RequestOptions controls one call to Manager.Urlopen/Request, overriding
// the Manager's Config defaults for that call only.
type RequestOptions struct {
	Headers      *headers.Dict
	Body         io.Reader
	BodySeekable bool

	// PreloadContent, when true, fully reads and buffers the response body
	// before Urlopen returns, releasing the connection back to its pool
	// immediately. Set false to stream via Response.Stream/Read instead,
	// deferring release until the body is fully consumed or Close is
	// called.
	PreloadContent bool

	// DecodeContent overrides Config.DecodeContent for this call.
	DecodeContent *bool

	// Redirect overrides Config.FollowRedirects for this call.
	Redirect *bool

	// Retries overrides Config.DefaultRetry for this call.
	Retries *retry.Policy

	// Timeout overrides the Manager's Config-derived Timeout for this call.
	Timeout *timeout.Timeout
}

// DefaultRequestOptions returns the conventional per-request defaults:
// preload the body and inherit the Manager's decode/redirect settings.
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{PreloadContent: true}
}
