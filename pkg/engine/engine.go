package engine

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-httpcore/httpcore/pkg/connection"
	"github.com/go-httpcore/httpcore/pkg/constants"
	"github.com/go-httpcore/httpcore/pkg/decoder"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/framing"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/manager"
	"github.com/go-httpcore/httpcore/pkg/proxyrouter"
	"github.com/go-httpcore/httpcore/pkg/redirect"
	"github.com/go-httpcore/httpcore/pkg/retry"
	"github.com/go-httpcore/httpcore/pkg/telemetry"
	"github.com/go-httpcore/httpcore/pkg/timeout"
	"github.com/go-httpcore/httpcore/pkg/timing"
	"github.com/go-httpcore/httpcore/pkg/urlutil"
)

// Manager is the top-level entry point: one Manager owns a bounded LRU of
// per-origin connection pools and applies one Config's retry/redirect/TLS/
// proxy policy across every request it issues, the same shape as the
// teacher's transport-level client wrapped around pkg/pool and pkg/manager.
type Manager struct {
	cfg   Config
	pools *manager.Manager
}

// New constructs a Manager. Zero-valued Config fields take the package
// defaults (constants.DefaultManagerMaxPools pools of
// constants.DefaultPoolMaxSize connections each, a no-op Logger, and
// retry.DefaultPolicy()).
func New(cfg Config) *Manager {
	if cfg.NumPools <= 0 {
		cfg.NumPools = constants.DefaultManagerMaxPools
	}
	if cfg.PoolMaxSize <= 0 {
		cfg.PoolMaxSize = constants.DefaultPoolMaxSize
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Noop()
	}
	return &Manager{
		cfg:   cfg,
		pools: manager.New(cfg.NumPools, cfg.PoolMaxSize, cfg.MaxIdleTime),
	}
}

// Close closes every pooled connection and, if configured, the HTTP/2
// backend's idle connections.
func (m *Manager) Close() {
	m.pools.Close()
	if m.cfg.Backend != nil {
		m.cfg.Backend.Close()
	}
}

// Get, Post, Put, Delete, and Head are thin convenience wrappers over
// Urlopen for the common verbs.
func (m *Manager) Get(ctx context.Context, url string, opts RequestOptions) (*Response, error) {
	return m.Urlopen(ctx, http.MethodGet, url, opts)
}

func (m *Manager) Post(ctx context.Context, url string, opts RequestOptions) (*Response, error) {
	return m.Urlopen(ctx, http.MethodPost, url, opts)
}

func (m *Manager) Put(ctx context.Context, url string, opts RequestOptions) (*Response, error) {
	return m.Urlopen(ctx, http.MethodPut, url, opts)
}

func (m *Manager) Delete(ctx context.Context, url string, opts RequestOptions) (*Response, error) {
	return m.Urlopen(ctx, http.MethodDelete, url, opts)
}

func (m *Manager) Head(ctx context.Context, url string, opts RequestOptions) (*Response, error) {
	return m.Urlopen(ctx, http.MethodHead, url, opts)
}

// Urlopen is the composed algorithm every verb funnels through: parse the
// URL, loop over (dial-or-reuse -> send -> read) attempts, handing any
// failure or forced-retry status to pkg/retry and any 3xx to pkg/redirect,
// until a final response is ready or the retry/redirect budget is
// exhausted.
func (m *Manager) Urlopen(ctx context.Context, method, rawURL string, opts RequestOptions) (*Response, error) {
	u, err := urlutil.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	state := retry.NewState(m.policyFor(opts))

	decodeContent := m.cfg.DecodeContent
	if opts.DecodeContent != nil {
		decodeContent = *opts.DecodeContent
	}
	followRedirects := m.cfg.FollowRedirects
	if opts.Redirect != nil {
		followRedirects = *opts.Redirect
	}

	curMethod := method
	curURL := u
	curHeaders := opts.Headers
	if curHeaders == nil {
		curHeaders = headers.New()
	}
	curBody := opts.Body
	bodySeekable := opts.BodySeekable

	for {
		to, err := m.timeoutFor(opts)
		if err != nil {
			return nil, err
		}

		resp, attemptErr := m.attempt(ctx, curMethod, curURL, curHeaders, curBody, decodeContent, to)
		if attemptErr != nil {
			allowed := state.MethodAllowed(curMethod)
			next, rerr := state.Increment(curMethod, curURL.Authority(), retry.Outcome{Category: classify(attemptErr), Err: attemptErr}, allowed)
			if rerr != nil {
				return nil, rerr
			}
			m.cfg.Logger.RetryAttempt(curMethod, curURL.String(), next.Retries(), attemptErr)
			waitContext(ctx, next.Backoff(""))
			state = next
			continue
		}

		if followRedirects && redirect.IsRedirectStatus(resp.Status) {
			nextReq, rerr := redirect.Apply(&redirect.Request{
				Method:       curMethod,
				URL:          curURL,
				Headers:      curHeaders,
				Body:         curBody,
				BodySeekable: bodySeekable,
			}, resp.Status, resp.Headers.Get("Location"))
			if rerr != nil {
				resp.Close()
				return nil, rerr
			}
			if nextReq != nil {
				resp.ReleaseConn()
				next, rerr := state.Increment(curMethod, curURL.Authority(), retry.Outcome{Category: retry.CategoryRedirect}, true)
				if rerr != nil {
					return nil, rerr
				}
				m.cfg.Logger.Redirect(curMethod, curURL.String(), nextReq.URL.String(), resp.Status)
				state = next
				curMethod = nextReq.Method
				curURL = nextReq.URL
				curHeaders = nextReq.Headers
				curBody = nextReq.Body
				bodySeekable = nextReq.BodySeekable
				continue
			}
		}

		if state.IsForcedStatus(resp.Status) {
			retryAfter := resp.Headers.Get("Retry-After")
			next, rerr := state.Increment(curMethod, curURL.Authority(), retry.Outcome{
				Category: retry.CategoryStatus, StatusCode: resp.Status, RetryAfter: retryAfter,
			}, true)
			if rerr != nil {
				resp.Close()
				return nil, rerr
			}
			backoff := next.Backoff(retryAfter)
			resp.Close()
			m.cfg.Logger.RetryAttempt(curMethod, curURL.String(), next.Retries(), nil)
			waitContext(ctx, backoff)
			state = next
			continue
		}

		if opts.PreloadContent {
			if err := resp.ensureLoaded(); err != nil {
				return nil, err
			}
		}
		return resp, nil
	}
}

func (m *Manager) policyFor(opts RequestOptions) *retry.Policy {
	if opts.Retries != nil {
		return opts.Retries
	}
	return m.cfg.DefaultRetry
}

func (m *Manager) timeoutFor(opts RequestOptions) (*timeout.Timeout, error) {
	if opts.Timeout != nil {
		return opts.Timeout, nil
	}
	return timeout.New(
		durationOrDefault(m.cfg.ConnectTimeout),
		durationOrDefault(m.cfg.ReadTimeout),
		durationOrDefault(m.cfg.TotalTimeout),
	)
}

func durationOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return timeout.Default
	}
	return d
}

func waitContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// attempt performs exactly one dial-or-reuse/send/read cycle.
func (m *Manager) attempt(ctx context.Context, method string, u *urlutil.Url, hdrs *headers.Dict, body io.Reader, decodeContent bool, to *timeout.Timeout) (*Response, error) {
	to.StartConnect()

	plan := m.routeFor(u)

	if m.cfg.Backend != nil {
		return m.attemptBackend(ctx, method, u, hdrs, body, plan, decodeContent)
	}

	p, err := m.pools.PoolFor(plan.key)
	if err != nil {
		return nil, err
	}

	conn, shouldDial, err := p.Acquire(m.cfg.Block)
	if err != nil {
		return nil, err
	}

	if shouldDial {
		dialTimeout := m.cfg.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = constants.DefaultConnTimeout
		}
		conn, err = m.dial(ctx, u, plan, dialTimeout)
		if err != nil {
			p.Discard()
			return nil, err
		}
	}

	req := &framing.Request{
		Method:     method,
		RequestURI: plan.requestURI,
		Headers:    m.mergeHeaders(hdrs, u, plan, decodeContent),
		Body:       body,
	}

	earlyResponse, err := conn.SendRequest(req, to)
	if err != nil {
		conn.Close()
		p.Discard()
		return nil, err
	}

	head, mode, length, err := conn.ReadResponse(method)
	if err != nil {
		conn.Close()
		p.Discard()
		return nil, err
	}

	ourState := framing.OurDone
	if earlyResponse {
		ourState = framing.OurSendingBody
	}

	return newResponse(head, mode, length, conn, p, decodeContent, framing.ReuseSafe(head, ourState)), nil
}

func (m *Manager) attemptBackend(ctx context.Context, method string, u *urlutil.Url, hdrs *headers.Dict, body io.Reader, plan routePlan, decodeContent bool) (*Response, error) {
	req := &framing.Request{
		Method:     method,
		RequestURI: plan.requestURI,
		Headers:    m.mergeHeaders(hdrs, u, plan, decodeContent),
		Body:       body,
	}
	head, respBody, err := m.cfg.Backend.Send(ctx, req, u.String())
	if err != nil {
		return nil, err
	}
	return newHTTP2Response(head, respBody, decodeContent), nil
}

// routePlan is the routing decision for one destination URL: which pool key
// identifies it, what request-target form to serialize, and whether (and
// how) a proxy sits in the path.
type routePlan struct {
	key        manager.PoolKey
	requestURI string
	useProxy   bool
	tunnel     bool
}

func (m *Manager) routeFor(u *urlutil.Url) routePlan {
	key := manager.PoolKey{Scheme: u.Scheme, Host: u.Host, Port: u.EffectivePort()}
	if u.IsSecure() {
		key.TLSFingerprint = m.tlsFingerprintKey()
	}
	if m.cfg.Proxy == nil {
		return routePlan{key: key, requestURI: u.RequestURI()}
	}

	key.ProxyType = m.cfg.Proxy.URL.Scheme
	key.ProxyHost = m.cfg.Proxy.URL.Host
	key.ProxyPort = m.cfg.Proxy.URL.EffectivePort()

	if proxyrouter.RequiresTunnel(m.cfg.Proxy, m.cfg.ProxyConfig, u.Scheme) {
		return routePlan{key: key, requestURI: u.RequestURI(), useProxy: true, tunnel: true}
	}
	return routePlan{key: key, requestURI: u.String(), useProxy: true, tunnel: false}
}

// dial establishes the physical connection for plan: direct, CONNECT/SOCKS
// tunneled, or a plain connection to the proxy itself for absolute-form
// forwarding. TLS to the destination is layered on afterward unless the
// connection terminates at the proxy (forward-proxied HTTPS is not
// tunneled, so there is no destination TLS leg for this client to see).
func (m *Manager) dial(ctx context.Context, u *urlutil.Url, plan routePlan, dialTimeout time.Duration) (*connection.Connection, error) {
	var rawConn net.Conn
	var err error

	switch {
	case plan.useProxy && plan.tunnel:
		rawConn, err = proxyrouter.Connect(ctx, m.cfg.Proxy, u, dialTimeout)
		if err != nil {
			return nil, err
		}
	case plan.useProxy:
		proxyHost := m.cfg.Proxy.URL.Host
		proxyPort := m.cfg.Proxy.URL.EffectivePort()
		dialer := m.cfg.netDialer(dialTimeout)
		rawConn, err = dialer.DialContext(ctx, "tcp", net.JoinHostPort(proxyHost, strconv.Itoa(proxyPort)))
		if err != nil {
			return nil, errors.NewConnectionError(proxyHost, proxyPort, err)
		}
		if m.cfg.Proxy.URL.Scheme == "https" {
			tlsCfg := m.cfg.Proxy.TLS
			if tlsCfg == nil {
				tlsCfg = &tls.Config{ServerName: proxyHost}
			} else {
				tlsCfg = tlsCfg.Clone()
				if tlsCfg.ServerName == "" {
					tlsCfg.ServerName = proxyHost
				}
			}
			tlsConn := tls.Client(rawConn, tlsCfg)
			if hsErr := tlsConn.HandshakeContext(ctx); hsErr != nil {
				rawConn.Close()
				return nil, errors.NewTLSError(proxyHost, proxyPort, hsErr)
			}
			rawConn = tlsConn
		}
	default:
		rawConn, _, err = connection.Dial(ctx, nil, u.Host, u.EffectivePort(), dialTimeout, m.happyEyeballsDelay())
		if err != nil {
			return nil, err
		}
	}

	conn := &connection.Connection{Conn: rawConn, State: connection.StateActive}
	conn.Metadata.ConnectionID = connection.NextConnectionID()
	logger := m.cfg.Logger
	conn.OnHeaderWarning = func(line string) { logger.HeaderParseWarning(line, nil) }

	if u.IsSecure() && (!plan.useProxy || plan.tunnel) {
		handshakeTimeout := m.cfg.HandshakeTimeout
		if handshakeTimeout <= 0 {
			handshakeTimeout = dialTimeout
		}
		tlsConn, err := connection.UpgradeTLS(ctx, rawConn, m.tlsConfigFor(u), timing.NewTimer(), &conn.Metadata, handshakeTimeout)
		if err != nil {
			rawConn.Close()
			return nil, err
		}
		conn.Conn = tlsConn
	}

	return conn, nil
}

func (m *Manager) happyEyeballsDelay() time.Duration {
	if m.cfg.HappyEyeballsDelay > 0 {
		return m.cfg.HappyEyeballsDelay
	}
	return constants.DefaultHappyEyeballsDelay
}

// tlsFingerprintKey hashes the TLS material that would otherwise be invisible
// to PoolKey equality, so connections pinned to different certificates or
// presenting different client certificates never share a pooled connection
// (§4.8's "differing TLS material MUST live in distinct pools" requirement).
// A Config with no TLS customization hashes to "", matching the teacher's
// behavior of one pool per origin when nothing origin-specific is set.
func (m *Manager) tlsFingerprintKey() string {
	cfg := m.cfg.TLS
	if cfg == nil {
		return ""
	}
	if cfg.Fingerprint == "" && len(cfg.ClientCertPEM) == 0 && cfg.ClientCertFile == "" &&
		cfg.MinTLSVersion == 0 && cfg.MaxTLSVersion == 0 && len(cfg.CipherSuites) == 0 {
		return ""
	}
	h := sha256.New()
	io.WriteString(h, cfg.Fingerprint)
	fmt.Fprintf(h, ":%d:", cfg.FingerprintAlgo)
	h.Write(cfg.ClientCertPEM)
	io.WriteString(h, cfg.ClientCertFile)
	fmt.Fprintf(h, "%d:%d", cfg.MinTLSVersion, cfg.MaxTLSVersion)
	for _, c := range cfg.CipherSuites {
		fmt.Fprintf(h, ":%d", c)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (m *Manager) tlsConfigFor(u *urlutil.Url) *connection.Config {
	var cfg connection.Config
	if m.cfg.TLS != nil {
		cfg = *m.cfg.TLS
	}
	cfg.Host = u.Host
	cfg.Port = u.EffectivePort()
	logger := m.cfg.Logger
	cfg.OnDeprecatedVerification = func(host string) { logger.DeprecatedCommonNameVerification(host) }
	cfg.OnDeprecatedTLSVersion = func(host string, version uint16) { logger.DeprecatedTLSVersion(host, version) }
	return &cfg
}

// mergeHeaders layers Config.DefaultHeaders under the caller's headers,
// synthesizes Host if the caller didn't set one, advertises
// Accept-Encoding when decodeContent is on, and attaches Proxy-Authorization
// only to a forward-proxied (non-tunneled) leg — a tunneled request's
// Proxy-Authorization already went out on the CONNECT itself and must not
// reappear on the tunneled request per §4.9's scoping rule.
func (m *Manager) mergeHeaders(user *headers.Dict, u *urlutil.Url, plan routePlan, decodeContent bool) *headers.Dict {
	out := headers.New()
	if m.cfg.DefaultHeaders != nil {
		for _, kv := range m.cfg.DefaultHeaders.RawItems() {
			out.Add(kv[0], kv[1])
		}
	}
	if user != nil {
		for _, name := range user.Names() {
			out.Remove(name)
			for _, v := range user.GetAll(name) {
				out.Add(name, v)
			}
		}
	}
	if !out.Has("Host") {
		out.Set("Host", u.HostHeader())
	}
	if decodeContent && !out.Has("Accept-Encoding") {
		out.Set("Accept-Encoding", decoder.AcceptEncoding())
	}
	if plan.useProxy && !plan.tunnel && m.cfg.Proxy.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(m.cfg.Proxy.Username + ":" + m.cfg.Proxy.Password))
		out.Set("Proxy-Authorization", "Basic "+auth)
	}
	return out
}

// classify maps a transport-layer error onto the retry category §4.10's
// table assigns it.
func classify(err error) retry.Category {
	e, ok := err.(*errors.Error)
	if !ok {
		return retry.CategoryOther
	}
	switch e.Type {
	case errors.ErrorTypeDNS, errors.ErrorTypeConnection:
		return retry.CategoryConnect
	case errors.ErrorTypeTimeout:
		if e.Op == "dial" {
			return retry.CategoryConnect
		}
		return retry.CategoryRead
	case errors.ErrorTypeProtocol, errors.ErrorTypeIO:
		return retry.CategoryRead
	default:
		return retry.CategoryOther
	}
}
