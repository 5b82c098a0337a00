// Package connection implements one physical transport: happy-eyeballs
// dialing, TLS upgrade with SNI/fingerprint/hostname verification, and the
// send-request/read-response pair with early-response detection during body
// upload.
package connection

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/framing"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/timeout"
	"github.com/go-httpcore/httpcore/pkg/timing"
	"github.com/go-httpcore/httpcore/pkg/tlsconfig"
)

// State tracks the lifecycle of one Connection.
type State int

const (
	StateIdle State = iota
	StateActive
	StateMustClose
	StateClosed
)

// FingerprintAlgo selects the digest used for certificate pinning.
type FingerprintAlgo int

const (
	FingerprintNone FingerprintAlgo = iota
	FingerprintMD5
	FingerprintSHA1
	FingerprintSHA256
)

// Config holds everything needed to dial and, for https, upgrade one
// connection. It generalizes the teacher's transport.Config to this
// package's narrower per-connection scope (pooling lives in pkg/pool now).
type Config struct {
	Host string
	Port int

	SNI        string
	DisableSNI bool

	InsecureTLS   bool
	TLSConfig     *tls.Config
	CustomCACerts [][]byte

	ClientCertPEM, ClientKeyPEM   []byte
	ClientCertFile, ClientKeyFile string

	MinTLSVersion    uint16
	MaxTLSVersion    uint16
	TLSRenegotiation tls.RenegotiationSupport
	CipherSuites     []uint16

	// Profile picks a pkg/tlsconfig.VersionProfile (Modern/Secure/Compatible/
	// Legacy) as the min/max version range whenever MinTLSVersion/
	// MaxTLSVersion above are left unset; an explicit Min/MaxTLSVersion always
	// wins over Profile.
	Profile *tlsconfig.VersionProfile

	// OnDeprecatedTLSVersion, if set, is called after a handshake that
	// negotiated a version pkg/tlsconfig.IsVersionDeprecated flags (below
	// TLS 1.2) — distinct from OnDeprecatedVerification, which covers the
	// CommonName hostname-verification fallback rather than protocol version.
	OnDeprecatedTLSVersion func(host string, version uint16)

	// Fingerprint pins the expected leaf certificate digest. Empty disables
	// pinning.
	Fingerprint     string
	FingerprintAlgo FingerprintAlgo

	// AllowCommonNameFallback, when true, falls back to matching the
	// certificate's CommonName if no SAN entries match — deprecated per
	// RFC 2818 but still seen against legacy servers. Go's crypto/tls does
	// not support this natively, so it is implemented via
	// InsecureSkipVerify plus a manual VerifyPeerCertificate callback.
	AllowCommonNameFallback bool

	// OnDeprecatedVerification is called when a handshake only succeeded via
	// the CommonName fallback, so callers can log it.
	OnDeprecatedVerification func(host string)
}

// Metadata records what actually happened during Dial/Upgrade, mirroring
// the teacher's ConnectionMetadata.
type Metadata struct {
	ConnectedIP        string
	ConnectedPort      int
	NegotiatedProtocol string
	LocalAddr          string
	RemoteAddr         string
	ConnectionID       uint64
	TLSVersion         string
	TLSCipherSuite     string
	TLSServerName      string
	TLSResumed         bool
}

var connectionIDCounter uint64

// Connection is one physical transport, owned exclusively by one goroutine
// at a time.
type Connection struct {
	Conn     net.Conn
	Metadata Metadata
	State    State

	// OnHeaderWarning, if set, receives malformed response header lines
	// instead of the parser silently discarding them (§4.4's warn-don't-raise
	// rule). Set this before the first ReadResponse call.
	OnHeaderWarning func(line string)

	parser *framing.Parser
}

// Dial performs happy-eyeballs (RFC 6555) dual-stack connection racing: it
// resolves both A and AAAA records, starts the IPv6 attempt first, and
// starts the IPv4 attempt after a short head start delay if IPv6 hasn't won
// yet. The teacher dials only the first resolver result; this generalizes
// that per spec requirements for dual-stack hosts.
func Dial(ctx context.Context, resolver *net.Resolver, host string, port int, connTimeout, happyEyeballsDelay time.Duration) (net.Conn, string, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if ip := net.ParseIP(host); ip != nil {
		conn, addr, err := dialOne(ctx, net.JoinHostPort(host, strconv.Itoa(port)), connTimeout)
		if err != nil {
			return nil, "", errors.NewConnectionError(host, port, err)
		}
		return conn, addr, nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, "", errors.NewDNSError(host, err)
	}
	if len(addrs) == 0 {
		return nil, "", errors.NewDNSError(host, errors.NewValidationError("no IP addresses found"))
	}

	var v6, v4 []net.IPAddr
	for _, a := range addrs {
		if a.IP.To4() != nil {
			v4 = append(v4, a)
		} else {
			v6 = append(v6, a)
		}
	}

	type result struct {
		conn net.Conn
		ip   string
		err  error
	}
	resultCh := make(chan result, len(v4)+len(v6))
	racers := 0

	launch := func(ip net.IPAddr, delay time.Duration) {
		racers++
		go func() {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					resultCh <- result{nil, "", ctx.Err()}
					return
				}
			}
			addr := net.JoinHostPort(ip.IP.String(), strconv.Itoa(port))
			conn, _, err := dialOne(ctx, addr, connTimeout)
			resultCh <- result{conn, ip.IP.String(), err}
		}()
	}

	if len(v6) > 0 {
		launch(v6[0], 0)
	}
	if len(v4) > 0 {
		delay := happyEyeballsDelay
		if len(v6) == 0 {
			delay = 0
		}
		launch(v4[0], delay)
	}
	if racers == 0 {
		return nil, "", errors.NewDNSError(host, errors.NewValidationError("no usable addresses"))
	}

	var lastErr error
	var winner *result
	received := 0
	for i := 0; i < racers; i++ {
		r := <-resultCh
		received++
		if r.err == nil {
			winner = &r
			break
		}
		lastErr = r.err
	}
	// Drain remaining goroutines' results in the background so they don't
	// leak even though we've already picked a winner.
	go func() {
		for i := received; i < racers; i++ {
			if r := <-resultCh; r.conn != nil {
				r.conn.Close()
			}
		}
	}()

	if winner == nil {
		return nil, "", errors.NewConnectionError(host, port, lastErr)
	}
	return winner.conn, winner.ip, nil
}

func dialOne(ctx context.Context, addr string, timeout time.Duration) (net.Conn, string, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, "", err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}
	return conn, addr, nil
}

// UpgradeTLS wraps conn in a TLS client handshake per cfg, applying SNI
// priority, fingerprint pinning, and optional CommonName fallback.
func UpgradeTLS(ctx context.Context, conn net.Conn, cfg *Config, timer *timing.Timer, meta *Metadata, handshakeTimeout time.Duration) (net.Conn, error) {
	timer.StartTLS()
	defer timer.EndTLS()

	tlsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	var tlsCfg *tls.Config
	if cfg.TLSConfig != nil {
		tlsCfg = cfg.TLSConfig.Clone()
		if cfg.InsecureTLS {
			tlsCfg.InsecureSkipVerify = true
		}
	} else {
		tlsCfg = &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}
		if cfg.Profile != nil {
			tlsconfig.ApplyVersionProfile(tlsCfg, *cfg.Profile)
		} else {
			tlsCfg.MinVersion = tls.VersionTLS12
		}
		if len(cfg.CustomCACerts) > 0 {
			pool := x509.NewCertPool()
			for i, ca := range cfg.CustomCACerts {
				if !pool.AppendCertsFromPEM(ca) {
					return nil, errors.NewTLSError(cfg.Host, cfg.Port,
						errors.NewValidationError(fmt.Sprintf("failed to parse CA certificate at index %d", i)))
				}
			}
			tlsCfg.RootCAs = pool
		}
		tlsconfig.ConfigureSNI(tlsCfg, cfg.SNI, cfg.DisableSNI, cfg.Host)
	}

	switch {
	case cfg.MinTLSVersion > 0 || cfg.MaxTLSVersion > 0:
		if cfg.MinTLSVersion > 0 {
			tlsCfg.MinVersion = cfg.MinTLSVersion
		}
		if cfg.MaxTLSVersion > 0 {
			tlsCfg.MaxVersion = cfg.MaxTLSVersion
		}
	case cfg.Profile != nil && tlsCfg.MinVersion == 0 && tlsCfg.MaxVersion == 0:
		// Only reached for an explicit cfg.TLSConfig that left both versions
		// unset; the no-TLSConfig branch above already applied the profile.
		tlsconfig.ApplyVersionProfile(tlsCfg, *cfg.Profile)
	}
	if len(cfg.CipherSuites) > 0 {
		tlsCfg.CipherSuites = cfg.CipherSuites
	} else if len(tlsCfg.CipherSuites) == 0 && tlsCfg.MinVersion != 0 {
		tlsconfig.ApplyCipherSuites(tlsCfg, tlsCfg.MinVersion)
	}
	if cfg.TLSRenegotiation != 0 {
		tlsCfg.Renegotiation = cfg.TLSRenegotiation
	}

	if cert, err := loadClientCertificate(cfg); err != nil {
		return nil, errors.NewTLSError(cfg.Host, cfg.Port, err)
	} else if cert != nil {
		tlsCfg.Certificates = append(tlsCfg.Certificates, *cert)
	}

	requiresManualVerify := cfg.Fingerprint != "" || cfg.AllowCommonNameFallback
	if requiresManualVerify {
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyPeerCertificate = manualVerifier(cfg, tlsCfg)
	}

	if tlsCfg.ServerName != "" {
		meta.TLSServerName = tlsCfg.ServerName
	} else if !cfg.DisableSNI {
		meta.TLSServerName = cfg.Host
	}

	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(tlsCtx); err != nil {
		conn.Close()
		return nil, err
	}

	state := tlsConn.ConnectionState()
	meta.TLSVersion = tlsconfig.GetVersionName(state.Version)
	meta.TLSCipherSuite = tls.CipherSuiteName(state.CipherSuite)
	meta.NegotiatedProtocol = state.NegotiatedProtocol
	if meta.NegotiatedProtocol == "" {
		meta.NegotiatedProtocol = "HTTP/1.1"
	}
	meta.TLSResumed = state.DidResume

	if tlsconfig.IsVersionDeprecated(state.Version) && cfg.OnDeprecatedTLSVersion != nil {
		cfg.OnDeprecatedTLSVersion(cfg.Host, state.Version)
	}

	return tlsConn, nil
}

// manualVerifier implements certificate-chain verification plus fingerprint
// pinning and CommonName-fallback hostname matching, since setting
// InsecureSkipVerify disables Go's builtin path entirely.
func manualVerifier(cfg *Config, tlsCfg *tls.Config) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.NewTLSError(cfg.Host, cfg.Port, errors.NewValidationError("no peer certificates presented"))
		}

		if cfg.Fingerprint != "" {
			if err := verifyFingerprint(rawCerts[0], cfg.Fingerprint, cfg.FingerprintAlgo); err != nil {
				return err
			}
		}

		if cfg.InsecureTLS {
			return nil
		}

		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return errors.NewTLSError(cfg.Host, cfg.Port, err)
		}
		opts := x509.VerifyOptions{
			DNSName:       "",
			Roots:         tlsCfg.RootCAs,
			Intermediates: x509.NewCertPool(),
		}
		for _, raw := range rawCerts[1:] {
			if c, err := x509.ParseCertificate(raw); err == nil {
				opts.Intermediates.AddCert(c)
			}
		}
		if _, err := leaf.Verify(opts); err != nil {
			return errors.NewTLSError(cfg.Host, cfg.Port, err)
		}

		host := tlsCfg.ServerName
		if host == "" {
			host = cfg.Host
		}
		if err := leaf.VerifyHostname(host); err != nil {
			if !cfg.AllowCommonNameFallback || !strings.EqualFold(leaf.Subject.CommonName, host) {
				return errors.NewTLSError(cfg.Host, cfg.Port, err)
			}
			if cfg.OnDeprecatedVerification != nil {
				cfg.OnDeprecatedVerification(host)
			}
		}
		return nil
	}
}

func verifyFingerprint(der []byte, want string, algo FingerprintAlgo) error {
	var got string
	switch algo {
	case FingerprintSHA256:
		sum := sha256.Sum256(der)
		got = hex.EncodeToString(sum[:])
	case FingerprintSHA1:
		sum := sha1.Sum(der)
		got = hex.EncodeToString(sum[:])
	case FingerprintMD5:
		got = md5Hex(der)
	default:
		return errors.NewValidationError("fingerprint set but no algorithm selected")
	}
	want = strings.ToLower(strings.ReplaceAll(want, ":", ""))
	if !strings.EqualFold(got, want) {
		return errors.NewTLSError("", 0, errors.NewValidationError("certificate fingerprint mismatch"))
	}
	return nil
}

func md5Hex(der []byte) string {
	sum := md5.Sum(der)
	return hex.EncodeToString(sum[:])
}

func loadClientCertificate(cfg *Config) (*tls.Certificate, error) {
	hasPEM := len(cfg.ClientCertPEM) > 0 && len(cfg.ClientKeyPEM) > 0
	hasFile := cfg.ClientCertFile != "" && cfg.ClientKeyFile != ""
	if !hasPEM && !hasFile {
		return nil, nil
	}

	certPEM, keyPEM := cfg.ClientCertPEM, cfg.ClientKeyPEM
	if !hasPEM {
		var err error
		certPEM, err = os.ReadFile(cfg.ClientCertFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err = os.ReadFile(cfg.ClientKeyFile)
		if err != nil {
			return nil, err
		}
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// NextConnectionID returns a process-wide unique connection identifier.
func NextConnectionID() uint64 {
	return atomic.AddUint64(&connectionIDCounter, 1)
}

// SendRequest serializes and writes req to the connection, racing the write
// against read-readiness so an early response (e.g. 413 during a large
// upload) is detected without waiting for the full body to be sent.
func (c *Connection) SendRequest(req *framing.Request, to *timeout.Timeout) (earlyResponse bool, err error) {
	var buf strings.Builder
	if err := framing.SerializeHeader(&buf, req); err != nil {
		return false, err
	}
	if _, err := io.WriteString(c.Conn, buf.String()); err != nil {
		return false, errors.NewIOError("writing request headers", err)
	}

	if req.Body == nil {
		return false, nil
	}

	// The parser (and its bufio.Reader) must exist before the upload race
	// starts: the race peeks for read-readiness through it so a probed byte
	// stays buffered for ReadResponse instead of being stolen off the wire.
	if c.parser == nil {
		c.parser = framing.NewParser(c.Conn)
	}

	chunk := make([]byte, 32*1024)
	for {
		n, readErr := req.Body.Read(chunk)
		if n > 0 {
			// A non-positive read budget (the timeout.Default sentinel) means
			// no deadline rather than one already in the past.
			var deadline time.Time
			var budget time.Duration
			if to != nil {
				if budget = to.ReadTimeout(); budget > 0 {
					deadline = time.Now().Add(budget)
				}
			}
			ev, _, raceErr := timeout.WaitWriteOrRead(c.Conn, c.parser, chunk[:n], deadline)
			if raceErr != nil {
				return false, errors.NewIOError("writing request body", raceErr)
			}
			if ev == timeout.EventReadReady {
				return true, nil
			}
			if ev == timeout.EventTimeout {
				return false, errors.NewTimeoutError("write", budget)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return false, errors.NewIOError("reading request body source", readErr)
		}
	}
	return false, nil
}

// ReadResponse parses the response head and hands back a Parser positioned
// to read the body, plus the body mode/length so the caller can drain it.
func (c *Connection) ReadResponse(method string) (*framing.ResponseHead, framing.BodyMode, int64, error) {
	if c.parser == nil {
		c.parser = framing.NewParser(c.Conn)
	}
	if c.parser.OnWarning == nil {
		c.parser.OnWarning = c.OnHeaderWarning
	}
	head, err := c.parser.ReadResponseHead()
	if err != nil {
		return nil, framing.BodyNone, 0, err
	}
	mode, length, err := framing.DetermineBodyMode(method, head.StatusCode, head.Headers)
	if err != nil {
		return head, mode, length, err
	}
	return head, mode, length, nil
}

// DrainBody reads the response body according to mode into dst.
func (c *Connection) DrainBody(dst io.Writer, mode framing.BodyMode, length int64, trailers *headers.Dict) error {
	switch mode {
	case framing.BodyNone:
		return nil
	case framing.BodyFixedLength:
		return c.parser.ReadFixedBody(dst, length)
	case framing.BodyChunked:
		return c.parser.ReadChunkedBody(dst, trailers)
	default:
		return c.parser.ReadUntilClose(dst)
	}
}

// Close closes the underlying socket and marks the connection closed.
func (c *Connection) Close() error {
	c.State = StateClosed
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

// IsAlive performs the same non-blocking liveness peek the teacher's pool
// uses before reusing an idle connection.
func (c *Connection) IsAlive() bool {
	c.Conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer c.Conn.SetReadDeadline(time.Time{})
	one := make([]byte, 1)
	_, err := c.Conn.Read(one)
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}
