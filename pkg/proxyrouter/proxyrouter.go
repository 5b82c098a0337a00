// Package proxyrouter decides how a request reaches its destination — direct,
// HTTP CONNECT tunnel, absolute-form forward proxy, or SOCKS4/4a/5 — and
// performs the handshake for each.
package proxyrouter

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/urlutil"
	netproxy "golang.org/x/net/proxy"
)

// Proxy describes one upstream proxy configuration.
type Proxy struct {
	URL      *urlutil.Url // scheme selects http/https/socks4/socks4a/socks5
	Username string
	Password string
	Headers  map[string]string
	TLS      *tls.Config // only meaningful for an https-to-proxy leg
}

// Config controls the tunnel-vs-forward decision for HTTPS destinations.
type Config struct {
	ForwardHTTPSAsAbsoluteForm bool
}

// RequiresTunnel reports whether destinationScheme needs a CONNECT tunnel
// through proxy. Thin pass-through to pkg/urlutil so callers only import
// this package.
func RequiresTunnel(proxy *Proxy, cfg *Config, destinationScheme string) bool {
	if proxy == nil {
		return false
	}
	var uc *urlutil.ProxyConfig
	if cfg != nil {
		uc = &urlutil.ProxyConfig{ForwardForHTTPS: cfg.ForwardHTTPSAsAbsoluteForm}
	}
	return urlutil.ConnectionRequiresHTTPTunnel(proxy.URL, uc, destinationScheme)
}

// Connect establishes a connection to target through proxy, returning a net.Conn
// ready for the destination's own TLS upgrade (if any) to be layered on top.
func Connect(ctx context.Context, proxy *Proxy, target *urlutil.Url, timeout time.Duration) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(proxy.URL.Host, strconv.Itoa(proxy.URL.EffectivePort()))
	targetAddr := net.JoinHostPort(target.Host, strconv.Itoa(target.EffectivePort()))

	switch proxy.URL.Scheme {
	case "http", "https":
		return connectViaHTTP(ctx, proxy, proxyAddr, target, targetAddr, timeout)
	case "socks4":
		return connectViaSOCKS4(ctx, proxy, proxyAddr, targetAddr, timeout, false)
	case "socks4a":
		return connectViaSOCKS4(ctx, proxy, proxyAddr, targetAddr, timeout, true)
	case "socks5", "socks5h":
		return connectViaSOCKS5(ctx, proxy, proxyAddr, targetAddr, timeout)
	default:
		return nil, errors.NewProxyError(proxyAddr, "unsupported proxy scheme: "+proxy.URL.Scheme, nil)
	}
}

// connectViaHTTP performs the CONNECT handshake. The proxy leg itself may be
// plaintext (http) or TLS-wrapped (https); the tunnel it establishes is
// opaque and carries whatever the destination scheme needs next.
func connectViaHTTP(ctx context.Context, proxy *Proxy, proxyAddr string, target *urlutil.Url, targetAddr string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, errors.NewProxyError(proxyAddr, "dial proxy", err)
	}

	if proxy.URL.Scheme == "https" {
		tlsCfg := proxy.TLS
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: proxy.URL.Host}
		} else {
			tlsCfg = tlsCfg.Clone()
			if tlsCfg.ServerName == "" {
				tlsCfg.ServerName = proxy.URL.Host
			}
		}
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, errors.NewProxyError(proxyAddr, "TLS handshake to proxy", err)
		}
		conn = tlsConn
	}

	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\n", targetAddr)
	fmt.Fprintf(&req, "Host: %s\r\n", target.HostHeader())
	req.WriteString("Connection: keep-alive\r\n")
	for k, v := range proxy.Headers {
		fmt.Fprintf(&req, "%s: %s\r\n", k, v)
	}
	// Proxy-Authorization is scoped to this leg only: it names the proxy as
	// credential target, never the destination, and must not survive past
	// this CONNECT exchange (e.g. across a redirect to a different origin).
	if proxy.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(proxy.Username + ":" + proxy.Password))
		fmt.Fprintf(&req, "Proxy-Authorization: Basic %s\r\n", auth)
	}
	req.WriteString("\r\n")

	if _, err := io.WriteString(conn, req.String()); err != nil {
		conn.Close()
		return nil, errors.NewProxyError(proxyAddr, "write CONNECT request", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, errors.NewProxyError(proxyAddr, "read CONNECT response", err)
	}
	if !strings.Contains(statusLine, " 200") {
		conn.Close()
		return nil, errors.NewProxyError(proxyAddr, "CONNECT rejected: "+strings.TrimSpace(statusLine), nil)
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, errors.NewProxyError(proxyAddr, "read CONNECT response headers", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	if reader.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: reader}, nil
	}
	return conn, nil
}

// bufferedConn threads any bytes the proxy handshake already buffered (rare,
// but a misbehaving proxy may pipeline) back into subsequent reads.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// connectViaSOCKS4 implements the SOCKS4/SOCKS4a request/response exactly as
// spec.md §6.3 lays out the byte format. SOCKS4a sends the destination
// hostname instead of resolving it locally, signaled by the 0.0.0.1 sentinel
// IP the teacher's SOCKS4-only implementation never had to produce.
func connectViaSOCKS4(ctx context.Context, proxy *Proxy, proxyAddr, targetAddr string, timeout time.Duration, remoteDNS bool) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return nil, errors.NewProxyError(proxyAddr, "invalid target address", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errors.NewProxyError(proxyAddr, "invalid target port", err)
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, errors.NewProxyError(proxyAddr, "dial SOCKS4 proxy", err)
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port & 0xFF)}

	var hostname string
	if remoteDNS {
		req = append(req, 0x00, 0x00, 0x00, 0x01) // sentinel IP 0.0.0.1
		hostname = host
	} else {
		ip := net.ParseIP(host)
		if ip == nil {
			ips, lookupErr := net.DefaultResolver.LookupIPAddr(ctx, host)
			if lookupErr != nil || len(ips) == 0 {
				conn.Close()
				return nil, errors.NewProxyError(proxyAddr, "resolve target host for SOCKS4", lookupErr)
			}
			for _, a := range ips {
				if v4 := a.IP.To4(); v4 != nil {
					ip = v4
					break
				}
			}
			if ip == nil {
				conn.Close()
				return nil, errors.NewProxyError(proxyAddr, "no IPv4 address for SOCKS4 target", nil)
			}
		}
		req = append(req, ip.To4()...)
	}

	if proxy.Username != "" {
		req = append(req, []byte(proxy.Username)...)
	}
	req = append(req, 0x00)
	if remoteDNS {
		req = append(req, []byte(hostname)...)
		req = append(req, 0x00)
	}

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, errors.NewProxyError(proxyAddr, "write SOCKS4 request", err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, errors.NewProxyError(proxyAddr, "read SOCKS4 response", err)
	}

	switch resp[1] {
	case 0x5A:
		return conn, nil
	case 0x5B:
		conn.Close()
		return nil, errors.NewProxyError(proxyAddr, "SOCKS4 request rejected", nil)
	case 0x5C:
		conn.Close()
		return nil, errors.NewProxyError(proxyAddr, "SOCKS4 identd unreachable", nil)
	case 0x5D:
		conn.Close()
		return nil, errors.NewProxyError(proxyAddr, "SOCKS4 identd auth failed", nil)
	default:
		conn.Close()
		return nil, errors.NewProxyError(proxyAddr, fmt.Sprintf("SOCKS4 unknown status 0x%02X", resp[1]), nil)
	}
}

// connectViaSOCKS5 delegates to golang.org/x/net/proxy, the teacher's own
// choice for this exact concern ("proven library... for reliability and RFC
// compliance").
func connectViaSOCKS5(ctx context.Context, proxy *Proxy, proxyAddr, targetAddr string, timeout time.Duration) (net.Conn, error) {
	var auth *netproxy.Auth
	if proxy.Username != "" {
		auth = &netproxy.Auth{User: proxy.Username, Password: proxy.Password}
	}
	dialer, err := netproxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, errors.NewProxyError(proxyAddr, "create SOCKS5 dialer", err)
	}
	type contextDialer interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	}
	if cd, ok := dialer.(contextDialer); ok {
		conn, err := cd.DialContext(ctx, "tcp", targetAddr)
		if err != nil {
			return nil, errors.NewProxyError(proxyAddr, "SOCKS5 connect", err)
		}
		return conn, nil
	}
	conn, err := dialer.Dial("tcp", targetAddr)
	if err != nil {
		return nil, errors.NewProxyError(proxyAddr, "SOCKS5 connect", err)
	}
	return conn, nil
}
