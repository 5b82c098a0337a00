package proxyrouter

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-httpcore/httpcore/pkg/urlutil"
)

func TestRequiresTunnelHTTPNeverTunnels(t *testing.T) {
	proxy := &Proxy{URL: mustParse(t, "http://proxy.local:8080")}
	if RequiresTunnel(proxy, nil, "http") {
		t.Fatal("http destination should never require a tunnel")
	}
}

func TestRequiresTunnelHTTPSTunnelsByDefault(t *testing.T) {
	proxy := &Proxy{URL: mustParse(t, "http://proxy.local:8080")}
	if !RequiresTunnel(proxy, nil, "https") {
		t.Fatal("https destination through a proxy should tunnel by default")
	}
	if RequiresTunnel(proxy, &Config{ForwardHTTPSAsAbsoluteForm: true}, "https") {
		t.Fatal("ForwardHTTPSAsAbsoluteForm should disable tunneling")
	}
}

func TestRequiresTunnelNilProxyNeverTunnels(t *testing.T) {
	if RequiresTunnel(nil, nil, "https") {
		t.Fatal("no proxy means no tunnel")
	}
}

func TestConnectViaHTTPProxyEstablishesTunnel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		line, _ := r.ReadString('\n')
		if !strings.HasPrefix(line, "CONNECT ") {
			return
		}
		for {
			l, err := r.ReadString('\n')
			if err != nil || l == "\r\n" {
				break
			}
		}
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	}()

	proxyHost, proxyPortStr, _ := net.SplitHostPort(ln.Addr().String())
	proxyPort, _ := strconv.Atoi(proxyPortStr)

	proxy := &Proxy{URL: &urlutil.Url{Scheme: "http", Host: proxyHost, Port: proxyPort}}
	target := &urlutil.Url{Scheme: "https", Host: "example.com", Port: 443}

	conn, err := Connect(context.Background(), proxy, target, 2*time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn.Close()
}

func TestConnectViaSOCKS4GrantsRequest(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		if n < 8 || buf[0] != 0x04 || buf[1] != 0x01 {
			return
		}
		conn.Write([]byte{0x00, 0x5A, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	}()

	proxyHost, proxyPortStr, _ := net.SplitHostPort(ln.Addr().String())
	proxyPort, _ := strconv.Atoi(proxyPortStr)

	proxy := &Proxy{URL: &urlutil.Url{Scheme: "socks4", Host: proxyHost, Port: proxyPort}}
	conn, err := connectViaSOCKS4(context.Background(), proxy, ln.Addr().String(), "93.184.216.34:80", 2*time.Second, false)
	if err != nil {
		t.Fatalf("socks4 connect: %v", err)
	}
	conn.Close()
}

func mustParse(t *testing.T, raw string) *urlutil.Url {
	t.Helper()
	u, err := urlutil.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}
