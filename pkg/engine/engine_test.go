package engine

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

// serveOnce accepts one connection on ln and writes raw to it after reading
// (and discarding) the request. The caller is responsible for closing ln.
func serveOnce(t *testing.T, ln net.Listener, raw string) {
	t.Helper()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" || line == "\n" {
				break
			}
		}
		fmt.Fprint(c, raw)
	}()
}

func listen(t *testing.T) (net.Listener, string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return ln, host, port
}

func TestUrlopenHappyPathGet(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()
	serveOnce(t, ln, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")

	m := New(Config{})
	defer m.Close()

	resp, err := m.Get(context.Background(), fmt.Sprintf("http://%s:%d/", host, port), DefaultRequestOptions())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := resp.Data()
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected body: %q", data)
	}
	if resp.Status != 200 {
		t.Fatalf("unexpected status: %d", resp.Status)
	}
}

func TestUrlopenFollowsRedirect(t *testing.T) {
	lnFinal, hostFinal, portFinal := listen(t)
	defer lnFinal.Close()
	serveOnce(t, lnFinal, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")

	lnFirst, hostFirst, portFirst := listen(t)
	defer lnFirst.Close()
	serveOnce(t, lnFirst, fmt.Sprintf("HTTP/1.1 302 Found\r\nLocation: http://%s:%d/next\r\nContent-Length: 0\r\n\r\n", hostFinal, portFinal))

	cfg := Config{FollowRedirects: true}
	m := New(cfg)
	defer m.Close()

	opts := DefaultRequestOptions()
	resp, err := m.Get(context.Background(), fmt.Sprintf("http://%s:%d/start", hostFirst, portFirst), opts)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := resp.Data()
	if string(data) != "ok" {
		t.Fatalf("unexpected body after redirect: %q", data)
	}
}

func TestUrlopenRetriesOnConnectRefused(t *testing.T) {
	ln, host, port := listen(t)
	// Close the listener immediately so the first connect attempt is refused,
	// then nothing ever answers again: the retry budget should exhaust into
	// a MaxRetryError rather than hang.
	ln.Close()

	m := New(Config{})
	defer m.Close()

	opts := DefaultRequestOptions()
	_, err := m.Urlopen(context.Background(), http.MethodGet, fmt.Sprintf("http://%s:%d/", host, port), opts)
	if err == nil {
		t.Fatal("expected error once connect retries are exhausted")
	}
}

func TestUrlopenRetriesForcedStatus(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	go func() {
		for i := 0; i < 2; i++ {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			r := bufio.NewReader(c)
			for {
				line, err := r.ReadString('\n')
				if err != nil || line == "\r\n" || line == "\n" {
					break
				}
			}
			if i == 0 {
				fmt.Fprint(c, "HTTP/1.1 503 Service Unavailable\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
			} else {
				fmt.Fprint(c, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
			}
			c.Close()
		}
	}()

	m := New(Config{})
	defer m.Close()

	resp, err := m.Get(context.Background(), fmt.Sprintf("http://%s:%d/", host, port), DefaultRequestOptions())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := resp.Data()
	if string(data) != "ok" {
		t.Fatalf("expected the retried 200 body, got %q", data)
	}
}

func TestUrlopenStreamingSkipsPreload(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()
	serveOnce(t, ln, "HTTP/1.1 200 OK\r\nContent-Length: 12\r\n\r\nhello world!")

	m := New(Config{})
	defer m.Close()

	opts := RequestOptions{PreloadContent: false}
	resp, err := m.Get(context.Background(), fmt.Sprintf("http://%s:%d/", host, port), opts)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	var chunks [][]byte
	err = resp.Stream(4, func(b []byte) StreamControl {
		cp := append([]byte(nil), b...)
		chunks = append(chunks, cp)
		return StreamContinue
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
}

func TestManagerCloseIsIdempotent(t *testing.T) {
	m := New(Config{})
	m.Close()
	m.Close()
}

func TestTimeoutContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	waitContext(ctx, time.Second)
	if ctx.Err() == nil {
		t.Fatal("expected context to have deadline-exceeded by the time waitContext returns")
	}
}
