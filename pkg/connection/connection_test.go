package connection

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-httpcore/httpcore/pkg/framing"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/timeout"
)

func TestDialConnectsToListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	conn, _, err := Dial(context.Background(), nil, host, port, 2*time.Second, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}

func TestSendRequestDetectsEarlyResponse(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		server.Read(buf)
		server.Write([]byte("HTTP/1.1 413 Payload Too Large\r\n\r\n"))
	}()

	c := &Connection{Conn: client}
	h := headers.New()
	h.Set("Host", "example.com")
	req := &framing.Request{
		Method:     "POST",
		RequestURI: "/upload",
		Headers:    h,
		Body:       strings.NewReader(strings.Repeat("x", 1<<20)),
	}
	to, _ := timeout.New(time.Second, time.Second, 2*time.Second)

	early, err := c.SendRequest(req, to)
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	if !early {
		t.Fatal("expected the 413 sent mid-upload to be reported as an early response")
	}
	client.Close()
}

func TestReadResponseAndDrainFixedBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	server, client := net.Pipe()
	go func() {
		io.WriteString(server, raw)
		server.Close()
	}()

	c := &Connection{Conn: client}
	head, mode, length, err := c.ReadResponse("GET")
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if head.StatusCode != 200 || mode != framing.BodyFixedLength || length != 5 {
		t.Fatalf("unexpected head/mode: %+v %v %d", head, mode, length)
	}
	var out bytes.Buffer
	if err := c.DrainBody(&out, mode, length, headers.New()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if out.String() != "hello" {
		t.Fatalf("unexpected body: %q", out.String())
	}
}
