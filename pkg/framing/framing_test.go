package framing

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-httpcore/httpcore/pkg/headers"
)

func TestSerializeHeaderWritesRequestLine(t *testing.T) {
	var buf bytes.Buffer
	h := headers.New()
	h.Set("Host", "example.com")
	h.Set("Accept", "*/*")

	err := SerializeHeader(&buf, &Request{Method: "GET", RequestURI: "/path", Headers: h})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "GET /path HTTP/1.1\r\n") {
		t.Fatalf("unexpected request line: %q", out)
	}
	if !strings.Contains(out, "Host: example.com\r\n") {
		t.Fatalf("missing Host header: %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\n") {
		t.Fatalf("missing header terminator: %q", out)
	}
}

func TestParseStatusLine(t *testing.T) {
	head := &ResponseHead{Headers: headers.New()}
	if err := parseStatusLine("HTTP/1.1 200 OK", head); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if head.ProtoMajor != 1 || head.ProtoMinor != 1 || head.StatusCode != 200 || head.Reason != "OK" {
		t.Fatalf("unexpected head: %+v", head)
	}
}

func TestParseStatusLineRejectsMalformed(t *testing.T) {
	head := &ResponseHead{Headers: headers.New()}
	if err := parseStatusLine("not a status line", head); err == nil {
		t.Fatal("expected error for malformed status line")
	}
}

func TestReadResponseHeadParsesHeadersAndContinuation(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"X-Folded: first\r\n line\r\n" +
		"\r\n"
	p := NewParser(strings.NewReader(raw))
	head, err := p.ReadResponseHead()
	if err != nil {
		t.Fatalf("read head: %v", err)
	}
	if head.Headers.Get("Content-Type") != "text/plain" {
		t.Fatalf("unexpected content-type: %q", head.Headers.Get("Content-Type"))
	}
	if got := head.Headers.Get("X-Folded"); got != "first line" {
		t.Fatalf("expected folded header merge, got %q", got)
	}
}

func TestDetermineBodyModeSuppressesForHeadAnd204(t *testing.T) {
	h := headers.New()
	h.Set("Content-Length", "50")
	mode, _, err := DetermineBodyMode("HEAD", 200, h)
	if err != nil || mode != BodyNone {
		t.Fatalf("expected BodyNone for HEAD, got %v err=%v", mode, err)
	}
	mode, _, err = DetermineBodyMode("GET", 204, h)
	if err != nil || mode != BodyNone {
		t.Fatalf("expected BodyNone for 204, got %v err=%v", mode, err)
	}
}

func TestDetermineBodyModePrefersChunkedOverContentLength(t *testing.T) {
	h := headers.New()
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Content-Length", "10")
	mode, _, err := DetermineBodyMode("GET", 200, h)
	if err != nil || mode != BodyChunked {
		t.Fatalf("expected BodyChunked, got %v err=%v", mode, err)
	}
}

func TestDetermineBodyModeFixedLength(t *testing.T) {
	h := headers.New()
	h.Set("Content-Length", "123")
	mode, n, err := DetermineBodyMode("GET", 200, h)
	if err != nil || mode != BodyFixedLength || n != 123 {
		t.Fatalf("expected fixed length 123, got %v %d err=%v", mode, n, err)
	}
}

func TestReadChunkedBodyDecodesAndMergesTrailers(t *testing.T) {
	raw := "5\r\nhello\r\n6\r\n world\r\n0\r\nX-Trailer: done\r\n\r\n"
	p := NewParser(strings.NewReader(raw))
	var out bytes.Buffer
	h := headers.New()
	if err := p.ReadChunkedBody(&out, h); err != nil {
		t.Fatalf("read chunked: %v", err)
	}
	if out.String() != "hello world" {
		t.Fatalf("unexpected body: %q", out.String())
	}
	if h.Get("X-Trailer") != "done" {
		t.Fatalf("expected trailer merged, got %q", h.Get("X-Trailer"))
	}
}

func TestReadFixedBodyReportsIncompleteReadOnShortBody(t *testing.T) {
	p := NewParser(strings.NewReader("short"))
	var out bytes.Buffer
	err := p.ReadFixedBody(&out, 100)
	if err == nil || !strings.Contains(err.Error(), "incomplete read: expected 100 bytes, got 5") {
		t.Fatalf("expected IncompleteRead for a body shorter than its length, got: %v", err)
	}
	if out.String() != "short" {
		t.Fatalf("unexpected body: %q", out.String())
	}
}

func TestReadUntilCloseCopiesToEOF(t *testing.T) {
	p := NewParser(strings.NewReader("body until close"))
	var out bytes.Buffer
	if err := p.ReadUntilClose(&out); err != nil {
		t.Fatalf("read until close: %v", err)
	}
	if out.String() != "body until close" {
		t.Fatalf("unexpected body: %q", out.String())
	}
}

func TestReuseSafeRequiresHTTP11AndNoConnectionClose(t *testing.T) {
	h := headers.New()
	head := &ResponseHead{ProtoMajor: 1, ProtoMinor: 1, Headers: h}
	if !ReuseSafe(head, OurDone) {
		t.Fatal("expected reuse-safe for clean HTTP/1.1 response")
	}
	h.Set("Connection", "close")
	if ReuseSafe(head, OurDone) {
		t.Fatal("expected reuse-unsafe when Connection: close present")
	}
	h.Remove("Connection")
	if ReuseSafe(head, OurSendingBody) {
		t.Fatal("expected reuse-unsafe when our side did not reach Done")
	}
}

func TestWriteChunkFramesSizeAndTerminator(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteChunk(&buf, []byte("abc")); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	if err := WriteChunkedTerminator(&buf); err != nil {
		t.Fatalf("write terminator: %v", err)
	}
	if buf.String() != "3\r\nabc\r\n0\r\n\r\n" {
		t.Fatalf("unexpected chunk framing: %q", buf.String())
	}
}
