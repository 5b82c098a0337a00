// Package framing implements the HTTP/1.1 request serializer and
// incremental response parser: status line, header block, chunked decoder,
// length-delimited body, trailers, and the discrete event stream the
// connection layer drives.
package framing

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/headers"
)

const maxHeaderBytes = 1 << 20 // 1 MiB of header bytes before ProtocolError

// OurState tracks our side of the HTTP/1.1 exchange.
type OurState int

const (
	OurIdle OurState = iota
	OurSendingHeaders
	OurSendingBody
	OurDone
)

// TheirState tracks the peer's side of the exchange.
type TheirState int

const (
	TheirIdle TheirState = iota
	TheirReadingHeaders
	TheirReadingBody
	TheirDone
)

// EventKind identifies one discrete parser/serializer event. Parser does
// not emit Event values itself; these kinds name the transitions for
// callers that drive the exchange event by event.
type EventKind int

const (
	// EventRequest signals our request line/headers were serialized.
	EventRequest EventKind = iota
	// EventData carries a chunk of response body bytes.
	EventData
	// EventEndOfMessage signals the response (headers+body+trailers) is complete.
	EventEndOfMessage
	// EventNeedData signals the caller must supply more bytes before progress
	// can continue (used by callers driving a true sans-I/O byte feed; the
	// bufio-backed Parser below blocks internally instead of surfacing this).
	EventNeedData
	// EventConnectionClosed signals the peer closed before EndOfMessage.
	EventConnectionClosed
)

// Event is one parser/serializer transition.
type Event struct {
	Kind EventKind
	Data []byte
}

// Request is what the serializer writes to the wire.
type Request struct {
	Method     string
	RequestURI string // origin-form, absolute-form, or authority-form per §6.3
	Headers    *headers.Dict
	Body       io.Reader // nil for bodyless requests
}

// SerializeHeader writes the request line and header block (not the body) to w.
func SerializeHeader(w io.Writer, req *Request) error {
	if _, err := fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", req.Method, req.RequestURI); err != nil {
		return errors.NewIOError("writing request line", err)
	}
	for _, kv := range req.Headers.RawItems() {
		if strings.ContainsAny(kv[0], "\r\n") {
			return errors.InvalidHeader(kv[0], "header name contains CR/LF")
		}
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", kv[0], kv[1]); err != nil {
			return errors.NewIOError("writing header", err)
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return errors.NewIOError("writing header terminator", err)
	}
	return nil
}

// WriteChunk frames one chunk of a chunked-transfer body.
func WriteChunk(w io.Writer, chunk []byte) error {
	if _, err := fmt.Fprintf(w, "%x\r\n", len(chunk)); err != nil {
		return errors.NewIOError("writing chunk size", err)
	}
	if _, err := w.Write(chunk); err != nil {
		return errors.NewIOError("writing chunk body", err)
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return errors.NewIOError("writing chunk terminator", err)
	}
	return nil
}

// WriteChunkedTerminator writes the final "0\r\n\r\n" chunk.
func WriteChunkedTerminator(w io.Writer) error {
	_, err := io.WriteString(w, "0\r\n\r\n")
	if err != nil {
		return errors.NewIOError("writing chunked terminator", err)
	}
	return nil
}

// ResponseHead holds the parsed status line and headers, before the body is
// streamed.
type ResponseHead struct {
	ProtoMajor, ProtoMinor int
	StatusCode             int
	Reason                 string
	Headers                *headers.Dict
}

// Parser drives the their-side state machine over a buffered reader. It is
// bufio-backed rather than a literal byte-feed automaton: the connection
// layer already owns a blocking socket read loop (see pkg/connection), so
// the state machine's value is in the explicit OurState/TheirState fields
// and the EndOfMessage/ConnectionClosed/reuse-safety decisions below, not
// in re-deriving the blocking-vs-nonblocking I/O strategy the teacher
// already gets right with bufio.Reader.
type Parser struct {
	r          *bufio.Reader
	TheirState TheirState

	// OnWarning, if set, is called for a malformed header line instead of
	// silently dropping it — the "log, do not raise" rule in §4.4's table.
	OnWarning func(line string)
}

// NewParser wraps r for incremental response parsing.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReader(r), TheirState: TheirIdle}
}

// Buffered reports how many bytes are already buffered locally (used to
// detect RFC-violating bodies on responses that should carry none, and
// pipelined-response leftovers after a fixed-length body).
func (p *Parser) Buffered() int { return p.r.Buffered() }

// Peek exposes the underlying reader's peek, for pipelining detection.
func (p *Parser) Peek(n int) ([]byte, error) { return p.r.Peek(n) }

// ReadResponseHead parses the status line and header block.
func (p *Parser) ReadResponseHead() (*ResponseHead, error) {
	p.TheirState = TheirReadingHeaders

	statusLine, err := p.readLine()
	if err != nil {
		return nil, errors.NewProtocolError("reading status line", err)
	}

	head := &ResponseHead{Headers: headers.New()}
	if err := parseStatusLine(statusLine, head); err != nil {
		return nil, err
	}

	if err := p.readHeaderBlock(head.Headers); err != nil {
		return nil, err
	}

	return head, nil
}

func (p *Parser) readLine() (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseStatusLine(line string, head *ResponseHead) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return errors.NewProtocolError("malformed status line", nil)
	}
	major, minor, ok := parseHTTPVersion(parts[0])
	if !ok {
		return errors.NewProtocolError("malformed HTTP version", nil)
	}
	head.ProtoMajor, head.ProtoMinor = major, minor

	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return errors.NewProtocolError("malformed status code", err)
	}
	head.StatusCode = code
	if len(parts) == 3 {
		head.Reason = parts[2]
	}
	return nil
}

func parseHTTPVersion(tok string) (major, minor int, ok bool) {
	if !strings.HasPrefix(tok, "HTTP/") {
		return 0, 0, false
	}
	rest := strings.TrimPrefix(tok, "HTTP/")
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(rest[:dot])
	min, err2 := strconv.Atoi(rest[dot+1:])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}

// readHeaderBlock reads header lines until the terminating blank line,
// handling RFC 7230 §3.2.4 continuation lines. A malformed header line is
// passed to p.OnWarning (when set) and skipped rather than aborting the
// parse, per §4.4's "log, do not raise" rule — the caller decides whether
// to surface it.
func (p *Parser) readHeaderBlock(dst *headers.Dict) error {
	total := 0
	var lastName string
	for {
		line, err := p.r.ReadString('\n')
		if err != nil {
			return errors.NewProtocolError("reading headers", err)
		}
		total += len(line)
		if total > maxHeaderBytes {
			return errors.NewProtocolError("headers exceed maximum size", nil)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			return nil
		}

		if strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t") {
			if lastName == "" {
				continue
			}
			existing := dst.GetAll(lastName)
			if len(existing) == 0 {
				continue
			}
			merged := existing[len(existing)-1] + " " + strings.TrimSpace(trimmed)
			existing[len(existing)-1] = merged
			dst.Remove(lastName)
			for _, v := range existing {
				dst.Add(lastName, v)
			}
			continue
		}

		idx := strings.IndexByte(trimmed, ':')
		if idx < 0 {
			if p.OnWarning != nil {
				p.OnWarning(trimmed)
			}
			continue // malformed line: warn-not-raise, skip it
		}
		name := strings.TrimSpace(trimmed[:idx])
		value := strings.TrimSpace(trimmed[idx+1:])
		if containsCTLOrSpace(name) {
			if p.OnWarning != nil {
				p.OnWarning(trimmed)
			}
			continue // HeaderParsingError condition: skip, caller may log
		}
		dst.Add(name, value)
		lastName = name
	}
}

func containsCTLOrSpace(name string) bool {
	for _, r := range name {
		if r == ' ' || r < 0x21 || r == 0x7f {
			return true
		}
	}
	return false
}

// BodyMode selects how the response body is delimited.
type BodyMode int

const (
	BodyNone BodyMode = iota
	BodyFixedLength
	BodyChunked
	BodyUntilClose
)

// DetermineBodyMode applies RFC 9110 §6.4.1 body-suppression rules and the
// Transfer-Encoding/Content-Length precedence the wire format requires.
func DetermineBodyMode(method string, statusCode int, h *headers.Dict) (BodyMode, int64, error) {
	if method == "HEAD" || (statusCode >= 100 && statusCode < 200) || statusCode == 204 || statusCode == 304 {
		return BodyNone, 0, nil
	}

	te := strings.ToLower(h.Get("Transfer-Encoding"))
	if strings.Contains(te, "chunked") {
		return BodyChunked, 0, nil
	}

	if cl := h.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return BodyNone, 0, errors.NewProtocolError("invalid Content-Length", err)
		}
		if n > 1<<40 {
			return BodyNone, 0, errors.NewProtocolError("Content-Length too large", nil)
		}
		return BodyFixedLength, n, nil
	}

	return BodyUntilClose, 0, nil
}

// ReadFixedBody copies exactly length bytes of body to dst. A connection
// drop before length bytes arrive is an IncompleteRead, not a silently
// accepted short body — the caller already trusted Content-Length to
// delimit the message.
func (p *Parser) ReadFixedBody(dst io.Writer, length int64) error {
	p.TheirState = TheirReadingBody
	n, err := io.CopyN(dst, p.r, length)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errors.IncompleteRead(length, n)
		}
		return errors.NewIOError("reading fixed body", err)
	}
	p.TheirState = TheirDone
	return nil
}

// ReadUntilClose copies body bytes until EOF (HTTP/0.9-compatible framing).
func (p *Parser) ReadUntilClose(dst io.Writer) error {
	p.TheirState = TheirReadingBody
	_, err := io.Copy(dst, p.r)
	p.TheirState = TheirDone
	if err != nil && err != io.EOF {
		return errors.NewIOError("reading until close", err)
	}
	return nil
}

// ReadChunkedBody decodes a chunked-transfer body into dst, merging any
// trailer fields into h.
func (p *Parser) ReadChunkedBody(dst io.Writer, h *headers.Dict) error {
	p.TheirState = TheirReadingBody
	tp := textproto.NewReader(p.r)
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return errors.NewProtocolError("reading chunk size", err)
		}
		sizeTok := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		size, err := strconv.ParseInt(sizeTok, 16, 64)
		if err != nil {
			return errors.NewProtocolError("invalid chunk size", err)
		}
		if size == 0 {
			break
		}
		if _, err := io.CopyN(dst, tp.R, size); err != nil {
			return errors.NewIOError("reading chunk body", err)
		}
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(tp.R, crlf); err != nil {
			return errors.NewIOError("reading chunk CRLF", err)
		}
	}

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return errors.NewProtocolError("reading chunk trailer", err)
		}
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			h.Add(strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]))
		}
	}
	p.TheirState = TheirDone
	return nil
}

// ReuseSafe implements §4.4's connection-reuse decision: safe iff the
// response is HTTP/1.1, has no "Connection: close", and our side reached
// Done cleanly.
func ReuseSafe(head *ResponseHead, ourState OurState) bool {
	if ourState != OurDone {
		return false
	}
	if head.ProtoMajor != 1 || head.ProtoMinor != 1 {
		return false
	}
	conn := strings.ToLower(head.Headers.Get("Connection"))
	return !strings.Contains(conn, "close")
}
