package engine

import (
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/go-httpcore/httpcore/pkg/buffer"
	"github.com/go-httpcore/httpcore/pkg/connection"
	"github.com/go-httpcore/httpcore/pkg/constants"
	"github.com/go-httpcore/httpcore/pkg/decoder"
	"github.com/go-httpcore/httpcore/pkg/framing"
	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/pool"
)

// StreamControl tells Response.Stream whether to keep delivering chunks.
type StreamControl int

const (
	StreamContinue StreamControl = iota
	StreamStop
)

// Response is the handle a Manager hands back for one HTTP exchange: status
// line, headers, and a body that is either already buffered (PreloadContent)
// or lazily drained on first Read/Stream/Data/JSON call.
type Response struct {
	Status  int
	Version string
	Reason  string
	Headers *headers.Dict

	mu            sync.Mutex
	conn          *connection.Connection
	pool          *pool.Pool
	mode          framing.BodyMode
	length        int64
	decodeContent bool
	reuseSafe     bool

	data     []byte
	cursor   int
	loaded   bool
	loadErr  error
	closed   bool
	released bool
}

func newResponse(head *framing.ResponseHead, mode framing.BodyMode, length int64, conn *connection.Connection, p *pool.Pool, decodeContent, reuseSafe bool) *Response {
	return &Response{
		Status:        head.StatusCode,
		Version:       httpVersion(head.ProtoMajor, head.ProtoMinor),
		Reason:        head.Reason,
		Headers:       head.Headers,
		conn:          conn,
		pool:          p,
		mode:          mode,
		length:        length,
		decodeContent: decodeContent,
		reuseSafe:     reuseSafe,
	}
}

// newHTTP2Response wraps an already-fully-buffered HTTP/2 exchange: there is
// no pooled Connection to release, since http2backend multiplexes its own
// transport connections internally.
func newHTTP2Response(head *framing.ResponseHead, body []byte, decodeContent bool) *Response {
	r := &Response{
		Status:        head.StatusCode,
		Version:       httpVersion(head.ProtoMajor, head.ProtoMinor),
		Reason:        head.Reason,
		Headers:       head.Headers,
		decodeContent: decodeContent,
		released:      true,
	}
	r.loadErr = r.finishLoad(body)
	r.loaded = true
	return r
}

func httpVersion(major, minor int) string {
	switch {
	case major == 2:
		return "HTTP/2"
	case major == 1 && minor == 0:
		return "HTTP/1.0"
	default:
		return "HTTP/1.1"
	}
}

// ensureLoaded drains the body (if not already) through a pkg/buffer Buffer
// (which may spill to disk), reads it back into memory applying
// Content-Encoding decoding, then releases the connection. The
// connection is released based purely on wire-level success: a subsequent
// decode failure is cached and returned to the caller, but it doesn't make
// an otherwise cleanly-drained connection unsafe to reuse.
func (r *Response) ensureLoaded() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.loadErr
	}
	if r.conn == nil {
		// HTTP/2 responses are loaded at construction time.
		r.loaded = true
		return r.loadErr
	}

	raw := buffer.New(constants.DefaultBodyMemLimit)
	defer raw.Close()
	if err := r.conn.DrainBody(raw, r.mode, r.length, r.Headers); err != nil {
		r.closeConnLocked()
		r.loaded = true
		r.loadErr = err
		return err
	}

	rd, err := raw.Reader()
	var body []byte
	if err == nil {
		body, err = io.ReadAll(rd)
		rd.Close()
	}
	if err != nil {
		r.loadErr = err
	} else {
		r.loadErr = r.finishLoad(body)
	}
	r.loaded = true
	r.releaseLocked()
	return r.loadErr
}

// finishLoad applies Content-Encoding decoding (when enabled) to body,
// storing the result. A decode failure is reported rather than silently
// left as raw bytes under a "decoded" label.
func (r *Response) finishLoad(body []byte) error {
	data := body
	if r.decodeContent {
		if enc := r.Headers.Get("Content-Encoding"); enc != "" {
			decoded, err := decoder.Chain(splitTokens(enc), body)
			if err != nil {
				r.data = nil
				return err
			}
			data = decoded
		}
	}
	r.data = data
	return nil
}

func splitTokens(header string) []string {
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (r *Response) releaseLocked() {
	if r.released {
		return
	}
	r.released = true
	if r.conn == nil {
		return
	}
	if r.reuseSafe && r.pool != nil {
		r.pool.Release(r.conn)
	} else {
		r.conn.Close()
		if r.pool != nil {
			r.pool.Discard()
		}
	}
}

func (r *Response) closeConnLocked() {
	if r.released {
		return
	}
	r.released = true
	if r.conn != nil {
		r.conn.Close()
	}
	if r.pool != nil {
		r.pool.Discard()
	}
}

// Read implements io.Reader over the (now fully loaded) response body.
func (r *Response) Read(p []byte) (int, error) {
	if err := r.ensureLoaded(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.cursor:])
	r.cursor += n
	return n, nil
}

// Data returns the full, decoded response body.
func (r *Response) Data() ([]byte, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data, nil
}

// JSON decodes the response body as JSON into v.
func (r *Response) JSON(v interface{}) error {
	data, err := r.Data()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Stream delivers the body in chunkSize pieces to fn, stopping early if fn
// returns StreamStop. Unlike a callback that can raise to signal "enough",
// this uses a plain sentinel return — idiomatic for a closure-driven loop
// with no exception mechanism to lean on.
func (r *Response) Stream(chunkSize int, fn func([]byte) StreamControl) error {
	if err := r.ensureLoaded(); err != nil {
		return err
	}
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	r.mu.Lock()
	data := r.data
	r.mu.Unlock()
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if fn(data[i:end]) == StreamStop {
			return nil
		}
	}
	return nil
}

// ReleaseConn returns the underlying connection to its pool (or closes it,
// if reuse isn't safe) without necessarily having consumed the body content
// a caller doesn't need.
func (r *Response) ReleaseConn() error {
	return r.ensureLoaded()
}

// Close releases the connection if it hasn't been already. A Close before
// the body is read forces the connection closed rather than pooled, since
// an unread body leaves the wire in an unknown position.
func (r *Response) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.released {
		return nil
	}
	r.closeConnLocked()
	return nil
}
