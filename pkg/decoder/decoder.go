// Package decoder implements the pluggable Content-Encoding pipeline:
// identity, gzip, deflate (with raw-deflate fallback for legacy servers),
// and br.
package decoder

import (
	"bytes"
	"compress/zlib"
	"io"
	"sort"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// Decoder incrementally inflates a Content-Encoding. Decompress may be
// called multiple times as bytes arrive; Flush drains anything buffered
// internally once the body is complete.
type Decoder interface {
	Decompress(p []byte) ([]byte, error)
	Flush() ([]byte, error)
}

// Factory constructs a fresh Decoder instance for one response body.
type Factory func() Decoder

var registry = map[string]Factory{
	"identity": func() Decoder { return identityDecoder{} },
	"gzip":     func() Decoder { return newGzipDecoder() },
	"deflate":  func() Decoder { return newDeflateDecoder() },
	"br":       func() Decoder { return newBrotliDecoder() },
}

// Register adds or replaces the Decoder factory for a Content-Encoding
// token, letting callers plug in additional codings (e.g. zstd) without
// modifying this package.
func Register(token string, f Factory) {
	registry[strings.ToLower(token)] = f
}

// New returns a fresh Decoder for the given Content-Encoding token, or
// (nil, false) if no decoder is registered for it.
func New(token string) (Decoder, bool) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return nil, false
	}
	return f(), true
}

// AcceptEncoding synthesizes the Accept-Encoding header value from every
// registered coding except identity (which is always implicitly accepted).
func AcceptEncoding() string {
	var tokens []string
	for name := range registry {
		if name == "identity" {
			continue
		}
		tokens = append(tokens, name)
	}
	// Deterministic order keeps generated requests reproducible in tests:
	// the built-in codings first, then any others alphabetically.
	order := []string{"gzip", "deflate", "br"}
	out := make([]string, 0, len(tokens))
	for _, want := range order {
		for _, got := range tokens {
			if got == want {
				out = append(out, want)
			}
		}
	}
	var extra []string
	for _, got := range tokens {
		if got != "gzip" && got != "deflate" && got != "br" {
			extra = append(extra, got)
		}
	}
	sort.Strings(extra)
	return strings.Join(append(out, extra...), ", ")
}

// Chain applies a sequence of Content-Encoding tokens (as they'd appear,
// comma-separated and applied in reverse wire order) to decode a full body.
// Errors during decompression are DecodeError and must not be retried.
func Chain(tokens []string, body []byte) ([]byte, error) {
	data := body
	for i := len(tokens) - 1; i >= 0; i-- {
		dec, ok := New(tokens[i])
		if !ok {
			return nil, errors.NewProtocolError("unsupported content-encoding: "+tokens[i], nil)
		}
		out, err := dec.Decompress(data)
		if err != nil {
			return nil, decodeError(tokens[i], err)
		}
		tail, err := dec.Flush()
		if err != nil {
			return nil, decodeError(tokens[i], err)
		}
		data = append(out, tail...)
	}
	return data, nil
}

func decodeError(coding string, cause error) error {
	return errors.NewProtocolError("decode error for content-encoding "+coding, cause)
}

type identityDecoder struct{}

func (identityDecoder) Decompress(p []byte) ([]byte, error) { return p, nil }
func (identityDecoder) Flush() ([]byte, error)               { return nil, nil }

type gzipDecoder struct {
	buf bytes.Buffer
}

func newGzipDecoder() *gzipDecoder { return &gzipDecoder{} }

func (d *gzipDecoder) Decompress(p []byte) ([]byte, error) {
	d.buf.Write(p)
	return nil, nil
}

func (d *gzipDecoder) Flush() ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(d.buf.Bytes()))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// deflateDecoder implements the zlib-wrapped deflate coding with automatic
// fallback to raw deflate (no zlib header, -MAX_WBITS equivalent) for
// legacy servers that mislabel raw DEFLATE as "deflate".
type deflateDecoder struct {
	buf bytes.Buffer
}

func newDeflateDecoder() *deflateDecoder { return &deflateDecoder{} }

func (d *deflateDecoder) Decompress(p []byte) ([]byte, error) {
	d.buf.Write(p)
	return nil, nil
}

func (d *deflateDecoder) Flush() ([]byte, error) {
	if out, err := inflateZlib(d.buf.Bytes()); err == nil {
		return out, nil
	}
	return inflateRaw(d.buf.Bytes())
}

func inflateZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func inflateRaw(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

type brotliDecoder struct {
	buf bytes.Buffer
}

func newBrotliDecoder() *brotliDecoder { return &brotliDecoder{} }

func (d *brotliDecoder) Decompress(p []byte) ([]byte, error) {
	d.buf.Write(p)
	return nil, nil
}

func (d *brotliDecoder) Flush() ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(d.buf.Bytes()))
	return io.ReadAll(r)
}
