package decoder

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestIdentityRoundTrip(t *testing.T) {
	dec, ok := New("identity")
	if !ok {
		t.Fatal("expected identity decoder registered")
	}
	out, err := dec.Decompress([]byte("hello"))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestGzipRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write([]byte("compressed payload"))
	w.Close()

	dec, ok := New("gzip")
	if !ok {
		t.Fatal("expected gzip decoder registered")
	}
	dec.Decompress(buf.Bytes())
	out, err := dec.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if string(out) != "compressed payload" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestAcceptEncodingListsRegisteredCodings(t *testing.T) {
	ae := AcceptEncoding()
	for _, want := range []string{"gzip", "deflate", "br"} {
		if !bytes.Contains([]byte(ae), []byte(want)) {
			t.Fatalf("expected %q in Accept-Encoding %q", want, ae)
		}
	}
}

func TestUnknownCodingNotRegistered(t *testing.T) {
	if _, ok := New("zstd"); ok {
		t.Fatal("zstd should not be registered by default")
	}
}
