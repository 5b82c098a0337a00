package buffer

import (
	"io"
	"testing"
)

func TestBufferStaysInMemoryUnderLimit(t *testing.T) {
	b := New(1024)
	defer b.Close()

	if _, err := b.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b.IsSpilled() {
		t.Fatal("expected buffer to stay in memory")
	}
	if string(b.Bytes()) != "hello" {
		t.Fatalf("unexpected bytes: %q", b.Bytes())
	}
}

func TestBufferSpillsToDiskOverLimit(t *testing.T) {
	b := New(4)
	defer b.Close()

	payload := []byte("this is more than four bytes")
	if _, err := b.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !b.IsSpilled() {
		t.Fatal("expected buffer to spill to disk")
	}
	if b.Path() == "" {
		t.Fatal("expected a backing file path")
	}

	r, err := b.Reader()
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestBufferCloseIsIdempotent(t *testing.T) {
	b := New(4)
	b.Write([]byte("spill me over"))
	if err := b.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestBufferWriteAfterCloseFails(t *testing.T) {
	b := New(1024)
	b.Close()
	if _, err := b.Write([]byte("x")); err == nil {
		t.Fatal("expected write after close to fail")
	}
}

func TestBufferRejectsWritesPastMaxSize(t *testing.T) {
	b := NewWithMax(4, 8)
	defer b.Close()

	if _, err := b.Write([]byte("12345678")); err != nil {
		t.Fatalf("write up to cap: %v", err)
	}
	if _, err := b.Write([]byte("x")); err == nil {
		t.Fatal("expected write past max size to fail")
	}
}
