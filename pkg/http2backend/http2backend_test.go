package http2backend

import (
	"testing"

	"github.com/go-httpcore/httpcore/pkg/retry"
)

func TestNewAppliesDefaultALPN(t *testing.T) {
	b := New(Config{})
	if b.transport.TLSClientConfig == nil {
		t.Fatal("expected a TLS config to be set")
	}
	found := false
	for _, p := range b.transport.TLSClientConfig.NextProtos {
		if p == "h2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected h2 in NextProtos, got %v", b.transport.TLSClientConfig.NextProtos)
	}
}

func TestNewWrapsRetryTransportWhenPolicyGiven(t *testing.T) {
	b := New(Config{RetryPolicy: retry.DefaultPolicy()})
	if b.rt == nil {
		t.Fatal("expected a non-nil round tripper")
	}
	if b.rt == b.transport {
		t.Fatal("expected RetryPolicy to wrap the transport in a retry.Transport, not pass it through unwrapped")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(Config{})
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
