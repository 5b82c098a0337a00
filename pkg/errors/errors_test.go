package errors

import (
	"errors"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	e := NewConnectionError("example.com", 443, errors.New("refused"))
	want := "[connection] dial example.com:443: failed to connect to example.com:443: refused"
	if e.Error() != want {
		t.Fatalf("got %q want %q", e.Error(), want)
	}
}

func TestErrorIsMatchesByType(t *testing.T) {
	e1 := NewTLSError("a", 1, nil)
	e2 := &Error{Type: ErrorTypeTLS}
	if !errors.Is(e1, e2) {
		t.Fatal("expected e1 to match e2 by Type")
	}
	e3 := &Error{Type: ErrorTypeDNS}
	if errors.Is(e1, e3) {
		t.Fatal("expected e1 not to match e3")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := NewProtocolError("bad framing", cause)
	if errors.Unwrap(e) != cause {
		t.Fatal("expected Unwrap to return cause")
	}
}

func TestMaxRetryErrorReportsHistory(t *testing.T) {
	hist := []RetryHistory{
		{Attempt: 1, Err: errors.New("conn reset")},
		{Attempt: 2, Err: errors.New("timeout")},
	}
	err := NewMaxRetryError("10.0.0.1:443", "connect", hist)
	if len(err.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(err.History))
	}
	if errors.Unwrap(err) == nil {
		t.Fatal("expected Unwrap to return last attempt's error")
	}
}

func TestProxyErrorCarriesAddr(t *testing.T) {
	err := NewProxyError("proxy.local:1080", "CONNECT rejected", nil)
	if err.Type != ErrorTypeProxy {
		t.Fatalf("expected ErrorTypeProxy, got %s", err.Type)
	}
	if err.Addr != "proxy.local:1080" {
		t.Fatalf("expected addr to be carried, got %q", err.Addr)
	}
}

func TestPoolErrors(t *testing.T) {
	if EmptyPoolError("h", 1).Type != ErrorTypePool {
		t.Fatal("expected pool type")
	}
	if ClosedPoolError("h", 1).Type != ErrorTypePool {
		t.Fatal("expected pool type")
	}
}

func TestBodyTooLargeIsProtocolError(t *testing.T) {
	err := BodyTooLarge(1024, 2048)
	if err.Type != ErrorTypeProtocol {
		t.Fatalf("expected protocol type, got %s", err.Type)
	}
	if err.Op != "body.limit" {
		t.Fatalf("expected op body.limit, got %s", err.Op)
	}
}
