package timeout

import (
	"bufio"
	"net"
	"testing"
	"time"
)

func TestNewRejectsNonPositive(t *testing.T) {
	if _, err := New(0, time.Second, time.Second); err == nil {
		t.Fatal("expected InvalidTimeout for zero connect")
	}
	if _, err := New(Default, Default, Default); err != nil {
		t.Fatalf("Default sentinel should be valid: %v", err)
	}
}

func TestReadTimeoutDerivesFromRemainingBudget(t *testing.T) {
	to, err := New(time.Second, 5*time.Second, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	to.StartConnect()
	time.Sleep(50 * time.Millisecond)
	rt := to.ReadTimeout()
	if rt <= 0 || rt > 200*time.Millisecond {
		t.Fatalf("expected read timeout bounded by remaining total budget, got %v", rt)
	}
}

func TestWaitWriteOrReadDetectsEarlyResponse(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		// Respond without consuming the upload, the way a server rejecting
		// an oversized body does.
		server.Write([]byte("HTTP/1.1 413 Payload Too Large\r\n\r\n"))
	}()

	deadline := time.Now().Add(2 * time.Second)
	ev, _, err := WaitWriteOrRead(client, bufio.NewReader(client), make([]byte, 4096), deadline)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != EventReadReady {
		t.Fatalf("expected EventReadReady for a response sent before the upload was read, got %v", ev)
	}
}
