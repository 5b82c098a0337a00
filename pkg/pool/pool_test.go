package pool

import (
	"testing"
	"time"

	"github.com/go-httpcore/httpcore/pkg/errors"
)

func TestAcquireReservesSlotWhenEmpty(t *testing.T) {
	p := New("example.com", 80, 2, time.Minute)
	conn, shouldDial, err := p.Acquire(false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if conn != nil || !shouldDial {
		t.Fatalf("expected caller told to dial fresh connection, got conn=%v shouldDial=%v", conn, shouldDial)
	}
}

func TestAcquireNonBlockingReturnsEmptyPoolError(t *testing.T) {
	p := New("example.com", 80, 1, time.Minute)
	if _, _, err := p.Acquire(false); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	_, _, err := p.Acquire(false)
	if err == nil {
		t.Fatal("expected EmptyPoolError on second non-blocking acquire")
	}
	if errors.GetErrorType(err) != errors.ErrorTypePool {
		t.Fatalf("expected pool error type, got %v", errors.GetErrorType(err))
	}
}

func TestDiscardFreesReservedSlot(t *testing.T) {
	p := New("example.com", 80, 1, time.Minute)
	if _, _, err := p.Acquire(false); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Discard()
	if _, _, err := p.Acquire(false); err != nil {
		t.Fatalf("expected slot free after discard: %v", err)
	}
}

func TestCloseWakesBlockedAcquire(t *testing.T) {
	p := New("example.com", 80, 1, time.Minute)
	if _, _, err := p.Acquire(false); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := p.Acquire(true)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected ClosedPoolError after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked acquire never woke up after Close")
	}
}

func TestStatsReportsReservedAndIdle(t *testing.T) {
	p := New("example.com", 80, 3, time.Minute)
	p.Acquire(false)
	p.Acquire(false)
	stats := p.Stats()
	if stats.Reserved != 2 || stats.MaxSize != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
