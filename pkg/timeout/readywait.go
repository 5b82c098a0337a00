package timeout

import (
	"net"
	"time"
)

// ReadWriteRace holds the connection for the "wait until this socket is
// readable OR writable, with a deadline" primitive §4.3 calls for; the race
// itself is WaitWriteOrRead below. Go has no portable select(2)-over-fds
// surface, so it is built from the runtime netpoller: one goroutine peeks
// one byte without consuming it, another attempts to flush pending write
// bytes, and whichever becomes ready first wins the select.
// This is the idiomatic Go equivalent of a kqueue/epoll/poll/select stack,
// and it is what the standard library itself does internally.
type ReadWriteRace struct {
	conn net.Conn
}

// NewReadWriteRace wraps a connection for concurrent read/write readiness
// waiting during request body upload.
func NewReadWriteRace(conn net.Conn) *ReadWriteRace {
	return &ReadWriteRace{conn: conn}
}

// Peeker reports whether at least one byte is available to read without
// consuming it from the stream the caller will later parse. A *bufio.Reader
// satisfies this (Peek buffers without advancing), which is why
// WaitWriteOrRead takes one instead of calling conn.Read directly — a raw
// Read would steal the first byte of the eventual response out from under
// the framing parser.
type Peeker interface {
	Peek(n int) ([]byte, error)
}

// Event reports which side became ready first.
type Event int

const (
	// EventWriteReady means the upload can continue writing body bytes.
	EventWriteReady Event = iota
	// EventReadReady means the server sent bytes before the upload
	// finished — the "early response" case send_request must detect.
	EventReadReady
	// EventTimeout means the deadline elapsed with neither side ready.
	EventTimeout
)

// WaitWriteOrRead races a write of the next chunk against read-readiness on
// the same connection, returning as soon as either completes or deadline
// passes. write is expected to be a short, non-blocking-ish write (a single
// body chunk); if the peer has already responded, the read goroutine will
// typically win before write blocks on a full send buffer.
//
// peek must be backed by the same buffered reader the caller will use to
// parse the eventual response (e.g. framing.Parser.Peek) so the probe byte
// stays available for the real read instead of being consumed here.
func WaitWriteOrRead(conn net.Conn, peek Peeker, chunk []byte, deadline time.Time) (Event, int, error) {
	type writeResult struct {
		n   int
		err error
	}
	type readResult struct {
		ready bool
		err   error
	}

	writeCh := make(chan writeResult, 1)
	readCh := make(chan readResult, 1)

	go func() {
		n, err := conn.Write(chunk)
		writeCh <- writeResult{n, err}
	}()

	go func() {
		peekDeadline := deadline
		if peekDeadline.IsZero() {
			peekDeadline = time.Now().Add(50 * time.Millisecond)
		}
		conn.SetReadDeadline(peekDeadline)
		_, err := peek.Peek(1)
		conn.SetReadDeadline(time.Time{})
		if err == nil {
			readCh <- readResult{true, nil}
			return
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			readCh <- readResult{false, nil}
			return
		}
		readCh <- readResult{false, err}
	}()

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		timer = time.NewTimer(time.Until(deadline))
		timeoutCh = timer.C
		defer timer.Stop()
	}

	select {
	case w := <-writeCh:
		select {
		case r := <-readCh:
			if r.ready {
				return EventReadReady, w.n, nil
			}
		default:
		}
		return EventWriteReady, w.n, w.err
	case r := <-readCh:
		if r.ready || r.err != nil {
			return EventReadReady, 0, r.err
		}
		// The peek probe gave up with nothing to read; the write decides.
		select {
		case w := <-writeCh:
			return EventWriteReady, w.n, w.err
		case <-timeoutCh:
			return EventTimeout, 0, nil
		}
	case <-timeoutCh:
		return EventTimeout, 0, nil
	}
}
