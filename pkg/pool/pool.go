// Package pool implements the per-origin bounded LIFO connection pool:
// counted slot reservation, blocking or non-blocking acquisition,
// liveness-checked reuse of idle connections, and overflow discard.
package pool

import (
	"sync"
	"time"

	"github.com/go-httpcore/httpcore/pkg/connection"
	"github.com/go-httpcore/httpcore/pkg/errors"
)

// slot holds either a live idle connection or a reserved-but-empty
// placeholder (nil Conn) representing capacity that hasn't been used yet.
type slot struct {
	conn *connection.Connection
}

// Pool is a bounded LIFO pool of connections to one origin (or one
// proxy-routed origin pair). The zero value is not usable; use New.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	maxSize  int
	idle     []*slot
	reserved int // slots checked out, including fresh-connection placeholders
	closed   bool

	host string
	port int

	maxIdleTime time.Duration
}

// New creates an empty Pool with capacity for maxSize connections. No
// placeholder slots are pushed: free capacity is the difference between
// maxSize and the reserved count, and Acquire tells the caller to dial a
// fresh connection whenever no idle connection is left and capacity remains.
func New(host string, port, maxSize int, maxIdleTime time.Duration) *Pool {
	p := &Pool{
		maxSize:     maxSize,
		host:        host,
		port:        port,
		maxIdleTime: maxIdleTime,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire returns an idle connection if one is available, or signals the
// caller should dial a fresh one by returning (nil, true, nil) when a slot
// was reserved. If block is false and the pool has no idle connections and
// no free slot, it returns EmptyPoolError immediately; if block is true it
// waits until a slot frees up.
func (p *Pool) Acquire(block bool) (conn *connection.Connection, shouldDial bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closed {
			return nil, false, errors.ClosedPoolError(p.host, p.port)
		}

		for len(p.idle) > 0 {
			n := len(p.idle)
			s := p.idle[n-1]
			p.idle = p.idle[:n-1]
			if s.conn == nil {
				p.reserved++
				return nil, true, nil
			}
			if !s.conn.IsAlive() {
				s.conn.Close()
				continue
			}
			p.reserved++
			return s.conn, false, nil
		}

		if p.reserved < p.maxSize {
			p.reserved++
			return nil, true, nil
		}

		if !block {
			return nil, false, errors.EmptyPoolError(p.host, p.port)
		}
		p.cond.Wait()
	}
}

// Release returns a connection to the idle pool (LIFO, so it becomes the
// next one handed out) or closes it if the pool is full or closed.
func (p *Pool) Release(conn *connection.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reserved--
	if p.closed || len(p.idle) >= p.maxSize {
		conn.Close()
		p.cond.Signal()
		return
	}
	p.idle = append(p.idle, &slot{conn: conn})
	p.cond.Signal()
}

// Discard releases a reserved slot without returning a connection to the
// idle list — used when a connection must be closed rather than reused
// (MustClose state, or Dial/TLS failure after a slot was reserved).
func (p *Pool) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserved--
	p.cond.Signal()
}

// Close closes every idle connection and marks the pool closed; any
// blocked Acquire calls wake up and return ClosedPoolError.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, s := range p.idle {
		if s.conn != nil {
			s.conn.Close()
		}
	}
	p.idle = nil
	p.cond.Broadcast()
}

// Stats reports idle count and reserved (in-use) count for diagnostics.
type Stats struct {
	Idle     int
	Reserved int
	MaxSize  int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), Reserved: p.reserved, MaxSize: p.maxSize}
}

// EvictStale closes and drops idle connections that have exceeded
// maxIdleTime. Nothing in this module calls it on a schedule; idle
// connections are only evicted when a caller invokes it.
func (p *Pool) EvictStale(now time.Time, lastUsed func(*connection.Connection) time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxIdleTime <= 0 {
		return
	}
	fresh := p.idle[:0]
	for _, s := range p.idle {
		if s.conn != nil && lastUsed != nil && now.Sub(lastUsed(s.conn)) > p.maxIdleTime {
			s.conn.Close()
			continue
		}
		fresh = append(fresh, s)
	}
	p.idle = fresh
}
