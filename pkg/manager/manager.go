// Package manager implements the bounded LRU of connection Pools keyed by
// origin (and, when proxied, by the proxy leg too) that the engine consults
// on every request.
package manager

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/go-httpcore/httpcore/pkg/errors"
	"github.com/go-httpcore/httpcore/pkg/pool"
)

// PoolKey identifies one pool: a direct origin, or an origin reached
// through a specific proxy. Two requests share a pool iff their PoolKeys
// are equal, matching the teacher's "proxy_type:proxy_host:proxy_port->
// target_host:target_port" string-key scheme but as a structured,
// hashable value instead of a formatted string.
type PoolKey struct {
	Scheme    string
	Host      string
	Port      int
	ProxyType string
	ProxyHost string
	ProxyPort int

	// TLSFingerprint disambiguates connections to the same origin made
	// under different TLS material (pinned certificate fingerprint, client
	// certificate, min/max version, cipher suite list). Two requests
	// against the same host:port with different TLS requirements must not
	// share a pooled connection, so this is folded into the key rather
	// than left implicit.
	TLSFingerprint string
}

func (k PoolKey) String() string {
	suffix := ""
	if k.TLSFingerprint != "" {
		suffix = "#" + k.TLSFingerprint
	}
	if k.ProxyType == "" {
		return fmt.Sprintf("%s://%s:%d%s", k.Scheme, k.Host, k.Port, suffix)
	}
	return fmt.Sprintf("%s:%s:%d->%s://%s:%d%s", k.ProxyType, k.ProxyHost, k.ProxyPort, k.Scheme, k.Host, k.Port, suffix)
}

type entry struct {
	key  PoolKey
	pool *pool.Pool
}

// Manager is a bounded-LRU registry of Pools. Unlike the teacher's
// transport.go (a sync.Map with no eviction), Manager enforces maxPools via
// a doubly-linked list + map, evicting the least-recently-used pool when a
// new key would exceed the bound and closing it once the lock is released.
type Manager struct {
	mu           sync.Mutex
	maxPools     int
	perPoolSize  int
	maxIdleTime  time.Duration
	ll           *list.List // front = most recently used
	index        map[PoolKey]*list.Element
	closed       bool
}

// New creates a Manager that holds at most maxPools pools, each with
// perPoolSize connection capacity.
func New(maxPools, perPoolSize int, maxIdleTime time.Duration) *Manager {
	return &Manager{
		maxPools:    maxPools,
		perPoolSize: perPoolSize,
		maxIdleTime: maxIdleTime,
		ll:          list.New(),
		index:       make(map[PoolKey]*list.Element),
	}
}

// PoolFor returns the Pool for key, creating it (and evicting the
// least-recently-used pool if at capacity) if it doesn't exist yet. The
// evicted pool, if any, is closed after the lock is released (§5: "Evicted
// Pools are closed outside the critical section to avoid holding the mutex
// across a network-close syscall").
func (m *Manager) PoolFor(key PoolKey) (*pool.Pool, error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return nil, errors.ClosedPoolError(key.Host, key.Port)
	}

	if el, ok := m.index[key]; ok {
		m.ll.MoveToFront(el)
		p := el.Value.(*entry).pool
		m.mu.Unlock()
		return p, nil
	}

	var evicted *pool.Pool
	if len(m.index) >= m.maxPools && m.maxPools > 0 {
		evicted = m.evictOldestLocked()
	}

	p := pool.New(key.Host, key.Port, m.perPoolSize, m.maxIdleTime)
	el := m.ll.PushFront(&entry{key: key, pool: p})
	m.index[key] = el
	m.mu.Unlock()

	if evicted != nil {
		evicted.Close()
	}
	return p, nil
}

// evictOldestLocked removes the least-recently-used entry from the registry
// and returns its pool for the caller to close once m.mu is released.
func (m *Manager) evictOldestLocked() *pool.Pool {
	oldest := m.ll.Back()
	if oldest == nil {
		return nil
	}
	e := oldest.Value.(*entry)
	m.ll.Remove(oldest)
	delete(m.index, e.key)
	return e.pool
}

// Clear closes every pool and empties the registry. Pools are closed after
// the lock is released, for the same reason as PoolFor's eviction.
func (m *Manager) Clear() {
	m.mu.Lock()
	pools := make([]*pool.Pool, 0, len(m.index))
	for el := m.ll.Front(); el != nil; el = el.Next() {
		pools = append(pools, el.Value.(*entry).pool)
	}
	m.ll.Init()
	m.index = make(map[PoolKey]*list.Element)
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}

// Close is Clear plus marking the Manager permanently closed.
func (m *Manager) Close() {
	m.Clear()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Len reports how many distinct pools are currently registered.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.index)
}
