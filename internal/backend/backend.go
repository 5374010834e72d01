package backend

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// DialFunc establishes a fresh connection to a backend's configured
// address. Backends built via NewAddrDialFunc in dialer.go are
// proxy-aware and fall back to DNS-over-HTTPS when the system resolver
// fails.
type DialFunc func() (net.Conn, error)

// Backend is a named origin: an idle list of reusable VBCs plus the dial
// function used when the idle list is empty.
//
// The idle list is head-insertion/head-removal (a LIFO stack): the most
// recently released connection is the next one handed out, which keeps
// the hot connection warm instead of round-robining through every idle
// VBC equally.
type Backend struct {
	Name string

	mu   sync.Mutex
	idle *Conn // head of the idle list, linked through Conn.next

	inFlight atomic.Int64
	refs     atomic.Int64

	dial DialFunc
}

// New creates a Backend with one implicit reference, released by Unref.
func New(name string, dial DialFunc) *Backend {
	b := &Backend{Name: name, dial: dial}
	b.refs.Store(1)
	return b
}

// Ref takes an additional reference on b (e.g. a Director holding it).
func (b *Backend) Ref() { b.refs.Add(1) }

// Unref releases a reference. The caller is responsible for tearing the
// backend down (closeIdle) once refs reaches zero.
func (b *Backend) Unref() int64 { return b.refs.Add(-1) }

// InFlight reports the number of VBCs currently checked out.
func (b *Backend) InFlight() int64 { return b.inFlight.Load() }

// acquire pops the idle list's head, or dials a fresh connection if empty.
func (b *Backend) acquire() (*Conn, error) {
	b.mu.Lock()
	c := b.idle
	if c != nil {
		b.idle = c.next
		c.next = nil
	}
	b.mu.Unlock()

	if c != nil {
		c.state.Store(int32(stateInFlight))
		b.inFlight.Add(1)
		return c, nil
	}

	fd, err := b.dial()
	if err != nil {
		return nil, fmt.Errorf("backend %s: dial: %w", b.Name, err)
	}
	c = newConn(fd, b)
	b.inFlight.Add(1)
	return c, nil
}

// recycle pushes c onto the head of the idle list.
func (b *Backend) recycle(c *Conn) {
	b.mu.Lock()
	c.next = b.idle
	b.idle = c
	b.mu.Unlock()
	b.inFlight.Add(-1)
}

// release accounts for a connection leaving in-flight state without
// returning to the idle list (the CloseFd path).
func (b *Backend) release() {
	b.inFlight.Add(-1)
}

// closeIdle closes and drops every idle connection — used at backend
// removal or process shutdown.
func (b *Backend) closeIdle() {
	b.mu.Lock()
	c := b.idle
	b.idle = nil
	b.mu.Unlock()
	for c != nil {
		next := c.next
		c.fd.Close()
		c = next
	}
}
