// Package backend implements the backend connection manager (C2): a named
// origin's pool of reusable connections (VBCs), acquired through a
// Director and released through exactly one of RecycleFd or CloseFd.
package backend

import (
	"net"
	"sync/atomic"
)

type connState int32

const (
	stateInFlight connState = iota
	stateIdle
	stateClosed
)

// LogSink is attached to a Conn for the lifetime of one request and
// detached on release, mirroring the original's per-VBC log handle.
type LogSink interface {
	Attach(c *Conn)
	Detach(c *Conn)
}

// Conn is a backend connection (VBC): one TCP (or tunnel) connection to a
// named origin, plus the bookkeeping RecycleFd/CloseFd need to detect a
// double release.
type Conn struct {
	fd      net.Conn
	backend *Backend
	state   atomic.Int32
	log     atomic.Pointer[LogSink]

	next *Conn // idle-list link; owned by Backend.mu, not Conn itself
}

func newConn(fd net.Conn, b *Backend) *Conn {
	c := &Conn{fd: fd, backend: b}
	c.state.Store(int32(stateInFlight))
	return c
}

// NetConn returns the underlying connection.
func (c *Conn) NetConn() net.Conn { return c.fd }

// Backend returns the owning backend.
func (c *Conn) Backend() *Backend { return c.backend }

// AttachLog installs a log sink for the duration of the current request.
func (c *Conn) AttachLog(sink LogSink) {
	sink.Attach(c)
	c.log.Store(&sink)
}

// DetachLog removes the current log sink, if any.
func (c *Conn) DetachLog() {
	if p := c.log.Load(); p != nil {
		(*p).Detach(c)
		c.log.Store(nil)
	}
}
