package backend

import (
	"errors"
	"sync/atomic"
)

// Request carries the handful of fields a Director needs to pick a
// backend candidate. HTTP parsing proper is an external collaborator;
// this is intentionally minimal.
type Request struct {
	Host string
}

// Director chooses a backend candidate for a request and reports whether
// any candidate is currently usable.
type Director interface {
	GetFd(req *Request) (*Conn, error)
	Healthy(req *Request) bool
}

var errNoBackends = errors.New("backend: director has no backends configured")

// RoundRobinDirector cycles through a fixed backend list — the simplest
// director policy, and the one this repo gives a concrete implementation
// so GetFd/Healthy have something real to exercise.
type RoundRobinDirector struct {
	backends []*Backend
	idx      atomic.Uint64
}

// NewRoundRobinDirector builds a director over backends. The slice is not
// copied; callers must not mutate it after construction.
func NewRoundRobinDirector(backends []*Backend) *RoundRobinDirector {
	return &RoundRobinDirector{backends: backends}
}

func (d *RoundRobinDirector) GetFd(req *Request) (*Conn, error) {
	if len(d.backends) == 0 {
		return nil, errNoBackends
	}
	n := d.idx.Add(1) - 1
	b := d.backends[n%uint64(len(d.backends))]
	return b.acquire()
}

func (d *RoundRobinDirector) Healthy(req *Request) bool {
	return len(d.backends) > 0
}

// GetFd acquires a VBC for req from director: an idle connection if one
// is available, otherwise a freshly dialed one.
func GetFd(director Director, req *Request) (*Conn, error) {
	return director.GetFd(req)
}

// Healthy reports whether director currently has a usable backend for
// req.
func Healthy(director Director, req *Request) bool {
	return director.Healthy(req)
}

// RecycleFd returns c to its backend's idle list for reuse. Calling it
// twice on the same Conn, or calling it after CloseFd, is a fatal usage
// error — the in-flight/idle/closed state machine catches it.
func RecycleFd(c *Conn) {
	if !c.state.CompareAndSwap(int32(stateInFlight), int32(stateIdle)) {
		panic("backend: RecycleFd called on a connection that is not in flight (double release)")
	}
	c.DetachLog()
	c.backend.recycle(c)
}

// CloseFd tears c down instead of recycling it — used for a broken
// connection, a pipe-mode session (pipe/splice never recycles), or
// backend removal. Double release is fatal, matching RecycleFd.
func CloseFd(c *Conn) {
	if !c.state.CompareAndSwap(int32(stateInFlight), int32(stateClosed)) {
		panic("backend: CloseFd called on a connection that is not in flight (double release)")
	}
	c.DetachLog()
	c.fd.Close()
	c.backend.release()
}
