// Package session wires the accept task's hand-off output (spec.md §2's
// "session sub-pool") to a decision between serving a cached variant,
// forwarding to the backend, or piping the connection through verbatim.
// HTTP parsing proper, and the object store a cache hit would actually be
// served from, remain external collaborators modeled here only by the
// narrow interfaces the three in-scope components need.
package session

import (
	"net"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"

	"github.com/slicingmelon/cachefrontd/internal/backend"
	"github.com/slicingmelon/cachefrontd/internal/pipe"
	"github.com/slicingmelon/cachefrontd/internal/pool"
	"github.com/slicingmelon/cachefrontd/internal/vary"
)

// Request is the minimal view of an incoming request the in-scope
// components act on.
type Request struct {
	Host      string
	Cacheable bool
	Headers   vary.HeaderSource
}

// Decoder turns a freshly accepted connection into a Request. Supplied by
// the caller — this package has no HTTP parser of its own.
type Decoder func(conn net.Conn) (*Request, error)

// Outcome is Decide's classification of a request.
type Outcome int

const (
	OutcomeForward Outcome = iota
	OutcomePipe
	OutcomeCacheHit
)

// Decide classifies req: a non-cacheable request always pipes; a
// cacheable one with a stored variant key either hits (Match reports Hit)
// or must be forwarded to populate/refresh the cache. A nil storedVary
// means nothing is cached yet, so the outcome is always Forward.
func Decide(req *Request, storedVary []byte, ws []byte, opts vary.Options) Outcome {
	if !req.Cacheable {
		return OutcomePipe
	}
	if storedVary == nil {
		return OutcomeForward
	}
	if result, _ := vary.Match(storedVary, req.Headers, ws, opts); result == vary.Hit {
		return OutcomeCacheHit
	}
	return OutcomeForward
}

// VariantLookup resolves the stored Vary key (if any) for a request's
// cache key — the object store itself is external; this is the only
// touchpoint this package needs from it.
type VariantLookup func(req *Request) []byte

// SubPool is the bounded session sub-pool spec.md §4.5 refers to as the
// thing an accept task hands a connection to. It implements
// pool.SessionHandler: Handle returns immediately, having submitted the
// actual decode/decide/dispatch work to a flat pond.Pool sized
// independently of the C4/C5 worker-pool thread count, so the accepting
// worker is free to go back to accepting.
type SubPool struct {
	decode   Decoder
	lookup   VariantLookup
	director backend.Director
	opts     vary.Options
	timeout  time.Duration

	work pond.Pool
}

// NewSubPool builds a session sub-pool backed by a pond.Pool capped at
// maxConcurrency in-flight sessions.
func NewSubPool(decode Decoder, lookup VariantLookup, director backend.Director, opts vary.Options, timeout time.Duration, maxConcurrency int) *SubPool {
	return &SubPool{
		decode:   decode,
		lookup:   lookup,
		director: director,
		opts:     opts,
		timeout:  timeout,
		work:     pond.NewPool(maxConcurrency),
	}
}

// Handle implements pool.SessionHandler.
func (sp *SubPool) Handle(w *pool.Worker, conn net.Conn, vxid uint64) {
	sp.work.Submit(func() { sp.process(conn, vxid) })
}

func (sp *SubPool) process(conn net.Conn, vxid uint64) {
	defer conn.Close()

	id := uuid.New()
	req, err := sp.decode(conn)
	if err != nil {
		return
	}

	var stored []byte
	if sp.lookup != nil {
		stored = sp.lookup(req)
	}

	ws := make([]byte, 4096)
	switch Decide(req, stored, ws, sp.opts) {
	case OutcomePipe:
		sp.pipeThrough(conn, req, id, vxid)
	case OutcomeForward:
		sp.forward(conn, req, id, vxid)
	case OutcomeCacheHit:
		// Serving the hit is the object store's job; out of scope here.
	}
}

func (sp *SubPool) pipeThrough(conn net.Conn, req *Request, id uuid.UUID, vxid uint64) {
	c, err := backend.GetFd(sp.director, &backend.Request{Host: req.Host})
	if err != nil {
		return
	}
	pipe.Splice(conn, c.NetConn(), sp.timeout)
	// Pipe mode never recycles (spec.md §4.2): the connection state
	// after a splice is never known to be a clean HTTP boundary.
	backend.CloseFd(c)
}

func (sp *SubPool) forward(conn net.Conn, req *Request, id uuid.UUID, vxid uint64) {
	c, err := backend.GetFd(sp.director, &backend.Request{Host: req.Host})
	if err != nil {
		return
	}
	// Proxying the actual HTTP request/response bytes is the external
	// HTTP-parser collaborator's job (spec.md §1's scope boundary); once
	// it hands back a clean transaction boundary, the connection
	// recycles normally.
	backend.RecycleFd(c)
}

// Stop drains in-flight sessions and stops accepting new ones.
func (sp *SubPool) Stop() {
	sp.work.StopAndWait()
}
