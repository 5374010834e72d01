package pool

import (
	"encoding/binary"
	"net"
)

// PoolSocket binds a listening socket to a pool via a long-lived accept
// task that lives on the back queue for the pool's entire lifetime.
type PoolSocket struct {
	Listener net.Listener
	pool     *Pool
}

// acceptTask is the single-acceptor hand-off loop from spec.md §4.5: a
// worker that picks this task up calls Accept in a loop. Each accepted
// connection is handed to an idle peer if one exists; if the pool is
// fully busy, the accept task re-posts itself to the back queue — so some
// worker keeps listening — and processes the connection itself instead of
// leaving it unhandled.
func (ps *PoolSocket) acceptTask(w *Worker) {
	p := ps.pool
	for {
		conn, err := ps.Listener.Accept()
		if err != nil {
			select {
			case <-p.stop:
				return
			default:
			}
			continue
		}

		p.mu.Lock()
		p.vxidSeq++
		vxid := p.vxidSeq
		peer := p.popIdleFront()
		if peer == nil {
			p.back.PushBack(Task{Fn: ps.acceptTask})
			p.mu.Unlock()
			ps.stage(w, vxid)
			p.sess.Handle(w, conn, vxid)
			return
		}
		p.mu.Unlock()

		ps.stage(peer, vxid)
		peer.assign(Task{
			Fn:   func(pw *Worker) { p.sess.Handle(pw, conn, vxid) },
			Priv: conn,
		})
	}
}

// stage reserves and commits the accept metadata — here, just the
// accepted connection's VXID-equivalent sequence number — inside w's
// scratch workspace, matching spec.md §4.5's "reserve accept metadata
// inside the worker's scratch workspace" before any hand-off.
func (ps *PoolSocket) stage(w *Worker, vxid uint64) {
	buf := w.Arena().Reserve(8)
	if len(buf) == 8 {
		binary.BigEndian.PutUint64(buf, vxid)
		w.Arena().Commit(8)
	}
}
