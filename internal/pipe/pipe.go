// Package pipe implements the full-duplex connection splicer (C3): once a
// request is judged non-cacheable, bytes are pumped verbatim between the
// client and backend connections until both directions have ended, each
// direction ending on EOF, an error, or a deadline.
package pipe

import (
	"errors"
	"io"
	"net"
	"time"
)

// Cause records why a Splice session ended, for logging and §7 error
// classification.
type Cause int

const (
	CauseUnknown Cause = iota
	CauseClientEOF
	CauseClientError
	CauseBackendEOF
	CauseBackendError
	CauseTimeout
)

func (c Cause) String() string {
	switch c {
	case CauseClientEOF:
		return "client-eof"
	case CauseClientError:
		return "client-error"
	case CauseBackendEOF:
		return "backend-eof"
	case CauseBackendError:
		return "backend-error"
	case CauseTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// TXPipe is the termination-cause tag for a pipe session, matching the
// original's TX_PIPE transaction marker. Splice does not log it itself.
const TXPipe = "TX_PIPE"

const bufSize = 64 * 1024

// shortWriteBackoff paces retries after a partial write, the same
// acknowledged-hack texture as the original's short-write handling (see
// spec.md §9): a fixed small sleep rather than re-arming for writability.
const shortWriteBackoff = time.Millisecond

// Result reports how a Splice call ended.
type Result struct {
	Cause Cause
	Err   error
}

// Splice pumps bytes full-duplex between client and backend until both
// directions have ended. The backend connection must never be recycled
// after a splice — the caller is expected to call backend.CloseFd, never
// backend.RecycleFd, once Splice returns (spec.md §4.2's pipe-mode rule).
//
// timeout, if positive, bounds how long either side may go without
// forward progress; zero disables the deadline.
func Splice(client, backend net.Conn, timeout time.Duration) Result {
	results := make(chan Result, 2)
	go func() { results <- pump(client, backend, timeout, clientSide) }()
	go func() { results <- pump(backend, client, timeout, backendSide) }()

	first := <-results
	<-results
	return first
}

type side int

const (
	clientSide side = iota
	backendSide
)

// pump copies src -> dst until src reaches EOF, an error occurs on either
// side, or a read/write deadline trips. It always half-closes both ends
// of its direction before returning, whatever the outcome.
func pump(src, dst net.Conn, timeout time.Duration, s side) Result {
	buf := make([]byte, bufSize)
	for {
		if timeout > 0 {
			src.SetReadDeadline(time.Now().Add(timeout))
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if writeErr := writeAll(dst, buf[:n], timeout); writeErr != nil {
				halfClose(src, dst)
				return errResult(writeErr, s, false)
			}
		}
		if readErr != nil {
			halfClose(src, dst)
			return errResult(readErr, s, true)
		}
	}
}

func errResult(err error, s side, onRead bool) Result {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Result{Cause: CauseTimeout, Err: err}
	}
	if onRead && errors.Is(err, io.EOF) {
		if s == clientSide {
			return Result{Cause: CauseClientEOF}
		}
		return Result{Cause: CauseBackendEOF}
	}
	if s == clientSide {
		return Result{Cause: CauseClientError, Err: err}
	}
	return Result{Cause: CauseBackendError, Err: err}
}

// writeAll writes b to dst in full, pacing short writes with a small
// backoff before retrying the remainder rather than busy-looping.
func writeAll(dst net.Conn, b []byte, timeout time.Duration) error {
	for len(b) > 0 {
		if timeout > 0 {
			dst.SetWriteDeadline(time.Now().Add(timeout))
		}
		n, err := dst.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
		if len(b) > 0 {
			time.Sleep(shortWriteBackoff)
		}
	}
	return nil
}

// halfClose shuts down src for further reads and dst for further writes,
// if the underlying connection types support it (e.g. *net.TCPConn).
// Connections that don't (test doubles, some tunnels) are left open here;
// the caller closes both ends after Splice returns.
func halfClose(src, dst net.Conn) {
	if rc, ok := src.(interface{ CloseRead() error }); ok {
		rc.CloseRead()
	}
	if wc, ok := dst.(interface{ CloseWrite() error }); ok {
		wc.CloseWrite()
	}
}
