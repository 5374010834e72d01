package backend

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// pipeDial returns a DialFunc that hands out one half of a net.Pipe each
// call, keeping the other half reachable for the test to read/write.
func pipeDial(t *testing.T) (DialFunc, *[]net.Conn) {
	t.Helper()
	var peers []net.Conn
	return func() (net.Conn, error) {
		a, b := net.Pipe()
		peers = append(peers, b)
		return a, nil
	}, &peers
}

func TestAcquireRecycleReusesConnection(t *testing.T) {
	dial, peers := pipeDial(t)
	b := New("origin-a", dial)

	c1, err := b.acquire()
	require.NoError(t, err)
	require.Len(t, *peers, 1, "first acquire must dial fresh")
	require.EqualValues(t, 1, b.InFlight())

	b.recycle(c1)
	require.EqualValues(t, 0, b.InFlight())

	c2, err := b.acquire()
	require.NoError(t, err)
	require.Same(t, c1, c2, "a recycled connection must be the next one handed out")
	require.Len(t, *peers, 1, "reuse must not dial a second connection")
}

func TestEveryConnIsInExactlyOneOfIdleInFlightClosed(t *testing.T) {
	dial, _ := pipeDial(t)
	b := New("origin-a", dial)
	director := NewRoundRobinDirector([]*Backend{b})

	c, err := GetFd(director, &Request{Host: "example.com"})
	require.NoError(t, err)
	require.EqualValues(t, stateInFlight, connState(c.state.Load()))

	RecycleFd(c)
	require.EqualValues(t, stateIdle, connState(c.state.Load()))

	c2, err := GetFd(director, &Request{Host: "example.com"})
	require.NoError(t, err)
	require.Same(t, c, c2)
	require.EqualValues(t, stateInFlight, connState(c2.state.Load()))

	CloseFd(c2)
	require.EqualValues(t, stateClosed, connState(c2.state.Load()))
}

func TestDoubleRecycleFdPanics(t *testing.T) {
	dial, _ := pipeDial(t)
	b := New("origin-a", dial)
	c, err := b.acquire()
	require.NoError(t, err)

	RecycleFd(c)
	require.Panics(t, func() { RecycleFd(c) })
}

func TestCloseFdAfterRecycleFdPanics(t *testing.T) {
	dial, _ := pipeDial(t)
	b := New("origin-a", dial)
	c, err := b.acquire()
	require.NoError(t, err)

	RecycleFd(c)
	require.Panics(t, func() { CloseFd(c) })
}

func TestRoundRobinDirectorCyclesBackends(t *testing.T) {
	dialA, _ := pipeDial(t)
	dialB, _ := pipeDial(t)
	a := New("a", dialA)
	b := New("b", dialB)
	director := NewRoundRobinDirector([]*Backend{a, b})

	c1, err := director.GetFd(&Request{})
	require.NoError(t, err)
	c2, err := director.GetFd(&Request{})
	require.NoError(t, err)
	c3, err := director.GetFd(&Request{})
	require.NoError(t, err)

	require.Same(t, a, c1.Backend())
	require.Same(t, b, c2.Backend())
	require.Same(t, a, c3.Backend())
}

func TestHealthyFalseWithNoBackends(t *testing.T) {
	director := NewRoundRobinDirector(nil)
	require.False(t, Healthy(director, &Request{}))

	_, err := GetFd(director, &Request{})
	require.ErrorIs(t, err, errNoBackends)
}

func TestCloseIdleClosesEveryIdleConnection(t *testing.T) {
	dial, peers := pipeDial(t)
	b := New("origin-a", dial)

	c1, _ := b.acquire()
	c2, _ := b.acquire()
	RecycleFd(c1)
	RecycleFd(c2)
	require.Len(t, *peers, 2)

	b.closeIdle()

	for _, peer := range *peers {
		_, err := peer.Write([]byte("x"))
		require.Error(t, err, "peer side of a closed idle connection must observe the close")
	}
}
