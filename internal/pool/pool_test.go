package pool

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testParams() Params {
	p := DefaultParams()
	p.Min = 1
	p.Max = 4
	p.AddThreshold = 1
	p.AddDelay = time.Millisecond
	p.FailDelay = time.Millisecond
	p.PurgeDelay = 20 * time.Millisecond
	p.Timeout = 30 * time.Millisecond
	p.QueueMax = 200
	return p
}

type fakeSession struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSession) Handle(w *Worker, conn net.Conn, vxid uint64) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func newTestPool(cfg Params) (*Pool, *GlobalMetrics) {
	g := &GlobalMetrics{}
	p := newPool(0, cfg, &fakeSession{}, g)
	return p, g
}

func TestSubmitDispatchesToIdleWorker(t *testing.T) {
	p, _ := newTestPool(testParams())
	p.Start()
	defer p.Stop()

	done := make(chan struct{})
	require.Eventually(t, func() bool {
		res := p.Submit(Task{Fn: func(w *Worker) { close(done) }}, NoQueue)
		return res == Submitted
	}, time.Second, time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestSubmitNoQueueRefusesWhenBusy(t *testing.T) {
	cfg := testParams()
	cfg.Min = 1
	cfg.Max = 1 // never grow, so the sole worker stays busy
	p, _ := newTestPool(cfg)
	p.Start()
	defer p.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	require.Equal(t, Submitted, p.Submit(Task{Fn: func(w *Worker) {
		close(started)
		<-release
	}}, NoQueue))

	<-started
	require.Equal(t, Refused, p.Submit(Task{Fn: func(w *Worker) {}}, NoQueue))
	close(release)
}

func TestSubmitQueueFrontDropsOverLimit(t *testing.T) {
	cfg := testParams()
	cfg.Min = 1
	cfg.Max = 1
	cfg.QueueMax = 100 // limit = QueueMax * nthr / 100 = 1
	p, _ := newTestPool(cfg)
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	require.Equal(t, Submitted, p.Submit(Task{Fn: func(w *Worker) { <-release }}, NoQueue))

	require.Eventually(t, func() bool { return p.Nthr() == 1 }, time.Second, time.Millisecond)

	require.Equal(t, Submitted, p.Submit(Task{Fn: func(w *Worker) {}}, QueueFront))
	require.Equal(t, Submitted, p.Submit(Task{Fn: func(w *Worker) {}}, QueueFront),
		"lqueue=1 does not exceed the bound of 1, so a second item is still admitted")
	require.Equal(t, Refused, p.Submit(Task{Fn: func(w *Worker) {}}, QueueFront),
		"a third queued item must be dropped once lqueue (2) exceeds the percent-of-nthr bound (1)")

	close(release)
}

func TestSubmitQueueBackNeverRefuses(t *testing.T) {
	cfg := testParams()
	cfg.Min = 1
	cfg.Max = 1
	p, _ := newTestPool(cfg)
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	require.Equal(t, Submitted, p.Submit(Task{Fn: func(w *Worker) { <-release }}, NoQueue))
	require.Eventually(t, func() bool { return p.Nthr() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 50; i++ {
		require.Equal(t, Submitted, p.Submit(Task{Fn: func(w *Worker) {}}, QueueBack))
	}
	close(release)
}

func TestHerderGrowsUnderSustainedQueuePressure(t *testing.T) {
	cfg := testParams()
	cfg.Min = 1
	cfg.Max = 3
	cfg.AddThreshold = 0
	cfg.QueueMax = 100000 // don't let admission drop work before growth can react
	p, _ := newTestPool(cfg)
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	require.Equal(t, Submitted, p.Submit(Task{Fn: func(w *Worker) { <-release }}, NoQueue))
	require.Eventually(t, func() bool { return p.Nthr() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		p.Submit(Task{Fn: func(w *Worker) { <-release }}, QueueFront)
	}

	require.Eventually(t, func() bool { return p.Nthr() > 1 }, 2*time.Second, 5*time.Millisecond,
		"herder should grow nthr past min while the queue stays non-empty")

	close(release)
}

func TestHerderRetiresIdleWorkerPastTimeout(t *testing.T) {
	cfg := testParams()
	cfg.Min = 1
	cfg.Max = 3
	cfg.Timeout = 10 * time.Millisecond
	cfg.PurgeDelay = 15 * time.Millisecond
	p, g := newTestPool(cfg)
	p.Start()
	defer p.Stop()

	// Force growth past min so there is an idle worker eligible for
	// retirement without violating wthread_min.
	p.mu.Lock()
	p.nthr++
	p.mu.Unlock()
	w := newWorker(p)
	g.Threads.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.workerLoop(w)
	}()

	require.Eventually(t, func() bool { return p.Nthr() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return p.Nthr() == 1 }, time.Second, time.Millisecond,
		"the extra idle worker should be retired once past wthread_timeout")
}

func TestAcceptTaskSelfServicesWhenNoPeerIdle(t *testing.T) {
	cfg := testParams()
	cfg.Min = 1
	cfg.Max = 1
	sess := &fakeSession{}
	g := &GlobalMetrics{}
	p := newPool(0, cfg, sess, g)
	p.Start()
	defer p.Stop()

	client, server := net.Pipe()
	defer client.Close()

	ln := &onceListener{conns: []net.Conn{server}}
	p.AttachListener(ln)

	require.Eventually(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.calls == 1
	}, time.Second, 5*time.Millisecond)
}

// onceListener is a minimal net.Listener that hands out a fixed list of
// connections and then blocks forever, simulating an idle socket.
type onceListener struct {
	mu    sync.Mutex
	conns []net.Conn
	block chan struct{}
}

func (l *onceListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if len(l.conns) > 0 {
		c := l.conns[0]
		l.conns = l.conns[1:]
		l.mu.Unlock()
		return c, nil
	}
	l.mu.Unlock()
	if l.block == nil {
		l.mu.Lock()
		l.block = make(chan struct{})
		l.mu.Unlock()
	}
	<-l.block
	return nil, net.ErrClosed
}

func (l *onceListener) Close() error   { return nil }
func (l *onceListener) Addr() net.Addr { return fakeAddr{} }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake" }

func TestSupervisorReconcilesToConfiguredPoolCount(t *testing.T) {
	cfg := testParams()
	cfg.Pools = 3
	sup := NewSupervisor(cfg, &fakeSession{})
	var ticked atomic.Bool
	go func() {
		sup.reconcile()
		ticked.Store(true)
	}()

	require.Eventually(t, func() bool { return ticked.Load() }, time.Second, time.Millisecond)
	require.Len(t, sup.Pools(), 3)
	sup.Stop()
}

func TestWorkerParkDoesNotLoseAConcurrentAssign(t *testing.T) {
	p, _ := newTestPool(testParams())
	w := newWorker(p)

	done := make(chan Task, 1)
	go func() { done <- w.park() }()

	// Give park a head start so it is plausibly waiting before assign runs;
	// correctness does not depend on this, only on assign/park's own
	// locking, but it exercises the interesting interleaving.
	time.Sleep(5 * time.Millisecond)
	w.assign(Task{Fn: func(*Worker) {}})

	select {
	case tk := <-done:
		require.False(t, tk.IsShutdown())
	case <-time.After(time.Second):
		t.Fatal("assign was lost")
	}
}
