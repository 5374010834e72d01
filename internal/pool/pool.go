package pool

import (
	"container/list"
	"net"
	"sync"
	"time"
)

// SubmitMode selects one of the three admission policies Submit offers.
type SubmitMode int

const (
	// NoQueue refuses immediately if no worker is idle. Used for work
	// that is cheap to retry elsewhere (the accept task's self-service
	// fallback covers its own failure case).
	NoQueue SubmitMode = iota
	// QueueFront queues onto the bounded request-work queue if no
	// worker is idle, subject to queue_max.
	QueueFront
	// QueueBack queues onto the unbounded housekeeping queue — used for
	// the long-lived accept task, which must never be dropped.
	QueueBack
)

// SubmitResult is Submit's outcome.
type SubmitResult int

const (
	Submitted SubmitResult = iota
	Refused
)

// SessionHandler is the collaborator an accept task hands a freshly
// accepted connection to — spec.md §4.5's "session sub-pool".
type SessionHandler interface {
	Handle(w *Worker, conn net.Conn, vxid uint64)
}

// Pool is one scheduler shard (C5): a mutex, front (request-work) and back
// (housekeeping) task queues, an idle worker list, and a herder goroutine
// that grows and shrinks its thread population.
type Pool struct {
	Index  int
	cfg    Params
	sess   SessionHandler
	global *GlobalMetrics

	mu    sync.Mutex
	front *list.List // of Task
	back  *list.List // of Task
	idle  *list.List // of *Worker

	nthr       int
	lqueue     int
	lastLqueue int
	nqueued    uint64
	ndropped   uint64
	vxidSeq    uint64

	wakeHerder chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func newPool(index int, cfg Params, sess SessionHandler, global *GlobalMetrics) *Pool {
	return &Pool{
		Index:      index,
		cfg:        cfg,
		sess:       sess,
		global:     global,
		front:      list.New(),
		back:       list.New(),
		idle:       list.New(),
		wakeHerder: make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// Start spins up wthread_min workers and the herder goroutine.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Min; i++ {
		p.spawnWorker()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runHerder()
	}()
}

func (p *Pool) spawnWorker() {
	p.mu.Lock()
	p.nthr++
	p.mu.Unlock()

	w := newWorker(p)
	p.global.ThreadsCreated.Add(1)
	p.global.Threads.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.workerLoop(w)
	}()
}

// AttachListener binds ln to this pool via a long-lived accept task posted
// onto the back queue, per spec.md §4.5.
func (p *Pool) AttachListener(ln net.Listener) *PoolSocket {
	ps := &PoolSocket{Listener: ln, pool: p}
	p.Submit(Task{Fn: ps.acceptTask}, QueueBack)
	return ps
}

// Submit admits t under mode. An idle worker, if one exists, is always
// preferred over queuing regardless of mode.
func (p *Pool) Submit(t Task, mode SubmitMode) SubmitResult {
	p.mu.Lock()
	if w := p.popIdleFront(); w != nil {
		p.mu.Unlock()
		w.assign(t)
		return Submitted
	}

	switch mode {
	case NoQueue:
		p.mu.Unlock()
		p.nudgeHerder()
		return Refused
	case QueueFront:
		limit := p.cfg.QueueMax * p.nthr / 100
		if p.lqueue > limit {
			p.ndropped++
			p.mu.Unlock()
			p.nudgeHerder()
			return Refused
		}
		p.front.PushBack(t)
		p.nqueued++
		p.lqueue++
		p.mu.Unlock()
		return Submitted
	case QueueBack:
		p.back.PushBack(t)
		p.mu.Unlock()
		return Submitted
	default:
		p.mu.Unlock()
		return Refused
	}
}

// popIdleFront removes and returns the most recently parked worker (head
// of the idle list), giving Submit's fast path LIFO hot-reuse. Callers
// must hold p.mu.
func (p *Pool) popIdleFront() *Worker {
	e := p.idle.Front()
	if e == nil {
		return nil
	}
	p.idle.Remove(e)
	return e.Value.(*Worker)
}

// pushIdle inserts w at the head of the idle list. Callers must hold p.mu.
func (p *Pool) pushIdle(w *Worker) {
	p.idle.PushFront(w)
}

// popWorkLocked pops the next task, preferring front (request work) over
// back (housekeeping). Callers must hold p.mu.
func (p *Pool) popWorkLocked() (Task, bool) {
	if e := p.front.Front(); e != nil {
		p.front.Remove(e)
		p.lqueue--
		return e.Value.(Task), true
	}
	if e := p.back.Front(); e != nil {
		p.back.Remove(e)
		return e.Value.(Task), true
	}
	return Task{}, false
}

func (p *Pool) workerLoop(w *Worker) {
	for {
		w.Arena().Reset()

		p.mu.Lock()
		t, ok := p.popWorkLocked()
		if !ok {
			if w.lastUsed.IsZero() {
				w.lastUsed = time.Now()
			}
			p.pushIdle(w)
			p.mu.Unlock()
			t = w.park()
		} else {
			p.mu.Unlock()
		}

		if t.IsShutdown() {
			p.global.Threads.Add(-1)
			return
		}

		w.lastUsed = time.Time{}
		t.Fn(w)
	}
}

func (p *Pool) nudgeHerder() {
	select {
	case p.wakeHerder <- struct{}{}:
	default:
	}
}

// Lqueue reports the current front-queue length.
func (p *Pool) Lqueue() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lqueue
}

// Nthr reports the current thread count.
func (p *Pool) Nthr() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nthr
}

// Stop retires every idle worker and stops the herder. Workers mid-task
// finish their current task and then block forever waiting for queues
// that will never be fed again — acceptable for process teardown, which
// is the only caller.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)

		p.mu.Lock()
		var idleWorkers []*Worker
		for e := p.idle.Front(); e != nil; e = e.Next() {
			idleWorkers = append(idleWorkers, e.Value.(*Worker))
		}
		p.idle.Init()
		p.nthr -= len(idleWorkers)
		p.mu.Unlock()

		for _, w := range idleWorkers {
			w.assign(shutdownTask)
		}
	})
}
