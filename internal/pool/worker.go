package pool

import (
	"sync"
	"time"

	"github.com/slicingmelon/cachefrontd/internal/workspace"
)

// Worker is one pool thread: a personal condition variable, a scratch
// workspace reset at the top of every task, and a last-used timestamp the
// herder consults when deciding what to retire.
type Worker struct {
	pool *Pool

	mu   sync.Mutex
	cond *sync.Cond

	task    Task
	hasTask bool

	lastUsed time.Time
	ws       *workspace.Arena
}

func newWorker(p *Pool) *Worker {
	w := &Worker{pool: p, ws: workspace.New(workspace.DefaultSize)}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// assign hands w a task directly, bypassing the queues, and wakes it. Used
// both for the "found an idle worker" Submit fast path and for the
// accept task's peer hand-off.
func (w *Worker) assign(t Task) {
	w.mu.Lock()
	w.task = t
	w.hasTask = true
	w.mu.Unlock()
	w.cond.Signal()
}

// park blocks until assign delivers a task, then returns it. Checking
// hasTask in a loop before waiting means a task assigned between the
// caller's idle-list insertion and this call is never lost.
func (w *Worker) park() Task {
	w.mu.Lock()
	for !w.hasTask {
		w.cond.Wait()
	}
	t := w.task
	w.task = Task{}
	w.hasTask = false
	w.mu.Unlock()
	return t
}

// Arena returns the worker's scratch workspace.
func (w *Worker) Arena() *workspace.Arena { return w.ws }

// Pool returns the pool this worker belongs to.
func (w *Worker) Pool() *Pool { return w.pool }
