package pool

import "time"

// runHerder is the per-pool supervisor goroutine: one grow-or-shrink
// decision per wake, woken either by a Submit-side refusal (via
// wakeHerder, a grow-only nudge) or by the wthread_purge_delay timer (a
// grow-then-maybe-shrink wake).
func (p *Pool) runHerder() {
	timer := time.NewTimer(p.cfg.PurgeDelay)
	defer timer.Stop()

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		p.growPass()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.cfg.PurgeDelay)

		select {
		case <-p.stop:
			return
		case <-p.wakeHerder:
			continue
		case <-timer.C:
			p.shrinkPass()
		}
	}
}

// growPass creates at most one worker per wake — a budget that throttles
// startup and overload spikes alike. It always updates lastLqueue, so a
// plateaued queue stops triggering growth even while above threshold.
func (p *Pool) growPass() {
	p.mu.Lock()
	current := p.lqueue
	need := p.nthr < p.cfg.Min || (current > p.cfg.AddThreshold && current >= p.lastLqueue)
	p.lastLqueue = current
	if !need {
		p.mu.Unlock()
		return
	}
	if p.nthr >= p.cfg.Max {
		p.mu.Unlock()
		p.global.ThreadsLimited.Add(1)
		return
	}
	p.mu.Unlock()

	p.spawnWorker()
	time.Sleep(p.cfg.AddDelay)
}

// shrinkPass retires at most one idle worker per purge-delay wake: the
// least-recently-parked one (tail of the idle list), and only once it has
// been idle at least wthread_timeout — unless nthr has drifted above
// wthread_max, in which case it is retired immediately regardless of how
// recently it parked.
func (p *Pool) shrinkPass() {
	p.mu.Lock()
	if p.nthr <= p.cfg.Min {
		p.mu.Unlock()
		return
	}

	e := p.idle.Back()
	if e == nil {
		p.mu.Unlock()
		return
	}
	w := e.Value.(*Worker)

	overMax := p.nthr > p.cfg.Max
	if !overMax && time.Since(w.lastUsed) < p.cfg.Timeout {
		p.mu.Unlock()
		return
	}

	p.idle.Remove(e)
	p.nthr--
	nq, nd := p.nqueued, p.ndropped
	p.nqueued, p.ndropped = 0, 0
	p.mu.Unlock()

	p.global.ThreadsDestroyed.Add(1)
	p.global.Queued.Add(int64(nq))
	p.global.Dropped.Add(int64(nd))

	w.assign(shutdownTask)
}
