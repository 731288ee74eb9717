package sched

import (
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	db "ksched/debug"
)

type Wkind_t int

const (
	// resume the thread when notified
	WAKE_RESUME Wkind_t = iota
	// also resume it when Pred becomes true; polled every tick
	WAKE_TIMEOUT
)

// Waiter_t is one thread's registration on a wait queue or a core's timed
// list. Exactly one of notify, interrupt, or expiry claims it.
type Waiter_t struct {
	Kind Wkind_t
	T    *Thread_t
	Intr bool
	Pred func(t *Thread_t, now Ticks_t) bool

	wq       *Waitq_t
	cpu      *Cpu_t
	claimed  atomic.Bool
	rude     bool
	timedout bool
}

func Mkwaiter(t *Thread_t, intr bool) *Waiter_t {
	return &Waiter_t{Kind: WAKE_RESUME, T: t, Intr: intr}
}

func Mktimedwaiter(t *Thread_t, intr bool, pred func(*Thread_t, Ticks_t) bool) *Waiter_t {
	return &Waiter_t{Kind: WAKE_TIMEOUT, T: t, Intr: intr, Pred: pred}
}

// Rude reports whether the wait was interrupted by a signal or kill.
func (w *Waiter_t) Rude() bool {
	return w.rude
}

func (w *Waiter_t) Timedout() bool {
	return w.timedout
}

// block puts w's thread to sleep on w. It fails if w is interruptible and
// the thread already has an interruption pending.
func (w *Waiter_t) block() bool {
	t := w.T
	t.Schedlock.Lock()
	defer t.Schedlock.Unlock()
	if !t.oncpu {
		db.DFatalf("%v blocks off cpu", t)
	}
	if w.Intr && t.note.Killed {
		return false
	}
	if w.Intr {
		t.state = INTERRUPTIBLE
	} else {
		t.state = UNINTERRUPTIBLE
	}
	t.waiter = w
	if w.Kind == WAKE_TIMEOUT {
		w.cpu = t.cpu
		w.cpu.addtimed(w)
	}
	return true
}

func (w *Waiter_t) claim() bool {
	return w.claimed.CompareAndSwap(false, true)
}

// wake resumes a waiter that was claimed by a notify.
func (w *Waiter_t) wake() {
	if w.cpu != nil {
		w.cpu.deltimed(w)
	}
	w.T.unblock()
}

func (w *Waiter_t) cancel() {
	if w.wq != nil {
		w.wq.remove(w)
	}
	if w.cpu != nil {
		w.cpu.deltimed(w)
	}
}

func (w *Waiter_t) interrupt() {
	if !w.claim() {
		return
	}
	w.cancel()
	w.rude = true
	db.DPrintf(db.WAITQ, "%v rudely awoken", w.T)
	w.T.unblock()
}

func (w *Waiter_t) expire() {
	if !w.claim() {
		return
	}
	w.cancel()
	w.timedout = true
	w.T.unblock()
}

// Waitq_t is a queue of sleeping threads with an available count:
// a notify with no sleeper is banked and satisfies the next wait.
type Waitq_t struct {
	mu      deadlock.Mutex
	waiters []*Waiter_t
	avail   int
}

// Wait sleeps until notified. It returns false if the sleep was
// interrupted.
func (wq *Waitq_t) Wait(w *Waiter_t) bool {
	return wq.Wait_cond(w, nil)
}

// Wait_cond is Wait, except that it returns immediately if cond, which is
// evaluated under the queue's lock, is true.
func (wq *Waitq_t) Wait_cond(w *Waiter_t, cond func() bool) bool {
	wq.mu.Lock()
	if wq.avail > 0 {
		wq.avail--
		wq.mu.Unlock()
		return true
	}
	if cond != nil && cond() {
		wq.mu.Unlock()
		return true
	}
	w.wq = wq
	if !w.block() {
		wq.mu.Unlock()
		w.rude = true
		return false
	}
	wq.waiters = append(wq.waiters, w)
	wq.mu.Unlock()
	w.T.swtch()
	return !w.rude
}

func (wq *Waitq_t) pop_l() *Waiter_t {
	for len(wq.waiters) > 0 {
		w := wq.waiters[0]
		wq.waiters[0] = nil
		wq.waiters = wq.waiters[1:]
		if w.claim() {
			return w
		}
	}
	return nil
}

func (wq *Waitq_t) remove(w *Waiter_t) {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	for i, x := range wq.waiters {
		if x == w {
			wq.waiters = append(wq.waiters[:i], wq.waiters[i+1:]...)
			return
		}
	}
}

// Notify wakes the oldest sleeper, or banks the notification.
func (wq *Waitq_t) Notify() {
	wq.mu.Lock()
	w := wq.pop_l()
	if w == nil {
		wq.avail++
	}
	wq.mu.Unlock()
	if w != nil {
		w.wake()
	}
}

// Notify_all wakes every sleeper, or banks one notification if there are
// none.
func (wq *Waitq_t) Notify_all() {
	if wq.Wake(-1) == 0 {
		wq.mu.Lock()
		wq.avail++
		wq.mu.Unlock()
	}
}

// Wake wakes up to n sleepers (all of them if n < 0) without banking and
// returns how many it woke.
func (wq *Waitq_t) Wake(n int) int {
	var ws []*Waiter_t
	wq.mu.Lock()
	for n < 0 || len(ws) < n {
		w := wq.pop_l()
		if w == nil {
			break
		}
		ws = append(ws, w)
	}
	wq.mu.Unlock()
	for _, w := range ws {
		w.wake()
	}
	return len(ws)
}

// Wake_cond is Wake, after running f under the queue's lock; f publishes
// the state change that sleepers test with Wait_cond.
func (wq *Waitq_t) Wake_cond(n int, f func()) int {
	wq.mu.Lock()
	f()
	wq.mu.Unlock()
	return wq.Wake(n)
}

func (wq *Waitq_t) Len() int {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return len(wq.waiters)
}

func (wq *Waitq_t) Avail() int {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return wq.avail
}
