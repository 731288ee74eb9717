package sched

// Timed waiters are registered on the core their thread slept on and
// polled by that core's tick handler.

func (c *Cpu_t) addtimed(w *Waiter_t) {
	c.timedl.Lock()
	c.timed[w] = true
	c.timedl.Unlock()
}

func (c *Cpu_t) deltimed(w *Waiter_t) {
	c.timedl.Lock()
	delete(c.timed, w)
	c.timedl.Unlock()
}

func (c *Cpu_t) polltimed(now Ticks_t) {
	var exp []*Waiter_t
	c.timedl.Lock()
	for w := range c.timed {
		if w.Pred(w.T, now) {
			exp = append(exp, w)
			delete(c.timed, w)
		}
	}
	c.timedl.Unlock()
	for _, w := range exp {
		w.expire()
	}
}

func (c *Cpu_t) Ntimed() int {
	c.timedl.Lock()
	defer c.timedl.Unlock()
	return len(c.timed)
}

// Sleep blocks t for n ticks. It returns false if an interruptible sleep
// was interrupted.
func (t *Thread_t) Sleep(n Ticks_t, intr bool) bool {
	if n == 0 {
		return true
	}
	dl := t.m.Now() + n
	w := Mktimedwaiter(t, intr, func(_ *Thread_t, now Ticks_t) bool {
		return now >= dl
	})
	return w.sleep()
}

func (w *Waiter_t) sleep() bool {
	if !w.block() {
		w.rude = true
		return false
	}
	w.T.swtch()
	return !w.rude
}

// Wait_timed is Wait_cond with a timeout of n ticks; it reports whether
// the wait timed out.
func (wq *Waitq_t) Wait_timed(t *Thread_t, intr bool, n Ticks_t, cond func() bool) (bool, bool) {
	dl := t.m.Now() + n
	w := Mktimedwaiter(t, intr, func(_ *Thread_t, now Ticks_t) bool {
		return now >= dl
	})
	ok := wq.Wait_cond(w, cond)
	return ok, w.timedout
}
