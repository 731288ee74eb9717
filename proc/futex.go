package proc

import (
	"time"

	db "ksched/debug"
	"ksched/defs"
	"ksched/sched"
)

// futexq returns the wait queue for the futex at va, creating it if
// mk is set. A process has at most Futexes distinct futexes.
func (p *Proc_t) futexq(va uintptr, mk bool) (*sched.Waitq_t, defs.Err_t) {
	p.futexl.Lock()
	defer p.futexl.Unlock()
	if wq, ok := p.futexes[va]; ok {
		return wq, 0
	}
	if !mk {
		return nil, 0
	}
	if len(p.futexes) >= p.pm.lim.Futexes {
		return nil, -defs.ENOMEM
	}
	wq := &sched.Waitq_t{}
	p.futexes[va] = wq
	return wq, 0
}

func (p *Proc_t) Nfutexes() int {
	p.futexl.Lock()
	defer p.futexl.Unlock()
	return len(p.futexes)
}

// futexes_drop forgets p's futexes once no thread can wait on them.
func (pm *Pmgr_t) futexes_drop(p *Proc_t) {
	p.futexl.Lock()
	defer p.futexl.Unlock()
	for va, wq := range p.futexes {
		if wq.Len() == 0 {
			delete(p.futexes, va)
		}
	}
}

// Futex waits on or wakes the futex at va. FUTEX_WAIT sleeps only if the
// word at va still holds val, for at most timeout if it is positive.
// FUTEX_WAKE wakes up to val sleepers and returns how many it woke.
func (u *Uctx_t) Futex(va uintptr, op int, val uint32, timeout time.Duration) (int, defs.Err_t) {
	n, err := u.futex(va, op, val, timeout)
	u.sysret()
	return n, err
}

func (u *Uctx_t) futex(va uintptr, op int, val uint32, timeout time.Duration) (int, defs.Err_t) {
	p := u.P
	u.pm.Stats.Nfutex.Inc()
	// va must be 4 byte aligned
	if va&0x3 != 0 {
		return 0, -defs.EINVAL
	}
	switch op {
	case defs.FUTEX_WAIT:
	case defs.FUTEX_WAKE:
		wq, _ := p.futexq(va, false)
		if wq == nil {
			return 0, 0
		}
		n := wq.Wake(int(val))
		db.DPrintf(db.FUTEX, "%v wake %#x: %d", u.T, va, n)
		return n, 0
	default:
		return 0, -defs.EINVAL
	}

	as := p.Vm()
	if _, err := as.Userword(va); err != 0 {
		return 0, err
	}
	wq, err := p.futexq(va, true)
	if err != 0 {
		return 0, err
	}
	// compared under the queue's lock, so a wake after a store cannot be
	// missed
	changed := false
	cond := func() bool {
		v, err := as.Load32(va)
		changed = err != 0 || v != val
		return changed
	}
	var ok, timedout bool
	if timeout > 0 {
		ok, timedout = wq.Wait_timed(u.T, true, u.pm.M.Ticks(timeout), cond)
	} else {
		ok = wq.Wait_cond(sched.Mkwaiter(u.T, true), cond)
	}
	switch {
	case !ok:
		_, kerr := u.T.Killed()
		if kerr == 0 {
			kerr = -defs.EINTR
		}
		return 0, kerr
	case timedout:
		return 0, -defs.ETIMEDOUT
	case changed:
		return 0, -defs.EAGAIN
	}
	return 0, 0
}

// Usleep sleeps for at least usec microseconds, rounded up to whole
// ticks. It returns -1 if a signal cut the sleep short.
func (u *Uctx_t) Usleep(usec int) int {
	ret := u.usleep(usec)
	u.sysret()
	return ret
}

func (u *Uctx_t) usleep(usec int) int {
	u.pm.Stats.Nsleep.Inc()
	if usec < 0 {
		return -1
	}
	n := u.pm.M.Ticks(time.Duration(usec) * time.Microsecond)
	if !u.T.Sleep(n, true) {
		return -1
	}
	return 0
}
