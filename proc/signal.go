package proc

import (
	"math/bits"

	db "ksched/debug"
	"ksched/defs"
	"ksched/sched"
)

type Sigdisp_t int

const (
	SIG_DFL Sigdisp_t = iota
	SIG_IGN
	SIG_CATCH
)

type Sighandler_t func(u *Uctx_t, sig int)

// Sigact_t is a signal's disposition. Mask is blocked, along with the
// signal itself, while Handler runs.
type Sigact_t struct {
	Disp    Sigdisp_t
	Handler Sighandler_t
	Mask    defs.Sigset_t
}

func (a *Sigact_t) discards(sig int) bool {
	switch a.Disp {
	case SIG_IGN:
		return true
	case SIG_DFL:
		d := defs.Sigdefault(sig)
		return d == defs.SIGDFL_IGN || d == defs.SIGDFL_CONT
	}
	return false
}

// Kill sends sig to pid: pid > 0 is one process, 0 the sender's process
// group, and pid < 0 every process in group -pid. Signal 0 only checks
// that the target exists.
func (pm *Pmgr_t) Kill(from *Proc_t, pid, sig int) defs.Err_t {
	pm.Stats.Nkill.Inc()
	if sig < 0 || sig >= defs.NSIG {
		return -defs.EINVAL
	}
	if pid > 0 {
		p, ok := pm.Ptable.Get(pid)
		if !ok {
			return -defs.ESRCH
		}
		pm.signal(p, sig)
		return 0
	}
	pgid := -pid
	if pid == 0 {
		if from == nil {
			return -defs.EINVAL
		}
		pgid = from.Pgid()
	}
	var grp []*Proc_t
	pm.Ptable.Iter(func(_ int, p *Proc_t) bool {
		if p.Pgid() == pgid {
			grp = append(grp, p)
		}
		return false
	})
	if len(grp) == 0 {
		return -defs.ESRCH
	}
	db.DPrintf(db.SIGNAL, "sig %d to group %d: %d procs", sig, pgid, len(grp))
	for _, p := range grp {
		pm.signal(p, sig)
	}
	return 0
}

// signal posts sig to p and interrupts one thread that does not block
// it, preferring a sleeping one. Init only sees signals it catches.
func (pm *Pmgr_t) signal(p *Proc_t, sig int) {
	if sig == 0 || p.Doomed() {
		return
	}
	pm.Stats.Nsig.Inc()
	isinit := p == pm.Init
	switch sig {
	case defs.SIGKILL:
		if !isinit {
			db.DPrintf(db.SIGNAL, "SIGKILL %v", p)
			pm.Terminate(p, sig)
		}
		return
	case defs.SIGCONT:
		p.cont()
	}

	ts := p.Threads()
	p.sigl.Lock()
	act := &p.Sigacts[sig]
	if act.discards(sig) || (isinit && act.Disp != SIG_CATCH) {
		p.sigl.Unlock()
		return
	}
	p.pending |= defs.Sigbit(sig)
	var target *sched.Thread_t
	p.Datalock.Lock()
	for _, t := range ts {
		u, ok := p.threads[t.Tid]
		if !ok || u.mask.Has(sig) {
			continue
		}
		if target == nil || (!target.Blocked() && t.Blocked()) {
			target = t
		}
	}
	p.Datalock.Unlock()
	p.sigl.Unlock()
	db.DPrintf(db.SIGNAL, "sig %d to %v, interrupting %v", sig, p, target)
	if target != nil {
		target.Interrupt()
	}
}

// nextsig takes the lowest pending signal that u does not block.
func (u *Uctx_t) nextsig() (int, Sigact_t, bool) {
	p := u.P
	p.sigl.Lock()
	defer p.sigl.Unlock()
	ready := p.pending &^ u.mask
	if ready == 0 {
		return 0, Sigact_t{}, false
	}
	sig := bits.TrailingZeros64(uint64(ready))
	p.pending &^= defs.Sigbit(sig)
	return sig, p.Sigacts[sig], true
}

func (u *Uctx_t) dispatch(sig int, act Sigact_t) {
	p := u.P
	db.DPrintf(db.SIGNAL, "%v dispatch sig %d disp %v", u.T, sig, act.Disp)
	switch act.Disp {
	case SIG_IGN:
		return
	case SIG_CATCH:
		p.sigl.Lock()
		old := u.mask
		u.mask |= (act.Mask | defs.Sigbit(sig)) &^ defs.Unmaskable
		p.sigl.Unlock()
		u.insig = true
		act.Handler(u, sig)
		u.insig = false
		p.sigl.Lock()
		u.mask = old
		p.sigl.Unlock()
		return
	}
	switch defs.Sigdefault(sig) {
	case defs.SIGDFL_TERM:
		u.terminate(sig)
	case defs.SIGDFL_STOP:
		p.stop(u.T)
		u.stopwait()
	}
}

// stop stops every thread of p at its next return to user.
func (p *Proc_t) stop(self *sched.Thread_t) {
	if p.stopped.Swap(true) {
		return
	}
	db.DPrintf(db.SIGNAL, "stop %v", p)
	for _, t := range p.Threads() {
		if t != self {
			t.Interrupt()
		}
	}
}

func (p *Proc_t) cont() {
	if !p.stopped.Load() {
		return
	}
	n := p.contq.Wake_cond(-1, func() {
		p.stopped.Store(false)
	})
	db.DPrintf(db.SIGNAL, "continue %v, woke %d", p, n)
}

func (p *Proc_t) Stopped() bool {
	return p.stopped.Load()
}

// stopwait parks u while its process is stopped. Only SIGCONT or a kill
// gets it going again.
func (u *Uctx_t) stopwait() {
	p := u.P
	t := u.T
	for p.stopped.Load() {
		if t.Shoulddie() {
			t.Exit()
		}
		t.Clearkill()
		p.contq.Wait_cond(sched.Mkwaiter(t, true), func() bool {
			return !p.stopped.Load()
		})
	}
	if t.Shoulddie() {
		t.Exit()
	}
}

// Kill is the kill system call.
func (u *Uctx_t) Kill(pid, sig int) defs.Err_t {
	err := u.pm.Kill(u.P, pid, sig)
	u.sysret()
	return err
}

// Sigaction installs act, if not nil, for sig and returns the previous
// disposition. SIGKILL and SIGSTOP keep their defaults.
func (u *Uctx_t) Sigaction(sig int, act *Sigact_t) (Sigact_t, defs.Err_t) {
	old, err := u.sigaction(sig, act)
	u.sysret()
	return old, err
}

func (u *Uctx_t) sigaction(sig int, act *Sigact_t) (Sigact_t, defs.Err_t) {
	if sig <= 0 || sig >= defs.NSIG {
		return Sigact_t{}, -defs.EINVAL
	}
	p := u.P
	p.sigl.Lock()
	defer p.sigl.Unlock()
	old := p.Sigacts[sig]
	if act == nil {
		return old, 0
	}
	if defs.Unmaskable.Has(sig) && act.Disp != SIG_DFL {
		return old, -defs.EINVAL
	}
	if act.Disp == SIG_CATCH && act.Handler == nil {
		return old, -defs.EINVAL
	}
	p.Sigacts[sig] = *act
	if act.discards(sig) {
		p.pending &^= defs.Sigbit(sig)
	}
	return old, 0
}

// Sigprocmask changes the calling thread's blocked set and returns the
// previous one. Signals it unblocks are dispatched before it returns.
func (u *Uctx_t) Sigprocmask(how int, set defs.Sigset_t) (defs.Sigset_t, defs.Err_t) {
	old, err := u.setmask(how, set)
	u.sysret()
	return old, err
}

func (u *Uctx_t) setmask(how int, set defs.Sigset_t) (defs.Sigset_t, defs.Err_t) {
	p := u.P
	p.sigl.Lock()
	defer p.sigl.Unlock()
	old := u.mask
	switch how {
	case defs.SIG_BLOCK:
		u.mask |= set
	case defs.SIG_UNBLOCK:
		u.mask &^= set
	case defs.SIG_SETMASK:
		u.mask = set
	default:
		return old, -defs.EINVAL
	}
	u.mask &^= defs.Unmaskable
	return old, 0
}

func (u *Uctx_t) Sigpending() defs.Sigset_t {
	p := u.P
	p.sigl.Lock()
	defer p.sigl.Unlock()
	return p.pending
}
