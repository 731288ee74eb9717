package proc

import (
	db "ksched/debug"
	"ksched/defs"
	"ksched/sched"
)

// Ufunc_t is a user program or thread entry point. Its return value is
// the exit code.
type Ufunc_t func(u *Uctx_t) int

// Uctx_t is a user thread's view of the kernel: every system call is a
// method on it, made from the thread's own goroutine.
type Uctx_t struct {
	T    *sched.Thread_t
	P    *Proc_t
	Argv []string
	Envp []string

	pm *Pmgr_t
	// returning from the entry point exits the process
	main bool
	// blocked signals; protected by P.sigl
	mask defs.Sigset_t
	// a handler is running
	insig bool
}

// execunwind carries a thread out of the old image into the new one.
type execunwind struct {
	f Ufunc_t
}

func (u *Uctx_t) run(f Ufunc_t) {
	for f != nil {
		f = u.run1(f)
	}
}

func (u *Uctx_t) run1(f Ufunc_t) (next Ufunc_t) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(execunwind); ok {
			next = e.f
			return
		}
		if sched.Isunwind(r) {
			panic(r)
		}
		db.DPrintf(db.ALWAYS, "*** fault *** %v: %v. killing...", u.T, r)
		u.terminate(defs.SIGSEGV)
	}()
	code := f(u)
	if u.main {
		u.Exit(code)
	}
	u.Exit_thread(code)
	return nil
}

func (u *Uctx_t) Getpid() int {
	return u.P.Pid
}

func (u *Uctx_t) Getppid() int {
	return u.P.Ppid()
}

func (u *Uctx_t) Gettid() defs.Tid_t {
	return u.T.Tid
}

func (u *Uctx_t) Getpgid() int {
	return u.P.Pgid()
}

// Arg is the argument a spawned thread was started with.
func (u *Uctx_t) Arg() uintptr {
	return u.T.Tf[defs.TF_RDI]
}

// Forkret is what fork returned in this thread: 0 in a fork child.
func (u *Uctx_t) Forkret() int {
	return int(u.T.Tf[defs.TF_RAX])
}

func (u *Uctx_t) Yield() {
	u.T.Yield()
	u.sysret()
}

// Exit ends the process with code; it does not return.
func (u *Uctx_t) Exit(code int) {
	u.pm.doexit(u.P, defs.EXITED|(code&0xff), u.T)
	u.T.Exit()
}

// Exit_thread ends the calling thread. The process exits with status 0
// when its last thread does.
func (u *Uctx_t) Exit_thread(code int) {
	db.DPrintf(db.EXIT, "%v exits thread, code %d", u.T, code)
	u.T.Exit()
}

// terminate kills the process with sig from one of its own threads.
func (u *Uctx_t) terminate(sig int) {
	u.pm.doexit(u.P, defs.SIGNALED|defs.Mkexitsig(sig), u.T)
	u.T.Exit()
}

// Terminate kills p as if by an uncaught sig. It is the path for faults
// caught outside p.
func (pm *Pmgr_t) Terminate(p *Proc_t, sig int) {
	pm.doexit(p, defs.SIGNALED|defs.Mkexitsig(sig), nil)
}

// doexit dooms every thread of p but self, which the caller makes exit,
// and hands p to the reaper. Only the first exit of a process counts.
func (pm *Pmgr_t) doexit(p *Proc_t, status int, self *sched.Thread_t) bool {
	if p == pm.Init {
		db.DFatalf("init exiting, status %#x", status)
	}
	p.Datalock.Lock()
	if p.doomed {
		p.Datalock.Unlock()
		return false
	}
	p.doomed = true
	p.exitstatus = status
	p.reapqueued = true
	p.Datalock.Unlock()

	db.DPrintf(db.EXIT, "%v exits, status %#x", p, status)
	pm.Stats.Nexit.Inc()
	p.doomall(self)
	pm.reapq(reapent_t{p: p})
	return true
}

// Trap handles an exception or interrupt taken while the thread ran user
// code, then returns to user.
func (u *Uctx_t) Trap(intno int, aux uintptr) {
	switch intno {
	case defs.TIMER, defs.RESCHED:
		// preempted on the way out
	case defs.PGFAULT:
		if _, err := u.P.Vm().Userword(aux &^ 3); err != 0 {
			db.DPrintf(db.ALWAYS, "*** fault *** %v: addr %#x, rip %#x, err %v. killing...",
				u.T, aux, u.T.Tf[defs.TF_RIP], err)
			u.terminate(defs.SIGSEGV)
		}
	case defs.DIVZERO, defs.GPFAULT, defs.UD:
		db.DPrintf(db.ALWAYS, "%v -- TRAP: %v, RIP: %#x", u.T, intno, u.T.Tf[defs.TF_RIP])
		u.terminate(defs.SIGILL)
	default:
		db.DFatalf("weird trap: %d", intno)
	}
	u.Before_return_to_user(true)
}

func (u *Uctx_t) sysret() {
	u.Before_return_to_user(true)
}

// Before_return_to_user runs on every return path to user code: a doomed
// thread exits here, an expired quantum yields here, a stopped process
// waits here, and pending signals are dispatched one at a time.
func (u *Uctx_t) Before_return_to_user(fromuser bool) {
	t := u.T
	if t.Shoulddie() {
		t.Exit()
	}
	if !fromuser {
		return
	}
	t.Preempt_point()
	u.stopwait()
	if u.insig {
		return
	}
	t.Clearkill()
	for {
		sig, act, ok := u.nextsig()
		if !ok {
			return
		}
		u.dispatch(sig, act)
	}
}

// Load32 reads a user word.
func (u *Uctx_t) Load32(va uintptr) (uint32, defs.Err_t) {
	return u.P.Vm().Load32(va)
}

func (u *Uctx_t) Store32(va uintptr, v uint32) defs.Err_t {
	return u.P.Vm().Store32(va, v)
}

// Mmap maps sz bytes of anonymous memory at va.
func (u *Uctx_t) Mmap(va, sz uintptr) defs.Err_t {
	err := u.P.Vm().Vmadd_anon(va, sz)
	u.sysret()
	return err
}
