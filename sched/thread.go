package sched

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"

	"ksched/accnt"
	db "ksched/debug"
	"ksched/defs"
	"ksched/tinfo"
)

type Tstate_t int

const (
	EMBRYO Tstate_t = iota
	RUNNING
	INTERRUPTIBLE
	UNINTERRUPTIBLE
	ZOMBIE
)

func (s Tstate_t) String() string {
	switch s {
	case EMBRYO:
		return "EMBRYO"
	case RUNNING:
		return "RUNNING"
	case INTERRUPTIBLE:
		return "INTERRUPTIBLE"
	case UNINTERRUPTIBLE:
		return "UNINTERRUPTIBLE"
	case ZOMBIE:
		return "ZOMBIE"
	}
	return fmt.Sprintf("Tstate(%d)", int(s))
}

type Ring_t int

const (
	KERNEL Ring_t = iota
	USER
)

type Tclass_t int

const (
	APERIODIC Tclass_t = iota
	PERIODIC
	SPORADIC
)

type Ticks_t uint64

// Rt_t holds a thread's real-time constraints in ticks. Deadline is
// relative to the release of each job.
type Rt_t struct {
	Period   Ticks_t
	Deadline Ticks_t
	Budget   Ticks_t
	Prio     int
}

func (rt Rt_t) Util() float64 {
	if rt.Period == 0 {
		return 0
	}
	return float64(rt.Budget) / float64(rt.Period)
}

// Owner_i is the process a thread belongs to. Zombied runs on the core
// that retired the thread and must not block.
type Owner_i interface {
	Zombied(t *Thread_t)
}

type Qkind_t int

const (
	NOQ Qkind_t = iota
	EDFQ
	FIFOQ
	STAGED
)

type exitunwind struct{}

// Isunwind reports whether a recovered value is the thread exit unwind,
// which must be re-panicked.
func Isunwind(r interface{}) bool {
	_, ok := r.(exitunwind)
	return ok
}

type Thread_t struct {
	Tid   defs.Tid_t
	Name  string
	Ring  Ring_t
	Class Tclass_t
	Rt    Rt_t
	Owner Owner_i

	// saved user register context
	Tf [defs.TFSIZE]uintptr
	Fx *[defs.FXSIZE]uintptr

	Atime accnt.Accnt_t
	Joinq Waitq_t

	Preemptable bool

	m    *Machine_t
	body func(*Thread_t)
	run  chan struct{}

	// protects the fields below, and is taken before any scheduler lock
	Schedlock deadlock.Mutex
	note      tinfo.Tnote_t
	state     Tstate_t
	sched     *Sched_t
	oncpu     bool
	cpu       *Cpu_t
	waiter    *Waiter_t
	started   bool
	dead      bool
	torndown  bool

	// protected by the owning scheduler's lock
	curq     Qkind_t
	key      qent_t
	deadline Ticks_t
	enqt     time.Time

	preemptcnt  atomic.Int32
	needresched atomic.Bool
	slice       atomic.Int64
}

func (t *Thread_t) String() string {
	return fmt.Sprintf("%v/%d", t.Name, t.Tid)
}

func (t *Thread_t) Machine() *Machine_t {
	return t.m
}

func (t *Thread_t) State() Tstate_t {
	t.Schedlock.Lock()
	defer t.Schedlock.Unlock()
	return t.state
}

func (t *Thread_t) Blocked() bool {
	s := t.State()
	return s == INTERRUPTIBLE || s == UNINTERRUPTIBLE
}

func (t *Thread_t) Shoulddie() bool {
	t.Schedlock.Lock()
	defer t.Schedlock.Unlock()
	return t.note.Doomed()
}

// Killed reports whether an interruption is pending and the error an
// interrupted operation should return.
func (t *Thread_t) Killed() (bool, defs.Err_t) {
	t.Schedlock.Lock()
	defer t.Schedlock.Unlock()
	return t.note.Killed, t.note.Kerr
}

func (t *Thread_t) Clearkill() {
	t.Schedlock.Lock()
	t.note.Clearkill()
	t.Schedlock.Unlock()
}

func (t *Thread_t) Scheduler() *Sched_t {
	t.Schedlock.Lock()
	defer t.Schedlock.Unlock()
	return t.sched
}

// Doom marks t to die at its next safe point, waking it if it sleeps
// interruptibly. A thread that was never dispatched is retired by the
// core that claims it.
func (t *Thread_t) Doom() {
	t.Schedlock.Lock()
	t.note.Doom()
	w := t.intrwaiter()
	t.Schedlock.Unlock()
	t.needresched.Store(true)
	if w != nil {
		w.interrupt()
	}
}

// Interrupt makes a pending signal visible to t: an interruptible sleep
// is rudely awoken and later ones fail until Clearkill.
func (t *Thread_t) Interrupt() {
	t.Schedlock.Lock()
	t.note.Kill()
	w := t.intrwaiter()
	t.Schedlock.Unlock()
	if w != nil {
		w.interrupt()
	}
}

func (t *Thread_t) intrwaiter() *Waiter_t {
	if t.state == INTERRUPTIBLE {
		return t.waiter
	}
	return nil
}

// Fxinit allocates the floating point save area on first use.
func (t *Thread_t) Fxinit() *[defs.FXSIZE]uintptr {
	if t.Fx == nil {
		t.Fx = &[defs.FXSIZE]uintptr{}
	}
	return t.Fx
}

func (t *Thread_t) Preempt_disable() {
	t.preemptcnt.Add(1)
}

func (t *Thread_t) Preempt_enable() {
	if n := t.preemptcnt.Add(-1); n < 0 {
		db.DFatalf("preempt count %v", n)
	} else if n == 0 {
		t.Preempt_point()
	}
}

func (t *Thread_t) preemptible() bool {
	return t.Preemptable && t.preemptcnt.Load() == 0
}

func (t *Thread_t) Needresched() bool {
	return t.needresched.Load()
}

// Preempt_point yields if a tick asked for a reschedule and preemption is
// enabled. Called by t on its own goroutine at safe points.
func (t *Thread_t) Preempt_point() {
	if t.preemptcnt.Load() == 0 && t.needresched.Swap(false) {
		t.Yield()
	}
}

// Yield gives the core back; t stays runnable and its core re-admits it.
// A doomed thread does not return from Yield.
func (t *Thread_t) Yield() {
	t.needresched.Store(false)
	t.swtch()
	if t.Shoulddie() {
		t.Exit()
	}
}

// Exit unwinds t's goroutine. t becomes a zombie once its core sees it.
func (t *Thread_t) Exit() {
	panic(exitunwind{})
}

// swtch returns control to t's core and waits to be dispatched again.
func (t *Thread_t) swtch() {
	c := t.cpu
	c.back <- t
	<-t.run
}

func (t *Thread_t) trampoline() {
	defer func() {
		if r := recover(); r != nil && !Isunwind(r) {
			panic(r)
		}
		t.Schedlock.Lock()
		t.dead = true
		t.note.Doom()
		c := t.cpu
		t.Schedlock.Unlock()
		c.back <- t
	}()
	t.body(t)
}

// unblock makes a sleeping thread runnable again: either its core will
// re-admit it when it finishes switching out, or it is admitted to its
// scheduler here.
func (t *Thread_t) unblock() {
	t.Schedlock.Lock()
	if t.state != INTERRUPTIBLE && t.state != UNINTERRUPTIBLE {
		st := t.state
		t.Schedlock.Unlock()
		db.DFatalf("unblock %v in state %v", t, st)
		return
	}
	t.state = RUNNING
	t.waiter = nil
	if t.oncpu {
		t.Schedlock.Unlock()
		return
	}
	s := t.sched
	t.Schedlock.Unlock()
	if s == nil {
		db.DFatalf("unblock %v: no scheduler", t)
		return
	}
	if !s.Admit(t, t.m.Now()) {
		db.DFatalf("unblock %v: readmit failed", t)
	}
	s.Kick(-1)
}

// Join waits, uninterruptibly, until t is a zombie. self is the calling
// thread.
func (t *Thread_t) Join(self *Thread_t) {
	zombie := func() bool { return t.State() == ZOMBIE }
	for !zombie() {
		t.Joinq.Wait_cond(Mkwaiter(self, false), zombie)
	}
}

// Teardown discards a zombie's saved context and removes it from the
// thread arena. Only the reaper calls it, exactly once per thread.
func (t *Thread_t) Teardown() {
	t.Schedlock.Lock()
	if t.state != ZOMBIE || t.torndown {
		st, td := t.state, t.torndown
		t.Schedlock.Unlock()
		db.DFatalf("teardown %v state %v torndown %v", t, st, td)
		return
	}
	t.torndown = true
	t.Tf = [defs.TFSIZE]uintptr{}
	t.Fx = nil
	t.Schedlock.Unlock()
	t.m.threads.Del(t.Tid)
}

// disown drops t from its scheduler: out of any queue, reservation
// released.
func (t *Thread_t) disown() {
	t.Schedlock.Lock()
	defer t.Schedlock.Unlock()
	s := t.sched
	if s == nil {
		return
	}
	s.mu.Lock()
	s.dequeue_l(t)
	s.release_l(t)
	s.mu.Unlock()
	t.sched = nil
}

// Discard forgets an embryo that no scheduler accepted.
func (t *Thread_t) Discard() {
	t.Schedlock.Lock()
	if t.state != EMBRYO || t.sched != nil {
		st := t.state
		t.Schedlock.Unlock()
		db.DFatalf("discard %v in state %v", t, st)
		return
	}
	t.state = ZOMBIE
	t.torndown = true
	t.Schedlock.Unlock()
	t.m.threads.Del(t.Tid)
}

// Cpuid returns the core t last ran on, or -1.
func (t *Thread_t) Cpuid() int {
	t.Schedlock.Lock()
	defer t.Schedlock.Unlock()
	if t.cpu == nil {
		return -1
	}
	return t.cpu.Id
}
