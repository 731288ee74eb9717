package sched

import (
	"time"

	"github.com/sasha-s/go-deadlock"

	db "ksched/debug"
	"ksched/stats"
)

// Sched_t is one core's scheduler. Real-time threads wait in an EDF
// queue, aperiodic ones in a FIFO queue; Reschedule stages the next
// thread and Claim hands it to the core's loop.
type Sched_t struct {
	mu       deadlock.Mutex
	cpu      *Cpu_t
	edf      *runq_t
	fifo     *runq_t
	next     *Thread_t
	seq      uint64
	util     float64
	capacity float64
}

func mksched(c *Cpu_t, capacity float64) *Sched_t {
	return &Sched_t{
		cpu:      c,
		edf:      mkedfq(),
		fifo:     mkfifoq(),
		capacity: capacity,
	}
}

func (s *Sched_t) Cpu() *Cpu_t {
	return s.cpu
}

// Admit takes ownership of t and queues it if it is runnable. Admitting a
// thread this scheduler already owns never re-checks feasibility and is a
// no-op if the thread is already queued. A periodic or sporadic thread is
// refused if its utilization does not fit.
func (s *Sched_t) Admit(t *Thread_t, now Ticks_t) bool {
	t.Schedlock.Lock()
	defer t.Schedlock.Unlock()

	if t.sched != nil && t.sched != s {
		return false
	}
	if t.state == ZOMBIE {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.sched == nil {
		if t.Class != APERIODIC {
			u := t.Rt.Util()
			if t.Rt.Period == 0 || t.Rt.Budget > t.Rt.Deadline || s.util+u > s.capacity {
				db.DPrintf(db.SCHED, "cpu%d refuses %v util %.3f+%.3f", s.cpu.Id, t, s.util, u)
				return false
			}
			s.util += u
		}
		t.sched = s
	}
	if t.curq != NOQ || t.oncpu {
		return true
	}
	if t.state != EMBRYO && t.state != RUNNING {
		return true
	}
	s.enqueue_l(t, now)
	return true
}

func (s *Sched_t) enqueue_l(t *Thread_t, now Ticks_t) {
	s.seq++
	if t.Class == APERIODIC {
		t.key = qent_t{seq: s.seq, tid: t.Tid}
		s.fifo.push(t.key)
		t.curq = FIFOQ
	} else {
		if t.deadline <= now {
			t.deadline = now + t.Rt.Deadline
		}
		t.key = qent_t{dl: t.deadline, seq: s.seq, tid: t.Tid}
		s.edf.push(t.key)
		t.curq = EDFQ
	}
	t.enqt = time.Now()
}

func (s *Sched_t) dequeue_l(t *Thread_t) {
	switch t.curq {
	case NOQ:
		return
	case EDFQ:
		if !s.edf.remove(t.key) {
			db.DFatalf("cpu%d: %v not in edf queue", s.cpu.Id, t)
		}
	case FIFOQ:
		if !s.fifo.remove(t.key) {
			db.DFatalf("cpu%d: %v not in fifo queue", s.cpu.Id, t)
		}
	case STAGED:
		if s.next != t {
			db.DFatalf("cpu%d: %v not staged", s.cpu.Id, t)
		}
		s.next = nil
	}
	t.curq = NOQ
}

func (s *Sched_t) release_l(t *Thread_t) {
	if t.Class != APERIODIC {
		s.util -= t.Rt.Util()
		if s.util < 1e-9 {
			s.util = 0
		}
	}
}

// Dequeue pulls t out of whichever of s's queues holds it.
func (s *Sched_t) Dequeue(t *Thread_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dequeue_l(t)
}

// Remove dequeues t and gives up ownership and its reservation.
func (s *Sched_t) Remove(t *Thread_t) {
	if t.Scheduler() != s {
		return
	}
	t.disown()
}

// Reschedule stages the next thread to run, earliest deadline first and
// then arrival order. It returns false if nothing is runnable.
func (s *Sched_t) Reschedule() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next != nil {
		return true
	}
	e, ok := s.edf.pop()
	if !ok {
		e, ok = s.fifo.pop()
	}
	if !ok {
		return false
	}
	t, ok := s.cpu.m.threads.Get(e.tid)
	if !ok {
		db.DFatalf("cpu%d: queued tid %d not in arena", s.cpu.Id, e.tid)
	}
	t.curq = STAGED
	s.next = t
	return true
}

// Claim takes the staged thread, if any.
func (s *Sched_t) Claim() *Thread_t {
	s.mu.Lock()
	t := s.next
	if t == nil {
		s.mu.Unlock()
		return nil
	}
	s.next = nil
	t.curq = NOQ
	d := time.Since(t.enqt)
	s.mu.Unlock()
	s.cpu.lat.Add(d)
	return t
}

// Preempts reports whether a queued real-time thread should displace
// cur before its quantum runs out.
func (s *Sched_t) Preempts(cur *Thread_t) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dl Ticks_t
	if s.next != nil && s.next.Class != APERIODIC {
		dl = s.next.deadline
	} else if e, ok := s.edf.peek(); ok {
		dl = e.dl
	} else {
		return false
	}
	return cur.Class == APERIODIC || dl < cur.deadline
}

// Kick asks s's core to reschedule. It is a no-op when the caller runs on
// that core; from is -1 when the caller is not a core.
func (s *Sched_t) Kick(from int) {
	if from == s.cpu.Id {
		return
	}
	s.cpu.kick()
}

func (s *Sched_t) Util() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.util
}

func (s *Sched_t) Nqueued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.edf.len() + s.fifo.len()
	if s.next != nil {
		n++
	}
	return n
}

type Schedstat_t struct {
	Nswitch  stats.Counter_t
	Nkick    stats.Counter_t
	Nticks   stats.Counter_t
	Nidle    stats.Counter_t
	Npreempt stats.Counter_t
	Nskip    stats.Counter_t
	Busy     stats.Nanos_t
}
