package proc

import (
	"github.com/sasha-s/go-deadlock"

	"ksched/accnt"
	db "ksched/debug"
	"ksched/defs"
	"ksched/sched"
)

// requirements for waitpid:
// - wait for a pid that is not my child must fail
// - only one wait for a specific pid may succeed; others must fail
// - wait when there are no children must fail, except in init
// - a waiter and an unclaimed zombie never exist for the same process
type Waitst_t struct {
	Pid    int
	Pgid   int
	Status int
	Atime  accnt.Accnt_t
}

// pwaiter_t is a thread blocked in waitpid.
type pwaiter_t struct {
	// pid > 0, WAIT_ANY, or WAIT_MYPGRP with pgid
	pid     int
	pgid    int
	wq      sched.Waitq_t
	matched bool
	wst     Waitst_t
}

func (w *pwaiter_t) matches(c *Proc_t) bool {
	switch {
	case w.pid > 0:
		return c.Pid == w.pid
	case w.pid == defs.WAIT_ANY:
		return true
	default:
		return c.Pgid() == w.pgid
	}
}

// registry_t holds parent/child links, unclaimed zombies keyed by parent
// pid, and waiters keyed by the waiting process's pid.
type registry_t struct {
	deadlock.Mutex
	zombies map[int]map[int]*Proc_t
	waiters map[int][]*pwaiter_t
}

func (r *registry_t) init() {
	r.zombies = make(map[int]map[int]*Proc_t)
	r.waiters = make(map[int][]*pwaiter_t)
}

// link makes c a child of par. It fails if par has too many children.
func (r *registry_t) link(par, c *Proc_t) bool {
	if par == nil {
		return true
	}
	r.Lock()
	defer r.Unlock()
	if uint(len(par.children)) >= par.Ulim.Noproc {
		return false
	}
	c.parent = par
	par.children[c.Pid] = c
	return true
}

func (r *registry_t) unlink(c *Proc_t) {
	r.Lock()
	defer r.Unlock()
	if par := c.parent; par != nil {
		delete(par.children, c.Pid)
		c.parent = nil
	}
}

func (r *registry_t) delwaiter_l(pid int, w *pwaiter_t) bool {
	ws := r.waiters[pid]
	for i, x := range ws {
		if x == w {
			ws = append(ws[:i], ws[i+1:]...)
			if len(ws) == 0 {
				delete(r.waiters, pid)
			} else {
				r.waiters[pid] = ws
			}
			return true
		}
	}
	return false
}

// deliver_l hands the zombie c to a waiter of its parent, or files it. It
// returns the waiter to notify once the lock is dropped.
func (r *registry_t) deliver_l(c *Proc_t) *pwaiter_t {
	par := c.parent
	for _, w := range r.waiters[par.Pid] {
		if w.matches(c) {
			r.delwaiter_l(par.Pid, w)
			w.matched = true
			w.wst = c.waitst()
			r.reap_l(c)
			return w
		}
	}
	zs := r.zombies[par.Pid]
	if zs == nil {
		zs = make(map[int]*Proc_t)
		r.zombies[par.Pid] = zs
	}
	zs[c.Pid] = c
	return nil
}

// reparent_l gives every child of p to init, delivering the unclaimed
// zombies among them again.
func (r *registry_t) reparent_l(p, init *Proc_t) []*pwaiter_t {
	var wake []*pwaiter_t
	zs := r.zombies[p.Pid]
	delete(r.zombies, p.Pid)
	for pid, c := range p.children {
		delete(p.children, pid)
		c.parent = init
		init.children[pid] = c
		db.DPrintf(db.WAIT, "reparent %v from %v to init", c, p)
		if _, ok := zs[pid]; ok {
			if w := r.deliver_l(c); w != nil {
				wake = append(wake, w)
			}
		}
	}
	return wake
}

// reap_l unlinks the published zombie c from its parent. The caller
// finishes with release.
func (r *registry_t) reap_l(c *Proc_t) {
	par := c.parent
	if zs := r.zombies[par.Pid]; zs != nil {
		delete(zs, c.Pid)
		if len(zs) == 0 {
			delete(r.zombies, par.Pid)
		}
	}
	delete(par.children, c.Pid)
	if len(c.children) != 0 {
		db.DFatalf("reaped %v still has children", c)
	}
}

func (p *Proc_t) waitst() Waitst_t {
	p.Datalock.Lock()
	st := p.exitstatus
	p.Datalock.Unlock()
	wst := Waitst_t{Pid: p.Pid, Pgid: p.Pgid(), Status: st}
	wst.Atime.Add(&p.Atime)
	wst.Atime.Add(&p.Catime)
	return wst
}

// publish makes the torn-down process p visible to waitpid: its children
// go to init, and p goes to a waiting parent or is filed as a zombie. The
// parent is sent SIGCHLD.
func (pm *Pmgr_t) publish(p *Proc_t) {
	r := &pm.reg
	r.Lock()
	if p.published {
		r.Unlock()
		db.DFatalf("%v published twice", p)
		return
	}
	p.published = true
	wake := r.reparent_l(p, pm.Init)
	par := p.parent
	if par == nil {
		r.Unlock()
		db.DFatalf("%v exited without a parent", p)
		return
	}
	w := r.deliver_l(p)
	if w != nil {
		wake = append(wake, w)
	}
	r.Unlock()

	for _, w := range wake {
		pm.release(w.wst.Pid)
		w.wq.Notify()
	}
	db.DPrintf(db.EXIT, "published %v to %v matched %v", p, par, w != nil)
	pm.signal(par, defs.SIGCHLD)
}

// release frees what a reaped zombie still holds and drops it from the
// pid table.
func (pm *Pmgr_t) release(pid int) {
	c, ok := pm.Ptable.Get(pid)
	if !ok {
		db.DFatalf("release: no pid %d", pid)
		return
	}
	c.dropdirs()
	pm.Ptable.Del(pid)
	pm.lim.Sysprocs.Give()
	pm.Stats.Nreap.Inc()
}

// Waitpid waits for a child of u's process to exit and reaps it. pid > 0
// names the child; WAIT_ANY is any child and WAIT_MYPGRP any child in the
// caller's process group. It returns the child's pid and packed status.
func (u *Uctx_t) Waitpid(pid, flags int) (int, int, defs.Err_t) {
	wst, err := u.Wait4(pid, flags)
	return wst.Pid, wst.Status, err
}

// Wait4 is Waitpid, also returning the child's rusage, which is added
// to the caller's child rusage.
func (u *Uctx_t) Wait4(pid, flags int) (Waitst_t, defs.Err_t) {
	wst, err := u.wait4(pid, flags)
	u.sysret()
	return wst, err
}

func (u *Uctx_t) wait4(pid, flags int) (Waitst_t, defs.Err_t) {
	p := u.P
	pm := u.pm
	pm.Stats.Nwait.Inc()
	if pid < defs.WAIT_ANY {
		return Waitst_t{}, -defs.EINVAL
	}
	if pid == p.Pid {
		return Waitst_t{}, -defs.ECHILD
	}
	w := &pwaiter_t{pid: pid, pgid: p.Pgid()}
	r := &pm.reg

	r.Lock()
	found := false
	for _, c := range p.children {
		if w.matches(c) {
			found = true
			break
		}
	}
	// init may wait for children it has not been handed yet
	if !found && (p != pm.Init || pid > 0) {
		r.Unlock()
		return Waitst_t{}, -defs.ECHILD
	}
	for _, c := range r.zombies[p.Pid] {
		if w.matches(c) {
			r.reap_l(c)
			r.Unlock()
			return pm.reaped(p, c.waitst()), 0
		}
	}
	if flags&defs.WNOHANG != 0 {
		r.Unlock()
		return Waitst_t{}, -defs.EAGAIN
	}
	r.waiters[p.Pid] = append(r.waiters[p.Pid], w)
	r.Unlock()

	ok := w.wq.Wait(sched.Mkwaiter(u.T, true))

	r.Lock()
	if !w.matched {
		r.delwaiter_l(p.Pid, w)
		r.Unlock()
		if ok {
			db.DFatalf("%v: waitpid woken without a child", u.T)
		}
		return Waitst_t{}, -defs.EINTR
	}
	r.Unlock()
	wst := w.wst
	p.Catime.Add(&wst.Atime)
	return wst, 0
}

// reaped finishes a reap that waitpid matched itself.
func (pm *Pmgr_t) reaped(p *Proc_t, wst Waitst_t) Waitst_t {
	pm.release(wst.Pid)
	p.Catime.Add(&wst.Atime)
	db.DPrintf(db.WAIT, "%v reaped %d status %#x", p, wst.Pid, wst.Status)
	return wst
}
