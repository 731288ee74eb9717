package proc

import (
	db "ksched/debug"
	"ksched/defs"
	"ksched/sched"
)

// reapent_t is work for the reaper: a whole process, or one exited
// thread of a process that lives on.
type reapent_t struct {
	p *Proc_t
	t *sched.Thread_t
}

// reapq never blocks; zombifying cores call it.
func (pm *Pmgr_t) reapq(e reapent_t) {
	pm.reapl.Lock()
	pm.reapents = append(pm.reapents, e)
	pm.reapl.Unlock()
	pm.reapwq.Notify()
}

func (pm *Pmgr_t) reappop() (reapent_t, bool) {
	pm.reapl.Lock()
	defer pm.reapl.Unlock()
	if len(pm.reapents) == 0 {
		return reapent_t{}, false
	}
	e := pm.reapents[0]
	pm.reapents[0] = reapent_t{}
	pm.reapents = pm.reapents[1:]
	return e, true
}

func (pm *Pmgr_t) Nreapq() int {
	pm.reapl.Lock()
	defer pm.reapl.Unlock()
	return len(pm.reapents)
}

// reapbody is the reaper thread. Tearing down threads here keeps that
// work off the stacks of waitpid callers.
func (pm *Pmgr_t) reapbody(self *sched.Thread_t) {
	for {
		e, ok := pm.reappop()
		if !ok {
			pm.reapwq.Wait(sched.Mkwaiter(self, false))
			continue
		}
		if e.t != nil {
			pm.reapthread(self, e.p, e.t)
		} else {
			pm.reapproc(self, e.p)
		}
	}
}

func (pm *Pmgr_t) reapthread(self *sched.Thread_t, p *Proc_t, t *sched.Thread_t) {
	t.Join(self)
	p.Datalock.Lock()
	_, ok := p.threads[t.Tid]
	delete(p.threads, t.Tid)
	p.Datalock.Unlock()
	if !ok {
		// reaped with the whole process
		return
	}
	p.Atime.Add(&t.Atime)
	t.Teardown()
	db.DPrintf(db.REAPER, "reaped thread %v of %v", t, p)
}

// reapproc waits for every thread of the exiting process p, tears them
// down, frees p's resources, and publishes p to waitpid.
func (pm *Pmgr_t) reapproc(self *sched.Thread_t, p *Proc_t) {
	for _, t := range p.Threads() {
		t.Join(self)
	}
	p.Datalock.Lock()
	us := p.threads
	p.threads = make(map[defs.Tid_t]*Uctx_t)
	p.Datalock.Unlock()
	for _, u := range us {
		p.Atime.Add(&u.T.Atime)
		u.T.Teardown()
	}
	p.closefds()
	p.Vm().Uvmfree()
	pm.futexes_drop(p)
	db.DPrintf(db.REAPER, "reaped %v: %d threads", p, len(us))
	pm.publish(p)
}
