package proc

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"ksched/accnt"
	db "ksched/debug"
	"ksched/defs"
	"ksched/fd"
	"ksched/hashtable"
	"ksched/sched"
	"ksched/vm"
)

// per-process limits
type Ulimit_t struct {
	Nofile uint
	Noproc uint
}

const RLIM_INFINITY = ^uint(0)

type Proc_t struct {
	Pid  int
	Name string
	pgid atomic.Int64

	// protects threads, nlive, doomed, exitstatus, and reapqueued. never
	// held across a blocking operation.
	Datalock deadlock.Mutex
	threads  map[defs.Tid_t]*Uctx_t
	// threads that are not yet zombies
	nlive int
	// a process is marked doomed when it is exiting but may have threads
	// currently running on another core
	doomed     bool
	exitstatus int
	reapqueued bool

	// address space; replaced by exec
	as atomic.Pointer[vm.Vm_t]

	Fds []*fd.Fd_t
	// where to start scanning for free fds
	fdstart int
	// fds, fdstart, nfds protected by fdl
	Fdl deadlock.Mutex
	// number of valid file descriptors
	nfds int

	Cwd  *fd.Cwd_t
	Root *fd.Cwd_t

	// protects Sigacts, pending, and every thread's mask
	sigl    deadlock.Mutex
	Sigacts [defs.NSIG]Sigact_t
	pending defs.Sigset_t
	stopped atomic.Bool
	contq   sched.Waitq_t

	futexl  deadlock.Mutex
	futexes map[uintptr]*sched.Waitq_t

	// protected by the wait registry lock
	parent    *Proc_t
	children  map[int]*Proc_t
	published bool

	Ulim Ulimit_t

	// this proc's rusage
	Atime accnt.Accnt_t
	// total child rusage
	Catime accnt.Accnt_t

	pm *Pmgr_t
}

func mkproc(pm *Pmgr_t, pid int, name string) *Proc_t {
	p := &Proc_t{
		Pid:      pid,
		Name:     name,
		threads:  make(map[defs.Tid_t]*Uctx_t),
		futexes:  make(map[uintptr]*sched.Waitq_t),
		children: make(map[int]*Proc_t),
		pm:       pm,
	}
	p.pgid.Store(int64(pid))
	p.Ulim.Nofile = RLIM_INFINITY
	p.Ulim.Noproc = uint(pm.lim.Noproc)
	return p
}

func (p *Proc_t) String() string {
	return fmt.Sprintf("%v/%d", p.Name, p.Pid)
}

func (p *Proc_t) Pgid() int {
	return int(p.pgid.Load())
}

func (p *Proc_t) Vm() *vm.Vm_t {
	return p.as.Load()
}

// Doomed reports whether p is exiting.
func (p *Proc_t) Doomed() bool {
	p.Datalock.Lock()
	defer p.Datalock.Unlock()
	return p.doomed
}

func (p *Proc_t) Nthreads() int {
	p.Datalock.Lock()
	defer p.Datalock.Unlock()
	return len(p.threads)
}

// Threads returns p's threads in tid order.
func (p *Proc_t) Threads() []*sched.Thread_t {
	p.Datalock.Lock()
	ts := make([]*sched.Thread_t, 0, len(p.threads))
	for _, u := range p.threads {
		ts = append(ts, u.T)
	}
	p.Datalock.Unlock()
	sort.Slice(ts, func(i, j int) bool { return ts[i].Tid < ts[j].Tid })
	return ts
}

// Ppid returns the pid of p's parent, 0 if p has none.
func (p *Proc_t) Ppid() int {
	pm := p.pm
	pm.reg.Lock()
	defer pm.reg.Unlock()
	if p.parent == nil {
		return 0
	}
	return p.parent.Pid
}

// Zombied is called by a core when one of p's threads has become a
// zombie. The thread is handed to the reaper: alone if p lives on, or
// with all of p if it was the last one.
func (p *Proc_t) Zombied(t *sched.Thread_t) {
	p.Datalock.Lock()
	p.nlive--
	if p.nlive < 0 {
		p.Datalock.Unlock()
		db.DFatalf("%v: negative live threads", p)
		return
	}
	var ent reapent_t
	queue := false
	switch {
	case p.nlive == 0 && !p.reapqueued:
		if !p.doomed {
			p.doomed = true
			p.exitstatus = defs.EXITED
		}
		p.reapqueued = true
		ent = reapent_t{p: p}
		queue = true
	case !p.doomed:
		ent = reapent_t{p: p, t: t}
		queue = true
	}
	p.Datalock.Unlock()
	if queue {
		p.pm.reapq(ent)
	}
}

// doomall marks every thread of p, except skip, to die at its next safe
// point and wakes those that sleep interruptibly.
func (p *Proc_t) doomall(skip *sched.Thread_t) {
	for _, t := range p.Threads() {
		if t != skip {
			t.Doom()
		}
	}
}

func (p *Proc_t) fd_insert_inner(f *fd.Fd_t, perms int) (int, bool) {
	if uint(p.nfds) >= p.Ulim.Nofile {
		return -1, false
	}
	// find free fd
	newfd := p.fdstart
	found := false
	for newfd < len(p.Fds) {
		if p.Fds[newfd] == nil {
			p.fdstart = newfd + 1
			found = true
			break
		}
		newfd++
	}
	if !found {
		// double size of fd table
		ol := len(p.Fds)
		nl := 2 * ol
		if nl == 0 {
			nl = 8
		}
		if p.Ulim.Nofile != RLIM_INFINITY && nl > int(p.Ulim.Nofile) {
			nl = int(p.Ulim.Nofile)
			if nl < ol {
				panic("how")
			}
		}
		nfdt := make([]*fd.Fd_t, nl)
		copy(nfdt, p.Fds)
		p.Fds = nfdt
		p.fdstart = newfd + 1
	}
	f.Perms = perms
	if p.Fds[newfd] != nil {
		panic(fmt.Sprintf("new fd exists %d", newfd))
	}
	p.Fds[newfd] = f
	p.nfds++
	return newfd, true
}

// Fd_insert installs f at the lowest free descriptor.
func (p *Proc_t) Fd_insert(f *fd.Fd_t, perms int) (int, bool) {
	p.Fdl.Lock()
	defer p.Fdl.Unlock()
	return p.fd_insert_inner(f, perms)
}

// fdn is not guaranteed to be a sane fd
func (p *Proc_t) Fd_get_inner(fdn int) (*fd.Fd_t, bool) {
	if fdn < 0 || fdn >= len(p.Fds) {
		return nil, false
	}
	ret := p.Fds[fdn]
	return ret, ret != nil
}

func (p *Proc_t) Fd_get(fdn int) (*fd.Fd_t, bool) {
	p.Fdl.Lock()
	defer p.Fdl.Unlock()
	return p.Fd_get_inner(fdn)
}

// fdn is not guaranteed to be a sane fd
func (p *Proc_t) Fd_del(fdn int) (*fd.Fd_t, bool) {
	p.Fdl.Lock()
	defer p.Fdl.Unlock()
	return p.fd_del_inner(fdn)
}

func (p *Proc_t) fd_del_inner(fdn int) (*fd.Fd_t, bool) {
	if fdn < 0 || fdn >= len(p.Fds) {
		return nil, false
	}
	ret := p.Fds[fdn]
	p.Fds[fdn] = nil
	ok := ret != nil
	if ok {
		p.nfds--
		if p.nfds < 0 {
			panic("neg nfds")
		}
		if fdn < p.fdstart {
			p.fdstart = fdn
		}
	}
	return ret, ok
}

func (p *Proc_t) Nfds() int {
	p.Fdl.Lock()
	defer p.Fdl.Unlock()
	return p.nfds
}

// fork_fds gives child a copy of every descriptor of p, or only the
// standard ones.
func (p *Proc_t) fork_fds(child *Proc_t, all bool) defs.Err_t {
	p.Fdl.Lock()
	defer p.Fdl.Unlock()
	n := len(p.Fds)
	if !all && n > 3 {
		n = 3
	}
	child.Fds = make([]*fd.Fd_t, len(p.Fds))
	for i := 0; i < n; i++ {
		f := p.Fds[i]
		if f == nil {
			continue
		}
		nf, err := fd.Copyfd(f)
		if err != 0 {
			child.closefds()
			return err
		}
		child.Fds[i] = nf
		child.nfds++
	}
	return 0
}

// closefds_if closes every descriptor; with cloexec, only those marked
// close-on-exec.
func (p *Proc_t) closefds_if(cloexec bool) {
	p.Fdl.Lock()
	var cl []*fd.Fd_t
	for i, f := range p.Fds {
		if f == nil || (cloexec && f.Perms&fd.FD_CLOEXEC == 0) {
			continue
		}
		if f, ok := p.fd_del_inner(i); ok {
			cl = append(cl, f)
		}
	}
	p.Fdl.Unlock()
	for _, f := range cl {
		fd.Close_panic(f)
	}
}

func (p *Proc_t) closefds() {
	p.closefds_if(false)
}

type Ptable_t struct {
	ht *hashtable.Hashtable_t[int, *Proc_t]
}

func mkptable() *Ptable_t {
	return &Ptable_t{ht: hashtable.MkHash[int, *Proc_t](100)}
}

func (pt *Ptable_t) Get(pid int) (*Proc_t, bool) {
	return pt.ht.Get(pid)
}

func (pt *Ptable_t) Set(pid int, p *Proc_t) bool {
	_, ok := pt.ht.Set(pid, p)
	return ok
}

func (pt *Ptable_t) Del(pid int) {
	pt.ht.Del(pid)
}

func (pt *Ptable_t) Iter(f func(int, *Proc_t) bool) bool {
	return pt.ht.Iter(f)
}

func (pt *Ptable_t) Elems() []*Proc_t {
	return pt.ht.Elems()
}

func (pt *Ptable_t) Len() int {
	return pt.ht.Size()
}
