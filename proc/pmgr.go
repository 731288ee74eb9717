package proc

import (
	"github.com/sasha-s/go-deadlock"

	db "ksched/debug"
	"ksched/defs"
	"ksched/fd"
	"ksched/limits"
	"ksched/sched"
	"ksched/stats"
	"ksched/vm"
)

// user stack of a freshly loaded image
const (
	USTACKTOP = 0x7f0000000000
	USTACKSZ  = 4 * vm.PGSIZE
)

// Image_t is a loadable program.
type Image_t struct {
	Name string
	Main Ufunc_t
}

type Loader_i interface {
	Load(path string) (*Image_t, defs.Err_t)
}

// Images_t is a loader over a fixed set of programs keyed by absolute
// path. A nil program is a file that exists but is not executable.
type Images_t map[string]Ufunc_t

func (im Images_t) Load(path string) (*Image_t, defs.Err_t) {
	f, ok := im[path]
	if !ok {
		return nil, -defs.ENOENT
	}
	if f == nil {
		return nil, -defs.ENOEXEC
	}
	return &Image_t{Name: path, Main: f}, 0
}

type Sysstat_t struct {
	Nspawn  stats.Counter_t
	Nfork   stats.Counter_t
	Nthread stats.Counter_t
	Nexec   stats.Counter_t
	Nexit   stats.Counter_t
	Nreap   stats.Counter_t
	Nwait   stats.Counter_t
	Nkill   stats.Counter_t
	Nsig    stats.Counter_t
	Nfutex  stats.Counter_t
	Nsleep  stats.Counter_t
}

// Pmgr_t manages processes on a machine: the pid table, the wait
// registry, and the reaper.
type Pmgr_t struct {
	M      *sched.Machine_t
	Ptable *Ptable_t
	Init   *Proc_t
	Loader Loader_i
	Stats  Sysstat_t

	lim *limits.Syslimit_t
	reg registry_t

	cons    *fd.Ref_t
	consfds []*fd.Fd_t
	rootdir *fd.Ref_t

	reaper   *sched.Thread_t
	reapl    deadlock.Mutex
	reapents []reapent_t
	reapwq   sched.Waitq_t
}

// Mkpmgr creates init, which takes pid 1, and the reaper. It must run
// before the machine allocates any other tid.
func Mkpmgr(m *sched.Machine_t, lim *limits.Syslimit_t, ld Loader_i) *Pmgr_t {
	pm := &Pmgr_t{
		M:       m,
		Ptable:  mkptable(),
		Loader:  ld,
		lim:     lim,
		rootdir: fd.MkRef("/"),
	}
	pm.reg.init()
	pm.cons, pm.consfds = fd.MkConsole()

	ip, err := pm.Spawn_process(nil, 0)
	if err != 0 {
		db.DFatalf("spawn init: %v", err)
	}
	if ip.Pid != 1 {
		db.DFatalf("init has pid %d", ip.Pid)
	}
	ip.Name = m.Cfg.Init
	pm.Init = ip
	u := pm.mkuthread(ip, defs.Tid_t(ip.Pid), pm.initmain)
	u.main = true
	ip.addthread(u)
	if err := m.Admit_any(u.T, -1); err != 0 {
		db.DFatalf("admit init: %v", err)
	}

	pm.reaper = m.Mkthread(0, "reaper", sched.KERNEL, pm.reapbody)
	if err := m.Admit_any(pm.reaper, -1); err != 0 {
		db.DFatalf("admit reaper: %v", err)
	}
	return pm
}

// initmain reaps every child of init, forever.
func (pm *Pmgr_t) initmain(u *Uctx_t) int {
	for {
		pid, status, err := u.Waitpid(defs.WAIT_ANY, 0)
		if err == 0 {
			db.DPrintf(db.WAIT, "init reaped %d status %#x", pid, status)
		}
	}
}

func (pm *Pmgr_t) Console() *fd.Ref_t {
	return pm.cons
}

func (pm *Pmgr_t) Rootdir() *fd.Ref_t {
	return pm.rootdir
}

func (pm *Pmgr_t) Proc(pid int) (*Proc_t, bool) {
	return pm.Ptable.Get(pid)
}

// Spawn_process allocates a pid and a process record. With FORK_PROCESS
// the child gets a copy of parent's address space, signal dispositions,
// and descriptors; otherwise it gets an empty address space and parent's
// standard descriptors only. A nil parent makes init.
func (pm *Pmgr_t) Spawn_process(parent *Proc_t, flags int) (*Proc_t, defs.Err_t) {
	if !pm.lim.Sysprocs.Take() {
		return nil, -defs.ENOMEM
	}
	pid := int(pm.M.Tid_new())
	p := mkproc(pm, pid, "")

	fail := func(err defs.Err_t) (*Proc_t, defs.Err_t) {
		p.closefds()
		p.dropdirs()
		if as := p.Vm(); as != nil {
			as.Uvmfree()
		}
		pm.lim.Sysprocs.Give()
		return nil, err
	}

	if parent == nil {
		p.as.Store(vm.Mkvm())
		for _, f := range pm.consfds {
			nf, err := fd.Copyfd(f)
			if err != 0 {
				return fail(err)
			}
			p.Fd_insert(nf, nf.Perms)
		}
		if err := pm.rootdir.Reopen(); err != 0 {
			return fail(err)
		}
		if err := pm.rootdir.Reopen(); err != 0 {
			pm.rootdir.Close()
			return fail(err)
		}
		p.Cwd = fd.MkRootCwd(&fd.Fd_t{Fops: pm.rootdir})
		p.Root = fd.MkRootCwd(&fd.Fd_t{Fops: pm.rootdir})
	} else {
		p.Name = parent.Name
		p.pgid.Store(int64(parent.Pgid()))
		p.Ulim = parent.Ulim
		fork := flags&defs.FORK_PROCESS != 0
		if fork {
			as, err := parent.Vm().Fork()
			if err != 0 {
				return fail(err)
			}
			p.as.Store(as)
			parent.sigl.Lock()
			p.Sigacts = parent.Sigacts
			parent.sigl.Unlock()
		} else {
			p.as.Store(vm.Mkvm())
		}
		if err := parent.fork_fds(p, fork); err != 0 {
			return fail(err)
		}
		var err defs.Err_t
		if p.Cwd, err = fd.Copycwd(parent.Cwd); err != 0 {
			return fail(err)
		}
		if p.Root, err = fd.Copycwd(parent.Root); err != 0 {
			return fail(err)
		}
	}

	if !pm.reg.link(parent, p) {
		return fail(-defs.ENOMEM)
	}
	if !pm.Ptable.Set(pid, p) {
		db.DFatalf("pid %d in use", pid)
	}
	pm.Stats.Nspawn.Inc()
	db.DPrintf(db.PROC, "spawn %v parent %v fork %v", p, parent, flags&defs.FORK_PROCESS != 0)
	return p, 0
}

// unspawn undoes Spawn_process for a process that never ran.
func (pm *Pmgr_t) unspawn(p *Proc_t) {
	pm.reg.unlink(p)
	pm.Ptable.Del(p.Pid)
	p.closefds()
	p.dropdirs()
	p.Vm().Uvmfree()
	pm.lim.Sysprocs.Give()
}

func (p *Proc_t) dropdirs() {
	if p.Cwd != nil {
		fd.Close_panic(p.Cwd.Fd)
		p.Cwd = nil
	}
	if p.Root != nil {
		fd.Close_panic(p.Root.Fd)
		p.Root = nil
	}
}

// mkuthread makes an embryo user thread of p that runs f. The caller
// admits it.
func (pm *Pmgr_t) mkuthread(p *Proc_t, tid defs.Tid_t, f Ufunc_t) *Uctx_t {
	u := &Uctx_t{P: p, pm: pm}
	u.T = pm.M.Mkthread(tid, p.Name, sched.USER, func(t *sched.Thread_t) {
		u.run(f)
	})
	u.T.Owner = p
	return u
}

// addthread makes u one of p's live threads. It fails if p is exiting.
func (p *Proc_t) addthread(u *Uctx_t) bool {
	p.Datalock.Lock()
	defer p.Datalock.Unlock()
	if p.doomed {
		return false
	}
	p.threads[u.T.Tid] = u
	p.nlive++
	return true
}

func (p *Proc_t) delthread(u *Uctx_t) {
	p.Datalock.Lock()
	defer p.Datalock.Unlock()
	if _, ok := p.threads[u.T.Tid]; ok {
		delete(p.threads, u.T.Tid)
		p.nlive--
	}
}

// Spawn starts the program at path in a new child of parent, or of init
// if parent is nil, and returns its pid.
func (pm *Pmgr_t) Spawn(parent *Proc_t, path string, argv []string) (int, defs.Err_t) {
	return pm.Spawn_rt(parent, path, argv, sched.APERIODIC, sched.Rt_t{})
}

// Spawn_rt is Spawn for a program whose main thread has real-time
// constraints. It fails with -ENOMEM if no core can admit it.
func (pm *Pmgr_t) Spawn_rt(parent *Proc_t, path string, argv []string, class sched.Tclass_t, rt sched.Rt_t) (int, defs.Err_t) {
	if parent == nil {
		parent = pm.Init
	}
	img, err := pm.Loader.Load(parent.Cwd.Canonicalpath(path))
	if err != 0 {
		return 0, err
	}
	p, err := pm.Spawn_process(parent, 0)
	if err != 0 {
		return 0, err
	}
	p.Name = img.Name
	if err := p.Vm().Vmadd_anon(USTACKTOP-USTACKSZ, USTACKSZ); err != 0 {
		pm.unspawn(p)
		return 0, err
	}
	u := pm.mkuthread(p, defs.Tid_t(p.Pid), img.Main)
	u.main = true
	u.Argv = argv
	u.T.Class = class
	u.T.Rt = rt
	u.T.Tf[defs.TF_RSP] = USTACKTOP
	p.addthread(u)
	if err := pm.M.Admit_any(u.T, -1); err != 0 {
		p.delthread(u)
		u.T.Discard()
		pm.unspawn(p)
		return 0, err
	}
	return p.Pid, 0
}
