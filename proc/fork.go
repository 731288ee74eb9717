package proc

import (
	db "ksched/debug"
	"ksched/defs"
	"ksched/sched"
	"ksched/vm"
)

// Fork clones the calling process. The child's only thread starts with
// a copy of the caller's registers and runs child, where Forkret is 0.
// The parent gets the child's pid.
func (u *Uctx_t) Fork(child Ufunc_t) (int, defs.Err_t) {
	pid, err := u.fork(child)
	u.sysret()
	return pid, err
}

func (u *Uctx_t) fork(child Ufunc_t) (int, defs.Err_t) {
	pm := u.pm
	parent := u.P
	if child == nil {
		return 0, -defs.EINVAL
	}
	c, err := pm.Spawn_process(parent, defs.FORK_PROCESS)
	if err != 0 {
		return 0, err
	}
	cu := pm.mkuthread(c, defs.Tid_t(c.Pid), child)
	cu.main = true
	cu.Argv = u.Argv
	cu.Envp = u.Envp
	parent.sigl.Lock()
	cu.mask = u.mask
	parent.sigl.Unlock()

	ct := cu.T
	ct.Class = u.T.Class
	ct.Rt = u.T.Rt
	ct.Tf = u.T.Tf
	// child returns from fork with 0
	ct.Tf[defs.TF_RAX] = 0
	if u.T.Fx != nil {
		*ct.Fxinit() = *u.T.Fx
	}
	c.addthread(cu)
	if err := pm.M.Admit_any(ct, u.T.Cpuid()); err != 0 {
		c.delthread(cu)
		ct.Discard()
		pm.unspawn(c)
		return 0, err
	}
	pm.Stats.Nfork.Inc()
	db.DPrintf(db.FORK, "%v forked %v", u.T, c)
	u.T.Tf[defs.TF_RAX] = uintptr(c.Pid)
	return c.Pid, 0
}

// Spawnthread starts a new thread in the calling process running entry
// on the user stack ending at stack, with arg as its argument.
func (u *Uctx_t) Spawnthread(stack uintptr, entry Ufunc_t, arg uintptr, flags int) (defs.Tid_t, defs.Err_t) {
	tid, err := u.spawnthread(stack, entry, arg, flags)
	u.sysret()
	return tid, err
}

func (u *Uctx_t) spawnthread(stack uintptr, entry Ufunc_t, arg uintptr, flags int) (defs.Tid_t, defs.Err_t) {
	p := u.P
	pm := u.pm
	if entry == nil || flags&^defs.FORK_THREAD != 0 {
		return 0, -defs.EINVAL
	}
	if stack&3 != 0 {
		return 0, -defs.EINVAL
	}
	if _, err := p.Vm().Userword(stack - 4); err != 0 {
		return 0, err
	}
	nu := pm.mkuthread(p, 0, entry)
	nu.Argv = u.Argv
	nu.Envp = u.Envp
	p.sigl.Lock()
	nu.mask = u.mask
	p.sigl.Unlock()
	nt := nu.T
	nt.Class = sched.APERIODIC
	nt.Tf[defs.TF_RSP] = stack
	nt.Tf[defs.TF_RDI] = arg
	if !p.addthread(nu) {
		nt.Discard()
		return 0, -defs.ESRCH
	}
	if err := pm.M.Admit_any(nt, u.T.Cpuid()); err != 0 {
		p.delthread(nu)
		nt.Discard()
		return 0, err
	}
	pm.Stats.Nthread.Inc()
	db.DPrintf(db.FORK, "%v spawned thread %v", u.T, nt)
	return nt.Tid, 0
}

// Execv replaces the calling process's image with the program at path.
// On success it does not return: the calling thread, now the process's
// main thread, starts the new program on a fresh address space and every
// other thread is killed. The pid is unchanged.
func (u *Uctx_t) Execv(path string, argv, envp []string) defs.Err_t {
	err := u.execv(path, argv, envp)
	u.sysret()
	return err
}

func (u *Uctx_t) execv(path string, argv, envp []string) defs.Err_t {
	p := u.P
	pm := u.pm
	img, err := pm.Loader.Load(p.Cwd.Canonicalpath(path))
	if err != 0 {
		return err
	}
	as := vm.Mkvm()
	if err := as.Vmadd_anon(USTACKTOP-USTACKSZ, USTACKSZ); err != 0 {
		return err
	}

	p.Datalock.Lock()
	if p.doomed {
		p.Datalock.Unlock()
		as.Uvmfree()
		u.T.Exit()
	}
	p.Name = img.Name
	old := p.as.Swap(as)
	p.Datalock.Unlock()
	old.Uvmfree()

	p.doomall(u.T)
	p.closefds_if(true)

	p.sigl.Lock()
	for i := range p.Sigacts {
		if p.Sigacts[i].Disp == SIG_CATCH {
			p.Sigacts[i] = Sigact_t{}
		}
	}
	p.sigl.Unlock()

	pm.futexes_drop(p)

	u.main = true
	u.insig = false
	u.Argv = argv
	u.Envp = envp
	u.T.Tf = [defs.TFSIZE]uintptr{}
	u.T.Tf[defs.TF_RSP] = USTACKTOP
	u.T.Fx = nil
	pm.Stats.Nexec.Inc()
	db.DPrintf(db.EXEC, "%v exec %v %v", u.T, img.Name, argv)
	panic(execunwind{f: img.Main})
}

// Setpgid puts process pid, the caller or one of its children, in group
// pgid. Zero for either means the caller's pid.
func (u *Uctx_t) Setpgid(pid, pgid int) defs.Err_t {
	err := u.setpgid(pid, pgid)
	u.sysret()
	return err
}

func (u *Uctx_t) setpgid(pid, pgid int) defs.Err_t {
	if pid < 0 || pgid < 0 {
		return -defs.EINVAL
	}
	p := u.P
	if pid == 0 {
		pid = p.Pid
	}
	if pgid == 0 {
		pgid = pid
	}
	target := p
	if pid != p.Pid {
		r := &u.pm.reg
		r.Lock()
		c, ok := p.children[pid]
		r.Unlock()
		if !ok {
			return -defs.ESRCH
		}
		target = c
	}
	target.pgid.Store(int64(pgid))
	return 0
}
