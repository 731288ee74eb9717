package kernel

import (
	"fmt"
	"runtime"

	"github.com/sasha-s/go-deadlock"

	"ksched/config"
	db "ksched/debug"
	"ksched/defs"
	"ksched/limits"
	"ksched/proc"
	"ksched/sched"
	"ksched/stats"
)

type Kernel_t struct {
	Cfg *config.Config_t
	M   *sched.Machine_t
	Pm  *proc.Pmgr_t
	Lim *limits.Syslimit_t
}

// Boot builds the machine and its process manager, which makes init and
// the reaper, and starts the cores.
func Boot(cfg *config.Config_t, ld proc.Loader_i) (*Kernel_t, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %v", err)
	}
	deadlock.Opts.Disable = !cfg.Deadlock
	if cfg.Debug != "" {
		db.SetLabels(cfg.Debug)
	}
	db.DPrintf(db.KERNEL, "boot %v go %v", cfg, runtime.Version())

	k := &Kernel_t{
		Cfg: cfg,
		M:   sched.Mkmachine(cfg),
		Lim: limits.MkSysLimit(cfg.Sysprocs, cfg.Noproc, cfg.Futexes),
	}
	k.Pm = proc.Mkpmgr(k.M, k.Lim, ld)
	k.M.Start()
	return k, nil
}

// Spawn starts the program at path as a child of init.
func (k *Kernel_t) Spawn(path string, argv ...string) (int, defs.Err_t) {
	return k.Pm.Spawn(nil, path, append([]string{path}, argv...))
}

func (k *Kernel_t) Spawn_rt(path string, class sched.Tclass_t, rt sched.Rt_t, argv ...string) (int, defs.Err_t) {
	return k.Pm.Spawn_rt(nil, path, append([]string{path}, argv...), class, rt)
}

// Nprocs counts live and unreaped processes, init included.
func (k *Kernel_t) Nprocs() int {
	return k.Pm.Ptable.Len()
}

// Panic stops user programs; monitor, if not nil, keeps running.
func (k *Kernel_t) Panic(monitor *sched.Thread_t) {
	db.DPrintf(db.ALWAYS, "kernel panic")
	k.M.Panic(monitor)
}

func (k *Kernel_t) Shutdown() {
	k.M.Stop()
	db.DPrintf(db.KERNEL, "shutdown")
	db.Sync()
}

func (k *Kernel_t) Stats() string {
	s := k.M.Stats()
	s += fmt.Sprintf("procs %d sysprocs left %d threads %d reapq %d",
		k.Nprocs(), k.Lim.Sysprocs.Left(), k.M.Nthreads(), k.Pm.Nreapq())
	s += stats.Stats2String(&k.Pm.Stats)
	return s
}
