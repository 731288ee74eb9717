package proc

import (
	"time"

	"ksched/defs"
)

// Syscall runs the system call whose number is in the thread's saved
// RAX, with arguments in RDI, RSI, RDX and RCX, and leaves the result in
// RAX. Only calls whose arguments are all words are reachable this way.
func (u *Uctx_t) Syscall() int {
	tf := &u.T.Tf
	sysno := int(tf[defs.TF_RAX])
	a1 := int(tf[defs.TF_RDI])
	a2 := int(tf[defs.TF_RSI])
	a3 := int(tf[defs.TF_RDX])
	a4 := int(tf[defs.TF_RCX])

	var ret int
	switch sysno {
	case defs.SYS_GETPID:
		ret = u.Getpid()
	case defs.SYS_GETPPID:
		ret = u.Getppid()
	case defs.SYS_GETTID:
		ret = int(u.Gettid())
	case defs.SYS_GETPGID:
		ret = u.Getpgid()
	case defs.SYS_SETPGID:
		ret = int(u.setpgid(a1, a2))
	case defs.SYS_YIELD:
		u.T.Yield()
	case defs.SYS_EXIT:
		u.Exit(a1 & 0xff)
	case defs.SYS_THREXIT:
		u.Exit_thread(a1)
	case defs.SYS_WAIT4:
		ret = u.sys_wait4(a1, uintptr(a2), a3)
	case defs.SYS_KILL:
		ret = int(u.pm.Kill(u.P, a1, a2))
	case defs.SYS_SIGPROCMASK:
		ret = u.sys_sigprocmask(a1, defs.Sigset_t(a2), uintptr(a3))
	case defs.SYS_FUTEX:
		n, err := u.futex(uintptr(a1), a2, uint32(a3), time.Duration(a4)*time.Microsecond)
		ret = n
		if err != 0 {
			ret = int(err)
		}
	case defs.SYS_NANOSLEEP:
		ret = u.usleep(a1)
	default:
		ret = int(-defs.ENOSYS)
	}
	tf[defs.TF_RAX] = uintptr(ret)
	u.sysret()
	return ret
}

// sys_wait4 stores the status word at statusva if it is not 0.
func (u *Uctx_t) sys_wait4(pid int, statusva uintptr, options int) int {
	wst, err := u.wait4(pid, options)
	if err != 0 {
		return int(err)
	}
	if statusva != 0 {
		if err := u.Store32(statusva, uint32(wst.Status)); err != 0 {
			return int(err)
		}
	}
	return wst.Pid
}

// sys_sigprocmask stores the old mask's low word at oldva if it is not 0.
func (u *Uctx_t) sys_sigprocmask(how int, set defs.Sigset_t, oldva uintptr) int {
	old, err := u.setmask(how, set)
	if err != 0 {
		return int(err)
	}
	if oldva != 0 {
		if err := u.Store32(oldva, uint32(old)); err != 0 {
			return int(err)
		}
	}
	return 0
}
