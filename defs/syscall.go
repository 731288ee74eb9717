package defs

const (
	SYS_SIGACT      = 13
	SYS_SIGPROCMASK = 14
	SYS_YIELD       = 24
	SYS_GETPID      = 39
	SYS_GETPPID     = 40
	SYS_FORK        = 57
	FORK_PROCESS    = 0x1
	FORK_THREAD     = 0x2
	SYS_EXECV       = 59
	SYS_EXIT        = 60
	CONTINUED       = 1 << 9
	EXITED          = 1 << 10
	SIGNALED        = 1 << 11
	SIGSHIFT        = 16
	SYS_WAIT4       = 61
	WAIT_ANY        = -1
	WAIT_MYPGRP     = 0
	WNOHANG         = 2
	SYS_KILL        = 62
	SYS_SETPGID     = 109
	SYS_GETPGID     = 121
	SYS_NANOSLEEP   = 230
	SYS_THREXIT     = 31338
	SYS_FUTEX       = 31342
	FUTEX_WAIT      = 1
	FUTEX_WAKE      = 2
	SYS_GETTID      = 31343
	SYS_SPAWNTHREAD = 31344
	SYS_MAX         = 31345
)

func Mkexitsig(sig int) int {
	if sig < 0 || sig >= NSIG {
		panic("bad sig")
	}
	return sig << SIGSHIFT
}

func Wifexited(status int) bool {
	return status&EXITED != 0
}

func Wexitstatus(status int) int {
	return status & 0xff
}

func Wifsignaled(status int) bool {
	return status&SIGNALED != 0
}

func Wtermsig(status int) int {
	return (status >> SIGSHIFT) & (NSIG - 1)
}
