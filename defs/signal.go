package defs

const NSIG = 64

const (
	SIGHUP   = 1
	SIGINT   = 2
	SIGQUIT  = 3
	SIGILL   = 4
	SIGTRAP  = 5
	SIGABRT  = 6
	SIGBUS   = 7
	SIGFPE   = 8
	SIGKILL  = 9
	SIGUSR1  = 10
	SIGSEGV  = 11
	SIGUSR2  = 12
	SIGPIPE  = 13
	SIGALRM  = 14
	SIGTERM  = 15
	SIGCHLD  = 17
	SIGCONT  = 18
	SIGSTOP  = 19
	SIGTSTP  = 20
	SIGTTIN  = 21
	SIGTTOU  = 22
	SIGURG   = 23
	SIGWINCH = 28
	SIGSYS   = 31
	SIGRTMIN = 32
	SIGRTMAX = NSIG - 1
)

// sigprocmask how
const (
	SIG_BLOCK   = 0
	SIG_UNBLOCK = 1
	SIG_SETMASK = 2
)

type Sigset_t uint64

func Sigbit(sig int) Sigset_t {
	return 1 << uint(sig)
}

func (s Sigset_t) Has(sig int) bool {
	return s&Sigbit(sig) != 0
}

// Unmaskable are the signals that can be neither caught, ignored, nor
// blocked.
const Unmaskable = Sigset_t(1<<SIGKILL | 1<<SIGSTOP)

type Sigdefault_t int

const (
	SIGDFL_TERM Sigdefault_t = iota
	SIGDFL_IGN
	SIGDFL_STOP
	SIGDFL_CONT
)

func Sigdefault(sig int) Sigdefault_t {
	switch sig {
	case SIGCHLD, SIGURG, SIGWINCH:
		return SIGDFL_IGN
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		return SIGDFL_STOP
	case SIGCONT:
		return SIGDFL_CONT
	}
	return SIGDFL_TERM
}
