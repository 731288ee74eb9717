package defs

type Tid_t int

// trap numbers delivered to a core
const (
	DIVZERO = 0
	UD      = 6
	GPFAULT = 13
	PGFAULT = 14
	TIMER   = 32
	SYSCALL = 64
	RESCHED = 71
)

// saved register context layout
const (
	TFSIZE    = 24
	TFREGS    = 17
	TF_FSBASE = 1
	TF_R13    = 4
	TF_R12    = 5
	TF_R8     = 9
	TF_RBP    = 10
	TF_RSI    = 11
	TF_RDI    = 12
	TF_RDX    = 13
	TF_RCX    = 14
	TF_RBX    = 15
	TF_RAX    = 16
	TF_TRAP   = TFREGS
	TF_ERROR  = TFREGS + 1
	TF_RIP    = TFREGS + 2
	TF_CS     = TFREGS + 3
	TF_RSP    = TFREGS + 5
	TF_SS     = TFREGS + 6
	TF_RFLAGS = TFREGS + 4
	TF_FL_IF  = 1 << 9
)

// FXSIZE is the number of words in a thread's floating point save area.
const FXSIZE = 64
