package debug

type Tselector string

// ALWAYS
const (
	ALWAYS Tselector = "ALWAYS"
	ERROR            = "ERROR"
	NEVER            = "NEVER"
)

// Scheduler
const (
	SCHED Tselector = "SCHED"
	CPU             = "CPU"
	KICK            = "KICK"
	TICK            = "TICK"
	WAITQ           = "WAITQ"
	PANIC           = "PANIC"
)

// Processes
const (
	PROC   Tselector = "PROC"
	FORK             = "FORK"
	EXEC             = "EXEC"
	EXIT             = "EXIT"
	WAIT             = "WAIT"
	REAPER           = "REAPER"
	SIGNAL           = "SIGNAL"
	FUTEX            = "FUTEX"
)

// Boot and tools
const (
	KERNEL Tselector = "KERNEL"
	CONFIG           = "CONFIG"
	SIM              = "SIM"
	STAT             = "STAT"
)

// Tests
const (
	TEST  Tselector = "TEST"
	TEST1           = "TEST1"
)
