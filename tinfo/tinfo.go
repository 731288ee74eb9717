package tinfo

import "ksched/defs"

// Tnote_t records kill state for one thread. It is protected by the
// owning thread's lock.
type Tnote_t struct {
	// a signal or kill is pending; interruptible sleeps fail with Kerr
	Killed bool
	// the thread must terminate at its next safe point
	Isdoomed bool
	Kerr     defs.Err_t
}

func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

func (t *Tnote_t) Kill() {
	t.Killed = true
	t.Kerr = -defs.EINTR
}

func (t *Tnote_t) Doom() {
	t.Isdoomed = true
	t.Kill()
}

// Clearkill forgets a pending signal interruption. A doomed thread stays
// killed.
func (t *Tnote_t) Clearkill() {
	if t.Isdoomed {
		return
	}
	t.Killed = false
	t.Kerr = 0
}
