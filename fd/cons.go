package fd

import (
	"sync"

	"ksched/defs"
)

// Ref_t is a reference-counted open object: a console, or the directory
// behind a cwd or root. It only tracks references.
type Ref_t struct {
	sync.Mutex
	Name string
	refs int
}

func MkRef(name string) *Ref_t {
	return &Ref_t{Name: name, refs: 1}
}

func (r *Ref_t) Close() defs.Err_t {
	r.Lock()
	defer r.Unlock()
	if r.refs <= 0 {
		return -defs.EBADF
	}
	r.refs--
	return 0
}

func (r *Ref_t) Reopen() defs.Err_t {
	r.Lock()
	defer r.Unlock()
	if r.refs <= 0 {
		return -defs.EBADF
	}
	r.refs++
	return 0
}

func (r *Ref_t) Refs() int {
	r.Lock()
	defer r.Unlock()
	return r.refs
}

// MkConsole returns descriptors for stdin, stdout, and stderr sharing one
// console object.
func MkConsole() (*Ref_t, []*Fd_t) {
	cons := MkRef("console")
	fds := []*Fd_t{
		{Fops: cons, Perms: FD_READ},
		{Fops: cons, Perms: FD_WRITE},
		{Fops: cons, Perms: FD_WRITE},
	}
	cons.refs = len(fds)
	return cons, fds
}
