package fd

import (
	"path"
	"sync"

	"ksched/defs"
)

const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fdops_i is the part of an open file that process management needs:
// taking another reference on fork and dropping one on close.
type Fdops_i interface {
	Close() defs.Err_t
	Reopen() defs.Err_t
}

type Fd_t struct {
	// fops is an interface implemented via a "pointer receiver", thus fops
	// is a reference, not a value
	Fops  Fdops_i
	Perms int
}

func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	err := nfd.Fops.Reopen()
	if err != 0 {
		return nil, err
	}
	return nfd, 0
}

func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

type Cwd_t struct {
	sync.Mutex // to serialize chdirs
	Fd         *Fd_t
	Path       string
}

func (cwd *Cwd_t) Fullpath(p string) string {
	if path.IsAbs(p) {
		return p
	}
	return cwd.Path + "/" + p
}

func (cwd *Cwd_t) Canonicalpath(p string) string {
	return path.Clean(cwd.Fullpath(p))
}

func MkRootCwd(fd *Fd_t) *Cwd_t {
	c := &Cwd_t{}
	c.Fd = fd
	c.Path = "/"
	return c
}

// Copycwd takes a new reference on cwd's directory.
func Copycwd(cwd *Cwd_t) (*Cwd_t, defs.Err_t) {
	cwd.Lock()
	defer cwd.Unlock()
	nfd, err := Copyfd(cwd.Fd)
	if err != 0 {
		return nil, err
	}
	return &Cwd_t{Fd: nfd, Path: cwd.Path}, 0
}
