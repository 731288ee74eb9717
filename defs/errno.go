package defs

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	EPERM       Err_t = 1
	ENOENT      Err_t = 2
	ESRCH       Err_t = 3
	EINTR       Err_t = 4
	EIO         Err_t = 5
	E2BIG       Err_t = 7
	ENOEXEC     Err_t = 8
	EBADF       Err_t = 9
	ECHILD      Err_t = 10
	EAGAIN      Err_t = 11
	EWOULDBLOCK       = EAGAIN
	ENOMEM      Err_t = 12
	EACCES      Err_t = 13
	EFAULT      Err_t = 14
	EBUSY       Err_t = 16
	EEXIST      Err_t = 17
	EINVAL      Err_t = 22
	EMFILE      Err_t = 24
	ENOSYS      Err_t = 38
	ETIMEDOUT   Err_t = 110
)

// Err_t is an errno. Kernel operations return it negated (-ENOMEM) and 0
// on success.
type Err_t int

func (e Err_t) errno() Err_t {
	if e < 0 {
		return -e
	}
	return e
}

// Name returns the symbolic errno name, e.g. "ECHILD".
func (e Err_t) Name() string {
	if e == 0 {
		return "OK"
	}
	if n := unix.ErrnoName(syscall.Errno(e.errno())); n != "" {
		return n
	}
	return fmt.Sprintf("errno(%d)", int(e.errno()))
}

func (e Err_t) String() string {
	if e < 0 {
		return "-" + e.Name()
	}
	return e.Name()
}

func (e Err_t) Error() string {
	if e == 0 {
		return "no error"
	}
	return e.Name() + ": " + syscall.Errno(e.errno()).Error()
}
