package fd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ksched/defs"
)

func TestCopyClose(t *testing.T) {
	cons, fds := MkConsole()
	assert.Equal(t, 3, cons.Refs())
	nfd, err := Copyfd(fds[1])
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, FD_WRITE, nfd.Perms)
	assert.Equal(t, 4, cons.Refs())
	for _, f := range append(fds, nfd) {
		Close_panic(f)
	}
	assert.Equal(t, 0, cons.Refs())
	_, err = Copyfd(nfd)
	assert.Equal(t, -defs.EBADF, err)
	assert.Panics(t, func() { Close_panic(nfd) })
}

func TestCwd(t *testing.T) {
	root := MkRootCwd(&Fd_t{Fops: MkRef("/")})
	assert.Equal(t, "/a/b", root.Canonicalpath("a/./b"))
	assert.Equal(t, "/x", root.Canonicalpath("/x"))
	c, err := Copycwd(root)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 2, root.Fd.Fops.(*Ref_t).Refs())
	Close_panic(c.Fd)
	assert.Equal(t, 1, root.Fd.Fops.(*Ref_t).Refs())
}
