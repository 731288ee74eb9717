package defs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrName(t *testing.T) {
	assert.Equal(t, "ECHILD", ECHILD.Name())
	assert.Equal(t, "-ECHILD", (-ECHILD).String())
	assert.Equal(t, "ETIMEDOUT", (-ETIMEDOUT).Name())
	assert.Equal(t, "OK", Err_t(0).Name())
	var err error = -EAGAIN
	assert.Contains(t, err.Error(), "EAGAIN")
}

func TestExitStatus(t *testing.T) {
	st := 7&0xff | EXITED
	assert.True(t, Wifexited(st))
	assert.False(t, Wifsignaled(st))
	assert.Equal(t, 7, Wexitstatus(st))

	st = SIGNALED | Mkexitsig(SIGKILL)
	assert.True(t, Wifsignaled(st))
	assert.False(t, Wifexited(st))
	assert.Equal(t, SIGKILL, Wtermsig(st))

	st = SIGNALED | Mkexitsig(SIGRTMAX)
	assert.Equal(t, SIGRTMAX, Wtermsig(st))
	assert.Panics(t, func() { Mkexitsig(NSIG) })

	// the status word is stored in 32 bits
	for sig := 1; sig < NSIG; sig++ {
		st := SIGNALED | Mkexitsig(sig)
		assert.Equal(t, sig, Wtermsig(int(uint32(st))), "sig %d", sig)
		assert.True(t, Wifsignaled(int(uint32(st))))
	}
}

func TestSigdefault(t *testing.T) {
	assert.Equal(t, SIGDFL_IGN, Sigdefault(SIGCHLD))
	assert.Equal(t, SIGDFL_STOP, Sigdefault(SIGTSTP))
	assert.Equal(t, SIGDFL_CONT, Sigdefault(SIGCONT))
	assert.Equal(t, SIGDFL_TERM, Sigdefault(SIGUSR1))
	assert.True(t, Unmaskable.Has(SIGKILL))
	assert.False(t, Unmaskable.Has(SIGTERM))
}
