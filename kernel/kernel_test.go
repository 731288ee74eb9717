package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ksched/config"
	"ksched/defs"
	"ksched/proc"
	"ksched/sched"
)

const waitfor = 5 * time.Second
const poll = time.Millisecond

func mkcfg() *config.Config_t {
	cfg := config.Default()
	cfg.Ncpu = 2
	cfg.Quantum = 2
	return cfg
}

func boot(t *testing.T, im proc.Images_t) *Kernel_t {
	k, err := Boot(mkcfg(), im)
	require.NoError(t, err)
	t.Cleanup(k.Shutdown)
	return k
}

func TestBootBad(t *testing.T) {
	cfg := mkcfg()
	cfg.Ncpu = 0
	_, err := Boot(cfg, proc.Images_t{})
	assert.Error(t, err)
}

func TestBoot(t *testing.T) {
	k := boot(t, proc.Images_t{})
	assert.Equal(t, 1, k.Nprocs())
	assert.Equal(t, 1, k.Pm.Init.Pid)
	assert.Equal(t, "init", k.Pm.Init.Name)
	assert.Contains(t, k.Stats(), "procs 1")
}

func TestSpawn(t *testing.T) {
	argv := make(chan []string, 1)
	k := boot(t, proc.Images_t{"/bin/echo": func(u *proc.Uctx_t) int {
		argv <- u.Argv
		u.Usleep(1000)
		return 0
	}})
	pid, err := k.Spawn("/bin/echo", "a", "b")
	require.Equal(t, defs.Err_t(0), err)
	assert.Greater(t, pid, 1)
	select {
	case a := <-argv:
		assert.Equal(t, []string{"/bin/echo", "a", "b"}, a)
	case <-time.After(waitfor):
		require.FailNow(t, "timeout")
	}
	assert.Eventually(t, func() bool { return k.Nprocs() == 1 }, waitfor, poll)
	assert.Contains(t, k.Stats(), "Nreap: 1")
}

func TestSpawnRt(t *testing.T) {
	k := boot(t, proc.Images_t{"/bin/rt": func(u *proc.Uctx_t) int {
		for {
			u.Usleep(5000)
		}
	}})
	rt := sched.Rt_t{Period: 10, Deadline: 10, Budget: 9}
	_, err := k.Spawn_rt("/bin/rt", sched.PERIODIC, rt)
	require.Equal(t, defs.Err_t(0), err)
	_, err = k.Spawn_rt("/bin/rt", sched.PERIODIC, rt)
	require.Equal(t, defs.Err_t(0), err)
	// both cores are nearly full
	_, err = k.Spawn_rt("/bin/rt", sched.PERIODIC, rt)
	assert.Equal(t, -defs.ENOMEM, err)
	assert.Equal(t, 3, k.Nprocs())
	assert.Equal(t, int64(k.Cfg.Sysprocs-3), k.Lim.Sysprocs.Left())
}
