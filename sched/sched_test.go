package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ksched/config"
	"ksched/defs"
)

func mkcfg(ncpu int) *config.Config_t {
	cfg := config.Default()
	cfg.Ncpu = ncpu
	cfg.Manual = true
	cfg.Quantum = 2
	return cfg
}

func nop(t *Thread_t) {}

func mkrt(m *Machine_t, name string, dl, budget, period Ticks_t) *Thread_t {
	t := m.Mkthread(0, name, USER, nop)
	t.Class = PERIODIC
	t.Rt = Rt_t{Period: period, Deadline: dl, Budget: budget}
	return t
}

func mkap(m *Machine_t, name string) *Thread_t {
	return m.Mkthread(0, name, USER, nop)
}

func drain(s *Sched_t) []string {
	var names []string
	for s.Reschedule() {
		names = append(names, s.Claim().Name)
	}
	return names
}

func TestEdfOrder(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	s := m.Cpus[0].Sched
	a := mkap(m, "a")
	t1 := mkrt(m, "t1", 10, 1, 20)
	t2 := mkrt(m, "t2", 5, 1, 20)
	t3 := mkrt(m, "t3", 5, 1, 20)
	for _, th := range []*Thread_t{a, t1, t2, t3} {
		require.True(t, s.Admit(th, 0))
	}
	assert.Nil(t, m.Check())
	assert.Equal(t, []string{"t2", "t3", "t1", "a"}, drain(s))
	assert.Nil(t, m.Check())
	assert.False(t, s.Reschedule())
	assert.Nil(t, s.Claim())
}

func TestFifoOrder(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	s := m.Cpus[0].Sched
	for _, n := range []string{"x", "y", "z"} {
		require.True(t, s.Admit(mkap(m, n), 0))
	}
	assert.Equal(t, []string{"x", "y", "z"}, drain(s))
}

func TestAdmitIdempotent(t *testing.T) {
	m := Mkmachine(mkcfg(2))
	s0, s1 := m.Cpus[0].Sched, m.Cpus[1].Sched
	th := mkrt(m, "p", 10, 2, 10)
	assert.True(t, s0.Admit(th, 0))
	assert.True(t, s0.Admit(th, 0))
	assert.Equal(t, 1, s0.Nqueued())
	assert.InDelta(t, 0.2, s0.Util(), 1e-9)
	assert.False(t, s1.Admit(th, 0))
	assert.Equal(t, s0, th.Scheduler())
	assert.Nil(t, m.Check())

	// staged counts as queued
	assert.True(t, s0.Reschedule())
	assert.True(t, s0.Admit(th, 0))
	assert.Equal(t, 1, s0.Nqueued())
	assert.Nil(t, m.Check())
	assert.Equal(t, th, s0.Claim())
}

func TestFeasibility(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	s := m.Cpus[0].Sched
	p1 := mkrt(m, "p1", 10, 6, 10)
	p2 := mkrt(m, "p2", 10, 6, 10)
	assert.True(t, s.Admit(p1, 0))
	assert.False(t, s.Admit(p2, 0))
	assert.Nil(t, p2.Scheduler())
	// aperiodic threads are not subject to the utilization bound
	assert.True(t, s.Admit(mkap(m, "a"), 0))
	s.Remove(p1)
	assert.Nil(t, p1.Scheduler())
	assert.InDelta(t, 0, s.Util(), 1e-9)
	assert.True(t, s.Admit(p2, 0))
	assert.Nil(t, m.Check())

	bad := mkrt(m, "bad", 2, 3, 10)
	assert.False(t, s.Admit(bad, 0))
}

func TestDequeue(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	s := m.Cpus[0].Sched
	x, y, z := mkap(m, "x"), mkap(m, "y"), mkap(m, "z")
	p := mkrt(m, "p", 4, 1, 8)
	for _, th := range []*Thread_t{x, y, z, p} {
		s.Admit(th, 0)
	}
	s.Dequeue(y)
	s.Dequeue(p)
	assert.Nil(t, m.Check())
	assert.Equal(t, []string{"x", "z"}, drain(s))
	// dequeued threads stay owned and can be queued again
	assert.True(t, s.Admit(y, 0))
	assert.Equal(t, []string{"y"}, drain(s))
}

func TestRescheduleStable(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	s := m.Cpus[0].Sched
	late := mkrt(m, "late", 50, 1, 100)
	early := mkrt(m, "early", 5, 1, 100)
	s.Admit(late, 0)
	assert.True(t, s.Reschedule())
	s.Admit(early, 0)
	assert.True(t, s.Reschedule())
	assert.Equal(t, late, s.Claim())
	assert.Equal(t, []string{"early"}, drain(s))
}

func TestPreempts(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	s := m.Cpus[0].Sched
	cur := mkrt(m, "cur", 10, 1, 100)
	s.Admit(cur, 0)
	s.Reschedule()
	s.Claim()
	s.Admit(mkap(m, "a"), 0)
	assert.False(t, s.Preempts(cur))
	s.Admit(mkrt(m, "later", 20, 1, 100), 0)
	assert.False(t, s.Preempts(cur))
	s.Admit(mkrt(m, "sooner", 3, 1, 100), 0)
	assert.True(t, s.Preempts(cur))
	assert.True(t, s.Preempts(mkap(m, "b")))
}

func TestKick(t *testing.T) {
	m := Mkmachine(mkcfg(2))
	s1 := m.Cpus[1].Sched
	s1.Kick(1)
	assert.Equal(t, int64(0), m.Cpus[1].Stats.Nkick.Get())
	s1.Kick(0)
	s1.Kick(-1)
	assert.Equal(t, int64(1), m.Cpus[1].Stats.Nkick.Get())
	assert.Len(t, m.Cpus[1].kickch, 1)
}

func TestAdmitAny(t *testing.T) {
	m := Mkmachine(mkcfg(4))
	for i := 0; i < 4; i++ {
		assert.Equal(t, defs.Err_t(0), m.Admit_any(mkrt(m, "p", 10, 6, 10), -1))
	}
	for _, c := range m.Cpus {
		assert.InDelta(t, 0.6, c.Sched.Util(), 1e-9)
	}
	assert.Equal(t, -defs.ENOMEM, m.Admit_any(mkrt(m, "p", 10, 6, 10), -1))
	assert.Equal(t, defs.Err_t(0), m.Admit_any(mkap(m, "a"), -1))
	assert.Nil(t, m.Check())
}

func TestTicks(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	assert.Equal(t, Ticks_t(0), m.Ticks(0))
	assert.Equal(t, Ticks_t(1), m.Ticks(1))
	assert.Equal(t, Ticks_t(1), m.Ticks(m.Cfg.Tick))
	assert.Equal(t, Ticks_t(2), m.Ticks(m.Cfg.Tick+1))
	assert.Equal(t, Ticks_t(1), m.Tick())
	assert.Equal(t, Ticks_t(1), m.Now())
}
