package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ksched/defs"
)

const waitfor = 5 * time.Second
const poll = time.Millisecond

func start(t *testing.T, m *Machine_t) {
	m.Start()
	t.Cleanup(m.Stop)
}

func recv(t *testing.T, ch chan string) string {
	select {
	case s := <-ch:
		return s
	case <-time.After(waitfor):
		require.FailNow(t, "timeout")
	}
	return ""
}

func TestRun(t *testing.T) {
	m := Mkmachine(mkcfg(2))
	start(t, m)
	ch := make(chan string)
	th := m.Mkthread(0, "hello", USER, func(t *Thread_t) {
		ch <- t.Name
	})
	require.Equal(t, defs.Err_t(0), m.Admit_any(th, -1))
	assert.Equal(t, "hello", recv(t, ch))
	assert.Eventually(t, func() bool { return th.State() == ZOMBIE }, waitfor, poll)
	assert.Nil(t, th.Scheduler())
	assert.True(t, th.Shoulddie())
	assert.Nil(t, m.Check())
}

func TestYield(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	var mu sync.Mutex
	var order []string
	done := make(chan string, 2)
	body := func(t *Thread_t) {
		for i := 0; i < 3; i++ {
			mu.Lock()
			order = append(order, t.Name)
			mu.Unlock()
			t.Yield()
		}
		done <- t.Name
	}
	s := m.Cpus[0].Sched
	require.True(t, s.Admit(m.Mkthread(0, "A", USER, body), 0))
	require.True(t, s.Admit(m.Mkthread(0, "B", USER, body), 0))
	start(t, m)
	recv(t, done)
	recv(t, done)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A", "B", "A", "B", "A", "B"}, order)
	assert.GreaterOrEqual(t, m.Cpus[0].Stats.Nswitch.Get(), int64(6))
}

func TestNotifyBeforeWait(t *testing.T) {
	m := Mkmachine(mkcfg(2))
	start(t, m)
	var wq Waitq_t
	wq.Notify()
	assert.Equal(t, 1, wq.Avail())
	ch := make(chan string)
	th := m.Mkthread(0, "w", KERNEL, func(t *Thread_t) {
		if wq.Wait(Mkwaiter(t, true)) {
			ch <- "woke"
		} else {
			ch <- "rude"
		}
	})
	m.Admit_any(th, -1)
	assert.Equal(t, "woke", recv(t, ch))
	assert.Equal(t, 0, wq.Avail())
}

func TestWaitNotify(t *testing.T) {
	m := Mkmachine(mkcfg(2))
	start(t, m)
	var wq Waitq_t
	ch := make(chan string)
	th := m.Mkthread(0, "w", KERNEL, func(t *Thread_t) {
		ok := wq.Wait(Mkwaiter(t, false))
		ch <- map[bool]string{true: "woke", false: "rude"}[ok]
	})
	m.Admit_any(th, -1)
	assert.Eventually(t, func() bool { return wq.Len() == 1 && th.Blocked() }, waitfor, poll)
	assert.Equal(t, UNINTERRUPTIBLE, th.State())
	th.Interrupt()
	time.Sleep(10 * time.Millisecond)
	assert.True(t, th.Blocked())
	wq.Notify()
	assert.Equal(t, "woke", recv(t, ch))
	assert.Equal(t, 0, wq.Avail())
}

func TestWaitInterrupt(t *testing.T) {
	m := Mkmachine(mkcfg(2))
	start(t, m)
	var wq Waitq_t
	ch := make(chan string)
	th := m.Mkthread(0, "w", USER, func(t *Thread_t) {
		ok := wq.Wait(Mkwaiter(t, true))
		ch <- map[bool]string{true: "woke", false: "rude"}[ok]
		// a pending interruption fails the next interruptible wait at once
		ok = wq.Wait(Mkwaiter(t, true))
		ch <- map[bool]string{true: "woke", false: "rude"}[ok]
		t.Clearkill()
		ok = wq.Wait(Mkwaiter(t, true))
		ch <- map[bool]string{true: "woke", false: "rude"}[ok]
	})
	m.Admit_any(th, -1)
	assert.Eventually(t, func() bool { return th.State() == INTERRUPTIBLE }, waitfor, poll)
	th.Interrupt()
	assert.Equal(t, "rude", recv(t, ch))
	assert.Equal(t, "rude", recv(t, ch))
	assert.Eventually(t, func() bool { return wq.Len() == 1 }, waitfor, poll)
	wq.Notify_all()
	assert.Equal(t, "woke", recv(t, ch))
	assert.Equal(t, 0, wq.Len())
}

func TestWakeCount(t *testing.T) {
	m := Mkmachine(mkcfg(3))
	start(t, m)
	var wq Waitq_t
	ch := make(chan string, 3)
	for i := 0; i < 3; i++ {
		th := m.Mkthread(0, "w", KERNEL, func(t *Thread_t) {
			wq.Wait(Mkwaiter(t, false))
			ch <- t.Name
		})
		m.Admit_any(th, -1)
	}
	assert.Eventually(t, func() bool { return wq.Len() == 3 }, waitfor, poll)
	assert.Equal(t, 2, wq.Wake(2))
	recv(t, ch)
	recv(t, ch)
	assert.Equal(t, 1, wq.Wake(5))
	recv(t, ch)
	assert.Equal(t, 0, wq.Wake(1))
	assert.Equal(t, 0, wq.Avail())
}

func TestSleep(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	start(t, m)
	ch := make(chan string)
	th := m.Mkthread(0, "sleeper", USER, func(t *Thread_t) {
		if t.Sleep(3, true) {
			ch <- "slept"
		} else {
			ch <- "rude"
		}
	})
	m.Admit_any(th, -1)
	assert.Eventually(t, func() bool { return th.Blocked() }, waitfor, poll)
	m.Tick()
	m.Tick()
	time.Sleep(10 * time.Millisecond)
	assert.True(t, th.Blocked())
	m.Tick()
	assert.Equal(t, "slept", recv(t, ch))
}

func TestSleepInterrupt(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	start(t, m)
	ch := make(chan string)
	th := m.Mkthread(0, "sleeper", USER, func(t *Thread_t) {
		if t.Sleep(1000, true) {
			ch <- "slept"
		} else {
			ch <- "rude"
		}
	})
	m.Admit_any(th, -1)
	assert.Eventually(t, func() bool { return th.Blocked() }, waitfor, poll)
	th.Interrupt()
	assert.Equal(t, "rude", recv(t, ch))
	// the probe thread still sleeps on the timed list
	assert.Equal(t, 1, m.Cpus[0].Ntimed())
}

func TestWaitTimed(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	start(t, m)
	var wq Waitq_t
	ch := make(chan string)
	th := m.Mkthread(0, "w", KERNEL, func(t *Thread_t) {
		_, to := wq.Wait_timed(t, false, 2, nil)
		ch <- map[bool]string{true: "timeout", false: "woke"}[to]
		_, to = wq.Wait_timed(t, false, 2, nil)
		ch <- map[bool]string{true: "timeout", false: "woke"}[to]
	})
	m.Admit_any(th, -1)
	assert.Eventually(t, func() bool { return wq.Len() == 1 }, waitfor, poll)
	m.Tick()
	m.Tick()
	assert.Equal(t, "timeout", recv(t, ch))
	assert.Equal(t, 0, wq.Len())
	assert.Eventually(t, func() bool { return wq.Len() == 1 }, waitfor, poll)
	wq.Notify()
	assert.Equal(t, "woke", recv(t, ch))
	assert.Equal(t, 1, m.Cpus[0].Ntimed())
}

func TestDoom(t *testing.T) {
	m := Mkmachine(mkcfg(2))
	start(t, m)
	var n atomic.Int64
	th := m.Mkthread(0, "spin", USER, func(t *Thread_t) {
		for {
			n.Add(1)
			t.Yield()
		}
	})
	m.Admit_any(th, -1)
	assert.Eventually(t, func() bool { return n.Load() > 10 }, waitfor, poll)
	th.Doom()
	assert.Eventually(t, func() bool { return th.State() == ZOMBIE }, waitfor, poll)
	assert.Nil(t, m.Check())
}

func TestDoomBlocked(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	start(t, m)
	var wq Waitq_t
	th := m.Mkthread(0, "w", USER, func(t *Thread_t) {
		for {
			wq.Wait(Mkwaiter(t, true))
			t.Yield()
		}
	})
	m.Admit_any(th, -1)
	assert.Eventually(t, func() bool { return th.Blocked() }, waitfor, poll)
	th.Doom()
	assert.Eventually(t, func() bool { return th.State() == ZOMBIE }, waitfor, poll)
	assert.Equal(t, 0, wq.Len())
}

func TestDoomEmbryo(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	var ran atomic.Bool
	th := m.Mkthread(0, "e", USER, func(t *Thread_t) {
		ran.Store(true)
	})
	require.True(t, m.Cpus[0].Sched.Admit(th, 0))
	th.Doom()
	start(t, m)
	assert.Eventually(t, func() bool { return th.State() == ZOMBIE }, waitfor, poll)
	assert.False(t, ran.Load())
}

type owner_t struct {
	ch chan *Thread_t
}

func (o *owner_t) Zombied(t *Thread_t) {
	o.ch <- t
}

func TestJoinTeardown(t *testing.T) {
	m := Mkmachine(mkcfg(2))
	start(t, m)
	o := &owner_t{ch: make(chan *Thread_t, 1)}
	gate := make(chan bool)
	x := m.Mkthread(0, "x", USER, func(t *Thread_t) {
		<-gate
	})
	x.Owner = o
	ch := make(chan string)
	j := m.Mkthread(0, "joiner", KERNEL, func(t *Thread_t) {
		x.Join(t)
		x.Teardown()
		ch <- "joined"
	})
	// x holds its core until the gate opens, so j needs the other one
	require.True(t, m.Cpus[0].Sched.Admit(x, 0))
	m.Cpus[0].Sched.Kick(-1)
	require.True(t, m.Cpus[1].Sched.Admit(j, 0))
	m.Cpus[1].Sched.Kick(-1)
	assert.Eventually(t, func() bool { return j.Blocked() }, waitfor, poll)
	close(gate)
	assert.Equal(t, "joined", recv(t, ch))
	assert.Equal(t, x, <-o.ch)
	_, ok := m.Thread(x.Tid)
	assert.False(t, ok)
	assert.Nil(t, x.Fx)
}

func TestPreemptTick(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	var flag atomic.Bool
	ch := make(chan string, 2)
	s := m.Cpus[0].Sched
	a := m.Mkthread(0, "A", USER, func(t *Thread_t) {
		for !flag.Load() {
			t.Preempt_point()
		}
		ch <- "A"
	})
	b := m.Mkthread(0, "B", USER, func(t *Thread_t) {
		flag.Store(true)
		ch <- "B"
	})
	s.Admit(a, 0)
	s.Admit(b, 0)
	start(t, m)
	assert.Eventually(t, func() bool { return m.Cpus[0].Current() == a }, waitfor, poll)
	for i := 0; i < m.Cfg.Quantum; i++ {
		m.Tick()
	}
	assert.Equal(t, "B", recv(t, ch))
	assert.Equal(t, "A", recv(t, ch))
	assert.GreaterOrEqual(t, m.Cpus[0].Stats.Npreempt.Get(), int64(1))
}

func TestPreemptDisabled(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	s := m.Cpus[0].Sched
	hold := make(chan bool)
	ch := make(chan string, 2)
	a := m.Mkthread(0, "A", USER, func(t *Thread_t) {
		t.Preempt_disable()
		ch <- "holding"
		<-hold
		t.Preempt_enable()
		ch <- "A"
	})
	s.Admit(a, 0)
	s.Admit(mkap(m, "B"), 0)
	start(t, m)
	assert.Equal(t, "holding", recv(t, ch))
	for i := 0; i < 5*m.Cfg.Quantum; i++ {
		m.Tick()
	}
	assert.False(t, a.Needresched())
	close(hold)
	assert.Equal(t, "A", recv(t, ch))
}

func TestEdfPreempt(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	var flag atomic.Bool
	ch := make(chan string, 2)
	a := m.Mkthread(0, "A", USER, func(t *Thread_t) {
		for !flag.Load() {
			t.Preempt_point()
		}
		ch <- "A"
	})
	p := m.Mkthread(0, "P", USER, func(t *Thread_t) {
		flag.Store(true)
		ch <- "P"
	})
	p.Class = PERIODIC
	p.Rt = Rt_t{Period: 10, Deadline: 10, Budget: 1}
	m.Cpus[0].Sched.Admit(a, 0)
	start(t, m)
	assert.Eventually(t, func() bool { return m.Cpus[0].Current() == a }, waitfor, poll)
	require.True(t, m.Cpus[0].Sched.Admit(p, m.Now()))
	m.Tick()
	assert.Equal(t, "P", recv(t, ch))
	assert.Equal(t, "A", recv(t, ch))
}

func TestPanicMode(t *testing.T) {
	m := Mkmachine(mkcfg(1))
	start(t, m)
	var uran atomic.Bool
	u := m.Mkthread(0, "user", USER, func(t *Thread_t) {
		uran.Store(true)
	})
	ch := make(chan string, 2)
	mon := m.Mkthread(0, "monitor", USER, func(t *Thread_t) {
		ch <- "monitor"
	})
	k := m.Mkthread(0, "kern", KERNEL, func(t *Thread_t) {
		ch <- "kern"
	})
	m.Panic(mon)
	assert.True(t, m.Panicking())
	m.Admit_any(u, -1)
	m.Admit_any(mon, -1)
	m.Admit_any(k, -1)
	got := []string{recv(t, ch), recv(t, ch)}
	assert.ElementsMatch(t, []string{"monitor", "kern"}, got)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, uran.Load())
	assert.NotEqual(t, ZOMBIE, u.State())
	assert.GreaterOrEqual(t, m.Cpus[0].Stats.Nskip.Get(), int64(1))
}

func TestManyThreads(t *testing.T) {
	m := Mkmachine(mkcfg(4))
	start(t, m)
	const N = 50
	var wg sync.WaitGroup
	var total atomic.Int64
	ths := make([]*Thread_t, N)
	for i := 0; i < N; i++ {
		wg.Add(1)
		ths[i] = m.Mkthread(0, "w", USER, func(t *Thread_t) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				total.Add(1)
				t.Yield()
			}
		})
		require.Equal(t, defs.Err_t(0), m.Admit_any(ths[i], -1))
	}
	wg.Wait()
	assert.Equal(t, int64(N*10), total.Load())
	for _, th := range ths {
		assert.Eventually(t, func() bool { return th.State() == ZOMBIE }, waitfor, poll)
	}
	assert.Nil(t, m.Check())
	assert.Contains(t, m.Stats(), "Nswitch")
}
