package sched

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"

	db "ksched/debug"
	"ksched/stats"
)

// Cpu_t is a simulated core. Its loop goroutine hands the core to one
// thread at a time: the thread runs until it switches back.
type Cpu_t struct {
	Id    int
	Sched *Sched_t
	Stats Schedstat_t

	m      *Machine_t
	idle   *Thread_t
	probe  *Thread_t
	back   chan *Thread_t
	kickch chan struct{}
	tickch chan struct{}
	cur    atomic.Pointer[Thread_t]

	timedl deadlock.Mutex
	timed  map[*Waiter_t]bool

	lat    *stats.Lat_t
	slackl deadlock.Mutex
	slack  []float64
}

func mkcpu(m *Machine_t, id int) *Cpu_t {
	c := &Cpu_t{
		Id:     id,
		m:      m,
		back:   make(chan *Thread_t),
		kickch: make(chan struct{}, 1),
		tickch: make(chan struct{}, 1),
		timed:  make(map[*Waiter_t]bool),
		lat:    stats.MkLat(m.Cfg.Latsamples),
	}
	c.Sched = mksched(c, m.Cfg.Capacity)
	return c
}

func (c *Cpu_t) String() string {
	return fmt.Sprintf("cpu%d", c.Id)
}

// Current returns the thread on the core, nil if the loop itself runs.
func (c *Cpu_t) Current() *Thread_t {
	return c.cur.Load()
}

func (c *Cpu_t) Idle() *Thread_t {
	return c.idle
}

// kick is the inter-processor interrupt: a token that coalesces with any
// undelivered one.
func (c *Cpu_t) kick() {
	select {
	case c.kickch <- struct{}{}:
		c.Stats.Nkick.Inc()
		db.DPrintf(db.KICK, "kick %v", c)
	default:
	}
}

func (c *Cpu_t) loop() {
	defer c.m.wg.Done()
	for {
		if c.m.stopped.Load() {
			return
		}
		select {
		case <-c.kickch:
		default:
		}
		c.Sched.Reschedule()
		t := c.Sched.Claim()
		if t == nil {
			c.runidle()
			continue
		}
		if c.m.skip(t) {
			c.Stats.Nskip.Inc()
			c.readmit(t)
			c.runidle()
			continue
		}
		if c.doomedembryo(t) {
			c.zombify(t)
			continue
		}
		c.switchto(t)
		c.postrun(t)
	}
}

func (c *Cpu_t) doomedembryo(t *Thread_t) bool {
	t.Schedlock.Lock()
	defer t.Schedlock.Unlock()
	return !t.started && t.note.Doomed()
}

func (c *Cpu_t) runidle() {
	c.switchto(c.idle)
}

func (c *Cpu_t) switchto(t *Thread_t) {
	t.Schedlock.Lock()
	switch t.state {
	case EMBRYO:
		t.state = RUNNING
	case RUNNING:
	default:
		st := t.state
		t.Schedlock.Unlock()
		db.DFatalf("%v dispatching %v in state %v", c, t, st)
		return
	}
	t.oncpu = true
	t.cpu = c
	start := !t.started
	t.started = true
	t.Schedlock.Unlock()

	t.slice.Store(0)
	c.cur.Store(t)
	if t != c.idle {
		c.Stats.Nswitch.Inc()
	}
	t0 := time.Now()
	if start {
		go t.trampoline()
	} else {
		t.run <- struct{}{}
	}
	if r := <-c.back; r != t {
		db.DFatalf("%v ran %v but %v switched back", c, t, r)
	}
	d := time.Since(t0)
	c.cur.Store(nil)
	if t == c.idle {
		t.Schedlock.Lock()
		t.oncpu = false
		t.Schedlock.Unlock()
		return
	}
	c.Stats.Busy.Add(d)
	if t.Ring == USER {
		t.Atime.Utadd(int(d))
	} else {
		t.Atime.Systadd(int(d))
	}
}

// postrun decides what happens to t after it switched out: a finished
// thread becomes a zombie, a runnable one goes back on its scheduler, and
// a sleeping one is left to its waker.
func (c *Cpu_t) postrun(t *Thread_t) {
	t.Schedlock.Lock()
	t.oncpu = false
	dead := t.dead
	st := t.state
	t.Schedlock.Unlock()
	if dead {
		c.zombify(t)
		return
	}
	if st == RUNNING {
		c.readmit(t)
	}
}

func (c *Cpu_t) readmit(t *Thread_t) {
	s := t.Scheduler()
	if s == nil {
		s = c.Sched
	}
	if !s.Admit(t, c.m.Now()) {
		db.DFatalf("%v readmit %v failed", c, t)
	}
	s.Kick(c.Id)
}

func (c *Cpu_t) zombify(t *Thread_t) {
	t.Schedlock.Lock()
	t.state = ZOMBIE
	t.waiter = nil
	t.Schedlock.Unlock()
	t.disown()
	db.DPrintf(db.SCHED, "%v zombie %v", c, t)
	t.Joinq.Notify_all()
	if t.Owner != nil {
		t.Owner.Zombied(t)
	}
}

func (c *Cpu_t) idlebody(t *Thread_t) {
	for {
		select {
		case <-c.m.stopch:
			return
		case <-c.kickch:
		case <-c.tickch:
		}
		t.swtch()
	}
}

// probebody samples the core's idle fraction every Probe ticks.
func (c *Cpu_t) probebody(t *Thread_t) {
	period := Ticks_t(c.m.Cfg.Probe)
	idle, ticks := c.Stats.Nidle.Get(), c.Stats.Nticks.Get()
	for !c.m.stopped.Load() {
		t.Sleep(period, false)
		nidle, nticks := c.Stats.Nidle.Get(), c.Stats.Nticks.Get()
		if nticks > ticks {
			c.slackl.Lock()
			c.slack = append(c.slack, float64(nidle-idle)/float64(nticks-ticks))
			c.slackl.Unlock()
		}
		idle, ticks = nidle, nticks
	}
}

func (c *Cpu_t) Slack() (mean, min float64, n int) {
	c.slackl.Lock()
	xs := append([]float64(nil), c.slack...)
	c.slackl.Unlock()
	mean, min = stats.Fraction(xs)
	return mean, min, len(xs)
}

func (c *Cpu_t) Latency() stats.Summary_t {
	return c.lat.Summary()
}

// Handle_tick is the core's timer interrupt. It charges the tick, expires
// timed sleeps, and asks a preemptible thread that used up its quantum,
// or that a more urgent thread is waiting behind, to reschedule.
func (c *Cpu_t) Handle_tick(now Ticks_t) {
	c.Stats.Nticks.Inc()
	cur := c.cur.Load()
	if cur == nil || cur == c.idle {
		c.Stats.Nidle.Inc()
	}
	c.polltimed(now)
	if cur != nil && cur != c.idle && cur.preemptible() {
		used := cur.slice.Add(1)
		if (used >= c.m.quantum && c.Sched.Nqueued() > 0) || c.Sched.Preempts(cur) {
			if !cur.needresched.Swap(true) {
				c.Stats.Npreempt.Inc()
				db.DPrintf(db.TICK, "%v preempt %v used %d", c, cur, used)
			}
		}
	}
	select {
	case c.tickch <- struct{}{}:
	default:
	}
}
