package sched

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"

	"ksched/config"
	db "ksched/debug"
	"ksched/defs"
	"ksched/hashtable"
	"ksched/stats"
)

func init() {
	deadlock.Opts.Disable = true
}

// Machine_t is the set of cores plus the state they share: the thread
// arena, the tick count, and panic mode.
type Machine_t struct {
	Cfg  *config.Config_t
	Cpus []*Cpu_t

	threads *hashtable.Hashtable_t[defs.Tid_t, *Thread_t]
	now     atomic.Uint64
	nexttid atomic.Int64
	quantum int64

	panicking atomic.Bool
	monitor   atomic.Pointer[Thread_t]

	stopch  chan struct{}
	stopped atomic.Bool
	started bool
	wg      sync.WaitGroup

	randl sync.Mutex
	rand  *rand.Rand
}

func Mkmachine(cfg *config.Config_t) *Machine_t {
	m := &Machine_t{
		Cfg:     cfg,
		threads: hashtable.MkHash[defs.Tid_t, *Thread_t](1024),
		quantum: int64(cfg.Quantum),
		stopch:  make(chan struct{}),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i := 0; i < cfg.Ncpu; i++ {
		m.Cpus = append(m.Cpus, mkcpu(m, i))
	}
	return m
}

// Start spawns every core's idle and slack probe threads and starts the
// cores, and the tick source unless ticks are driven by hand.
func (m *Machine_t) Start() {
	if m.started {
		panic("started twice")
	}
	m.started = true
	for _, c := range m.Cpus {
		c.idle = m.Mkthread(0, fmt.Sprintf("idle%d", c.Id), KERNEL, c.idlebody)
		c.probe = m.Mkthread(0, fmt.Sprintf("slack%d", c.Id), KERNEL, c.probebody)
		if !c.Sched.Admit(c.probe, m.Now()) {
			panic("admit probe")
		}
		m.wg.Add(1)
		go c.loop()
	}
	if !m.Cfg.Manual {
		go m.ticker()
	}
	db.DPrintf(db.CPU, "started %d cpus", len(m.Cpus))
}

// Stop halts the cores at their next pass through the loop. Threads
// still on a core keep it until they switch out.
func (m *Machine_t) Stop() {
	if m.stopped.Swap(true) {
		return
	}
	close(m.stopch)
	for _, c := range m.Cpus {
		c.kick()
	}
}

func (m *Machine_t) ticker() {
	tk := time.NewTicker(m.Cfg.Tick)
	defer tk.Stop()
	for {
		select {
		case <-m.stopch:
			return
		case <-tk.C:
			m.Tick()
		}
	}
}

// Tick advances time by one tick and runs every core's tick handler.
func (m *Machine_t) Tick() Ticks_t {
	now := Ticks_t(m.now.Add(1))
	for _, c := range m.Cpus {
		c.Handle_tick(now)
	}
	return now
}

func (m *Machine_t) Now() Ticks_t {
	return Ticks_t(m.now.Load())
}

// Ticks converts d to ticks, rounding up.
func (m *Machine_t) Ticks(d time.Duration) Ticks_t {
	if d <= 0 {
		return 0
	}
	return Ticks_t((d + m.Cfg.Tick - 1) / m.Cfg.Tick)
}

// Tid_new allocates thread ids, which double as pids.
func (m *Machine_t) Tid_new() defs.Tid_t {
	return defs.Tid_t(m.nexttid.Add(1))
}

// Mkthread makes an embryo thread that will run body when first
// dispatched. A zero tid allocates one.
func (m *Machine_t) Mkthread(tid defs.Tid_t, name string, ring Ring_t, body func(*Thread_t)) *Thread_t {
	if tid == 0 {
		tid = m.Tid_new()
	}
	t := &Thread_t{
		Tid:         tid,
		Name:        name,
		Ring:        ring,
		Preemptable: ring == USER,
		m:           m,
		body:        body,
		run:         make(chan struct{}),
		state:       EMBRYO,
	}
	if _, ok := m.threads.Set(tid, t); !ok {
		db.DFatalf("tid %d in use", tid)
	}
	return t
}

func (m *Machine_t) Thread(tid defs.Tid_t) (*Thread_t, bool) {
	return m.threads.Get(tid)
}

func (m *Machine_t) Nthreads() int {
	return m.threads.Size()
}

// Admit_any admits t to the first core, starting at a random one, whose
// scheduler accepts it, and kicks that core.
func (m *Machine_t) Admit_any(t *Thread_t, from int) defs.Err_t {
	n := len(m.Cpus)
	m.randl.Lock()
	start := m.rand.Intn(n)
	m.randl.Unlock()
	now := m.Now()
	for i := 0; i < n; i++ {
		c := m.Cpus[(start+i)%n]
		if c.Sched.Admit(t, now) {
			db.DPrintf(db.SCHED, "admit %v on %v", t, c)
			c.Sched.Kick(from)
			return 0
		}
	}
	return -defs.ENOMEM
}

// Panic enters panic mode: cores stop running user threads, except
// monitor.
func (m *Machine_t) Panic(monitor *Thread_t) {
	m.monitor.Store(monitor)
	m.panicking.Store(true)
	db.DPrintf(db.PANIC, "panic mode, monitor %v", monitor)
	for _, c := range m.Cpus {
		c.kick()
	}
}

func (m *Machine_t) Panicking() bool {
	return m.panicking.Load()
}

func (m *Machine_t) skip(t *Thread_t) bool {
	return m.panicking.Load() && t.Ring == USER && t != m.monitor.Load()
}

// Check verifies that every queued thread is in exactly the queue it
// records, and that no thread claims a queue that does not hold it. It is
// meaningful only while the machine is quiescent.
func (m *Machine_t) Check() error {
	queued := make(map[*Sched_t]map[defs.Tid_t]Qkind_t)
	for _, c := range m.Cpus {
		s := c.Sched
		in := make(map[defs.Tid_t]Qkind_t)
		queued[s] = in
		var err error
		s.mu.Lock()
		check := func(k Qkind_t) func(qent_t) bool {
			return func(e qent_t) bool {
				if _, dup := in[e.tid]; dup {
					err = fmt.Errorf("%v: tid %d queued twice", c, e.tid)
					return false
				}
				in[e.tid] = k
				t, ok := m.threads.Get(e.tid)
				if !ok {
					err = fmt.Errorf("%v: tid %d not in arena", c, e.tid)
					return false
				}
				if t.curq != k || t.key != e {
					err = fmt.Errorf("%v: %v records queue %v", c, t, t.curq)
					return false
				}
				return true
			}
		}
		s.edf.iter(check(EDFQ))
		if err == nil {
			s.fifo.iter(check(FIFOQ))
		}
		if err == nil && s.next != nil {
			if _, dup := in[s.next.Tid]; dup {
				err = fmt.Errorf("%v: staged %v also queued", c, s.next)
			} else if s.next.curq != STAGED {
				err = fmt.Errorf("%v: staged %v records queue %v", c, s.next, s.next.curq)
			}
			in[s.next.Tid] = STAGED
		}
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	var err error
	m.threads.Iter(func(tid defs.Tid_t, t *Thread_t) bool {
		t.Schedlock.Lock()
		defer t.Schedlock.Unlock()
		s := t.sched
		if s == nil {
			if t.curq != NOQ {
				err = fmt.Errorf("%v unowned but in queue %v", t, t.curq)
			}
			return err != nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if t.state == ZOMBIE && t.curq != NOQ {
			err = fmt.Errorf("zombie %v in queue %v", t, t.curq)
		} else if k, ok := queued[s][tid]; t.curq != NOQ && (!ok || k != t.curq) {
			err = fmt.Errorf("%v claims queue %v", t, t.curq)
		}
		return err != nil
	})
	return err
}

func (m *Machine_t) Stats() string {
	s := ""
	for _, c := range m.Cpus {
		mean, min, n := c.Slack()
		s += fmt.Sprintf("%v: util %.2f%v\tlatency %v\n\tslack mean %.2f min %.2f (%d samples)\n",
			c, c.Sched.Util(), stats.Stats2String(&c.Stats), c.Latency(), mean, min, n)
	}
	return s
}
